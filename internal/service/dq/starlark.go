package dq

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"etl-orchestrator/internal/domain"
)

const (
	defaultStarlarkMaxSteps = uint64(10_000)
	defaultStarlarkTimeout  = time.Second
	maxStarlarkSourceBytes  = 16 * 1024
)

// StarlarkPredicate evaluates a CUSTOM_FUNCTION rule written in Starlark.
// The body sees `value` (the rule's field) and `record` (a dict of the whole
// row). A single-line expression is returned as is; longer bodies must
// return explicitly.
type StarlarkPredicate struct {
	name     string
	fn       starlark.Value
	maxSteps uint64
	timeout  time.Duration
}

var _ domain.Predicate = (*StarlarkPredicate)(nil)

// NewStarlarkPredicate compiles a predicate definition.
func NewStarlarkPredicate(def domain.PredicateDefinition) (*StarlarkPredicate, error) {
	if len(def.Expression) > maxStarlarkSourceBytes {
		return nil, domain.ErrConfiguration("predicate %q exceeds %d bytes", def.Name, maxStarlarkSourceBytes)
	}
	src, err := renderPredicateSource(def.Expression)
	if err != nil {
		return nil, domain.ErrConfiguration("predicate %q: %v", def.Name, err)
	}

	thread := &starlark.Thread{Name: "load-predicate"}
	thread.SetMaxExecutionSteps(defaultStarlarkMaxSteps)
	var globals starlark.StringDict
	if err := runStarlarkWithTimeout(thread, defaultStarlarkTimeout, func() error {
		loaded, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, def.Name+".star", src, nil)
		if err != nil {
			return err
		}
		globals = loaded
		return nil
	}); err != nil {
		return nil, domain.ErrConfiguration("predicate %q: %v", def.Name, err)
	}
	globals.Freeze()

	return &StarlarkPredicate{
		name:     def.Name,
		fn:       globals["predicate"],
		maxSteps: defaultStarlarkMaxSteps,
		timeout:  defaultStarlarkTimeout,
	}, nil
}

func renderPredicateSource(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("expression cannot be empty")
	}
	var b strings.Builder
	b.WriteString("def predicate(value, record):\n")
	lines := strings.Split(body, "\n")
	if len(lines) == 1 && !looksLikeStatement(lines[0]) {
		b.WriteString("    return ")
		b.WriteString(lines[0])
		b.WriteByte('\n')
		return b.String(), nil
	}
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			b.WriteString("    \n")
			continue
		}
		b.WriteString("    ")
		b.WriteString(trimmed)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func looksLikeStatement(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"return ", "if ", "for ", "pass", "load("} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// Evaluate calls the compiled predicate with a fresh thread.
func (p *StarlarkPredicate) Evaluate(ctx context.Context, value any, record domain.Row) (bool, error) {
	thread := &starlark.Thread{Name: "predicate:" + p.name}
	thread.SetMaxExecutionSteps(p.maxSteps)

	args := starlark.Tuple{toStarlark(value), recordDict(record)}
	var result starlark.Value
	if err := runStarlarkWithTimeout(thread, p.timeout, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := starlark.Call(thread, p.fn, args, nil)
		if err != nil {
			return err
		}
		result = out
		return nil
	}); err != nil {
		return false, err
	}

	b, ok := result.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("predicate %q returned %s, want bool", p.name, result.Type())
	}
	return bool(b), nil
}

func recordDict(record domain.Row) *starlark.Dict {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := starlark.NewDict(len(keys))
	for _, k := range keys {
		_ = d.SetKey(starlark.String(k), toStarlark(record[k]))
	}
	d.Freeze()
	return d
}

func toStarlark(v any) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case string:
		return starlark.String(x)
	case []byte:
		return starlark.String(string(x))
	case bool:
		return starlark.Bool(x)
	case int:
		return starlark.MakeInt(x)
	case int8:
		return starlark.MakeInt64(int64(x))
	case int16:
		return starlark.MakeInt64(int64(x))
	case int32:
		return starlark.MakeInt64(int64(x))
	case int64:
		return starlark.MakeInt64(x)
	case uint8:
		return starlark.MakeUint64(uint64(x))
	case uint16:
		return starlark.MakeUint64(uint64(x))
	case uint32:
		return starlark.MakeUint64(uint64(x))
	case uint64:
		return starlark.MakeUint64(x)
	case *big.Int:
		return starlark.MakeBigInt(x)
	case float32:
		return starlark.Float(x)
	case float64:
		return starlark.Float(x)
	case time.Time:
		return starlark.String(x.UTC().Format(time.RFC3339))
	default:
		return starlark.String(fmt.Sprint(x))
	}
}

func runStarlarkWithTimeout(thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return fn()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		thread.Cancel("starlark execution timed out")
		if err := <-done; err != nil {
			return fmt.Errorf("starlark execution timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("starlark execution timed out after %s", timeout)
	}
}

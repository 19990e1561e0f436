package dq

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"etl-orchestrator/internal/domain"
)

// Built-in predicate names.
const (
	PredicateIsEmail       = "is_email"
	PredicateIsUSPhone     = "is_us_phone"
	PredicateIsSSN         = "is_ssn"
	PredicateNotFutureDate = "not_future_date"
)

var (
	emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	ssnRe   = regexp.MustCompile(`^(\d{3})-?(\d{2})-?(\d{4})$`)
)

// PredicateRegistry maps names to predicates used by CUSTOM_FUNCTION rules.
type PredicateRegistry struct {
	mu    sync.RWMutex
	preds map[string]domain.Predicate
	now   func() time.Time
}

// NewPredicateRegistry creates a registry holding the built-in predicates.
func NewPredicateRegistry() *PredicateRegistry {
	r := &PredicateRegistry{preds: make(map[string]domain.Predicate), now: time.Now}
	r.preds[PredicateIsEmail] = domain.PredicateFunc(isEmail)
	r.preds[PredicateIsUSPhone] = domain.PredicateFunc(isUSPhone)
	r.preds[PredicateIsSSN] = domain.PredicateFunc(isSSN)
	r.preds[PredicateNotFutureDate] = domain.PredicateFunc(r.notFutureDate)
	return r
}

// Register adds a predicate. Names are unique.
func (r *PredicateRegistry) Register(name string, p domain.Predicate) error {
	if strings.TrimSpace(name) == "" {
		return domain.ErrValidation("predicate name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.preds[name]; ok {
		return domain.ErrConflict("predicate %q already registered", name)
	}
	r.preds[name] = p
	return nil
}

// RegisterStarlark compiles and registers Starlark predicate definitions.
func (r *PredicateRegistry) RegisterStarlark(defs []domain.PredicateDefinition) error {
	for _, def := range defs {
		p, err := NewStarlarkPredicate(def)
		if err != nil {
			return err
		}
		if err := r.Register(def.Name, p); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the named predicate.
func (r *PredicateRegistry) Lookup(name string) (domain.Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.preds[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (r *PredicateRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.preds))
	for n := range r.preds {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (r *PredicateRegistry) Clone() *PredicateRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &PredicateRegistry{preds: make(map[string]domain.Predicate, len(r.preds)), now: r.now}
	for k, v := range r.preds {
		c.preds[k] = v
	}
	return c
}

func stringValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

func isEmail(_ context.Context, value any, _ domain.Row) (bool, error) {
	s, ok := stringValue(value)
	if !ok {
		return false, nil
	}
	return emailRe.MatchString(strings.TrimSpace(s)), nil
}

// isUSPhone accepts ten digits with any punctuation and an optional
// leading country code 1.
func isUSPhone(_ context.Context, value any, _ domain.Row) (bool, error) {
	s, ok := stringValue(value)
	if !ok {
		return false, nil
	}
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c)
		case strings.IndexByte(" ()-.+", c) >= 0:
		default:
			return false, nil
		}
	}
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return false, nil
	}
	// Area and exchange codes never start with 0 or 1.
	return digits[0] >= '2' && digits[3] >= '2', nil
}

func isSSN(_ context.Context, value any, _ domain.Row) (bool, error) {
	s, ok := stringValue(value)
	if !ok {
		return false, nil
	}
	m := ssnRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return false, nil
	}
	area, group, serial := m[1], m[2], m[3]
	if area == "000" || area == "666" || area[0] == '9' {
		return false, nil
	}
	return group != "00" && serial != "0000", nil
}

func (r *PredicateRegistry) notFutureDate(_ context.Context, value any, _ domain.Row) (bool, error) {
	if value == nil {
		return false, nil
	}
	t, err := toTime(value)
	if err != nil {
		return false, err
	}
	return !t.After(r.now()), nil
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range []string{time.DateOnly, time.RFC3339, time.DateTime} {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not a date", v)
	default:
		return time.Time{}, fmt.Errorf("%T is not a date", value)
	}
}

package declarative

import (
	"context"
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/service/dq"
	"etl-orchestrator/internal/service/pipeline"
)

// ValidationError represents a single validation problem.
type ValidationError struct {
	Path    string // e.g. "pipelines/core.yaml" or "pipeline[load_customer]"
	Message string
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidateOptions supplies context the YAML files alone do not carry.
type ValidateOptions struct {
	// KnownUnits lists units registered in code. When nil, unit references
	// are not checked.
	KnownUnits []string
	// Predicates is the base predicate registry. Nil means the built-ins.
	Predicates *dq.PredicateRegistry
}

// Validate checks the desired state for structural and referential errors.
// It returns every problem found rather than stopping at the first one.
func Validate(state *DesiredState, opts ValidateOptions) []ValidationError {
	var errs []ValidationError
	addErr := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	validatePipelines(state, opts, addErr)
	validateSCD2(state, addErr)
	validateRules(state, opts, addErr)
	validateUnits(state, addErr)
	validateValues(state, addErr)
	return errs
}

type errFunc func(path, format string, args ...interface{})

func validatePipelines(state *DesiredState, opts ValidateOptions, addErr errFunc) {
	names := make(map[string]string, len(state.Pipelines))
	defs := make([]domain.PipelineDefinition, 0, len(state.Pipelines))
	for _, p := range state.Pipelines {
		ref := fmt.Sprintf("%s: pipeline[%s]", p.Path, p.Def.Name)
		if err := p.Def.Validate(); err != nil {
			addErr(ref, "%v", err)
		}
		if prev, dup := names[p.Def.Name]; dup {
			addErr(ref, "duplicate pipeline name (first declared in %s)", prev)
			continue
		}
		names[p.Def.Name] = p.Path
		defs = append(defs, p.Def)
	}

	if _, err := pipeline.Resolve(defs, pipeline.ResolveOptions{}); err != nil {
		addErr("pipelines", "%v", err)
	}

	known := map[string]bool{pipeline.UnitSCD2Load: true, pipeline.UnitDQScore: true}
	for _, u := range opts.KnownUnits {
		known[u] = true
	}
	for _, u := range state.Units {
		known[u.Def.Name] = true
	}
	scd2 := make(map[string]bool, len(state.SCD2))
	for _, d := range state.SCD2 {
		if d.Def.Active {
			scd2[d.Def.TableName] = true
		}
	}

	for _, p := range state.Pipelines {
		ref := fmt.Sprintf("%s: pipeline[%s]", p.Path, p.Def.Name)
		if opts.KnownUnits != nil {
			for _, u := range []string{p.Def.TransformUnit, p.Def.LoadUnit} {
				if u != "" && !known[u] {
					addErr(ref, "unknown unit %q", u)
				}
			}
		}
		if p.Def.LoadUnit == pipeline.UnitSCD2Load || p.Def.TransformUnit == pipeline.UnitDQScore {
			if p.Def.TargetTable == "" {
				addErr(ref, "target_table is required by %s", firstNonEmpty(p.Def.LoadUnit, p.Def.TransformUnit))
				continue
			}
		}
		if p.Def.LoadUnit == pipeline.UnitSCD2Load && !scd2[p.Def.TargetTable] {
			addErr(ref, "no active scd2 definition for target table %q", p.Def.TargetTable)
		}
	}
}

func validateSCD2(state *DesiredState, addErr errFunc) {
	seen := make(map[string]bool, len(state.SCD2))
	for _, d := range state.SCD2 {
		ref := fmt.Sprintf("%s: scd2[%s]", d.Path, d.Def.TableName)
		if err := d.Def.Validate(); err != nil {
			addErr(ref, "%v", err)
		}
		if seen[d.Def.TableName] {
			addErr(ref, "duplicate scd2 definition")
		}
		seen[d.Def.TableName] = true
	}
}

func validateRules(state *DesiredState, opts ValidateOptions, addErr errFunc) {
	seen := make(map[domain.RuleKey]bool, len(state.Rules))
	for _, r := range state.Rules {
		ref := fmt.Sprintf("%s: rule[%s]", r.Path, r.Def.Key())
		if err := r.Def.Validate(); err != nil {
			addErr(ref, "%v", err)
		}
		if seen[r.Def.Key()] {
			addErr(ref, "duplicate dq rule")
		}
		seen[r.Def.Key()] = true
	}

	preds := opts.Predicates
	if preds == nil {
		preds = dq.NewPredicateRegistry()
	}
	preds = preds.Clone()
	predNames := make(map[string]bool, len(state.Predicates))
	for _, p := range state.Predicates {
		ref := fmt.Sprintf("%s: predicate[%s]", p.Path, p.Def.Name)
		if predNames[p.Def.Name] {
			addErr(ref, "duplicate predicate")
			continue
		}
		predNames[p.Def.Name] = true
		if err := preds.RegisterStarlark([]domain.PredicateDefinition{p.Def}); err != nil {
			addErr(ref, "%v", err)
		}
	}

	// Compile each rule on its own so every bad condition is reported.
	// Reference sources need a warehouse and are only checked for presence.
	for _, r := range state.Rules {
		if !r.Def.Active || r.Def.Validate() != nil {
			continue
		}
		_, err := dq.NewScorer([]domain.DQRule{r.Def}, dq.ScorerOptions{
			Predicates: preds,
			References: deferredReference,
		})
		if err != nil {
			addErr(fmt.Sprintf("%s: rule[%s]", r.Path, r.Def.Key()), "%v", err)
		}
	}
}

func deferredReference(string) (domain.Predicate, error) {
	return domain.PredicateFunc(func(_ context.Context, _ any, _ domain.Row) (bool, error) {
		return true, nil
	}), nil
}

func validateUnits(state *DesiredState, addErr errFunc) {
	seen := make(map[string]bool, len(state.Units))
	for _, u := range state.Units {
		ref := fmt.Sprintf("%s: unit[%s]", u.Path, u.Def.Name)
		if err := domain.ValidateStruct(u.Def); err != nil {
			addErr(ref, "%v", err)
		}
		if u.Def.Name == pipeline.UnitSCD2Load || u.Def.Name == pipeline.UnitDQScore {
			addErr(ref, "unit name is reserved")
		}
		if seen[u.Def.Name] {
			addErr(ref, "duplicate unit")
		}
		seen[u.Def.Name] = true
	}
}

var parseCron = cron.ParseStandard

func validateValues(state *DesiredState, addErr errFunc) {
	seen := make(map[string]bool, len(state.Values))
	for _, v := range state.Values {
		ref := fmt.Sprintf("%s: value[%s/%s]", v.Path, v.Def.Category, v.Def.Key)
		if err := v.Def.Validate(); err != nil {
			addErr(ref, "%v", err)
		}
		k := v.Def.Category + "/" + v.Def.Key
		if seen[k] {
			addErr(ref, "duplicate config value")
		}
		seen[k] = true
		if v.Def.Category == domain.CategorySchedule && v.Def.Value != "" {
			if _, err := parseCron(v.Def.Value); err != nil {
				addErr(ref, "invalid cron expression %q: %v", v.Def.Value, err)
			}
		}
	}
}

// SortErrors orders validation errors by path for stable output.
func SortErrors(errs []ValidationError) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

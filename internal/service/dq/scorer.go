// Package dq computes composite data quality scores from declarative rules.
package dq

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"etl-orchestrator/internal/domain"
)

// ReferenceResolver builds the predicate of a REFERENCE_CHECK condition.
type ReferenceResolver func(condition string) (domain.Predicate, error)

// ScorerOptions carries the collaborators of a Scorer.
type ScorerOptions struct {
	Predicates *PredicateRegistry
	References ReferenceResolver
	Logger     *slog.Logger
}

type evalFunc func(ctx context.Context, value any, record domain.Row) (bool, error)

type compiledRule struct {
	rule domain.DQRule
	eval evalFunc
}

// Scorer evaluates the active rules of each entity type. It is immutable
// after construction and safe for concurrent use.
type Scorer struct {
	byEntity map[string][]compiledRule
	max      map[string]int
	logger   *slog.Logger
}

// NewScorer compiles rules. Inactive rules are ignored. Unknown predicate
// names and malformed conditions are configuration errors.
func NewScorer(rules []domain.DQRule, opts ScorerOptions) (*Scorer, error) {
	if opts.Predicates == nil {
		opts.Predicates = NewPredicateRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Scorer{
		byEntity: make(map[string][]compiledRule),
		max:      make(map[string]int),
		logger:   opts.Logger.With("component", "dq"),
	}

	seen := make(map[domain.RuleKey]struct{}, len(rules))
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if _, dup := seen[r.Key()]; dup {
			return nil, domain.ErrConfiguration("duplicate dq rule %s", r.Key())
		}
		seen[r.Key()] = struct{}{}
		if err := r.Validate(); err != nil {
			return nil, domain.ErrConfiguration("dq rule %s: %v", r.Key(), err)
		}
		eval, err := compileRule(r, opts)
		if err != nil {
			return nil, err
		}
		s.byEntity[r.EntityType] = append(s.byEntity[r.EntityType], compiledRule{rule: r, eval: eval})
		s.max[r.EntityType] += r.PointsIfMet
	}
	for _, list := range s.byEntity {
		sort.Slice(list, func(i, j int) bool {
			if list[i].rule.FieldName != list[j].rule.FieldName {
				return list[i].rule.FieldName < list[j].rule.FieldName
			}
			return list[i].rule.RuleType < list[j].rule.RuleType
		})
	}
	return s, nil
}

// BuildScorer creates a Scorer for one run: Starlark predicates of the
// snapshot are compiled into a copy of base.
func BuildScorer(snap *domain.ConfigSnapshot, base *PredicateRegistry, refs ReferenceResolver, logger *slog.Logger) (*Scorer, error) {
	if base == nil {
		base = NewPredicateRegistry()
	}
	preds := base.Clone()
	if err := preds.RegisterStarlark(snap.Predicates()); err != nil {
		return nil, err
	}
	return NewScorer(snap.Rules(), ScorerOptions{Predicates: preds, References: refs, Logger: logger})
}

func compileRule(r domain.DQRule, opts ScorerOptions) (evalFunc, error) {
	switch r.RuleType {
	case domain.RuleNotNull:
		return func(_ context.Context, value any, _ domain.Row) (bool, error) {
			return !isNull(value), nil
		}, nil
	case domain.RuleRange:
		rng, err := parseRange(r.Condition)
		if err != nil {
			return nil, domain.ErrConfiguration("dq rule %s: %v", r.Key(), err)
		}
		return rng.contains, nil
	case domain.RuleRegex:
		re, err := regexp.Compile(r.Condition)
		if err != nil {
			return nil, domain.ErrConfiguration("dq rule %s: invalid regex: %v", r.Key(), err)
		}
		return func(_ context.Context, value any, _ domain.Row) (bool, error) {
			if value == nil {
				return false, nil
			}
			s, ok := stringValue(value)
			if !ok {
				return false, fmt.Errorf("regex applies to string fields, got %T", value)
			}
			return re.MatchString(s), nil
		}, nil
	case domain.RuleCustomFunction:
		p, ok := opts.Predicates.Lookup(r.Condition)
		if !ok {
			return nil, domain.ErrConfiguration("dq rule %s: unknown predicate %q", r.Key(), r.Condition)
		}
		return p.Evaluate, nil
	case domain.RuleReferenceCheck:
		if opts.References == nil {
			return nil, domain.ErrConfiguration("dq rule %s: no reference source configured", r.Key())
		}
		p, err := opts.References(r.Condition)
		if err != nil {
			return nil, domain.ErrConfiguration("dq rule %s: %v", r.Key(), err)
		}
		return p.Evaluate, nil
	default:
		return nil, domain.ErrConfiguration("dq rule %s: unknown rule type %q", r.Key(), r.RuleType)
	}
}

// Empty and whitespace-only strings count as null.
func isNull(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := stringValue(value); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// MaxScore returns the sum of pointsIfMet over the active rules of entityType.
func (s *Scorer) MaxScore(entityType string) int {
	return s.max[entityType]
}

// Entities returns the entity types that have active rules, sorted.
func (s *Scorer) Entities() []string {
	out := make([]string, 0, len(s.byEntity))
	for e := range s.byEntity {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Rules returns the active rules of entityType in evaluation order.
func (s *Scorer) Rules(entityType string) []domain.DQRule {
	list := s.byEntity[entityType]
	out := make([]domain.DQRule, len(list))
	for i, c := range list {
		out[i] = c.rule
	}
	return out
}

// Score evaluates every active rule of entityType against record. Rules are
// independent: a rule that cannot be evaluated is logged and counted as not
// met without affecting the others.
func (s *Scorer) Score(ctx context.Context, entityType string, record domain.Row) domain.ScoreResult {
	list := s.byEntity[entityType]
	res := domain.ScoreResult{
		EntityType: entityType,
		Max:        s.max[entityType],
		Breakdown:  make([]domain.RuleOutcome, 0, len(list)),
	}
	for _, c := range list {
		out := domain.RuleOutcome{FieldName: c.rule.FieldName, RuleType: c.rule.RuleType}
		met, err := c.eval(ctx, record[c.rule.FieldName], record)
		if err != nil {
			serr := &domain.ScoringRuleError{
				EntityType: c.rule.EntityType,
				FieldName:  c.rule.FieldName,
				RuleType:   c.rule.RuleType,
				Err:        err,
			}
			s.logger.Warn("dq rule evaluation failed", "error", serr)
			out.Error = serr.Error()
			met = false
		}
		out.Met = met
		if met {
			out.PointsAwarded = c.rule.PointsIfMet
		} else {
			out.PointsAwarded = c.rule.PointsIfNotMet
			if c.rule.EnforceInETL {
				res.Rejected = true
				res.RejectedBy = append(res.RejectedBy, c.rule.Key().String())
			}
		}
		res.Earned += out.PointsAwarded
		res.Breakdown = append(res.Breakdown, out)
	}
	return res
}

// valueRange is an inclusive numeric or date interval with optional open
// ends, written "min..max", "min.." or "..max".
type valueRange struct {
	dates    bool
	min, max *float64
	minT     *time.Time
	maxT     *time.Time
}

func parseRange(cond string) (*valueRange, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(cond), "..")
	if !ok {
		return nil, fmt.Errorf("range %q must be written min..max", cond)
	}
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if lo == "" && hi == "" {
		return nil, fmt.Errorf("range %q has no bounds", cond)
	}

	r := &valueRange{}
	r.dates = isDate(lo) || isDate(hi)
	for i, bound := range []string{lo, hi} {
		if bound == "" {
			continue
		}
		if r.dates {
			t, err := time.Parse(time.DateOnly, bound)
			if err != nil {
				return nil, fmt.Errorf("range bound %q is not a YYYY-MM-DD date", bound)
			}
			if i == 0 {
				r.minT = &t
			} else {
				r.maxT = &t
			}
			continue
		}
		f, err := strconv.ParseFloat(bound, 64)
		if err != nil {
			return nil, fmt.Errorf("range bound %q is not a number", bound)
		}
		if i == 0 {
			r.min = &f
		} else {
			r.max = &f
		}
	}
	if r.min != nil && r.max != nil && *r.min > *r.max {
		return nil, fmt.Errorf("range %q has min greater than max", cond)
	}
	if r.minT != nil && r.maxT != nil && r.minT.After(*r.maxT) {
		return nil, fmt.Errorf("range %q has min greater than max", cond)
	}
	return r, nil
}

func isDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

func (r *valueRange) contains(_ context.Context, value any, _ domain.Row) (bool, error) {
	if isNull(value) {
		return false, nil
	}
	if r.dates {
		t, err := toTime(value)
		if err != nil {
			return false, err
		}
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if r.minT != nil && day.Before(*r.minT) {
			return false, nil
		}
		if r.maxT != nil && day.After(*r.maxT) {
			return false, nil
		}
		return true, nil
	}
	f, err := toFloat(value)
	if err != nil {
		return false, err
	}
	if r.min != nil && f < *r.min {
		return false, nil
	}
	if r.max != nil && f > *r.max {
		return false, nil
	}
	return true, nil
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		if math.IsNaN(v) {
			return 0, fmt.Errorf("NaN is not comparable")
		}
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%T is not a number", value)
	}
}

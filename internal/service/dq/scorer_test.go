package dq

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/warehouse"
)

func rule(field string, rt domain.RuleType, cond string, points int) domain.DQRule {
	return domain.DQRule{
		EntityType:  "VETERAN",
		FieldName:   field,
		RuleType:    rt,
		Condition:   cond,
		PointsIfMet: points,
		Importance:  domain.ImportanceMedium,
		Active:      true,
	}
}

func veteranRules() []domain.DQRule {
	id := rule("veteran_id", domain.RuleNotNull, "", 20)
	id.Importance = domain.ImportanceCritical
	id.EnforceInETL = true
	return []domain.DQRule{
		id,
		rule("last_name", domain.RuleNotNull, "", 15),
		rule("first_name", domain.RuleNotNull, "", 15),
		rule("ssn", domain.RuleCustomFunction, PredicateIsSSN, 15),
		rule("date_of_birth", domain.RuleRange, "1900-01-01..2026-12-31", 10),
		rule("email", domain.RuleRegex, `^[^@\s]+@[^@\s]+\.[a-z]{2,}$`, 10),
		rule("service_branch", domain.RuleReferenceCheck, "ref.branch.code", 5),
		rule("phone_primary", domain.RuleCustomFunction, PredicateIsUSPhone, 10),
	}
}

func completeVeteran() domain.Row {
	return domain.Row{
		"veteran_id":     int64(42),
		"last_name":      "Hopper",
		"first_name":     "Grace",
		"ssn":            "123-45-6789",
		"date_of_birth":  "1906-12-09",
		"email":          "grace@example.com",
		"service_branch": "NAVY",
		"phone_primary":  "(202) 555-0143",
	}
}

func newVeteranScorer(t *testing.T, rules []domain.DQRule) *Scorer {
	t.Helper()
	refs := warehouse.NewMemoryStore()
	refs.LoadStaging("ref.branch", domain.Row{"code": "ARMY"}, domain.Row{"code": "NAVY"})
	s, err := NewScorer(rules, ScorerOptions{
		References: func(cond string) (domain.Predicate, error) { return warehouse.NewReferenceSet(refs, cond) },
		Logger:     slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return s
}

func TestScore_VeteranSample(t *testing.T) {
	s := newVeteranScorer(t, veteranRules())
	ctx := context.Background()

	assert.Equal(t, 100, s.MaxScore("VETERAN"))

	full := s.Score(ctx, "VETERAN", completeVeteran())
	assert.Equal(t, 100, full.Earned)
	assert.Equal(t, 100, full.Max)
	assert.False(t, full.Rejected)
	assert.Len(t, full.Breakdown, 8)

	rec := completeVeteran()
	delete(rec, "email")
	rec["phone_primary"] = nil
	partial := s.Score(ctx, "VETERAN", rec)
	assert.Equal(t, 80, partial.Earned)
	assert.Equal(t, 100, partial.Max)
	assert.False(t, partial.Rejected)

	for _, o := range partial.Breakdown {
		switch o.FieldName {
		case "email", "phone_primary":
			assert.False(t, o.Met, o.FieldName)
			assert.Equal(t, 0, o.PointsAwarded)
		default:
			assert.True(t, o.Met, o.FieldName)
		}
	}
}

func TestScore_Bounds(t *testing.T) {
	s := newVeteranScorer(t, veteranRules())
	records := []domain.Row{
		{},
		completeVeteran(),
		{"veteran_id": 1, "email": 17, "date_of_birth": "not a date", "ssn": "000-12-3456"},
		{"last_name": "   ", "service_branch": "SPACE"},
	}
	for i, rec := range records {
		res := s.Score(context.Background(), "VETERAN", rec)
		assert.GreaterOrEqual(t, res.Earned, 0, i)
		assert.LessOrEqual(t, res.Earned, res.Max, i)
	}
}

func TestScore_EnforcedRuleRejects(t *testing.T) {
	s := newVeteranScorer(t, veteranRules())
	rec := completeVeteran()
	rec["veteran_id"] = nil

	res := s.Score(context.Background(), "VETERAN", rec)
	assert.True(t, res.Rejected)
	assert.Equal(t, []string{"VETERAN.veteran_id.NOT_NULL"}, res.RejectedBy)
	assert.Equal(t, 80, res.Earned)
}

func TestScore_PointsIfNotMet(t *testing.T) {
	r := rule("email", domain.RuleNotNull, "", 10)
	r.PointsIfNotMet = 3
	s := newVeteranScorer(t, []domain.DQRule{r})

	res := s.Score(context.Background(), "VETERAN", domain.Row{})
	assert.Equal(t, 3, res.Earned)
	assert.Equal(t, 10, res.Max)
}

func TestScore_PredicateErrorTreatedAsNotMet(t *testing.T) {
	preds := NewPredicateRegistry()
	require.NoError(t, preds.Register("explodes", domain.PredicateFunc(
		func(context.Context, any, domain.Row) (bool, error) { return false, errors.New("lookup down") })))

	rules := []domain.DQRule{
		rule("email", domain.RuleCustomFunction, "explodes", 10),
		rule("last_name", domain.RuleNotNull, "", 15),
	}
	s, err := NewScorer(rules, ScorerOptions{Predicates: preds})
	require.NoError(t, err)

	res := s.Score(context.Background(), "VETERAN", domain.Row{"email": "a@b.co", "last_name": "X"})
	assert.Equal(t, 15, res.Earned)
	require.Len(t, res.Breakdown, 2)
	assert.Equal(t, "email", res.Breakdown[0].FieldName)
	assert.False(t, res.Breakdown[0].Met)
	assert.Contains(t, res.Breakdown[0].Error, "lookup down")
	assert.True(t, res.Breakdown[1].Met)
}

func TestScore_Regex(t *testing.T) {
	s := newVeteranScorer(t, []domain.DQRule{rule("zip", domain.RuleRegex, `^\d{5}(-\d{4})?$`, 5)})
	tests := []struct {
		value any
		met   bool
		err   bool
	}{
		{value: "22201", met: true},
		{value: "22201-1234", met: true},
		{value: "2220", met: false},
		{value: nil, met: false},
		{value: 22201, met: false, err: true},
	}
	for _, tt := range tests {
		res := s.Score(context.Background(), "VETERAN", domain.Row{"zip": tt.value})
		assert.Equal(t, tt.met, res.Breakdown[0].Met, "%v", tt.value)
		assert.Equal(t, tt.err, res.Breakdown[0].Error != "", "%v", tt.value)
	}
}

func TestScore_Range(t *testing.T) {
	tests := []struct {
		name  string
		cond  string
		value any
		met   bool
	}{
		{name: "inside", cond: "0..100", value: 50, met: true},
		{name: "lower_inclusive", cond: "0..100", value: 0, met: true},
		{name: "upper_inclusive", cond: "0..100", value: 100.0, met: true},
		{name: "above", cond: "0..100", value: int64(101), met: false},
		{name: "numeric_string", cond: "0..100", value: "42", met: true},
		{name: "open_upper", cond: "18..", value: 99, met: true},
		{name: "open_lower", cond: "..10", value: -5, met: true},
		{name: "date_inside", cond: "1900-01-01..2000-12-31", value: "1950-06-01", met: true},
		{name: "date_time_value", cond: "1900-01-01..2000-12-31", value: time.Date(2000, 12, 31, 23, 0, 0, 0, time.UTC), met: true},
		{name: "date_after", cond: "1900-01-01..2000-12-31", value: "2001-01-01", met: false},
		{name: "null", cond: "0..100", value: nil, met: false},
		{name: "not_a_number", cond: "0..100", value: "abc", met: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newVeteranScorer(t, []domain.DQRule{rule("v", domain.RuleRange, tt.cond, 1)})
			res := s.Score(context.Background(), "VETERAN", domain.Row{"v": tt.value})
			assert.Equal(t, tt.met, res.Breakdown[0].Met)
		})
	}
}

func TestNewScorer_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		rules []domain.DQRule
		want  string
	}{
		{name: "unknown_predicate", rules: []domain.DQRule{rule("x", domain.RuleCustomFunction, "nope", 1)}, want: "unknown predicate"},
		{name: "bad_regex", rules: []domain.DQRule{rule("x", domain.RuleRegex, "(", 1)}, want: "invalid regex"},
		{name: "bad_range", rules: []domain.DQRule{rule("x", domain.RuleRange, "10..1", 1)}, want: "min greater than max"},
		{name: "range_syntax", rules: []domain.DQRule{rule("x", domain.RuleRange, "1-10", 1)}, want: "min..max"},
		{name: "duplicate", rules: []domain.DQRule{rule("x", domain.RuleNotNull, "", 1), rule("x", domain.RuleNotNull, "", 2)}, want: "duplicate"},
		{name: "not_met_exceeds_met", rules: func() []domain.DQRule {
			r := rule("x", domain.RuleNotNull, "", 1)
			r.PointsIfNotMet = 5
			return []domain.DQRule{r}
		}(), want: "x"},
		{name: "no_reference_source", rules: []domain.DQRule{rule("x", domain.RuleReferenceCheck, "a.b", 1)}, want: "no reference source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScorer(tt.rules, ScorerOptions{})
			var ce *domain.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewScorer_IgnoresInactive(t *testing.T) {
	inactive := rule("x", domain.RuleCustomFunction, "nope", 50)
	inactive.Active = false
	s, err := NewScorer([]domain.DQRule{inactive, rule("y", domain.RuleNotNull, "", 5)}, ScorerOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, s.MaxScore("VETERAN"))
	assert.Equal(t, []string{"VETERAN"}, s.Entities())
	assert.Equal(t, 0, s.MaxScore("CLAIM"))
}

func TestNewScorer_DottedNamesAreDistinctRules(t *testing.T) {
	a := rule("C", domain.RuleNotNull, "", 10)
	a.EntityType = "A.B"
	b := rule("B.C", domain.RuleNotNull, "", 20)
	b.EntityType = "A"
	require.NotEqual(t, a.Key(), b.Key())

	s, err := NewScorer([]domain.DQRule{a, b}, ScorerOptions{})
	require.NoError(t, err)
	assert.Equal(t, 10, s.MaxScore("A.B"))
	assert.Equal(t, 20, s.MaxScore("A"))
}

func TestBuildScorer_StarlarkFromSnapshot(t *testing.T) {
	snap := domain.NewConfigSnapshot(domain.SnapshotData{
		Rules: []domain.DQRule{
			rule("age", domain.RuleCustomFunction, "adult", 10),
		},
		Predicates: []domain.PredicateDefinition{
			{Name: "adult", Expression: "value != None and value >= 18"},
		},
	}, time.Now())

	s, err := BuildScorer(snap, nil, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, 10, s.Score(context.Background(), "VETERAN", domain.Row{"age": 30}).Earned)
	assert.Equal(t, 0, s.Score(context.Background(), "VETERAN", domain.Row{"age": 12}).Earned)
	assert.Equal(t, 0, s.Score(context.Background(), "VETERAN", domain.Row{}).Earned)
}

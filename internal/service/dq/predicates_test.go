package dq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-orchestrator/internal/domain"
)

func TestBuiltinPredicates(t *testing.T) {
	reg := NewPredicateRegistry()
	reg.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		predicate string
		value     any
		want      bool
		wantErr   bool
	}{
		{predicate: PredicateIsEmail, value: "a.b+c@example.org", want: true},
		{predicate: PredicateIsEmail, value: "no-at-sign", want: false},
		{predicate: PredicateIsEmail, value: nil, want: false},
		{predicate: PredicateIsUSPhone, value: "202-555-0143", want: true},
		{predicate: PredicateIsUSPhone, value: "+1 (202) 555 0143", want: true},
		{predicate: PredicateIsUSPhone, value: "102-555-0143", want: false},
		{predicate: PredicateIsUSPhone, value: "555-0143", want: false},
		{predicate: PredicateIsUSPhone, value: "202-555-01x3", want: false},
		{predicate: PredicateIsSSN, value: "123456789", want: true},
		{predicate: PredicateIsSSN, value: "666-12-3456", want: false},
		{predicate: PredicateIsSSN, value: "923-12-3456", want: false},
		{predicate: PredicateIsSSN, value: "123-00-3456", want: false},
		{predicate: PredicateIsSSN, value: "123-45-0000", want: false},
		{predicate: PredicateNotFutureDate, value: "2025-12-31", want: true},
		{predicate: PredicateNotFutureDate, value: "2026-01-02", want: false},
		{predicate: PredicateNotFutureDate, value: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), want: true},
		{predicate: PredicateNotFutureDate, value: "yesterday", wantErr: true},
		{predicate: PredicateNotFutureDate, value: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.predicate, func(t *testing.T) {
			p, ok := reg.Lookup(tt.predicate)
			require.True(t, ok)
			got, err := p.Evaluate(context.Background(), tt.value, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "%v", tt.value)
		})
	}
}

func TestPredicateRegistry_Register(t *testing.T) {
	reg := NewPredicateRegistry()
	always := domain.PredicateFunc(func(context.Context, any, domain.Row) (bool, error) { return true, nil })

	require.NoError(t, reg.Register("always", always))

	var ce *domain.ConflictError
	require.ErrorAs(t, reg.Register("always", always), &ce)
	require.ErrorAs(t, reg.Register(PredicateIsEmail, always), &ce)

	var ve *domain.ValidationError
	require.ErrorAs(t, reg.Register(" ", always), &ve)

	clone := reg.Clone()
	require.NoError(t, clone.Register("only_in_clone", always))
	_, ok := reg.Lookup("only_in_clone")
	assert.False(t, ok)
	assert.Contains(t, clone.Names(), "always")
}

func TestStarlarkPredicate(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		value   any
		record  domain.Row
		want    bool
		wantErr string
	}{
		{name: "expression", expr: "len(value) == 2", value: "VA", want: true},
		{name: "uses_record", expr: `record["state"] == "VA" and value > 0`, value: 5, record: domain.Row{"state": "VA"}, want: true},
		{
			name:  "statement_body",
			expr:  "if value == None:\n    return False\nreturn value.startswith(\"V\")",
			value: "VA", want: true,
		},
		{name: "float_value", expr: "value < 1.5", value: 1.25, want: true},
		{name: "non_bool_result", expr: "value", value: "x", wantErr: "want bool"},
		{name: "runtime_error", expr: "value + 1", value: "x", wantErr: "unknown binary op"},
		{name: "step_limit", expr: "for i in range(100000000):\n    pass\nreturn True", value: nil, wantErr: "too many steps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewStarlarkPredicate(domain.PredicateDefinition{Name: "p_" + tt.name, Expression: tt.expr})
			require.NoError(t, err)
			got, err := p.Evaluate(context.Background(), tt.value, tt.record)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewStarlarkPredicate_Invalid(t *testing.T) {
	var ce *domain.ConfigurationError

	_, err := NewStarlarkPredicate(domain.PredicateDefinition{Name: "empty", Expression: "   "})
	require.ErrorAs(t, err, &ce)

	_, err = NewStarlarkPredicate(domain.PredicateDefinition{Name: "syntax", Expression: "value ==="})
	require.ErrorAs(t, err, &ce)
}

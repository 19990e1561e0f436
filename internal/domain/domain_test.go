package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodeAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{name: "nil", err: nil, code: "", retryable: false},
		{name: "unit failure", err: &UnitInvocationError{Unit: "stage", Err: errors.New("timeout")}, code: ErrorCodeUnitInvocation, retryable: true},
		{name: "merge conflict", err: &MergeConflictError{Table: "dim_customer", Key: "42", Cause: "two current rows"}, code: ErrorCodeMergeConflict, retryable: false},
		{name: "wrapped merge conflict", err: fmt.Errorf("load: %w", &MergeConflictError{Table: "t", Key: "k"}), code: ErrorCodeMergeConflict, retryable: false},
		{name: "validation", err: fmt.Errorf("dedupe: %w", ErrValidation("business key column id is null")), code: ErrorCodeInternal, retryable: false},
		{name: "configuration", err: ErrConfiguration("no scd2 definition for %s", "dim_x"), code: ErrorCodeConfiguration, retryable: false},
		{name: "cancelled", err: fmt.Errorf("unit: %w", context.Canceled), code: ErrorCodeCancelled, retryable: false},
		{name: "other", err: errors.New("boom"), code: ErrorCodeInternal, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCode(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestCycleDetectedError(t *testing.T) {
	err := &CycleDetectedError{Names: []string{"a", "b", "a"}}
	assert.Equal(t, "dependency cycle detected: a -> b -> a", err.Error())
	assert.False(t, IsRetryable(err))
}

func TestParseDisabledPolicy(t *testing.T) {
	for _, v := range []string{"", "satisfied", "blocked"} {
		p, err := ParseDisabledPolicy(v)
		require.NoError(t, err, v)
		assert.Equal(t, DisabledPolicy(v), p)
	}

	_, err := ParseDisabledPolicy("ignore")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "ignore")
}

func TestConfigValueCheckValue(t *testing.T) {
	tests := []struct {
		name    string
		value   ConfigValue
		wantErr bool
	}{
		{name: "number", value: ConfigValue{Category: "ALERTS", Key: "threshold", Value: "2.5", ValueType: ValueTypeNumber}},
		{name: "bad number", value: ConfigValue{Category: "ALERTS", Key: "threshold", Value: "two", ValueType: ValueTypeNumber}, wantErr: true},
		{name: "boolean", value: ConfigValue{Category: "FEATURE_FLAGS", Key: "x", Value: "true", ValueType: ValueTypeBoolean}},
		{name: "bad boolean", value: ConfigValue{Category: "FEATURE_FLAGS", Key: "x", Value: "yes please", ValueType: ValueTypeBoolean}, wantErr: true},
		{name: "string accepts anything", value: ConfigValue{Category: "SCHEDULE", Key: "nightly", Value: "0 2 * * *", ValueType: ValueTypeString}},
		{name: "unknown type", value: ConfigValue{Category: "X", Key: "y", Value: "1", ValueType: "INT"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.value.CheckValue()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfigSnapshot(t *testing.T) {
	data := SnapshotData{
		Pipelines: []PipelineDefinition{{Name: "b", DependsOn: []string{"a"}}, {Name: "a"}},
		SCD2: []SCD2Definition{
			{TableName: "dim_customer", BusinessKeyColumns: []string{"customer_id"}, Active: true},
			{TableName: "dim_retired", BusinessKeyColumns: []string{"id"}, Active: false},
		},
		Values: []ConfigValue{
			{Category: "ALERTS", Key: "max_failures", Value: " 3 ", ValueType: ValueTypeNumber},
			{Category: "FEATURE_FLAGS", Key: "dq", Value: "maybe", ValueType: ValueTypeString},
		},
	}
	snap := NewConfigSnapshot(data, time.Now())

	// Mutating the input after the snapshot is taken must not leak in.
	data.Pipelines[0].DependsOn[0] = "changed"

	names := []string{}
	for _, p := range snap.Pipelines() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
	b, ok := snap.Pipeline("b")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, b.DependsOn)

	_, ok = snap.SCD2ForTable("dim_customer")
	assert.True(t, ok)
	_, ok = snap.SCD2ForTable("dim_retired")
	assert.False(t, ok, "inactive definitions are dropped")

	n, ok, err := snap.Number("ALERTS", "max_failures")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 3.0, n, 0)

	_, ok, err = snap.Bool("FEATURE_FLAGS", "dq")
	assert.True(t, ok)
	assert.Error(t, err)

	_, ok, err = snap.Bool("FEATURE_FLAGS", "missing")
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestPageTokens(t *testing.T) {
	assert.Empty(t, EncodePageToken(0))
	assert.Equal(t, 50, PageRequest{PageToken: EncodePageToken(50)}.Offset())
	assert.Equal(t, 0, PageRequest{PageToken: "not base64!"}.Offset())
	assert.Equal(t, DefaultMaxResults, PageRequest{}.Limit())
	assert.Equal(t, MaxMaxResults, PageRequest{MaxResults: 5000}.Limit())
	assert.Empty(t, NextPageToken(90, 10, 100))
	assert.Equal(t, EncodePageToken(20), NextPageToken(10, 10, 100))
}

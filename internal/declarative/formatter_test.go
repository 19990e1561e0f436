package declarative

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatText_NoChanges(t *testing.T) {
	var buf bytes.Buffer
	FormatText(&buf, &Plan{}, true)
	assert.Contains(t, buf.String(), "No changes")
}

func TestFormatText_WithActions(t *testing.T) {
	plan := &Plan{
		Actions: []Action{
			{Operation: OpCreate, ResourceKind: KindPipeline, ResourceName: "load_customer", FilePath: "pipelines/core.yaml"},
			{
				Operation: OpUpdate, ResourceKind: KindPipeline, ResourceName: "stage_customer", FilePath: "pipelines/core.yaml",
				Changes: []FieldDiff{{Field: "retry_count", OldValue: "0", NewValue: "2"}},
			},
		},
		Unmanaged: []PlanNote{{ResourceKind: KindUnit, ResourceName: "old_unit", Message: "not declared in YAML; left unchanged"}},
	}
	var buf bytes.Buffer
	FormatText(&buf, plan, true)
	output := buf.String()

	assert.Contains(t, output, "# pipelines/core.yaml")
	assert.Contains(t, output, `+ pipeline "load_customer" will be created`)
	assert.Contains(t, output, `~ pipeline "stage_customer" will be updated`)
	assert.Contains(t, output, `retry_count: "0" → "2"`)
	assert.Contains(t, output, `unit "old_unit"`)
	assert.Contains(t, output, "1 to create, 1 to update. 1 unmanaged.")
	assert.NotContains(t, output, "\033[")
}

func TestFormatText_Color(t *testing.T) {
	plan := &Plan{Actions: []Action{{Operation: OpCreate, ResourceKind: KindUnit, ResourceName: "u"}}}
	var buf bytes.Buffer
	FormatText(&buf, plan, false)
	assert.Contains(t, buf.String(), colorGreen)
}

func TestFormatJSON(t *testing.T) {
	plan := &Plan{Actions: []Action{
		{Operation: OpUpdate, ResourceKind: KindConfigValue, ResourceName: "ALERTS/EmailList",
			Changes: []FieldDiff{{Field: "value", OldValue: "a", NewValue: "b"}}},
	}}
	var buf bytes.Buffer
	require.NoError(t, FormatJSON(&buf, plan))

	var out struct {
		Actions []struct {
			Operation    string      `json:"operation"`
			ResourceType string      `json:"resource_type"`
			ResourceName string      `json:"resource_name"`
			Changes      []FieldDiff `json:"changes"`
		} `json:"actions"`
		Summary PlanSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Actions, 1)
	assert.Equal(t, "update", out.Actions[0].Operation)
	assert.Equal(t, "config-value", out.Actions[0].ResourceType)
	assert.Len(t, out.Actions[0].Changes, 1)
	assert.Equal(t, 1, out.Summary.Updates)
}

func TestFormatValidationErrors(t *testing.T) {
	var buf bytes.Buffer
	FormatValidationErrors(&buf, []ValidationError{
		{Path: "pipelines/p.yaml: pipeline[a]", Message: "unknown unit \"x\""},
		{Message: "dependency cycle detected: a -> b -> a"},
	}, true)
	assert.Contains(t, buf.String(), "✗ pipelines/p.yaml: pipeline[a]: unknown unit")
	assert.Contains(t, buf.String(), "2 validation error(s).")
}

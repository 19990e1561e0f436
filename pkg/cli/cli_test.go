package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-orchestrator/internal/domain"
)

var testDefinitions = map[string]string{
	"pipelines/core.yaml": `apiVersion: etl/v1
kind: PipelineList
pipelines:
  - name: build_summary
    entity_type: customer
    source_type: SINGLE_SOURCE
    transform_unit: summary_sql
    load_type: FULL
  - name: publish_summary
    entity_type: customer
    execution_order: 1
    depends_on: [build_summary]
    source_type: SINGLE_SOURCE
    transform_unit: publish_sql
    load_type: FULL
`,
	"units/units.yaml": `apiVersion: etl/v1
kind: UnitList
units:
  - name: summary_sql
    body: CREATE OR REPLACE TABLE summary AS SELECT 42 AS answer
  - name: publish_sql
    body: CREATE OR REPLACE TABLE published AS SELECT * FROM summary
`,
	"quality/customer.yaml": `apiVersion: etl/v1
kind: DQRuleList
entity_type: customer
rules:
  - field_name: email
    rule_type: CUSTOM_FUNCTION
    condition: is_email
    points_if_met: 60
  - field_name: customer_id
    rule_type: NOT_NULL
    points_if_met: 40
    importance: CRITICAL
    enforce_in_etl: true
`,
	"config/alerts.yaml": `apiVersion: etl/v1
kind: ConfigValueList
category: ALERTS
values:
  - key: EmailList
    value: ops@example.com
`,
}

func writeDefinitions(t *testing.T, defs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range defs {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// env is an isolated metadata store and warehouse shared by the commands of
// one test.
type env struct {
	t         *testing.T
	metaDB    string
	warehouse string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	for _, k := range []string{"ENV", "META_DB_PATH", "WAREHOUSE_PATH", "LOG_LEVEL", "ETL_OUTPUT", "JWT_SECRET", "ARCHIVE_URL"} {
		t.Setenv(k, "")
	}
	t.Setenv("ETL_ACTOR", "tester")
	dir := t.TempDir()
	return &env{
		t:         t,
		metaDB:    filepath.Join(dir, "meta.sqlite"),
		warehouse: filepath.Join(dir, "dw.duckdb"),
	}
}

// run executes the CLI with JSON output and returns stdout.
func (e *env) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(append([]string{"--meta-db", e.metaDB, "--warehouse", e.warehouse, "--env-file", "", "-o", "json"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *env) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run("", args...)
	require.NoError(e.t, err, out)
	return out
}

func exitCode(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return -1
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("version")), &got))
	assert.Equal(t, "dev", got["version"])
}

func TestOutputFormatRejected(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("", "version", "-o", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		e := newEnv(t)
		out := e.mustRun("validate", "--config-dir", writeDefinitions(t, testDefinitions))
		assert.JSONEq(t, `{"valid": true}`, out)
	})

	t.Run("invalid", func(t *testing.T) {
		e := newEnv(t)
		dir := writeDefinitions(t, map[string]string{
			"pipelines/core.yaml": `apiVersion: etl/v1
kind: PipelineList
pipelines:
  - name: a
    entity_type: customer
    depends_on: [b]
    source_type: SINGLE_SOURCE
    load_type: FULL
  - name: b
    entity_type: customer
    depends_on: [a]
    source_type: SINGLE_SOURCE
    load_type: FULL
`,
		})
		out, err := e.run("", "validate", "--config-dir", dir)
		assert.Equal(t, 1, exitCode(err))

		var got struct {
			Valid  bool     `json:"valid"`
			Errors []string `json:"errors"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.False(t, got.Valid)
		require.NotEmpty(t, got.Errors)
		assert.Contains(t, strings.Join(got.Errors, "\n"), "cycle")
	})
}

func TestDiffApplyExport(t *testing.T) {
	e := newEnv(t)
	dir := writeDefinitions(t, testDefinitions)

	out, err := e.run("", "diff", "--config-dir", dir)
	assert.Equal(t, 2, exitCode(err), out)
	assert.Contains(t, out, "build_summary")

	_, err = e.run("", "apply", "--config-dir", dir)
	require.Error(t, err, "apply without a terminal needs --auto-approve")
	assert.Contains(t, err.Error(), "--auto-approve")

	out = e.mustRun("apply", "--config-dir", dir, "--auto-approve", "--reason", "initial load")
	var applied struct {
		Applied bool           `json:"applied"`
		Result  map[string]int `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &applied))
	assert.True(t, applied.Applied)
	assert.Equal(t, 2, applied.Result["pipelines"])
	assert.Equal(t, 1, applied.Result["values_changed"])

	out, err = e.run("", "diff", "--config-dir", dir)
	require.NoError(t, err, "no changes after apply: %s", out)

	exportDir := filepath.Join(t.TempDir(), "export")
	e.mustRun("export", "--config-dir", exportDir)
	assert.FileExists(t, filepath.Join(exportDir, "pipelines", "pipelines.yaml"))

	out = e.mustRun("validate", "--config-dir", exportDir)
	assert.JSONEq(t, `{"valid": true}`, out)
}

func TestConfigCommands(t *testing.T) {
	e := newEnv(t)

	_, err := e.run("", "config", "set", "LIMITS", "maxRows", "100", "--type", "NUMBER")
	require.Error(t, err, "reason is required")

	out := e.mustRun("config", "set", "LIMITS", "maxRows", "100", "--type", "NUMBER", "--reason", "initial")
	var entry domain.ConfigAuditEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Nil(t, entry.OldValue)
	assert.Equal(t, "tester", entry.Actor)

	_, err = e.run("", "config", "set", "LIMITS", "maxRows", "many", "--reason", "typo")
	require.Error(t, err, "stored NUMBER type is inherited")
	assert.Equal(t, "VALIDATION", errorKind(err))

	e.mustRun("config", "set", "LIMITS", "maxRows", "250", "--reason", "more rows")

	var value domain.ConfigValue
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("config", "get", "LIMITS", "maxRows")), &value))
	assert.Equal(t, "250", value.Value)
	assert.Equal(t, domain.ValueTypeNumber, value.ValueType)

	var audit struct {
		Data  []domain.ConfigAuditEntry `json:"data"`
		Total int64                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("config", "audit", "--category", "LIMITS")), &audit))
	assert.Equal(t, int64(2), audit.Total)
	require.Len(t, audit.Data, 2)
	assert.Equal(t, "250", audit.Data[0].NewValue)
	require.NotNil(t, audit.Data[0].OldValue)
	assert.Equal(t, "100", *audit.Data[0].OldValue)

	_, err = e.run("", "config", "get", "LIMITS", "missing")
	assert.Equal(t, "NOT_FOUND", errorKind(err))
}

func TestRunAndExecutions(t *testing.T) {
	e := newEnv(t)
	e.mustRun("apply", "--config-dir", writeDefinitions(t, testDefinitions), "--auto-approve")

	var plan domain.Resolution
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("run", "--dry-run")), &plan))
	require.Len(t, plan.Batches, 2)
	assert.Equal(t, []string{"build_summary"}, plan.Batches[0].Pipelines)
	assert.Equal(t, []string{"publish_summary"}, plan.Batches[1].Pipelines)

	var report domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("run", "--param", "region=emea")), &report))
	assert.Equal(t, domain.RunStatusSuccess, report.Status)
	assert.Equal(t, "tester", report.TriggeredBy)
	require.Len(t, report.Pipelines, 2)

	var list struct {
		Data  []domain.ExecutionRecord `json:"data"`
		Total int64                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("executions", "list", "--batch", report.BatchID)), &list))
	assert.Equal(t, int64(2), list.Total)

	var stats []domain.ExecutionStats
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("executions", "stats", "--pipeline", "build_summary")), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].SuccessCount)
}

func TestRunFailureExitCode(t *testing.T) {
	e := newEnv(t)
	defs := map[string]string{
		"pipelines/core.yaml": `apiVersion: etl/v1
kind: PipelineList
pipelines:
  - name: broken
    entity_type: customer
    source_type: SINGLE_SOURCE
    transform_unit: broken_sql
    load_type: FULL
`,
		"units/units.yaml": `apiVersion: etl/v1
kind: UnitList
units:
  - name: broken_sql
    body: SELECT * FROM no_such_table
`,
	}
	e.mustRun("apply", "--config-dir", writeDefinitions(t, defs), "--auto-approve")

	out, err := e.run("", "run")
	assert.Equal(t, 1, exitCode(err))
	var report domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, domain.RunStatusFailed, report.Status)
	assert.Equal(t, domain.ErrorCodeUnitInvocation, report.Pipelines[0].ErrorCode)
}

func TestScore(t *testing.T) {
	e := newEnv(t)
	e.mustRun("apply", "--config-dir", writeDefinitions(t, testDefinitions), "--auto-approve")

	records := `[{"customer_id": 1, "email": "ann@example.com"}, {"customer_id": null, "email": "nope"}]`
	out, err := e.run(records, "score", "--entity", "customer")
	require.NoError(t, err, out)

	var results []domain.ScoreResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, 100, results[0].Earned)
	assert.False(t, results[0].Rejected)
	assert.Equal(t, 0, results[1].Earned)
	assert.True(t, results[1].Rejected)

	_, err = e.run(records, "score", "--entity", "vendor")
	assert.Equal(t, "NOT_FOUND", errorKind(err))

	_, err = e.run("[]", "score", "--entity", "customer")
	assert.Equal(t, "VALIDATION", errorKind(err))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", domain.ErrNotFound("x"), "NOT_FOUND"},
		{"validation", domain.ErrValidation("x"), "VALIDATION"},
		{"conflict", domain.ErrConflict("x"), "CONFLICT"},
		{"configuration", domain.ErrConfiguration("x"), domain.ErrorCodeConfiguration},
		{"cycle", &domain.CycleDetectedError{Names: []string{"a", "b"}}, "CYCLE"},
		{"other", errors.New("boom"), domain.ErrorCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorKind(tt.err))
		})
	}
}

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"etl-orchestrator/internal/api"
	"etl-orchestrator/internal/app"
	"etl-orchestrator/internal/config"
	"etl-orchestrator/internal/db"
	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
	"etl-orchestrator/internal/ui"
	"etl-orchestrator/internal/warehouse"
)

const testSecret = "integration-secret-0123456789abcdef"

// definitions is a small warehouse: a staging unit fills raw orders and a
// summary unit aggregates them one phase later.
var definitions = map[string]string{
	"units/units.yaml": `apiVersion: etl/v1
kind: UnitList
units:
  - name: stage_orders_sql
    body: >-
      CREATE OR REPLACE TABLE raw_orders AS
      SELECT * FROM (VALUES (1, 'alice', 10.0), (2, 'bob', 25.5), (3, 'alice', 4.5)) t(order_id, customer, amount)
  - name: summarize_orders_sql
    body: >-
      CREATE OR REPLACE TABLE order_summary AS
      SELECT customer, sum(amount) AS total FROM raw_orders GROUP BY customer
`,
	"pipelines/orders.yaml": `apiVersion: etl/v1
kind: PipelineList
pipelines:
  - name: stage_orders
    entity_type: order
    execution_order: 1
    source_type: SINGLE_SOURCE
    transform_unit: stage_orders_sql
    load_type: FULL
  - name: summarize_orders
    entity_type: order
    execution_order: 2
    depends_on: [stage_orders]
    source_type: SINGLE_SOURCE
    transform_unit: summarize_orders_sql
    load_type: FULL
`,
	"quality/order.yaml": `apiVersion: etl/v1
kind: DQRuleList
entity_type: order
rules:
  - field_name: order_id
    rule_type: NOT_NULL
    points_if_met: 40
    importance: CRITICAL
    enforce_in_etl: true
  - field_name: amount
    rule_type: RANGE
    condition: "0..1000"
    points_if_met: 60
`,
}

type testEnv struct {
	Server    *httptest.Server
	App       *app.App
	Warehouse *warehouse.DuckDBStore
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	defsDir := filepath.Join(dir, "definitions")
	for name, content := range definitions {
		path := filepath.Join(defsDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	meta, err := db.OpenMetaStore(filepath.Join(dir, "meta.sqlite"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	wh, err := warehouse.Open(ctx, filepath.Join(dir, "warehouse.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })

	logger := slog.New(slog.DiscardHandler)
	cfg := &config.Config{
		MaxConcurrentRuns:  1,
		AlertRatePerMinute: 30,
		DisabledPolicy:     domain.DisabledSatisfied,
		DefinitionsDir:     defsDir,
	}
	a, err := app.New(ctx, app.Deps{Cfg: cfg, Meta: meta, Warehouse: wh, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	validator, err := middleware.NewHS256Validator(testSecret)
	require.NoError(t, err)

	handler := api.NewHandler(a.Runs, a.Config, a.Executions, a.Scores, logger)
	router := api.NewRouter(ctx, handler, api.RouterOptions{
		Validator:      validator,
		AllowedOrigins: []string{"*"},
		RateLimit:      middleware.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		UI: func(r chi.Router, auth func(http.Handler) http.Handler) {
			ui.MountRoutes(r, ui.NewHandler(a.Runs, a.Config, a.Executions, false, logger), auth)
		},
	}, logger)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{Server: srv, App: a, Warehouse: a.Warehouse}
}

func token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   subject,
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// doRequest sends body as JSON when non-nil and decodes a JSON response
// into out when out is non-nil.
func doRequest(t *testing.T, env *testEnv, method, path, bearer string, body, out interface{}) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.Server.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := env.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// waitForReport polls the run endpoint until the report is final.
func waitForReport(t *testing.T, env *testEnv, bearer, batchID string) domain.RunReport {
	t.Helper()
	var report domain.RunReport
	require.Eventually(t, func() bool {
		report = domain.RunReport{}
		return doRequest(t, env, http.MethodGet, "/api/v1/runs/"+batchID, bearer, nil, &report) == http.StatusOK
	}, 30*time.Second, 50*time.Millisecond)
	return report
}

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
	"etl-orchestrator/internal/service/configstore"
	"etl-orchestrator/internal/service/dq"
	"etl-orchestrator/internal/service/pipeline"
	"etl-orchestrator/internal/testutil"
)

const testSecret = "test-secret"

type fakeRuns struct {
	triggered []pipeline.RunRequest
	cancelled []string
	reports   map[string]*domain.RunReport
	running   map[string]bool
	planErr   error
}

func (f *fakeRuns) Plan(_ context.Context, req pipeline.RunRequest) (*domain.Resolution, error) {
	if f.planErr != nil {
		return nil, f.planErr
	}
	return &domain.Resolution{Batches: []domain.Batch{{Phase: 0, Pipelines: []string{"stage"}}}}, nil
}

func (f *fakeRuns) Trigger(_ context.Context, req pipeline.RunRequest) (string, error) {
	f.triggered = append(f.triggered, req)
	return "batch-1", nil
}

func (f *fakeRuns) Cancel(_, batchID string) error {
	if !f.running[batchID] {
		return domain.ErrNotFound("run %q is not active", batchID)
	}
	f.cancelled = append(f.cancelled, batchID)
	return nil
}

func (f *fakeRuns) Report(batchID string) (*domain.RunReport, error) {
	if f.running[batchID] {
		return nil, domain.ErrConflict("run %q is still running", batchID)
	}
	if r, ok := f.reports[batchID]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound("run %q not found", batchID)
}

func (f *fakeRuns) Active() []string {
	var out []string
	for id := range f.running {
		out = append(out, id)
	}
	return out
}

type apiFixture struct {
	runs   *fakeRuns
	defs   *testutil.MockDefinitionRepo
	values *testutil.MockConfigValueRepo
	log    *testutil.MockExecutionLog
	server http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	f := &apiFixture{
		runs: &fakeRuns{
			reports: map[string]*domain.RunReport{"done": {BatchID: "done", Status: domain.RunStatusSuccess}},
			running: map[string]bool{"live": true},
		},
		defs: &testutil.MockDefinitionRepo{
			Pipelines: []domain.PipelineDefinition{
				{Name: "stage", EntityType: "CUSTOMER", SourceType: domain.SourceSingle, LoadType: domain.LoadFull, Enabled: true},
				{Name: "load", EntityType: "CUSTOMER", DependsOn: []string{"stage"}, SourceType: domain.SourceSingle,
					LoadType: domain.LoadFull, Enabled: true},
			},
			Rules: []domain.DQRule{{
				EntityType: "CUSTOMER", FieldName: "email", RuleType: domain.RuleNotNull,
				PointsIfMet: 10, Importance: domain.ImportanceHigh, Active: true,
			}},
		},
		values: &testutil.MockConfigValueRepo{
			Values: []domain.ConfigValue{
				{Category: domain.CategoryAlerts, Key: "alertEmailList", Value: "ops@example.com", ValueType: domain.ValueTypeString},
				{Category: "LIMITS", Key: "maxRows", Value: "10", ValueType: domain.ValueTypeNumber},
			},
		},
		log: &testutil.MockExecutionLog{},
	}
	config := configstore.NewService(f.defs, f.values, logger)
	scores := dq.NewService(config, nil, nil, logger)
	h := NewHandler(f.runs, config, f.log, scores, logger)

	validator, err := middleware.NewHS256Validator(testSecret)
	require.NoError(t, err)
	f.server = NewRouter(t.Context(), h, RouterOptions{
		Validator:      validator,
		AllowedOrigins: []string{"*"},
		RateLimit:      middleware.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}, logger)
	return f
}

func token(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (f *apiFixture) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRouter_PublicEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/pipelines", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_ListPipelines(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/pipelines", "", token(t, "viewer"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[listResponse[pipelineView]](t, rec)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "load", body.Data[0].Name)
	require.NotNil(t, body.Data[0].Phase)
	assert.Equal(t, 1, *body.Data[0].Phase)
	require.NotNil(t, body.Data[1].Phase)
	assert.Equal(t, 0, *body.Data[1].Phase)
}

func TestHandler_Plan(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		planErr    error
		wantStatus int
	}{
		{name: "ok", wantStatus: http.StatusOK},
		{name: "bad policy", query: "?disabled_policy=maybe", wantStatus: http.StatusBadRequest},
		{name: "bad strict flag", query: "?strict_groups=sometimes", wantStatus: http.StatusBadRequest},
		{name: "cycle", planErr: &domain.CycleDetectedError{Names: []string{"a", "b", "a"}}, wantStatus: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.runs.planErr = tt.planErr

			rec := f.do(t, http.MethodGet, "/api/v1/plan"+tt.query, "", token(t, "viewer"))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_TriggerRun(t *testing.T) {
	t.Run("operator", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/runs",
			`{"params":{"date":"2024-01-01"},"disabled_policy":"blocked"}`, token(t, "alice", middleware.RoleOperator))

		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.Equal(t, "/api/v1/runs/batch-1", rec.Header().Get("Location"))
		assert.Equal(t, "batch-1", decode[triggerRunResponse](t, rec).BatchID)
		require.Len(t, f.runs.triggered, 1)
		req := f.runs.triggered[0]
		assert.Equal(t, "alice", req.Actor)
		assert.Equal(t, domain.TriggerTypeManual, req.TriggerType)
		assert.Equal(t, domain.DisabledBlocked, req.DisabledPolicy)
		assert.Equal(t, "2024-01-01", req.Params["date"])
	})

	t.Run("empty body", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/runs", "", token(t, "alice", middleware.RoleAdmin))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("viewer forbidden", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/runs", "{}", token(t, "bob"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, f.runs.triggered)
	})

	t.Run("unknown field", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/runs", `{"pipelines":["x"]}`, token(t, "alice", middleware.RoleOperator))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_GetRun(t *testing.T) {
	tests := []struct {
		batchID    string
		wantStatus int
	}{
		{batchID: "done", wantStatus: http.StatusOK},
		{batchID: "live", wantStatus: http.StatusAccepted},
		{batchID: "nope", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.batchID, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.do(t, http.MethodGet, "/api/v1/runs/"+tt.batchID, "", token(t, "viewer"))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandler_CancelRun(t *testing.T) {
	f := newAPIFixture(t)
	op := token(t, "alice", middleware.RoleOperator)

	rec := f.do(t, http.MethodDelete, "/api/v1/runs/live", "", op)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"live"}, f.runs.cancelled)

	rec = f.do(t, http.MethodDelete, "/api/v1/runs/done", "", op)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/runs", "", op)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"live"}, decode[activeRunsResponse](t, rec).Active)
}

func TestHandler_ConfigValues(t *testing.T) {
	t.Run("get", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodGet, "/api/v1/config/ALERTS/alertEmailList", "", token(t, "viewer"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ops@example.com", decode[domain.ConfigValue](t, rec).Value)

		rec = f.do(t, http.MethodGet, "/api/v1/config/ALERTS/missing", "", token(t, "viewer"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("set records actor", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPut, "/api/v1/config/ALERTS/alertEmailList",
			`{"value":"oncall@example.com","reason":"rotation"}`, token(t, "alice", middleware.RoleOperator))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		entry := decode[domain.ConfigAuditEntry](t, rec)
		assert.Equal(t, "alice", entry.Actor)
		assert.Equal(t, "rotation", entry.Reason)
		require.NotNil(t, entry.OldValue)
		assert.Equal(t, "ops@example.com", *entry.OldValue)

		rec = f.do(t, http.MethodGet, "/api/v1/config/ALERTS/alertEmailList/audit", "", token(t, "viewer"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1), decode[listResponse[domain.ConfigAuditEntry]](t, rec).Total)
	})

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "reason required", path: "/api/v1/config/ALERTS/alertEmailList", body: `{"value":"x"}`},
		{name: "stored type is enforced", path: "/api/v1/config/LIMITS/maxRows", body: `{"value":"lots","reason":"r"}`},
		{name: "unknown type", path: "/api/v1/config/LIMITS/other", body: `{"value":"1","value_type":"DATE","reason":"r"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPut, tt.path, tt.body, token(t, "alice", middleware.RoleOperator))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Empty(t, f.values.Audit)
		})
	}
}

func TestHandler_ListExecutions(t *testing.T) {
	f := newAPIFixture(t)
	var got domain.ExecutionFilter
	f.log.ListFn = func(_ context.Context, filter domain.ExecutionFilter) ([]domain.ExecutionRecord, int64, error) {
		got = filter
		return []domain.ExecutionRecord{{ID: "1", PipelineName: "load", Status: domain.ExecutionStatusFailed}}, 3, nil
	}

	rec := f.do(t, http.MethodGet,
		"/api/v1/executions?pipeline=load&status=FAILED&since=2024-01-01T00:00:00Z&max_results=1", "", token(t, "viewer"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[listResponse[domain.ExecutionRecord]](t, rec)
	assert.Len(t, body.Data, 1)
	assert.Equal(t, int64(3), body.Total)
	assert.NotEmpty(t, body.NextPageToken)
	require.NotNil(t, got.Pipeline)
	assert.Equal(t, "load", *got.Pipeline)
	require.NotNil(t, got.Status)
	assert.Equal(t, domain.ExecutionStatusFailed, *got.Status)
	require.NotNil(t, got.Since)
	assert.Nil(t, got.Until)
	assert.Equal(t, 1, got.Page.MaxResults)

	rec = f.do(t, http.MethodGet, "/api/v1/executions?since=yesterday", "", token(t, "viewer"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ExecutionStats(t *testing.T) {
	f := newAPIFixture(t)
	f.log.StatsFn = func(context.Context, domain.ExecutionFilter) ([]domain.ExecutionStats, error) {
		return []domain.ExecutionStats{{PipelineName: "load", SuccessCount: 4, FailureCount: 1}}, nil
	}

	rec := f.do(t, http.MethodGet, "/api/v1/executions/stats", "", token(t, "viewer"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[listResponse[domain.ExecutionStats]](t, rec)
	require.Len(t, body.Data, 1)
	assert.Equal(t, int64(4), body.Data[0].SuccessCount)
}

func TestHandler_ScoreRecords(t *testing.T) {
	tests := []struct {
		name       string
		entity     string
		body       string
		wantStatus int
	}{
		{name: "scores each record", entity: "CUSTOMER", body: `{"records":[{"email":"a@b.c"},{"email":null}]}`, wantStatus: http.StatusOK},
		{name: "no rules", entity: "PATIENT", body: `{"records":[{"email":"a@b.c"}]}`, wantStatus: http.StatusNotFound},
		{name: "no records", entity: "CUSTOMER", body: `{"records":[]}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", entity: "CUSTOMER", body: `{"records":`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPost, "/api/v1/dq/"+tt.entity+"/score", tt.body, token(t, "viewer"))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.NotEmpty(t, decode[errorBody](t, rec).Message)
				return
			}
			results := decode[listResponse[domain.ScoreResult]](t, rec).Data
			require.Len(t, results, 2)
			assert.Equal(t, 10, results[0].Earned)
			assert.Equal(t, 0, results[1].Earned)
		})
	}
}

func TestHandler_InternalErrorsAreMasked(t *testing.T) {
	f := newAPIFixture(t)
	f.log.StatsFn = func(context.Context, domain.ExecutionFilter) ([]domain.ExecutionStats, error) {
		return nil, assert.AnError
	}

	rec := f.do(t, http.MethodGet, "/api/v1/executions/stats", "", token(t, "viewer"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "internal error", body.Message)
	assert.NotEmpty(t, body.RequestID)
}

func TestRouter_AnonymousWithoutValidator(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	runs := &fakeRuns{}
	config := configstore.NewService(&testutil.MockDefinitionRepo{}, &testutil.MockConfigValueRepo{}, logger)
	h := NewHandler(runs, config, &testutil.MockExecutionLog{}, dq.NewService(config, nil, nil, logger), logger)
	srv := NewRouter(t.Context(), h, RouterOptions{
		AllowedOrigins: []string{"*"},
		RateLimit:      middleware.RateLimitConfig{RequestsPerSecond: 10, Burst: 10},
	}, logger)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, runs.triggered, 1)
	assert.Equal(t, "anonymous", runs.triggered[0].Actor)
}

func TestHTTPStatusFromDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound("x"), http.StatusNotFound},
		{domain.ErrValidation("x"), http.StatusBadRequest},
		{domain.ErrConflict("x"), http.StatusConflict},
		{domain.ErrConfiguration("x"), http.StatusUnprocessableEntity},
		{context.Canceled, 499},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatusFromDomainError(tt.err))
		})
	}
}

// Package api provides the HTTP monitoring and control API of the
// orchestrator.
package api

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
	"etl-orchestrator/internal/service/pipeline"
)

// RunService starts, inspects and cancels orchestration runs.
type RunService interface {
	Plan(ctx context.Context, req pipeline.RunRequest) (*domain.Resolution, error)
	Trigger(ctx context.Context, req pipeline.RunRequest) (string, error)
	Cancel(actor, batchID string) error
	Report(batchID string) (*domain.RunReport, error)
	Active() []string
}

// ConfigService reads and audits configuration.
type ConfigService interface {
	Snapshot(ctx context.Context) (*domain.ConfigSnapshot, error)
	Get(ctx context.Context, category, key string) (*domain.ConfigValue, error)
	Set(ctx context.Context, change domain.ConfigChange) (*domain.ConfigAuditEntry, error)
	ListAudit(ctx context.Context, filter domain.ConfigAuditFilter) ([]domain.ConfigAuditEntry, int64, error)
}

// ScoreService scores ad-hoc records.
type ScoreService interface {
	Score(ctx context.Context, entityType string, records []domain.Row) ([]domain.ScoreResult, error)
}

// Handler serves the /api/v1 routes.
type Handler struct {
	runs       RunService
	config     ConfigService
	executions domain.ExecutionLogRepository
	scores     ScoreService
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required service dependencies.
func NewHandler(runs RunService, config ConfigService, executions domain.ExecutionLogRepository,
	scores ScoreService, logger *slog.Logger) *Handler {
	return &Handler{
		runs:       runs,
		config:     config,
		executions: executions,
		scores:     scores,
		logger:     logger.With("component", "api"),
	}
}

// Routes registers the API on r. Mutating routes require the operator role.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/pipelines", h.listPipelines)
	r.Get("/plan", h.getPlan)
	r.Get("/runs", h.listActiveRuns)
	r.Get("/runs/{batchID}", h.getRun)
	r.Get("/executions", h.listExecutions)
	r.Get("/executions/stats", h.executionStats)
	r.Get("/config/{category}/{key}", h.getConfigValue)
	r.Get("/config/{category}/{key}/audit", h.listConfigAudit)
	r.Post("/dq/{entityType}/score", h.scoreRecords)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleOperator))
		r.Post("/runs", h.triggerRun)
		r.Delete("/runs/{batchID}", h.cancelRun)
		r.Put("/config/{category}/{key}", h.setConfigValue)
	})
}

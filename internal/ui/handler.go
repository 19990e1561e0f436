// Package ui serves the server-rendered monitoring console under /ui.
package ui

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	gomponents "maragu.dev/gomponents"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
	"etl-orchestrator/internal/service/pipeline"
)

// RunService is the part of the run service the console drives.
type RunService interface {
	Plan(ctx context.Context, req pipeline.RunRequest) (*domain.Resolution, error)
	Trigger(ctx context.Context, req pipeline.RunRequest) (string, error)
	Cancel(actor, batchID string) error
	Report(batchID string) (*domain.RunReport, error)
	Active() []string
}

// SnapshotSource produces the current configuration snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*domain.ConfigSnapshot, error)
}

type Handler struct {
	Runs       RunService
	Config     SnapshotSource
	executions domain.ExecutionLogRepository
	Production bool
	logger     *slog.Logger
}

func NewHandler(runs RunService, config SnapshotSource, executions domain.ExecutionLogRepository,
	production bool, logger *slog.Logger) *Handler {
	return &Handler{
		Runs:       runs,
		Config:     config,
		executions: executions,
		Production: production,
		logger:     logger.With("component", "ui"),
	}
}

func pageFromRequest(r *http.Request, defaultPageSize int) domain.PageRequest {
	maxResults := defaultPageSize
	if maxResults <= 0 {
		maxResults = 25
	}
	if raw := r.URL.Query().Get("max_results"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			maxResults = parsed
		}
	}
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 200 {
		maxResults = 200
	}
	return domain.PageRequest{
		MaxResults: maxResults,
		PageToken:  r.URL.Query().Get("page_token"),
	}
}

func renderHTML(w http.ResponseWriter, status int, node gomponents.Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = node.Render(w)
}

func principalFromContext(ctx context.Context) middleware.Principal {
	p, ok := middleware.PrincipalFromContext(ctx)
	if !ok || p.Name == "" {
		return middleware.Principal{Name: "unknown"}
	}
	return p
}

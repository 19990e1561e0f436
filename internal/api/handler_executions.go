package api

import (
	"net/http"

	"etl-orchestrator/internal/domain"
)

// executionFilter reads pipeline, batch_id, status, since and until.
func executionFilter(r *http.Request) (domain.ExecutionFilter, error) {
	f := domain.ExecutionFilter{
		Pipeline: optionalString(r, "pipeline"),
		BatchID:  optionalString(r, "batch_id"),
		Status:   optionalString(r, "status"),
	}
	var err error
	if f.Since, err = optionalTime(r, "since"); err != nil {
		return f, err
	}
	if f.Until, err = optionalTime(r, "until"); err != nil {
		return f, err
	}
	if f.Page, err = pageFromQuery(r); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	filter, err := executionFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recs, total, err := h.executions.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.ExecutionRecord]{
		Data:          recs,
		Total:         total,
		NextPageToken: domain.NextPageToken(filter.Page.Offset(), filter.Page.Limit(), total),
	})
}

func (h *Handler) executionStats(w http.ResponseWriter, r *http.Request) {
	filter, err := executionFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.executions.Stats(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.ExecutionStats]{Data: stats, Total: int64(len(stats))})
}

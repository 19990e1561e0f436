package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"etl-orchestrator/internal/domain"
)

// maxScoreRecords bounds one scoring request.
const maxScoreRecords = 1000

type scoreRequest struct {
	Records []domain.Row `json:"records"`
}

func (h *Handler) scoreRecords(w http.ResponseWriter, r *http.Request) {
	var body scoreRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(body.Records) == 0 {
		h.writeError(w, r, domain.ErrValidation("records must not be empty"))
		return
	}
	if len(body.Records) > maxScoreRecords {
		h.writeError(w, r, domain.ErrValidation("at most %d records per request", maxScoreRecords))
		return
	}
	results, err := h.scores.Score(r.Context(), chi.URLParam(r, "entityType"), body.Records)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.ScoreResult]{Data: results, Total: int64(len(results))})
}

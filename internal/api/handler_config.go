package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"etl-orchestrator/internal/domain"
)

type setConfigRequest struct {
	Value     string `json:"value"`
	ValueType string `json:"value_type,omitempty"`
	Reason    string `json:"reason"`
}

func (h *Handler) getConfigValue(w http.ResponseWriter, r *http.Request) {
	v, err := h.config.Get(r.Context(), chi.URLParam(r, "category"), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// setConfigValue writes one value. The caller becomes the audit actor and
// a reason is mandatory.
func (h *Handler) setConfigValue(w http.ResponseWriter, r *http.Request) {
	var body setConfigRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	change := domain.ConfigChange{
		Category:  chi.URLParam(r, "category"),
		Key:       chi.URLParam(r, "key"),
		Value:     body.Value,
		ValueType: body.ValueType,
		Actor:     actor(r),
		Reason:    body.Reason,
	}
	entry, err := h.config.Set(r.Context(), change)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) listConfigAudit(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	category := chi.URLParam(r, "category")
	key := chi.URLParam(r, "key")
	entries, total, err := h.config.ListAudit(r.Context(), domain.ConfigAuditFilter{
		Category: &category,
		Key:      &key,
		Page:     page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.ConfigAuditEntry]{
		Data:          entries,
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	})
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/service/pipeline"
)

type triggerRunRequest struct {
	Params         map[string]string `json:"params,omitempty"`
	DisabledPolicy string            `json:"disabled_policy,omitempty"`
	StrictGroups   *bool             `json:"strict_groups,omitempty"`
}

type triggerRunResponse struct {
	BatchID string `json:"batch_id"`
}

type activeRunsResponse struct {
	Active []string `json:"active"`
}

type pipelineView struct {
	domain.PipelineDefinition
	Phase *int `json:"phase,omitempty"`
}

// listPipelines returns the configured pipelines with their resolved phase.
func (h *Handler) listPipelines(w http.ResponseWriter, r *http.Request) {
	snap, err := h.config.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	phases := make(map[string]int)
	if res, err := pipeline.Resolve(snap.Pipelines(), pipeline.ResolveOptions{}); err == nil {
		for _, b := range res.Batches {
			for _, name := range b.Pipelines {
				phases[name] = b.Phase
			}
		}
	}
	out := make([]pipelineView, 0, len(snap.Pipelines()))
	for _, p := range snap.Pipelines() {
		v := pipelineView{PipelineDefinition: p}
		if phase, ok := phases[p.Name]; ok {
			v.Phase = &phase
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, listResponse[pipelineView]{Data: out, Total: int64(len(out))})
}

// getPlan resolves the current configuration without executing it.
func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	policy, err := domain.ParseDisabledPolicy(r.URL.Query().Get("disabled_policy"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	strict, err := optionalBool(r, "strict_groups")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.runs.Plan(r.Context(), pipeline.RunRequest{
		Actor:          actor(r),
		TriggerType:    domain.TriggerTypeManual,
		DisabledPolicy: policy,
		StrictGroups:   strict,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// triggerRun starts a run asynchronously and returns its batch ID.
func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	var body triggerRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	policy, err := domain.ParseDisabledPolicy(body.DisabledPolicy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	batchID, err := h.runs.Trigger(r.Context(), pipeline.RunRequest{
		Actor:          actor(r),
		TriggerType:    domain.TriggerTypeManual,
		Params:         body.Params,
		DisabledPolicy: policy,
		StrictGroups:   body.StrictGroups,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/runs/"+batchID)
	writeJSON(w, http.StatusAccepted, triggerRunResponse{BatchID: batchID})
}

func (h *Handler) listActiveRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, activeRunsResponse{Active: h.runs.Active()})
}

// getRun returns the report of a finished run. A run still in flight
// answers 202 with its batch ID.
func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	report, err := h.runs.Report(batchID)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusAccepted, triggerRunResponse{BatchID: batchID})
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.runs.Cancel(actor(r), chi.URLParam(r, "batchID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

package ui

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
	"etl-orchestrator/internal/service/pipeline"
)

func runPage(principal middleware.Principal, report *domain.RunReport) Node {
	rows := make([]Node, 0, len(report.Pipelines))
	for _, o := range report.Pipelines {
		rows = append(rows, Tr(
			Td(A(Href("/ui/executions?pipeline="+o.Name), Text(o.Name))),
			Td(statusLabel(o.Status)),
			Td(Text(strconv.Itoa(o.Attempts))),
			Td(Text(strconv.FormatInt(o.RowsRead, 10))),
			Td(Text(strconv.FormatInt(o.RowsLoaded, 10))),
			Td(Text(strconv.FormatInt(o.RowsRejected, 10))),
			Td(Text(orDash(o.FailureChain))),
			Td(Text(o.Error)),
		))
	}
	warnings := make([]Node, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		warnings = append(warnings, Li(Text(w.Name+": declared order "+strconv.Itoa(w.Declared)+
			" raised to phase "+strconv.Itoa(w.Computed))))
	}

	return appPage("Run "+report.BatchID, "home", principal,
		Div(Class(cardClass()),
			P(Text("Status: "), statusLabel(report.Status)),
			P(Text("Triggered by: "+report.TriggeredBy)),
			P(Text("Started: "+formatTime(report.StartedAt))),
			P(Text("Finished: "+formatTime(report.FinishedAt))),
			If(len(warnings) > 0, Ul(Group(warnings))),
		),
		Div(Class(cardClass()),
			table([]string{"Pipeline", "Status", "Attempts", "Read", "Loaded", "Rejected", "Failure chain", "Error"}, rows),
		),
	)
}

// RunDetail shows a finished run's report. Runs in flight redirect to the
// overview.
func (h *Handler) RunDetail(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	report, err := h.Runs.Report(batchID)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			http.Redirect(w, r, "/ui?flash=Run+"+batchID+"+is+still+running", http.StatusSeeOther)
			return
		}
		h.renderServiceError(w, r, err)
		return
	}
	renderHTML(w, http.StatusOK, runPage(principalFromContext(r.Context()), report))
}

// TriggerRun starts a run from the overview form.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderServiceError(w, r, domain.ErrValidation("invalid form"))
		return
	}
	policy, err := domain.ParseDisabledPolicy(r.Form.Get("disabled_policy"))
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	batchID, err := h.Runs.Trigger(r.Context(), pipeline.RunRequest{
		Actor:          principalFromContext(r.Context()).Name,
		TriggerType:    domain.TriggerTypeManual,
		DisabledPolicy: policy,
	})
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, "/ui?flash=Started+run+"+batchID, http.StatusSeeOther)
}

func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if err := h.Runs.Cancel(principalFromContext(r.Context()).Name, batchID); err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, "/ui?flash=Cancelling+run+"+batchID, http.StatusSeeOther)
}

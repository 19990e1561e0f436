package ui

import (
	"net/http"
	"net/url"
	"strconv"

	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
)

var executionStatuses = []string{
	domain.ExecutionStatusRunning,
	domain.ExecutionStatusSuccess,
	domain.ExecutionStatusFailed,
	domain.ExecutionStatusSkipped,
}

type executionsPageData struct {
	Principal middleware.Principal
	Pipeline  string
	Status    string
	Records   []domain.ExecutionRecord
	Page      domain.PageRequest
	Total     int64
}

func executionsPage(d executionsPageData) Node {
	rows := make([]Node, 0, len(d.Records))
	for _, rec := range d.Records {
		rows = append(rows, Tr(
			Td(Text(rec.PipelineName)),
			Td(A(Href("/ui/runs/"+rec.BatchID), Text(rec.BatchID))),
			Td(statusLabel(rec.Status)),
			Td(Text(strconv.Itoa(rec.RetryAttempt))),
			Td(Text(formatTime(rec.StartTs))),
			Td(Text(formatTimePtr(rec.EndTs))),
			Td(Text(strconv.FormatInt(rec.RowsRead, 10)+" / "+strconv.FormatInt(rec.RowsLoaded, 10)+
				" / "+strconv.FormatInt(rec.RowsRejected, 10))),
			Td(Text(stringPtr(rec.ErrorCode))),
			Td(Text(stringPtr(rec.ErrorMessage))),
		))
	}

	statusOptions := []Node{Option(Value(""), Text("any status"))}
	for _, s := range executionStatuses {
		statusOptions = append(statusOptions, Option(Value(s), Text(s), If(s == d.Status, Selected())))
	}

	query := url.Values{}
	if d.Pipeline != "" {
		query.Set("pipeline", d.Pipeline)
	}
	if d.Status != "" {
		query.Set("status", d.Status)
	}
	prefix := ""
	if len(query) > 0 {
		prefix = query.Encode() + "&"
	}

	return appPage("Executions", "executions", d.Principal,
		Div(Class(cardClass()),
			Form(Method("get"), Action("/ui/executions"),
				Input(Type("search"), Name("pipeline"), Placeholder("Pipeline"), Value(d.Pipeline)),
				Text(" "),
				Select(Name("status"), Group(statusOptions)),
				Text(" "),
				Button(Type("submit"), Class("btn"), Text("Filter")),
			),
		),
		Div(Class(cardClass()),
			If(len(rows) == 0, P(Class(mutedClass()), Text("No executions match."))),
			If(len(rows) > 0, table([]string{"Pipeline", "Batch", "Status", "Attempt", "Started", "Finished",
				"Read / Loaded / Rejected", "Code", "Error"}, rows)),
			paginationCard("/ui/executions", prefix, d.Page, d.Total),
		),
	)
}

// Executions lists execution records, newest first.
func (h *Handler) Executions(w http.ResponseWriter, r *http.Request) {
	d := executionsPageData{
		Principal: principalFromContext(r.Context()),
		Pipeline:  r.URL.Query().Get("pipeline"),
		Status:    r.URL.Query().Get("status"),
		Page:      pageFromRequest(r, 50),
	}
	filter := domain.ExecutionFilter{Page: d.Page}
	if d.Pipeline != "" {
		filter.Pipeline = &d.Pipeline
	}
	if d.Status != "" {
		filter.Status = &d.Status
	}
	recs, total, err := h.executions.List(r.Context(), filter)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	d.Records, d.Total = recs, total
	renderHTML(w, http.StatusOK, executionsPage(d))
}

package ui

import (
	"fmt"
	"net/http"
	"strconv"

	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
)

type overviewPageData struct {
	Principal   middleware.Principal
	CanOperate  bool
	Active      []string
	Pipelines   int
	Enabled     int
	Stats       []domain.ExecutionStats
	CSRFField   Node
	Flash       string
}

func overviewPage(d overviewPageData) Node {
	var succeeded, failed int64
	for _, s := range d.Stats {
		succeeded += s.SuccessCount
		failed += s.FailureCount
	}

	activeRows := make([]Node, 0, len(d.Active))
	for _, id := range d.Active {
		actions := Node(nil)
		if d.CanOperate {
			actions = Form(Method("post"), Action("/ui/runs/"+id+"/cancel"), d.CSRFField,
				Button(Type("submit"), Class("btn btn-danger"), Text("Cancel")))
		}
		activeRows = append(activeRows, Tr(
			Td(A(Href("/ui/runs/"+id), Text(id))),
			Td(statusLabel(domain.ExecutionStatusRunning)),
			Td(actions),
		))
	}

	statRows := make([]Node, 0, len(d.Stats))
	for _, s := range d.Stats {
		statRows = append(statRows, Tr(
			Td(A(Href("/ui/executions?pipeline="+s.PipelineName), Text(s.PipelineName))),
			Td(Text(strconv.FormatInt(s.SuccessCount, 10))),
			Td(Text(strconv.FormatInt(s.FailureCount, 10))),
			Td(Text(strconv.FormatInt(s.SkippedCount, 10))),
			Td(Text(strconv.FormatInt(s.RunningCount, 10))),
			Td(Text(fmt.Sprintf("%.1fs", s.AvgDurationSeconds))),
		))
	}

	var trigger Node
	if d.CanOperate {
		trigger = Div(Class(cardClass()),
			Form(Method("post"), Action("/ui/runs"), d.CSRFField,
				Label(Text("Disabled dependencies ")),
				Select(Name("disabled_policy"),
					Option(Value(""), Text("default")),
					Option(Value(string(domain.DisabledSatisfied)), Text("satisfied")),
					Option(Value(string(domain.DisabledBlocked)), Text("blocked")),
				),
				Text(" "),
				Button(Type("submit"), Class("btn btn-primary"), Text("Trigger run")),
			),
		)
	}

	var flash Node
	if d.Flash != "" {
		flash = Div(Class(cardClass()), P(Text(d.Flash)))
	}

	return appPage("Overview", "home", d.Principal,
		flash,
		Div(Class("grid"),
			metricCard("Active runs", len(d.Active)),
			metricCard("Pipelines", d.Pipelines),
			metricCard("Enabled", d.Enabled),
			metricCard("Succeeded attempts", int(succeeded)),
			metricCard("Failed attempts", int(failed)),
		),
		trigger,
		Div(Class(cardClass()), H2(Text("Active runs")),
			If(len(activeRows) == 0, P(Class(mutedClass()), Text("No run in progress."))),
			If(len(activeRows) > 0, table([]string{"Batch", "Status", ""}, activeRows)),
		),
		Div(Class(cardClass()), H2(Text("Execution statistics")),
			If(len(statRows) == 0, P(Class(mutedClass()), Text("No executions recorded yet."))),
			If(len(statRows) > 0, table([]string{"Pipeline", "Success", "Failed", "Skipped", "Running", "Avg duration"}, statRows)),
		),
	)
}

func metricCard(title string, value int) Node {
	return Div(Class(cardClass()), P(Class(mutedClass()), Text(title)), Div(Class("metric"), Text(strconv.Itoa(value))))
}

// Home renders the overview with active runs and per-pipeline statistics.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Config.Snapshot(r.Context())
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	stats, err := h.executions.Stats(r.Context(), domain.ExecutionFilter{})
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	principal := principalFromContext(r.Context())
	d := overviewPageData{
		Principal:  principal,
		CanOperate: principal.HasRole(middleware.RoleOperator),
		Active:     h.Runs.Active(),
		Stats:      stats,
		CSRFField:  csrfField(r),
		Flash:      r.URL.Query().Get("flash"),
	}
	for _, p := range snap.Pipelines() {
		d.Pipelines++
		if p.Enabled {
			d.Enabled++
		}
	}
	renderHTML(w, http.StatusOK, overviewPage(d))
}

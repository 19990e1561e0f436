package ui

import (
	"net/http"
	"strconv"

	. "maragu.dev/gomponents"
	data "maragu.dev/gomponents-datastar"
	. "maragu.dev/gomponents/html"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
	"etl-orchestrator/internal/service/pipeline"
)

type pipelineRowData struct {
	Name      string
	Entity    string
	Phase     string
	Enabled   bool
	DependsOn string
	Units     string
	Target    string
	Retries   string
}

type pipelinesPageData struct {
	Principal middleware.Principal
	Rows      []pipelineRowData
	Plan      *domain.Resolution
	PlanError string
}

func pipelinesPage(d pipelinesPageData) Node {
	rows := make([]Node, 0, len(d.Rows))
	for _, row := range d.Rows {
		enabled := statusLabel("ENABLED")
		if !row.Enabled {
			enabled = statusLabel("DISABLED")
		}
		rows = append(rows, Tr(
			data.Show(containsExpr(row.Name+" "+row.Entity)),
			Td(A(Href("/ui/executions?pipeline="+row.Name), Text(row.Name))),
			Td(Text(row.Entity)),
			Td(Text(row.Phase)),
			Td(enabled),
			Td(Text(row.DependsOn)),
			Td(Text(row.Units)),
			Td(Text(row.Target)),
			Td(Text(row.Retries)),
		))
	}

	var plan Node
	switch {
	case d.PlanError != "":
		plan = Div(Class(cardClass()), H2(Text("Plan")), P(Class("error"), Text(d.PlanError)))
	case d.Plan != nil:
		batches := make([]Node, 0, len(d.Plan.Batches))
		for _, b := range d.Plan.Batches {
			group := "-"
			if b.Group != nil {
				group = strconv.Itoa(*b.Group)
			}
			batches = append(batches, Tr(Td(Text(strconv.Itoa(b.Phase))), Td(Text(group)), Td(Text(orDash(b.Pipelines)))))
		}
		notes := make([]Node, 0, len(d.Plan.Warnings)+len(d.Plan.Blocked))
		for _, w := range d.Plan.Warnings {
			notes = append(notes, Li(Text(w.Name+": declared order "+strconv.Itoa(w.Declared)+
				" raised to phase "+strconv.Itoa(w.Computed))))
		}
		for _, b := range d.Plan.Blocked {
			notes = append(notes, Li(Text(b.Name+": "+b.Reason)))
		}
		plan = Div(Class(cardClass()), H2(Text("Plan")),
			table([]string{"Phase", "Group", "Pipelines"}, batches),
			If(len(notes) > 0, Ul(Group(notes))),
		)
	}

	return appPage("Pipelines", "pipelines", d.Principal,
		Div(data.Signals(map[string]any{"q": ""}),
			quickFilter("Filter by pipeline or entity"),
			Div(Class(cardClass()),
				If(len(rows) == 0, P(Class(mutedClass()), Text("No pipelines configured."))),
				If(len(rows) > 0, table([]string{"Name", "Entity", "Phase", "State", "Depends on", "Units", "Target", "Retries"}, rows)),
			),
		),
		plan,
	)
}

// Pipelines lists the configured pipelines next to the current plan.
func (h *Handler) Pipelines(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Config.Snapshot(r.Context())
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	d := pipelinesPageData{Principal: principalFromContext(r.Context())}

	phases := make(map[string]int)
	plan, err := h.Runs.Plan(r.Context(), pipeline.RunRequest{TriggerType: domain.TriggerTypeManual})
	if err != nil {
		d.PlanError = err.Error()
	} else {
		d.Plan = plan
		for _, b := range plan.Batches {
			for _, name := range b.Pipelines {
				phases[name] = b.Phase
			}
		}
	}

	for _, p := range snap.Pipelines() {
		phase := "-"
		if ph, ok := phases[p.Name]; ok {
			phase = strconv.Itoa(ph)
		}
		units := p.TransformUnit
		if p.LoadUnit != "" {
			if units != "" {
				units += " -> "
			}
			units += p.LoadUnit
		}
		if units == "" {
			units = "-"
		}
		target := p.TargetTable
		if target == "" {
			target = "-"
		}
		d.Rows = append(d.Rows, pipelineRowData{
			Name:      p.Name,
			Entity:    p.EntityType,
			Phase:     phase,
			Enabled:   p.Enabled,
			DependsOn: orDash(p.DependsOn),
			Units:     units,
			Target:    target,
			Retries:   strconv.Itoa(p.RetryCount),
		})
	}
	renderHTML(w, http.StatusOK, pipelinesPage(d))
}

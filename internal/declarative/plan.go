package declarative

import "sort"

// Action represents a single planned change.
type Action struct {
	Operation    Operation
	ResourceKind ResourceKind
	ResourceName string // e.g. "load_customer" or "ALERTS/EmailList"
	FilePath     string // source YAML file path
	Desired      any
	Actual       any // nil for Create
	Changes      []FieldDiff
}

// FieldDiff describes a single field change within an Update action.
type FieldDiff struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Plan is an ordered list of actions. Apply never deletes, so definitions
// present in the store but absent from YAML are listed as Unmanaged.
type Plan struct {
	Actions   []Action
	Unmanaged []PlanNote
}

// PlanNote describes a resource the plan will leave untouched.
type PlanNote struct {
	ResourceKind ResourceKind `json:"resource_type"`
	ResourceName string       `json:"resource_name"`
	Message      string       `json:"message"`
}

// Summary returns counts of creates, updates and unmanaged resources.
func (p *Plan) Summary() PlanSummary {
	var s PlanSummary
	for _, a := range p.Actions {
		switch a.Operation {
		case OpCreate:
			s.Creates++
		case OpUpdate:
			s.Updates++
		}
	}
	s.Unmanaged = len(p.Unmanaged)
	return s
}

// HasChanges returns true if the plan has any actions.
func (p *Plan) HasChanges() bool {
	return len(p.Actions) > 0
}

// PlanSummary holds counts of planned operations.
type PlanSummary struct {
	Creates   int `json:"creates"`
	Updates   int `json:"updates"`
	Unmanaged int `json:"unmanaged"`
}

// SortActions orders actions by resource kind so referenced definitions come
// first, then alphabetically by name.
func (p *Plan) SortActions() {
	sort.SliceStable(p.Actions, func(i, j int) bool {
		ai, aj := p.Actions[i], p.Actions[j]
		if ai.ResourceKind != aj.ResourceKind {
			return ai.ResourceKind < aj.ResourceKind
		}
		return ai.ResourceName < aj.ResourceName
	})
	sort.SliceStable(p.Unmanaged, func(i, j int) bool {
		ui, uj := p.Unmanaged[i], p.Unmanaged[j]
		if ui.ResourceKind != uj.ResourceKind {
			return ui.ResourceKind < uj.ResourceKind
		}
		return ui.ResourceName < uj.ResourceName
	})
}

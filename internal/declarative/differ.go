package declarative

import (
	"fmt"
	"strings"

	"etl-orchestrator/internal/domain"
)

// Diff compares the desired state (from YAML) against the stored
// definitions and returns a Plan describing the upserts Apply would make.
func Diff(desired *DesiredState, actual domain.SnapshotData) *Plan {
	plan := &Plan{}

	diffKind(plan, KindPipeline, desired.Pipelines, actual.Pipelines,
		func(p domain.PipelineDefinition) string { return p.Name }, pipelineChanges)
	diffKind(plan, KindSCD2Definition, desired.SCD2, actual.SCD2,
		func(d domain.SCD2Definition) string { return d.TableName }, scd2Changes)
	diffKind(plan, KindDQRule, desired.Rules, actual.Rules,
		func(r domain.DQRule) string { return r.Key().String() }, ruleChanges)
	diffKind(plan, KindUnit, desired.Units, actual.Units,
		func(u domain.UnitDefinition) string { return u.Name }, unitChanges)
	diffKind(plan, KindPredicate, desired.Predicates, actual.Predicates,
		func(p domain.PredicateDefinition) string { return p.Name }, predicateChanges)
	diffKind(plan, KindConfigValue, desired.Values, actual.Values,
		func(v domain.ConfigValue) string { return v.Category + "/" + v.Key }, valueChanges)

	plan.SortActions()
	return plan
}

func diffKind[T any](plan *Plan, kind ResourceKind, desired []Sourced[T], actual []T,
	key func(T) string, changes func(a, d T) []FieldDiff) {
	actualMap := make(map[string]T, len(actual))
	for _, a := range actual {
		actualMap[key(a)] = a
	}

	seen := make(map[string]bool, len(desired))
	for _, d := range desired {
		name := key(d.Def)
		seen[name] = true
		a, exists := actualMap[name]
		if !exists {
			addCreate(plan, kind, name, d.Path, d.Def)
			continue
		}
		if c := changes(a, d.Def); len(c) > 0 {
			addUpdate(plan, kind, name, d.Path, d.Def, a, c)
		}
	}

	for _, a := range actual {
		if name := key(a); !seen[name] {
			plan.Unmanaged = append(plan.Unmanaged, PlanNote{
				ResourceKind: kind,
				ResourceName: name,
				Message:      "not declared in YAML; left unchanged",
			})
		}
	}
}

// === Helpers ===

func addCreate(plan *Plan, kind ResourceKind, name, filePath string, desired any) {
	plan.Actions = append(plan.Actions, Action{
		Operation:    OpCreate,
		ResourceKind: kind,
		ResourceName: name,
		FilePath:     filePath,
		Desired:      desired,
	})
}

func addUpdate(plan *Plan, kind ResourceKind, name, filePath string, desired, actual any, changes []FieldDiff) {
	plan.Actions = append(plan.Actions, Action{
		Operation:    OpUpdate,
		ResourceKind: kind,
		ResourceName: name,
		FilePath:     filePath,
		Desired:      desired,
		Actual:       actual,
		Changes:      changes,
	})
}

func diffField(changes *[]FieldDiff, field, oldVal, newVal string) {
	if oldVal != newVal {
		*changes = append(*changes, FieldDiff{Field: field, OldValue: oldVal, NewValue: newVal})
	}
}

func diffBoolField(changes *[]FieldDiff, field string, oldVal, newVal bool) {
	diffField(changes, field, fmt.Sprintf("%t", oldVal), fmt.Sprintf("%t", newVal))
}

func diffIntField(changes *[]FieldDiff, field string, oldVal, newVal int) {
	diffField(changes, field, fmt.Sprintf("%d", oldVal), fmt.Sprintf("%d", newVal))
}

func diffIntPtrField(changes *[]FieldDiff, field string, oldVal, newVal *int) {
	oldStr := ""
	newStr := ""
	if oldVal != nil {
		oldStr = fmt.Sprintf("%d", *oldVal)
	}
	if newVal != nil {
		newStr = fmt.Sprintf("%d", *newVal)
	}
	diffField(changes, field, oldStr, newStr)
}

func formatStringSlice(s []string) string {
	return strings.Join(s, ", ")
}

// === Per-kind field diffs ===

func pipelineChanges(a, d domain.PipelineDefinition) []FieldDiff {
	var changes []FieldDiff
	diffField(&changes, "entity_type", a.EntityType, d.EntityType)
	diffIntField(&changes, "execution_order", a.ExecutionOrder, d.ExecutionOrder)
	diffIntPtrField(&changes, "parallel_group", a.ParallelGroup, d.ParallelGroup)
	diffField(&changes, "depends_on", formatStringSlice(a.DependsOn), formatStringSlice(d.DependsOn))
	diffField(&changes, "source_type", string(a.SourceType), string(d.SourceType))
	diffField(&changes, "transform_unit", a.TransformUnit, d.TransformUnit)
	diffField(&changes, "load_unit", a.LoadUnit, d.LoadUnit)
	diffField(&changes, "target_table", a.TargetTable, d.TargetTable)
	diffField(&changes, "load_type", string(a.LoadType), string(d.LoadType))
	diffBoolField(&changes, "enabled", a.Enabled, d.Enabled)
	diffBoolField(&changes, "skip_on_error", a.SkipOnError, d.SkipOnError)
	diffIntField(&changes, "retry_count", a.RetryCount, d.RetryCount)
	diffIntField(&changes, "retry_delay_seconds", a.RetryDelaySeconds, d.RetryDelaySeconds)
	diffBoolField(&changes, "alert_on_failure", a.AlertOnFailure, d.AlertOnFailure)
	return changes
}

func scd2Changes(a, d domain.SCD2Definition) []FieldDiff {
	var changes []FieldDiff
	diffField(&changes, "staging_table", a.StagingTable, d.StagingTable)
	diffField(&changes, "business_key_columns", formatStringSlice(a.BusinessKeyColumns), formatStringSlice(d.BusinessKeyColumns))
	diffField(&changes, "hash_column", a.HashColumn, d.HashColumn)
	diffField(&changes, "surrogate_key_column", a.SurrogateKeyColumn, d.SurrogateKeyColumn)
	diffField(&changes, "exclude_from_insert", formatStringSlice(a.ExcludeFromInsert), formatStringSlice(d.ExcludeFromInsert))
	diffBoolField(&changes, "active", a.Active, d.Active)
	return changes
}

func ruleChanges(a, d domain.DQRule) []FieldDiff {
	var changes []FieldDiff
	diffField(&changes, "condition", a.Condition, d.Condition)
	diffIntField(&changes, "points_if_met", a.PointsIfMet, d.PointsIfMet)
	diffIntField(&changes, "points_if_not_met", a.PointsIfNotMet, d.PointsIfNotMet)
	diffField(&changes, "importance", string(a.Importance), string(d.Importance))
	diffBoolField(&changes, "enforce_in_etl", a.EnforceInETL, d.EnforceInETL)
	diffBoolField(&changes, "active", a.Active, d.Active)
	return changes
}

func unitChanges(a, d domain.UnitDefinition) []FieldDiff {
	var changes []FieldDiff
	diffField(&changes, "kind", a.Kind, d.Kind)
	diffField(&changes, "body", strings.TrimSpace(a.Body), strings.TrimSpace(d.Body))
	diffField(&changes, "description", a.Description, d.Description)
	return changes
}

func predicateChanges(a, d domain.PredicateDefinition) []FieldDiff {
	var changes []FieldDiff
	diffField(&changes, "expression", strings.TrimSpace(a.Expression), strings.TrimSpace(d.Expression))
	return changes
}

func valueChanges(a, d domain.ConfigValue) []FieldDiff {
	var changes []FieldDiff
	diffField(&changes, "value", a.Value, d.Value)
	diffField(&changes, "value_type", a.ValueType, d.ValueType)
	return changes
}

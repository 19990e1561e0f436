package declarative

import (
	"etl-orchestrator/internal/domain"
)

// Document is the generic envelope parsed first to determine Kind.
type Document struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
}

// PipelineListDoc declares pipeline stages.
type PipelineListDoc struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Pipelines  []PipelineSpec `yaml:"pipelines"`
}

// PipelineSpec is the YAML form of a pipeline definition. Enabled defaults
// to true.
type PipelineSpec struct {
	Name              string   `yaml:"name"`
	EntityType        string   `yaml:"entity_type"`
	ExecutionOrder    int      `yaml:"execution_order,omitempty"`
	ParallelGroup     *int     `yaml:"parallel_group,omitempty"`
	DependsOn         []string `yaml:"depends_on,omitempty"`
	SourceType        string   `yaml:"source_type"`
	TransformUnit     string   `yaml:"transform_unit,omitempty"`
	LoadUnit          string   `yaml:"load_unit,omitempty"`
	TargetTable       string   `yaml:"target_table,omitempty"`
	LoadType          string   `yaml:"load_type"`
	Enabled           *bool    `yaml:"enabled,omitempty"`
	SkipOnError       bool     `yaml:"skip_on_error,omitempty"`
	RetryCount        int      `yaml:"retry_count,omitempty"`
	RetryDelaySeconds int      `yaml:"retry_delay_seconds,omitempty"`
	AlertOnFailure    bool     `yaml:"alert_on_failure,omitempty"`
}

// SCD2DefinitionListDoc declares Type-2 dimension targets.
type SCD2DefinitionListDoc struct {
	APIVersion  string     `yaml:"apiVersion"`
	Kind        string     `yaml:"kind"`
	Definitions []SCD2Spec `yaml:"definitions"`
}

// SCD2Spec is the YAML form of an SCD2 definition. Active defaults to true.
type SCD2Spec struct {
	TableName          string   `yaml:"table_name"`
	StagingTable       string   `yaml:"staging_table"`
	BusinessKeyColumns []string `yaml:"business_key_columns"`
	HashColumn         string   `yaml:"hash_column"`
	SurrogateKeyColumn string   `yaml:"surrogate_key_column"`
	ExcludeFromInsert  []string `yaml:"exclude_from_insert,omitempty"`
	Active             *bool    `yaml:"active,omitempty"`
}

// DQRuleListDoc declares data quality rules of one or more entity types.
type DQRuleListDoc struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	EntityType string       `yaml:"entity_type,omitempty"` // default for rules that omit it
	Rules      []DQRuleSpec `yaml:"rules"`
}

// DQRuleSpec is the YAML form of a DQ rule. Active defaults to true and
// Importance to MEDIUM.
type DQRuleSpec struct {
	EntityType     string `yaml:"entity_type,omitempty"`
	FieldName      string `yaml:"field_name"`
	RuleType       string `yaml:"rule_type"`
	Condition      string `yaml:"condition,omitempty"`
	PointsIfMet    int    `yaml:"points_if_met"`
	PointsIfNotMet int    `yaml:"points_if_not_met,omitempty"`
	Importance     string `yaml:"importance,omitempty"`
	EnforceInETL   bool   `yaml:"enforce_in_etl,omitempty"`
	Active         *bool  `yaml:"active,omitempty"`
}

// UnitListDoc declares units whose body lives in configuration.
type UnitListDoc struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Units      []UnitSpec `yaml:"units"`
}

// UnitSpec is the YAML form of a unit. BodyFile is resolved relative to the
// declaring file and replaces Body.
type UnitSpec struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind,omitempty"` // default SQL
	Body        string `yaml:"body,omitempty"`
	BodyFile    string `yaml:"body_file,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// PredicateListDoc declares Starlark predicates for CUSTOM_FUNCTION rules.
type PredicateListDoc struct {
	APIVersion string                       `yaml:"apiVersion"`
	Kind       string                       `yaml:"kind"`
	Predicates []domain.PredicateDefinition `yaml:"predicates"`
}

// ConfigValueListDoc declares scalar configuration values of one category.
type ConfigValueListDoc struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Category   string            `yaml:"category"`
	Values     []ConfigValueSpec `yaml:"values"`
}

// ConfigValueSpec is one value of a ConfigValueList. Type defaults to STRING.
type ConfigValueSpec struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
	Type  string `yaml:"type,omitempty"`
}

// Sourced tags a definition with the file it was declared in.
type Sourced[T any] struct {
	Path string
	Def  T
}

// DesiredState is everything declared under a configuration directory.
type DesiredState struct {
	Pipelines  []Sourced[domain.PipelineDefinition]
	SCD2       []Sourced[domain.SCD2Definition]
	Rules      []Sourced[domain.DQRule]
	Units      []Sourced[domain.UnitDefinition]
	Predicates []Sourced[domain.PredicateDefinition]
	Values     []Sourced[domain.ConfigValue]
}

// SnapshotData strips source paths for the configuration store.
func (s *DesiredState) SnapshotData() domain.SnapshotData {
	return domain.SnapshotData{
		Pipelines:  defs(s.Pipelines),
		SCD2:       defs(s.SCD2),
		Rules:      defs(s.Rules),
		Units:      defs(s.Units),
		Predicates: defs(s.Predicates),
		Values:     defs(s.Values),
	}
}

func defs[T any](in []Sourced[T]) []T {
	out := make([]T, 0, len(in))
	for _, s := range in {
		out = append(out, s.Def)
	}
	return out
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (p PipelineSpec) toDomain() domain.PipelineDefinition {
	return domain.PipelineDefinition{
		Name:              p.Name,
		EntityType:        p.EntityType,
		ExecutionOrder:    p.ExecutionOrder,
		ParallelGroup:     p.ParallelGroup,
		DependsOn:         p.DependsOn,
		SourceType:        domain.SourceType(p.SourceType),
		TransformUnit:     p.TransformUnit,
		LoadUnit:          p.LoadUnit,
		TargetTable:       p.TargetTable,
		LoadType:          domain.LoadType(p.LoadType),
		Enabled:           boolOr(p.Enabled, true),
		SkipOnError:       p.SkipOnError,
		RetryCount:        p.RetryCount,
		RetryDelaySeconds: p.RetryDelaySeconds,
		AlertOnFailure:    p.AlertOnFailure,
	}
}

func (d SCD2Spec) toDomain() domain.SCD2Definition {
	return domain.SCD2Definition{
		TableName:          d.TableName,
		StagingTable:       d.StagingTable,
		BusinessKeyColumns: d.BusinessKeyColumns,
		HashColumn:         d.HashColumn,
		SurrogateKeyColumn: d.SurrogateKeyColumn,
		ExcludeFromInsert:  d.ExcludeFromInsert,
		Active:             boolOr(d.Active, true),
	}
}

func (r DQRuleSpec) toDomain(entityType string) domain.DQRule {
	if r.EntityType != "" {
		entityType = r.EntityType
	}
	importance := domain.Importance(r.Importance)
	if importance == "" {
		importance = domain.ImportanceMedium
	}
	return domain.DQRule{
		EntityType:     entityType,
		FieldName:      r.FieldName,
		RuleType:       domain.RuleType(r.RuleType),
		Condition:      r.Condition,
		PointsIfMet:    r.PointsIfMet,
		PointsIfNotMet: r.PointsIfNotMet,
		Importance:     importance,
		EnforceInETL:   r.EnforceInETL,
		Active:         boolOr(r.Active, true),
	}
}

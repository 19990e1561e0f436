package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config value types.
const (
	ValueTypeString  = "STRING"
	ValueTypeNumber  = "NUMBER"
	ValueTypeBoolean = "BOOLEAN"
)

// Well-known configuration categories.
const (
	CategoryAlerts       = "ALERTS"
	CategoryFeatureFlags = "FEATURE_FLAGS"
	CategorySchedule     = "SCHEDULE"
)

// ConfigValue is a scalar configuration entry addressed by (Category, Key).
type ConfigValue struct {
	Category  string    `json:"category" yaml:"category" validate:"required"`
	Key       string    `json:"key" yaml:"key" validate:"required"`
	Value     string    `json:"value" yaml:"value"`
	ValueType string    `json:"value_type" yaml:"value_type" validate:"required,oneof=STRING NUMBER BOOLEAN"`
	UpdatedBy string    `json:"updated_by,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// CheckValue verifies that Value parses as ValueType.
func (v ConfigValue) CheckValue() error {
	switch v.ValueType {
	case ValueTypeNumber:
		if _, err := strconv.ParseFloat(v.Value, 64); err != nil {
			return ErrValidation("%s/%s: %q is not a number", v.Category, v.Key, v.Value)
		}
	case ValueTypeBoolean:
		if _, err := strconv.ParseBool(v.Value); err != nil {
			return ErrValidation("%s/%s: %q is not a boolean", v.Category, v.Key, v.Value)
		}
	case ValueTypeString:
	default:
		return ErrValidation("%s/%s: unknown value type %q", v.Category, v.Key, v.ValueType)
	}
	return nil
}

// ConfigAuditEntry records one change of a configuration value.
type ConfigAuditEntry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Key       string    `json:"key"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changed_at"`
}

// ConfigChange is a single audited update request.
type ConfigChange struct {
	Category  string
	Key       string
	Value     string
	ValueType string
	Actor     string
	Reason    string
}

// Unit kinds for declaratively defined units.
const (
	UnitKindSQL = "SQL"
)

// UnitDefinition is a named unit whose body is stored in configuration.
type UnitDefinition struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Kind        string `json:"kind" yaml:"kind" validate:"required,oneof=SQL"`
	Body        string `json:"body" yaml:"body" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// PredicateDefinition is a named Starlark expression used by CUSTOM_FUNCTION
// rules. The expression sees `value` and `record` and must yield a bool.
type PredicateDefinition struct {
	Name       string `json:"name" yaml:"name" validate:"required"`
	Expression string `json:"expression" yaml:"expression" validate:"required"`
}

// ConfigSnapshot is an immutable view of the configuration store taken at the
// start of a run. It is never re-read mid-run.
type ConfigSnapshot struct {
	TakenAt    time.Time
	pipelines  []PipelineDefinition
	byName     map[string]PipelineDefinition
	scd2       map[string]SCD2Definition
	rules      []DQRule
	values     map[string]ConfigValue
	units      []UnitDefinition
	predicates []PredicateDefinition
}

// SnapshotData carries the raw rows a snapshot is built from.
type SnapshotData struct {
	Pipelines  []PipelineDefinition
	SCD2       []SCD2Definition
	Rules      []DQRule
	Values     []ConfigValue
	Units      []UnitDefinition
	Predicates []PredicateDefinition
}

// NewConfigSnapshot copies data into an immutable snapshot. Only active SCD2
// definitions and active DQ rules are retained.
func NewConfigSnapshot(data SnapshotData, takenAt time.Time) *ConfigSnapshot {
	s := &ConfigSnapshot{
		TakenAt: takenAt,
		byName:  make(map[string]PipelineDefinition, len(data.Pipelines)),
		scd2:    make(map[string]SCD2Definition, len(data.SCD2)),
		values:  make(map[string]ConfigValue, len(data.Values)),
	}
	for _, p := range data.Pipelines {
		p.DependsOn = append([]string(nil), p.DependsOn...)
		s.pipelines = append(s.pipelines, p)
		s.byName[p.Name] = p
	}
	sort.Slice(s.pipelines, func(i, j int) bool { return s.pipelines[i].Name < s.pipelines[j].Name })
	for _, d := range data.SCD2 {
		if !d.Active {
			continue
		}
		d.BusinessKeyColumns = append([]string(nil), d.BusinessKeyColumns...)
		d.ExcludeFromInsert = append([]string(nil), d.ExcludeFromInsert...)
		s.scd2[d.TableName] = d
	}
	for _, r := range data.Rules {
		if r.Active {
			s.rules = append(s.rules, r)
		}
	}
	for _, v := range data.Values {
		s.values[valueKey(v.Category, v.Key)] = v
	}
	s.units = append(s.units, data.Units...)
	s.predicates = append(s.predicates, data.Predicates...)
	return s
}

func valueKey(category, key string) string { return category + "/" + key }

// Pipelines returns a copy of all pipeline definitions sorted by name.
func (s *ConfigSnapshot) Pipelines() []PipelineDefinition {
	out := make([]PipelineDefinition, len(s.pipelines))
	copy(out, s.pipelines)
	return out
}

// Pipeline returns the named pipeline definition.
func (s *ConfigSnapshot) Pipeline(name string) (PipelineDefinition, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// SCD2ForTable returns the active SCD2 definition of a target table.
func (s *ConfigSnapshot) SCD2ForTable(table string) (SCD2Definition, bool) {
	d, ok := s.scd2[table]
	return d, ok
}

// Rules returns the active DQ rules.
func (s *ConfigSnapshot) Rules() []DQRule {
	out := make([]DQRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// RulesFor returns the active DQ rules of an entity type.
func (s *ConfigSnapshot) RulesFor(entityType string) []DQRule {
	var out []DQRule
	for _, r := range s.rules {
		if r.EntityType == entityType {
			out = append(out, r)
		}
	}
	return out
}

// Units returns the declaratively defined units.
func (s *ConfigSnapshot) Units() []UnitDefinition {
	return append([]UnitDefinition(nil), s.units...)
}

// Predicates returns the declaratively defined predicates.
func (s *ConfigSnapshot) Predicates() []PredicateDefinition {
	return append([]PredicateDefinition(nil), s.predicates...)
}

// String returns a configuration value as a string.
func (s *ConfigSnapshot) String(category, key string) (string, bool) {
	v, ok := s.values[valueKey(category, key)]
	return v.Value, ok
}

// Number returns a configuration value as a float64.
func (s *ConfigSnapshot) Number(category, key string) (float64, bool, error) {
	v, ok := s.values[valueKey(category, key)]
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
	if err != nil {
		return 0, true, ErrValidation("%s/%s is not a number: %q", category, key, v.Value)
	}
	return f, true, nil
}

// Bool returns a configuration value as a bool.
func (s *ConfigSnapshot) Bool(category, key string) (bool, bool, error) {
	v, ok := s.values[valueKey(category, key)]
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v.Value))
	if err != nil {
		return false, true, ErrValidation("%s/%s is not a boolean: %q", category, key, v.Value)
	}
	return b, true, nil
}

// ValuesIn returns all values of a category sorted by key.
func (s *ConfigSnapshot) ValuesIn(category string) []ConfigValue {
	var out []ConfigValue
	for _, v := range s.values {
		if v.Category == category {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

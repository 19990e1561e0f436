package declarative

// ResourceKind identifies a type of managed definition.
type ResourceKind int

// Resource kinds, ordered so that referenced definitions are applied first.
const (
	KindConfigValue ResourceKind = iota
	KindPredicate
	KindUnit
	KindSCD2Definition
	KindDQRule
	KindPipeline
)

// String returns a human-readable kebab-case name for the resource kind.
func (k ResourceKind) String() string {
	switch k {
	case KindConfigValue:
		return "config-value"
	case KindPredicate:
		return "predicate"
	case KindUnit:
		return "unit"
	case KindSCD2Definition:
		return "scd2-definition"
	case KindDQRule:
		return "dq-rule"
	case KindPipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// Operation represents a planned change type.
type Operation int

const (
	// OpCreate indicates a definition should be created.
	OpCreate Operation = iota
	// OpUpdate indicates a definition should be updated.
	OpUpdate
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Known Kind strings used in YAML documents.
const (
	KindNamePipelineList       = "PipelineList"
	KindNameSCD2DefinitionList = "SCD2DefinitionList"
	KindNameDQRuleList         = "DQRuleList"
	KindNameUnitList           = "UnitList"
	KindNamePredicateList      = "PredicateList"
	KindNameConfigValueList    = "ConfigValueList"
)

// SupportedAPIVersion is the current API version for YAML documents.
const SupportedAPIVersion = "etl/v1"

// Directories read by LoadDirectory and the document kind each one holds.
var sectionKinds = []struct {
	Dir  string
	Kind string
}{
	{"config", KindNameConfigValueList},
	{"predicates", KindNamePredicateList},
	{"units", KindNameUnitList},
	{"dimensions", KindNameSCD2DefinitionList},
	{"quality", KindNameDQRuleList},
	{"pipelines", KindNamePipelineList},
}

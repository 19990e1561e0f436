package domain

import "time"

// RuleType selects how a DQ rule's condition is evaluated.
type RuleType string

// DQ rule types.
const (
	RuleNotNull        RuleType = "NOT_NULL"
	RuleRange          RuleType = "RANGE"
	RuleRegex          RuleType = "REGEX"
	RuleCustomFunction RuleType = "CUSTOM_FUNCTION"
	RuleReferenceCheck RuleType = "REFERENCE_CHECK"
)

// Importance ranks a DQ rule for reporting.
type Importance string

// Importance levels.
const (
	ImportanceCritical Importance = "CRITICAL"
	ImportanceHigh     Importance = "HIGH"
	ImportanceMedium   Importance = "MEDIUM"
	ImportanceLow      Importance = "LOW"
)

// DQRule is one declarative field-level quality rule. The tuple
// (EntityType, FieldName, RuleType) is unique.
type DQRule struct {
	EntityType     string     `json:"entity_type" yaml:"entity_type" validate:"required"`
	FieldName      string     `json:"field_name" yaml:"field_name" validate:"required"`
	RuleType       RuleType   `json:"rule_type" yaml:"rule_type" validate:"required,oneof=NOT_NULL RANGE REGEX CUSTOM_FUNCTION REFERENCE_CHECK"`
	Condition      string     `json:"condition,omitempty" yaml:"condition,omitempty"`
	PointsIfMet    int        `json:"points_if_met" yaml:"points_if_met" validate:"gte=0"`
	PointsIfNotMet int        `json:"points_if_not_met" yaml:"points_if_not_met" validate:"gte=0"`
	Importance     Importance `json:"importance" yaml:"importance" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	EnforceInETL   bool       `json:"enforce_in_etl" yaml:"enforce_in_etl"`
	Active         bool       `json:"active" yaml:"active"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"-"`
}

// RuleKey is the (EntityType, FieldName, RuleType) tuple a rule is unique on.
type RuleKey struct {
	EntityType string
	FieldName  string
	RuleType   RuleType
}

func (k RuleKey) String() string {
	return k.EntityType + "." + k.FieldName + "." + string(k.RuleType)
}

// Key returns the uniqueness key of the rule.
func (r DQRule) Key() RuleKey {
	return RuleKey{EntityType: r.EntityType, FieldName: r.FieldName, RuleType: r.RuleType}
}

// RuleOutcome is one line of a score breakdown.
type RuleOutcome struct {
	FieldName     string   `json:"field_name"`
	RuleType      RuleType `json:"rule_type"`
	Met           bool     `json:"met"`
	PointsAwarded int      `json:"points_awarded"`
	Error         string   `json:"error,omitempty"`
}

// ScoreResult is the DQ score of a single record.
type ScoreResult struct {
	EntityType string        `json:"entity_type"`
	Earned     int           `json:"earned"`
	Max        int           `json:"max"`
	Breakdown  []RuleOutcome `json:"breakdown"`
	Rejected   bool          `json:"rejected"`
	RejectedBy []string      `json:"rejected_by,omitempty"`
}

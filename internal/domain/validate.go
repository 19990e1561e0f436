package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidate = validator.New()

// ValidateStruct checks v against its `validate` tags and returns a
// ValidationError listing every failed field.
func ValidateStruct(v any) error {
	err := structValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ErrValidation("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return ErrValidation("%s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s element(s)", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// Validate checks the structural constraints of a pipeline definition.
func (p PipelineDefinition) Validate() error {
	if err := ValidateStruct(p); err != nil {
		return err
	}
	for _, d := range p.DependsOn {
		if d == p.Name {
			return ErrValidation("pipeline %s depends on itself", p.Name)
		}
	}
	return nil
}

// Validate checks an SCD2 definition for structural errors.
func (d SCD2Definition) Validate() error {
	if err := ValidateStruct(d); err != nil {
		return err
	}
	for _, k := range d.BusinessKeyColumns {
		if d.IsExcluded(k) {
			return ErrValidation("%s: business key column %s cannot be excluded", d.TableName, k)
		}
	}
	if d.HashColumn == d.SurrogateKeyColumn {
		return ErrValidation("%s: hash column and surrogate key column must differ", d.TableName)
	}
	return nil
}

// Validate checks a DQ rule for structural errors. Condition syntax is
// checked when the rule is compiled by the scorer.
func (r DQRule) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if r.PointsIfNotMet > r.PointsIfMet {
		return ErrValidation("%s: points_if_not_met (%d) exceeds points_if_met (%d)",
			r.Key(), r.PointsIfNotMet, r.PointsIfMet)
	}
	switch r.RuleType {
	case RuleRange, RuleRegex, RuleCustomFunction, RuleReferenceCheck:
		if strings.TrimSpace(r.Condition) == "" {
			return ErrValidation("%s: condition is required", r.Key())
		}
	}
	return nil
}

// Validate checks a config value and its type.
func (v ConfigValue) Validate() error {
	if err := ValidateStruct(v); err != nil {
		return err
	}
	return v.CheckValue()
}

package declarative

import "reflect"

// SchemaDocumentType describes one YAML document kind for the generated
// JSON Schema artifacts.
type SchemaDocumentType struct {
	Kind     string
	FileName string
	Type     reflect.Type
}

// SchemaDocumentTypes returns every document envelope LoadDirectory accepts.
func SchemaDocumentTypes() []SchemaDocumentType {
	return []SchemaDocumentType{
		{Kind: KindNamePipelineList, FileName: "pipeline-list", Type: reflect.TypeOf(PipelineListDoc{})},
		{Kind: KindNameSCD2DefinitionList, FileName: "scd2-definition-list", Type: reflect.TypeOf(SCD2DefinitionListDoc{})},
		{Kind: KindNameDQRuleList, FileName: "dq-rule-list", Type: reflect.TypeOf(DQRuleListDoc{})},
		{Kind: KindNameUnitList, FileName: "unit-list", Type: reflect.TypeOf(UnitListDoc{})},
		{Kind: KindNamePredicateList, FileName: "predicate-list", Type: reflect.TypeOf(PredicateListDoc{})},
		{Kind: KindNameConfigValueList, FileName: "config-value-list", Type: reflect.TypeOf(ConfigValueListDoc{})},
	}
}

package declarative

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"etl-orchestrator/internal/domain"
)

// ExportDirectory writes stored definitions as YAML documents that
// LoadDirectory reads back into the same state. Existing files are only
// replaced when overwrite is set.
func ExportDirectory(dir string, data domain.SnapshotData, overwrite bool) error {
	files := make(map[string]any)

	if len(data.Pipelines) > 0 {
		doc := PipelineListDoc{APIVersion: SupportedAPIVersion, Kind: KindNamePipelineList}
		for _, p := range sortedBy(data.Pipelines, func(p domain.PipelineDefinition) string { return p.Name }) {
			doc.Pipelines = append(doc.Pipelines, pipelineSpec(p))
		}
		files[filepath.Join("pipelines", "pipelines.yaml")] = doc
	}
	if len(data.SCD2) > 0 {
		doc := SCD2DefinitionListDoc{APIVersion: SupportedAPIVersion, Kind: KindNameSCD2DefinitionList}
		for _, d := range sortedBy(data.SCD2, func(d domain.SCD2Definition) string { return d.TableName }) {
			doc.Definitions = append(doc.Definitions, scd2Spec(d))
		}
		files[filepath.Join("dimensions", "scd2.yaml")] = doc
	}

	rulesByEntity := make(map[string][]domain.DQRule)
	for _, r := range data.Rules {
		rulesByEntity[r.EntityType] = append(rulesByEntity[r.EntityType], r)
	}
	for entity, rules := range rulesByEntity {
		doc := DQRuleListDoc{APIVersion: SupportedAPIVersion, Kind: KindNameDQRuleList, EntityType: entity}
		for _, r := range sortedBy(rules, func(r domain.DQRule) string { return r.Key().String() }) {
			doc.Rules = append(doc.Rules, ruleSpec(r))
		}
		files[filepath.Join("quality", fileName(entity))] = doc
	}

	if len(data.Units) > 0 {
		doc := UnitListDoc{APIVersion: SupportedAPIVersion, Kind: KindNameUnitList}
		for _, u := range sortedBy(data.Units, func(u domain.UnitDefinition) string { return u.Name }) {
			doc.Units = append(doc.Units, UnitSpec{Name: u.Name, Kind: u.Kind, Body: u.Body, Description: u.Description})
		}
		files[filepath.Join("units", "units.yaml")] = doc
	}
	if len(data.Predicates) > 0 {
		doc := PredicateListDoc{
			APIVersion: SupportedAPIVersion,
			Kind:       KindNamePredicateList,
			Predicates: sortedBy(data.Predicates, func(p domain.PredicateDefinition) string { return p.Name }),
		}
		files[filepath.Join("predicates", "predicates.yaml")] = doc
	}

	valuesByCategory := make(map[string][]domain.ConfigValue)
	for _, v := range data.Values {
		valuesByCategory[v.Category] = append(valuesByCategory[v.Category], v)
	}
	for category, values := range valuesByCategory {
		doc := ConfigValueListDoc{APIVersion: SupportedAPIVersion, Kind: KindNameConfigValueList, Category: category}
		for _, v := range sortedBy(values, func(v domain.ConfigValue) string { return v.Key }) {
			doc.Values = append(doc.Values, ConfigValueSpec{Key: v.Key, Value: v.Value, Type: v.ValueType})
		}
		files[filepath.Join("config", fileName(category))] = doc
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, rel := range paths {
		if err := writeYAMLFile(filepath.Join(dir, rel), files[rel], overwrite); err != nil {
			return err
		}
	}
	return nil
}

func writeYAMLFile(path string, doc any, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func fileName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		name = "default"
	}
	return name + ".yaml"
}

func sortedBy[T any](in []T, key func(T) string) []T {
	out := append([]T(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

func boolPtr(b bool) *bool { return &b }

func pipelineSpec(p domain.PipelineDefinition) PipelineSpec {
	return PipelineSpec{
		Name:              p.Name,
		EntityType:        p.EntityType,
		ExecutionOrder:    p.ExecutionOrder,
		ParallelGroup:     p.ParallelGroup,
		DependsOn:         p.DependsOn,
		SourceType:        string(p.SourceType),
		TransformUnit:     p.TransformUnit,
		LoadUnit:          p.LoadUnit,
		TargetTable:       p.TargetTable,
		LoadType:          string(p.LoadType),
		Enabled:           boolPtr(p.Enabled),
		SkipOnError:       p.SkipOnError,
		RetryCount:        p.RetryCount,
		RetryDelaySeconds: p.RetryDelaySeconds,
		AlertOnFailure:    p.AlertOnFailure,
	}
}

func scd2Spec(d domain.SCD2Definition) SCD2Spec {
	return SCD2Spec{
		TableName:          d.TableName,
		StagingTable:       d.StagingTable,
		BusinessKeyColumns: d.BusinessKeyColumns,
		HashColumn:         d.HashColumn,
		SurrogateKeyColumn: d.SurrogateKeyColumn,
		ExcludeFromInsert:  d.ExcludeFromInsert,
		Active:             boolPtr(d.Active),
	}
}

func ruleSpec(r domain.DQRule) DQRuleSpec {
	return DQRuleSpec{
		FieldName:      r.FieldName,
		RuleType:       string(r.RuleType),
		Condition:      r.Condition,
		PointsIfMet:    r.PointsIfMet,
		PointsIfNotMet: r.PointsIfNotMet,
		Importance:     string(r.Importance),
		EnforceInETL:   r.EnforceInETL,
		Active:         boolPtr(r.Active),
	}
}

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

// LoadOptions configures YAML loading behavior.
type LoadOptions struct {
	AllowUnknownFields bool
}

// LoadDirectory reads every YAML file below the known section directories
// of dir and returns the desired state. Missing sections are allowed.
func LoadDirectory(dir string) (*DesiredState, error) {
	return LoadDirectoryWithOptions(dir, LoadOptions{})
}

// LoadDirectoryWithOptions reads a configuration directory using
// caller-provided loading options.
func LoadDirectoryWithOptions(dir string, opts LoadOptions) (*DesiredState, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("config directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config directory: %s is not a directory", dir)
	}

	state := &DesiredState{}
	for _, section := range sectionKinds {
		files, err := yamlFiles(filepath.Join(dir, section.Dir))
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			if err := loadSection(path, section.Kind, state, opts); err != nil {
				return nil, err
			}
		}
	}
	return state, nil
}

// yamlFiles lists the .yaml and .yml files of dir in lexical order.
func yamlFiles(dir string) ([]string, error) {
	if !dirExists(dir) {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func loadSection(path, kind string, state *DesiredState, opts LoadOptions) error {
	switch kind {
	case KindNamePipelineList:
		var doc PipelineListDoc
		if err := loadDocument(path, &doc, &doc.APIVersion, &doc.Kind, kind, opts); err != nil {
			return err
		}
		for _, p := range doc.Pipelines {
			state.Pipelines = append(state.Pipelines, Sourced[domain.PipelineDefinition]{Path: path, Def: p.toDomain()})
		}
	case KindNameSCD2DefinitionList:
		var doc SCD2DefinitionListDoc
		if err := loadDocument(path, &doc, &doc.APIVersion, &doc.Kind, kind, opts); err != nil {
			return err
		}
		for _, d := range doc.Definitions {
			state.SCD2 = append(state.SCD2, Sourced[domain.SCD2Definition]{Path: path, Def: d.toDomain()})
		}
	case KindNameDQRuleList:
		var doc DQRuleListDoc
		if err := loadDocument(path, &doc, &doc.APIVersion, &doc.Kind, kind, opts); err != nil {
			return err
		}
		for _, r := range doc.Rules {
			state.Rules = append(state.Rules, Sourced[domain.DQRule]{Path: path, Def: r.toDomain(doc.EntityType)})
		}
	case KindNameUnitList:
		var doc UnitListDoc
		if err := loadDocument(path, &doc, &doc.APIVersion, &doc.Kind, kind, opts); err != nil {
			return err
		}
		for _, u := range doc.Units {
			def, err := resolveUnit(path, u)
			if err != nil {
				return err
			}
			state.Units = append(state.Units, Sourced[domain.UnitDefinition]{Path: path, Def: def})
		}
	case KindNamePredicateList:
		var doc PredicateListDoc
		if err := loadDocument(path, &doc, &doc.APIVersion, &doc.Kind, kind, opts); err != nil {
			return err
		}
		for _, p := range doc.Predicates {
			state.Predicates = append(state.Predicates, Sourced[domain.PredicateDefinition]{Path: path, Def: p})
		}
	case KindNameConfigValueList:
		var doc ConfigValueListDoc
		if err := loadDocument(path, &doc, &doc.APIVersion, &doc.Kind, kind, opts); err != nil {
			return err
		}
		if strings.TrimSpace(doc.Category) == "" {
			return fmt.Errorf("%s: category is required", path)
		}
		for _, v := range doc.Values {
			vt := v.Type
			if vt == "" {
				vt = domain.ValueTypeString
			}
			state.Values = append(state.Values, Sourced[domain.ConfigValue]{Path: path, Def: domain.ConfigValue{
				Category:  doc.Category,
				Key:       v.Key,
				Value:     v.Value,
				ValueType: strings.ToUpper(vt),
			}})
		}
	default:
		return fmt.Errorf("%s: unsupported kind %q", path, kind)
	}
	return nil
}

func loadDocument(path string, target any, apiVersion, kind *string, expectedKind string, opts LoadOptions) error {
	if _, err := loadYAMLFile(path, target, opts); err != nil {
		return err
	}
	return validateDocument(path, *apiVersion, *kind, expectedKind)
}

// resolveUnit reads body_file relative to the declaring file.
func resolveUnit(path string, u UnitSpec) (domain.UnitDefinition, error) {
	def := domain.UnitDefinition{
		Name:        u.Name,
		Kind:        strings.ToUpper(u.Kind),
		Body:        u.Body,
		Description: u.Description,
	}
	if def.Kind == "" {
		def.Kind = domain.UnitKindSQL
	}
	if u.BodyFile == "" {
		return def, nil
	}
	if u.Body != "" {
		return def, fmt.Errorf("%s: unit %s sets both body and body_file", path, u.Name)
	}
	bodyPath := u.BodyFile
	if !filepath.IsAbs(bodyPath) {
		bodyPath = filepath.Join(filepath.Dir(path), bodyPath)
	}
	data, err := os.ReadFile(bodyPath) //nolint:gosec // intentional: reading user-specified config files
	if err != nil {
		return def, fmt.Errorf("%s: unit %s: read body_file: %w", path, u.Name, err)
	}
	def.Body = string(data)
	return def, nil
}

// loadYAMLFile reads and unmarshals a YAML file into the given target.
// Returns (false, nil) if file doesn't exist (optional files).
// Returns (false, err) on read/parse errors.
// Returns (true, nil) on success.
func loadYAMLFile(path string, target interface{}, opts LoadOptions) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // intentional: reading user-specified config files
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if opts.AllowUnknownFields {
		if err := yaml.Unmarshal(data, target); err != nil {
			return false, fmt.Errorf("parse %s: %w", path, err)
		}
		return true, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(target); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// validateDocument checks the apiVersion and kind fields.
func validateDocument(path string, apiVersion, kind, expectedKind string) error {
	if apiVersion != SupportedAPIVersion {
		return fmt.Errorf("%s: unsupported apiVersion %q (expected %q)", path, apiVersion, SupportedAPIVersion)
	}
	if kind != expectedKind {
		return fmt.Errorf("%s: unexpected kind %q (expected %q)", path, kind, expectedKind)
	}
	return nil
}

// dirExists returns true if path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Command declarative-schema-gen writes JSON Schema files for the definition
// YAML documents so editors can validate them.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"etl-orchestrator/internal/declarative"
	"etl-orchestrator/internal/domain"
)

const draft = "https://json-schema.org/draft/2020-12/schema"

type schema = map[string]any

// generator collects one $defs entry per named struct it visits.
type generator struct {
	defs map[string]schema
}

func newGenerator() *generator {
	return &generator{defs: make(map[string]schema)}
}

// ref returns the schema of t. Named structs are emitted once under $defs and
// referenced. Definition documents only use strings, bools, ints, slices and
// structs.
func (g *generator) ref(t reflect.Type) schema {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return schema{"type": "string"}
	case reflect.Bool:
		return schema{"type": "boolean"}
	case reflect.Int, reflect.Int32, reflect.Int64:
		return schema{"type": "integer"}
	case reflect.Slice:
		return schema{"type": "array", "items": g.ref(t.Elem())}
	case reflect.Struct:
		if _, seen := g.defs[t.Name()]; !seen {
			g.defs[t.Name()] = nil
			g.defs[t.Name()] = g.object(t)
		}
		return schema{"$ref": "#/$defs/" + t.Name()}
	default:
		panic(fmt.Sprintf("declarative-schema-gen: unsupported field kind %s", t.Kind()))
	}
}

func (g *generator) object(t reflect.Type) schema {
	props := schema{}
	var required []string
	for _, f := range reflect.VisibleFields(t) {
		name, optional := yamlName(f)
		if name == "" {
			continue
		}
		props[name] = g.ref(f.Type)
		if !optional {
			required = append(required, name)
		}
	}
	obj := schema{"type": "object", "properties": props, "additionalProperties": false}
	if len(required) > 0 {
		sort.Strings(required)
		obj["required"] = required
	}
	return obj
}

// yamlName returns the document key of f, or "" when f is not serialized.
// Pointers, slices and omitempty fields are optional.
func yamlName(f reflect.StructField) (string, bool) {
	tag, ok := f.Tag.Lookup("yaml")
	if !f.IsExported() || !ok || tag == "-" {
		return "", false
	}
	name, opts, _ := strings.Cut(tag, ",")
	optional := strings.Contains(opts, "omitempty") ||
		f.Type.Kind() == reflect.Pointer || f.Type.Kind() == reflect.Slice
	return name, optional
}

func property(defs map[string]schema, def, prop string) schema {
	props, _ := defs[def]["properties"].(schema)
	p, _ := props[prop].(schema)
	return p
}

func enum(defs map[string]schema, def, prop string, values ...string) {
	if p := property(defs, def, prop); p != nil {
		p["enum"] = values
	}
}

// constrain adds the rules reflection cannot see: enumerations and the
// fields one value requires of another.
func constrain(kind string, defs map[string]schema) {
	switch kind {
	case declarative.KindNamePipelineList:
		enum(defs, "PipelineSpec", "source_type",
			string(domain.SourceSingle), string(domain.SourceMulti), string(domain.SourceExternal))
		enum(defs, "PipelineSpec", "load_type",
			string(domain.LoadFull), string(domain.LoadIncremental), string(domain.LoadDelta))
		if p := property(defs, "PipelineSpec", "retry_count"); p != nil {
			p["minimum"] = 0
		}

	case declarative.KindNameSCD2DefinitionList:
		if p := property(defs, "SCD2Spec", "business_key_columns"); p != nil {
			p["minItems"] = 1
		}

	case declarative.KindNameDQRuleList:
		enum(defs, "DQRuleSpec", "rule_type",
			string(domain.RuleNotNull), string(domain.RuleRange), string(domain.RuleRegex),
			string(domain.RuleCustomFunction), string(domain.RuleReferenceCheck))
		enum(defs, "DQRuleSpec", "importance", "",
			string(domain.ImportanceCritical), string(domain.ImportanceHigh),
			string(domain.ImportanceMedium), string(domain.ImportanceLow))
		spec := defs["DQRuleSpec"]
		if spec == nil {
			return
		}
		// Every rule type except NOT_NULL needs a condition.
		var needsCondition []any
		for _, rt := range []domain.RuleType{domain.RuleRange, domain.RuleRegex, domain.RuleCustomFunction, domain.RuleReferenceCheck} {
			needsCondition = append(needsCondition, schema{
				"if":   schema{"properties": schema{"rule_type": schema{"const": string(rt)}}},
				"then": schema{"required": []string{"condition"}},
			})
		}
		spec["allOf"] = needsCondition

	case declarative.KindNameUnitList:
		enum(defs, "UnitSpec", "kind", "", domain.UnitKindSQL)
		if spec := defs["UnitSpec"]; spec != nil {
			spec["oneOf"] = []any{
				schema{"required": []string{"body"}},
				schema{"required": []string{"body_file"}},
			}
		}

	case declarative.KindNameConfigValueList:
		enum(defs, "ConfigValueSpec", "type", "",
			domain.ValueTypeString, domain.ValueTypeNumber, domain.ValueTypeBoolean)
	}
}

// kindSchema builds the standalone schema of one document kind.
func kindSchema(doc declarative.SchemaDocumentType) schema {
	g := newGenerator()
	root := g.ref(doc.Type)
	enum(g.defs, doc.Type.Name(), "apiVersion", declarative.SupportedAPIVersion)
	enum(g.defs, doc.Type.Name(), "kind", doc.Kind)
	constrain(doc.Kind, g.defs)
	return schema{
		"$schema": draft,
		"$id":     "schemas/declarative/v1/kinds/" + doc.FileName + ".schema.json",
		"title":   "ETL definitions " + doc.Kind,
		"allOf":   []any{root},
		"$defs":   g.defs,
	}
}

// writeJSON writes v indented and returns the SHA-256 of the bytes written.
func writeJSON(path string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func run(outDir string) error {
	if err := os.MkdirAll(filepath.Join(outDir, "kinds"), 0o750); err != nil {
		return fmt.Errorf("create output directories: %w", err)
	}

	files := map[string]string{}
	var union []any
	for _, doc := range declarative.SchemaDocumentTypes() {
		rel := "kinds/" + doc.FileName + ".schema.json"
		sum, err := writeJSON(filepath.Join(outDir, filepath.FromSlash(rel)), kindSchema(doc))
		if err != nil {
			return err
		}
		files[rel] = sum
		union = append(union, schema{"$ref": rel})
	}

	const rootFile = "etl.declarative.schema.json"
	sum, err := writeJSON(filepath.Join(outDir, rootFile), schema{
		"$schema":     draft,
		"$id":         "schemas/declarative/v1/" + rootFile,
		"title":       "ETL definitions document",
		"description": "Union schema for all etl/v1 definition documents.",
		"oneOf":       union,
	})
	if err != nil {
		return err
	}
	files[rootFile] = sum

	_, err = writeJSON(filepath.Join(outDir, "index.json"), schema{
		"version":    "v1",
		"apiVersion": declarative.SupportedAPIVersion,
		"files":      files,
	})
	return err
}

func main() {
	outDir := flag.String("outdir", "schemas/declarative/v1", "output schema directory")
	flag.Parse()
	if err := run(*outDir); err != nil {
		fmt.Fprintf(os.Stderr, "declarative-schema-gen: %v\n", err)
		os.Exit(1)
	}
}

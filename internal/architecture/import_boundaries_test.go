package architecture_test

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

func internal(pkgs ...string) []string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, modulePath+"/"+p)
	}
	return out
}

var rules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden:    internal("internal/", "cmd", "pkg"),
		hint:         "domain may only import domain",
	},
	{
		sourcePrefix: modulePath + "/internal/service",
		forbidden: internal("internal/api", "internal/ui", "internal/db", "internal/warehouse",
			"internal/declarative", "internal/middleware", "internal/app", "internal/config",
			"internal/archive", "internal/notify", "cmd", "pkg"),
		hint: "services depend on domain and other services; storage is injected",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden: internal("internal/db", "internal/warehouse", "internal/declarative",
			"internal/ui", "internal/app", "cmd", "pkg"),
		hint: "api depends on service, domain and middleware",
	},
	{
		sourcePrefix: modulePath + "/internal/ui",
		forbidden: internal("internal/db", "internal/warehouse", "internal/declarative",
			"internal/api", "internal/app", "cmd", "pkg"),
		hint: "ui depends on service, domain and middleware",
	},
	{
		sourcePrefix: modulePath + "/internal/db",
		forbidden: internal("internal/api", "internal/ui", "internal/service", "internal/warehouse",
			"internal/middleware", "internal/app", "cmd", "pkg"),
		hint: "db depends on domain and db-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/warehouse",
		forbidden: internal("internal/api", "internal/ui", "internal/service", "internal/db",
			"internal/app", "internal/declarative", "cmd", "pkg"),
		hint: "warehouse depends on domain and ddl",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden: internal("internal/service", "internal/db", "internal/warehouse",
			"internal/api", "internal/ui", "internal/app"),
		hint: "middleware depends on middleware-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/declarative",
		forbidden: internal("internal/api", "internal/ui", "internal/db", "internal/warehouse",
			"internal/app", "cmd", "pkg"),
		hint: "declarative works on domain values and never touches storage",
	},
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range rules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func violates(importPath string, rule layerRule) bool {
	if hasPathPrefix(importPath, rule.sourcePrefix) {
		return false
	}
	for _, prefix := range rule.forbidden {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(importPath, prefix) {
				return true
			}
			continue
		}
		if hasPathPrefix(importPath, prefix) {
			return true
		}
	}
	return false
}

func TestImportBoundaries(t *testing.T) {
	files, err := collectGoFiles(filepath.Join(repoRootDir(), "internal"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	violations := make([]string, 0)
	for _, file := range files {
		// Tests may wire real stores.
		if isTestFile(file) {
			continue
		}

		sourcePkg := packageImportPath(file)
		rule, ok := findRule(sourcePkg)
		if !ok {
			continue
		}

		for _, importPath := range parseImports(t, file) {
			if !strings.HasPrefix(importPath, modulePath+"/") {
				continue
			}
			if violates(importPath, rule) {
				violations = append(violations,
					"governance: "+sourcePkg+" imports "+importPath+" via "+relToRepoRoot(file)+"; allowed direction: "+rule.hint,
				)
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("%s", strings.Join(violations, "\n"))
	}
}

func TestRuleMatching(t *testing.T) {
	domainRule, ok := findRule(modulePath + "/internal/domain")
	require.True(t, ok)
	assert.False(t, violates(modulePath+"/internal/domain", domainRule))
	assert.True(t, violates(modulePath+"/internal/service/dq", domainRule))

	svcRule, ok := findRule(modulePath + "/internal/service/pipeline")
	require.True(t, ok)
	assert.False(t, violates(modulePath+"/internal/service/dq", svcRule))
	assert.True(t, violates(modulePath+"/internal/warehouse", svcRule))

	_, ok = findRule(modulePath + "/internal/app")
	assert.False(t, ok)
}

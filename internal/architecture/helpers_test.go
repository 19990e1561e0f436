package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "etl-orchestrator"

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func packageImportPath(file string) string {
	return modulePath + "/" + filepath.ToSlash(filepath.Dir(relToRepoRoot(file)))
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}

func isTestFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_test.go")
}

func parseImports(t *testing.T, file string) []string {
	t.Helper()

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
	require.NoErrorf(t, err, "parse imports for %s", file)

	imports := make([]string, 0, len(parsed.Imports))
	for _, imp := range parsed.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, "\""))
	}
	return imports
}

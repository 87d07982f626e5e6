// Package architecture_test enforces the layering between packages.
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

const modulePath = "apitables"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

func internalPkgs(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = modulePath + "/" + n
	}
	return out
}

var architectureRules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden: internalPkgs(
			"internal/openapi", "internal/catalog", "internal/specsource", "internal/marshal",
			"internal/upstream", "internal/engine", "internal/service", "internal/api",
			"internal/middleware", "internal/db", "internal/config", "internal/app",
			"pkg", "cmd",
		),
		hint: "domain may only import domain",
	},
	{
		sourcePrefix: modulePath + "/internal/openapi",
		forbidden: internalPkgs(
			"internal/catalog", "internal/specsource", "internal/marshal", "internal/upstream",
			"internal/engine", "internal/service", "internal/api", "internal/middleware",
			"internal/db", "internal/config", "internal/app", "pkg", "cmd",
		),
		hint: "the compiler depends on domain only",
	},
	{
		sourcePrefix: modulePath + "/internal/engine",
		forbidden: internalPkgs(
			"internal/service", "internal/api", "internal/middleware", "internal/db",
			"internal/config", "internal/app", "pkg", "cmd",
		),
		hint: "engine should depend on domain and marshal",
	},
	{
		sourcePrefix: modulePath + "/internal/service",
		forbidden: internalPkgs(
			"internal/api", "internal/middleware", "internal/db", "internal/config",
			"internal/app", "pkg", "cmd",
		),
		hint: "service depends on ports, not on storage or transport",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden: internalPkgs(
			"internal/db", "internal/middleware", "internal/config", "internal/app",
			"internal/upstream", "internal/specsource", "pkg", "cmd",
		),
		hint: "api should depend on service/domain/api packages",
	},
	{
		sourcePrefix: modulePath + "/internal/db",
		forbidden: internalPkgs(
			"internal/api", "internal/service", "internal/engine", "internal/marshal",
			"internal/middleware", "internal/app", "pkg", "cmd",
		),
		hint: "db should depend on domain and db-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden: internalPkgs(
			"internal/service", "internal/db", "internal/engine", "internal/marshal",
			"internal/api", "internal/app", "pkg", "cmd",
		),
		hint: "middleware should depend on domain and middleware-local packages",
	},
	{
		sourcePrefix: modulePath + "/pkg/apilint",
		forbidden: internalPkgs(
			"internal/service", "internal/api", "internal/db", "internal/app", "pkg/cli", "cmd",
		),
		hint: "the linter works on documents, not on the running service",
	},
}

// collectGoFiles returns the .go files under the internal and pkg trees.
func collectGoFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	for _, top := range []string{"internal", "pkg"} {
		root := filepath.Join(repoRootDir(), top)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && d.Name() == "testdata" {
				return filepath.SkipDir
			}
			if !d.IsDir() && strings.HasSuffix(path, ".go") {
				files = append(files, filepath.ToSlash(path))
			}
			return nil
		})
		require.NoError(t, err)
	}
	return files
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range architectureRules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func matchingForbiddenPrefix(importPath string, forbidden []string) string {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return prefix
		}
	}
	return ""
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}

func packageImportPath(file string) string {
	return modulePath + "/" + filepath.ToSlash(filepath.Dir(relToRepoRoot(file)))
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

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

package architecture_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportBoundaries(t *testing.T) {
	assertBoundaries(t, false)
}

func TestTestImportBoundaries(t *testing.T) {
	assertBoundaries(t, true)
}

func assertBoundaries(t *testing.T, tests bool) {
	t.Helper()

	files := collectGoFiles(t)
	require.NotEmpty(t, files)

	checked := 0
	var violations []string
	for _, file := range files {
		if isTestFile(file) != tests {
			continue
		}
		sourcePkg := packageImportPath(file)
		rule, ok := findRule(sourcePkg)
		if !ok {
			continue
		}
		checked++
		for _, importPath := range parseImports(t, file) {
			if !strings.HasPrefix(importPath, modulePath+"/") {
				continue
			}
			if matchingForbiddenPrefix(importPath, rule.forbidden) == "" {
				continue
			}
			kind := ""
			if tests {
				kind = "test "
			}
			violations = append(violations,
				"governance: "+kind+sourcePkg+" imports "+importPath+" via "+relToRepoRoot(file)+"; allowed direction: "+rule.hint,
			)
		}
	}

	require.Positive(t, checked, "no files matched any layer rule")
	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("%s", strings.Join(violations, "\n"))
	}
}

func TestRulesCoverLayers(t *testing.T) {
	for _, pkg := range []string{
		"internal/domain", "internal/openapi", "internal/engine", "internal/service/tables",
		"internal/api", "internal/db/repository", "internal/middleware", "pkg/apilint",
	} {
		_, ok := findRule(modulePath + "/" + pkg)
		assert.Truef(t, ok, "no layer rule for %s", pkg)
	}
	_, ok := findRule(modulePath + "/internal/app")
	assert.False(t, ok, "app wires every layer and has no rule")
}

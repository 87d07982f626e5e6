package apilint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `openapi: "3.0.3"
info:
  title: Test
  version: "1.0"
paths:
  /items:
    get:
      x-pagination:
        resultsPath: "$response.body#/items"
        pageParam: page
      parameters:
        - name: page
          in: query
          schema:
            type: integer
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                $ref: "#/components/schemas/ItemPage"
  /exports:
    get:
      x-pagination:
        resultsPath: "$.data[*]"
        pageParam: cursor
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                type: object
                properties:
                  data:
                    type: array
  /reports:
    get:
      x-pagination:
        resultsPath: "$request.body#/x"
      responses:
        "204":
          description: empty
components:
  schemas:
    ItemPage:
      type: object
      properties:
        items:
          type: array
          items:
            $ref: "#/components/schemas/Item"
    Item:
      type: object
      properties:
        id:
          type: integer
        price:
          type: number
        weight:
          type: number
          format: double
        meta:
          type: object
        shape:
          oneOf:
            - $ref: "#/components/schemas/Circle"
            - type: string
`

func lint(t *testing.T, src string, cfg *Config) []Violation {
	t.Helper()
	l, err := Parse("openapi.yaml", []byte(src))
	require.NoError(t, err)
	return l.RunWithConfig(cfg)
}

func byRule(vs []Violation, id string) []Violation {
	var out []Violation
	for _, v := range vs {
		if v.RuleID == id {
			out = append(out, v)
		}
	}
	return out
}

func TestRules(t *testing.T) {
	vs := lint(t, doc, nil)

	tests := []struct {
		rule     string
		lines    []int
		severity Severity
	}{
		{rule: "ATL001", lines: []int{67}, severity: SeverityWarning},
		{rule: "ATL002", lines: []int{65}, severity: SeverityInfo},
		{rule: "ATL003", lines: []int{37}, severity: SeverityError},
		{rule: "ATL004", lines: []int{26, 41}},
		{rule: "ATL005", lines: []int{27}, severity: SeverityWarning},
		{rule: "ATL006", lines: []int{40}, severity: SeverityInfo},
		{rule: "ATL007", lines: []int{60}, severity: SeverityInfo},
		{rule: "ATL008", lines: []int{68}, severity: SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			got := byRule(vs, tt.rule)
			lines := make([]int, len(got))
			for i, v := range got {
				lines[i] = v.Line
				assert.Equal(t, "openapi.yaml", v.File)
				if tt.severity != "" {
					assert.Equal(t, tt.severity, v.Severity, v.String())
				}
			}
			assert.Equal(t, tt.lines, lines)
		})
	}
}

func TestResultsPath_Severities(t *testing.T) {
	got := byRule(lint(t, doc, nil), "ATL004")
	require.Len(t, got, 2)
	assert.Equal(t, SeverityWarning, got[0].Severity)
	assert.Contains(t, got[0].Message, "ignored")
	assert.Equal(t, SeverityError, got[1].Severity)
	assert.Contains(t, got[1].Message, "will not compile")
	assert.True(t, HasErrors(got))
}

func TestRunWithConfig(t *testing.T) {
	vs := lint(t, doc, &Config{Rules: map[string]string{"ATL007": "off", "ATL002": "error"}})
	assert.Empty(t, byRule(vs, "ATL007"))
	for _, v := range byRule(vs, "ATL002") {
		assert.Equal(t, SeverityError, v.Severity)
	}
}

func TestSuppression(t *testing.T) {
	src := `openapi: "3.0.3"
info:
  title: Test
  version: "1.0"
paths: {}
components:
  schemas:
    Loose:
      type: object # apilint:ignore ATL002
    Amount:
      type: number
    Other:
      # apilint:ignore ATL007
      type: number
`
	vs := lint(t, src, nil)
	assert.Empty(t, byRule(vs, "ATL002"))
	got := byRule(vs, "ATL007")
	require.Len(t, got, 1)
	assert.Equal(t, 11, got[0].Line)
}

func TestFilterAndSort(t *testing.T) {
	vs := lint(t, doc, nil)
	for i := 1; i < len(vs); i++ {
		assert.LessOrEqual(t, vs[i-1].Line, vs[i].Line)
	}
	for _, v := range Filter(vs, SeverityWarning) {
		assert.NotEqual(t, SeverityInfo, v.Severity)
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("x.yaml", []byte(""))
	require.Error(t, err)
	_, err = Parse("x.yaml", []byte("- a\n- b\n"))
	require.Error(t, err)
	_, err = Parse("x.yaml", []byte("info:\n  title: Test\npaths: {}\n"))
	require.ErrorContains(t, err, "not an OpenAPI document")
	_, err = New(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("rules:\n  ATL001: off\n  ATL002: warning\n"), 0o600))
	cfg, err := LoadConfig(good)
	require.NoError(t, err)
	assert.Equal(t, "off", cfg.Rules["ATL001"])

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rules:\n  ATL001: loud\n"), 0o600))
	_, err = LoadConfig(bad)
	require.Error(t, err)
}

func TestRegisteredRulesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range RegisteredRules() {
		assert.False(t, seen[r.ID()], r.ID())
		seen[r.ID()] = true
		assert.NotEmpty(t, r.Description())
	}
	assert.Len(t, seen, 8)
}

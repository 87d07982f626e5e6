package openapi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/require"

	"apitables/internal/domain"
)

// makeSchema creates an openapi3.Schema with the given type name.
// Pass "" for a nil-type schema.
func makeSchema(typeName string) *openapi3.Schema {
	if typeName == "" {
		return &openapi3.Schema{}
	}
	types := openapi3.Types{typeName}
	return &openapi3.Schema{Type: &types}
}

func makeFormat(typeName, format string) *openapi3.Schema {
	s := makeSchema(typeName)
	s.Format = format
	return s
}

// compileFixture loads testdata/<name> and compiles it with declared property order.
func compileFixture(t *testing.T, name string) *Result {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	doc, err := openapi3.NewLoader().LoadFromData(raw)
	require.NoError(t, err)
	po, err := NewPropertyOrder(raw)
	require.NoError(t, err)
	res, err := Compile(doc, WithPropertyOrder(po))
	require.NoError(t, err)
	return res
}

func mustTable(t *testing.T, res *Result, name string) *domain.Table {
	t.Helper()
	tbl, ok := res.Tables[name]
	require.True(t, ok, "table %q not compiled; have %v", name, res.TableNames())
	return tbl
}

func mustColumn(t *testing.T, tbl *domain.Table, name string) domain.Column {
	t.Helper()
	col, ok := tbl.Column(name)
	require.True(t, ok, "column %q missing; have %v", name, tbl.ColumnNames())
	return col
}

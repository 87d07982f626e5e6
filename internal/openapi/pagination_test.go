package openapi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitables/internal/domain"
)

func TestParseResultsPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"response body pointer", "$response.body#/items", []string{"items"}},
		{"nested response body pointer", "$response.body#/data/items", []string{"data", "items"}},
		{"bare name", "items", []string{"items"}},
		{"bare pointer", "/data/items", []string{"data", "items"}},
		{"escaped token", "/a~1b", []string{"a/b"}},
		{"dotted path ignored", "data.items", nil},
		{"bracketed path ignored", "items[0]", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResultsPath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResultsPath_RejectsOtherExpressions(t *testing.T) {
	_, err := ParseResultsPath("$response.header#/Link")
	require.Error(t, err)

	var docErr *domain.DocumentError
	require.True(t, errors.As(err, &docErr))
	assert.Contains(t, docErr.Message, "not supported")
}

func TestParsePagination(t *testing.T) {
	p, err := ParsePagination(map[string]any{
		ExtensionPagination: map[string]any{
			"resultsPath": "$response.body#/items",
			"pageParam":   "page",
			"limitParam":  "size",
			"maxPages":    10,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"items"}, p.ResultsPointer)
	assert.Equal(t, "page", p.PageParam)
	assert.True(t, p.IsPageParam("page"))
	assert.False(t, p.IsPageParam("size"))
	assert.True(t, p.Values["size"])
	assert.Len(t, p.Values, 3)
}

func TestParsePagination_Absent(t *testing.T) {
	p, err := ParsePagination(nil)
	require.NoError(t, err)
	assert.Empty(t, p.ResultsPointer)
	assert.False(t, p.IsPageParam(""))
}

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOutputFormat(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{name: "empty ok", output: "", wantErr: false},
		{name: "table ok", output: "table", wantErr: false},
		{name: "json ok", output: "json", wantErr: false},
		{name: "yaml rejected", output: "yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOutputFormat(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPrintTable_Basic(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"id", "name"}, [][]string{{"1", "rex"}, {"22", "tab\tbed"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID  NAME", lines[0])
	assert.Equal(t, "1   rex", lines[1])
	assert.Equal(t, "22  tab bed", lines[2])
}

func TestPrintTable_EmptyColumns(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{}, [][]string{{"a"}})
	assert.Empty(t, buf.String())
}

func TestPrintTable_ShortRows(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"a", "b"}, [][]string{{"x"}})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "x", strings.TrimSpace(lines[1]))
}

func TestPrintDetail(t *testing.T) {
	var buf bytes.Buffer
	printDetail(&buf, [][2]string{{"Table", "default.pets"}, {"Read", "GET /pets/{petId}"}})
	assert.Equal(t, "Table:  default.pets\nRead:   GET /pets/{petId}\n", buf.String())
}

func TestFormatCell(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "rex", want: "rex"},
		{name: "int", in: int64(42), want: "42"},
		{name: "float", in: 1.5, want: "1.5"},
		{name: "bool", in: true, want: "true"},
		{name: "bytes", in: []byte("raw"), want: "raw"},
		{name: "time", in: ts, want: "2024-05-01T12:00:00Z"},
		{name: "map", in: map[string]any{"a": 1}, want: `{"a":1}`},
		{name: "list", in: []any{"x", 2}, want: `["x",2]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatCell(tc.in))
		})
	}
}

func TestTruncateCell(t *testing.T) {
	assert.Equal(t, "abcdef", truncateCell("abcdef", 0))
	assert.Equal(t, "abcdef", truncateCell("abcdef", 6))
	assert.Equal(t, "ab...", truncateCell("abcdef", 5))
	assert.Equal(t, "héll...", truncateCell("héllo wörld", 7))
}

func TestTerminalWidth_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.Zero(t, terminalWidth(&buf))
}

func TestParseWhere(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string][]string
		wantErr bool
	}{
		{name: "none", args: nil, want: map[string][]string{}},
		{name: "single", args: []string{"pet_id=1"}, want: map[string][]string{"pet_id": {"1"}}},
		{name: "repeated", args: []string{"pet_id=1", "pet_id=2"}, want: map[string][]string{"pet_id": {"1", "2"}}},
		{name: "value with equals", args: []string{"q=a=b"}, want: map[string][]string{"q": {"a=b"}}},
		{name: "empty value", args: []string{"name="}, want: map[string][]string{"name": {""}}},
		{name: "no equals", args: []string{"pet_id"}, wantErr: true},
		{name: "empty column", args: []string{"=1"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseWhere(tc.args)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

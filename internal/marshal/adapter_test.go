package marshal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitables/internal/domain"
)

func TestNewAdapter_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax error", "def adapt(table, body)\n  return body", "load adapter"},
		{"missing adapt", "x = 1", "must define a function adapt"},
		{"adapt not callable", "adapt = 3", "must define a function adapt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdapter("test.star", tt.src, 0, 0)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAdapter_Apply(t *testing.T) {
	a, err := NewAdapter("unwrap.star", `
def adapt(table, body):
    if table == "raw":
        return body
    return [json.decode(s) for s in body["lines"]]
`, 0, 0)
	require.NoError(t, err)

	body := map[string]any{"lines": []any{`{"id": 1}`, `{"id": 2}`}}
	out, err := a.Apply(context.Background(), "items", body)
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"id": json.Number("1")},
		map[string]any{"id": json.Number("2")},
	}, out)

	out, err = a.Apply(context.Background(), "raw", map[string]any{"n": "1.25", "ok": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": "1.25", "ok": true}, out)
}

func TestAdapter_StepLimit(t *testing.T) {
	a, err := NewAdapter("spin.star", `
def adapt(table, body):
    n = 0
    for i in range(10000000):
        n += i
    return body
`, 1000, time.Minute)
	require.NoError(t, err)

	_, err = a.Apply(context.Background(), "t", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many steps")
}

func TestAdapter_Timeout(t *testing.T) {
	a, err := NewAdapter("slow.star", `
def adapt(table, body):
    n = 0
    for i in range(100000000):
        n += i
    return body
`, 1<<62, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = a.Apply(context.Background(), "t", map[string]any{})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "timed out")
}

func TestAdapter_ContextCancelled(t *testing.T) {
	a, err := NewAdapter("slow.star", `
def adapt(table, body):
    n = 0
    for i in range(100000000):
        n += i
    return body
`, 1<<62, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.Apply(ctx, "t", map[string]any{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoadAdapter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapt.star")
	require.NoError(t, os.WriteFile(path, []byte("def adapt(table, body):\n    return {\"table\": table}\n"), 0o600))

	a, err := LoadAdapter(path, 0, 0)
	require.NoError(t, err)
	out, err := a.Apply(context.Background(), "pets", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"table": "pets"}, out)

	_, err = LoadAdapter(filepath.Join(t.TempDir(), "missing.star"), 0, 0)
	require.Error(t, err)
}

package marshal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitables/internal/domain"
	"apitables/internal/openapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// compileTable compiles testdata/<fixture> and returns one table.
func compileTable(t *testing.T, fixture, table string) *domain.Table {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", fixture))
	require.NoError(t, err)
	doc, err := openapi3.NewLoader().LoadFromData(raw)
	require.NoError(t, err)
	order, err := openapi.NewPropertyOrder(raw)
	require.NoError(t, err)
	res, err := openapi.Compile(doc, openapi.WithPropertyOrder(order))
	require.NoError(t, err)
	tbl, ok := res.Tables[table]
	require.True(t, ok, "table %q not compiled", table)
	return tbl
}

func readHandle(tbl *domain.Table, cons domain.Constraint) *domain.TableHandle {
	method := domain.MethodGet
	if _, ok := tbl.Paths[method]; !ok {
		method = domain.MethodPost
	}
	return &domain.TableHandle{
		Schema:     domain.DefaultSchema,
		Table:      tbl.Name,
		Read:       domain.Endpoint{Method: method, Path: tbl.Paths[method]},
		Constraint: cons,
	}
}

func newFetcher(t *testing.T, srv *httptest.Server, opts ...Option) *Fetcher {
	t.Helper()
	f, err := NewFetcher(srv.Client(), srv.URL+"/v1", append([]Option{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)
	return f
}

func jsonServer(t *testing.T, handler func(r *http.Request) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, body := handler(r)
		w.Header().Set("Content-Type", MimeJSON)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewFetcher_RejectsRelativeBase(t *testing.T) {
	_, err := NewFetcher(nil, "/v1")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFetch_PathPredicate(t *testing.T) {
	tbl := compileTable(t, "pets.yaml", "pets")
	var gotPath, gotAccept string
	srv := jsonServer(t, func(r *http.Request) (int, string) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		return http.StatusOK, `{"id": 42, "name": "Rex"}`
	})

	res, err := newFetcher(t, srv).Fetch(context.Background(), tbl,
		readHandle(tbl, domain.Constraint{}.With("pet_id", domain.SingleValue(int64(42)))), nil)
	require.NoError(t, err)

	assert.Equal(t, "/v1/pets/42", gotPath)
	assert.Equal(t, MimeJSON, gotAccept)
	assert.Equal(t, []string{"id", "name", "pet_id"}, res.ColumnNames())
	assert.Equal(t, [][]any{{int64(42), "Rex", int32(42)}}, res.Rows)
	require.Len(t, res.Requests, 1)
	assert.Equal(t, http.StatusOK, res.Requests[0].StatusCode)
	assert.Equal(t, "GET", res.Requests[0].Method)
}

func TestFetch_MissingRequiredPredicate(t *testing.T) {
	tbl := compileTable(t, "pets.yaml", "pets")
	var calls atomic.Int32
	srv := jsonServer(t, func(*http.Request) (int, string) {
		calls.Add(1)
		return http.StatusOK, `{}`
	})

	tests := []struct {
		name string
		cons domain.Constraint
	}{
		{"absent", domain.Constraint{}},
		{"range", domain.Constraint{}.With("pet_id", domain.Domain{Range: &domain.Range{Low: 1}})},
		{"other column only", domain.Constraint{}.With("name", domain.SingleValue("x"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFetcher(t, srv).Fetch(context.Background(), tbl, readHandle(tbl, tt.cons), nil)
			var perr *domain.PredicateError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "pets", perr.Table)
			assert.Equal(t, "pet_id", perr.Column)
		})
	}
	assert.Zero(t, calls.Load())
}

func TestFetch_ResultsPointerAndQuery(t *testing.T) {
	tbl := compileTable(t, "items.yaml", "items")
	var gotQuery string
	srv := jsonServer(t, func(r *http.Request) (int, string) {
		gotQuery = r.URL.RawQuery
		return http.StatusOK, `{"items": [{"id": "a", "price": 1.5}, {"id": "b"}], "page": 2, "next": "tok"}`
	})

	res, err := newFetcher(t, srv).Fetch(context.Background(), tbl,
		readHandle(tbl, domain.Constraint{}.With("page", domain.SingleValue(2))), nil)
	require.NoError(t, err)

	assert.Equal(t, "page=2", gotQuery)
	assert.Equal(t, []string{"next", "id", "price"}, res.ColumnNames())
	assert.Equal(t, [][]any{
		{"tok", "a", "1.50000000"},
		{"tok", "b", nil},
	}, res.Rows)
}

func TestFetch_ResultsPointerNull(t *testing.T) {
	tbl := compileTable(t, "items.yaml", "items")
	srv := jsonServer(t, func(*http.Request) (int, string) {
		return http.StatusOK, `{"items": null, "next": null}`
	})

	res, err := newFetcher(t, srv).Fetch(context.Background(), tbl, readHandle(tbl, domain.Constraint{}), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestFetch_ResultsPointerErrors(t *testing.T) {
	tbl := compileTable(t, "items.yaml", "items")
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "segment missing", body: `{"next": null}`, wantMsg: `field "items" missing`},
		{name: "body not an object", body: `[{"id": "a"}]`, wantMsg: "expected object, got array"},
		{name: "decimal out of range", body: `{"items": [{"id": "a", "price": 1e30}]}`, wantMsg: "exceeds decimal(18,8)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := jsonServer(t, func(*http.Request) (int, string) { return http.StatusOK, tc.body })

			_, err := newFetcher(t, srv).Fetch(context.Background(), tbl, readHandle(tbl, domain.Constraint{}), nil)
			var uerr *domain.UpstreamError
			require.ErrorAs(t, err, &uerr)
			assert.Equal(t, http.StatusOK, uerr.StatusCode)
			assert.Contains(t, uerr.Message, tc.wantMsg)
		})
	}
}

func TestFetch_DetailRouteIgnoresListPointer(t *testing.T) {
	tbl := compileTable(t, "products.yaml", "products")
	require.Equal(t, []string{"data"}, tbl.ResultsPointer(domain.MethodGet, "/products"))
	require.Nil(t, tbl.ResultsPointer(domain.MethodGet, "/products/{productId}"))

	var gotPath string
	srv := jsonServer(t, func(r *http.Request) (int, string) {
		gotPath = r.URL.Path
		return http.StatusOK, `{"id": 7, "name": "widget", "price": 1.5}`
	})

	res, err := newFetcher(t, srv).Fetch(context.Background(), tbl,
		readHandle(tbl, domain.Constraint{}.With("product_id", domain.SingleValue(int64(7)))), nil)
	require.NoError(t, err)

	assert.Equal(t, "/v1/products/7", gotPath)
	assert.Equal(t, []string{"total", "id", "name", "price", "product_id"}, res.ColumnNames())
	assert.Equal(t, [][]any{{nil, int64(7), "widget", 1.5, int64(7)}}, res.Rows)
	require.Len(t, res.Requests, 1)
	assert.Equal(t, 1, res.Requests[0].RowCount)
}

func TestDecodeRows_ListRoutePointer(t *testing.T) {
	tbl := compileTable(t, "products.yaml", "products")
	cols, err := selectColumns(tbl, nil)
	require.NoError(t, err)
	body, err := decodeJSON([]byte(`{"total": 2, "data": [{"id": 1, "name": "a", "price": 2}, {"id": 2}]}`))
	require.NoError(t, err)

	rows, err := decodeRows(readHandle(tbl, domain.Constraint{}), cols, tbl.ResultsPointer(domain.MethodGet, "/products"), body)
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{int32(2), int64(1), "a", float64(2), nil},
		{int32(2), int64(2), nil, nil, nil},
	}, rows)
}

func TestFetch_RouteFollowsPinnedPlaceholder(t *testing.T) {
	tbl := compileTable(t, "orders.yaml", "orders")
	var gotPath string
	srv := jsonServer(t, func(r *http.Request) (int, string) {
		gotPath = r.URL.Path
		return http.StatusOK, `{"id": 7, "status": 3}`
	})

	res, err := newFetcher(t, srv).Fetch(context.Background(), tbl,
		readHandle(tbl, domain.Constraint{}.With("order_id", domain.SingleValue(7))), []string{"id", "status_2", "order_id"})
	require.NoError(t, err)

	assert.Equal(t, "/v1/orders/7", gotPath)
	assert.Equal(t, [][]any{{int64(7), int32(3), int32(7)}}, res.Rows)
}

func TestFetch_UnknownColumn(t *testing.T) {
	tbl := compileTable(t, "pets.yaml", "pets")
	srv := jsonServer(t, func(*http.Request) (int, string) { return http.StatusOK, `{}` })

	_, err := newFetcher(t, srv).Fetch(context.Background(), tbl,
		readHandle(tbl, domain.Constraint{}.With("pet_id", domain.SingleValue(1))), []string{"owner"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), `column "owner"`)
}

func TestFetch_TypedValues(t *testing.T) {
	tbl := compileTable(t, "events.yaml", "events")
	var gotQuery, gotTenant string
	srv := jsonServer(t, func(r *http.Request) (int, string) {
		gotQuery = r.URL.RawQuery
		gotTenant = r.Header.Get("Tenant")
		return http.StatusOK, `[{
			"day": "2024-01-02",
			"at": "2024-01-02T00:00:10Z",
			"billed": "03/01/2024",
			"tags": ["a", "b"],
			"labels": {"x": 1},
			"owner": {"name": "ann", "since": "1969-12-31"}
		}, {}]`
	})

	cons := domain.Constraint{}.
		With("kind", domain.ValueSet("x", "y")).
		With("tenant", domain.SingleValue("acme"))
	res, err := newFetcher(t, srv).Fetch(context.Background(), tbl, readHandle(tbl, cons),
		[]string{"day", "at", "billed", "tags", "labels", "owner"})
	require.NoError(t, err)

	assert.Equal(t, "kind=x&kind=y", gotQuery)
	assert.Equal(t, "acme", gotTenant)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{
		int32(19724),
		int64(1704153610),
		int32(19725),
		[]any{"a", "b"},
		map[string]any{"x": int32(1)},
		[]any{"ann", int32(-1)},
	}, res.Rows[0])
	assert.Equal(t, []any{nil, nil, nil, nil, nil, nil}, res.Rows[1])
}

func TestFetch_PostBody(t *testing.T) {
	tbl := compileTable(t, "users.yaml", "users")
	var gotMethod string
	var gotBody map[string]any
	srv := jsonServer(t, func(r *http.Request) (int, string) {
		gotMethod = r.Method
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		return http.StatusOK, `{"id": "u1", "name": 7}`
	})

	cons := domain.Constraint{}.
		With("name_req", domain.SingleValue("ann")).
		With("age", domain.SingleValue(30))
	res, err := newFetcher(t, srv).Fetch(context.Background(), tbl, readHandle(tbl, cons), nil)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, map[string]any{"name": "ann", "age": float64(30)}, gotBody)
	assert.Equal(t, []string{"id", "name", "name_req", "age"}, res.ColumnNames())
	assert.Equal(t, [][]any{{"u1", int32(7), "ann", int32(30)}}, res.Rows)
}

func TestFetch_UpstreamErrors(t *testing.T) {
	tbl := compileTable(t, "pets.yaml", "pets")
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"server error", http.StatusInternalServerError, `{"error": "boom"}`, ""},
		{"not found", http.StatusNotFound, `nope`, ""},
		{"malformed json", http.StatusOK, `{"id": `, "malformed JSON"},
		{"trailing data", http.StatusOK, `{} {}`, "malformed JSON"},
		{"scalar body", http.StatusOK, `"hello"`, "expected object or array"},
		{"integer overflow", http.StatusOK, `{"id": 1e30}`, `column "id"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := jsonServer(t, func(*http.Request) (int, string) { return tt.status, tt.body })
			_, err := newFetcher(t, srv).Fetch(context.Background(), tbl,
				readHandle(tbl, domain.Constraint{}.With("pet_id", domain.SingleValue(1))), nil)
			var uerr *domain.UpstreamError
			require.ErrorAs(t, err, &uerr)
			assert.Equal(t, tt.status, uerr.StatusCode)
			if tt.message != "" {
				assert.Contains(t, uerr.Message, tt.message)
			} else {
				assert.Equal(t, tt.body, uerr.Body)
			}
		})
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	tbl := compileTable(t, "pets.yaml", "pets")
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := newFetcher(t, srv).Fetch(ctx, tbl,
		readHandle(tbl, domain.Constraint{}.With("pet_id", domain.SingleValue(1))), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSplitFetch(t *testing.T) {
	tbl := compileTable(t, "pets.yaml", "pets")
	var calls atomic.Int32
	srv := jsonServer(t, func(r *http.Request) (int, string) {
		calls.Add(1)
		id := strings.TrimPrefix(r.URL.Path, "/v1/pets/")
		return http.StatusOK, `{"id": ` + id + `, "name": "pet-` + id + `"}`
	})

	cons := domain.Constraint{}.With("pet_id", domain.ValueSet(3, 1, 2))
	res, err := newFetcher(t, srv, WithParallelism(2)).SplitFetch(context.Background(), tbl, readHandle(tbl, cons), []string{"id", "name"})
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, [][]any{
		{int64(3), "pet-3"},
		{int64(1), "pet-1"},
		{int64(2), "pet-2"},
	}, res.Rows)
	assert.Len(t, res.Requests, 3)
}

func TestSplitFetch_FirstErrorWins(t *testing.T) {
	tbl := compileTable(t, "pets.yaml", "pets")
	srv := jsonServer(t, func(r *http.Request) (int, string) {
		if strings.HasSuffix(r.URL.Path, "/2") {
			return http.StatusBadGateway, `bad`
		}
		return http.StatusOK, `{"id": 1, "name": "x"}`
	})

	cons := domain.Constraint{}.With("pet_id", domain.ValueSet(1, 2))
	_, err := newFetcher(t, srv).SplitFetch(context.Background(), tbl, readHandle(tbl, cons), nil)
	var uerr *domain.UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusBadGateway, uerr.StatusCode)
}

func TestFetch_WithAdapter(t *testing.T) {
	tbl := compileTable(t, "pets.yaml", "pets")
	srv := jsonServer(t, func(*http.Request) (int, string) {
		return http.StatusOK, `{"data": {"pet": {"ident": 9, "label": "Tom"}}}`
	})
	adapter, err := NewAdapter("pets.star", `
def adapt(table, body):
    pet = body["data"]["pet"]
    return {"id": pet["ident"], "name": table + ":" + pet["label"]}
`, 0, 0)
	require.NoError(t, err)

	res, err := newFetcher(t, srv, WithAdapter(adapter)).Fetch(context.Background(), tbl,
		readHandle(tbl, domain.Constraint{}.With("pet_id", domain.SingleValue(9))), []string{"id", "name"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(9), "pets:Tom"}}, res.Rows)
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"apitables/internal/domain"
	"apitables/internal/service/tables"
)

// columnsParam selects returned columns on /rows; every other query
// parameter is a predicate.
const columnsParam = "columns"

// maxQueryBody bounds the size of a query request body.
const maxQueryBody = 1 << 20

// ListSchemas handles GET /schemas.
func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NameList{Names: h.tables.ListSchemas(r.Context())})
}

// ListTables handles GET /schemas/{schema}/tables.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	names, err := h.tables.ListTables(r.Context(), chi.URLParam(r, "schema"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NameList{Names: names})
}

// DescribeTable handles GET /schemas/{schema}/tables/{table}.
func (h *Handler) DescribeTable(w http.ResponseWriter, r *http.Request) {
	schema := chi.URLParam(r, "schema")
	t, handle, err := h.tables.Describe(r.Context(), schema, chi.URLParam(r, "table"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewTableDetail(schema, t, handle))
}

// ReadRows handles GET /schemas/{schema}/tables/{table}/rows.
func (h *Handler) ReadRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	predicates := make(map[string][]string, len(q))
	for k, v := range q {
		if k != columnsParam {
			predicates[k] = v
		}
	}
	res, err := h.tables.Fetch(r.Context(), tables.FetchRequest{
		Schema:     chi.URLParam(r, "schema"),
		Table:      chi.URLParam(r, "table"),
		Columns:    splitList(q.Get(columnsParam)),
		Predicates: predicates,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows := res.Rows
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, Rows{
		Columns:  res.ColumnNames(),
		Rows:     rows,
		RowCount: len(rows),
		Requests: len(res.Requests),
	})
}

// QueryTable handles POST /schemas/{schema}/tables/{table}/query.
func (h *Handler) QueryTable(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	predicates := make(map[string][]string, len(body.Predicates))
	for k, v := range body.Predicates {
		predicates[k] = v
	}
	res, err := h.tables.Query(r.Context(), tables.QueryRequest{
		Schema:     chi.URLParam(r, "schema"),
		Table:      chi.URLParam(r, "table"),
		SQL:        body.SQL,
		Predicates: predicates,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows := res.Rows
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, Rows{Columns: res.Columns, Rows: rows, RowCount: len(rows)})
}

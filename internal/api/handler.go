// Package api provides the HTTP handlers for the table API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"apitables/internal/domain"
	"apitables/internal/engine"
	"apitables/internal/marshal"
	"apitables/internal/service/tables"
)

// TableService is the application service the handlers call.
type TableService interface {
	Status(ctx context.Context) tables.Status
	ListSchemas(ctx context.Context) []string
	ListTables(ctx context.Context, schema string) ([]string, error)
	Describe(ctx context.Context, schema, table string) (*domain.Table, *domain.TableHandle, error)
	Fetch(ctx context.Context, req tables.FetchRequest) (*marshal.Result, error)
	Query(ctx context.Context, req tables.QueryRequest) (*engine.Result, error)
	ListFetches(ctx context.Context, filter domain.FetchHistoryFilter) ([]domain.FetchRecord, int64, error)
}

// Handler serves the table API.
type Handler struct {
	tables TableService
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc TableService, logger *slog.Logger) *Handler {
	return &Handler{tables: svc, logger: logger.With("component", "api")}
}

// Routes registers the versioned API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/schemas", h.ListSchemas)
	r.Route("/schemas/{schema}/tables", func(r chi.Router) {
		r.Get("/", h.ListTables)
		r.Get("/{table}", h.DescribeTable)
		r.Get("/{table}/rows", h.ReadRows)
		r.Post("/{table}/query", h.QueryTable)
	})
	r.Get("/fetches", h.ListFetches)
}

// Health reports liveness and the catalog being served.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.tables.Status(r.Context())
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Source:   st.Source,
		LoadedAt: st.LoadedAt.Format(time.RFC3339),
		Tables:   st.Tables,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status its domain type maps to.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	body := Error{Code: status, Message: err.Error()}
	if column, ok := predicateColumn(err); ok {
		body.Column = column
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err,
			"request_id", domain.RequestIDFromContext(r.Context()))
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, body)
}

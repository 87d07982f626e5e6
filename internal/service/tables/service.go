// Package tables orchestrates catalog lookups, upstream fetches, fetch
// history and SQL over fetched rows.
package tables

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"apitables/internal/catalog"
	"apitables/internal/domain"
	"apitables/internal/engine"
	"apitables/internal/marshal"
)

// CatalogProvider returns the catalog to serve the next call from.
type CatalogProvider interface {
	Current() *catalog.Catalog
}

// Fetcher reads rows from the upstream API.
type Fetcher interface {
	SplitFetch(ctx context.Context, table *domain.Table, handle *domain.TableHandle, columns []string) (*marshal.Result, error)
}

// Querier runs SQL over fetched rows.
type Querier interface {
	Query(ctx context.Context, res *marshal.Result, query string) (*engine.Result, error)
}

// FetchRequest selects a table, its predicates and the columns to return.
// Predicates map column names to one or more literal values.
type FetchRequest struct {
	Schema     string
	Table      string
	Columns    []string
	Predicates map[string][]string
}

// QueryRequest runs SQL over the rows a fetch with Predicates returns.
type QueryRequest struct {
	Schema     string
	Table      string
	SQL        string
	Predicates map[string][]string
}

// Service is the application service behind the HTTP API and the CLI.
type Service struct {
	catalogs CatalogProvider
	fetcher  Fetcher
	querier  Querier
	history  domain.FetchHistoryRepository
	logger   *slog.Logger
}

// New creates a Service. history may be nil to skip recording fetches.
func New(catalogs CatalogProvider, fetcher Fetcher, querier Querier, history domain.FetchHistoryRepository, logger *slog.Logger) *Service {
	return &Service{
		catalogs: catalogs,
		fetcher:  fetcher,
		querier:  querier,
		history:  history,
		logger:   logger.With("component", "tables"),
	}
}

// Status describes the catalog currently served.
type Status struct {
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
	Tables   int       `json:"tables"`
}

// Status reports the catalog currently served.
func (s *Service) Status(_ context.Context) Status {
	cat := s.catalogs.Current()
	names, _ := cat.ListTables(domain.DefaultSchema)
	return Status{Source: cat.Source(), LoadedAt: cat.LoadedAt(), Tables: len(names)}
}

// ListSchemas returns the schema namespaces.
func (s *Service) ListSchemas(_ context.Context) []string {
	return s.catalogs.Current().ListSchemas()
}

// ListTables returns the tables of schema.
func (s *Service) ListTables(_ context.Context, schema string) ([]string, error) {
	return s.catalogs.Current().ListTables(schema)
}

// Describe returns a table definition with its resolved endpoints.
func (s *Service) Describe(_ context.Context, schema, table string) (*domain.Table, *domain.TableHandle, error) {
	cat := s.catalogs.Current()
	t, err := cat.Table(schema, table)
	if err != nil {
		return nil, nil, err
	}
	h, err := cat.Resolve(schema, table)
	if err != nil {
		return nil, nil, err
	}
	return t, h, nil
}

// Fetch reads rows for req and records every upstream request.
func (s *Service) Fetch(ctx context.Context, req FetchRequest) (*marshal.Result, error) {
	t, handle, err := s.resolve(req.Schema, req.Table, req.Predicates)
	if err != nil {
		return nil, err
	}
	res, err := s.fetcher.SplitFetch(ctx, t, handle, req.Columns)
	if err != nil {
		s.recordFailure(ctx, t, handle, err)
		return nil, err
	}
	s.recordSuccess(ctx, t, res)
	return res, nil
}

// Query fetches every visible column and runs req.SQL over the rows as view t.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*engine.Result, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, domain.ErrValidation("sql is required")
	}
	res, err := s.Fetch(ctx, FetchRequest{Schema: req.Schema, Table: req.Table, Predicates: req.Predicates})
	if err != nil {
		return nil, err
	}
	return s.querier.Query(ctx, res, req.SQL)
}

// ListFetches returns recorded fetches, newest first.
func (s *Service) ListFetches(ctx context.Context, filter domain.FetchHistoryFilter) ([]domain.FetchRecord, int64, error) {
	if s.history == nil {
		return []domain.FetchRecord{}, 0, nil
	}
	return s.history.List(ctx, filter)
}

// PurgeFetches removes history older than retention.
func (s *Service) PurgeFetches(ctx context.Context, retention time.Duration) (int64, error) {
	if s.history == nil {
		return 0, nil
	}
	if retention <= 0 {
		return 0, domain.ErrValidation("retention must be positive")
	}
	return s.history.DeleteBefore(ctx, time.Now().Add(-retention))
}

func (s *Service) resolve(schema, table string, predicates map[string][]string) (*domain.Table, *domain.TableHandle, error) {
	cat := s.catalogs.Current()
	t, err := cat.Table(schema, table)
	if err != nil {
		return nil, nil, err
	}
	handle, err := cat.Resolve(schema, table)
	if err != nil {
		return nil, nil, err
	}
	cons, err := ParsePredicates(t, predicates)
	if err != nil {
		return nil, nil, err
	}
	return t, handle.WithConstraint(cons), nil
}

// ParsePredicates converts textual predicate values into a constraint,
// parsing numbers and booleans by column type. Several values for one
// column form a value set.
func ParsePredicates(t *domain.Table, predicates map[string][]string) (domain.Constraint, error) {
	var cons domain.Constraint
	for name, raw := range predicates {
		if len(raw) == 0 {
			continue
		}
		c, ok := t.Column(name)
		if !ok {
			return domain.Constraint{}, domain.ErrValidation("column %q not found in table %q", name, t.Name)
		}
		values := make([]any, len(raw))
		for i, r := range raw {
			v, err := parseLiteral(c.Type, r)
			if err != nil {
				return domain.Constraint{}, domain.ErrValidation("predicate %s: %v", name, err)
			}
			values[i] = v
		}
		if len(values) == 1 {
			cons = cons.With(name, domain.SingleValue(values[0]))
		} else {
			cons = cons.With(name, domain.ValueSet(values...))
		}
	}
	return cons, nil
}

func parseLiteral(t domain.Type, s string) (any, error) {
	switch t.Kind {
	case domain.KindInteger32, domain.KindInteger64:
		return strconv.ParseInt(s, 10, 64)
	case domain.KindFloat32, domain.KindFloat64:
		return strconv.ParseFloat(s, 64)
	case domain.KindBoolean:
		return strconv.ParseBool(s)
	default:
		return s, nil
	}
}

func (s *Service) recordSuccess(ctx context.Context, t *domain.Table, res *marshal.Result) {
	for _, r := range res.Requests {
		status := r.StatusCode
		rows := int64(r.RowCount)
		ms := r.Duration.Milliseconds()
		s.record(ctx, &domain.FetchRecord{
			Table:      t.Name,
			Method:     r.Method,
			URL:        r.URL,
			Status:     domain.FetchStatusSucceeded,
			StatusCode: &status,
			RowCount:   &rows,
			DurationMs: &ms,
		})
	}
}

func (s *Service) recordFailure(ctx context.Context, t *domain.Table, handle *domain.TableHandle, err error) {
	var predErr *domain.PredicateError
	var valErr *domain.ValidationError
	if errors.As(err, &predErr) || errors.As(err, &valErr) {
		// Nothing was sent upstream.
		return
	}
	msg := err.Error()
	rec := &domain.FetchRecord{
		Table:        t.Name,
		Method:       string(handle.Read.Method),
		URL:          handle.Read.Path,
		Status:       domain.FetchStatusFailed,
		ErrorMessage: &msg,
	}
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) {
		code := upErr.StatusCode
		rec.StatusCode = &code
	}
	s.record(ctx, rec)
}

// record stores rec best-effort; a failing history store never fails a fetch.
func (s *Service) record(ctx context.Context, rec *domain.FetchRecord) {
	if s.history == nil {
		return
	}
	if p, ok := domain.PrincipalFromContext(ctx); ok {
		rec.PrincipalName = p.Name
	}
	rec.RequestID = domain.RequestIDFromContext(ctx)
	if err := s.history.Insert(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("record fetch failed", "table", rec.Table, "error", err)
	}
}

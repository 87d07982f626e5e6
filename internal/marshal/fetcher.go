// Package marshal turns table predicates into an upstream HTTP request and
// decodes the JSON response into typed rows.
package marshal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"apitables/internal/domain"
)

// MimeJSON is the content type of every request and expected response.
const MimeJSON = "application/json"

// maxErrorBody caps how much of a failed response is kept in an error.
const maxErrorBody = 64 << 10

// Request describes one upstream call made during a fetch.
type Request struct {
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	RowCount   int
}

// Result holds decoded rows aligned to Columns.
type Result struct {
	Columns  []domain.Column
	Rows     [][]any
	Requests []Request
}

// ColumnNames returns the names of the result columns.
func (r *Result) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Fetcher executes reads against the upstream API. It is safe for concurrent use.
type Fetcher struct {
	client      *http.Client
	baseURL     *url.URL
	adapter     *Adapter
	security    domain.Security
	parallelism int
	logger      *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithAdapter sets the response adapter applied before rows are interpreted.
func WithAdapter(a *Adapter) Option { return func(f *Fetcher) { f.adapter = a } }

// WithSecurity sets the document's security requirements, used to skip
// credentials on operations that declare none.
func WithSecurity(sec domain.Security) Option { return func(f *Fetcher) { f.security = sec } }

// WithParallelism bounds concurrent requests in SplitFetch.
func WithParallelism(n int) Option { return func(f *Fetcher) { f.parallelism = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// NewFetcher creates a Fetcher issuing requests through client against baseURI.
func NewFetcher(client *http.Client, baseURI string, opts ...Option) (*Fetcher, error) {
	u, err := url.Parse(baseURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, domain.ErrValidation("base URI %q must be an absolute URL", baseURI)
	}
	f := &Fetcher{client: client, baseURL: u, parallelism: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if f.parallelism < 1 {
		f.parallelism = 1
	}
	f.logger = f.logger.With("component", "fetcher")
	return f, nil
}

// Fetch issues exactly one read request for handle and decodes the rows for
// the requested columns. No columns means every visible column.
func (f *Fetcher) Fetch(ctx context.Context, table *domain.Table, handle *domain.TableHandle, columns []string) (*Result, error) {
	cols, err := selectColumns(table, columns)
	if err != nil {
		return nil, err
	}
	if !handle.Read.Supported() {
		return nil, domain.ErrValidation("table %q has no read operation", table.Name)
	}

	out, err := f.buildRequest(ctx, table, handle)
	if err != nil {
		return nil, err
	}
	body, info, err := f.do(out)
	if err != nil {
		return nil, err
	}
	if f.adapter != nil {
		if body, err = f.adapter.Apply(ctx, table.Name, body); err != nil {
			return nil, fmt.Errorf("adapt %s response: %w", table.Name, err)
		}
	}
	rows, err := decodeRows(handle, cols, table.ResultsPointer(handle.Read.Method, out.route), body)
	if err != nil {
		return nil, err
	}
	info.RowCount = len(rows)
	f.logger.Debug("fetch decoded", "table", table.Name, "route", out.route, "rows", len(rows))
	return &Result{Columns: cols, Rows: rows, Requests: []Request{info}}, nil
}

// SplitFetch fans a read out when a required path predicate pins several
// discrete values: one request per value, run in parallel. Rows are
// concatenated in value order and the first error cancels the rest.
func (f *Fetcher) SplitFetch(ctx context.Context, table *domain.Table, handle *domain.TableHandle, columns []string) (*Result, error) {
	col, values := splitColumn(table, handle)
	if col == "" {
		return f.Fetch(ctx, table, handle, columns)
	}

	results := make([]*Result, len(values))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)
	for i, v := range values {
		split := handle.WithConstraint(handle.Constraint.With(col, domain.SingleValue(v)))
		g.Go(func() error {
			res, err := f.Fetch(gctx, table, split, columns)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &Result{Columns: results[0].Columns}
	for _, r := range results {
		merged.Rows = append(merged.Rows, r.Rows...)
		merged.Requests = append(merged.Requests, r.Requests...)
	}
	f.logger.Debug("split fetch merged", "table", table.Name, "column", col, "splits", len(values), "rows", len(merged.Rows))
	return merged, nil
}

// splitColumn returns the first required path predicate column, in table
// order, constrained to more than one discrete value.
func splitColumn(table *domain.Table, handle *domain.TableHandle) (string, []any) {
	for _, c := range table.Columns {
		if loc, ok := c.RequiredLocation(handle.Read.Method); !ok || loc != domain.LocationPath {
			continue
		}
		d, ok := handle.Constraint.Domain(c.Name)
		if ok && d.IsDiscrete() && len(d.Values) > 1 {
			return c.Name, d.Values
		}
	}
	return "", nil
}

func selectColumns(table *domain.Table, names []string) ([]domain.Column, error) {
	if len(names) == 0 {
		cols := make([]domain.Column, 0, len(table.Columns))
		for _, c := range table.Columns {
			if !c.Hidden {
				cols = append(cols, c)
			}
		}
		return cols, nil
	}
	cols := make([]domain.Column, 0, len(names))
	for _, n := range names {
		c, ok := table.Column(n)
		if !ok {
			return nil, domain.ErrValidation("column %q not found in table %q", n, table.Name)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// do sends the request and parses the JSON body.
func (f *Fetcher) do(out *outbound) (any, Request, error) {
	info := Request{Method: out.req.Method, URL: out.req.URL.Redacted()}
	start := time.Now()
	resp, err := f.client.Do(out.req)
	info.Duration = time.Since(start)
	if err != nil {
		if ctxErr := out.req.Context().Err(); ctxErr != nil {
			return nil, info, ctxErr
		}
		return nil, info, fmt.Errorf("%s %s: %w", info.Method, info.URL, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	info.StatusCode = resp.StatusCode
	f.logger.Debug("upstream response", "method", info.Method, "url", info.URL, "status", resp.StatusCode, "duration_ms", info.Duration.Milliseconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, info, fmt.Errorf("read %s %s: %w", info.Method, info.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, info, &domain.UpstreamError{StatusCode: resp.StatusCode, Body: string(limit(raw, maxErrorBody))}
	}
	body, err := decodeJSON(raw)
	if err != nil {
		return nil, info, &domain.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       string(limit(raw, maxErrorBody)),
			Message:    fmt.Sprintf("malformed JSON: %v", err),
		}
	}
	return body, info, nil
}

// decodeJSON parses a single JSON value keeping numbers exact.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

func limit(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

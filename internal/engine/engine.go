// Package engine runs SQL over rows fetched from one table. Every query gets
// its own in-memory DuckDB database holding the rows, exposed as view t.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"apitables/internal/domain"
	"apitables/internal/marshal"
)

// ViewName is the name fetched rows are queried under.
const ViewName = "t"

const (
	loadTable     = "fetched"
	defaultMaxRow = 10_000
)

// Result holds the columns and rows a query produced.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Engine executes SQL against fetch results. It is safe for concurrent use.
type Engine struct {
	maxRows int
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRows caps how many result rows a query may return.
func WithMaxRows(n int) Option { return func(e *Engine) { e.maxRows = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{maxRows: defaultMaxRow, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Query loads res into a fresh database and runs query against view t.
// The database has no external access, so queries cannot read or write files.
func (e *Engine) Query(ctx context.Context, res *marshal.Result, query string) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrValidation("query must not be empty")
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close() //nolint:errcheck

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("duckdb conn: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	start := time.Now()
	if err := load(ctx, conn, res); err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: %w", stmt, err)
		}
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.ErrValidation("execute query: %v", err)
	}
	defer rows.Close() //nolint:errcheck

	out, err := e.collect(rows)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("query executed", "rows_in", len(res.Rows), "rows_out", len(out.Rows), "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// load creates the storage table, appends every row and defines view t on top.
func load(ctx context.Context, conn *sql.Conn, res *marshal.Result) error {
	defs := make([]string, len(res.Columns))
	exprs := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		defs[i] = quoteIdent(c.Name) + " " + storageType(c.Type)
		exprs[i] = viewExpr(c) + " AS " + quoteIdent(c.Name)
	}
	if len(defs) == 0 {
		defs = []string{"__empty BOOLEAN"}
		exprs = []string{"__empty"}
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", loadTable, strings.Join(defs, ", "))
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", loadTable, err)
	}

	err := conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}
		appender, err := duckdb.NewAppenderFromConn(driverConn, "", loadTable)
		if err != nil {
			return fmt.Errorf("create appender: %w", err)
		}
		defer func() { _ = appender.Close() }()

		values := make([]driver.Value, max(len(res.Columns), 1))
		for n, row := range res.Rows {
			for i, c := range res.Columns {
				v, err := storageValue(c.Type, row[i])
				if err != nil {
					return fmt.Errorf("row %d column %q: %w", n, c.Name, err)
				}
				values[i] = v
			}
			if err := appender.AppendRow(values...); err != nil {
				return fmt.Errorf("append row %d: %w", n, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return err
	}

	view := fmt.Sprintf("CREATE VIEW %s AS SELECT %s FROM %s", ViewName, strings.Join(exprs, ", "), loadTable)
	if _, err := conn.ExecContext(ctx, view); err != nil {
		return fmt.Errorf("create view %s: %w", ViewName, err)
	}
	return nil
}

func (e *Engine) collect(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}
	isDate := make([]bool, len(types))
	for i, ct := range types {
		isDate[i] = ct.DatabaseTypeName() == "DATE"
	}
	out := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(out.Rows) >= e.maxRows {
			return nil, domain.ErrValidation("query returned more than %d rows", e.maxRows)
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if t, ok := v.(time.Time); ok && isDate[i] {
				vals[i] = t.Format(time.DateOnly)
				continue
			}
			vals[i] = normalize(v)
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrValidation("execute query: %v", err)
	}
	return out, nil
}

// storageType is the DuckDB type rows are appended as. Dates, timestamps and
// decimals are stored in their decoded form and converted by the view;
// composites are stored as JSON text.
func storageType(t domain.Type) string {
	switch t.Kind {
	case domain.KindBoolean:
		return "BOOLEAN"
	case domain.KindInteger32, domain.KindDate:
		return "INTEGER"
	case domain.KindInteger64, domain.KindTimestamp:
		return "BIGINT"
	case domain.KindFloat32:
		return "FLOAT"
	case domain.KindFloat64:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

func viewExpr(c domain.Column) string {
	col := quoteIdent(c.Name)
	switch c.Type.Kind {
	case domain.KindDate:
		return fmt.Sprintf("CAST(DATE '1970-01-01' + %s AS DATE)", col)
	case domain.KindTimestamp:
		return fmt.Sprintf("make_timestamp(%s * 1000000)", col)
	case domain.KindDecimal:
		return fmt.Sprintf("CAST(%s AS DECIMAL(%d,%d))", col, c.Type.Precision, c.Type.Scale)
	case domain.KindArray, domain.KindMap, domain.KindRow:
		return fmt.Sprintf("CAST(%s AS JSON)", col)
	default:
		return col
	}
}

// storageValue converts a decoded row value to its appender form.
func storageValue(t domain.Type, v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case domain.KindArray, domain.KindMap, domain.KindRow:
		b, err := json.Marshal(jsonValue(t, v))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case domain.KindDecimal, domain.KindText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	default:
		return v, nil
	}
}

// jsonValue turns decoded composite values back into JSON-shaped values:
// rows become objects keyed by field name, dates ISO days and timestamps
// RFC 3339 strings.
func jsonValue(t domain.Type, v any) any {
	if v == nil {
		return nil
	}
	switch t.Kind {
	case domain.KindArray:
		items, _ := v.([]any)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = jsonValue(*t.Elem, item)
		}
		return out
	case domain.KindMap:
		m, _ := v.(map[string]any)
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = jsonValue(*t.Value, item)
		}
		return out
	case domain.KindRow:
		fields, _ := v.([]any)
		out := make(map[string]any, len(t.Fields))
		for i, f := range t.Fields {
			if i < len(fields) {
				out[f.Name] = jsonValue(f.Type, fields[i])
			}
		}
		return out
	case domain.KindDate:
		if d, ok := v.(int32); ok {
			return time.Unix(int64(d)*24*60*60, 0).UTC().Format(time.DateOnly)
		}
	case domain.KindTimestamp:
		if s, ok := v.(int64); ok {
			return time.Unix(s, 0).UTC().Format(time.RFC3339)
		}
	}
	return v
}

// normalize converts driver values into JSON-friendly Go values.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case duckdb.Decimal:
		return decimalString(x)
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalize(x[k])
		}
		return x
	default:
		return v
	}
}

func decimalString(d duckdb.Decimal) string {
	if d.Value == nil {
		return "0"
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil)
	return new(big.Rat).SetFrac(d.Value, denom).FloatString(int(d.Scale))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Package catalog holds the compiled table catalog and resolves qualified
// table names into handles.
package catalog

import (
	"fmt"
	"time"

	"apitables/internal/domain"
	"apitables/internal/openapi"
	"apitables/internal/specsource"
)

// Catalog is an immutable compiled catalog. It is safe to share between
// goroutines without locking.
type Catalog struct {
	tables   map[string]*domain.Table
	names    []string
	security domain.Security
	source   string
	loadedAt time.Time
}

// New wraps a compile result. source names the document it came from.
func New(res *openapi.Result, source string) *Catalog {
	return &Catalog{
		tables:   res.Tables,
		names:    res.TableNames(),
		security: res.Security,
		source:   source,
		loadedAt: time.Now().UTC(),
	}
}

// Build compiles a loaded document into a catalog.
func Build(doc *specsource.Document) (*Catalog, error) {
	order, err := openapi.NewPropertyOrder(doc.Raw)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	res, err := openapi.Compile(doc.Doc, openapi.WithPropertyOrder(order))
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return New(res, doc.Location), nil
}

// Source returns the location of the document the catalog was compiled from.
func (c *Catalog) Source() string { return c.source }

// LoadedAt returns when the catalog was built.
func (c *Catalog) LoadedAt() time.Time { return c.loadedAt }

// Security returns the security requirements declared by the document.
func (c *Catalog) Security() domain.Security { return c.security }

// ListSchemas returns the schema namespaces. There is only one.
func (c *Catalog) ListSchemas() []string {
	return []string{domain.DefaultSchema}
}

// ListTables returns the table names of schema, sorted.
func (c *Catalog) ListTables(schema string) ([]string, error) {
	if err := checkSchema(schema); err != nil {
		return nil, err
	}
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out, nil
}

// Table returns the definition of schema.name.
func (c *Catalog) Table(schema, name string) (*domain.Table, error) {
	if err := checkSchema(schema); err != nil {
		return nil, err
	}
	t, ok := c.tables[name]
	if !ok {
		return nil, domain.ErrNotFound("table %q not found", name)
	}
	return t, nil
}

// Resolve returns a handle for schema.name with endpoints resolved per
// operation and an empty constraint. Reads fall back to POST when there is
// no GET, updates to POST when there is no PUT.
func (c *Catalog) Resolve(schema, name string) (*domain.TableHandle, error) {
	t, err := c.Table(schema, name)
	if err != nil {
		return nil, err
	}
	return &domain.TableHandle{
		Schema: schema,
		Table:  t.Name,
		Read:   endpoint(t, domain.MethodGet, domain.MethodPost),
		Insert: endpoint(t, domain.MethodPost),
		Update: endpoint(t, domain.MethodPut, domain.MethodPost),
		Delete: endpoint(t, domain.MethodDelete),
	}, nil
}

// Columns returns visible and hidden columns of schema.name in order.
func (c *Catalog) Columns(schema, name string) ([]domain.Column, error) {
	t, err := c.Table(schema, name)
	if err != nil {
		return nil, err
	}
	return t.Columns, nil
}

// endpoint returns the first method in preference order that the table serves.
func endpoint(t *domain.Table, prefer ...domain.Method) domain.Endpoint {
	for _, m := range prefer {
		if p, ok := t.Paths[m]; ok {
			return domain.Endpoint{Method: m, Path: p}
		}
	}
	return domain.Endpoint{Method: prefer[0]}
}

func checkSchema(schema string) error {
	if schema != domain.DefaultSchema {
		return &domain.SchemaNotFoundError{Schema: schema}
	}
	return nil
}

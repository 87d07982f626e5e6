package domain

import "strings"

// Method is an upper-case HTTP method name as it appears in an OpenAPI path item.
type Method string

// HTTP methods an OpenAPI path item may declare.
const (
	MethodGet     Method = "GET"
	MethodPut     Method = "PUT"
	MethodPost    Method = "POST"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodHead    Method = "HEAD"
	MethodPatch   Method = "PATCH"
	MethodTrace   Method = "TRACE"
)

// Methods lists every method in the fixed order used when walking path items.
var Methods = []Method{
	MethodGet, MethodPut, MethodPost, MethodDelete,
	MethodOptions, MethodHead, MethodPatch, MethodTrace,
}

// Location is where a predicate value is placed in an outbound request.
type Location string

// Predicate locations.
const (
	LocationPath   Location = "path"
	LocationQuery  Location = "query"
	LocationHeader Location = "header"
	LocationCookie Location = "cookie"
	LocationBody   Location = "body"
)

// RowIDColumn is the hidden synthetic row identifier prepended to mutable tables.
const RowIDColumn = "__row_id"

// Column is one compiled table column. Values are immutable once built;
// use NewColumn or Column.With to derive a modified copy.
type Column struct {
	Name              string
	SourceName        string
	Type              Type
	SourceSchema      any
	Nullable          bool
	Hidden            bool
	PageNumber        bool
	Comment           string
	RequiresPredicate map[Method]Location
	OptionalPredicate map[Method]Location
	ResultsPointer    []string
}

// ColumnOption sets an optional attribute while building a Column.
type ColumnOption func(*Column)

// NewColumn builds a column. SourceName defaults to name.
func NewColumn(name string, typ Type, opts ...ColumnOption) Column {
	c := Column{Name: name, SourceName: name, Type: typ}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// With returns a copy of c with opts applied. Predicate maps are copied.
func (c Column) With(opts ...ColumnOption) Column {
	out := c
	out.RequiresPredicate = copyPredicates(c.RequiresPredicate)
	out.OptionalPredicate = copyPredicates(c.OptionalPredicate)
	out.ResultsPointer = append([]string(nil), c.ResultsPointer...)
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

// WithName renames the column.
func WithName(name string) ColumnOption { return func(c *Column) { c.Name = name } }

// WithSourceName sets the original property or parameter name.
func WithSourceName(name string) ColumnOption { return func(c *Column) { c.SourceName = name } }

// WithSourceSchema attaches the schema node the type was derived from.
func WithSourceSchema(s any) ColumnOption { return func(c *Column) { c.SourceSchema = s } }

// WithNullable sets nullability.
func WithNullable(v bool) ColumnOption { return func(c *Column) { c.Nullable = v } }

// WithHidden sets the hidden flag.
func WithHidden(v bool) ColumnOption { return func(c *Column) { c.Hidden = v } }

// WithPageNumber marks the column as the pagination page number.
func WithPageNumber(v bool) ColumnOption { return func(c *Column) { c.PageNumber = v } }

// WithComment sets the column comment.
func WithComment(s string) ColumnOption { return func(c *Column) { c.Comment = s } }

// WithRequiredPredicate replaces the required predicate map.
func WithRequiredPredicate(m map[Method]Location) ColumnOption {
	return func(c *Column) { c.RequiresPredicate = copyPredicates(m) }
}

// WithOptionalPredicate replaces the optional predicate map.
func WithOptionalPredicate(m map[Method]Location) ColumnOption {
	return func(c *Column) { c.OptionalPredicate = copyPredicates(m) }
}

// WithResultsPointer sets the pointer segments locating the row array in a response.
func WithResultsPointer(p []string) ColumnOption {
	return func(c *Column) { c.ResultsPointer = append([]string(nil), p...) }
}

// ColumnKey identifies columns that are the same field: equal name and equal type.
type ColumnKey struct {
	Name string
	Type string
}

// Key returns the (name, type) identity used when merging columns.
func (c Column) Key() ColumnKey {
	return ColumnKey{Name: c.Name, Type: c.Type.String()}
}

// RequiredLocation returns the location of a required predicate for method, if any.
func (c Column) RequiredLocation(m Method) (Location, bool) {
	loc, ok := c.RequiresPredicate[m]
	return loc, ok
}

// OptionalLocation returns the location of an optional predicate for method, if any.
func (c Column) OptionalLocation(m Method) (Location, bool) {
	loc, ok := c.OptionalPredicate[m]
	return loc, ok
}

// IsPredicate reports whether the column parameterizes requests for method.
func (c Column) IsPredicate(m Method) bool {
	_, req := c.RequiresPredicate[m]
	_, opt := c.OptionalPredicate[m]
	return req || opt
}

// Equal reports whether two columns carry identical attributes.
// SourceSchema is compared by identity.
func (c Column) Equal(o Column) bool {
	return c.Name == o.Name &&
		c.SourceName == o.SourceName &&
		c.Type.Equal(o.Type) &&
		c.SourceSchema == o.SourceSchema &&
		c.Nullable == o.Nullable &&
		c.Hidden == o.Hidden &&
		c.PageNumber == o.PageNumber &&
		c.Comment == o.Comment &&
		predicatesEqual(c.RequiresPredicate, o.RequiresPredicate) &&
		predicatesEqual(c.OptionalPredicate, o.OptionalPredicate) &&
		strings.Join(c.ResultsPointer, "/") == strings.Join(o.ResultsPointer, "/") &&
		len(c.ResultsPointer) == len(o.ResultsPointer)
}

func copyPredicates(m map[Method]Location) map[Method]Location {
	if len(m) == 0 {
		return nil
	}
	out := make(map[Method]Location, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func predicatesEqual(a, b map[Method]Location) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

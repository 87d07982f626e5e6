package openapi

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"

	"apitables/internal/domain"
)

// Result is a compiled catalog: tables by name plus the security
// requirements retained for the upstream authenticator.
type Result struct {
	Tables   map[string]*domain.Table
	Security domain.Security
}

// TableNames returns table names sorted.
func (r *Result) TableNames() []string {
	names := make([]string, 0, len(r.Tables))
	for n := range r.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Option configures Compile.
type Option func(*compileOptions)

type compileOptions struct {
	order *PropertyOrder
}

// WithPropertyOrder supplies the declared property order of the raw document.
// Without it, properties are ordered alphabetically.
func WithPropertyOrder(po *PropertyOrder) Option {
	return func(o *compileOptions) { o.order = po }
}

// Compile builds the table catalog for a fully loaded document. The result is
// deterministic: compiling the same document twice yields equal catalogs.
func Compile(doc *openapi3.T, opts ...Option) (*Result, error) {
	if doc == nil {
		return nil, domain.ErrDocument("document is nil")
	}
	var o compileOptions
	for _, opt := range opts {
		opt(&o)
	}
	var components openapi3.Schemas
	if doc.Components != nil {
		components = doc.Components.Schemas
	}
	d := &deriver{mapper: NewMapper(components, o.order)}

	pathMap := map[string]*openapi3.PathItem{}
	if doc.Paths != nil {
		pathMap = doc.Paths.Map()
	}
	paths := sortedKeys(pathMap)

	var tableOrder []string
	columns := map[string][]domain.Column{}
	for _, path := range paths {
		item := pathMap[path]
		if item == nil || !hasOpsWithJSON(item) {
			continue
		}
		name := TableName(path)
		if name == "" {
			continue
		}
		cols, err := d.pathColumns(path, item)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
		if _, seen := columns[name]; !seen {
			tableOrder = append(tableOrder, name)
		}
		columns[name] = append(columns[name], cols...)
	}

	tables := make(map[string]*domain.Table, len(tableOrder))
	for _, name := range tableOrder {
		tables[name] = &domain.Table{
			Name:     name,
			Columns:  MergeColumns(distinctColumns(columns[name])),
			Paths:    map[domain.Method]string{},
			Routes:   map[domain.Method][]string{},
			Pointers: map[domain.Method]map[string][]string{},
		}
	}
	for _, path := range paths {
		item := pathMap[path]
		t, ok := tables[TableName(path)]
		if item == nil || !ok {
			continue
		}
		for _, method := range domain.Methods {
			op := operation(item, method)
			if op == nil || !includeOperation(path, method) {
				continue
			}
			t.Routes[method] = append(t.Routes[method], path)
			// Extensions were validated while deriving columns.
			if pag, _ := ParsePagination(op.Extensions); len(pag.ResultsPointer) > 0 {
				if t.Pointers[method] == nil {
					t.Pointers[method] = map[string][]string{}
				}
				t.Pointers[method][path] = pag.ResultsPointer
			}
			if existing, ok := t.Paths[method]; ok && len(existing) <= len(path) {
				continue
			}
			t.Paths[method] = path
		}
	}
	for _, t := range tables {
		for _, routes := range t.Routes {
			sort.SliceStable(routes, func(i, j int) bool { return len(routes[i]) > len(routes[j]) })
		}
	}

	return &Result{Tables: tables, Security: collectSecurity(doc, paths, pathMap)}, nil
}

// MergeColumns merges columns contributed by several operations of one table.
//
// Columns with the same (name, type) collapse into one: nullability is ORed and
// predicate maps are unioned, the first location seen for a method winning.
// Remaining name clashes between different types get "_2", "_3", ... suffixes
// in encounter order.
func MergeColumns(cols []domain.Column) []domain.Column {
	var order []domain.ColumnKey
	merged := map[domain.ColumnKey]domain.Column{}
	for _, c := range cols {
		key := c.Key()
		prev, ok := merged[key]
		if !ok {
			order = append(order, key)
			merged[key] = c.With()
			continue
		}
		merged[key] = prev.With(
			domain.WithNullable(prev.Nullable || c.Nullable),
			domain.WithRequiredPredicate(unionPredicates(prev.RequiresPredicate, c.RequiresPredicate)),
			domain.WithOptionalPredicate(unionPredicates(prev.OptionalPredicate, c.OptionalPredicate)),
		)
	}

	used := make(map[string]bool, len(order))
	for _, key := range order {
		used[key.Name] = true
	}
	seen := map[string]int{}
	out := make([]domain.Column, 0, len(order))
	for _, key := range order {
		c := merged[key]
		c = c.With(domain.WithOptionalPredicate(withoutMethods(c.OptionalPredicate, c.RequiresPredicate)))
		seen[key.Name]++
		if n := seen[key.Name]; n > 1 {
			name := key.Name + "_" + strconv.Itoa(n)
			for used[name] {
				n++
				name = key.Name + "_" + strconv.Itoa(n)
			}
			seen[key.Name] = n
			used[name] = true
			c = c.With(domain.WithName(name))
		}
		out = append(out, c)
	}
	return out
}

func unionPredicates(a, b map[domain.Method]domain.Location) map[domain.Method]domain.Location {
	out := make(map[domain.Method]domain.Location, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// withoutMethods drops optional entries for methods that are also required,
// keeping the two method sets disjoint.
func withoutMethods(optional, required map[domain.Method]domain.Location) map[domain.Method]domain.Location {
	out := make(map[domain.Method]domain.Location, len(optional))
	for k, v := range optional {
		if _, ok := required[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func hasOpsWithJSON(item *openapi3.PathItem) bool {
	for _, method := range domain.Methods {
		if hasJSONResponse(operation(item, method)) {
			return true
		}
	}
	return false
}

func collectSecurity(doc *openapi3.T, paths []string, pathMap map[string]*openapi3.PathItem) domain.Security {
	sec := domain.Security{
		Document: convertRequirements(doc.Security),
		Paths:    map[string]map[domain.Method][]domain.SecurityRequirement{},
		Schemes:  map[string]domain.SecurityScheme{},
	}
	for _, path := range paths {
		item := pathMap[path]
		if item == nil {
			continue
		}
		byMethod := map[domain.Method][]domain.SecurityRequirement{}
		for _, method := range domain.Methods {
			op := operation(item, method)
			if op == nil || op.Security == nil {
				continue
			}
			byMethod[method] = convertRequirements(*op.Security)
		}
		sec.Paths[path] = byMethod
	}
	if doc.Components != nil {
		for name, ref := range doc.Components.SecuritySchemes {
			if ref == nil || ref.Value == nil {
				continue
			}
			s := ref.Value
			scheme := domain.SecurityScheme{
				Type:         s.Type,
				Scheme:       s.Scheme,
				BearerFormat: s.BearerFormat,
				In:           s.In,
				Name:         s.Name,
			}
			if s.Flows != nil && s.Flows.ClientCredentials != nil {
				scheme.TokenURL = s.Flows.ClientCredentials.TokenURL
			}
			sec.Schemes[name] = scheme
		}
	}
	return sec
}

func convertRequirements(reqs openapi3.SecurityRequirements) []domain.SecurityRequirement {
	if reqs == nil {
		return nil
	}
	out := make([]domain.SecurityRequirement, 0, len(reqs))
	for _, r := range reqs {
		cp := make(domain.SecurityRequirement, len(r))
		for k, v := range r {
			cp[k] = append([]string{}, v...)
		}
		out = append(out, cp)
	}
	return out
}

// sortedKeys returns the keys of a map in sorted order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

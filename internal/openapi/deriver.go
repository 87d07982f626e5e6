package openapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"apitables/internal/domain"
)

// Media type and status the compiler reads schemas from.
const (
	MimeJSON = "application/json"
	StatusOK = "200"
)

var rowIDSchema = stringSchema()

// reqSuffix disambiguates a request predicate from a same-named response field.
const reqSuffix = "_req"

// schemaAt is a schema node together with its JSON pointer in the raw document.
type schemaAt struct {
	ref *openapi3.SchemaRef
	ptr string
}

func (s schemaAt) value() *openapi3.Schema {
	if s.ref == nil {
		return nil
	}
	return s.ref.Value
}

func (s schemaAt) pointer() string {
	if s.ref != nil && s.ref.Ref != "" {
		return pointerOfRef(s.ref.Ref)
	}
	return s.ptr
}

// deriver produces candidate columns for single operations.
type deriver struct {
	mapper *Mapper
}

// pathColumns derives the columns contributed by every operation of a path item,
// prepending the hidden row id column when the path accepts mutations.
func (d *deriver) pathColumns(path string, item *openapi3.PathItem) ([]domain.Column, error) {
	var cols []domain.Column
	if item.Post != nil || item.Put != nil || item.Delete != nil {
		cols = append(cols, domain.NewColumn(domain.RowIDColumn, domain.Text,
			domain.WithSourceSchema(rowIDSchema),
			domain.WithHidden(true)))
	}
	for _, method := range domain.Methods {
		op := operation(item, method)
		if op == nil || !includeOperation(path, method) {
			continue
		}
		opCols, err := d.operationColumns(path, method, op, item.Parameters)
		if err != nil {
			return nil, err
		}
		cols = append(cols, opCols...)
	}
	return distinctColumns(cols), nil
}

// operationColumns derives result and predicate columns for one operation.
func (d *deriver) operationColumns(path string, method domain.Method, op *openapi3.Operation, shared openapi3.Parameters) ([]domain.Column, error) {
	pag, err := ParsePagination(op.Extensions)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	opPtr := "/paths/" + escapePointerToken(path) + "/" + strings.ToLower(string(method))

	result, err := d.resultColumns(path, method, op, opPtr, pag)
	if err != nil {
		return nil, err
	}

	if body, ok := requestSchema(op, opPtr); ok {
		keys := columnKeys(result)
		props, required, propsPtr := d.properties(body)
		for _, name := range d.mapper.order.Ordered(propsPtr, keysOf(props)) {
			isRequired := required[name]
			loc := map[domain.Method]domain.Location{method: domain.LocationBody}
			opts := []domain.ColumnOption{domain.WithPageNumber(pag.IsPageParam(name))}
			if isRequired {
				opts = append(opts, domain.WithRequiredPredicate(loc))
			} else {
				opts = append(opts, domain.WithOptionalPredicate(loc))
			}
			col, ok := d.column(name, schemaAt{ref: props[name], ptr: childPointer(propsPtr, name)}, !isRequired, opts...)
			if !ok {
				continue
			}
			result = append(result, disambiguate(col, keys))
		}
	}

	params := mergeParameters(shared, op.Parameters, "/paths/"+escapePointerToken(path), opPtr)
	if len(params) > 0 {
		keys := columnKeys(result)
		for _, p := range params {
			loc := map[domain.Method]domain.Location{method: domain.Location(p.param.In)}
			opts := []domain.ColumnOption{
				domain.WithHidden(pag.Values[p.param.Name]),
				domain.WithPageNumber(pag.IsPageParam(p.param.Name)),
			}
			if p.param.Required {
				opts = append(opts, domain.WithRequiredPredicate(loc))
			} else {
				opts = append(opts, domain.WithOptionalPredicate(loc))
			}
			// Parameters are always nullable: they are required as
			// predicates, not as values in inserted rows.
			col, ok := d.column(p.param.Name, p.schema, true, opts...)
			if !ok {
				continue
			}
			if col.Comment == "" {
				col = col.With(domain.WithComment(p.param.Description))
			}
			result = append(result, disambiguate(col, keys))
		}
	}
	return result, nil
}

// resultColumns derives columns from the 200 JSON response body.
func (d *deriver) resultColumns(path string, method domain.Method, op *openapi3.Operation, opPtr string, pag Pagination) ([]domain.Column, error) {
	resp, ok := responseSchema(op, opPtr)
	if !ok {
		return nil, nil
	}
	var cols []domain.Column
	props, required, propsPtr := d.properties(resp)
	var first string
	if len(pag.ResultsPointer) > 0 {
		first = pag.ResultsPointer[0]
	}
	for _, name := range d.mapper.order.Ordered(propsPtr, keysOf(props)) {
		if len(pag.ResultsPointer) > 0 && name == first {
			continue
		}
		// A page-number property echoed next to the rows is pagination state.
		col, ok := d.column(name, schemaAt{ref: props[name], ptr: childPointer(propsPtr, name)}, !required[name],
			domain.WithHidden(pag.IsPageParam(name)),
			domain.WithPageNumber(pag.IsPageParam(name)))
		if ok {
			cols = append(cols, col)
		}
	}
	if len(pag.ResultsPointer) == 0 {
		return cols, nil
	}

	target := resp
	for _, seg := range pag.ResultsPointer {
		p, _, pPtr := d.properties(target)
		next, ok := p[seg]
		if !ok || next == nil {
			return nil, domain.ErrDocument("%s %s: invalid value of %s.%s: unknown field %q",
				method, path, ExtensionPagination, PaginationResultsPath, seg)
		}
		target = schemaAt{ref: next, ptr: childPointer(pPtr, seg)}
	}
	props, required, propsPtr = d.properties(target)
	for _, name := range d.mapper.order.Ordered(propsPtr, keysOf(props)) {
		col, ok := d.column(name, schemaAt{ref: props[name], ptr: childPointer(propsPtr, name)}, !required[name],
			domain.WithPageNumber(pag.IsPageParam(name)),
			domain.WithResultsPointer(pag.ResultsPointer))
		if ok {
			cols = append(cols, col)
		}
	}
	return cols, nil
}

// column maps one property or parameter schema into a column.
func (d *deriver) column(sourceName string, s schemaAt, nullable bool, opts ...domain.ColumnOption) (domain.Column, bool) {
	mapped, ok := d.mapper.MapType(s.ref, s.pointer())
	if !ok {
		return domain.Column{}, false
	}
	var comment string
	if v := s.value(); v != nil {
		comment = v.Description
		nullable = nullable || v.Nullable
	}
	base := []domain.ColumnOption{
		domain.WithSourceName(sourceName),
		domain.WithSourceSchema(mapped.Schema),
		domain.WithNullable(nullable),
		domain.WithComment(comment),
	}
	return domain.NewColumn(Identifier(sourceName), mapped.Type, append(base, opts...)...), true
}

// properties returns the properties of an object schema, or of the items of
// an array schema, with the set of required names and the pointer of the
// schema owning them.
func (d *deriver) properties(s schemaAt) (openapi3.Schemas, map[string]bool, string) {
	v := s.value()
	ptr := s.pointer()
	if v == nil {
		return nil, nil, ""
	}
	if v.Items != nil && (v.Type == nil || v.Type.Is(openapi3.TypeArray)) {
		items := schemaAt{ref: v.Items, ptr: childPointer(ptr, "items")}
		v = items.value()
		ptr = items.pointer()
		if v == nil {
			return nil, nil, ""
		}
	}
	required := make(map[string]bool, len(v.Required))
	for _, r := range v.Required {
		required[r] = true
	}
	return v.Properties, required, childPointer(ptr, "properties")
}

// disambiguate appends reqSuffix while a column with the same name but a
// different (name, type) key already exists.
func disambiguate(col domain.Column, keys map[string][]domain.ColumnKey) domain.Column {
	for hasAmbiguousName(col, keys) {
		col = col.With(domain.WithName(col.Name + reqSuffix))
	}
	return col
}

func hasAmbiguousName(col domain.Column, keys map[string][]domain.ColumnKey) bool {
	for _, k := range keys[col.Name] {
		if k != col.Key() {
			return true
		}
	}
	return false
}

func columnKeys(cols []domain.Column) map[string][]domain.ColumnKey {
	keys := make(map[string][]domain.ColumnKey, len(cols))
	for _, c := range cols {
		keys[c.Name] = append(keys[c.Name], c.Key())
	}
	return keys
}

func distinctColumns(cols []domain.Column) []domain.Column {
	out := make([]domain.Column, 0, len(cols))
outer:
	for _, c := range cols {
		for _, seen := range out {
			if seen.Equal(c) {
				continue outer
			}
		}
		out = append(out, c)
	}
	return out
}

// includeOperation excludes PUT on paths without parameters: an update always
// needs a predicate, and such a path has nowhere to put one.
func includeOperation(path string, method domain.Method) bool {
	return method != domain.MethodPut || strings.Contains(path, "{")
}

func operation(item *openapi3.PathItem, method domain.Method) *openapi3.Operation {
	switch method {
	case domain.MethodGet:
		return item.Get
	case domain.MethodPut:
		return item.Put
	case domain.MethodPost:
		return item.Post
	case domain.MethodDelete:
		return item.Delete
	case domain.MethodOptions:
		return item.Options
	case domain.MethodHead:
		return item.Head
	case domain.MethodPatch:
		return item.Patch
	case domain.MethodTrace:
		return item.Trace
	default:
		return nil
	}
}

// hasJSONResponse reports whether op is live and answers 200 with a JSON body.
func hasJSONResponse(op *openapi3.Operation) bool {
	if op == nil || op.Deprecated || op.Responses == nil {
		return false
	}
	resp := op.Responses.Value(StatusOK)
	if resp == nil || resp.Value == nil {
		return false
	}
	return resp.Value.Content[MimeJSON] != nil
}

func responseSchema(op *openapi3.Operation, opPtr string) (schemaAt, bool) {
	if op.Responses == nil {
		return schemaAt{}, false
	}
	resp := op.Responses.Value(StatusOK)
	if resp == nil || resp.Value == nil {
		return schemaAt{}, false
	}
	ptr := childPointer(opPtr, "responses", StatusOK)
	if resp.Ref != "" {
		ptr = pointerOfRef(resp.Ref)
	}
	mt := resp.Value.Content[MimeJSON]
	if mt == nil || mt.Schema == nil {
		return schemaAt{}, false
	}
	return schemaAt{ref: mt.Schema, ptr: childPointer(ptr, "content", MimeJSON, "schema")}, true
}

func requestSchema(op *openapi3.Operation, opPtr string) (schemaAt, bool) {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return schemaAt{}, false
	}
	ptr := childPointer(opPtr, "requestBody")
	if op.RequestBody.Ref != "" {
		ptr = pointerOfRef(op.RequestBody.Ref)
	}
	mt := op.RequestBody.Value.Content[MimeJSON]
	if mt == nil || mt.Schema == nil {
		return schemaAt{}, false
	}
	return schemaAt{ref: mt.Schema, ptr: childPointer(ptr, "content", MimeJSON, "schema")}, true
}

type parameterAt struct {
	param  *openapi3.Parameter
	schema schemaAt
}

// mergeParameters combines path-level and operation-level parameters;
// an operation parameter overrides a path parameter with the same name and location.
func mergeParameters(shared, own openapi3.Parameters, pathPtr, opPtr string) []parameterAt {
	var out []parameterAt
	index := map[string]int{}
	add := func(params openapi3.Parameters, ownerPtr string) {
		for i, ref := range params {
			if ref == nil || ref.Value == nil || ref.Value.Schema == nil {
				continue
			}
			ptr := childPointer(ownerPtr, "parameters", strconv.Itoa(i))
			if ref.Ref != "" {
				ptr = pointerOfRef(ref.Ref)
			}
			p := parameterAt{param: ref.Value, schema: schemaAt{ref: ref.Value.Schema, ptr: childPointer(ptr, "schema")}}
			key := ref.Value.In + ":" + ref.Value.Name
			if at, ok := index[key]; ok {
				out[at] = p
				continue
			}
			index[key] = len(out)
			out = append(out, p)
		}
	}
	add(shared, pathPtr)
	add(own, opPtr)
	return out
}

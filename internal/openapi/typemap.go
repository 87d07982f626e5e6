// Package openapi compiles an OpenAPI document into a catalog of tables:
// it maps JSON schemas to semantic types, derives columns per operation and
// merges them into deterministic table definitions.
package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"apitables/internal/domain"
)

// Mapped pairs a semantic type with the schema node it was derived from.
// Nested nodes in Schema are the ones actually used for the nested types,
// so decoders can read format hints at every level.
type Mapped struct {
	Type   domain.Type
	Schema *openapi3.Schema
}

// Mapper maps JSON schemas to semantic types. It is safe for concurrent use
// once built; mapping does not mutate the document.
type Mapper struct {
	components openapi3.Schemas
	order      *PropertyOrder
}

// NewMapper creates a Mapper resolving named types against components.
func NewMapper(components openapi3.Schemas, order *PropertyOrder) *Mapper {
	return &Mapper{components: components, order: order}
}

func fallback() Mapped {
	return Mapped{Type: domain.Text, Schema: stringSchema()}
}

func stringSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeString}}
}

// MapType maps the schema at ref. ptr is the JSON pointer of the node in the
// raw document and only drives property ordering; pass "" when unknown.
// The boolean is false when the schema cannot be mapped at all: an array
// without items, or an array whose element cannot be mapped.
func (m *Mapper) MapType(ref *openapi3.SchemaRef, ptr string) (Mapped, bool) {
	return m.mapRef(ref, ptr, map[*openapi3.Schema]bool{})
}

func (m *Mapper) mapRef(ref *openapi3.SchemaRef, ptr string, onPath map[*openapi3.Schema]bool) (Mapped, bool) {
	if ref == nil {
		return fallback(), true
	}
	if ref.Ref != "" {
		ptr = pointerOfRef(ref.Ref)
	}
	s := ref.Value
	if s == nil {
		s, ptr = m.lookupNamed(refName(ref.Ref))
		if s == nil {
			return fallback(), true
		}
	}
	if onPath[s] {
		return fallback(), true
	}
	onPath[s] = true
	defer delete(onPath, s)

	return m.mapSchema(s, ptr, onPath)
}

func (m *Mapper) mapSchema(s *openapi3.Schema, ptr string, onPath map[*openapi3.Schema]bool) (Mapped, bool) {
	if len(s.OneOf) > 0 || len(s.AnyOf) > 0 || len(s.AllOf) > 0 {
		return Mapped{Type: domain.Text, Schema: s}, true
	}

	typ := schemaType(s)

	if typ == openapi3.TypeArray || (typ == "" && s.Items != nil) {
		if s.Items == nil {
			// No element schema to map.
			return Mapped{}, false
		}
		elem, ok := m.mapRef(s.Items, childPointer(ptr, "items"), onPath)
		if !ok {
			return Mapped{}, false
		}
		cp := *s
		cp.Items = &openapi3.SchemaRef{Value: elem.Schema}
		return Mapped{Type: domain.ArrayOf(elem.Type), Schema: &cp}, true
	}

	if isMapShaped(s, typ) {
		value, ok := m.mapRef(s.AdditionalProperties.Schema, childPointer(ptr, "additionalProperties"), onPath)
		if !ok {
			value = fallback()
		}
		cp := *s
		cp.AdditionalProperties = openapi3.AdditionalProperties{Schema: &openapi3.SchemaRef{Value: value.Schema}}
		return Mapped{Type: domain.MapOf(value.Type), Schema: &cp}, true
	}

	switch typ {
	case openapi3.TypeInteger, "int":
		if s.Format == "int64" {
			return Mapped{Type: domain.Integer64, Schema: s}, true
		}
		return Mapped{Type: domain.Integer32, Schema: s}, true
	case openapi3.TypeNumber:
		switch s.Format {
		case "float":
			return Mapped{Type: domain.Float32, Schema: s}, true
		case "double":
			return Mapped{Type: domain.Float64, Schema: s}, true
		}
		return Mapped{Type: domain.Decimal(domain.DefaultDecimalPrecision, domain.DefaultDecimalScale), Schema: s}, true
	case "float":
		return Mapped{Type: domain.Float32, Schema: s}, true
	case openapi3.TypeString:
		switch s.Format {
		case "date":
			return Mapped{Type: domain.Date, Schema: s}, true
		case "date-time":
			return Mapped{Type: domain.Timestamp, Schema: s}, true
		}
		return Mapped{Type: domain.Text, Schema: s}, true
	case openapi3.TypeBoolean:
		return Mapped{Type: domain.Boolean, Schema: s}, true
	case typeUnion:
		return Mapped{Type: domain.Text, Schema: s}, true
	case openapi3.TypeObject, "":
		if len(s.Properties) == 0 {
			return fallback(), true
		}
		return m.mapObject(s, ptr, onPath)
	}

	if named, namedPtr := m.lookupNamed(typ); named != nil {
		if onPath[named] {
			return fallback(), true
		}
		onPath[named] = true
		defer delete(onPath, named)
		mapped, ok := m.mapSchema(named, namedPtr, onPath)
		if !ok {
			return Mapped{}, false
		}
		return Mapped{Type: mapped.Type, Schema: named}, true
	}
	return fallback(), true
}

func (m *Mapper) mapObject(s *openapi3.Schema, ptr string, onPath map[*openapi3.Schema]bool) (Mapped, bool) {
	names := m.order.Ordered(childPointer(ptr, "properties"), keysOf(s.Properties))
	fields := make([]domain.Field, 0, len(names))
	props := make(openapi3.Schemas, len(names))
	for _, name := range names {
		mapped, ok := m.mapRef(s.Properties[name], childPointer(ptr, "properties", name), onPath)
		if !ok {
			continue
		}
		fields = append(fields, domain.Field{Name: name, Type: mapped.Type})
		props[name] = &openapi3.SchemaRef{Value: mapped.Schema}
	}
	if len(fields) == 0 {
		return fallback(), true
	}
	cp := *s
	cp.Properties = props
	return Mapped{Type: domain.RowOf(fields...), Schema: &cp}, true
}

func (m *Mapper) lookupNamed(name string) (*openapi3.Schema, string) {
	if name == "" || m.components == nil {
		return nil, ""
	}
	ref, ok := m.components[name]
	if !ok || ref == nil || ref.Value == nil {
		return nil, ""
	}
	return ref.Value, "/components/schemas/" + escapePointerToken(name)
}

const typeUnion = "union"

// schemaType returns the single declared type, ignoring "null" in 3.1-style
// type arrays. Multiple non-null types yield typeUnion.
func schemaType(s *openapi3.Schema) string {
	if s.Type == nil {
		return ""
	}
	var found []string
	for _, t := range s.Type.Slice() {
		if t != openapi3.TypeNull {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return ""
	case 1:
		return found[0]
	default:
		return typeUnion
	}
}

func isMapShaped(s *openapi3.Schema, typ string) bool {
	if s.AdditionalProperties.Schema == nil || len(s.Properties) > 0 {
		return false
	}
	return typ == "" || typ == openapi3.TypeObject
}

func refName(ref string) string {
	if ref == "" {
		return ""
	}
	return ref[strings.LastIndex(ref, "/")+1:]
}

func keysOf(m openapi3.Schemas) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

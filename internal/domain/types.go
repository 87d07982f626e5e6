package domain

import (
	"fmt"
	"strings"
)

// Kind enumerates the semantic type variants a column can carry.
type Kind int

// Semantic type kinds.
const (
	KindBoolean Kind = iota + 1
	KindInteger32
	KindInteger64
	KindDecimal
	KindFloat32
	KindFloat64
	KindText
	KindDate
	KindTimestamp
	KindArray
	KindMap
	KindRow
)

// Inferred decimals use a fixed precision and scale wide enough for common magnitudes.
const (
	DefaultDecimalPrecision = 18
	DefaultDecimalScale     = 8
)

// Type is a closed tagged variant describing a column or field value.
// Elem is set for arrays, Value for maps (keys are always text) and Fields for rows.
type Type struct {
	Kind      Kind
	Precision int
	Scale     int
	Elem      *Type
	Value     *Type
	Fields    []Field
}

// Field is one named member of a row type.
type Field struct {
	Name string
	Type Type
}

// Scalar constructors.
var (
	Boolean   = Type{Kind: KindBoolean}
	Integer32 = Type{Kind: KindInteger32}
	Integer64 = Type{Kind: KindInteger64}
	Float32   = Type{Kind: KindFloat32}
	Float64   = Type{Kind: KindFloat64}
	Text      = Type{Kind: KindText}
	Date      = Type{Kind: KindDate}
	Timestamp = Type{Kind: KindTimestamp}
)

// Decimal returns a decimal type with the given precision and scale.
func Decimal(precision, scale int) Type {
	return Type{Kind: KindDecimal, Precision: precision, Scale: scale}
}

// ArrayOf returns an array type of elem.
func ArrayOf(elem Type) Type {
	return Type{Kind: KindArray, Elem: &elem}
}

// MapOf returns a map type with text keys and the given value type.
func MapOf(value Type) Type {
	return Type{Kind: KindMap, Value: &value}
}

// RowOf returns a row type with fields in the given order.
func RowOf(fields ...Field) Type {
	return Type{Kind: KindRow, Fields: fields}
}

// IsComposite reports whether the type nests other types.
func (t Type) IsComposite() bool {
	return t.Kind == KindArray || t.Kind == KindMap || t.Kind == KindRow
}

// Equal compares two types structurally.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindDecimal:
		return t.Precision == o.Precision && t.Scale == o.Scale
	case KindArray:
		return t.Elem != nil && o.Elem != nil && t.Elem.Equal(*o.Elem)
	case KindMap:
		return t.Value != nil && o.Value != nil && t.Value.Equal(*o.Value)
	case KindRow:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != o.Fields[i].Name || !t.Fields[i].Type.Equal(o.Fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders the type in SQL notation, e.g. "array(row(id bigint, name varchar))".
func (t Type) String() string {
	switch t.Kind {
	case KindBoolean:
		return "boolean"
	case KindInteger32:
		return "integer"
	case KindInteger64:
		return "bigint"
	case KindDecimal:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case KindFloat32:
		return "real"
	case KindFloat64:
		return "double"
	case KindText:
		return "varchar"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp(3)"
	case KindArray:
		return "array(" + t.Elem.String() + ")"
	case KindMap:
		return "map(varchar, " + t.Value.String() + ")"
	case KindRow:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + " " + f.Type.String()
		}
		return "row(" + strings.Join(parts, ", ") + ")"
	default:
		return fmt.Sprintf("unknown(%d)", int(t.Kind))
	}
}

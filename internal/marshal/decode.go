package marshal

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"apitables/internal/domain"
	"apitables/internal/openapi"
)

// ExtensionTimeLayout overrides the Go time layout used for date and
// date-time values of one schema.
const ExtensionTimeLayout = "x-time-layout"

const (
	dateLayout    = "2006-01-02"
	secondsPerDay = 24 * 60 * 60
)

// decodeRows turns a parsed response body into rows aligned to cols.
// pointer locates the rows of the operation that answered. With a pointer,
// columns derived from the row elements are read per element and the others
// from the enclosing object; a pointer segment missing from the body is an
// upstream error. Predicate columns and absent values take the
// single value the constraint pins.
func decodeRows(handle *domain.TableHandle, cols []domain.Column, pointer []string, body any) ([][]any, error) {
	outer, _ := body.(map[string]any)

	target := body
	for i, seg := range pointer {
		obj, ok := target.(map[string]any)
		if !ok {
			return nil, &domain.UpstreamError{StatusCode: 200, Message: fmt.Sprintf("results path %s: expected object, got %s", pointerString(pointer[:i]), jsonKind(target))}
		}
		if target, ok = obj[seg]; !ok {
			return nil, &domain.UpstreamError{StatusCode: 200, Message: fmt.Sprintf("results path %s: field %q missing from response", pointerString(pointer[:i+1]), seg)}
		}
	}

	var elems []any
	switch v := target.(type) {
	case nil:
		return nil, nil
	case []any:
		elems = v
	case map[string]any:
		elems = []any{v}
	default:
		return nil, &domain.UpstreamError{StatusCode: 200, Message: fmt.Sprintf("expected object or array of objects, got %s", jsonKind(v))}
	}

	rows := make([][]any, 0, len(elems))
	for i, e := range elems {
		obj, ok := e.(map[string]any)
		if !ok {
			return nil, &domain.UpstreamError{StatusCode: 200, Message: fmt.Sprintf("row %d: expected object, got %s", i, jsonKind(e))}
		}
		row := make([]any, len(cols))
		for j, c := range cols {
			raw, found := lookup(obj, c)
			if len(pointer) > 0 && len(c.ResultsPointer) == 0 {
				// Envelope columns; columns merged in from other routes of
				// the table may still appear on the element.
				if raw, found = lookup(outer, c); !found {
					raw, found = lookup(obj, c)
				}
			}
			if pinned, ok := handle.Constraint.SingleValue(c.Name); ok && (!found || raw == nil || c.IsPredicate(handle.Read.Method)) {
				raw = pinned
			}
			v, err := coerce(c.Type, schemaOf(c.SourceSchema), raw)
			if err != nil {
				return nil, &domain.UpstreamError{StatusCode: 200, Message: fmt.Sprintf("row %d column %q: %v", i, c.Name, err)}
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func lookup(obj map[string]any, c domain.Column) (any, bool) {
	if obj == nil {
		return nil, false
	}
	if v, ok := obj[c.SourceName]; ok {
		return v, true
	}
	v, ok := obj[openapi.CamelCase(c.Name)]
	return v, ok
}

func pointerString(segs []string) string {
	var b strings.Builder
	for _, seg := range segs {
		b.WriteByte('/')
		b.WriteString(strings.NewReplacer("~", "~0", "/", "~1").Replace(seg))
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

func schemaOf(v any) *openapi3.Schema {
	s, _ := v.(*openapi3.Schema)
	return s
}

// coerce converts a JSON value into the Go representation of typ.
// Nil stays nil.
func coerce(typ domain.Type, schema *openapi3.Schema, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ.Kind {
	case domain.KindBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case domain.KindInteger32:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d out of integer range", n)
		}
		return int32(n), nil
	case domain.KindInteger64:
		return toInt(v)
	case domain.KindFloat32:
		f, err := toFloat(v)
		return float32(f), err
	case domain.KindFloat64:
		return toFloat(v)
	case domain.KindDecimal:
		return toDecimal(v, typ.Precision, typ.Scale)
	case domain.KindText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case domain.KindDate:
		return toDate(v, timeLayout(schema, dateLayout))
	case domain.KindTimestamp:
		return toTimestamp(v, timeLayout(schema, ""))
	case domain.KindArray:
		return coerceArray(typ, schema, v)
	case domain.KindMap:
		return coerceMap(typ, schema, v)
	case domain.KindRow:
		return coerceRow(typ, schema, v)
	default:
		return nil, fmt.Errorf("unsupported type %s", typ)
	}
	return nil, fmt.Errorf("cannot convert %s to %s", jsonKind(v), typ)
}

func coerceArray(typ domain.Type, schema *openapi3.Schema, v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("cannot convert %s to %s", jsonKind(v), typ)
	}
	var elemSchema *openapi3.Schema
	if schema != nil && schema.Items != nil {
		elemSchema = schema.Items.Value
	}
	out := make([]any, len(items))
	for i, item := range items {
		e, err := coerce(*typ.Elem, elemSchema, item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

func coerceMap(typ domain.Type, schema *openapi3.Schema, v any) (any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot convert %s to %s", jsonKind(v), typ)
	}
	var valueSchema *openapi3.Schema
	if schema != nil && schema.AdditionalProperties.Schema != nil {
		valueSchema = schema.AdditionalProperties.Schema.Value
	}
	out := make(map[string]any, len(obj))
	for k, item := range obj {
		e, err := coerce(*typ.Value, valueSchema, item)
		if err != nil {
			return nil, fmt.Errorf("[%q]: %w", k, err)
		}
		out[k] = e
	}
	return out, nil
}

func coerceRow(typ domain.Type, schema *openapi3.Schema, v any) (any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot convert %s to %s", jsonKind(v), typ)
	}
	out := make([]any, len(typ.Fields))
	for i, f := range typ.Fields {
		var fieldSchema *openapi3.Schema
		if schema != nil {
			if ref, ok := schema.Properties[f.Name]; ok && ref != nil {
				fieldSchema = ref.Value
			}
		}
		e, err := coerce(f.Type, fieldSchema, obj[f.Name])
		if err != nil {
			return nil, fmt.Errorf(".%s: %w", f.Name, err)
		}
		out[i] = e
	}
	return out, nil
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("value %s is not an integer", n)
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("value %s out of bigint range", n)
		}
		return int64(f), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("cannot convert %s to integer", jsonKind(v))
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("cannot convert %s to number", jsonKind(v))
}

// toDecimal renders an exact decimal string with scale fractional digits.
// Values needing more than precision-scale integer digits after rounding
// do not fit the column.
func toDecimal(v any, precision, scale int) (string, error) {
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(n)
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case int64:
		s = strconv.FormatInt(n, 10)
	case int:
		s = strconv.Itoa(n)
	default:
		return "", fmt.Errorf("cannot convert %s to decimal", jsonKind(v))
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return "", fmt.Errorf("value %q is not a decimal", s)
	}
	out := r.FloatString(scale)
	intDigits, _, _ := strings.Cut(strings.TrimPrefix(out, "-"), ".")
	if intDigits == "0" {
		intDigits = ""
	}
	if precision > 0 && len(intDigits) > precision-scale {
		return "", fmt.Errorf("value %s exceeds decimal(%d,%d)", s, precision, scale)
	}
	return out, nil
}

// toDate returns the day count since the Unix epoch.
func toDate(v any, layout string) (int32, error) {
	switch d := v.(type) {
	case string:
		t, err := time.Parse(layout, d)
		if err != nil {
			return 0, err
		}
		secs := t.Unix()
		days := secs / secondsPerDay
		if secs%secondsPerDay < 0 {
			days--
		}
		return int32(days), nil
	default:
		n, err := toInt(v)
		if err != nil {
			return 0, err
		}
		return int32(n), nil
	}
}

// toTimestamp returns seconds since the Unix epoch.
func toTimestamp(v any, layout string) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return toInt(v)
	}
	if layout != "" {
		t, err := time.Parse(layout, s)
		if err != nil {
			return 0, err
		}
		return t.Unix(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// timeLayout returns the schema's layout override or def.
func timeLayout(schema *openapi3.Schema, def string) string {
	if schema == nil {
		return def
	}
	if s, ok := schema.Extensions[ExtensionTimeLayout].(string); ok && s != "" {
		return s
	}
	return def
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64, float32, int, int32, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

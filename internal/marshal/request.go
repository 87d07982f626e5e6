package marshal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/oapi-codegen/runtime"

	"apitables/internal/domain"
	"apitables/internal/openapi"
	"apitables/internal/upstream"
)

var placeholderRe = regexp.MustCompile(`\{([^}]+)\}`)

// outbound is a built request together with the path template it expands.
type outbound struct {
	req   *http.Request
	route string
}

// buildRequest checks required predicates and builds the read request.
func (f *Fetcher) buildRequest(ctx context.Context, table *domain.Table, handle *domain.TableHandle) (*outbound, error) {
	method := handle.Read.Method
	cons := handle.Constraint

	for _, c := range table.Columns {
		loc, ok := c.RequiredLocation(method)
		if !ok {
			continue
		}
		d, ok := cons.Domain(c.Name)
		switch {
		case !ok:
			return nil, &domain.PredicateError{Table: table.Name, Column: c.Name}
		case loc == domain.LocationQuery && !d.IsDiscrete():
			return nil, &domain.PredicateError{Table: table.Name, Column: c.Name, Reason: "required constraint must list values"}
		case loc != domain.LocationQuery && !d.IsSingleValue():
			return nil, &domain.PredicateError{Table: table.Name, Column: c.Name, Reason: "required constraint must be a single value"}
		}
	}

	route := chooseRoute(table, handle)
	path, err := expandPath(table, method, route, cons)
	if err != nil {
		return nil, err
	}
	u := f.baseURL.JoinPath(path)

	query, err := queryString(table, method, cons)
	if err != nil {
		return nil, err
	}
	u.RawQuery = query

	var body []byte
	if method == domain.MethodPost {
		body, err = requestBody(table, cons)
		if err != nil {
			return nil, err
		}
	}

	if !upstream.RequiresAuth(f.security, route, method) {
		ctx = upstream.WithoutAuth(ctx)
	}
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := newRequest(ctx, string(method), u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", MimeJSON)
	req.Header.Set("Accept", MimeJSON)
	if err := applyHeaders(req, table, method, cons); err != nil {
		return nil, err
	}
	return &outbound{req: req, route: route}, nil
}

func newRequest(ctx context.Context, method, target string, body *bytes.Reader) (*http.Request, error) {
	if body == nil {
		return http.NewRequestWithContext(ctx, method, target, nil)
	}
	return http.NewRequestWithContext(ctx, method, target, body)
}

// chooseRoute picks the most specific path serving the read method whose
// placeholders are all pinned by the constraint, else the handle's path.
func chooseRoute(table *domain.Table, handle *domain.TableHandle) string {
	for _, route := range table.Routes[handle.Read.Method] {
		if route == handle.Read.Path {
			break
		}
		resolved := true
		for _, m := range placeholderRe.FindAllStringSubmatch(route, -1) {
			c, ok := placeholderColumn(table, handle.Read.Method, m[1])
			if !ok {
				resolved = false
				break
			}
			if _, ok := handle.Constraint.SingleValue(c.Name); !ok {
				resolved = false
				break
			}
		}
		if resolved {
			return route
		}
	}
	return handle.Read.Path
}

// placeholderColumn finds the column feeding a path placeholder.
func placeholderColumn(table *domain.Table, method domain.Method, placeholder string) (domain.Column, bool) {
	var fallback *domain.Column
	for i, c := range table.Columns {
		if c.SourceName != placeholder && openapi.CamelCase(c.Name) != placeholder {
			continue
		}
		if loc, ok := c.RequiredLocation(method); ok && loc == domain.LocationPath {
			return c, true
		}
		if loc, ok := c.OptionalLocation(method); ok && loc == domain.LocationPath {
			return c, true
		}
		if fallback == nil {
			fallback = &table.Columns[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return domain.Column{}, false
}

// expandPath substitutes every placeholder with its simple-styled value.
func expandPath(table *domain.Table, method domain.Method, route string, cons domain.Constraint) (string, error) {
	var firstErr error
	path := placeholderRe.ReplaceAllStringFunc(route, func(m string) string {
		name := m[1 : len(m)-1]
		c, ok := placeholderColumn(table, method, name)
		if !ok {
			if firstErr == nil {
				firstErr = &domain.PredicateError{Table: table.Name, Column: openapi.Identifier(name)}
			}
			return m
		}
		v, ok := cons.SingleValue(c.Name)
		if !ok {
			if firstErr == nil {
				firstErr = &domain.PredicateError{Table: table.Name, Column: c.Name}
			}
			return m
		}
		styled, err := runtime.StyleParamWithLocation("simple", false, name, runtime.ParamLocationPath, outboundValue(c, v))
		if err != nil && firstErr == nil {
			firstErr = domain.ErrValidation("column %q: %v", c.Name, err)
		}
		return styled
	})
	if firstErr != nil {
		return "", firstErr
	}
	return path, nil
}

// queryString renders query predicates form-style with explode, in column order.
func queryString(table *domain.Table, method domain.Method, cons domain.Constraint) (string, error) {
	var parts []string
	for _, c := range table.Columns {
		if location(c, method) != domain.LocationQuery {
			continue
		}
		d, ok := cons.Domain(c.Name)
		if !ok || !d.IsDiscrete() {
			continue
		}
		var value any
		if d.IsSingleValue() {
			value = outboundValue(c, d.Values[0])
		} else {
			values := make([]any, len(d.Values))
			for i, v := range d.Values {
				values[i] = outboundValue(c, v)
			}
			value = values
		}
		styled, err := runtime.StyleParamWithLocation("form", true, c.SourceName, runtime.ParamLocationQuery, value)
		if err != nil {
			return "", domain.ErrValidation("column %q: %v", c.Name, err)
		}
		parts = append(parts, styled)
	}
	return strings.Join(parts, "&"), nil
}

// requestBody renders single-valued body predicates as a JSON object.
func requestBody(table *domain.Table, cons domain.Constraint) ([]byte, error) {
	obj := map[string]any{}
	for _, c := range table.Columns {
		if location(c, domain.MethodPost) != domain.LocationBody {
			continue
		}
		if v, ok := cons.SingleValue(c.Name); ok {
			obj[c.SourceName] = outboundValue(c, v)
		}
	}
	body, err := json.Marshal(obj)
	if err != nil {
		return nil, domain.ErrValidation("encode request body: %v", err)
	}
	return body, nil
}

// applyHeaders sets header and cookie predicates.
func applyHeaders(req *http.Request, table *domain.Table, method domain.Method, cons domain.Constraint) error {
	for _, c := range table.Columns {
		loc := location(c, method)
		if loc != domain.LocationHeader && loc != domain.LocationCookie {
			continue
		}
		v, ok := cons.SingleValue(c.Name)
		if !ok {
			continue
		}
		paramLoc := runtime.ParamLocationHeader
		if loc == domain.LocationCookie {
			paramLoc = runtime.ParamLocationCookie
		}
		styled, err := runtime.StyleParamWithLocation("simple", false, c.SourceName, paramLoc, outboundValue(c, v))
		if err != nil {
			return domain.ErrValidation("column %q: %v", c.Name, err)
		}
		if loc == domain.LocationHeader {
			req.Header.Set(c.SourceName, styled)
		} else {
			req.AddCookie(&http.Cookie{Name: c.SourceName, Value: styled})
		}
	}
	return nil
}

// location returns where the column's predicate goes for method, or "".
func location(c domain.Column, method domain.Method) domain.Location {
	if loc, ok := c.RequiredLocation(method); ok {
		return loc
	}
	if loc, ok := c.OptionalLocation(method); ok {
		return loc
	}
	return ""
}

// outboundValue renders date and timestamp predicates given as epoch values
// in the wire format the column's schema declares.
func outboundValue(c domain.Column, v any) any {
	if n, ok := v.(json.Number); ok {
		v = n.String()
	}
	schema, _ := c.SourceSchema.(*openapi3.Schema)
	switch c.Type.Kind {
	case domain.KindDate:
		if days, ok := asInt64(v); ok {
			return time.Unix(days*secondsPerDay, 0).UTC().Format(timeLayout(schema, dateLayout))
		}
	case domain.KindTimestamp:
		if secs, ok := asInt64(v); ok {
			return time.Unix(secs, 0).UTC().Format(timeLayout(schema, time.RFC3339))
		}
	}
	return v
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

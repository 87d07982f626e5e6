package openapi

import (
	"regexp"
	"strings"

	"apitables/internal/domain"
)

// Pagination extension keys.
const (
	ExtensionPagination   = "x-pagination"
	PaginationResultsPath = "resultsPath"
	PaginationPageParam   = "pageParam"
)

var resultsPathRe = regexp.MustCompile(`^\$response\.body#(/.*)$`)

// Pagination is the parsed x-pagination extension of one operation.
type Pagination struct {
	// ResultsPointer locates the row array in the response body. Empty
	// means the whole body holds the rows.
	ResultsPointer []string
	PageParam      string
	// Values holds every string value of the extension, used to hide
	// pagination parameters.
	Values map[string]bool
}

// IsPageParam reports whether name is the page-number parameter.
func (p Pagination) IsPageParam(name string) bool {
	return p.PageParam != "" && p.PageParam == name
}

// ParsePagination reads the x-pagination extension from operation extensions.
// Non-string entries are ignored. An unsupported results path expression
// starting with "$" is a document error.
func ParsePagination(extensions map[string]any) (Pagination, error) {
	p := Pagination{Values: map[string]bool{}}
	raw, ok := extensions[ExtensionPagination].(map[string]any)
	if !ok {
		return p, nil
	}
	settings := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			settings[k] = s
			p.Values[s] = true
		}
	}
	p.PageParam = settings[PaginationPageParam]
	if rp, ok := settings[PaginationResultsPath]; ok {
		ptr, err := ParseResultsPath(rp)
		if err != nil {
			return Pagination{}, err
		}
		p.ResultsPointer = ptr
	}
	return p, nil
}

// ParseResultsPath parses a results path into JSON pointer segments.
//
// Accepted forms are a response-body pointer ("$response.body#/items") and
// a bare property path ("items" or "/data/items"). Dotted or bracketed path
// expressions without a slash are ignored. Any other "$" expression is rejected.
func ParseResultsPath(resultsPath string) ([]string, error) {
	if m := resultsPathRe.FindStringSubmatch(resultsPath); m != nil {
		return splitPointer(m[1]), nil
	}
	if !strings.Contains(resultsPath, "/") && strings.ContainsAny(resultsPath, ".[") {
		return nil, nil
	}
	if strings.HasPrefix(resultsPath, "$") {
		return nil, domain.ErrDocument(
			"invalid value of %s.%s: %s, complex JSON pointer or JSON path expressions are not supported",
			ExtensionPagination, PaginationResultsPath, resultsPath)
	}
	if !strings.HasPrefix(resultsPath, "/") {
		resultsPath = "/" + resultsPath
	}
	return splitPointer(resultsPath), nil
}

// splitPointer splits an RFC 6901 pointer into unescaped segments.
func splitPointer(ptr string) []string {
	if ptr == "" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, p := range parts {
		parts[i] = unescapePointerToken(p)
	}
	return parts
}

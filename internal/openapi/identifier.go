package openapi

import (
	"regexp"
	"strings"
	"unicode"
)

var pathParamRe = regexp.MustCompile(`/\{[^}]+\}`)

// StripPathParams removes every "/{param}" segment from a path template.
func StripPathParams(path string) string {
	return pathParamRe.ReplaceAllString(path, "")
}

// Identifier converts a path or property name to the table/column naming
// convention: the leading slash is dropped, "/" and "-" become "_", and
// camelCase becomes snake_case ("/petStore/items" -> "pet_store_items").
func Identifier(s string) string {
	s = strings.TrimPrefix(s, "/")
	s = strings.NewReplacer("/", "_", "-", "_").Replace(s)

	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CamelCase reverses Identifier for a single name: "pet_id" -> "petId".
func CamelCase(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	first := true
	for _, p := range parts {
		if p == "" {
			continue
		}
		p = strings.ToLower(p)
		if first {
			b.WriteString(p)
			first = false
			continue
		}
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// TableName returns the table identifier for a path template, or "" when
// the path has no segments left after stripping parameters.
func TableName(path string) string {
	return Identifier(StripPathParams(path))
}

package domain

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Fetch history page sizes.
const (
	DefaultMaxResults = 100
	MaxMaxResults     = 1000
)

// pageTokenPrefix marks a token as a fetch history offset, so a token that
// merely decodes as base64 is still rejected.
const pageTokenPrefix = "fetches:"

// PageRequest selects one page of the fetch history, newest first. The
// token is opaque to callers and travels in query strings and CLI flags.
type PageRequest struct {
	MaxResults int
	PageToken  string
}

// Offset is the number of records skipped. Tokens that do not parse start
// from the first page; use ParsePageToken to reject them instead.
func (p PageRequest) Offset() int {
	offset, err := ParsePageToken(p.PageToken)
	if err != nil {
		return 0
	}
	return offset
}

// Limit returns the page size, clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	switch {
	case p.MaxResults <= 0:
		return DefaultMaxResults
	case p.MaxResults > MaxMaxResults:
		return MaxMaxResults
	default:
		return p.MaxResults
	}
}

// NextToken returns the token of the page after this one, or "" when total
// records fit within it.
func (p PageRequest) NextToken(total int64) string {
	next := p.Offset() + p.Limit()
	if int64(next) >= total {
		return ""
	}
	return EncodePageToken(next)
}

// EncodePageToken returns the URL-safe token for an offset. The first page
// has no token.
func EncodePageToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(pageTokenPrefix + strconv.Itoa(offset)))
}

// ParsePageToken decodes a token produced by EncodePageToken. The empty
// token is offset 0.
func ParsePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, ErrValidation("invalid page_token")
	}
	digits, ok := strings.CutPrefix(string(raw), pageTokenPrefix)
	if !ok {
		return 0, ErrValidation("invalid page_token")
	}
	offset, err := strconv.Atoi(digits)
	if err != nil || offset <= 0 {
		return 0, ErrValidation("invalid page_token")
	}
	return offset, nil
}

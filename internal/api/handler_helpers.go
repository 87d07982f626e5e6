package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"apitables/internal/domain"
)

// PredicateArg accepts a JSON scalar or an array of scalars and keeps their
// textual form; the service parses them by column type.
type PredicateArg []string

// UnmarshalJSON implements json.Unmarshaler.
func (p *PredicateArg) UnmarshalJSON(b []byte) error {
	var list []json.RawMessage
	if err := json.Unmarshal(b, &list); err != nil {
		s, err := scalarText(b)
		if err != nil {
			return err
		}
		*p = PredicateArg{s}
		return nil
	}
	out := make(PredicateArg, 0, len(list))
	for _, raw := range list {
		s, err := scalarText(raw)
		if err != nil {
			return err
		}
		out = append(out, s)
	}
	*p = out
	return nil
}

func scalarText(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("predicate values must be strings, numbers or booleans")
	}
}

func predicateColumn(err error) (string, bool) {
	var pe *domain.PredicateError
	if errors.As(err, &pe) {
		return pe.Column, true
	}
	return "", false
}

// pageFromQuery extracts a PageRequest from max_results/page_token.
func pageFromQuery(maxResults, pageToken string) (domain.PageRequest, error) {
	p := domain.PageRequest{PageToken: pageToken}
	if _, err := domain.ParsePageToken(pageToken); err != nil {
		return p, err
	}
	if maxResults != "" {
		n, err := strconv.Atoi(maxResults)
		if err != nil || n < 0 {
			return p, domain.ErrValidation("max_results must be a non-negative integer")
		}
		p.MaxResults = n
	}
	return p, nil
}

// splitList parses a comma separated list, dropping blanks.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// === Mapping helpers ===

func columnToAPI(c domain.Column) Column {
	return Column{
		Name:              c.Name,
		SourceName:        c.SourceName,
		Type:              c.Type.String(),
		Nullable:          c.Nullable,
		Hidden:            c.Hidden,
		PageNumber:        c.PageNumber,
		Comment:           c.Comment,
		RequiresPredicate: predicatesToAPI(c.RequiresPredicate),
		OptionalPredicate: predicatesToAPI(c.OptionalPredicate),
		ResultsPointer:    c.ResultsPointer,
	}
}

func predicatesToAPI(m map[domain.Method]domain.Location) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for method, loc := range m {
		out[string(method)] = string(loc)
	}
	return out
}

func endpointToAPI(e domain.Endpoint) *Endpoint {
	if !e.Supported() {
		return nil
	}
	return &Endpoint{Method: string(e.Method), Path: e.Path}
}

// NewTableDetail builds the wire description of a table and its endpoints.
func NewTableDetail(schema string, t *domain.Table, handle *domain.TableHandle) TableDetail {
	cols := make([]Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = columnToAPI(c)
	}
	return TableDetail{
		Schema:  schema,
		Name:    t.Name,
		Columns: cols,
		Read:    endpointToAPI(handle.Read),
		Insert:  endpointToAPI(handle.Insert),
		Update:  endpointToAPI(handle.Update),
		Delete:  endpointToAPI(handle.Delete),
	}
}

// NewFetchRecord converts a history record to its wire form.
func NewFetchRecord(r domain.FetchRecord) FetchRecord {
	return FetchRecord{
		ID:            r.ID,
		Table:         r.Table,
		Method:        r.Method,
		URL:           r.URL,
		Status:        r.Status,
		StatusCode:    r.StatusCode,
		RowCount:      r.RowCount,
		DurationMs:    r.DurationMs,
		ErrorMessage:  r.ErrorMessage,
		PrincipalName: r.PrincipalName,
		RequestID:     r.RequestID,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func strPtrIfNonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

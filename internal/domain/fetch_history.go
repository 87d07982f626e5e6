package domain

import "time"

// Fetch statuses recorded in history.
const (
	FetchStatusSucceeded = "SUCCEEDED"
	FetchStatusFailed    = "FAILED"
)

// FetchRecord represents a single outbound fetch made on behalf of a query.
type FetchRecord struct {
	ID            string
	Table         string
	Method        string
	URL           string
	Status        string
	StatusCode    *int
	RowCount      *int64
	DurationMs    *int64
	ErrorMessage  *string
	PrincipalName string
	RequestID     string
	CreatedAt     time.Time
}

// FetchHistoryFilter holds filter parameters for listing fetch history.
type FetchHistoryFilter struct {
	Table         *string
	Status        *string
	PrincipalName *string
	From          *time.Time
	To            *time.Time
	Page          PageRequest
}

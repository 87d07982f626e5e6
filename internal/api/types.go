package api

// Error is the body of every non-2xx response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Column  string `json:"column,omitempty"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Source   string `json:"source"`
	LoadedAt string `json:"loaded_at"`
	Tables   int    `json:"tables"`
}

// NameList is a list of schema or table names.
type NameList struct {
	Names []string `json:"names"`
}

// Column describes one table column.
type Column struct {
	Name              string            `json:"name"`
	SourceName        string            `json:"source_name"`
	Type              string            `json:"type"`
	Nullable          bool              `json:"nullable"`
	Hidden            bool              `json:"hidden,omitempty"`
	PageNumber        bool              `json:"page_number,omitempty"`
	Comment           string            `json:"comment,omitempty"`
	RequiresPredicate map[string]string `json:"requires_predicate,omitempty"`
	OptionalPredicate map[string]string `json:"optional_predicate,omitempty"`
	ResultsPointer    []string          `json:"results_pointer,omitempty"`
}

// Endpoint is the method and path template serving one operation.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// TableDetail describes a table and the endpoints behind it.
type TableDetail struct {
	Schema  string    `json:"schema"`
	Name    string    `json:"name"`
	Columns []Column  `json:"columns"`
	Read    *Endpoint `json:"read,omitempty"`
	Insert  *Endpoint `json:"insert,omitempty"`
	Update  *Endpoint `json:"update,omitempty"`
	Delete  *Endpoint `json:"delete,omitempty"`
}

// Rows holds typed rows aligned to Columns.
type Rows struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
	Requests int      `json:"requests,omitempty"`
}

// QueryRequest is the body of a table query.
type QueryRequest struct {
	SQL        string                  `json:"sql"`
	Predicates map[string]PredicateArg `json:"predicates"`
}

// FetchRecord is one recorded upstream call.
type FetchRecord struct {
	ID            string  `json:"id"`
	Table         string  `json:"table"`
	Method        string  `json:"method"`
	URL           string  `json:"url"`
	Status        string  `json:"status"`
	StatusCode    *int    `json:"status_code,omitempty"`
	RowCount      *int64  `json:"row_count,omitempty"`
	DurationMs    *int64  `json:"duration_ms,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	PrincipalName string  `json:"principal_name,omitempty"`
	RequestID     string  `json:"request_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// FetchList is a page of fetch history.
type FetchList struct {
	Fetches       []FetchRecord `json:"fetches"`
	Total         int64         `json:"total"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

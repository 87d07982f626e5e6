package domain

// DefaultSchema is the single schema namespace every compiled table lives in.
const DefaultSchema = "default"

// SecurityRequirement maps a security scheme name to its required scopes.
type SecurityRequirement map[string][]string

// SecurityScheme is the subset of an OpenAPI security scheme the
// upstream authenticator needs to consult.
type SecurityScheme struct {
	Type         string
	Scheme       string
	BearerFormat string
	In           string
	Name         string
	TokenURL     string
}

// Security holds requirements exactly as declared by the document.
type Security struct {
	Document []SecurityRequirement
	// Paths maps a path template to per-method requirements.
	Paths   map[string]map[Method][]SecurityRequirement
	Schemes map[string]SecurityScheme
}

// Table is a compiled table definition. It is immutable after compilation.
type Table struct {
	Name    string
	Columns []Column
	// Paths maps each supported method to the path template serving it.
	Paths map[Method]string
	// Routes lists every path template serving a method, most specific first.
	Routes map[Method][]string
	// Pointers maps a method and path template to the pointer locating rows
	// in that operation's response. Routes without pagination are absent.
	Pointers map[Method]map[string][]string
}

// ResultsPointer returns the pointer locating rows in responses of the
// operation serving method on route, or nil when the whole body is the row
// payload.
func (t *Table) ResultsPointer(method Method, route string) []string {
	return t.Pointers[method][route]
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// VisibleColumnNames returns the names of non-hidden columns in declaration order.
func (t *Table) VisibleColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Hidden {
			names = append(names, c.Name)
		}
	}
	return names
}

// Endpoint is a resolved (method, path) pair. An empty Path means unsupported.
type Endpoint struct {
	Method Method
	Path   string
}

// Supported reports whether the endpoint resolves to a path.
func (e Endpoint) Supported() bool { return e.Path != "" }

// TableHandle is the per-query view of a table: its resolved endpoints
// and the predicate constraint accumulated for the query.
type TableHandle struct {
	Schema     string
	Table      string
	Read       Endpoint
	Insert     Endpoint
	Update     Endpoint
	Delete     Endpoint
	Constraint Constraint
}

// WithConstraint returns a copy of the handle carrying c.
func (h TableHandle) WithConstraint(c Constraint) *TableHandle {
	h.Constraint = c
	return &h
}

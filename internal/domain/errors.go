// Package domain defines the catalog model, query constraints, typed errors
// and repository ports shared across the service.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// SchemaNotFoundError indicates a qualified name used an unknown schema namespace.
type SchemaNotFoundError struct {
	Schema string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("schema %q not found", e.Schema)
}

// AccessDeniedError indicates insufficient permissions.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// DocumentError indicates an OpenAPI document that cannot be compiled.
type DocumentError struct {
	Message string
}

func (e *DocumentError) Error() string { return e.Message }

// PredicateError indicates a predicate required by the upstream request is missing.
type PredicateError struct {
	Table  string
	Column string
	Reason string
}

func (e *PredicateError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "missing required constraint"
	}
	return fmt.Sprintf("%s for %s.%s", reason, e.Table, e.Column)
}

// UpstreamError indicates the upstream API answered with a non-success
// status or a body that could not be decoded.
type UpstreamError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("upstream: unexpected status %d: %s", e.StatusCode, truncate(e.Body, 512))
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrDocument creates a DocumentError with a formatted message.
func ErrDocument(format string, args ...interface{}) *DocumentError {
	return &DocumentError{Message: fmt.Sprintf(format, args...)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

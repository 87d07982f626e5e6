package api

import (
	"errors"
	"net/http"

	"apitables/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var schemaNotFound *domain.SchemaNotFoundError
	var accessDenied *domain.AccessDeniedError
	var validation *domain.ValidationError
	var predicate *domain.PredicateError
	var upstream *domain.UpstreamError
	var conflict *domain.ConflictError

	switch {
	case errors.As(err, &notFound), errors.As(err, &schemaNotFound):
		return http.StatusNotFound
	case errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &validation), errors.As(err, &predicate):
		return http.StatusBadRequest
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.As(err, &conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

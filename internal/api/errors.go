package api

import (
	"context"
	"errors"
	"net/http"

	"etl-orchestrator/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	var configuration *domain.ConfigurationError
	var cycle *domain.CycleDetectedError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &configuration), errors.As(err, &cycle):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON error envelope of every non-2xx response.
type errorBody struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

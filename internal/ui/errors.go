package ui

import (
	"errors"
	"net/http"

	"etl-orchestrator/internal/domain"
)

func (h *Handler) renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	title := "Unexpected Error"
	message := "An unexpected error occurred while loading this page."

	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	var configuration *domain.ConfigurationError
	var cycle *domain.CycleDetectedError
	switch {
	case errors.As(err, &notFound):
		status, title, message = http.StatusNotFound, "Not Found", notFound.Error()
	case errors.As(err, &validation):
		status, title, message = http.StatusBadRequest, "Invalid Request", validation.Error()
	case errors.As(err, &conflict):
		status, title, message = http.StatusConflict, "Conflict", conflict.Error()
	case errors.As(err, &configuration):
		status, title, message = http.StatusUnprocessableEntity, "Configuration Error", configuration.Error()
	case errors.As(err, &cycle):
		status, title, message = http.StatusUnprocessableEntity, "Configuration Error", cycle.Error()
	default:
		h.logger.Error("ui request failed", "path", r.URL.Path, "error", err)
	}
	renderHTML(w, status, errorPage(title, message))
}

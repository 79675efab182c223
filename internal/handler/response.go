// Package handler is the thin JSON request layer over the calendar services.
// Handlers parse requests, call a service, and shape responses; every domain
// decision lives below them.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/fitcal/internal/apperror"
)

// ErrorResponse is the error shape of every API endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps domain errors to HTTP. ErrAuthRequired gets its own error
// code because the client must react to it by prompting re-authorization
// instead of showing a generic failure.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	errorType := "internal_error"
	message := "An internal error occurred"

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrAuthRequired):
			status = http.StatusUnauthorized
			errorType = "google_auth_required"
		case errors.Is(err, apperror.ErrNotConnected):
			status = http.StatusConflict
			errorType = "calendar_not_connected"
		case errors.Is(err, apperror.ErrTokenExchange),
			errors.Is(err, apperror.ErrRefresh),
			errors.Is(err, apperror.ErrRemote):
			status = http.StatusBadGateway
			errorType = "google_unavailable"
		default:
			message = "An internal error occurred"
		}
	}

	writeJSON(w, status, ErrorResponse{Error: errorType, Message: message})
}

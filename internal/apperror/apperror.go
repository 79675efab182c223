// Package apperror defines the error taxonomy of the calendar subsystem.
//
// Sentinel errors classify a failure; *AppError carries the human-readable
// message (and, for provider failures, the upstream status and body). Callers
// match with errors.Is against the sentinels and extract details with
// errors.As. Only the handler layer translates these into HTTP status codes.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")

	// ErrNotConnected means the user has no usable refresh path to the
	// provider: no credential at all, no refresh token, or a refresh that
	// failed. Callers treat it as "must (re-)authorize", not as a crash.
	ErrNotConnected = errors.New("calendar not connected")

	// ErrTokenExchange means the authorization-code exchange with the
	// provider's token endpoint was rejected.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrRefresh means the refresh endpoint rejected a stored refresh token.
	ErrRefresh = errors.New("token refresh failed")

	// ErrAuthRequired means the provider kept answering 401 even after a
	// refresh. The caller must prompt the user to re-authorize; it is the one
	// remote error that is not a generic failure.
	ErrAuthRequired = errors.New("google authorization required")

	// ErrRemote classifies provider failures other than 401: list failures
	// on the pull path, and the absorbed create/patch/delete failures.
	ErrRemote = errors.New("remote calendar request failed")
)

// AppError wraps a sentinel with context. StatusCode and Body are populated
// only for provider-side failures (exchange, refresh, remote calls).
type AppError struct {
	Err        error
	Message    string
	Field      string // optional: input field that failed validation
	StatusCode int    // optional: upstream HTTP status
	Body       string // optional: upstream response body
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func NotConnected(userID string) *AppError {
	return &AppError{
		Err:     ErrNotConnected,
		Message: fmt.Sprintf("no connected calendar for user %s", userID),
	}
}

func AuthRequired(userID string) *AppError {
	return &AppError{
		Err:     ErrAuthRequired,
		Message: fmt.Sprintf("google authorization required for user %s", userID),
	}
}

func TokenExchangeFailed(status int, body string) *AppError {
	return &AppError{
		Err:        ErrTokenExchange,
		Message:    fmt.Sprintf("token exchange failed with status %d", status),
		StatusCode: status,
		Body:       body,
	}
}

func RefreshFailed(status int, body string) *AppError {
	return &AppError{
		Err:        ErrRefresh,
		Message:    fmt.Sprintf("token refresh failed with status %d", status),
		StatusCode: status,
		Body:       body,
	}
}

func RemoteFailed(op string, status int, body string) *AppError {
	return &AppError{
		Err:        ErrRemote,
		Message:    fmt.Sprintf("google calendar %s failed with status %d", op, status),
		StatusCode: status,
		Body:       body,
	}
}

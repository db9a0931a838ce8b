package musicgen

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a failure reported by a generation backend.
type Error struct {
	// Backend names the service, e.g. "replicate".
	Backend string

	// HTTPStatus is the HTTP status code, zero for prediction failures.
	HTTPStatus int

	// Message is the remote error detail. It is meant for logs, not for
	// end users.
	Message string

	// PredictionID identifies the remote job when one was created.
	PredictionID string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.PredictionID != "" {
		return fmt.Sprintf("%s: %s (status=%d, prediction=%s)", e.Backend, e.Message, e.HTTPStatus, e.PredictionID)
	}
	return fmt.Sprintf("%s: %s (status=%d)", e.Backend, e.Message, e.HTTPStatus)
}

// IsAuth returns true if the credentials were rejected.
func (e *Error) IsAuth() bool {
	return e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
}

// IsRateLimit returns true if this is a rate limit error.
func (e *Error) IsRateLimit() bool {
	return e.HTTPStatus == http.StatusTooManyRequests
}

// IsQuota returns true if the account is out of credit.
func (e *Error) IsQuota() bool {
	return e.HTTPStatus == http.StatusPaymentRequired
}

// IsServerError returns true if this is a server-side error.
func (e *Error) IsServerError() bool {
	return e.HTTPStatus >= 500
}

// Retryable returns true if the request can be retried.
func (e *Error) Retryable() bool {
	return e.IsRateLimit() || e.IsServerError()
}

// AsError extracts *Error from an error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

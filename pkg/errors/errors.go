package errors

import (
	stderrors "errors"
	"fmt"
)

// Error types for the screen service
var (
	ErrInvalidCredentials = &ServiceError{
		Code:    "INVALID_CREDENTIALS",
		Message: "Invalid device credentials",
		Status:  401,
	}

	ErrInvalidToken = &ServiceError{
		Code:    "INVALID_TOKEN",
		Message: "Invalid or expired token",
		Status:  401,
	}

	ErrTokenRevoked = &ServiceError{
		Code:    "TOKEN_REVOKED",
		Message: "Token has been revoked",
		Status:  401,
	}

	ErrForbidden = &ServiceError{
		Code:    "FORBIDDEN",
		Message: "Access denied",
		Status:  403,
	}

	ErrNotFound = &ServiceError{
		Code:    "NOT_FOUND",
		Message: "Resource not found",
		Status:  404,
	}

	ErrConflict = &ServiceError{
		Code:    "CONFLICT",
		Message: "Resource conflict",
		Status:  409,
	}

	ErrRateLimitExceeded = &ServiceError{
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "Rate limit exceeded",
		Status:  429,
	}

	// ErrInvalidRequest is used for syntactically invalid requests (missing or
	// malformed parameters) where a 400 response is appropriate.
	ErrInvalidRequest = &ServiceError{
		Code:    "INVALID_REQUEST",
		Message: "Invalid request",
		Status:  400,
	}

	ErrInternalServer = &ServiceError{
		Code:    "INTERNAL_SERVER_ERROR",
		Message: "Internal server error",
		Status:  500,
	}

	// ErrBackendUnavailable covers timeouts and connection errors talking to
	// an instance backend.
	ErrBackendUnavailable = &ServiceError{
		Code:    "BACKEND_UNAVAILABLE",
		Message: "Backend unavailable",
		Status:  502,
	}

	// ErrBackendProtocol is returned when a backend answered with an
	// unexpected status code or body.
	ErrBackendProtocol = &ServiceError{
		Code:    "BACKEND_PROTOCOL_ERROR",
		Message: "Unexpected backend response",
		Status:  502,
	}
)

// ServiceError represents a service-level error
type ServiceError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ServiceError with the same code, so
// errors.Is(err, ErrNotFound) matches any not-found error regardless of message.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap wraps an error with a ServiceError
func Wrap(err error, serviceErr *ServiceError) *ServiceError {
	return &ServiceError{
		Code:    serviceErr.Code,
		Message: serviceErr.Message,
		Status:  serviceErr.Status,
		Err:     err,
	}
}

// New derives an error from a sentinel with a specific message.
func New(serviceErr *ServiceError, message string) *ServiceError {
	return &ServiceError{
		Code:    serviceErr.Code,
		Message: message,
		Status:  serviceErr.Status,
	}
}

// Newf is New with formatting.
func Newf(serviceErr *ServiceError, format string, args ...any) *ServiceError {
	return New(serviceErr, fmt.Sprintf(format, args...))
}

// As extracts the ServiceError from err's chain. Errors that are not
// service errors map to ErrInternalServer with err attached.
func As(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return Wrap(err, ErrInternalServer)
}

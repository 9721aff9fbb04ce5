package api

import "fmt"

// ErrorType is the category of an API error. The HTTP status follows from
// it (see transport.HTTPStatusFromError).
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
)

// CodeExpired marks a not_found error for a share link past its expiry.
const CodeExpired = "expired"

// APIError is the error body returned by the façade. Param names the
// offending request field when there is one.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse is the top-level JSON envelope: {"error": {...}}.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

func newError(t ErrorType, param, message string) *APIError {
	return &APIError{Type: t, Param: param, Message: message}
}

// NewInvalidRequestError reports a malformed or out-of-range request field.
func NewInvalidRequestError(param, message string) *APIError {
	return newError(ErrorTypeInvalidRequest, param, message)
}

func NewNotFoundError(message string) *APIError {
	return newError(ErrorTypeNotFound, "", message)
}

// NewConflictError reports a write that clashes with an existing project.
func NewConflictError(param, message string) *APIError {
	return newError(ErrorTypeConflict, param, message)
}

func NewServerError(message string) *APIError {
	return newError(ErrorTypeServerError, "", message)
}

func NewUnauthorizedError(message string) *APIError {
	return newError(ErrorTypeUnauthorized, "", message)
}

func NewTooManyRequestsError(message string) *APIError {
	return newError(ErrorTypeTooManyRequests, "", message)
}

// NewExpiredError reports a share link past its expiry.
func NewExpiredError(message string) *APIError {
	e := newError(ErrorTypeNotFound, "", message)
	e.Code = CodeExpired
	return e
}

package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes exposed to API consumers.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeForbidden          = "FORBIDDEN"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeNotFound           = "NOT_FOUND"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTransformation     = "TRANSFORMATION_ERROR"
	CodeRuleExecution      = "RULE_EXECUTION_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
	CodeAuth               = "AUTH_ERROR"
)

var defaultStatus = map[string]int{
	CodeValidation:         http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeInvalidToken:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeUserNotFound:       http.StatusNotFound,
	CodeRateLimitExceeded:  http.StatusTooManyRequests,
	CodeNotFound:           http.StatusNotFound,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeTransformation:     http.StatusBadRequest,
	CodeRuleExecution:      http.StatusInternalServerError,
	CodeInternal:           http.StatusInternalServerError,
	CodeAuth:               http.StatusInternalServerError,
}

// StatusFor returns the default HTTP status for a code (500 when unknown).
func StatusFor(code string) int {
	if s, ok := defaultStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the domain error shape. Handlers may return it to control the
// status and code the gateway reports.
type Error struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
}

// NewError builds an Error with the default status for its code.
func NewError(code, message string) *Error {
	return &Error{Code: code, Status: StatusFor(code), Message: message}
}

// Errorf is NewError with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithDetails returns the error with details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Response converts the error into a terminal response.
func (e *Error) Response() *Response {
	status := e.Status
	if status == 0 {
		status = StatusFor(e.Code)
	}
	return &Response{
		Status: status,
		Error: &ErrorBody{
			Code:    e.Code,
			Message: e.Message,
			Details: e.Details,
		},
	}
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
)

// Error codes returned in the error envelope.
const (
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeConfigError       = "CONFIG_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInvalidOperation  = "INVALID_OPERATION"
	CodeInvalidJSON       = "INVALID_JSON"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeBadRequest        = "BAD_REQUEST"
)

// ErrorBody is the inner object of the error envelope.
type ErrorBody struct {
	Code    string `doc:"Machine readable error code" example:"RATE_LIMIT_EXCEEDED" json:"code"`
	Message string `doc:"Human readable description"  json:"message"`
	Details any    `doc:"Code specific details"       json:"details,omitempty"`
}

// APIError is the error envelope every failed request is answered with.
type APIError struct {
	status int
	Err    ErrorBody `json:"error"`
}

// NewAPIError creates an envelope with the given status, code and message.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{status: status, Err: ErrorBody{Code: code, Message: message}}
}

// WithDetails attaches code specific details.
func (e *APIError) WithDetails(details any) *APIError {
	e.Err.Details = details

	return e
}

func (e *APIError) Error() string {
	return e.Err.Code + ": " + e.Err.Message
}

func (e *APIError) GetStatus() int {
	return e.status
}

// ContentType keeps errors as plain JSON instead of problem+json.
func (e *APIError) ContentType(ct string) string {
	if ct == "application/problem+json" || ct == "" {
		return "application/json"
	}

	return ct
}

// RateLimitDetails accompany RATE_LIMIT_EXCEEDED.
type RateLimitDetails struct {
	RemainingRequests int    `json:"remainingRequests"`
	ResetTime         string `json:"resetTime"`
	RetryAfter        int64  `json:"retryAfter"`
}

// OperationDetails accompany INVALID_OPERATION.
type OperationDetails struct {
	ValidOperations []string `json:"validOperations"`
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return CodeInvalidJSON
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	case http.StatusTooManyRequests:
		return CodeRateLimitExceeded
	}

	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		return CodeBadRequest
	}

	return CodeInternalError
}

// Framework generated errors (unreadable bodies, parameter validation) use
// the same envelope. Server errors never expose their cause.
func init() {
	huma.NewError = func(status int, msg string, _ ...error) huma.StatusError {
		if status >= http.StatusInternalServerError {
			msg = "Internal server error"
		}

		return NewAPIError(status, codeForStatus(status), msg)
	}
}

func errInternal() *APIError {
	return NewAPIError(http.StatusInternalServerError, CodeInternalError, "Internal server error")
}

func errUnauthorized(message string) *APIError {
	return NewAPIError(http.StatusUnauthorized, CodeUnauthorized, message)
}

func retryAfterHeader(seconds int64) string {
	return strconv.FormatInt(max(seconds, 0), 10)
}

var (
	_ huma.StatusError       = (*APIError)(nil)
	_ huma.ContentTypeFilter = (*APIError)(nil)
)

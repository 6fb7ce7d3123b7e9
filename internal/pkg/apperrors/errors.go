package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrUnsupportedMedia ErrorType = "UNSUPPORTED_MEDIA_TYPE"
	ErrPayloadSize      ErrorType = "PAYLOAD_TOO_LARGE"
	ErrMalformedJSON    ErrorType = "MALFORMED_JSON"
	ErrValidation       ErrorType = "VALIDATION_FAILED"
	ErrRateLimited      ErrorType = "RATE_LIMITED"
	ErrUpstream         ErrorType = "UPSTREAM_ERROR"
	ErrUpstreamTimeout  ErrorType = "UPSTREAM_TIMEOUT"
	ErrUnavailable      ErrorType = "SERVICE_UNAVAILABLE"
	ErrInternal         ErrorType = "INTERNAL_ERROR"
)

const maxDetailsChars = 500

// AppError is the standard error struct for the application. Message and
// Details are safe to show to callers; Cause never leaves the process.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Envelope is the JSON body written for every failed request.
type Envelope struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Envelope() Envelope {
	return Envelope{OK: false, Error: e.Message, Details: e.Details}
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
	}
}

func NewValidation(msg string) *AppError {
	return New(ErrValidation, msg, nil)
}

// NewUpstream reports a failed upstream call. details is cut to 500 chars.
func NewUpstream(msg, details string, cause error) *AppError {
	e := New(ErrUpstream, msg, cause)
	e.Details = Truncate(details, maxDetailsChars)
	return e
}

// Wrap converts any error into an AppError. Unknown errors become a generic
// internal error whose message does not reveal the cause.
func Wrap(err error, publicMsg string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, publicMsg, err)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case ErrPayloadSize:
		return http.StatusRequestEntityTooLarge
	case ErrMalformedJSON:
		return http.StatusBadRequest
	case ErrValidation:
		return http.StatusUnprocessableEntity
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUpstream, ErrUpstreamTimeout:
		return http.StatusBadGateway
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package http

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error the API exposes to clients. Status selects the HTTP
// status; Err stays server side.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithError attaches the underlying cause.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newAppError(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func NotFoundErrorf(format string, a ...any) *AppError {
	return newAppError(http.StatusNotFound, "ERR_NOT_FOUND", fmt.Sprintf(format, a...))
}

func BadRequestError(message string) *AppError {
	return newAppError(http.StatusBadRequest, "ERR_BAD_REQUEST", message)
}

func InternalError(message string) *AppError {
	return newAppError(http.StatusInternalServerError, "ERR_INTERNAL", message)
}

// UnavailableError is returned while a dependency refuses calls, e.g. an
// open circuit breaker.
func UnavailableError(message string) *AppError {
	return newAppError(http.StatusServiceUnavailable, "ERR_UNAVAILABLE", message)
}

// fieldError reports one invalid request parameter.
func fieldError(code, field, message string, params map[string]any) *AppError {
	e := newAppError(http.StatusBadRequest, code, message)
	e.Field = field
	if len(params) > 0 {
		e.Params = params
	}
	return e
}

// appErrors collects every *AppError in err's tree, following joined errors.
func appErrors(err error) []*AppError {
	var out []*AppError
	var walk func(error)
	walk = func(err error) {
		var ae *AppError
		if errors.As(err, &ae) {
			out = append(out, ae)
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
		}
	}
	if err != nil {
		walk(err)
	}
	return out
}

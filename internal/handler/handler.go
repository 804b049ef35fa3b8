// Package handler provides the http handler plumbing shared by the
// proxy: typed handler errors and the middleware chain.
package handler

import "net/http"

// Error is a handler error with an http status code.
type Error struct {
	Message string
	Code    int
}

func (e *Error) Error() string {
	return e.Message
}

// BadRequest returns a 400 error with the given message.
func BadRequest(message string) *Error {
	return &Error{
		Message: message,
		Code:    http.StatusBadRequest,
	}
}

// NotFound returns a 404 error.
func NotFound() *Error {
	return &Error{
		Message: "page not found",
		Code:    http.StatusNotFound,
	}
}

// InternalServerError returns a 500 error.
func InternalServerError() *Error {
	return &Error{
		Message: "something went wrong",
		Code:    http.StatusInternalServerError,
	}
}

// ServiceUnavailable returns a 503 error.
func ServiceUnavailable() *Error {
	return &Error{
		Message: "service unavailable",
		Code:    http.StatusServiceUnavailable,
	}
}

// GatewayTimeout returns a 504 error.
func GatewayTimeout() *Error {
	return &Error{
		Message: "upstream timed out",
		Code:    http.StatusGatewayTimeout,
	}
}

// Handler is an http handler returning a typed error.
type Handler func(w http.ResponseWriter, r *http.Request) *Error

// ServeHTTP implements http.Handler, writing the returned error if
// any.
func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		http.Error(w, err.Message, err.Code)
	}
}

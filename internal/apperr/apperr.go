// Package apperr carries the frontend-facing error shape and the translation of
// upstream HTTP failures into it.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error is an error with an HTTP status and a stable machine-readable code.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without a cause.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Wrap builds an Error around a cause.
func Wrap(err error, status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, "invalid_request", message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, "unauthorized", message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "forbidden", message)
}

func NotFound(what string) *Error {
	return New(http.StatusNotFound, "not_found", what+" not found")
}

func Conflict(code, message string) *Error {
	return New(http.StatusConflict, code, message)
}

func Internal(err error) *Error {
	return Wrap(err, http.StatusInternalServerError, "internal", "internal error")
}

// Upstream translates a non-2xx status from an external service.
func Upstream(service string, status int, detail string) *Error {
	msg := service + " request failed"
	if detail != "" {
		msg = service + ": " + detail
	}
	switch {
	case status == http.StatusUnauthorized:
		return New(http.StatusUnauthorized, "unauthorized", msg)
	case status == http.StatusForbidden:
		return New(http.StatusForbidden, "forbidden", msg)
	case status == http.StatusNotFound:
		return New(http.StatusNotFound, "not_found", msg)
	case status == http.StatusConflict:
		return New(http.StatusConflict, "conflict", msg)
	case status == http.StatusTooManyRequests:
		return New(http.StatusTooManyRequests, "upstream_rate_limited", msg)
	case status >= 500:
		return New(http.StatusBadGateway, "upstream_unavailable", service+" unavailable")
	default:
		return New(http.StatusBadRequest, "upstream_rejected", msg)
	}
}

// Unreachable wraps a transport failure talking to an external service.
func Unreachable(service string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, http.StatusGatewayTimeout, "upstream_timeout", service+" timed out")
	}
	return Wrap(err, http.StatusBadGateway, "upstream_unavailable", service+" unavailable")
}

// From normalizes any error into an *Error. Unknown errors become 500s whose
// message never includes the cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		return Upstream("upstream", sc.HTTPStatus(), "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, http.StatusGatewayTimeout, "upstream_timeout", "upstream timed out")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(err, 499, "canceled", "request canceled")
	}
	return Internal(err)
}

// Status returns the HTTP status carried by err, or 500.
func Status(err error) int {
	if e := From(err); e != nil {
		return e.Status
	}
	return http.StatusOK
}

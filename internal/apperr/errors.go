package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kinds. Classify with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrPaymentIncomplete = errors.New("payment incomplete")
	ErrGateway           = errors.New("gateway error")
	ErrBroker            = errors.New("broker error")
	ErrStore             = errors.New("store error")
	// ErrGatewayRejected is a gateway answer that repeating will not change.
	// It also matches ErrGateway.
	ErrGatewayRejected = fmt.Errorf("%w: rejected", ErrGateway)
)

// Error pairs a kind with a message and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to cause. A nil cause yields nil.
func Wrap(kind error, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func Validation(format string, args ...any) error { return New(ErrValidation, format, args...) }
func NotFound(format string, args ...any) error   { return New(ErrNotFound, format, args...) }

// Store wraps a persistence failure, keeping context deadlines visible to IsTimeout.
func Store(cause error, op string) error { return Wrap(ErrStore, cause, "%s", op) }

func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Retryable reports whether repeating the same operation may succeed.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrPaymentIncomplete),
		errors.Is(err, ErrGatewayRejected):
		return false
	case IsTimeout(err), errors.Is(err, ErrStore), errors.Is(err, ErrBroker),
		errors.Is(err, ErrGateway), errors.Is(err, ErrConflict):
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrPaymentIncomplete):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrGatewayRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, ErrBroker):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

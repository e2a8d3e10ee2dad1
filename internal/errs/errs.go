// Package errs defines the failure kinds surfaced by the bridge. Every error that
// crosses a component boundary carries one of these kinds so that HTTP handlers and
// the tool protocol can report a stable kind string.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, client-visible classification of a failure.
type Kind string

const (
	WorkflowNotFound      Kind = "WorkflowNotFound"
	RegistrationNotFound  Kind = "RegistrationNotFound"
	InvalidArguments      Kind = "InvalidArguments"
	AuthenticationFailure Kind = "AuthenticationFailure"
	ExecutionTimeout      Kind = "ExecutionTimeout"
	UpstreamError         Kind = "UpstreamError"
	Internal              Kind = "Internal"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so that errors.Is(err, errs.New(errs.WorkflowNotFound, ""))
// matches any WorkflowNotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFoundWorkflow(workflowID string) *Error {
	return New(WorkflowNotFound, "workflow %q not found", workflowID)
}

func NotFoundRegistration(workflowID, tenantKey string) *Error {
	return New(RegistrationNotFound, "no active registration for workflow %q and key %s", workflowID, Mask(tenantKey))
}

func InvalidArgumentsf(format string, args ...any) *Error {
	return New(InvalidArguments, format, args...)
}

// KindOf returns the kind of err. Context deadline errors map to ExecutionTimeout,
// anything unclassified is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExecutionTimeout
	}
	return Internal
}

// HasKind reports whether err is classified as kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to the status used by the management API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case WorkflowNotFound, RegistrationNotFound:
		return http.StatusNotFound
	case InvalidArguments:
		return http.StatusBadRequest
	case AuthenticationFailure, UpstreamError:
		return http.StatusBadGateway
	case ExecutionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Mask shortens a tenant key for logs and listings.
func Mask(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}

// Detail returns the message of err without its kind prefix.
func Detail(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch {
	case e.Err != nil && e.Message == "":
		return e.Err.Error()
	case e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	default:
		return e.Message
	}
}

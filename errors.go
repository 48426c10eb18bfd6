package taskgate

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway-level failure so that HTTP handlers and
// callers can map it to a status code without string-matching messages.
type ErrorKind string

const (
	KindUnauthenticated         ErrorKind = "unauthenticated"
	KindForbidden               ErrorKind = "forbidden"
	KindNotFound                ErrorKind = "not_found"
	KindInvalidArgument         ErrorKind = "invalid_argument"
	KindUnsupported             ErrorKind = "unsupported"
	KindDecompositionError      ErrorKind = "decomposition_error"
	KindNoSuitableModel         ErrorKind = "no_suitable_model"
	KindModelScoringUnavailable ErrorKind = "model_scoring_unavailable"
	KindUpstreamLLMFailure      ErrorKind = "upstream_llm_failure"
	KindInternal                ErrorKind = "internal"
)

// Error is the typed error returned by every gateway component. Kind
// determines the HTTP status and client-facing code; Message is safe to
// surface to the caller, and Err (if set) is the wrapped internal cause
// that callers should not expose.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a gateway Error with no wrapped cause.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a gateway Error wrapping an internal cause. The cause is
// preserved for logging but never rendered directly to API callers.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to KindInternal when err
// is not (or does not wrap) a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Package execerr classifies failures of remote run executions.
//
// Every error that crosses the remote boundary carries a declared Kind. The
// retry policy decides on the kind alone; message text is only for humans.
package execerr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the declared classification of an execution failure.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindUnavailable  Kind = "unavailable"
	KindRateLimited  Kind = "rate_limited"
	KindNotFound     Kind = "not_found"
	KindAccessDenied Kind = "access_denied"
	KindInvalidInput Kind = "invalid_input"
	KindRunFailed    Kind = "run_failed"
	KindCancelled    Kind = "cancelled"
	KindInternal     Kind = "internal"
)

// Transient reports whether failures of this kind are worth another attempt.
func (k Kind) Transient() bool {
	switch k {
	case KindTimeout, KindUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is an execution failure with a declared kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the declared kind of err. Undeclared context and network
// timeouts are timeouts, cancellations are cancellations and everything
// else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var declared *Error
	if errors.As(err, &declared) {
		return declared.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindUnavailable
	}

	return KindInternal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return err != nil && KindOf(err).Transient()
}

// Public returns the kind and a message safe to show to API clients.
// Internal failures never expose their detail.
func Public(err error) (Kind, string) {
	kind := KindOf(err)
	if kind == KindInternal {
		return kind, "internal error"
	}

	var declared *Error
	if errors.As(err, &declared) && declared.Message != "" {
		return kind, declared.Message
	}
	return kind, err.Error()
}

// Package vdberr defines the transport-independent error taxonomy used
// throughout vdb: every fallible operation in the collection engine, the
// cache, the WAL, and the cluster coordinator returns a *vdberr.Error (or
// wraps one), so callers can branch on Kind without parsing strings.
package vdberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error independent of how it is eventually transported
// (HTTP status, RPC status code, exit code).
type Kind int

const (
	// Internal marks an invariant violation with no external cause.
	Internal Kind = iota
	// Invalid marks a malformed request: dimension mismatch, NaN/Inf, bad args.
	Invalid
	// NotFound marks a reference to an unknown collection or vector id.
	NotFound
	// Conflict marks a duplicate create or a reject-on-duplicate insert.
	Conflict
	// Unavailable marks an unreachable remote node or an empty router entry.
	Unavailable
	// Timeout marks a deadline exceeded on an RPC or a blocking operation.
	Timeout
	// ResourceExhausted marks a memory cap, cache bound, or full disk.
	ResourceExhausted
	// Corruption marks a CRC mismatch on WAL or snapshot data.
	Corruption
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "Invalid"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Unavailable:
		return "Unavailable"
	case Timeout:
		return "Timeout"
	case ResourceExhausted:
		return "ResourceExhausted"
	case Corruption:
		return "Corruption"
	default:
		return "Internal"
	}
}

// Retryable reports whether a caller may reasonably retry an operation that
// failed with this kind, per the propagation policy in §7.
func (k Kind) Retryable() bool {
	switch k {
	case Unavailable, Timeout, ResourceExhausted:
		return true
	default:
		return false
	}
}

// Error is the concrete error type returned by vdb packages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, vdberr.NotFound) style matching against a bare Kind
// sentinel created via New(kind, "").
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message context to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal if err is not (or
// does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Retryable reports whether err, when unwrapped to a *Error, is retryable.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

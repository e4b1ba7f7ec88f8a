// Package errs defines the error taxonomy shared by every layer of
// pwncat: channels, platforms, sessions and modules all fail with one
// of the Kinds below so callers can dispatch on errors.Is/As instead of
// string matching.
package errs

import "fmt"

// Kind classifies a failure the way spec.md's error taxonomy does.
type Kind int

const (
	// Transport is a channel-level I/O failure; the session is closed.
	Transport Kind = iota
	// Protocol is an unexpected byte sequence or malformed message; the
	// channel is poisoned.
	Protocol
	// Timeout is a deadline exceeded; the caller decides whether to retry.
	Timeout
	// Permission is a remote EACCES/EPERM or missing capability; recoverable.
	Permission
	// NotFound is a missing binary, file, user, module or plugin; recoverable.
	NotFound
	// Busy is an illegal concurrent operation on a session (RAW vs framed).
	Busy
	// Argument is a bad module argument; never reaches the transport.
	Argument
	// EscalationFailed aggregates failed privilege-escalation attempts.
	EscalationFailed
	// Platform is a driver invariant violation; fatal for the session.
	Platform
	// Blocked indicates no data was available on a non-blocking channel.
	// It is not a true error and callers frequently swallow it.
	Blocked
	// Eof indicates the channel was closed in an orderly fashion.
	Eof
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Timeout:
		return "timeout"
	case Permission:
		return "permission"
	case NotFound:
		return "not_found"
	case Busy:
		return "busy"
	case Argument:
		return "argument"
	case EscalationFailed:
		return "escalation_failed"
	case Platform:
		return "platform"
	case Blocked:
		return "blocked"
	case Eof:
		return "eof"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every pwncat package.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "channel.recv", "linux.probe"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, Sentinel(Busy)) work by comparing Kind against
// a bare Kind value wrapped in an *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind wrapping err (which may be nil).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinel returns a comparable *Error with no wrapped cause, suitable
// for use as an errors.Is target, e.g. errors.Is(err, errs.Sentinel(errs.Busy)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// OfKind reports whether err (or something it wraps) is a *Error of kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

// as is a tiny local shim so this package does not need to import the
// standard "errors" package under the same name as itself.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// EscalationAttempt records one failed privilege-escalation step.
type EscalationAttempt struct {
	Method string
	User   string
	Err    error
}

// EscalationFailedError aggregates every attempted escalation path.
type EscalationFailedError struct {
	Attempted      []EscalationAttempt
	ReachableUsers []string
	LastError      error
}

func (e *EscalationFailedError) Error() string {
	return fmt.Sprintf("escalation failed after %d attempt(s), reachable users: %v",
		len(e.Attempted), e.ReachableUsers)
}

func (e *EscalationFailedError) Unwrap() error { return e.LastError }

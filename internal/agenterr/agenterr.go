// Package agenterr defines the error kinds the control plane can return.
// A command handler that fails returns one of these to internal/control,
// which maps it onto a bare ACK/ERROR frame.
package agenterr

import "fmt"

// Kind classifies a failure so internal/control can decide how to respond
// and whether it is fatal to the pod or only to the one request.
type Kind int

const (
	// ParseError is bad JSON or a malformed frame.
	ParseError Kind = iota
	// NotFound is an unknown container id or exec seq. Never fatal.
	NotFound
	// Busy is a remove requested for a still-running container.
	Busy
	// Os is a syscall failure: mount, namespace, clone, setns.
	Os
	// Protocol is an unknown frame type or an oversized frame.
	Protocol
	// Internal is inconsistent registry state.
	Internal
)

func (k Kind) String() string {
	switch k {
	case ParseError:
		return "ParseError"
	case NotFound:
		return "NotFound"
	case Busy:
		return "Busy"
	case Os:
		return "Os"
	case Protocol:
		return "Protocol"
	case Internal:
		return "Internal"
	}
	return "Unknown"
}

// Error is an error carrying one of the Kind values above.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind carried by err, or Internal if err does not wrap
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return Internal
}

// As walks err's single-error Unwrap chain and stores the first *Error it
// finds in target, so callers only need to import this package for the
// common case. It does not call errors.As and does not follow
// Unwrap() []error.
func As(err error, target **Error) bool {
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

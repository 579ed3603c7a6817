// Package errkind classifies every error this core can produce into the
// four kinds the machine-build and device-dispatch paths handle
// differently: a bad device configuration aborts construction, an I/O
// failure is reported through the emulated device's own status register
// and never leaves it, a protocol violation is logged and the offending
// transaction is aborted, and a broken invariant is fatal to the whole VM
// instance.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the four error classes.
type Kind int

const (
	// Config covers a bad device option, an out-of-range register value
	// supplied at construction time, or two devices claiming the same
	// I/O base. Reported to the machine-build step, which aborts.
	Config Kind = iota
	// IO covers a disk-image read/write failure, a network sink
	// rejecting a frame, or an audio sink starving. Surfaced only in the
	// owning device's status/error register.
	IO
	// Protocol covers an unknown command byte, an invalid state
	// transition, or a FIFO buffer overrun. Logged, and the in-flight
	// transaction is aborted.
	Protocol
	// Fatal covers a broken memory-map invariant or a dangling event
	// owner. There is no recovery; the caller panics.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case IO:
		return "io"
	case Protocol:
		return "protocol"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the kind that determines how a
// caller must propagate it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(k Kind, op, format string, args ...any) error {
	return &Error{Kind: k, Op: op, Err: fmt.Errorf(format, args...)}
}

// Configf builds a Config-kind error, for use at machine-build time.
func Configf(op, format string, args ...any) error { return newf(Config, op, format, args...) }

// IOf builds an IO-kind error. Callers store this in the device's own
// status/error register rather than returning it to the bus dispatcher.
func IOf(op, format string, args ...any) error { return newf(IO, op, format, args...) }

// Protocolf builds a Protocol-kind error for an aborted transaction.
func Protocolf(op, format string, args ...any) error { return newf(Protocol, op, format, args...) }

// Is reports whether err carries kind k, unwrapping through any chain.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Raise panics with a Fatal-kind error, terminating the VM instance. It is
// called only for invariants that must never be false: a dangling event
// owner, a memory-map range that overlaps what it was promised not to.
func Raise(op string, err error) {
	panic(&Error{Kind: Fatal, Op: op, Err: err})
}

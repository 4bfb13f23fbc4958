// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"errors"
	"fmt"
)

// ErrorCode is the high-level category of a *Error.
type ErrorCode string

const (
	// ErrCodeNoMemory means an allocation failed. It is the only failure
	// mode for most core operations and is always recoverable by the caller.
	ErrCodeNoMemory ErrorCode = "no memory"

	// ErrCodeDisconnected means the target connection is no longer attached
	// to the bus. Staging a send to a disconnected connection is not an
	// error condition at the Transaction layer (see Transaction.SendMessage);
	// this code exists for collaborators that need to report the same
	// condition through the *Error type, e.g. a Transport whose Send is
	// called directly.
	ErrCodeDisconnected ErrorCode = "disconnected"

	// ErrCodeLoaderCorrupted means a MessageLoader observed bytes it cannot
	// interpret as a well-formed message stream. The loader stops making
	// progress permanently; the caller is expected to close the connection.
	ErrCodeLoaderCorrupted ErrorCode = "loader corrupted"

	// ErrCodeProgrammingError marks a violated internal invariant: mutating
	// a locked Message, double-borrowing a loader buffer, releasing a
	// service a connection does not own. These are bugs, not runtime
	// conditions, and are reported by panicking with *Error rather than
	// by a returned error.
	ErrCodeProgrammingError ErrorCode = "programming error"
)

// Error is the structured error type returned (or panicked, for
// ErrCodeProgrammingError) by every exported bus operation that can fail.
type Error struct {
	Op    string    // operation that failed, e.g. "MessageLoader.GetBuffer"
	Code  ErrorCode
	Conn  *Connection // connection this error is scoped to, if any
	Inner error       // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("bus: %s", e.Code)
	}
	if e.Inner != nil {
		return fmt.Sprintf("bus: %s: %s: %v", e.Op, e.Code, e.Inner)
	}
	return fmt.Sprintf("bus: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is reports whether target is one of the package sentinel values
// (ErrNoMemory, ErrDisconnected, ErrLoaderCorrupted) matching e's code, so
// errors.Is(err, bus.ErrNoMemory) works regardless of Op/Conn/Inner.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNoMemory:
		return e.Code == ErrCodeNoMemory
	case ErrDisconnected:
		return e.Code == ErrCodeDisconnected
	case ErrLoaderCorrupted:
		return e.Code == ErrCodeLoaderCorrupted
	}
	return false
}

// Sentinel values for errors.Is comparisons. They are never themselves
// returned; every returned error is a *Error whose Is method matches these.
var (
	ErrNoMemory        = errors.New("bus: no memory")
	ErrDisconnected    = errors.New("bus: disconnected")
	ErrLoaderCorrupted = errors.New("bus: loader corrupted")
)

// newError builds a *Error for the given op/code, optionally wrapping inner.
func newError(op string, code ErrorCode, conn *Connection, inner error) *Error {
	return &Error{Op: op, Code: code, Conn: conn, Inner: inner}
}

// programmingError panics with a *Error carrying ErrCodeProgrammingError.
// Call sites use this for invariant violations that indicate a bug in the
// caller, not a runtime condition — matching the distilled specification's
// "these terminate the process in debug and are undefined in release".
func programmingError(op, msg string) {
	panic(&Error{Op: op, Code: ErrCodeProgrammingError, Inner: errors.New(msg)})
}

// ErrNameNoMemory is the reverse-DNS error name used on outbound error
// replies constructed for an allocation failure (see Transaction.SendErrorReply
// and the per-connection OOM reply slot in connection.go).
const ErrNameNoMemory = "org.bus.Error.NoMemory"

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import "context"

// Transport is the per-connection byte-transport collaborator. The core
// never parses or writes raw bytes itself beyond what MessageLoader needs;
// everything else — readiness, preallocation, actual delivery — is this
// interface's job. Reference implementations live in package transport.
type Transport interface {
	// IsConnected reports whether the underlying connection is still live.
	IsConnected() bool

	// SetWatchFunctions installs the callbacks the transport uses to tell
	// the event loop a watch should be added or removed. Called once by
	// Registry.Setup.
	SetWatchFunctions(add func(Watch) error, remove func(Watch))

	// HandleWatch is invoked by the watch adapter when a registered Watch
	// becomes ready, with the readiness condition that fired.
	HandleWatch(w Watch, condition WatchCondition)

	// DispatchMessage performs one unit of dispatch work (typically: parse
	// one buffered message and hand it to the Dispatcher) and reports
	// whether further work remains ready without waiting.
	DispatchMessage() bool

	// PreallocateSend reserves capacity for exactly one future send. The
	// returned token is transport-defined and opaque to the core; it is
	// threaded back through SendPreallocated or FreePreallocated.
	PreallocateSend() (token any, err error)

	// SendPreallocated consumes a reservation token obtained from
	// PreallocateSend to send msg. Must not fail for allocation reasons.
	SendPreallocated(token any, msg *Message) error

	// FreePreallocated releases a reservation token without sending.
	FreePreallocated(token any)

	// Disconnect tears down the underlying connection.
	Disconnect()
}

// Dispatcher is the collaborator that decodes and acts on inbound messages.
// The core calls it once per Connection lifecycle event and once per
// inbound Message; the Dispatcher is free to stage outbound sends onto a
// Transaction it creates.
type Dispatcher interface {
	// AddConnection is called once, from Registry.Setup, after the
	// connection record exists and before any message is dispatched to it.
	AddConnection(conn *Connection)

	// RemoveConnection is called once, from the disconnect teardown
	// sequence, after owned services have been released.
	RemoveConnection(conn *Connection)

	// Dispatch handles one inbound message on behalf of conn. txn is
	// provided so Dispatch may stage replies or broadcasts without
	// creating its own transaction when it is already inside one (e.g.
	// during disconnect teardown); Dispatch may also be called with a
	// fresh per-message transaction it creates and frees itself.
	//
	// A returned error that wraps ErrNoMemory means staging onto txn failed;
	// the caller is expected to cancel txn and answer conn's request via its
	// primed OOM reply slot (see Connection.PreallocateOOMError/SendOOMError)
	// rather than commit a transaction with a dropped reply.
	Dispatch(txn *Transaction, conn *Connection, msg *Message) error
}

// ServiceOwner is the external Service-name layer: it tracks which
// connection currently owns each well-known service name and mirrors that
// onto Connection.AddOwnedService / Connection.RemoveOwnedService.
type ServiceOwner interface {
	// RemoveOwner releases conn's ownership of service, staging any
	// resulting ownership-changed broadcast messages onto txn. Called by
	// the registry's disconnect teardown once per owned service, in LIFO
	// order, and may be retried (see Registry.Disconnected) if it fails
	// with ErrNoMemory.
	RemoveOwner(service string, conn *Connection, txn *Transaction) error
}

// EventLoop is the collaborator that owns watch registration and the
// wait-for-memory retry primitive used by non-abortable teardown paths.
type EventLoop interface {
	// AddWatch registers w so its readiness will later be delivered via
	// Transport.HandleWatch.
	AddWatch(w Watch) error

	// RemoveWatch unregisters a previously added watch.
	RemoveWatch(w Watch)

	// WaitForMemory blocks briefly, giving the allocator a chance to
	// recover, or returns early if ctx is done. It must always return; it
	// does not itself guarantee memory became available.
	WaitForMemory(ctx context.Context)
}

// Logger is the leveled logging sink the core and its reference
// collaborators write diagnostic output through. See internal/logging for
// the default implementation.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Watch represents one readiness registration a Transport asks the
// EventLoop to track (typically: "tell me when this file descriptor is
// readable/writable"). Its shape is intentionally opaque to the core: it is
// handed back unexamined to Transport.HandleWatch.
type Watch interface {
	// ID distinguishes this watch from others owned by the same Transport,
	// for logging and for EventLoop implementations that index watches.
	ID() any
}

// WatchCondition is a bitmask of readiness conditions, mirroring common
// poll()/epoll() semantics closely enough for a Transport to interpret.
type WatchCondition uint8

const (
	WatchReadable WatchCondition = 1 << iota
	WatchWritable
	WatchError
	WatchHangup
)

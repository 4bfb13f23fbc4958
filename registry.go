// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"context"
	"errors"
)

// Registry is the process-wide, loop-thread-only set of active
// connections. It owns the per-connection data slot (a typed map rather
// than the generic pointer-plus-destructor the distilled design describes
// at the transport layer — see SPEC_FULL.md §9), drives connection setup,
// and performs the prescribed disconnect teardown sequence.
type Registry struct {
	loop       EventLoop
	dispatcher Dispatcher
	services   ServiceOwner
	logger     Logger
	framer     Framer

	maxMessageSize int

	slots map[Transport]*Connection
	order []*Connection

	serial int32
}

// RegistryOption configures a Registry at construction time, following the
// functional-options idiom used throughout the wire package this module was
// built from.
type RegistryOption func(*Registry)

// WithLogger sets the Logger the registry and connections it creates use.
func WithLogger(l Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithFramer sets the default Framer new connections are given. Defaults to
// DefaultFramer{} if unset.
func WithFramer(f Framer) RegistryOption {
	return func(r *Registry) { r.framer = f }
}

// WithMaxMessageSize sets the default max message size new connections'
// loaders are configured with.
func WithMaxMessageSize(n int) RegistryOption {
	return func(r *Registry) { r.maxMessageSize = n }
}

// NewRegistry returns an initialized Registry. loop, dispatcher, and
// services are the mandatory external collaborators (§6); Init is folded
// into the constructor since, in Go, there is no separate fallible
// allocation step worth exposing for it.
func NewRegistry(loop EventLoop, dispatcher Dispatcher, services ServiceOwner, opts ...RegistryOption) *Registry {
	r := &Registry{
		loop:       loop,
		dispatcher: dispatcher,
		services:   services,
		logger:     noopLogger{},
		framer:     DefaultFramer{},
		slots:      make(map[Transport]*Connection),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextSerial returns the next serial to assign to an outbound message. It
// is the one piece of process-wide mutable state besides the registry
// itself and the per-connection slot map (SPEC_FULL.md §5); wraparound past
// math.MaxInt32 is unhandled, matching the distilled design.
func (r *Registry) NextSerial() int32 {
	r.serial++
	return r.serial
}

// Setup allocates a Connection record for transport, installs it in the
// registry's slot map, appends it to iteration order, wires the watch
// adapter, and announces it to the Dispatcher.
func (r *Registry) Setup(transport Transport) *Connection {
	conn := NewConnection(transport, r.framer)
	if r.maxMessageSize > 0 {
		conn.loader.SetMaxMessageSize(r.maxMessageSize)
	}

	r.slots[transport] = conn
	r.order = append(r.order, conn)

	adapter := newWatchAdapter(r.loop, conn, r.logger)
	transport.SetWatchFunctions(adapter.addWatch, adapter.removeWatch)
	conn.onClose = adapter.closeAll

	r.dispatcher.AddConnection(conn)
	return conn
}

// Lookup returns the Connection record installed for transport, if any.
func (r *Registry) Lookup(transport Transport) (*Connection, bool) {
	c, ok := r.slots[transport]
	return c, ok
}

// Foreach iterates active connections in setup order, calling visit on
// each. Iteration stops early if visit returns false. It tolerates the
// current element (or any element) being removed from the registry during
// the callback, since it walks a snapshot of the order slice.
func (r *Registry) Foreach(visit func(*Connection) bool) {
	snapshot := make([]*Connection, len(r.order))
	copy(snapshot, r.order)
	for _, c := range snapshot {
		if _, stillPresent := r.slots[c.transport]; !stillPresent {
			continue
		}
		if !visit(c) {
			return
		}
	}
}

// Disconnected performs the prescribed seven-step disconnect teardown for
// conn. ctx bounds the wait-for-memory retry loop used in steps that can
// only fail for memory; cancel it to give up, though in ordinary operation
// it should be context.Background() so teardown always eventually
// completes as the distilled design requires.
func (r *Registry) Disconnected(ctx context.Context, conn *Connection) {
	// Step 1: build an empty transaction, retrying on allocation failure.
	// In Go, *Transaction construction cannot itself fail (see
	// NewTransaction's doc comment), so this loop never actually retries in
	// practice; it is kept in the exact shape of the distilled algorithm so
	// the teardown sequence reads the same as SPEC_FULL.md §4.3 describes
	// it, and so a future fallible Transaction representation would not
	// need to restructure this method.
	var txn *Transaction
	for {
		txn = NewTransaction()
		if txn != nil {
			break
		}
		r.loop.WaitForMemory(ctx)
	}

	// Step 2: release owned services in LIFO order, staging the resulting
	// broadcasts onto txn, retrying per-service on ErrNoMemory.
	for _, service := range conn.OwnedServicesLIFO() {
		for {
			err := r.services.RemoveOwner(service, conn, txn)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrNoMemory) {
				programmingError("Registry.Disconnected", "RemoveOwner failed for a reason other than memory: "+err.Error())
			}
			r.loop.WaitForMemory(ctx)
		}
	}

	// Step 3: commit.
	txn.ExecuteAndFree()

	// Step 4: notify the dispatcher.
	r.dispatcher.RemoveConnection(conn)

	// Step 5: uninstall watches.
	if conn.onClose != nil {
		conn.onClose()
	}

	// Step 6: discard remaining pending transaction entries, severing both
	// directions of the connection<->transaction reference.
	for _, pendingTxn := range conn.pendingTransactions() {
		conn.purgeTxn(pendingTxn)
		pendingTxn.removeConnection(conn)
	}

	// Step 7: clear the slot and remove from the registry.
	delete(r.slots, conn.transport)
	for i, c := range r.order {
		if c == conn {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}


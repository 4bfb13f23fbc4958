// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// pendingEntry is one (transaction, message, preallocation) triple staged
// against a Connection, newest entries at the front of the slice.
type pendingEntry struct {
	txn    *Transaction
	msg    *Message
	alloc  *PreallocatedSend
}

// oomSlot holds the primed OOM-reply reservation: a reservation plus a
// locked template message whose reply-serial field is retargeted in place
// at send time so no allocation is needed on the OOM path itself.
type oomSlot struct {
	alloc    *PreallocatedSend
	template *Message
}

// Connection is the bus-side record of one attached client. All of its
// methods are loop-thread only: the bus has no internal locking because, by
// design (see SPEC_FULL.md §5), only the single event-loop goroutine ever
// touches connection, registry, transaction, or loader state.
type Connection struct {
	transport Transport
	loader    *MessageLoader

	name string // bus name; "" means unregistered, see Name/SetName

	ownedServices []string // LIFO: last acquired is ownedServices[len-1]

	pending []pendingEntry // newest at index 0

	oom *oomSlot

	onClose func()
}

// NewConnection wraps transport in a fresh, unregistered Connection record
// with its own MessageLoader. Normally called only by Registry.Setup.
func NewConnection(transport Transport, framer Framer) *Connection {
	return &Connection{
		transport: transport,
		loader:    NewMessageLoader(framer),
	}
}

// Transport returns the underlying Transport collaborator.
func (c *Connection) Transport() Transport { return c.transport }

// Loader returns this connection's MessageLoader.
func (c *Connection) Loader() *MessageLoader { return c.loader }

// Name returns the connection's bus name, or "" if it has not completed
// registration yet.
func (c *Connection) Name() string { return c.name }

// SetName assigns the connection's bus name. It may only be called once;
// calling it again is a programming error, matching the distilled
// specification's "set once, never mutated afterward".
func (c *Connection) SetName(name string) {
	if c.name != "" {
		programmingError("Connection.SetName", "bus name already assigned")
	}
	c.name = name
}

// Registered reports whether the connection has completed registration.
func (c *Connection) Registered() bool { return c.name != "" }

// IsConnected delegates to the underlying Transport.
func (c *Connection) IsConnected() bool {
	return c.transport != nil && c.transport.IsConnected()
}

// AddOwnedService records that this connection now owns service, as the
// most-recently-acquired entry. Called by a ServiceOwner implementation.
func (c *Connection) AddOwnedService(service string) {
	c.ownedServices = append(c.ownedServices, service)
}

// RemoveOwnedService removes service from this connection's owned-service
// list. It is a programming error to remove a service the connection does
// not own.
func (c *Connection) RemoveOwnedService(service string) {
	for i := len(c.ownedServices) - 1; i >= 0; i-- {
		if c.ownedServices[i] == service {
			c.ownedServices = append(c.ownedServices[:i], c.ownedServices[i+1:]...)
			return
		}
	}
	programmingError("Connection.RemoveOwnedService", "removing a service this connection does not own")
}

// OwnedServicesLIFO returns the connection's owned services, last-acquired
// first — the order disconnect teardown releases them in.
func (c *Connection) OwnedServicesLIFO() []string {
	out := make([]string, len(c.ownedServices))
	for i, s := range c.ownedServices {
		out[len(out)-1-i] = s
	}
	return out
}

// Preallocate reserves transport capacity for exactly one future send.
func (c *Connection) Preallocate() (*PreallocatedSend, error) {
	tok, err := c.transport.PreallocateSend()
	if err != nil {
		return nil, newError("Connection.Preallocate", ErrCodeNoMemory, c, err)
	}
	return &PreallocatedSend{conn: c, token: tok}, nil
}

// stagePending prepends a pending entry for txn/msg/alloc. Returns true if
// this is the first entry on this connection referencing txn (the caller
// uses this to decide whether to also add the connection to the
// transaction's connection list).
func (c *Connection) stagePending(txn *Transaction, msg *Message, alloc *PreallocatedSend) (firstForTxn bool) {
	firstForTxn = true
	for _, e := range c.pending {
		if e.txn == txn {
			firstForTxn = false
			break
		}
	}
	c.pending = append([]pendingEntry{{txn: txn, msg: msg, alloc: alloc}}, c.pending...)
	return firstForTxn
}

// commitTxn sends every pending entry belonging to txn, oldest staged
// first, consuming each entry's preallocation, and removes those entries.
// It must not fail: every send uses a reservation obtained at staging time.
func (c *Connection) commitTxn(txn *Transaction) {
	// Entries are stored newest-first; collect txn's entries and walk them
	// oldest-to-newest, per the distilled commit contract.
	var mine []pendingEntry
	var rest []pendingEntry
	for _, e := range c.pending {
		if e.txn == txn {
			mine = append(mine, e)
		} else {
			rest = append(rest, e)
		}
	}
	c.pending = rest

	for i := len(mine) - 1; i >= 0; i-- {
		e := mine[i]
		tok := e.alloc.consume("Connection.commitTxn")
		if err := c.transport.SendPreallocated(tok, e.msg); err != nil {
			// A reservation obtained at staging time is contractually
			// guaranteed not to fail; a Transport violating that is a bug
			// in the Transport, not a runtime condition for the core.
			programmingError("Connection.commitTxn", "preallocated send failed: "+err.Error())
		}
		e.msg.Unref()
	}
}

// cancelTxn discards every pending entry belonging to txn, releasing each
// entry's message reference and preallocation, without sending anything.
func (c *Connection) cancelTxn(txn *Transaction) {
	var rest []pendingEntry
	for _, e := range c.pending {
		if e.txn == txn {
			e.alloc.Release()
			e.msg.Unref()
		} else {
			rest = append(rest, e)
		}
	}
	c.pending = rest
}

// purgeTxn removes txn's entries from this connection without sending them,
// releasing each entry's preallocation and message reference — used when the
// connection itself is being torn down and its pending list is simply
// discarded (step 6 of Registry.Disconnected).
func (c *Connection) purgeTxn(txn *Transaction) {
	var rest []pendingEntry
	for _, e := range c.pending {
		if e.txn == txn {
			e.alloc.Release()
			e.msg.Unref()
		} else {
			rest = append(rest, e)
		}
	}
	c.pending = rest
}

// pendingTransactions returns the distinct transactions this connection
// currently has entries for.
func (c *Connection) pendingTransactions() []*Transaction {
	seen := make(map[*Transaction]bool)
	var out []*Transaction
	for _, e := range c.pending {
		if !seen[e.txn] {
			seen[e.txn] = true
			out = append(out, e.txn)
		}
	}
	return out
}

// PreallocateOOMError primes the per-connection OOM reply slot: a
// reservation plus a locked template error message, ready so the bus can
// always answer a request with a NoMemory error even while allocation is
// otherwise failing. Calling it when already primed is a no-op success.
func (c *Connection) PreallocateOOMError() error {
	if c.oom != nil {
		return nil
	}
	alloc, err := c.Preallocate()
	if err != nil {
		return newError("Connection.PreallocateOOMError", ErrCodeNoMemory, c, err)
	}
	tmpl := NewMessageWithData([]byte(ErrNameNoMemory), []byte("out of memory"))
	tmpl.SetReplySerial(0) // placeholder; sized so retargeting never reallocates
	tmpl.Lock()
	c.oom = &oomSlot{alloc: alloc, template: tmpl}
	return nil
}

// SendOOMError rewrites the primed template's reply-serial to inReplyTo's
// serial and sends it through the primed reservation, then clears the slot.
// It is a programming error to call this without a primed slot; callers
// always call PreallocateOOMError (or check via OOMPrimed) first.
func (c *Connection) SendOOMError(inReplyTo *Message) error {
	if c.oom == nil {
		programmingError("Connection.SendOOMError", "OOM slot not primed")
	}
	slot := c.oom
	c.oom = nil

	slot.template.retargetReplySerial(inReplyTo.GetSerial())
	tok := slot.alloc.consume("Connection.SendOOMError")
	if err := c.transport.SendPreallocated(tok, slot.template); err != nil {
		programmingError("Connection.SendOOMError", "preallocated OOM send failed: "+err.Error())
	}
	return nil
}

// OOMPrimed reports whether the OOM reply slot currently holds a reservation.
func (c *Connection) OOMPrimed() bool { return c.oom != nil }

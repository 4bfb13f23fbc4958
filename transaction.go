// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// Transaction is a staged group of outbound messages, committed or
// canceled as a unit. It holds no state beyond which connections currently
// have at least one entry staged for it — the entries themselves live on
// the connection records (see pendingEntry in connection.go).
//
// Transactions are compared by pointer identity; there is no separate
// handle type.
type Transaction struct {
	conns []*Connection
}

// NewTransaction returns a new, empty Transaction. Construction in this Go
// port cannot itself fail (there is no separate allocation step worth
// modeling as fallible beyond ordinary Go allocation), but the constructor
// name is kept symmetrical with the other core types' New* functions.
func NewTransaction() *Transaction {
	return &Transaction{}
}

// SendMessage stages msg for delivery to conn under txn. If conn is not
// connected, SendMessage succeeds as a no-op — the bus silently drops
// messages addressed to departed peers. Otherwise it reserves send capacity
// on conn, takes a reference on msg, locks it, and stages the triple.
//
// Any failure (only ErrNoMemory is possible) unwinds whatever partial work
// this call performed; the transaction and connection are left exactly as
// they were before the call.
func (t *Transaction) SendMessage(conn *Connection, msg *Message) error {
	if !conn.IsConnected() {
		return nil
	}

	alloc, err := conn.Preallocate()
	if err != nil {
		return newError("Transaction.SendMessage", ErrCodeNoMemory, conn, err)
	}

	msg.Ref()
	msg.Lock()

	firstForTxn := conn.stagePending(t, msg, alloc)
	if firstForTxn {
		t.conns = append(t.conns, conn)
	}
	return nil
}

// SendErrorReply is a convenience that builds an error-reply Message from
// name and detail, sets its reply-serial from inReplyTo, and stages it via
// SendMessage.
func (t *Transaction) SendErrorReply(conn *Connection, name, detail string, inReplyTo *Message) error {
	reply := NewMessageWithData([]byte(name), []byte(detail))
	reply.SetReplySerial(inReplyTo.GetSerial())
	return t.SendMessage(conn, reply)
}

// ExecuteAndFree commits the transaction: every connection in txn.conns has
// its staged entries for this transaction sent, oldest-staged first, then
// the transaction is discarded. Because every send consumed a reservation
// obtained at staging time, commit cannot fail.
func (t *Transaction) ExecuteAndFree() {
	for _, c := range t.conns {
		c.commitTxn(t)
	}
	t.conns = nil
}

// CancelAndFree rolls back the transaction: every staged entry for this
// transaction, on every connection in txn.conns, is discarded without being
// sent, releasing its message reference and preallocation, then the
// transaction is discarded.
func (t *Transaction) CancelAndFree() {
	for _, c := range t.conns {
		c.cancelTxn(t)
	}
	t.conns = nil
}

// removeConnection detaches conn from the transaction's connection list
// without touching conn's pending entries — used when conn is disconnecting
// mid-transaction (see Registry.Disconnected step 6) and its entries for
// this and other live transactions are purged directly on the connection.
func (t *Transaction) removeConnection(conn *Connection) {
	for i, c := range t.conns {
		if c == conn {
			t.conns = append(t.conns[:i], t.conns[i+1:]...)
			return
		}
	}
}

// Connections returns the connections currently holding at least one
// staged entry for this transaction. The returned slice is a snapshot.
func (t *Transaction) Connections() []*Connection {
	out := make([]*Connection, len(t.conns))
	copy(out, t.conns)
	return out
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// PreallocatedSend is a move-only reservation against a connection's
// outbound queue, proving that a subsequent send of exactly one Message
// cannot fail for allocation reasons. A reservation belongs to exactly one
// Connection and must not outlive it.
//
// Every PreallocatedSend obtained via Connection.Preallocate must be settled
// by exactly one send or Release. Settling it twice is a programming error
// surfaced via panic; a reservation that goes out of scope unsettled is not
// detected, and its transport capacity is not returned.
type PreallocatedSend struct {
	conn     *Connection
	token    any // transport-defined reservation token
	consumed bool
}

// Conn returns the connection this reservation was obtained against.
func (p *PreallocatedSend) Conn() *Connection { return p.conn }

// consume marks the reservation settled and returns its transport token.
// Calling consume twice, or after Release, is a programming error.
func (p *PreallocatedSend) consume(op string) any {
	if p.consumed {
		programmingError(op, "reuse of already-settled PreallocatedSend")
	}
	p.consumed = true
	return p.token
}

// Release discards the reservation without sending, returning its capacity
// to the connection's transport. Safe to call at most once; a second call is
// a programming error.
func (p *PreallocatedSend) Release() {
	tok := p.consume("PreallocatedSend.Release")
	if p.conn != nil && p.conn.transport != nil {
		p.conn.transport.FreePreallocated(tok)
	}
}

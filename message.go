// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import "sync"

// Message is the carrier of one bus message's header and body bytes. Before
// it is locked, the holder that created it may freely mutate the header,
// body, and serial. Locking happens exactly once, when the message enters
// any outbound queue (Transaction.SendMessage locks on staging); from then
// on Header, Body, and Serial are immutable and NetworkData may be called
// safely from any path that holds a reference.
//
// Message is reference-counted rather than garbage-collector-managed because
// its lifetime is meaningful: the last Unref releases any attached
// SizeCounter's charge, matching the distilled backpressure model where
// "in flight" bytes must be credited back the moment nothing references the
// message anymore, not whenever the GC happens to run.
type Message struct {
	mu sync.Mutex

	header []byte
	body   []byte

	serial      int32
	replySerial int32
	hasReply    bool

	locked bool
	refs   int32

	counter SizeCounter
	charged int
}

// NewMessage returns a new, unlocked, single-referenced Message.
func NewMessage() *Message {
	return &Message{refs: 1, counter: nopCounter{}}
}

// NewMessageWithData returns a new, unlocked Message preloaded with header
// and body bytes. The slices are taken by reference, not copied; callers
// must not mutate them after handing them to a Message that might be locked
// and shared.
func NewMessageWithData(header, body []byte) *Message {
	return &Message{header: header, body: body, refs: 1, counter: nopCounter{}}
}

// Ref increments the reference count.
func (m *Message) Ref() {
	m.mu.Lock()
	m.refs++
	m.mu.Unlock()
}

// Unref decrements the reference count, releasing any attached SizeCounter
// charge and the underlying buffers once the count reaches zero. Unref on an
// already-released Message is a programming error.
func (m *Message) Unref() {
	m.mu.Lock()
	if m.refs <= 0 {
		m.mu.Unlock()
		programmingError("Message.Unref", "unref of already-freed message")
	}
	m.refs--
	free := m.refs == 0
	var counter SizeCounter
	var charged int
	if free {
		counter, charged = m.counter, m.charged
		m.charged = 0
		m.header = nil
		m.body = nil
	}
	m.mu.Unlock()
	if free && charged != 0 {
		counter.Credit(charged)
	}
}

// Lock freezes the message's header, body, and serial. Lock is idempotent.
func (m *Message) Lock() {
	m.mu.Lock()
	m.locked = true
	m.mu.Unlock()
}

// Locked reports whether the message has been locked.
func (m *Message) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// NetworkData returns the header and body byte sequences. Valid to call on
// any Message, but the returned slices are only guaranteed stable once the
// message is locked — callers on the sending side, before locking, must
// still hold whatever external synchronization applies (in practice: the
// single event-loop thread).
func (m *Message) NetworkData() (header, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header, m.body
}

// SetHeader replaces the header bytes. Fails with a programming-error panic
// if the message is locked.
func (m *Message) SetHeader(header []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		programmingError("Message.SetHeader", "mutation of locked message")
	}
	m.header = header
}

// SetBody replaces the body bytes. Fails with a programming-error panic if
// the message is locked.
func (m *Message) SetBody(body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		programmingError("Message.SetBody", "mutation of locked message")
	}
	m.body = body
}

// SetSerial sets the message's own serial number. Fails with a
// programming-error panic if the message is locked.
func (m *Message) SetSerial(serial int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		programmingError("Message.SetSerial", "mutation of locked message")
	}
	m.serial = serial
}

// GetSerial returns the message's own serial number.
func (m *Message) GetSerial() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serial
}

// SetReplySerial marks this message as a reply to the request bearing the
// given serial. Fails with a programming-error panic if the message is
// locked, with one exception: the per-connection OOM reply template
// (connection.go) is deliberately locked early and retargeted in place via
// retargetReplySerial, which bypasses this check because no other field of
// an OOM template ever changes.
func (m *Message) SetReplySerial(serial int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		programmingError("Message.SetReplySerial", "mutation of locked message")
	}
	m.replySerial = serial
	m.hasReply = true
}

// GetReplySerial returns the reply-serial field and whether it was set.
func (m *Message) GetReplySerial() (serial int32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replySerial, m.hasReply
}

// retargetReplySerial rewrites the reply-serial field of an already-locked
// message in place. Used exclusively by the OOM reply slot (connection.go).
// The reply serial is a field of Message, not part of its header bytes, so
// this rewrite never needs to reallocate.
func (m *Message) retargetReplySerial(serial int32) {
	m.mu.Lock()
	m.replySerial = serial
	m.hasReply = true
	m.mu.Unlock()
}

// AddSizeCounter attaches a SizeCounter that will be charged for the
// message's current byte size immediately, and credited back when the
// message's last reference is released. Returns an error (wrapping
// ErrNoMemory) if the counter refuses the charge; in that case no counter is
// attached and the caller must not proceed with whatever operation demanded
// attaching one.
func (m *Message) AddSizeCounter(counter SizeCounter) error {
	m.mu.Lock()
	size := len(m.header) + len(m.body)
	m.mu.Unlock()

	if err := counter.Charge(size); err != nil {
		return err
	}

	m.mu.Lock()
	m.counter = counter
	m.charged = size
	m.mu.Unlock()
	return nil
}

// Size returns the combined length of the header and body byte sequences.
func (m *Message) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.header) + len(m.body)
}

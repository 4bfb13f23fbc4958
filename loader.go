// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// Initial and growth-increment buffer size for MessageLoader, matching the
// distilled specification's growth policy.
const minBufSize = 32

// MessageLoader incrementally parses a byte stream, supplied by the
// transport through GetBuffer/ReturnBuffer, into a FIFO of complete
// Messages. It never calls into the transport and never blocks; it is pure
// buffer management plus framing, driven entirely by its caller.
type MessageLoader struct {
	framer Framer

	buf    []byte
	length int
	outstanding bool

	maxMessageSize int
	corrupted      bool

	queue []*Message
}

// NewMessageLoader returns a MessageLoader using framer to detect message
// boundaries. A nil framer defaults to DefaultFramer{}.
func NewMessageLoader(framer Framer) *MessageLoader {
	if framer == nil {
		framer = DefaultFramer{}
	}
	return &MessageLoader{framer: framer}
}

// SetMaxMessageSize sets the declared upper bound, in bytes, on a single
// message's combined header+body length. Zero means unbounded.
func (l *MessageLoader) SetMaxMessageSize(n int) { l.maxMessageSize = n }

// GetMaxMessageSize returns the current bound set by SetMaxMessageSize.
func (l *MessageLoader) GetMaxMessageSize() int { return l.maxMessageSize }

// IsCorrupted reports whether the loader has observed a message exceeding
// its configured maximum size. Once true, it never becomes false again and
// the loader refuses all further progress; the caller is expected to
// disconnect.
func (l *MessageLoader) IsCorrupted() bool { return l.corrupted }

// GetBuffer hands the caller a writable region at the tail of the internal
// buffer, growing it if necessary. It is a programming error to call
// GetBuffer again before the matching ReturnBuffer. Fails with ErrNoMemory
// if growth is required and allocation fails (in Go this cannot actually
// happen barring OOM-killer territory, but the contract is preserved so
// callers written against it behave correctly under the distilled model),
// or with a programming-error panic if the implied capacity arithmetic
// would overflow.
func (l *MessageLoader) GetBuffer() ([]byte, error) {
	if l.outstanding {
		programmingError("MessageLoader.GetBuffer", "buffer already outstanding")
	}
	if l.corrupted {
		return nil, newError("MessageLoader.GetBuffer", ErrCodeLoaderCorrupted, nil, nil)
	}

	need := l.length + minBufSize
	if need >= len(l.buf) {
		grown := minBufSize + len(l.buf)*2
		if grown <= len(l.buf) {
			// Arithmetic overflow: doubling failed to strictly increase
			// capacity. Defensive; unreachable on any real platform before
			// hitting Go's own slice-size limits first.
			programmingError("MessageLoader.GetBuffer", "buffer growth overflow")
		}
		grownBuf := make([]byte, grown)
		copy(grownBuf, l.buf[:l.length])
		l.buf = grownBuf
	}

	l.outstanding = true
	return l.buf[l.length:], nil
}

// ReturnBuffer asserts that the transport wrote n bytes into the slice
// returned by the preceding GetBuffer (0 <= n <= len(that slice)), then
// drives the framing state machine: while a complete message is present at
// the front of the buffered bytes, it is extracted into the FIFO and the
// remaining bytes are compacted to the front.
//
// ReturnBuffer is a programming error if called without an outstanding
// GetBuffer, or with n out of range.
func (l *MessageLoader) ReturnBuffer(n int) error {
	if !l.outstanding {
		programmingError("MessageLoader.ReturnBuffer", "no outstanding buffer")
	}
	if n < 0 || l.length+n > len(l.buf) {
		programmingError("MessageLoader.ReturnBuffer", "n out of range")
	}
	l.outstanding = false
	l.length += n

	for {
		if l.corrupted {
			return newError("MessageLoader.ReturnBuffer", ErrCodeLoaderCorrupted, nil, nil)
		}
		frameLen, ok, overLimit := l.framer.Scan(l.buf[:l.length], l.maxMessageSize)
		if overLimit {
			l.corrupted = true
			return newError("MessageLoader.ReturnBuffer", ErrCodeLoaderCorrupted, nil, nil)
		}
		if !ok {
			return nil
		}

		header, body := l.framer.Split(l.buf[:frameLen])
		msg := NewMessageWithData(append([]byte(nil), header...), append([]byte(nil), body...))
		msg.Lock()
		l.queue = append(l.queue, msg)

		remaining := l.length - frameLen
		copy(l.buf, l.buf[frameLen:l.length])
		l.length = remaining
	}
}

// PopMessage removes and returns the oldest queued message, or nil if none
// is queued.
func (l *MessageLoader) PopMessage() *Message {
	if len(l.queue) == 0 {
		return nil
	}
	msg := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return msg
}

// Pending reports how many complete messages are currently queued.
func (l *MessageLoader) Pending() int { return len(l.queue) }

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/msgbus"
	"code.hybscloud.com/msgbus/internal/wire"
)

var nextWatchID uint64

// connWatch is the raw Watch token a base registers with the bus via
// SetWatchFunctions. Its only job is to be a stable, comparable identity
// that Loop.Notify can look back up.
type connWatch struct{ id uint64 }

func (w *connWatch) ID() any { return w.id }

// reservationToken is the opaque value handed back by PreallocateSend and
// threaded through SendPreallocated/FreePreallocated. It carries no state
// of its own and every token compares equal: the reservation pool lives in
// base.sem, and the consumed-once bookkeeping lives in bus.PreallocatedSend.
type reservationToken struct{}

// base holds the plumbing shared by PipeTransport and StreamTransport:
// watch registration, the fixed-size reservation pool that backs
// PreallocateSend (SPEC_FULL.md §4.7), and the dispatch-draining loop that
// implements bus.Transport.DispatchMessage.
type base struct {
	mu sync.Mutex

	connected int32 // atomic bool

	conn       *bus.Connection
	dispatcher bus.Dispatcher
	logger     bus.Logger

	addWatchFn    func(bus.Watch) error
	removeWatchFn func(bus.Watch)
	watch         *connWatch

	sem chan struct{}

	w io.Writer // wire.Writer, sends one encoded message per Write call
	r io.Reader // wire.Reader, returns one encoded message per Read call

	closeFn func() error

	loop *Loop
}

func newBase(r io.Reader, w io.Writer, closeFn func() error, reservations int, logger bus.Logger) *base {
	if reservations <= 0 {
		reservations = 16
	}
	b := &base{
		r:         r,
		w:         w,
		closeFn:   closeFn,
		sem:       make(chan struct{}, reservations),
		watch:     &connWatch{id: atomic.AddUint64(&nextWatchID, 1)},
		logger:    logger,
		connected: 1,
	}
	for i := 0; i < reservations; i++ {
		b.sem <- struct{}{}
	}
	return b
}

// bind attaches the Connection, Dispatcher, and Loop this transport serves,
// registers its watch, and starts the background reader goroutine. Called
// once, by whatever wiring code calls Registry.Setup (cmd/busd, or a test).
func (b *base) bind(conn *bus.Connection, dispatcher bus.Dispatcher, loop *Loop) error {
	b.conn = conn
	b.dispatcher = dispatcher
	b.loop = loop
	if err := b.addWatchFn(b.watch); err != nil {
		return err
	}
	go b.readLoop()
	return nil
}

// IsConnected implements bus.Transport.
func (b *base) IsConnected() bool { return atomic.LoadInt32(&b.connected) == 1 }

// SetWatchFunctions implements bus.Transport.
func (b *base) SetWatchFunctions(add func(bus.Watch) error, remove func(bus.Watch)) {
	b.addWatchFn = add
	b.removeWatchFn = remove
}

// HandleWatch implements bus.Transport. The reference transports do all
// their real work in readLoop; HandleWatch only exists to satisfy the
// handle-then-drain sequence watch.Fire runs, so it is intentionally empty.
func (b *base) HandleWatch(bus.Watch, bus.WatchCondition) {}

// DispatchMessage implements bus.Transport: pops one complete message from
// the connection's loader and, if present, dispatches it inside its own
// fresh transaction. A staging failure (Dispatch returning an error wrapping
// bus.ErrNoMemory) cancels the transaction instead of committing it and
// answers the request through the connection's primed OOM reply slot,
// per SPEC_FULL.md §7's allocation-failure propagation policy; any other
// error is logged and the transaction is still canceled. Returns whether
// more buffered messages remain ready to dispatch without waiting.
func (b *base) DispatchMessage() bool {
	msg := b.conn.Loader().PopMessage()
	if msg == nil {
		return false
	}
	txn := bus.NewTransaction()
	if err := b.dispatcher.Dispatch(txn, b.conn, msg); err != nil {
		txn.CancelAndFree()
		if errors.Is(err, bus.ErrNoMemory) {
			b.sendOOMReply(msg)
		} else if b.logger != nil {
			b.logger.Errorf("transport: dispatch failed: %v", err)
		}
	} else {
		txn.ExecuteAndFree()
	}
	msg.Unref()
	return b.conn.Loader().Pending() > 0
}

// sendOOMReply primes (if needed) and fires the connection's OOM reply slot
// in answer to msg. Both steps can themselves fail under sustained memory
// pressure; a failure here is logged and the request is left unanswered
// rather than retried inline, since DispatchMessage runs on the loop
// goroutine and must not block.
func (b *base) sendOOMReply(msg *bus.Message) {
	if err := b.conn.PreallocateOOMError(); err != nil {
		if b.logger != nil {
			b.logger.Errorf("transport: could not prime OOM reply: %v", err)
		}
		return
	}
	if err := b.conn.SendOOMError(msg); err != nil {
		if b.logger != nil {
			b.logger.Errorf("transport: could not send OOM reply: %v", err)
		}
	}
}

// PreallocateSend implements bus.Transport. The returned error, when
// non-nil, wraps bus.ErrNoMemory so callers that check via errors.Is see the
// same condition a core-only failure would produce.
func (b *base) PreallocateSend() (any, error) {
	select {
	case <-b.sem:
		return reservationToken{}, nil
	default:
		return nil, fmt.Errorf("transport: reservation pool exhausted: %w", bus.ErrNoMemory)
	}
}

// FreePreallocated implements bus.Transport.
func (b *base) FreePreallocated(any) {
	b.sem <- struct{}{}
}

// SendPreallocated implements bus.Transport: encodes msg via the default
// wire format and writes it as one framed blob through the underlying
// wire.Writer, then returns the reservation to the pool. A reservation
// obtained from PreallocateSend guarantees capacity for exactly this call,
// so write failures here are transport/IO failures, not allocation
// failures — they are logged and swallowed rather than propagated, matching
// the distilled design's "commit cannot fail" contract for the core.
func (b *base) SendPreallocated(token any, msg *bus.Message) error {
	defer func() { b.sem <- struct{}{} }()

	header, body := msg.NetworkData()
	blob := bus.EncodeDefaultMessage(header, body, nil)

	b.mu.Lock()
	_, err := b.w.Write(blob)
	b.mu.Unlock()
	if err != nil {
		if b.logger != nil {
			b.logger.Warnf("transport: send failed: %v", err)
		}
		b.Disconnect()
	}
	return nil
}

// Disconnect implements bus.Transport.
func (b *base) Disconnect() {
	if !atomic.CompareAndSwapInt32(&b.connected, 1, 0) {
		return
	}
	if b.removeWatchFn != nil {
		b.removeWatchFn(b.watch)
	}
	if b.closeFn != nil {
		_ = b.closeFn()
	}
}

// readLoop reads one encoded message per wire.Reader.Read call, feeds its
// bytes into the connection's MessageLoader via GetBuffer/ReturnBuffer, and
// notifies the Loop that the connection's watch is readable whenever a full
// message becomes available to dispatch. It exits when the underlying
// reader returns a permanent error (most commonly io.EOF on disconnect).
func (b *base) readLoop() {
	// Each Read returns one whole frame. A frame whose payload is larger than
	// this 64KiB scratch buffer is not read: Read returns io.ErrShortBuffer
	// and the loop disconnects. A frame that is read is handed to the loader
	// across as many GetBuffer/ReturnBuffer cycles as feed needs.
	scratch := make([]byte, 64*1024)
	for {
		n, err := b.r.Read(scratch)
		if n > 0 {
			b.feed(scratch[:n])
		}
		if err != nil {
			if err == wire.ErrWouldBlock || err == wire.ErrMore {
				continue
			}
			b.Disconnect()
			return
		}
	}
}

// feed copies data into the loader's buffer via the GetBuffer/ReturnBuffer
// protocol, growing across calls if data is larger than one GetBuffer
// region, and notifies the loop of readability if a message completed.
func (b *base) feed(data []byte) {
	for len(data) > 0 {
		buf, err := b.conn.Loader().GetBuffer()
		if err != nil {
			if b.logger != nil {
				b.logger.Errorf("transport: loader error: %v", err)
			}
			b.Disconnect()
			return
		}
		n := copy(buf, data)
		data = data[n:]
		if rerr := b.conn.Loader().ReturnBuffer(n); rerr != nil {
			if b.logger != nil {
				b.logger.Errorf("transport: loader corrupted: %v", rerr)
			}
			b.Disconnect()
			return
		}
	}
	if b.conn.Loader().Pending() > 0 {
		b.loop.Notify(b.watch.ID(), bus.WatchReadable)
	}
}

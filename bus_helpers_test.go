// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus_test

import (
	"context"
	"errors"

	"code.hybscloud.com/msgbus"
)

// fakeTransport is a minimal bus.Transport double for exercising Connection,
// Transaction, and Registry without any real byte transport. Sends are
// recorded in order rather than serialized.
type fakeTransport struct {
	connected bool
	tokens    int // number of free reservation tokens remaining
	sent      []*bus.Message
	freed     int
	disconn   int

	addWatchFn    func(bus.Watch) error
	removeWatchFn func(bus.Watch)

	failPreallocate bool
}

func newFakeTransport(reservations int) *fakeTransport {
	return &fakeTransport{connected: true, tokens: reservations}
}

func (f *fakeTransport) IsConnected() bool { return f.connected }

func (f *fakeTransport) SetWatchFunctions(add func(bus.Watch) error, remove func(bus.Watch)) {
	f.addWatchFn = add
	f.removeWatchFn = remove
}

func (f *fakeTransport) HandleWatch(w bus.Watch, condition bus.WatchCondition) {}

func (f *fakeTransport) DispatchMessage() bool { return false }

func (f *fakeTransport) PreallocateSend() (any, error) {
	if f.failPreallocate || f.tokens <= 0 {
		return nil, errors.New("fakeTransport: no reservations available")
	}
	f.tokens--
	return new(int), nil
}

func (f *fakeTransport) SendPreallocated(token any, msg *bus.Message) error {
	f.tokens++
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) FreePreallocated(token any) {
	f.tokens++
	f.freed++
}

func (f *fakeTransport) Disconnect() {
	f.connected = false
	f.disconn++
}

// fakeDispatcher records AddConnection/RemoveConnection/Dispatch calls.
type fakeDispatcher struct {
	added      []*bus.Connection
	removed    []*bus.Connection
	dispatched []*bus.Message
}

func (d *fakeDispatcher) AddConnection(conn *bus.Connection)    { d.added = append(d.added, conn) }
func (d *fakeDispatcher) RemoveConnection(conn *bus.Connection) { d.removed = append(d.removed, conn) }
func (d *fakeDispatcher) Dispatch(txn *bus.Transaction, conn *bus.Connection, msg *bus.Message) error {
	d.dispatched = append(d.dispatched, msg)
	return nil
}

// fakeServiceOwner records RemoveOwner calls and can be told to fail the
// next failNTimes calls with bus.ErrNoMemory to exercise the wait-for-memory
// retry path.
type fakeServiceOwner struct {
	removed    []string
	failNTimes int
}

func (s *fakeServiceOwner) RemoveOwner(service string, conn *bus.Connection, txn *bus.Transaction) error {
	if s.failNTimes > 0 {
		s.failNTimes--
		return bus.ErrNoMemory
	}
	s.removed = append(s.removed, service)
	return nil
}

// fakeEventLoop is a minimal bus.EventLoop double.
type fakeEventLoop struct {
	added        []bus.Watch
	removed      []bus.Watch
	waitedMemory int
}

func (l *fakeEventLoop) AddWatch(w bus.Watch) error {
	l.added = append(l.added, w)
	return nil
}

func (l *fakeEventLoop) RemoveWatch(w bus.Watch) {
	l.removed = append(l.removed, w)
	for i, ww := range l.added {
		if ww == w {
			l.added = append(l.added[:i], l.added[i+1:]...)
			break
		}
	}
}

func (l *fakeEventLoop) WaitForMemory(ctx context.Context) {
	l.waitedMemory++
}

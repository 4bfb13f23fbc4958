// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport provides reference bus.Transport implementations — an
// in-memory pipe pair for tests and a net.Conn-backed stream transport for
// real use — plus Loop, a minimal bus.EventLoop that schedules watch
// readiness through a channel instead of a real poller, since the
// connections here are backed by goroutines rather than file descriptors.
package transport

import (
	"context"
	"sync"
	"time"

	"code.hybscloud.com/msgbus"
)

// readyEvent is one watch-became-ready notification queued for the loop
// goroutine to deliver.
type readyEvent struct {
	watch     bus.Watch
	condition bus.WatchCondition
}

// Loop is a minimal bus.EventLoop: watches are tracked by ID in a map, and
// readiness is delivered by calling Fire on the registered Firer from the
// single goroutine running Run, so the bus core's loop-thread-only
// invariant (SPEC_FULL.md §5) holds even though the transports that detect
// readiness run on their own goroutines.
type Loop struct {
	mu      sync.Mutex
	watches map[any]bus.Watch

	ready chan readyEvent

	memoryWait time.Duration
}

// NewLoop returns a Loop ready to run. memoryWait bounds how long
// WaitForMemory sleeps per attempt; zero defaults to 5ms.
func NewLoop(memoryWait time.Duration) *Loop {
	if memoryWait <= 0 {
		memoryWait = 5 * time.Millisecond
	}
	return &Loop{
		watches:    make(map[any]bus.Watch),
		ready:      make(chan readyEvent, 256),
		memoryWait: memoryWait,
	}
}

// AddWatch implements bus.EventLoop.
func (l *Loop) AddWatch(w bus.Watch) error {
	l.mu.Lock()
	l.watches[w.ID()] = w
	l.mu.Unlock()
	return nil
}

// RemoveWatch implements bus.EventLoop.
func (l *Loop) RemoveWatch(w bus.Watch) {
	l.mu.Lock()
	delete(l.watches, w.ID())
	l.mu.Unlock()
}

// WaitForMemory implements bus.EventLoop: a short sleep, bounded by ctx.
func (l *Loop) WaitForMemory(ctx context.Context) {
	select {
	case <-time.After(l.memoryWait):
	case <-ctx.Done():
	}
}

// Notify schedules the watch registered under id to Fire with condition, on
// the goroutine running Run. Transports call this from their own reader
// goroutines to report readiness; it never blocks the caller beyond the
// channel send, and silently drops the notification if the watch was
// removed (e.g. the connection disconnected) before Run got to it.
func (l *Loop) Notify(id any, condition bus.WatchCondition) {
	l.mu.Lock()
	w, ok := l.watches[id]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case l.ready <- readyEvent{watch: w, condition: condition}:
	default:
		// Backpressure: a full ready queue means the loop goroutine is
		// behind. Block briefly rather than drop a readiness signal, since
		// a dropped signal here would silently stall a connection.
		l.ready <- readyEvent{watch: w, condition: condition}
	}
}

// Run drains ready events, calling Fire on each watch's Firer, until ctx is
// done.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case ev := <-l.ready:
			if f, ok := ev.watch.(bus.Firer); ok {
				f.Fire(ev.condition)
			}
		case <-ctx.Done():
			return
		}
	}
}

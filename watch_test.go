// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus_test

import (
	"context"
	"testing"

	"code.hybscloud.com/msgbus"
)

type idWatch struct{ id int }

func (w *idWatch) ID() any { return w.id }

// countingTransport extends fakeTransport with a DispatchMessage that
// reports "more work" a fixed number of times, so firingWatch.Fire's drain
// loop can be observed.
type countingTransport struct {
	*fakeTransport
	remaining   int
	handleCalls int
	lastCond    bus.WatchCondition
}

func (c *countingTransport) HandleWatch(w bus.Watch, condition bus.WatchCondition) {
	c.handleCalls++
	c.lastCond = condition
}

func (c *countingTransport) DispatchMessage() bool {
	if c.remaining <= 0 {
		return false
	}
	c.remaining--
	return c.remaining > 0
}

func TestWatchAdapterRegistersFiringWatch(t *testing.T) {
	loop := &fakeEventLoop{}
	disp := &fakeDispatcher{}
	services := &fakeServiceOwner{}
	r := bus.NewRegistry(loop, disp, services)

	tr := &countingTransport{fakeTransport: newFakeTransport(4), remaining: 3}
	r.Setup(tr)

	if len(loop.added) != 0 {
		t.Fatalf("expected no watch registered before the transport asks for one, got %d", len(loop.added))
	}

	raw := &idWatch{id: 42}
	if err := tr.addWatchFn(raw); err != nil {
		t.Fatalf("addWatchFn: %v", err)
	}
	if len(loop.added) != 1 {
		t.Fatalf("expected 1 watch registered, got %d", len(loop.added))
	}

	registered := loop.added[0]
	if registered.ID() != 42 {
		t.Fatalf("registered watch ID() = %v, want 42", registered.ID())
	}

	firer, ok := registered.(bus.Firer)
	if !ok {
		t.Fatal("registered watch does not implement bus.Firer")
	}
	firer.Fire(bus.WatchReadable)

	if tr.handleCalls != 1 || tr.lastCond != bus.WatchReadable {
		t.Fatalf("HandleWatch called %d times with condition %v, want 1 call with WatchReadable", tr.handleCalls, tr.lastCond)
	}
	if tr.remaining != 0 {
		t.Fatalf("expected Fire to drain DispatchMessage to 0, got %d remaining", tr.remaining)
	}

	tr.removeWatchFn(raw)
	if len(loop.added) != 0 {
		t.Fatalf("expected watch removed after removeWatchFn, got %d still registered", len(loop.added))
	}
}

func TestRegistryDisconnectedUninstallsWatches(t *testing.T) {
	loop := &fakeEventLoop{}
	disp := &fakeDispatcher{}
	services := &fakeServiceOwner{}
	r := bus.NewRegistry(loop, disp, services)

	tr := newFakeTransport(4)
	r.Setup(tr)

	raw := &idWatch{id: 1}
	if err := tr.addWatchFn(raw); err != nil {
		t.Fatalf("addWatchFn: %v", err)
	}
	if len(loop.added) != 1 {
		t.Fatalf("expected 1 watch registered before disconnect, got %d", len(loop.added))
	}

	conn, _ := r.Lookup(tr)
	r.Disconnected(context.Background(), conn)

	if len(loop.added) != 0 {
		t.Fatalf("expected all watches uninstalled after Disconnected, got %d remaining", len(loop.added))
	}
}

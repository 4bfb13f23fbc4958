// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// Firer is implemented by every Watch the Registry hands to an EventLoop's
// AddWatch. When the EventLoop determines a watch is ready, it calls Fire
// with the readiness condition that applied; the core uses this to run the
// handle-then-drain sequence described in SPEC_FULL.md §4.6 without the
// EventLoop needing access to any unexported bus state.
type Firer interface {
	Fire(condition WatchCondition)
}

// watchAdapter bridges one Transport's readiness callbacks into connection
// dispatch draining. Registry.Setup installs one per connection by calling
// Transport.SetWatchFunctions with the adapter's addWatch/removeWatch
// methods, so the transport never talks to the EventLoop directly.
type watchAdapter struct {
	loop    EventLoop
	conn    *Connection
	logger  Logger
	watches []*firingWatch
}

func newWatchAdapter(loop EventLoop, conn *Connection, logger Logger) *watchAdapter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &watchAdapter{loop: loop, conn: conn, logger: logger}
}

// firingWatch wraps a Transport-supplied Watch so that an EventLoop calling
// Fire on it runs this connection's handle-then-drain sequence, while still
// presenting the Transport's own Watch identity via ID (so EventLoop
// implementations that index by file descriptor or similar still work).
type firingWatch struct {
	adapter *watchAdapter
	raw     Watch
}

func (w *firingWatch) ID() any { return w.raw.ID() }

// Fire implements Firer. It hands the readiness event to the transport,
// then drains dispatch work until the transport reports none remains.
//
// Per SPEC_FULL.md §4.6: the connection is kept alive for the duration of
// the call by the Registry's own slot map plus Go's GC (the distilled
// design's manual per-event refcount has no equivalent need here), the
// transport handles the raw readiness event, then dispatch is drained.
func (w *firingWatch) Fire(condition WatchCondition) {
	w.adapter.conn.transport.HandleWatch(w.raw, condition)
	for w.adapter.conn.transport.DispatchMessage() {
	}
}

// addWatch is handed to the Transport as its "please track this watch"
// callback. It wraps w in a firingWatch and registers that with the
// EventLoop, so firing the registered watch always runs this connection's
// Fire sequence.
func (a *watchAdapter) addWatch(w Watch) error {
	fw := &firingWatch{adapter: a, raw: w}
	if err := a.loop.AddWatch(fw); err != nil {
		return newError("watchAdapter.addWatch", ErrCodeNoMemory, a.conn, err)
	}
	a.watches = append(a.watches, fw)
	return nil
}

// removeWatch is handed to the Transport as its "stop tracking this watch"
// callback. w is the same raw Watch value the Transport originally passed
// to addWatch.
func (a *watchAdapter) removeWatch(w Watch) {
	for i, fw := range a.watches {
		if fw.raw == w {
			a.loop.RemoveWatch(fw)
			a.watches = append(a.watches[:i], a.watches[i+1:]...)
			return
		}
	}
}

// closeAll uninstalls every watch this adapter ever registered, for
// Registry.Disconnected step 5 ("uninstall watches").
func (a *watchAdapter) closeAll() {
	for _, fw := range a.watches {
		a.loop.RemoveWatch(fw)
	}
	a.watches = nil
}

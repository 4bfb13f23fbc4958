// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"sync"

	"code.hybscloud.com/msgbus"
)

// Handler processes one inbound message addressed to a known method name.
// It may stage replies or broadcasts onto txn. A returned error wrapping
// bus.ErrNoMemory means staging failed; the caller (Router.Dispatch, and
// ultimately the Transport driving dispatch) is expected to cancel txn and
// answer via conn's primed OOM reply slot instead of committing.
type Handler func(txn *bus.Transaction, conn *bus.Connection, msg *bus.Message) error

const (
	methodRequestName = "org.bus.RequestName"
	methodReleaseName = "org.bus.ReleaseName"
)

// Router is a minimal bus.Dispatcher: a table of method name to Handler,
// decoded from a message's header (everything before the first ':'; the
// remainder of the header plus the body is passed through to the handler
// unexamined). Two built-in methods, RequestName and ReleaseName, drive a
// Services table.
type Router struct {
	mu       sync.Mutex
	conns    map[*bus.Connection]bool
	handlers map[string]Handler
	services *Services
	registry *bus.Registry
}

// NewRouter returns a Router wired to services, with RequestName and
// ReleaseName already registered. registry is used to allocate serials for
// replies this Router constructs.
func NewRouter(services *Services, registry *bus.Registry) *Router {
	r := &Router{
		conns:    make(map[*bus.Connection]bool),
		handlers: make(map[string]Handler),
		services: services,
		registry: registry,
	}
	r.Handle(methodRequestName, r.handleRequestName)
	r.Handle(methodReleaseName, r.handleReleaseName)
	return r
}

// BindRegistry attaches the Registry used to allocate reply serials. Exists
// separately from NewRouter because a Registry must be constructed with its
// Dispatcher already in hand, creating a small circular dependency between
// the two — callers build the Router first, passing nil, then call
// BindRegistry once the Registry exists. Calling Dispatch before binding a
// registry is a caller error (a nil registry panics on first use).
func (r *Router) BindRegistry(registry *bus.Registry) {
	r.mu.Lock()
	r.registry = registry
	r.mu.Unlock()
}

// Handle registers (or replaces) the handler for method.
func (r *Router) Handle(method string, h Handler) {
	r.mu.Lock()
	r.handlers[method] = h
	r.mu.Unlock()
}

// AddConnection implements bus.Dispatcher.
func (r *Router) AddConnection(conn *bus.Connection) {
	r.mu.Lock()
	r.conns[conn] = true
	r.mu.Unlock()
}

// RemoveConnection implements bus.Dispatcher.
func (r *Router) RemoveConnection(conn *bus.Connection) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
}

// Dispatch implements bus.Dispatcher: splits msg's header into a method
// name and routes to the matching Handler, if any. An unrecognized method
// is silently ignored — the distilled core has no notion of "unknown
// method" error replies; a real deployment's Dispatcher would add one.
func (r *Router) Dispatch(txn *bus.Transaction, conn *bus.Connection, msg *bus.Message) error {
	header, _ := msg.NetworkData()
	method, _ := splitMethod(header)

	r.mu.Lock()
	h := r.handlers[method]
	r.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(txn, conn, msg)
}

func splitMethod(header []byte) (method string, rest []byte) {
	for i, b := range header {
		if b == ':' {
			return string(header[:i]), header[i+1:]
		}
	}
	return string(header), nil
}

func (r *Router) handleRequestName(txn *bus.Transaction, conn *bus.Connection, msg *bus.Message) error {
	_, name := splitMethodBody(msg)
	granted := r.services.RequestName(conn, string(name))
	reply := bus.NewMessageWithData([]byte(methodRequestName+".Reply"), replyBody(granted))
	reply.SetSerial(r.registry.NextSerial())
	return txn.SendMessage(conn, reply)
}

func (r *Router) handleReleaseName(txn *bus.Transaction, conn *bus.Connection, msg *bus.Message) error {
	_, name := splitMethodBody(msg)
	return r.services.ReleaseName(txn, conn, string(name))
}

func splitMethodBody(msg *bus.Message) (header, body []byte) {
	return msg.NetworkData()
}

func replyBody(granted bool) []byte {
	if granted {
		return []byte("granted")
	}
	return []byte("queued")
}

// Package dispatch provides a minimal reference Dispatcher and ServiceOwner
// so a bus.Registry can be exercised end to end: Router decodes inbound
// messages into method calls, and Services tracks which connection owns
// each well-known service name, mirroring ownership onto bus.Connection and
// staging NameOwnerChanged-style broadcasts through whatever *bus.Transaction
// it is given (normally the registry's disconnect-teardown transaction, or
// one Router builds per request).
package dispatch

import (
	"sync"

	"code.hybscloud.com/msgbus"
)

// Services is a bus.ServiceOwner: a table of service name to current owner,
// with a FIFO queue per name of every connection that asked to own it (via
// RequestName), the current owner first; the others are interested in
// hearing when it changes hands.
type Services struct {
	mu     sync.Mutex
	owners map[string]*bus.Connection
	queue  map[string][]*bus.Connection
}

// NewServices returns an empty Services table.
func NewServices() *Services {
	return &Services{
		owners: make(map[string]*bus.Connection),
		queue:  make(map[string][]*bus.Connection),
	}
}

// RequestName attempts to make conn the owner of name. If name is unowned,
// conn becomes the owner immediately and granted is true. If name is
// already owned, conn is appended to the interest queue (so it learns of a
// future release via a NameOwnerChanged broadcast) and granted is false.
func (s *Services) RequestName(conn *bus.Connection, name string) (granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, owned := s.owners[name]; !owned {
		s.owners[name] = conn
		s.queue[name] = append(s.queue[name], conn)
		conn.AddOwnedService(name)
		return true
	}
	if !s.inQueue(name, conn) {
		s.queue[name] = append(s.queue[name], conn)
	}
	return false
}

// ReleaseName voluntarily releases conn's ownership of name (as opposed to
// RemoveOwner, which is driven by disconnect teardown). The next queued
// connection, if any, becomes the new owner.
func (s *Services) ReleaseName(txn *bus.Transaction, conn *bus.Connection, name string) error {
	s.mu.Lock()
	owner, owned := s.owners[name]
	if !owned || owner != conn {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.transfer(txn, conn, name)
}

// RemoveOwner implements bus.ServiceOwner. It is called once per owned
// service, in LIFO order, by Registry.Disconnected's teardown sequence.
func (s *Services) RemoveOwner(service string, conn *bus.Connection, txn *bus.Transaction) error {
	return s.transfer(txn, conn, service)
}

// transfer removes conn as owner of name, promotes the next queued
// connection (if any), mirrors the change onto both connections' owned
// service lists, and broadcasts a NameOwnerChanged notification to every
// connection still in the interest queue. Any staging failure (only
// possible for ErrNoMemory) is returned to the caller unchanged so
// Registry.Disconnected's wait-for-memory retry can apply.
func (s *Services) transfer(txn *bus.Transaction, conn *bus.Connection, name string) error {
	s.mu.Lock()
	owner, owned := s.owners[name]
	if !owned || owner != conn {
		s.mu.Unlock()
		return nil
	}

	q := s.removeFromQueue(name, conn)
	var newOwner *bus.Connection
	if len(q) > 0 {
		newOwner = q[0]
		s.owners[name] = newOwner
	} else {
		delete(s.owners, name)
		delete(s.queue, name)
	}
	interested := append([]*bus.Connection(nil), q...)
	s.mu.Unlock()

	conn.RemoveOwnedService(name)
	if newOwner != nil {
		newOwner.AddOwnedService(name)
	}

	for _, c := range interested {
		if err := txn.SendMessage(c, nameOwnerChangedMessage(name, newOwner)); err != nil {
			return err
		}
	}
	return nil
}

// nameOwnerChangedMessage builds the broadcast body used to announce an
// ownership change. newOwner may be nil if the name has no owner anymore.
func nameOwnerChangedMessage(name string, newOwner *bus.Connection) *bus.Message {
	ownerName := ""
	if newOwner != nil {
		ownerName = newOwner.Name()
	}
	header := []byte("org.bus.NameOwnerChanged:" + name)
	return bus.NewMessageWithData(header, []byte(ownerName))
}

func (s *Services) inQueue(name string, conn *bus.Connection) bool {
	for _, c := range s.queue[name] {
		if c == conn {
			return true
		}
	}
	return false
}

// removeFromQueue removes conn from name's queue and returns the resulting
// queue. Caller must hold s.mu.
func (s *Services) removeFromQueue(name string, conn *bus.Connection) []*bus.Connection {
	q := s.queue[name]
	for i, c := range q {
		if c == conn {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	s.queue[name] = q
	return q
}

// Owner returns the current owner of name, if any.
func (s *Services) Owner(name string) (*bus.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.owners[name]
	return c, ok
}

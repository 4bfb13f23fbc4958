// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"net"

	"code.hybscloud.com/msgbus"
	"code.hybscloud.com/msgbus/internal/wire"
)

// StreamTransport is a net.Conn-backed bus.Transport for TCP or Unix
// stream sockets, framed via internal/wire's TCP options (a length prefix,
// since plain stream sockets do not preserve write boundaries).
type StreamTransport struct {
	*base
	conn net.Conn
}

// NewStreamTransport wraps an already-accepted or already-dialed net.Conn.
func NewStreamTransport(conn net.Conn, logger bus.Logger, reservations int) *StreamTransport {
	r := wire.NewReader(conn, wire.WithReadTCP())
	w := wire.NewWriter(conn, wire.WithWriteTCP())
	return &StreamTransport{
		base: newBase(r, w, conn.Close, reservations, logger),
		conn: conn,
	}
}

// Bind attaches conn/dispatcher/loop and starts this transport's reader
// goroutine. Call once, immediately after registry.Setup(transport).
func (s *StreamTransport) Bind(conn *bus.Connection, dispatcher bus.Dispatcher, loop *Loop) error {
	return s.bind(conn, dispatcher, loop)
}

// Server accepts connections on a net.Listener. Its Accept method returns
// each one as a StreamTransport that is not yet registered or bound; the
// caller is expected to call registry.Setup followed by Bind. Server does not
// itself touch the bus core, so Registry.Setup runs on whichever goroutine
// the caller chooses.
type Server struct {
	ln net.Listener
}

// Listen starts a Server on the given network/address (e.g. "tcp",
// "127.0.0.1:0", or "unix", "/run/msgbus.sock").
func Listen(network, address string) (*Server, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln}, nil
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Accept blocks for the next inbound connection and returns a
// not-yet-bound StreamTransport for it. The caller must register it with a
// bus.Registry and call Bind before the connection can do anything useful.
func (s *Server) Accept(logger bus.Logger, reservations int) (*StreamTransport, error) {
	conn, err := s.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewStreamTransport(conn, logger, reservations), nil
}

// Dial connects to a bus listening on network/address and returns a
// not-yet-bound StreamTransport for the new connection.
func Dial(network, address string, logger bus.Logger, reservations int) (*StreamTransport, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewStreamTransport(conn, logger, reservations), nil
}

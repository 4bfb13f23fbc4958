// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"io"

	"code.hybscloud.com/msgbus"
	"code.hybscloud.com/msgbus/internal/wire"
)

// PipeTransport is an in-process, synchronously connected bus.Transport
// backed by a pair of internal/wire framing pipes over io.Pipe. It exists
// so the bus can be driven end to end — in tests, and by cmd/busd's
// "-network=pipe" demo mode — without a real socket.
type PipeTransport struct {
	*base
}

// NewPipePair returns two PipeTransports, cross-wired so that sends on one
// arrive as reads on the other. Each direction is its own raw io.Pipe,
// framed independently by internal/wire's Reader/Writer (rather than
// wire.NewPipe, which would not leave us a handle to close the underlying
// pipe ends on Disconnect); reservations bounds each side's PreallocateSend
// pool.
func NewPipePair(logger bus.Logger, reservations int) (a, b *PipeTransport) {
	aToBR, aToBW := io.Pipe()
	bToAR, bToAW := io.Pipe()

	aReader := wire.NewReader(bToAR)
	aWriter := wire.NewWriter(aToBW)
	bReader := wire.NewReader(aToBR)
	bWriter := wire.NewWriter(bToAW)

	a = &PipeTransport{base: newBase(aReader, aWriter, closerOf(bToAR, aToBW), reservations, logger)}
	b = &PipeTransport{base: newBase(bReader, bWriter, closerOf(aToBR, bToAW), reservations, logger)}
	return a, b
}

// closerOf returns a close function that closes the given pipe ends,
// unblocking whichever side's Read/Write is currently pending on them.
func closerOf(vs ...io.Closer) func() error {
	return func() error {
		var first error
		for _, c := range vs {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}

// Bind attaches conn/dispatcher/loop and starts this transport's reader
// goroutine. Call once, immediately after registry.Setup(transport).
func (p *PipeTransport) Bind(conn *bus.Connection, dispatcher bus.Dispatcher, loop *Loop) error {
	return p.bind(conn, dispatcher, loop)
}

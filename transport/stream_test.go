// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/msgbus"
	"code.hybscloud.com/msgbus/transport"
)

func TestStreamTransportRoundTrip(t *testing.T) {
	srv, err := transport.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := transport.NewLoop(time.Millisecond)
	go loop.Run(ctx)

	dispServer := &recordingDispatcher{received: make(chan *bus.Message, 1)}
	registryServer := bus.NewRegistry(loop, dispServer, noopServiceOwner{})

	accepted := make(chan *transport.StreamTransport, 1)
	go func() {
		st, err := srv.Accept(nil, 8)
		if err != nil {
			return
		}
		conn := registryServer.Setup(st)
		if err := st.Bind(conn, dispServer, loop); err != nil {
			t.Errorf("server Bind: %v", err)
			return
		}
		accepted <- st
	}()

	clientTr, err := transport.Dial("tcp", srv.Addr().String(), nil, 8)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	dispClient := &recordingDispatcher{received: make(chan *bus.Message, 1)}
	registryClient := bus.NewRegistry(loop, dispClient, noopServiceOwner{})
	connClient := registryClient.Setup(clientTr)
	if err := clientTr.Bind(connClient, dispClient, loop); err != nil {
		t.Fatalf("client Bind: %v", err)
	}

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to accept")
	}

	txn := bus.NewTransaction()
	msg := bus.NewMessageWithData([]byte("greet"), []byte("hi there"))
	msg.SetSerial(registryClient.NextSerial())
	if err := txn.SendMessage(connClient, msg); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	txn.ExecuteAndFree()

	select {
	case got := <-dispServer.received:
		_, body := got.NetworkData()
		if string(body) != "hi there" {
			t.Fatalf("received body = %q, want %q", body, "hi there")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to receive the message")
	}
}

func TestBasePreallocateSendExhaustionWrapsNoMemory(t *testing.T) {
	a, _ := transport.NewPipePair(nil, 1)
	if _, err := a.PreallocateSend(); err != nil {
		t.Fatalf("first PreallocateSend: %v", err)
	}
	_, err := a.PreallocateSend()
	if err == nil {
		t.Fatal("expected the second PreallocateSend on a 1-slot pool to fail")
	}
	if !errors.Is(err, bus.ErrNoMemory) {
		t.Fatalf("expected error to wrap bus.ErrNoMemory, got %v", err)
	}
}

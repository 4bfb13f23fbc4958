// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch_test

import (
	"context"
	"testing"

	"code.hybscloud.com/msgbus"
	"code.hybscloud.com/msgbus/dispatch"
)

func newTestRouter() (*dispatch.Router, *bus.Registry) {
	services := dispatch.NewServices()
	r := dispatch.NewRouter(services, nil)
	loop := &noopLoop{}
	registry := bus.NewRegistry(loop, r, services)
	r.BindRegistry(registry)
	return r, registry
}

func TestRouterRequestNameGrantsAndReplies(t *testing.T) {
	router, registry := newTestRouter()
	tr := newRecordingTransport(4)
	conn := registry.Setup(tr)

	req := bus.NewMessageWithData([]byte("org.bus.RequestName"), []byte("org.example.Foo"))
	txn := bus.NewTransaction()
	router.Dispatch(txn, conn, req)
	txn.ExecuteAndFree()

	if len(tr.sent) != 1 {
		t.Fatalf("expected 1 reply sent, got %d", len(tr.sent))
	}
	_, body := tr.sent[0].NetworkData()
	if string(body) != "granted" {
		t.Fatalf("reply body = %q, want %q", body, "granted")
	}
}

func TestRouterReleaseNameDelegatesToServices(t *testing.T) {
	router, registry := newTestRouter()
	tr := newRecordingTransport(4)
	conn := registry.Setup(tr)

	req := bus.NewMessageWithData([]byte("org.bus.RequestName"), []byte("org.example.Foo"))
	txn := bus.NewTransaction()
	router.Dispatch(txn, conn, req)
	txn.ExecuteAndFree()

	release := bus.NewMessageWithData([]byte("org.bus.ReleaseName"), []byte("org.example.Foo"))
	txn2 := bus.NewTransaction()
	router.Dispatch(txn2, conn, release)
	txn2.ExecuteAndFree()
}

func TestRouterUnknownMethodIsIgnored(t *testing.T) {
	router, registry := newTestRouter()
	tr := newRecordingTransport(4)
	conn := registry.Setup(tr)

	req := bus.NewMessageWithData([]byte("org.bus.DoesNotExist"), nil)
	txn := bus.NewTransaction()
	router.Dispatch(txn, conn, req)
	txn.ExecuteAndFree()

	if len(tr.sent) != 0 {
		t.Fatalf("expected no reply for an unrecognized method, got %d", len(tr.sent))
	}
}

func TestRouterCustomHandler(t *testing.T) {
	router, registry := newTestRouter()
	tr := newRecordingTransport(4)
	conn := registry.Setup(tr)

	var called bool
	router.Handle("com.example.Ping", func(txn *bus.Transaction, conn *bus.Connection, msg *bus.Message) error {
		called = true
		return nil
	})

	req := bus.NewMessageWithData([]byte("com.example.Ping"), nil)
	txn := bus.NewTransaction()
	router.Dispatch(txn, conn, req)
	txn.ExecuteAndFree()

	if !called {
		t.Fatal("expected custom handler to be invoked")
	}
}

type noopLoop struct{}

func (noopLoop) AddWatch(w bus.Watch) error     { return nil }
func (noopLoop) RemoveWatch(w bus.Watch)        {}
func (noopLoop) WaitForMemory(ctx context.Context) {}

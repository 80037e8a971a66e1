package relay

import (
	"context"
	"testing"
	"time"

	"github.com/zephyrtun/zephyr/internal/entrypoint"
	"github.com/zephyrtun/zephyr/internal/rpc"
	"github.com/zephyrtun/zephyr/internal/session"
)

const testTimeout = 2 * time.Second

func recvNotification(t *testing.T, ch <-chan rpc.ListenNotification) rpc.ListenNotification {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatal("notification channel closed unexpectedly")
		}
		return n
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for notification")
	}
	return rpc.ListenNotification{}
}

func recvPayload(t *testing.T, ch <-chan rpc.Payload) rpc.Payload {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for payload")
	}
	return rpc.Payload{}
}

func setup() (*Core, chan rpc.Payload, chan rpc.Payload) {
	sessions := session.NewRegistry(session.AuthMethodToken, map[string]string{"alice": "S"})
	entrypoints := entrypoint.NewRegistry("example.test", 50000, 50010)
	httpNotify := make(chan rpc.Payload, rpc.ChannelCapacity)
	tcpNotify := make(chan rpc.Payload, rpc.ChannelCapacity)
	core := New(sessions, entrypoints, httpNotify, tcpNotify)
	return core, httpNotify, tcpNotify
}

func TestListenReadyThenComing(t *testing.T) {
	core, httpNotify, _ := setup()
	sess := session.Session{ID: "sess-1", Username: "alice"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ep, notifications, err := core.Listen(ctx, sess, rpc.ListenParam{Protocol: rpc.ProtocolHTTP, Subdomain: "demo"})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	if ep != "http://demo.example.test" {
		t.Fatalf("unexpected entrypoint: %q", ep)
	}

	payload := recvPayload(t, httpNotify)
	if payload.Entrypoint != ep {
		t.Fatalf("payload entrypoint mismatch: %q", payload.Entrypoint)
	}

	ready := recvNotification(t, notifications)
	if ready.Action != "ready" || ready.Message != ep {
		t.Fatalf("unexpected first notification: %+v", ready)
	}

	conn := rpc.Connection{ID: "conn-1", Tx: make(chan rpc.XData, rpc.ChannelCapacity)}
	payload.Tx <- conn

	coming := recvNotification(t, notifications)
	if coming.Action != "coming" || coming.Message != "conn-1" {
		t.Fatalf("unexpected second notification: %+v", coming)
	}
}

func TestTransferReadyDrainsToEmptyChunk(t *testing.T) {
	core, httpNotify, _ := setup()
	sess := session.Session{ID: "sess-2", Username: "alice"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, notifications, err := core.Listen(ctx, sess, rpc.ListenParam{Protocol: rpc.ProtocolHTTP, Subdomain: "demo2"})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	payload := recvPayload(t, httpNotify)
	recvNotification(t, notifications) // ready

	conn := rpc.Connection{ID: "conn-2", Tx: make(chan rpc.XData, rpc.ChannelCapacity)}
	payload.Tx <- conn
	recvNotification(t, notifications) // coming

	outbound := make(chan rpc.TransferReply, rpc.ChannelCapacity)
	core.Transfer(sess.ID, rpc.TransferBody{ConnID: "conn-2", Status: rpc.StatusReady}, outbound)

	var tx rpc.TX
	select {
	case v := <-conn.Tx:
		var ok bool
		tx, ok = v.(rpc.TX)
		if !ok {
			t.Fatalf("expected TX, got %T", v)
		}
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for TX")
	}

	tx.Ch <- []byte("GET / HTTP/1.1\r\n\r\n")
	tx.Ch <- nil // local terminator

	first := <-outbound
	if string(first.ReqData) != "GET / HTTP/1.1\r\n\r\n" {
		t.Fatalf("unexpected first outbound chunk: %q", first.ReqData)
	}
	final := <-outbound
	if len(final.ReqData) != 0 {
		t.Fatalf("expected empty final chunk, got %q", final.ReqData)
	}
}

func TestTransferWorkingAndDone(t *testing.T) {
	core, httpNotify, _ := setup()
	sess := session.Session{ID: "sess-3", Username: "alice"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, notifications, err := core.Listen(ctx, sess, rpc.ListenParam{Protocol: rpc.ProtocolHTTP, Subdomain: "demo3"})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	payload := recvPayload(t, httpNotify)
	recvNotification(t, notifications)

	conn := rpc.Connection{ID: "conn-3", Tx: make(chan rpc.XData, rpc.ChannelCapacity)}
	payload.Tx <- conn
	recvNotification(t, notifications)

	outbound := make(chan rpc.TransferReply, rpc.ChannelCapacity)
	core.Transfer(sess.ID, rpc.TransferBody{ConnID: "conn-3", Status: rpc.StatusWorking, RespData: []byte("hello")}, outbound)

	v := <-conn.Tx
	data, ok := v.(rpc.Data)
	if !ok || string(data.Bytes) != "hello" {
		t.Fatalf("unexpected working payload: %+v", v)
	}

	core.Transfer(sess.ID, rpc.TransferBody{ConnID: "conn-3", Status: rpc.StatusDone}, outbound)
	v = <-conn.Tx
	data, ok = v.(rpc.Data)
	if !ok || !data.IsEOF() {
		t.Fatalf("expected EOF marker, got %+v", v)
	}

	if _, ok := <-conn.Tx; ok {
		t.Fatal("expected conn.Tx to be closed after Done")
	}
}

func TestListenCancelReleasesEntrypoint(t *testing.T) {
	core, httpNotify, _ := setup()
	sess := session.Session{ID: "sess-4", Username: "alice"}

	ctx, cancel := context.WithCancel(context.Background())

	ep, notifications, err := core.Listen(ctx, sess, rpc.ListenParam{Protocol: rpc.ProtocolHTTP, Subdomain: "demo4"})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	recvPayload(t, httpNotify)
	recvNotification(t, notifications)

	cancel()

	released := recvPayload(t, httpNotify)
	if released.Entrypoint != ep {
		t.Fatalf("release payload entrypoint mismatch: %q", released.Entrypoint)
	}
	if !released.Released() {
		t.Fatal("expected release payload to report Released() == true")
	}

	select {
	case _, ok := <-notifications:
		if ok {
			t.Fatal("expected notifications channel to be closed")
		}
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for notifications channel to close")
	}
}

package httpfront

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/zephyrtun/zephyr/internal/rpc"
)

const testTimeout = 2 * time.Second

func TestHandleServesRegisteredVhost(t *testing.T) {
	f := New("127.0.0.1:0")
	tx := make(chan rpc.Connection, rpc.ChannelCapacity)
	f.vhosts["demo.example.test"] = tx

	client, server := net.Pipe()
	defer client.Close()

	go f.handle(server)

	go func() {
		client.Write([]byte("GET /widgets HTTP/1.1\r\nHost: demo.example.test\r\nX-Custom-Header: Value\r\n\r\n"))
	}()

	var conn rpc.Connection
	select {
	case conn = <-tx:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for connection handoff")
	}

	// Play the relay core: hand the front-end a request channel via TX.
	reqCh := make(chan []byte, rpc.ChannelCapacity)
	select {
	case conn.Tx <- rpc.TX{Ch: reqCh}:
	case <-time.After(testTimeout):
		t.Fatal("timed out handing TX to the front-end")
	}

	var raw []byte
	select {
	case raw = <-reqCh:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for raw request bytes")
	}
	if _, ok := <-reqCh; ok {
		t.Fatal("expected the request channel to be closed after the raw bytes")
	}
	if !contains(raw, "X-Custom-Header: Value") {
		t.Fatalf("expected original header casing preserved, got %q", raw)
	}
	if !contains(raw, "GET /widgets HTTP/1.1") {
		t.Fatalf("expected request line preserved, got %q", raw)
	}

	conn.Tx <- rpc.Data{Bytes: []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")}
	conn.Tx <- rpc.Data{Bytes: []byte(rpc.EOFMarker)}
	close(conn.Tx)

	client.SetReadDeadline(time.Now().Add(testTimeout))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestHandleUnknownVhostReturns404(t *testing.T) {
	f := New("127.0.0.1:0")

	client, server := net.Pipe()
	defer client.Close()
	go f.handle(server)

	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\nHost: unknown.example.test\r\n\r\n"))
	}()

	client.SetReadDeadline(time.Now().Add(testTimeout))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWriteFirstChunkHeaderless(t *testing.T) {
	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		writeFirstChunk(server, []byte("no headers here"))
		server.Close()
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(testTimeout))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected synthesized 200, got %d", resp.StatusCode)
	}
	// net.Pipe is synchronous: the body write only completes once it is read.
	io.Copy(io.Discard, resp.Body)
	<-done
}

func TestNormalizeHost(t *testing.T) {
	cases := map[string]string{
		"Demo.Example.Test":      "demo.example.test",
		"demo.example.test:8080": "demo.example.test",
		"":                       "",
	}
	for in, want := range cases {
		if got := normalizeHost(in); got != want {
			t.Errorf("normalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func contains(haystack []byte, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(string(haystack), needle) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// Package httpfront implements the HTTP front-end (spec.md §4.5, C4): one
// shared listener, per-request vhost lookup, and conversion between an
// HTTP request/response and the raw byte stream the relay core carries.
package httpfront

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/zephyrtun/zephyr/internal/entrypoint"
	"github.com/zephyrtun/zephyr/internal/rpc"
)

// headerParseWindow bounds how many bytes of the first response chunk are
// searched for the header/body separator (spec.md §4.5).
const headerParseWindow = 1024

const notFoundBody = "vHost Not Found"

// Frontend is the public HTTP listener shared by every registered vhost.
type Frontend struct {
	bindAddr string

	mu     sync.RWMutex
	vhosts map[string]chan rpc.Connection // host -> the owning client's payload.Tx
}

// New builds a Frontend bound to addr.
func New(addr string) *Frontend {
	return &Frontend{bindAddr: addr, vhosts: make(map[string]chan rpc.Connection)}
}

// WatchNotifications consumes register/release Payloads from notify,
// maintaining the vhost map until ctx is cancelled.
func (f *Frontend) WatchNotifications(ctx context.Context, notify <-chan rpc.Payload) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-notify:
			host := entrypoint.HTTPHost(p.Entrypoint)
			if p.Released() {
				f.mu.Lock()
				delete(f.vhosts, host)
				f.mu.Unlock()
				slog.Info("http front-end: vhost released", "host", host)
				continue
			}
			f.mu.Lock()
			f.vhosts[host] = p.Tx
			f.mu.Unlock()
			slog.Info("http front-end: vhost registered", "host", host)
		}
	}
}

// Run accepts connections until ctx is cancelled.
func (f *Frontend) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", f.bindAddr)
	if err != nil {
		return err
	}
	slog.Info("http front-end listening", "addr", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("http front-end: accept failed", "error", err)
			continue
		}
		go f.handle(conn)
	}
}

func (f *Frontend) handle(conn net.Conn) {
	raw, host, err := captureRequest(conn)
	if err != nil {
		conn.Close()
		return
	}

	host = normalizeHost(host)
	f.mu.RLock()
	tx, ok := f.vhosts[host]
	f.mu.RUnlock()
	if !ok || host == "" {
		writeNotFound(conn)
		conn.Close()
		return
	}

	rx := make(chan rpc.XData, rpc.ChannelCapacity)
	tx <- rpc.Connection{ID: rpc.NewConnID(), Tx: rx}

	drainToClient(conn, rx, raw)
}

// captureRequest reads one HTTP request from conn, returning the exact raw
// bytes (request line, headers in their original casing, blank line, fully
// buffered body — spec.md §4.5 step 4) and the parsed Host header. It tees
// every byte bufio reads from conn into a buffer so the raw bytes are
// preserved even though http.ReadRequest itself canonicalizes header key
// casing in the parsed *http.Request it returns.
func captureRequest(conn net.Conn) (raw []byte, host string, err error) {
	var buf bytes.Buffer
	tee := io.TeeReader(conn, &buf)
	br := bufio.NewReader(tee)

	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, "", err
	}
	host = req.Host

	if _, err := io.ReadAll(req.Body); err != nil {
		return nil, "", err
	}
	req.Body.Close()

	return buf.Bytes(), host, nil
}

// drainToClient consumes the relay's XData stream for one connection and
// writes the response to conn: on TX it hands raw to the relay and closes
// the channel, on Data it streams a response chunk (spec.md §4.5 step 5).
func drainToClient(conn net.Conn, rx <-chan rpc.XData, raw []byte) {
	defer conn.Close()

	first := true
	for v := range rx {
		switch val := v.(type) {
		case rpc.TX:
			val.Ch <- raw
			close(val.Ch)
		case rpc.Data:
			if val.IsEOF() {
				return
			}
			if first {
				first = false
				writeFirstChunk(conn, val.Bytes)
			} else {
				conn.Write(val.Bytes)
			}
		}
	}
}

func writeFirstChunk(conn net.Conn, data []byte) {
	window := data
	if len(window) > headerParseWindow {
		window = window[:headerParseWindow]
	}
	idx := bytes.Index(window, []byte("\r\n\r\n"))
	switch {
	case idx < 0:
		// Lenient: no header/body separator in the parse window, forward
		// the whole chunk as a body under a synthesized 200 status.
		conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
		conn.Write(data)
	case !bytes.HasPrefix(data[:idx], []byte("HTTP/")):
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n"))
	default:
		conn.Write(data[:idx+4])
		conn.Write(data[idx+4:])
	}
}

func writeNotFound(conn net.Conn) {
	resp := "HTTP/1.1 404 Not Found\r\nContent-Type: text/plain\r\nContent-Length: " +
		strconv.Itoa(len(notFoundBody)) + "\r\nConnection: close\r\n\r\n" + notFoundBody
	conn.Write([]byte(resp))
}

// normalizeHost strips an optional ":port" suffix and lowercases host,
// matching the entrypoint registry's vhost key format (spec.md §3). Hosts
// with more than one colon (bracketed IPv6 literals) are left as-is — TCP
// tunnels, not HTTP vhosts, are how the system exposes raw IP targets.
func normalizeHost(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		host = host[:idx]
	}
	return strings.ToLower(host)
}

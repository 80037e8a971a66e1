// Package tcpfront implements the TCP front-end (spec.md §4.6, C5): one
// listener per allocated TCP entrypoint, bridging an accepted socket to the
// relay core's per-connection channel pair.
package tcpfront

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/zephyrtun/zephyr/internal/entrypoint"
	"github.com/zephyrtun/zephyr/internal/proxy"
	"github.com/zephyrtun/zephyr/internal/rpc"
)

// Frontend owns one net.Listener per currently allocated TCP entrypoint.
type Frontend struct {
	mu        sync.Mutex
	listeners map[string]context.CancelFunc // entrypoint -> accept loop cancel
}

// New builds an empty Frontend.
func New() *Frontend {
	return &Frontend{listeners: make(map[string]context.CancelFunc)}
}

// WatchNotifications consumes register/release Payloads from notify,
// starting or stopping the corresponding per-entrypoint listener until ctx
// is cancelled.
func (f *Frontend) WatchNotifications(ctx context.Context, notify <-chan rpc.Payload) {
	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			for ep, cancel := range f.listeners {
				cancel()
				delete(f.listeners, ep)
			}
			f.mu.Unlock()
			return
		case p := <-notify:
			if p.Released() {
				f.mu.Lock()
				if cancel, ok := f.listeners[p.Entrypoint]; ok {
					cancel()
					delete(f.listeners, p.Entrypoint)
				}
				f.mu.Unlock()
				continue
			}

			port, err := entrypoint.TCPPort(p.Entrypoint)
			if err != nil {
				slog.Error("tcp front-end: malformed entrypoint", "entrypoint", p.Entrypoint, "error", err)
				continue
			}

			lnCtx, cancel := context.WithCancel(ctx)
			f.mu.Lock()
			f.listeners[p.Entrypoint] = cancel
			f.mu.Unlock()
			go serve(lnCtx, port, p.Entrypoint, p.Tx)
		}
	}
}

func serve(ctx context.Context, port int, entrypointStr string, tx chan<- rpc.Connection) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		slog.Error("tcp front-end: listen failed", "entrypoint", entrypointStr, "error", err)
		return
	}
	slog.Info("tcp front-end listening", "entrypoint", entrypointStr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("tcp front-end: accept failed", "entrypoint", entrypointStr, "error", err)
			continue
		}
		go handle(conn, tx)
	}
}

// handle registers the accepted socket as a Connection, waits for the
// relay's TX handoff (sent once the client has registered the connection
// on the transfer stream with status Ready), then bridges bytes in both
// directions until either side closes (spec.md §4.6, §4.4).
func handle(conn net.Conn, tx chan<- rpc.Connection) {
	rx := make(chan rpc.XData, rpc.ChannelCapacity)
	tx <- rpc.Connection{ID: rpc.NewConnID(), Tx: rx}

	var ready rpc.TX
	for {
		v, ok := <-rx
		if !ok {
			conn.Close()
			return
		}
		if t, ok := v.(rpc.TX); ok {
			ready = t
			break
		}
	}

	cc := rpc.NewChannelConn(rx, ready.Ch)
	proxy.Bidirectional(conn, cc)
}

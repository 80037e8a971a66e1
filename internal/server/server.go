// Package server wires the session registry, entrypoint registry, relay
// core, and the two front-ends into the zephyrd daemon (spec.md §2 "wiring").
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/hashicorp/yamux"
	"golang.org/x/sync/errgroup"

	"github.com/zephyrtun/zephyr/internal/entrypoint"
	"github.com/zephyrtun/zephyr/internal/relay"
	"github.com/zephyrtun/zephyr/internal/rpc"
	"github.com/zephyrtun/zephyr/internal/session"

	"github.com/zephyrtun/zephyr/internal/httpfront"
	"github.com/zephyrtun/zephyr/internal/tcpfront"
)

// Config collects the layered configuration values of spec.md §6.
type Config struct {
	ControlAddr   string
	HTTPAddr      string
	DefaultDomain string
	PortLo, PortHi int
	AuthMethod    session.AuthMethod
	Tokens        map[string]string
}

// Server is the zephyrd daemon: one control listener accepting yamux
// sessions, one shared HTTP listener, and a pool of TCP listeners.
type Server struct {
	controlAddr string

	sessions    *session.Registry
	entrypoints *entrypoint.Registry
	relay       *relay.Core

	httpFront *httpfront.Frontend
	tcpFront  *tcpfront.Frontend

	httpNotify chan rpc.Payload
	tcpNotify  chan rpc.Payload
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	sessions := session.NewRegistry(cfg.AuthMethod, cfg.Tokens)
	entrypoints := entrypoint.NewRegistry(cfg.DefaultDomain, cfg.PortLo, cfg.PortHi)

	httpNotify := make(chan rpc.Payload, rpc.ChannelCapacity)
	tcpNotify := make(chan rpc.Payload, rpc.ChannelCapacity)

	return &Server{
		controlAddr: cfg.ControlAddr,
		sessions:    sessions,
		entrypoints: entrypoints,
		relay:       relay.New(sessions, entrypoints, httpNotify, tcpNotify),
		httpFront:   httpfront.New(cfg.HTTPAddr),
		tcpFront:    tcpfront.New(),
		httpNotify:  httpNotify,
		tcpNotify:   tcpNotify,
	}
}

// Run starts every subsystem and blocks until ctx is cancelled or one
// subsystem fails, in which case every other subsystem is cancelled too
// (spec.md §5: each front-end is an independently cancellable task).
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.httpFront.WatchNotifications(gctx, s.httpNotify)
		return nil
	})
	g.Go(func() error {
		s.tcpFront.WatchNotifications(gctx, s.tcpNotify)
		return nil
	})
	g.Go(func() error {
		return s.httpFront.Run(gctx)
	})
	g.Go(func() error {
		return s.runControlListener(gctx)
	})

	return g.Wait()
}

func (s *Server) runControlListener(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.controlAddr)
	if err != nil {
		return fmt.Errorf("server: control listener: %w", err)
	}
	slog.Info("control listener started", "addr", ln.Addr())

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
			slog.Error("control listener: accept failed", "error", err)
			continue
		}
		go s.handleControlConn(ctx, conn)
	}
}

// handleControlConn wraps one control connection as a yamux session (server
// role) and dispatches every accepted stream by its leading kind byte
// (SPEC_FULL.md §0), the generalization of the teacher's single
// control-stream message-type switch.
func (s *Server) handleControlConn(ctx context.Context, conn net.Conn) {
	sess, err := yamux.Server(conn, nil)
	if err != nil {
		slog.Error("control conn: yamux handshake failed", "error", err)
		conn.Close()
		return
	}
	slog.Info("control connection accepted", "remote_addr", conn.RemoteAddr())
	defer sess.Close()

	for {
		stream, err := sess.AcceptStream()
		if err != nil {
			slog.Debug("control conn: session closed", "remote_addr", conn.RemoteAddr(), "error", err)
			return
		}
		go s.dispatchStream(ctx, stream)
	}
}

func (s *Server) dispatchStream(ctx context.Context, stream *yamux.Stream) {
	kind, err := rpc.ReadStreamKind(stream)
	if err != nil {
		stream.Close()
		return
	}

	switch kind {
	case rpc.StreamLogin:
		s.handleLogin(stream)
	case rpc.StreamListen:
		s.handleListen(ctx, stream)
	case rpc.StreamTransfer:
		s.handleTransfer(stream)
	default:
		slog.Warn("control conn: unknown stream kind, discarding", "kind", kind)
		stream.Close()
	}
}

func (s *Server) handleLogin(stream io.ReadWriteCloser) {
	defer stream.Close()

	ls := rpc.NewLoginStream(stream)
	body, err := ls.ReadRequest()
	if err != nil {
		slog.Debug("login: failed to read request", "error", err)
		return
	}

	sess, statusErr := s.sessions.Login(body.Token)
	if statusErr != nil {
		ls.SendError(statusErr)
		return
	}

	if err := ls.SendReply(rpc.LoginReply{SessionID: sess.ID, Username: sess.Username}); err != nil {
		slog.Debug("login: failed to send reply", "error", err)
	}
}

// handleListen serves the Tunnel.listen RPC for the stream's lifetime: the
// relay's notification channel is drained onto the wire until the relay
// closes it (client's entrypoint was released) or the wire write fails
// (client went away), which cancels the relay's watchdog context.
func (s *Server) handleListen(ctx context.Context, stream *yamux.Stream) {
	defer stream.Close()

	ls := rpc.NewListenStream(stream)
	sessionID, err := ls.ReadAuth()
	if err != nil {
		return
	}
	sess, statusErr := s.sessions.Authenticate(sessionID)
	if statusErr != nil {
		ls.SendError(statusErr)
		return
	}

	param, err := ls.ReadParam()
	if err != nil {
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	_, notifications, statusErr := s.relay.Listen(streamCtx, sess, param)
	if statusErr != nil {
		ls.SendError(statusErr)
		return
	}

	for n := range notifications {
		if err := ls.SendNotification(n); err != nil {
			cancel()
			// Keep draining so acceptLoop's release-on-cancel runs to
			// completion and the channel closes; don't leak this loop.
			for range notifications {
			}
			return
		}
	}
}

// handleTransfer serves the Tunnel.transfer RPC: one goroutine reads
// TransferBody messages and dispatches them to the relay core, another
// drains the outbound TransferReply channel onto the same stream — the two
// directions are independent per spec.md §4.4, but a single writer
// goroutine is required because a yamux Stream is not safe for concurrent
// writers.
func (s *Server) handleTransfer(stream *yamux.Stream) {
	ts := rpc.NewTransferStream(stream)
	sessionID, err := ts.ReadAuth()
	if err != nil {
		stream.Close()
		return
	}
	sess, statusErr := s.sessions.Authenticate(sessionID)
	if statusErr != nil {
		stream.Close()
		return
	}

	// outbound is intentionally never closed: a drainRequest goroutine
	// spawned by an earlier Ready message (relay.Core.Transfer) may still
	// be writing to it after the client disconnects, and closing it here
	// would race a send on a closed channel. The writer goroutine below
	// returns at its first failed write to the stream; until another reply
	// arrives it stays blocked on outbound, and a producer that sends after
	// the writer has returned blocks once outbound's buffer is full.
	outbound := make(chan rpc.TransferReply, rpc.ChannelCapacity)
	go func() {
		for reply := range outbound {
			if err := ts.SendReply(reply); err != nil {
				return
			}
		}
	}()

	for {
		body, err := ts.ReadBody()
		if err != nil {
			break
		}
		s.relay.Transfer(sess.ID, body, outbound)
	}

	stream.Close()
}

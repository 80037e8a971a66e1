// Package relay implements the relay core (spec.md §4.3, §4.4, C6): the
// listen and transfer logic that sits between the front-ends and a
// connected client's control channel.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zephyrtun/zephyr/internal/entrypoint"
	"github.com/zephyrtun/zephyr/internal/rpc"
	"github.com/zephyrtun/zephyr/internal/session"
)

// clientState is the per-client relay state of spec.md §3: the set of live
// Connections a single connected client owns, keyed by connection id.
type clientState struct {
	entrypoint string

	mu    sync.Mutex
	conns map[string]rpc.Connection
}

// Core ties the session and entrypoint registries to the two front-end
// notification channels, and holds one clientState per currently listening
// client.
type Core struct {
	sessions    *session.Registry
	entrypoints *entrypoint.Registry
	httpNotify  chan<- rpc.Payload
	tcpNotify   chan<- rpc.Payload

	mu      sync.Mutex
	clients map[string]*clientState // session id -> state
}

// New builds a Core. httpNotify and tcpNotify are the channels the HTTP and
// TCP front-ends listen on for register/release Payloads.
func New(sessions *session.Registry, entrypoints *entrypoint.Registry, httpNotify, tcpNotify chan<- rpc.Payload) *Core {
	return &Core{
		sessions:    sessions,
		entrypoints: entrypoints,
		httpNotify:  httpNotify,
		tcpNotify:   tcpNotify,
		clients:     make(map[string]*clientState),
	}
}

// Listen implements the Tunnel.listen RPC (spec.md §4.3). It allocates an
// entrypoint, registers the owning front-end, emits the "ready"
// notification, and returns a channel of further notifications ("coming"
// per accepted connection). The returned channel is closed, and the
// entrypoint released, when ctx is cancelled — the event-driven
// replacement for the polling watchdog spec.md §9 calls an acceptable but
// inferior simplification.
func (c *Core) Listen(ctx context.Context, sess session.Session, param rpc.ListenParam) (string, <-chan rpc.ListenNotification, *rpc.StatusError) {
	var ep string
	var statusErr *rpc.StatusError
	switch param.Protocol {
	case rpc.ProtocolHTTP:
		ep, statusErr = c.entrypoints.BuildHTTP(param.Subdomain)
	case rpc.ProtocolTCP:
		ep, statusErr = c.entrypoints.BuildTCP()
	default:
		statusErr = rpc.Status(rpc.CodeInvalidArgument, "unknown protocol %v", param.Protocol)
	}
	if statusErr != nil {
		return "", nil, statusErr
	}

	state := &clientState{entrypoint: ep, conns: make(map[string]rpc.Connection)}
	c.mu.Lock()
	c.clients[sess.ID] = state
	c.mu.Unlock()

	payloadTx := make(chan rpc.Connection, rpc.ChannelCapacity)
	c.notifierFor(param.Protocol) <- rpc.Payload{Tx: payloadTx, Entrypoint: ep}

	notifications := make(chan rpc.ListenNotification, rpc.ChannelCapacity)
	notifications <- rpc.ListenNotification{Action: "ready", Message: ep}

	go c.acceptLoop(ctx, sess.ID, param.Protocol, state, payloadTx, notifications)

	return ep, notifications, nil
}

func (c *Core) acceptLoop(ctx context.Context, sessionID string, protocol rpc.Protocol, state *clientState, payloadTx chan rpc.Connection, notifications chan rpc.ListenNotification) {
	defer c.release(sessionID, protocol, state.entrypoint)
	defer close(notifications)

	for {
		select {
		case <-ctx.Done():
			return
		case conn, ok := <-payloadTx:
			if !ok {
				return
			}
			state.mu.Lock()
			state.conns[conn.ID] = conn
			state.mu.Unlock()

			select {
			case notifications <- rpc.ListenNotification{Action: "coming", Message: conn.ID}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// release unregisters the entrypoint and notifies the owning front-end
// with a release Payload (a freshly created, pre-closed channel, per
// spec.md §3).
func (c *Core) release(sessionID string, protocol rpc.Protocol, ep string) {
	c.mu.Lock()
	delete(c.clients, sessionID)
	c.mu.Unlock()

	c.entrypoints.Release(ep)

	released := make(chan rpc.Connection)
	close(released)
	c.notifierFor(protocol) <- rpc.Payload{Tx: released, Entrypoint: ep}
}

func (c *Core) notifierFor(protocol rpc.Protocol) chan<- rpc.Payload {
	if protocol == rpc.ProtocolTCP {
		return c.tcpNotify
	}
	return c.httpNotify
}

// Transfer implements the per-message dispatch of the Tunnel.transfer RPC
// (spec.md §4.4). outbound is the channel the caller drains to write
// TransferReply messages back to the client on the wire.
func (c *Core) Transfer(sessionID string, body rpc.TransferBody, outbound chan<- rpc.TransferReply) {
	c.mu.Lock()
	state := c.clients[sessionID]
	c.mu.Unlock()
	if state == nil {
		slog.Warn("transfer: unknown session, discarding message", "session_id", sessionID, "conn_id", body.ConnID)
		return
	}

	state.mu.Lock()
	conn, ok := state.conns[body.ConnID]
	state.mu.Unlock()
	if !ok {
		slog.Warn("transfer: unknown conn_id, discarding message", "conn_id", body.ConnID)
		return
	}

	switch body.Status {
	case rpc.StatusReady:
		reqCh := make(chan []byte, rpc.ChannelCapacity)
		conn.Tx <- rpc.TX{Ch: reqCh}
		go drainRequest(body.ConnID, reqCh, outbound)

	case rpc.StatusWorking:
		conn.Tx <- rpc.Data{Bytes: body.RespData}

	case rpc.StatusDone:
		conn.Tx <- rpc.Data{Bytes: []byte(rpc.EOFMarker)}
		state.mu.Lock()
		delete(state.conns, body.ConnID)
		state.mu.Unlock()
		close(conn.Tx)

	default:
		slog.Warn("transfer: malformed status, discarding message", "conn_id", body.ConnID, "status", body.Status)
	}
}

// drainRequest forwards chunks pushed onto reqCh by the owning front-end as
// outbound TransferReply messages, stopping at the first empty chunk or
// channel closure and emitting exactly one final empty-bodied message
// (spec.md §4.4).
func drainRequest(connID string, reqCh <-chan []byte, outbound chan<- rpc.TransferReply) {
	for data := range reqCh {
		if len(data) == 0 {
			break
		}
		outbound <- rpc.TransferReply{ConnID: connID, ReqData: data}
	}
	outbound <- rpc.TransferReply{ConnID: connID, ReqData: nil}
}

// Package session implements the session registry (spec.md §4.1, C2): it
// authenticates a shared-secret token, mints a session id, and verifies
// that id on every subsequent call.
package session

import (
	"sync"

	"github.com/zephyrtun/zephyr/internal/rpc"
)

// AuthMethod selects how login authenticates a token.
type AuthMethod string

const (
	// AuthMethodToken is the only implemented method.
	AuthMethodToken AuthMethod = "token"
	// AuthMethodOIDC is reserved by the schema but not implemented
	// (spec.md §1 Non-goals).
	AuthMethodOIDC AuthMethod = "oidc"
)

// Session is the authenticated identity attached to one connected client
// (spec.md §3). It is created on successful login, never mutated, and
// destroyed only on process exit.
type Session struct {
	ID       string
	Username string
}

// Registry holds the token table (read-only, set at construction) and the
// process-wide session map. The map is guarded by a short-held RWMutex: the
// Login writer takes the write lock only to insert, and Authenticate (the
// check_auth interceptor analogue, spec.md §4.1) takes the read lock, so
// concurrent lookups never block each other, and never block behind a
// blocked writer for more than one map insert.
type Registry struct {
	authMethod AuthMethod
	tokens     map[string]string // username -> token

	mu       sync.RWMutex
	sessions map[string]Session // session id -> Session
}

// NewRegistry builds a Registry for the given auth method and token table.
// Tokens need not be unique (spec.md §3). A token listed under more than
// one username makes login return one of those usernames; which one is not
// defined, since tokens is a map scanned in Go's unspecified map order.
func NewRegistry(authMethod AuthMethod, tokens map[string]string) *Registry {
	return &Registry{
		authMethod: authMethod,
		tokens:     tokens,
		sessions:   make(map[string]Session),
	}
}

// Login authenticates token against the token table by linear scan and, on
// success, mints and records a new Session.
func (r *Registry) Login(token string) (Session, *rpc.StatusError) {
	if r.authMethod != AuthMethodToken {
		return Session{}, rpc.Status(rpc.CodeNotImplemented, "auth method %q is not implemented", r.authMethod)
	}

	var username string
	var found bool
	for u, t := range r.tokens {
		if t == token {
			username, found = u, true
			break
		}
	}
	if !found {
		return Session{}, rpc.Status(rpc.CodeInvalidArgument, "invalid token")
	}

	sess := Session{ID: rpc.NewSessionID(), Username: username}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	return sess, nil
}

// Authenticate is the check_auth interceptor: it verifies a session id
// presented on every non-login RPC (spec.md §4.1).
func (r *Registry) Authenticate(sessionID string) (Session, *rpc.StatusError) {
	if sessionID == "" {
		return Session{}, rpc.Status(rpc.CodeUnauthenticated, "missing authorization metadata")
	}

	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return Session{}, rpc.Status(rpc.CodeUnauthenticated, "unknown session")
	}
	return sess, nil
}

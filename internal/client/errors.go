package client

import (
	"fmt"

	"github.com/zephyrtun/zephyr/internal/rpc"
)

// The client CLI error taxonomy of spec.md §7: every failure the control
// loop can return is one of these four shapes, each printed differently.
// cmd/client exits non-zero on any of them unless the run was interrupted
// (its context cancelled).

// ConnectError means the RPC server could not be reached at all.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return e.Err.Error() }
func (e *ConnectError) Unwrap() error  { return e.Err }

// StatusErr means the server returned a structured status (bad token,
// unauthenticated, entrypoint collision, ...).
type StatusErr struct {
	Status *rpc.StatusError
}

func (e *StatusErr) Error() string {
	return fmt.Sprintf("%s: %s", e.Status.Code, e.Status.Message)
}
func (e *StatusErr) Unwrap() error { return e.Status }

// DisconnectError means the listen stream reached its end (io.EOF) while
// the client was still listening.
type DisconnectError struct{}

func (e *DisconnectError) Error() string { return "remote server disconnect" }

// OtherError wraps anything not covered above.
type OtherError struct {
	Err error
}

func (e *OtherError) Error() string { return e.Err.Error() }
func (e *OtherError) Unwrap() error { return e.Err }

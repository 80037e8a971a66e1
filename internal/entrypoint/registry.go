// Package entrypoint implements the entrypoint registry (spec.md §4.2,
// C3): allocation and release of public endpoints (HTTP vhosts, TCP
// addresses) with a process-wide uniqueness guarantee.
package entrypoint

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zephyrtun/zephyr/internal/rpc"
)

// maxSubdomainRetries bounds the random-subdomain collision retry loop
// (spec.md §9 Open Question: "no retry bound is specified"). The 8-char
// alphanumeric namespace is ~2.8x10^14, so a handful of retries is already
// generous.
const maxSubdomainRetries = 5

// Registry tracks the set of active entrypoint strings. Insertion and the
// uniqueness check are atomic with respect to concurrent builders (spec.md
// §4.2), enforced by holding mu across the check-then-insert.
type Registry struct {
	defaultDomain string
	portLo, portHi int // [portLo, portHi)

	mu   sync.Mutex
	taken map[string]bool
}

// NewRegistry builds a Registry for the given default HTTP domain and
// inclusive-low/exclusive-high TCP port range.
func NewRegistry(defaultDomain string, portLo, portHi int) *Registry {
	return &Registry{
		defaultDomain: defaultDomain,
		portLo:        portLo,
		portHi:        portHi,
		taken:         make(map[string]bool),
	}
}

// BuildHTTP allocates an HTTP vhost entrypoint. If subdomainHint is
// non-empty the exact key is attempted and AlreadyExists is returned on
// collision; otherwise a random 8-character subdomain is generated, retried
// up to maxSubdomainRetries times on collision.
func (r *Registry) BuildHTTP(subdomainHint string) (string, *rpc.StatusError) {
	if subdomainHint != "" {
		entrypoint := httpEntrypoint(r.defaultDomain, subdomainHint)
		if !r.tryInsert(entrypoint) {
			return "", rpc.Status(rpc.CodeAlreadyExists, "entrypoint %s already registered", entrypoint)
		}
		return entrypoint, nil
	}

	for i := 0; i < maxSubdomainRetries; i++ {
		entrypoint := httpEntrypoint(r.defaultDomain, rpc.NewSubdomain())
		if r.tryInsert(entrypoint) {
			return entrypoint, nil
		}
	}
	return "", rpc.Status(rpc.CodeInternal, "failed to allocate a unique subdomain after %d attempts", maxSubdomainRetries)
}

// BuildTCP allocates the lowest free port in [portLo, portHi).
func (r *Registry) BuildTCP() (string, *rpc.StatusError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for port := r.portLo; port < r.portHi; port++ {
		entrypoint := tcpEntrypoint(port)
		if !r.taken[entrypoint] {
			r.taken[entrypoint] = true
			return entrypoint, nil
		}
	}
	return "", rpc.Status(rpc.CodeInternal, "no free TCP ports in range [%d, %d)", r.portLo, r.portHi)
}

// Release removes entrypoint from the set. Idempotent.
func (r *Registry) Release(entrypoint string) {
	r.mu.Lock()
	delete(r.taken, entrypoint)
	r.mu.Unlock()
}

// tryInsert atomically checks for and records ownership of entrypoint,
// reporting whether the insert succeeded.
func (r *Registry) tryInsert(entrypoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken[entrypoint] {
		return false
	}
	r.taken[entrypoint] = true
	return true
}

func httpEntrypoint(domain, subdomain string) string {
	return strings.ToLower(fmt.Sprintf("http://%s.%s", subdomain, domain))
}

func tcpEntrypoint(port int) string {
	return fmt.Sprintf("tcp://0.0.0.0:%d", port)
}

// TCPPort extracts the port number from a "tcp://0.0.0.0:<port>"
// entrypoint, for use by the TCP front-end when binding its listener.
func TCPPort(entrypoint string) (int, error) {
	idx := strings.LastIndex(entrypoint, ":")
	if idx < 0 {
		return 0, fmt.Errorf("entrypoint: malformed TCP entrypoint %q", entrypoint)
	}
	return strconv.Atoi(entrypoint[idx+1:])
}

// HTTPHost extracts the "<subdomain>.<domain>" host from a
// "http://<subdomain>.<domain>" entrypoint, for use by the HTTP front-end
// as its vhost map key.
func HTTPHost(entrypoint string) string {
	return strings.TrimPrefix(entrypoint, "http://")
}

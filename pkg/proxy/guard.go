package proxy

import (
	"context"
	"fmt"
	"sync"
)

// InstanceServerName is the server name this proxy instance advertises on
// its own `initialize` response, used by the self-reference guard of every
// *other* MetaMCP instance that might accidentally be wired as a backend
// of this one.
func InstanceServerName(namespaceUUID string) string {
	return fmt.Sprintf("metamcp-unified-%s", namespaceUUID)
}

// selfReferenceGuard drops a backend whose live `initialize` reports this
// proxy's own advertised name, or whose statically configured name matches
// — detection runs after the capability fetch, not only on static params,
// per spec.md §4.2/§9: a MetaMCP backend embedding MetaMCP must not be
// able to recurse into itself through a stale/renamed alias.
type selfReferenceGuard struct {
	namespaceUUID string

	mu      sync.Mutex
	visited map[string]struct{}
}

func newSelfReferenceGuard(namespaceUUID string) *selfReferenceGuard {
	return &selfReferenceGuard{namespaceUUID: namespaceUUID, visited: make(map[string]struct{})}
}

// shouldSkip returns true if backend must be excluded from this list
// operation. It also marks backend.UUID visited so repeated fan-out
// passes within the same operation don't re-probe it. Called
// concurrently from every errgroup goroutine in a single fan-out, so
// visited is guarded by mu.
func (g *selfReferenceGuard) shouldSkip(ctx context.Context, backend Backend) (bool, error) {
	g.mu.Lock()
	_, already := g.visited[backend.UUID]
	g.visited[backend.UUID] = struct{}{}
	g.mu.Unlock()
	if already {
		return true, nil
	}

	if backend.ConfiguredName == InstanceServerName(g.namespaceUUID) {
		return true, nil
	}

	name, err := backend.Client.ServerName(ctx)
	if err != nil {
		// Can't confirm identity; err on the side of including it rather
		// than silently dropping a healthy, unrelated backend because of
		// a transient initialize failure elsewhere in the fan-out.
		return false, nil
	}
	return name == InstanceServerName(g.namespaceUUID), nil
}

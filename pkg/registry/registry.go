// Package registry holds the namespace-scoped view of the external
// control plane's server catalog: searching for importable Backend
// Servers and managing which ones a given namespace currently has as
// members (spec.md §6). Generalizes the teacher's single global
// FileBasedConfiguration.servers/serverNames map
// (pkg/gateway/configuration_workingset.go) to the namespace-membership
// model catalog.Membership already names.
package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/docker/metamcp-gateway/pkg/catalog"
)

// Catalog is the read side of the server directory: look a server up by
// its exact name or UUID, or search across name/description for mcp-find.
// FindServerByUUID exists because catalog.Membership rows only carry a
// ServerUUID — resolving a namespace's memberships into live backends
// needs the UUID path, not the name one mcp-find/mcp-add use.
type Catalog interface {
	FindServer(ctx context.Context, name string) (catalog.ServerConfig, bool, error)
	FindServerByUUID(ctx context.Context, uuid string) (catalog.ServerConfig, bool, error)
	SearchServers(ctx context.Context, query string, limit int) ([]catalog.ServerConfig, error)
}

// Memberships is the namespace <-> backend server join table.
type Memberships interface {
	ListForNamespace(ctx context.Context, namespaceUUID string) ([]catalog.Membership, error)
	Add(ctx context.Context, m catalog.Membership) error
	Remove(ctx context.Context, namespaceUUID, serverUUID string) error
}

// InMemoryCatalog is a process-local Catalog+Memberships, standing in for
// the sqlite-backed control plane store pkg/catalogstore will eventually
// provide (spec.md §6) — sufficient for single-process deployments and
// for exercising the dynamic tools without a database.
type InMemoryCatalog struct {
	mu        sync.RWMutex
	servers   map[string]catalog.ServerConfig   // keyed by Name
	members   map[string][]catalog.Membership   // keyed by namespaceUUID
	overrides map[string][]catalog.ToolOverride // keyed by namespaceUUID
}

func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{
		servers:   make(map[string]catalog.ServerConfig),
		members:   make(map[string][]catalog.Membership),
		overrides: make(map[string][]catalog.ToolOverride),
	}
}

// AddOverride seeds a namespace's Tool Override table (spec.md §4.3 #2),
// used by the catalog seed file to pre-configure renames/disables without
// needing the dynamic tools round-trip.
func (c *InMemoryCatalog) AddOverride(o catalog.ToolOverride) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[o.NamespaceUUID] = append(c.overrides[o.NamespaceUUID], o)
}

func (c *InMemoryCatalog) OverridesForNamespace(_ context.Context, namespaceUUID string) ([]catalog.ToolOverride, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]catalog.ToolOverride{}, c.overrides[namespaceUUID]...), nil
}

// AddServer seeds the catalog with an importable server definition.
func (c *InMemoryCatalog) AddServer(s catalog.ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[s.Name] = s
}

func (c *InMemoryCatalog) FindServer(_ context.Context, name string) (catalog.ServerConfig, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.servers[name]
	return s, ok, nil
}

// FindServerByUUID scans the name-keyed map for a matching UUID. A linear
// scan is fine here: this catalog is a single-process stand-in for the
// sqlite-backed store, and namespace memberships are a handful of rows at
// a time, not a hot path worth a second index.
func (c *InMemoryCatalog) FindServerByUUID(_ context.Context, uuid string) (catalog.ServerConfig, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.servers {
		if s.UUID == uuid {
			return s, true, nil
		}
	}
	return catalog.ServerConfig{}, false, nil
}

// SearchServers matches query against server name (case-insensitive
// substring), scoring exact matches highest, mirroring the teacher's
// mcp-find scoring (pkg/gateway/dynamic_mcps.go's ServerMatch) without
// the tool-name sub-scan, since this catalog doesn't carry live tool
// lists for unimported servers.
func (c *InMemoryCatalog) SearchServers(_ context.Context, query string, limit int) ([]catalog.ServerConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	query = strings.ToLower(strings.TrimSpace(query))

	type scored struct {
		server catalog.ServerConfig
		score  int
	}
	var matches []scored
	for name, s := range c.servers {
		lower := strings.ToLower(name)
		switch {
		case query == "":
			matches = append(matches, scored{s, 0})
		case lower == query:
			matches = append(matches, scored{s, 100})
		case strings.Contains(lower, query):
			matches = append(matches, scored{s, 50})
		}
	}

	// Simple insertion sort by descending score; result sets are small
	// enough (catalog search, not a hot path) that this beats pulling in
	// sort for five lines of comparator.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].score > matches[j-1].score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]catalog.ServerConfig, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.server)
	}
	return out, nil
}

func (c *InMemoryCatalog) ListForNamespace(_ context.Context, namespaceUUID string) ([]catalog.Membership, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]catalog.Membership{}, c.members[namespaceUUID]...), nil
}

func (c *InMemoryCatalog) Add(_ context.Context, m catalog.Membership) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.members[m.NamespaceUUID] {
		if existing.ServerUUID == m.ServerUUID {
			return nil
		}
	}
	c.members[m.NamespaceUUID] = append(c.members[m.NamespaceUUID], m)
	return nil
}

func (c *InMemoryCatalog) Remove(_ context.Context, namespaceUUID, serverUUID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := make([]catalog.Membership, 0, len(c.members[namespaceUUID]))
	for _, m := range c.members[namespaceUUID] {
		if m.ServerUUID != serverUUID {
			kept = append(kept, m)
		}
	}
	c.members[namespaceUUID] = kept
	return nil
}

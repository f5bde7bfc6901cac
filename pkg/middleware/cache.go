package middleware

import "sync"

// NamespaceCache is the per-namespace resolved-table cache each middleware
// keeps (enabled flags, override maps). It is invalidated transactionally
// with writes to the corresponding external tables (spec.md §3 invariant)
// and honors a process-wide disable-cache knob for tests/debugging.
type NamespaceCache[V any] struct {
	mu       sync.RWMutex
	disabled bool
	entries  map[string]V // key: namespaceUUID
}

// NewNamespaceCache constructs an empty cache. disableCache mirrors the
// composer config's "disable cache" knob (spec.md §4.3).
func NewNamespaceCache[V any](disableCache bool) *NamespaceCache[V] {
	return &NamespaceCache[V]{disabled: disableCache, entries: make(map[string]V)}
}

// Get returns the cached value for namespaceUUID, if present and caching
// is enabled.
func (c *NamespaceCache[V]) Get(namespaceUUID string) (V, bool) {
	var zero V
	if c.disabled {
		return zero, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[namespaceUUID]
	return v, ok
}

// Set stores value for namespaceUUID. A no-op when caching is disabled, so
// callers can call Set unconditionally.
func (c *NamespaceCache[V]) Set(namespaceUUID string, value V) {
	if c.disabled {
		return
	}
	c.mu.Lock()
	c.entries[namespaceUUID] = value
	c.mu.Unlock()
}

// Invalidate drops the cached value for namespaceUUID. Call this under the
// same transaction/lock as the underlying write it mirrors.
func (c *NamespaceCache[V]) Invalidate(namespaceUUID string) {
	c.mu.Lock()
	delete(c.entries, namespaceUUID)
	c.mu.Unlock()
}

// InvalidateAll drops every cached namespace entry.
func (c *NamespaceCache[V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]V)
	c.mu.Unlock()
}

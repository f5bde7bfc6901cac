// Package session is the process-wide upstream session registry (spec.md
// §4.6): it tracks one SessionInfo per connected endpoint session, evicts
// sessions past their lifetime, and calls back into the gateway/connector
// layers on close so their own per-session caches (pkg/gateway's
// sessionCache, pkg/connector.Pool's getters) are torn down in step.
package session

import (
	"sync"
	"time"

	"github.com/docker/metamcp-gateway/pkg/log"
)

// defaultLifetime is spec.md's SESSION_LIFETIME default.
const defaultLifetime = 24 * time.Hour

// defaultSweepInterval is how often the eviction loop scans for expired
// sessions, matching the teacher's health-loop cadence order of magnitude
// (pkg/gateway health ticks run far more often; a registry this coarse
// only needs an hourly sweep).
const defaultSweepInterval = time.Hour

// Info is the bookkeeping record kept per session: when it was created,
// last touched, and which transport kind owns it (SSE/Streamable-HTTP
// connections are closed differently on expiry).
type Info struct {
	ID            string
	TransportKind string
	CreatedAt     time.Time
	LastActive    time.Time
}

// CloseFunc is supplied by the transport that registered a session; it is
// invoked once, with the session already removed from the registry, when
// the session expires or is explicitly closed.
type CloseFunc func(sessionID string)

type entry struct {
	info  Info
	close CloseFunc
}

// Registry is the process-wide map described by spec.md §4.6. Mirrors the
// teacher's Gateway.sessionCache shape (RWMutex-guarded map,
// get/remove/ranging helpers) generalized from *mcp.ServerSession keys to
// session-id strings so it can outlive any one transport's in-memory
// object graph.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	// Lifetime is how long a session survives without activity before the
	// sweep loop evicts it. Overridable via SESSION_LIFETIME.
	Lifetime time.Duration

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepOnce     sync.Once
}

// NewRegistry constructs an empty registry with spec.md defaults and starts
// its background eviction sweep.
func NewRegistry() *Registry {
	r := &Registry{
		sessions:      make(map[string]*entry),
		Lifetime:      defaultLifetime,
		sweepInterval: defaultSweepInterval,
		stopSweep:     make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Register adds a new session, or refreshes LastActive if id is already
// tracked (a reconnect under the same id).
func (r *Registry) Register(id, transportKind string, onClose CloseFunc) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[id]; ok {
		e.info.LastActive = now
		return
	}
	r.sessions[id] = &entry{
		info:  Info{ID: id, TransportKind: transportKind, CreatedAt: now, LastActive: now},
		close: onClose,
	}
}

// Touch bumps a session's LastActive timestamp, keeping it alive past the
// next sweep. No-op if id is unknown.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.info.LastActive = time.Now()
	}
}

// Get returns the tracked Info for id, if any.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// Close removes id from the registry and invokes its close callback, if
// any was registered. Safe to call more than once; subsequent calls are a
// no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok && e.close != nil {
		e.close(id)
	}
}

// CloseAll tears down every tracked session, for process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range sessions {
		if e.close != nil {
			e.close(id)
		}
	}
}

// Stop halts the background sweep loop. Idempotent.
func (r *Registry) Stop() {
	r.sweepOnce.Do(func() { close(r.stopSweep) })
}

func (r *Registry) sweepLoop() {
	interval := r.sweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

func (r *Registry) sweepExpired() {
	lifetime := r.Lifetime
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}
	cutoff := time.Now().Add(-lifetime)

	var expired []string
	r.mu.RLock()
	for id, e := range r.sessions {
		if e.info.LastActive.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		log.Logf("session: evicting expired session %s", id)
		r.Close(id)
	}
}

// Count returns the number of currently tracked sessions, for health/debug
// reporting.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

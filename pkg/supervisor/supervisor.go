// Package supervisor drives the container lifecycle state machine for
// image-backed backend servers (spec.md §4.5): absent -> creating ->
// running -> stopped -> running, with a sticky error sink that only an
// explicit retry clears.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/metamcp-gateway/pkg/catalog"
	"github.com/docker/metamcp-gateway/pkg/log"
)

// State is one node of the container lifecycle state machine.
type State string

const (
	StateAbsent   State = "absent"
	StateCreating State = "creating"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

const (
	defaultHealthInterval = 10 * time.Second
	defaultSyncInterval   = 30 * time.Second
	defaultMaxRetries     = 3
	flapRestartThreshold  = 3
)

// Runtime is the minimal container-engine surface the supervisor needs.
// Kept narrow and independent of pkg/catalog's Spec shape beyond what
// creation needs, so tests substitute a fake instead of a real Docker
// daemon; production wiring implements it over github.com/docker/docker's
// client.Client (spec.md §10 domain stack).
type Runtime interface {
	Create(ctx context.Context, name string, spec catalog.Spec) (containerID string, err error)
	Start(ctx context.Context, containerID string) error
	// IsRunning reports the live state of containerID. ok is false if the
	// container no longer exists at all (removed out of band).
	IsRunning(ctx context.Context, containerID string) (running bool, ok bool, err error)
	// RestartCount reports the container engine's own restart counter
	// (Docker's RestartCount from container inspect), used by the health
	// loop to detect a crash-restart loop independent of our create-time
	// retry_count.
	RestartCount(ctx context.Context, containerID string) (int, error)
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	Logs(ctx context.Context, containerID string, tail int) ([]string, error)
}

// instance tracks one backend server's container across restarts.
type instance struct {
	mu          sync.Mutex
	serverUUID  string
	name        string
	spec        catalog.Spec
	state       State
	containerID string
	lastErr     error
	retryCount  int // consecutive create/start failures since the last success or explicit retry
}

// Supervisor owns every tracked instance and the two background loops
// spec.md §4.5 names: a health check every 10s and a full reconciliation
// sync every 30s.
type Supervisor struct {
	runtime Runtime

	mu        sync.RWMutex
	instances map[string]*instance

	HealthInterval time.Duration
	SyncInterval   time.Duration
	// MaxRetries bounds consecutive create/start failures (retry_count)
	// before an instance is parked in the sticky error state instead of
	// being left in absent for the next EnsureRunning to retry.
	MaxRetries int

	stop     chan struct{}
	stopOnce sync.Once
}

func New(runtime Runtime) *Supervisor {
	return &Supervisor{
		runtime:        runtime,
		instances:      make(map[string]*instance),
		HealthInterval: defaultHealthInterval,
		SyncInterval:   defaultSyncInterval,
		MaxRetries:     defaultMaxRetries,
		stop:           make(chan struct{}),
	}
}

func (s *Supervisor) maxRetries() int {
	if s.MaxRetries <= 0 {
		return defaultMaxRetries
	}
	return s.MaxRetries
}

// Start launches the background health and sync loops. Call once per
// Supervisor.
func (s *Supervisor) Start(ctx context.Context) {
	go s.loop(ctx, s.health, s.HealthInterval, defaultHealthInterval)
	go s.loop(ctx, s.syncAll, s.SyncInterval, defaultSyncInterval)
}

func (s *Supervisor) loop(ctx context.Context, fn func(context.Context), interval, fallback time.Duration) {
	if interval <= 0 {
		interval = fallback
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Stop halts the background loops. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Supervisor) getOrCreateInstance(serverUUID, name string, spec catalog.Spec) *instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[serverUUID]
	if !ok {
		inst = &instance{serverUUID: serverUUID, name: name, spec: spec, state: StateAbsent}
		s.instances[serverUUID] = inst
	}
	return inst
}

// State reports the current lifecycle state of a tracked instance.
func (s *Supervisor) State(serverUUID string) (State, error) {
	s.mu.RLock()
	inst, ok := s.instances[serverUUID]
	s.mu.RUnlock()
	if !ok {
		return StateAbsent, nil
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state, inst.lastErr
}

// EnsureRunning drives serverUUID from absent (or stopped) to running,
// creating the backing container on first use. A container already in
// error stays in error until RetryContainer is called explicitly — a
// caller asking for a tool call against a backend mid-error should see
// that error surfaced, not a silent, repeated auto-retry loop.
func (s *Supervisor) EnsureRunning(ctx context.Context, serverUUID, name string, spec catalog.Spec) error {
	inst := s.getOrCreateInstance(serverUUID, name, spec)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	switch inst.state {
	case StateRunning:
		return nil
	case StateError:
		return fmt.Errorf("supervisor: %s is in error state: %w (retry explicitly)", name, inst.lastErr)
	case StateCreating:
		return fmt.Errorf("supervisor: %s is still creating", name)
	}

	return s.createAndStartLocked(ctx, inst)
}

// createAndStartLocked runs the absent/stopped -> creating -> running
// transition. Caller must hold inst.mu. On failure it increments
// retry_count (spec.md §4.5): while retry_count stays below max_retries
// the instance falls back to absent so the next EnsureRunning attempts
// creation again; once retry_count reaches max_retries it lands in the
// sticky error state instead.
func (s *Supervisor) createAndStartLocked(ctx context.Context, inst *instance) error {
	inst.state = StateCreating

	containerID, err := s.runtime.Create(ctx, inst.name, inst.spec)
	if err != nil {
		return s.failCreateLocked(inst, fmt.Errorf("create %s: %w", inst.name, err))
	}
	inst.containerID = containerID

	if err := s.runtime.Start(ctx, containerID); err != nil {
		return s.failCreateLocked(inst, fmt.Errorf("start %s: %w", inst.name, err))
	}

	inst.state = StateRunning
	inst.retryCount = 0
	inst.lastErr = nil
	return nil
}

// failCreateLocked records a create/start failure against retry_count and
// decides whether inst falls back to absent (retry eligible) or lands in
// the sticky error state. Caller must hold inst.mu.
func (s *Supervisor) failCreateLocked(inst *instance, err error) error {
	inst.retryCount++
	inst.lastErr = err

	if inst.retryCount < s.maxRetries() {
		inst.state = StateAbsent
		return fmt.Errorf("supervisor: %s (retry %d/%d): %w", inst.name, inst.retryCount, s.maxRetries(), err)
	}

	inst.state = StateError
	return fmt.Errorf("supervisor: %s exceeded max_retries (%d): %w", inst.name, s.maxRetries(), err)
}

// RetryContainer is the only way out of the sticky error state (spec.md
// §4.5). It resets retry_count, re-runs create+start from scratch, and
// lands back in error on renewed exhaustion of the new retry budget.
func (s *Supervisor) RetryContainer(ctx context.Context, serverUUID string) error {
	s.mu.RLock()
	inst, ok := s.instances[serverUUID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown instance %s", serverUUID)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.containerID != "" {
		_ = s.runtime.Remove(ctx, inst.containerID)
		inst.containerID = ""
	}
	inst.retryCount = 0
	inst.lastErr = nil
	return s.createAndStartLocked(ctx, inst)
}

// health polls every tracked instance's live container state, flipping
// running -> stopped on an unexpected exit and attempting one automatic
// restart before falling into the sticky error state.
func (s *Supervisor) health(ctx context.Context) {
	s.mu.RLock()
	instances := make([]*instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	s.mu.RUnlock()

	for _, inst := range instances {
		s.checkOne(ctx, inst)
	}
}

func (s *Supervisor) checkOne(ctx context.Context, inst *instance) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state != StateRunning {
		return
	}

	// The crash-restart-loop rule (spec.md §4.5) takes priority over the
	// ordinary liveness check: a container the engine keeps restarting on
	// its own is flapping even while momentarily "running", so inspect its
	// restart count before asking whether it's up right now.
	if restarts, err := s.runtime.RestartCount(ctx, inst.containerID); err != nil {
		log.Logf("supervisor: restart-count check %s: %s", inst.name, err)
	} else if restarts >= flapRestartThreshold {
		log.Logf("supervisor: %s restarted %d times, stopping to prevent flapping", inst.name, restarts)
		_ = s.runtime.Stop(ctx, inst.containerID)
		_ = s.runtime.Remove(ctx, inst.containerID)
		inst.state = StateError
		inst.lastErr = fmt.Errorf("container has restarted %d times due to crashes", restarts)
		inst.containerID = ""
		return
	}

	running, ok, err := s.runtime.IsRunning(ctx, inst.containerID)
	if err != nil {
		log.Logf("supervisor: health check %s: %s", inst.name, err)
		return
	}
	if running {
		return
	}

	inst.state = StateStopped
	if !ok {
		inst.containerID = ""
	}
	log.Logf("supervisor: %s stopped unexpectedly, attempting restart", inst.name)

	if err := s.createAndStartLocked(ctx, inst); err != nil {
		log.Logf("supervisor: %s auto-restart attempt failed: %s", inst.name, err)
	}
}

// syncAll is the periodic full reconciliation pass: today this is the same
// liveness check as health, kept as a separate hook so a future global
// reconcile (e.g. against a catalog listing of servers that should exist)
// has a natural home without reshaping the health loop's tighter cadence.
func (s *Supervisor) syncAll(ctx context.Context) {
	s.health(ctx)
}

// Tail returns the last n lines of a tracked instance's container logs.
func (s *Supervisor) Tail(ctx context.Context, serverUUID string, n int) ([]string, error) {
	s.mu.RLock()
	inst, ok := s.instances[serverUUID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("supervisor: unknown instance %s", serverUUID)
	}

	inst.mu.Lock()
	containerID := inst.containerID
	inst.mu.Unlock()
	if containerID == "" {
		return nil, fmt.Errorf("supervisor: %s has no container", serverUUID)
	}

	return s.runtime.Logs(ctx, containerID, n)
}

package connector

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"

	"github.com/docker/metamcp-gateway/pkg/log"
	"github.com/docker/metamcp-gateway/pkg/supervisor"
)

// SupervisorChecker is the narrow view of *supervisor.Supervisor the pool
// consults before dialing a container-backed backend: an instance already
// parked in the sticky error state (spec.md §4.5) should fail the dial
// immediately instead of spending a retry budget on a container that isn't
// coming back without an explicit RetryContainer.
type SupervisorChecker interface {
	State(serverUUID string) (supervisor.State, error)
}

// Client is a live MCP client instance talking to one backend (spec.md's
// "Connected Client" entity).
type Client struct {
	ServerUUID string
	Session    *mcp.ClientSession

	mu       sync.Mutex
	lastUsed time.Time
	crashed  bool
}

// Touch records that the client was just used, for idle/lifetime bookkeeping.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// Crashed reports whether a backend crash was detected for this client.
func (c *Client) Crashed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crashed
}

func (c *Client) markCrashed() {
	c.mu.Lock()
	c.crashed = true
	c.mu.Unlock()
}

// Close tears down the underlying MCP session.
func (c *Client) Close() error {
	if c.Session == nil {
		return nil
	}
	return c.Session.Close()
}

// key identifies one pool slot: a connection is at most one-per-key.
type key struct {
	sessionID  string
	serverUUID string
}

// getter coalesces concurrent creation attempts for the same key into a
// single Dial call (Testable Property 3), matching the teacher's
// clientGetter{once sync.Once} pattern from the example corpus.
type getter struct {
	once   sync.Once
	client *Client
	err    error
}

// Pool is the process-wide singleton described in spec.md §4.1. Holds at
// most one Client per (upstream_session, backend_server) key.
type Pool struct {
	mu      sync.RWMutex
	getters map[key]*getter

	// MaxAttempts is the default connector retry budget when a
	// ConnectParams/catalog.Spec does not override it.
	MaxAttempts int
	// RetryBackoff is the fixed delay between attempts (spec.md default 5s).
	RetryBackoff time.Duration

	// Supervisor, when set, is consulted before dialing any backend whose
	// ConnectParams.ContainerURL came from a supervised container. Left nil
	// for backends the supervisor does not manage (SSE/streamable-HTTP,
	// direct-subprocess STDIO).
	Supervisor SupervisorChecker
}

// NewPool constructs an empty pool with spec.md defaults (max_attempts=1,
// 5s fixed backoff).
func NewPool() *Pool {
	return &Pool{
		getters:      make(map[key]*getter),
		MaxAttempts:  1,
		RetryBackoff: 5 * time.Second,
	}
}

// GetSession returns the existing client for (sessionID, serverUUID) if
// any; otherwise creates one. Concurrent callers for the same key coalesce
// into exactly one connector invocation (Testable Property 3).
func (p *Pool) GetSession(ctx context.Context, sessionID string, params ConnectParams) (*Client, error) {
	k := key{sessionID: sessionID, serverUUID: params.Server.UUID}

	p.mu.RLock()
	g, ok := p.getters[k]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		g, ok = p.getters[k]
		if !ok {
			g = &getter{}
			p.getters[k] = g
		}
		p.mu.Unlock()
	}

	g.once.Do(func() {
		g.client, g.err = p.dial(ctx, params)
		if g.err != nil {
			// Do not keep a failed getter around: the next caller should
			// get a fresh attempt rather than replaying the same error
			// forever (spec.md: retry budget is per-connection, not global).
			p.mu.Lock()
			delete(p.getters, k)
			p.mu.Unlock()
		}
	})

	return g.client, g.err
}

// EnsureFor warms up a client for every entry in params that does not
// already have one, independently and best-effort (spec.md §4.1
// `ensureFor`). Failures are logged, never returned.
func (p *Pool) EnsureFor(ctx context.Context, sessionID string, paramsByServer map[string]ConnectParams) {
	var wg sync.WaitGroup
	for _, params := range paramsByServer {
		wg.Add(1)
		go func(params ConnectParams) {
			defer wg.Done()
			if _, err := p.GetSession(ctx, sessionID, params); err != nil {
				log.Logf("connector: ensureFor %s: %s", params.Server.Name, err)
			}
		}(params)
	}
	wg.Wait()
}

// Invalidate closes the existing client for serverUUID (across all
// sessions sharing it is out of scope here — callers pass the owning
// sessionID) and creates a fresh one with new params.
func (p *Pool) Invalidate(ctx context.Context, sessionID string, params ConnectParams) (*Client, error) {
	k := key{sessionID: sessionID, serverUUID: params.Server.UUID}

	p.mu.Lock()
	old, ok := p.getters[k]
	delete(p.getters, k)
	p.mu.Unlock()

	if ok && old.client != nil {
		_ = old.client.Close()
	}
	return p.GetSession(ctx, sessionID, params)
}

// Remove closes and drops the client for (sessionID, serverUUID) without
// recreating it (spec.md `remove`, used on backend delete).
func (p *Pool) Remove(sessionID, serverUUID string) error {
	k := key{sessionID: sessionID, serverUUID: serverUUID}

	p.mu.Lock()
	g, ok := p.getters[k]
	delete(p.getters, k)
	p.mu.Unlock()

	if !ok || g.client == nil {
		return nil
	}
	return g.client.Close()
}

// CleanupSession closes every client belonging to sessionID. Defined so
// endpoint servers can call it uniformly even though this pool uses
// per-session (not "fixed"/shared) clients — see DESIGN.md open question 3.
func (p *Pool) CleanupSession(sessionID string) error {
	p.mu.Lock()
	var toClose []*Client
	for k, g := range p.getters {
		if k.sessionID != sessionID {
			continue
		}
		if g.client != nil {
			toClose = append(toClose, g.client)
		}
		delete(p.getters, k)
	}
	p.mu.Unlock()

	var firstErr error
	for _, c := range toClose {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CleanupAll closes every client in the pool and clears all maps.
func (p *Pool) CleanupAll() error {
	p.mu.Lock()
	getters := p.getters
	p.getters = make(map[key]*getter)
	p.mu.Unlock()

	var firstErr error
	for _, g := range getters {
		if g.client == nil {
			continue
		}
		if err := g.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dial runs the spec.md §4.1 connection algorithm: resolve max_attempts,
// loop with fixed backoff, construct a fresh transport each attempt, call
// MCP initialize, and return on success or nil after exhaustion.
func (p *Pool) dial(ctx context.Context, params ConnectParams) (*Client, error) {
	if params.ContainerURL != "" && p.Supervisor != nil {
		state, lastErr := p.Supervisor.State(params.Server.UUID)
		if state == supervisor.StateError {
			if lastErr == nil {
				lastErr = errors.New("container in error state")
			}
			return nil, errors.Wrapf(lastErr, "connector: %s's container is in error state (retry explicitly)", params.Server.Name)
		}
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = params.Server.Spec.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = p.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, cmd, err := p.connectOnce(ctx, params)
		if err == nil {
			if cmd != nil {
				watchProcessCrash(cmd, client, params.OnProcessCrash)
			}
			return client, nil
		}
		lastErr = err
		log.Logf("connector: attempt %d/%d for %s failed: %s", attempt, maxAttempts, params.Server.Name, err)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.backoff()):
			}
		}
	}

	log.Logf("connector: exhausted %d attempts for %s", maxAttempts, params.Server.Name)
	return nil, errors.Wrapf(lastErr, "connector: giving up on %s after %d attempts", params.Server.Name, maxAttempts)
}

func (p *Pool) backoff() time.Duration {
	if p.RetryBackoff <= 0 {
		return 5 * time.Second
	}
	return p.RetryBackoff
}

func (p *Pool) connectOnce(ctx context.Context, params ConnectParams) (*Client, *exec.Cmd, error) {
	transport, cmd, err := buildTransport(params)
	if err != nil {
		return nil, nil, err
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "metamcp-gateway"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connector: connect")
	}

	return &Client{ServerUUID: params.Server.UUID, Session: session, lastUsed: time.Now()}, cmd, nil
}

// watchProcessCrash waits on the subprocess in the background and marks
// the client crashed + invokes the caller's callback on unexpected exit.
func watchProcessCrash(cmd *exec.Cmd, client *Client, onCrash func(error)) {
	go func() {
		err := cmd.Wait()
		if err == nil {
			return
		}
		client.markCrashed()
		if onCrash != nil {
			onCrash(err)
		}
	}()
}

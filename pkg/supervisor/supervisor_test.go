package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/metamcp-gateway/pkg/catalog"
)

type fakeRuntime struct {
	mu sync.Mutex

	createErr error
	startErr  error

	created      int
	running      map[string]bool // containerID -> running
	removed      map[string]bool
	restartCount map[string]int
	seq          int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		running:      make(map[string]bool),
		removed:      make(map[string]bool),
		restartCount: make(map[string]int),
	}
}

func (f *fakeRuntime) Create(ctx context.Context, name string, spec catalog.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.seq++
	id := fmt.Sprintf("container-%d", f.seq)
	return id, nil
}

func (f *fakeRuntime) Start(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running[containerID] = true
	return nil
}

func (f *fakeRuntime) IsRunning(ctx context.Context, containerID string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, ok := f.running[containerID]
	return running, ok, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[containerID] = false
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, containerID)
	f.removed[containerID] = true
	return nil
}

func (f *fakeRuntime) Logs(ctx context.Context, containerID string, tail int) ([]string, error) {
	return []string{"line1", "line2"}, nil
}

func (f *fakeRuntime) RestartCount(ctx context.Context, containerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restartCount[containerID], nil
}

func (f *fakeRuntime) setRunning(id string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = running
}

func (f *fakeRuntime) setRestartCount(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartCount[id] = n
}

func TestEnsureRunningTransitionsAbsentToRunning(t *testing.T) {
	rt := newFakeRuntime()
	sup := New(rt)

	state, _ := sup.State("s1")
	assert.Equal(t, StateAbsent, state)

	err := sup.EnsureRunning(context.Background(), "s1", "math", catalog.Spec{})
	require.NoError(t, err)

	state, _ = sup.State("s1")
	assert.Equal(t, StateRunning, state)
	assert.Equal(t, 1, rt.created)
}

func TestEnsureRunningIsIdempotentWhileRunning(t *testing.T) {
	rt := newFakeRuntime()
	sup := New(rt)

	require.NoError(t, sup.EnsureRunning(context.Background(), "s1", "math", catalog.Spec{}))
	require.NoError(t, sup.EnsureRunning(context.Background(), "s1", "math", catalog.Spec{}))

	assert.Equal(t, 1, rt.created, "a second EnsureRunning while already running must not recreate the container")
}

// TestE5ContainerStickyErrorRequiresExplicitRetry is the literal E5
// scenario: create keeps failing, retry_count climbs on each EnsureRunning
// until max_retries is exhausted and the instance lands in the sticky
// error state; only RetryContainer (not another EnsureRunning) clears it.
func TestE5ContainerStickyErrorRequiresExplicitRetry(t *testing.T) {
	rt := newFakeRuntime()
	rt.createErr = fmt.Errorf("image pull failed")
	sup := New(rt)
	require.Equal(t, 3, sup.maxRetries())

	for i := 1; i <= sup.maxRetries(); i++ {
		err := sup.EnsureRunning(context.Background(), "s1", "math", catalog.Spec{})
		require.Error(t, err)

		state, lastErr := sup.State("s1")
		assert.Error(t, lastErr)
		if i < sup.maxRetries() {
			assert.Equal(t, StateAbsent, state, "attempt %d should fall back to absent, not error", i)
		} else {
			assert.Equal(t, StateError, state, "attempt %d should exhaust max_retries into error", i)
		}
	}

	// Once in error, a further EnsureRunning must not silently re-attempt.
	err := sup.EnsureRunning(context.Background(), "s1", "math", catalog.Spec{})
	require.Error(t, err)
	assert.Equal(t, 3, rt.created, "errored instance must not trigger another create attempt")

	rt.createErr = nil
	require.NoError(t, sup.RetryContainer(context.Background(), "s1"))

	state, _ := sup.State("s1")
	assert.Equal(t, StateRunning, state)
}

func TestHealthRestartsStoppedContainerAndClearsRetryCountOnSuccess(t *testing.T) {
	rt := newFakeRuntime()
	sup := New(rt)

	require.NoError(t, sup.EnsureRunning(context.Background(), "s1", "math", catalog.Spec{}))
	state, _ := sup.State("s1")
	require.Equal(t, StateRunning, state)

	// Simulate the container dying out from under the supervisor; the
	// restarted container comes back up cleanly.
	rt.setRunning("container-1", false)
	sup.health(context.Background())

	state, lastErr := sup.State("s1")
	assert.Equal(t, StateRunning, state)
	assert.NoError(t, lastErr)
	assert.Equal(t, 2, rt.created, "health loop must have recreated the container once")
}

func TestHealthStopsAndErrorsContainerThatFlaps(t *testing.T) {
	rt := newFakeRuntime()
	sup := New(rt)

	require.NoError(t, sup.EnsureRunning(context.Background(), "s1", "math", catalog.Spec{}))
	rt.setRestartCount("container-1", 3)

	sup.health(context.Background())

	state, lastErr := sup.State("s1")
	assert.Equal(t, StateError, state)
	assert.Error(t, lastErr)
	assert.True(t, rt.removed["container-1"], "flapping container must be stopped and removed")

	// A subsequent health tick must not touch the now-errored, container-less instance.
	sup.health(context.Background())
	state, _ = sup.State("s1")
	assert.Equal(t, StateError, state)
}

func TestTailReturnsLogsForRunningInstance(t *testing.T) {
	rt := newFakeRuntime()
	sup := New(rt)
	require.NoError(t, sup.EnsureRunning(context.Background(), "s1", "math", catalog.Spec{}))

	lines, err := sup.Tail(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"line1", "line2"}, lines)
}

func TestTailUnknownInstanceErrors(t *testing.T) {
	sup := New(newFakeRuntime())
	_, err := sup.Tail(context.Background(), "ghost", 10)
	assert.Error(t, err)
}

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	defer r.Stop()

	r.Register("s1", "sse", nil)
	info, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "sse", info.TransportKind)
	assert.WithinDuration(t, time.Now(), info.LastActive, time.Second)
}

func TestRegisterTwiceRefreshesInsteadOfReplacing(t *testing.T) {
	r := NewRegistry()
	defer r.Stop()

	r.Register("s1", "sse", nil)
	first, _ := r.Get("s1")

	time.Sleep(time.Millisecond)
	r.Register("s1", "streamable-http", nil)
	second, _ := r.Get("s1")

	assert.Equal(t, "sse", second.TransportKind, "re-registering an existing id must refresh, not overwrite, the transport kind")
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.LastActive.After(first.LastActive) || second.LastActive.Equal(first.LastActive))
}

func TestCloseInvokesCallbackExactlyOnce(t *testing.T) {
	r := NewRegistry()
	defer r.Stop()

	calls := 0
	r.Register("s1", "sse", func(id string) { calls++ })

	r.Close("s1")
	r.Close("s1")

	assert.Equal(t, 1, calls)
	_, ok := r.Get("s1")
	assert.False(t, ok)
}

func TestCloseAllTearsDownEverySession(t *testing.T) {
	r := NewRegistry()
	defer r.Stop()

	closed := make(map[string]bool)
	r.Register("a", "sse", func(id string) { closed[id] = true })
	r.Register("b", "streamable-http", func(id string) { closed[id] = true })

	r.CloseAll()

	assert.True(t, closed["a"])
	assert.True(t, closed["b"])
	assert.Equal(t, 0, r.Count())
}

func TestSweepExpiredEvictsOnlyStaleSessions(t *testing.T) {
	r := NewRegistry()
	defer r.Stop()
	r.Lifetime = 10 * time.Millisecond

	evicted := false
	r.Register("stale", "sse", func(id string) { evicted = true })
	time.Sleep(20 * time.Millisecond)
	r.Register("fresh", "sse", nil)

	r.sweepExpired()

	assert.True(t, evicted)
	_, staleOk := r.Get("stale")
	_, freshOk := r.Get("fresh")
	assert.False(t, staleOk)
	assert.True(t, freshOk)
}

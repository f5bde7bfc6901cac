// Package health tracks process-wide liveness for the gateway's /health
// endpoint, generalized from the teacher's health.State/IsHealthy()
// (pkg/gateway/transport.go) to a namespace-agnostic process state: one
// State per process, flipped unhealthy while draining or when every
// namespace has failed to refresh.
package health

import "sync/atomic"

// State is a concurrency-safe liveness flag. The zero value is healthy,
// matching the teacher's default-up behavior before the first failure is
// observed.
type State struct {
	unhealthy atomic.Bool
}

// SetHealthy marks the process healthy or unhealthy. Call with false when
// draining for shutdown or when namespace refreshes are failing broadly.
func (s *State) SetHealthy(healthy bool) {
	s.unhealthy.Store(!healthy)
}

// IsHealthy reports the current liveness state.
func (s *State) IsHealthy() bool {
	return !s.unhealthy.Load()
}

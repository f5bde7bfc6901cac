package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/docker/metamcp-gateway/pkg/catalog"
)

// Fingerprint computes the stable hash over a sorted list of original tool
// names (spec.md §3/§4.2). Sorting makes it permutation-invariant
// (Testable Property 4).
func Fingerprint(names []string) catalog.Fingerprint {
	sorted := append([]string{}, names...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return catalog.Fingerprint(hex.EncodeToString(sum[:]))
}

// FingerprintStore tracks the last-recorded fingerprint per backend so
// catalog syncs can be skipped when nothing changed.
type FingerprintStore struct {
	mu   sync.Mutex
	last map[string]catalog.Fingerprint
}

func NewFingerprintStore() *FingerprintStore {
	return &FingerprintStore{last: make(map[string]catalog.Fingerprint)}
}

// Changed reports whether fp differs from the last recorded fingerprint
// for serverUUID, and records fp as the new baseline when it does.
func (s *FingerprintStore) Changed(serverUUID string, fp catalog.Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = make(map[string]catalog.Fingerprint)
	}
	if s.last[serverUUID] == fp {
		return false
	}
	s.last[serverUUID] = fp
	return true
}

package cache

import (
	"strings"
	"sync"
)

// maxStaleKeys bounds the per-key ledger. Past it the whole remote keyspace
// is treated as stale and reconciled with a single prefix delete.
const maxStaleKeys = 4096

// staleSet records remote writes that did not land: keys whose remote Set or
// Delete failed or was skipped by the breaker, and prefixes whose remote
// DeletePrefix or Clear did not run. Remote may still hold an older value for
// any of them, so reads must not trust remote until the entry is reconciled.
//
// Every mark carries a sequence number so a reconciliation only clears the
// mark it observed, not a newer one recorded concurrently.
type staleSet struct {
	mu       sync.Mutex
	seq      uint64
	keys     map[string]uint64
	prefixes map[string]uint64
}

func newStaleSet() *staleSet {
	return &staleSet{
		keys:     make(map[string]uint64),
		prefixes: make(map[string]uint64),
	}
}

func (s *staleSet) markKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if len(s.keys) >= maxStaleKeys {
		clear(s.keys)
		s.prefixes[""] = s.seq
		return
	}
	s.keys[key] = s.seq
}

func (s *staleSet) markPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.prefixes[prefix] = s.seq
}

// key returns the mark on key, if any.
func (s *staleSet) key(key string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.keys[key]
	return seq, ok
}

func (s *staleSet) clearKey(key string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] == seq {
		delete(s.keys, key)
	}
}

// pendingPrefixes snapshots the marked prefixes.
func (s *staleSet) pendingPrefixes() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prefixes) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(s.prefixes))
	for p, seq := range s.prefixes {
		out[p] = seq
	}
	return out
}

func (s *staleSet) clearPrefix(prefix string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefixes[prefix] == seq {
		delete(s.prefixes, prefix)
	}
}

// coveredByPrefix reports whether key falls under a marked prefix.
func (s *staleSet) coveredByPrefix(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

package pool

import (
	"time"
)

// PoolStatus is a point-in-time health snapshot of one pool.
type PoolStatus struct {
	// Configured is false for an optional pool that was never set up.
	Configured bool `json:"configured"`

	// Available is the number of idle connections ready for use.
	Available int `json:"available"`

	// Total is the number of open connections, idle or in use.
	Total int `json:"total"`

	// Max is the configured upper bound on connections.
	Max int `json:"max"`

	// Latency is the round-trip time of the health probe.
	Latency time.Duration `json:"latency"`

	// Saturated is set when every connection was checked out. No check query
	// is sent then, since it could only queue for a connection and time out;
	// Healthy stays true and Latency is zero.
	Saturated bool `json:"saturated"`

	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`

	err error
}

func (s *PoolStatus) setError(err error) {
	s.err = err
	s.Error = err.Error()
}

// Health reports both pools.
type Health struct {
	SQL PoolStatus `json:"sql"`
	KV  PoolStatus `json:"kv"`
}

// Healthy reports whether every configured pool is healthy.
func (h Health) Healthy() bool {
	return h.SQL.Healthy && h.KV.Healthy
}

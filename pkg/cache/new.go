package cache

import (
	"log/slog"

	"github.com/papercomputeco/twin/pkg/cache/local"
)

// New validates cfg and builds a Manager over a Hybrid of remote (which may
// be nil) and a local tier sized by cfg.
func New(cfg Config, remote Backend, log *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var localTier Backend
	if remote == nil || cfg.EnableFallback {
		l, err := local.New(cfg.MemoryCapacity, cfg.DefaultTTL)
		if err != nil {
			return nil, err
		}
		localTier = l
	}

	h, err := NewHybrid(remote, localTier, HybridOptions{
		BreakerTimeout: cfg.BreakerTimeout,
		RepopulateTTL:  cfg.DefaultTTL,
	}, log)
	if err != nil {
		return nil, err
	}

	return NewManager(h, cfg, log), nil
}

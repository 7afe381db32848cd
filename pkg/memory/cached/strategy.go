package cached

import (
	"fmt"
	"strings"
	"time"
)

// StrategyKind selects how Advanced reacts to Update and Delete.
type StrategyKind int

const (
	// StrategyImmediate invalidates the cached record before the write
	// returns.
	StrategyImmediate StrategyKind = iota

	// StrategyDelayed invalidates the cached record after a delay.
	StrategyDelayed

	// StrategyAdaptive refreshes hot records and invalidates cold ones.
	StrategyAdaptive

	// StrategyManual leaves invalidation to the caller.
	StrategyManual
)

const (
	DefaultAdaptiveThreshold = 10
	DefaultAdaptiveWindow    = 5 * time.Minute
	DefaultInvalidationDelay = time.Second
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyImmediate:
		return "immediate"
	case StrategyDelayed:
		return "delayed"
	case StrategyAdaptive:
		return "adaptive"
	case StrategyManual:
		return "manual"
	}
	return "unknown"
}

// Strategy is an invalidation strategy with its parameters.
type Strategy struct {
	Kind StrategyKind

	// Delay applies to StrategyDelayed.
	Delay time.Duration

	// Threshold and Window apply to StrategyAdaptive: a record retrieved
	// more than Threshold times within Window counts as hot.
	Threshold int
	Window    time.Duration
}

// Immediate invalidates synchronously.
func Immediate() Strategy {
	return Strategy{Kind: StrategyImmediate}
}

// Delayed invalidates d after the last write to a record.
func Delayed(d time.Duration) Strategy {
	if d <= 0 {
		d = DefaultInvalidationDelay
	}
	return Strategy{Kind: StrategyDelayed, Delay: d}
}

// Adaptive refreshes records retrieved more than threshold times within
// window and invalidates the rest.
func Adaptive(threshold int, window time.Duration) Strategy {
	if threshold <= 0 {
		threshold = DefaultAdaptiveThreshold
	}
	if window <= 0 {
		window = DefaultAdaptiveWindow
	}
	return Strategy{Kind: StrategyAdaptive, Threshold: threshold, Window: window}
}

// Manual does nothing on writes.
func Manual() Strategy {
	return Strategy{Kind: StrategyManual}
}

// ParseStrategy builds a strategy from its configured name. delay applies to
// "delayed"; threshold and window apply to "adaptive". An empty name selects
// Immediate.
func ParseStrategy(name string, delay time.Duration, threshold int, window time.Duration) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "immediate":
		return Immediate(), nil
	case "delayed":
		return Delayed(delay), nil
	case "adaptive":
		return Adaptive(threshold, window), nil
	case "manual":
		return Manual(), nil
	default:
		return Strategy{}, fmt.Errorf("unknown invalidation strategy %q (want immediate, delayed, adaptive or manual)", name)
	}
}

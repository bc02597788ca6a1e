package config

import (
	"fmt"

	"preloadd/internal/errs"
)

// Validate rejects configurations that would make the model or planner
// arithmetic ill-defined.
func (c Config) Validate() error {
	if c.Model.CycleSeconds <= 0 {
		return errs.New(errs.KindConfig, "validate", "model.cycle must be positive")
	}
	if c.Model.ActiveWindow <= 0 {
		return errs.New(errs.KindConfig, "validate", "model.active_window must be positive")
	}
	if c.Model.Memory.MemTotal < -100 || c.Model.Memory.MemTotal > 100 {
		return errs.New(errs.KindConfig, "validate", fmt.Sprintf("model.memory.memtotal out of [-100,100]: %v", c.Model.Memory.MemTotal))
	}
	if c.Model.Memory.MemAvailable < -100 || c.Model.Memory.MemAvailable > 100 {
		return errs.New(errs.KindConfig, "validate", fmt.Sprintf("model.memory.memavailable out of [-100,100]: %v", c.Model.Memory.MemAvailable))
	}
	switch c.System.SortStrategy {
	case "", "path", "inode", "block", "none":
	default:
		return errs.New(errs.KindConfig, "validate", "system.sortstrategy must be path|inode|block|none")
	}
	switch c.System.PrefetchBackend {
	case "", "readahead", "madvise", "read", "auto":
	default:
		return errs.New(errs.KindConfig, "validate", "system.prefetch_backend must be readahead|madvise|read|auto")
	}
	if c.System.PrefetchConcurrency < 0 {
		return errs.New(errs.KindConfig, "validate", "system.prefetch_concurrency must be >= 0")
	}
	return nil
}

// Decay returns the decay rate used by the model updater, computing it
// from half_life when configured (decay = ln(2)/half_life), else using
// the explicit decay value clamped to >= 0.
func (c Config) Decay() float64 {
	if c.Model.HalfLife > 0 {
		return ln2 / float64(c.Model.HalfLife)
	}
	if c.Model.Decay > 0 {
		return c.Model.Decay
	}
	return 0
}

const ln2 = 0.6931471805599453

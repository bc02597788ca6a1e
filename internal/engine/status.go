package engine

import (
	"fmt"

	"preloadd/internal/config"
	"preloadd/internal/domain"
	"preloadd/internal/observation"
)

// Status is a point-in-time summary of the model and services, per the
// DumpStatus control event of spec.md §4.6. It carries the live config
// alongside aggregate store sizes, matching original_source's engine.rs
// (see SPEC_FULL.md §12).
type Status struct {
	Config     config.Config
	ModelTime  domain.Tick
	Exes       int
	Maps       int
	Edges      int
	ActiveExes int
	CacheStats observation.CacheStats
}

// DumpStatus returns the current Status and logs it at info level.
func (e *Engine) DumpStatus() Status {
	s := Status{
		Config:     e.cfg,
		ModelTime:  e.stores.ModelTime,
		Exes:       e.stores.Exes.Len(),
		Maps:       e.stores.Maps.Len(),
		Edges:      e.stores.Markov.Len(),
		ActiveExes: e.stores.Active.Len(),
		CacheStats: e.policy.Stats(),
	}
	e.log.Info("status",
		"model_time", s.ModelTime, "exes", s.Exes, "maps", s.Maps, "edges", s.Edges,
		"active_exes", s.ActiveExes, "cache_hits", s.CacheStats.Hits, "cache_misses", s.CacheStats.Misses,
		"cycle_seconds", s.Config.Model.CycleSeconds, "doscan", s.Config.System.DoScan, "dopredict", s.Config.System.DoPredict)
	return s
}

// String renders Status for a human-facing summary (e.g. SIGUSR1).
func (s Status) String() string {
	return fmt.Sprintf("model_time=%d exes=%d maps=%d edges=%d active=%d cache_hits=%d cache_misses=%d cycle_seconds=%d doscan=%v dopredict=%v",
		s.ModelTime, s.Exes, s.Maps, s.Edges, s.ActiveExes, s.CacheStats.Hits, s.CacheStats.Misses,
		s.Config.Model.CycleSeconds, s.Config.System.DoScan, s.Config.System.DoPredict)
}

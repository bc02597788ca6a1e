// Package updater applies an observation.Observation to the Stores
// aggregate, producing a ModelDelta that the engine logs and the
// predictor/planner never need: all prediction reads go through
// Stores directly.
package updater

import (
	"preloadd/internal/domain"
	"preloadd/internal/observation"
)

// RunningFlip records an exe whose running state changed this cycle.
type RunningFlip struct {
	Exe     domain.ExeID
	Path    string
	Running bool
}

// Rejection records a denied candidate exe, for diagnostics.
type Rejection struct {
	Path   string
	Reason observation.RejectReason
}

// ModelDelta summarises everything the updater changed in one cycle,
// per spec.md §4.1.3.
type ModelDelta struct {
	Time domain.Tick

	NewExes      []domain.ExeID
	NewMaps      []domain.MapID
	NewEdges     int
	Flips        []RunningFlip
	Rejections   []Rejection
	PartialExes  []string
	PrunedExes   []domain.ExeID
	EdgesUpdated int
}

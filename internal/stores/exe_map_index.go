package stores

import (
	"sync"

	"preloadd/internal/domain"
)

// ExeMapIndex is the bipartite many-to-many index between exes and the
// map segments they've been observed with. Every Attach is reflected on
// both sides so neither direction ever has orphans (testable property
// #3).
type ExeMapIndex struct {
	mu       sync.RWMutex
	exeMaps  map[domain.ExeID]map[domain.MapID]struct{}
	mapExes  map[domain.MapID]map[domain.ExeID]struct{}
	attached map[domain.ExeID]map[domain.MapID]float32 // retained "prob" field, unused by predictor
}

// NewExeMapIndex constructs an empty index.
func NewExeMapIndex() *ExeMapIndex {
	return &ExeMapIndex{
		exeMaps:  make(map[domain.ExeID]map[domain.MapID]struct{}),
		mapExes:  make(map[domain.MapID]map[domain.ExeID]struct{}),
		attached: make(map[domain.ExeID]map[domain.MapID]float32),
	}
}

// Attach records that exe owns map. Idempotent.
func (idx *ExeMapIndex) Attach(exe domain.ExeID, m domain.MapID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.exeMaps[exe] == nil {
		idx.exeMaps[exe] = make(map[domain.MapID]struct{})
	}
	idx.exeMaps[exe][m] = struct{}{}
	if idx.mapExes[m] == nil {
		idx.mapExes[m] = make(map[domain.ExeID]struct{})
	}
	idx.mapExes[m][exe] = struct{}{}
	if idx.attached[exe] == nil {
		idx.attached[exe] = make(map[domain.MapID]float32)
	}
	if _, ok := idx.attached[exe][m]; !ok {
		idx.attached[exe][m] = 0
	}
}

// MapsOf returns every map ID attached to exe.
func (idx *ExeMapIndex) MapsOf(exe domain.ExeID) []domain.MapID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.exeMaps[exe]
	out := make([]domain.MapID, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out
}

// ExesOf returns every exe ID that owns map m.
func (idx *ExeMapIndex) ExesOf(m domain.MapID) []domain.ExeID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.mapExes[m]
	out := make([]domain.ExeID, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	return out
}

// Prob returns the retained-but-unused exe_maps.prob field.
func (idx *ExeMapIndex) Prob(exe domain.ExeID, m domain.MapID) float32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.attached[exe][m]
}

// SetProb sets the retained-but-unused exe_maps.prob field (round-tripped
// through persistence losslessly, per spec.md §9 open questions).
func (idx *ExeMapIndex) SetProb(exe domain.ExeID, m domain.MapID, prob float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.attached[exe] == nil {
		idx.attached[exe] = make(map[domain.MapID]float32)
	}
	idx.attached[exe][m] = prob
}

// All returns every (exe, map, prob) attachment, for snapshotting.
func (idx *ExeMapIndex) All() []Attachment {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []Attachment
	for exe, maps := range idx.attached {
		for m, prob := range maps {
			out = append(out, Attachment{Exe: exe, Map: m, Prob: prob})
		}
	}
	return out
}

// Attachment is one (exe, map, prob) bipartite edge.
type Attachment struct {
	Exe  domain.ExeID
	Map  domain.MapID
	Prob float32
}

// DetachExe removes every attachment for exe (used when pruning evicted
// exes so the reverse index never holds a dangling reference).
func (idx *ExeMapIndex) DetachExe(exe domain.ExeID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for m := range idx.exeMaps[exe] {
		delete(idx.mapExes[m], exe)
		if len(idx.mapExes[m]) == 0 {
			delete(idx.mapExes, m)
		}
	}
	delete(idx.exeMaps, exe)
	delete(idx.attached, exe)
}

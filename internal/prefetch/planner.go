// Package prefetch selects, orders, and executes prefetch plans
// against the kernel page cache under a memory budget.
package prefetch

import (
	"math"
	"sort"

	"preloadd/internal/domain"
	"preloadd/internal/prediction"
	"preloadd/internal/stores"
)

// SortStrategy chooses the I/O-efficiency ordering of a Plan's
// selected maps, per spec.md §4.3.
type SortStrategy int

const (
	SortNone SortStrategy = iota
	SortPath
	SortInode
	SortBlock
)

// ParseSortStrategy maps a config string to a SortStrategy, defaulting
// to SortPath for an empty or unrecognised value.
func ParseSortStrategy(s string) SortStrategy {
	switch s {
	case "inode":
		return SortInode
	case "block":
		return SortBlock
	case "none":
		return SortNone
	default:
		return SortPath
	}
}

const blockSize = 4096

// PlannedMap is one selected map segment, resolved against Stores for
// the fields the prefetcher and sort strategies need.
type PlannedMap struct {
	ID       domain.MapID
	Path     string
	Offset   uint64
	Length   uint64
	Device   uint64
	Inode    uint64
	Score    float64
	Sequence int // selection order, for stable no-metadata/tie sort
}

// Plan is the budget-bounded, ordered output of one planning pass.
type Plan struct {
	Ordered     []PlannedMap
	TotalBytes  uint64
	BudgetBytes uint64
}

// Planner turns a Prediction into a budget-bounded, ordered Plan.
type Planner struct {
	memTotalPct     float64
	memAvailablePct float64
	sortStrategy    SortStrategy
}

// New constructs a Planner. memTotalPct/memAvailablePct are clamped to
// [-100, 100] per spec.md §4.3.
func New(memTotalPct, memAvailablePct float64, strategy SortStrategy) *Planner {
	return &Planner{
		memTotalPct:     clampPct(memTotalPct),
		memAvailablePct: clampPct(memAvailablePct),
		sortStrategy:    strategy,
	}
}

func clampPct(p float64) float64 {
	if p < -100 {
		return -100
	}
	if p > 100 {
		return 100
	}
	return p
}

// Budget computes budget_kib per spec.md §4.3, returned in bytes.
func (p *Planner) Budget(mem domain.MemStat) uint64 {
	kib := p.memTotalPct*float64(mem.Total)/100 + p.memAvailablePct*float64(mem.Available)/100
	if kib < 0 {
		kib = 0
	}
	return uint64(kib) * 1024
}

// Plan selects and orders maps from pred against st, under budget
// bytes computed from mem.
func (p *Planner) Plan(st *stores.Stores, pred prediction.Prediction, mem domain.MemStat) Plan {
	budget := p.Budget(mem)

	type scored struct {
		id    domain.MapID
		score float64
	}
	candidates := make([]scored, 0, len(pred.MapScore))
	for id, score := range pred.MapScore {
		if score > 0 {
			candidates = append(candidates, scored{id: id, score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	remaining := budget
	var selected []PlannedMap
	var totalBytes uint64
	seq := 0
	for _, c := range candidates {
		seg, ok := st.Maps.Get(c.id)
		if !ok {
			continue
		}
		mapKB := uint64(math.Ceil(float64(seg.Length) / 1024))
		if mapKB*1024 > remaining {
			continue // skip oversized, let smaller later maps fit
		}
		remaining -= mapKB * 1024
		totalBytes += seg.Length
		selected = append(selected, PlannedMap{
			ID:       c.id,
			Path:     seg.Path.String(),
			Offset:   seg.Offset,
			Length:   seg.Length,
			Device:   seg.Device,
			Inode:    seg.Inode,
			Score:    c.score,
			Sequence: seq,
		})
		seq++
	}

	p.order(selected)

	return Plan{Ordered: selected, TotalBytes: totalBytes, BudgetBytes: budget}
}

// order sorts selected in place by the configured I/O strategy.
// Missing metadata (device/inode == 0) always sorts after present
// metadata; ties break on selection order (stable).
func (p *Planner) order(selected []PlannedMap) {
	hasMeta := func(m PlannedMap) bool { return m.Device != 0 || m.Inode != 0 }

	less := func(i, j int) bool {
		a, b := selected[i], selected[j]
		switch p.sortStrategy {
		case SortPath:
			if a.Path != b.Path {
				return a.Path < b.Path
			}
		case SortInode:
			am, bm := hasMeta(a), hasMeta(b)
			if am != bm {
				return am // metadata-present sorts first
			}
			if a.Device != b.Device {
				return a.Device < b.Device
			}
			if a.Inode != b.Inode {
				return a.Inode < b.Inode
			}
			if a.Offset != b.Offset {
				return a.Offset < b.Offset
			}
		case SortBlock:
			am, bm := hasMeta(a), hasMeta(b)
			if am != bm {
				return am
			}
			if a.Device != b.Device {
				return a.Device < b.Device
			}
			ablk, bblk := a.Offset/blockSize, b.Offset/blockSize
			if ablk != bblk {
				return ablk < bblk
			}
			if a.Offset != b.Offset {
				return a.Offset < b.Offset
			}
		case SortNone:
			return a.Sequence < b.Sequence
		}
		return a.Sequence < b.Sequence
	}
	sort.SliceStable(selected, less)
}

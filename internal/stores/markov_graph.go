package stores

import (
	"math"
	"sync"

	"preloadd/internal/domain"
)

// Edge is one unordered Markov pair {A, B}, A != B, with the exponentially
// decayed joint-state statistics described in spec.md §3/§4.1.4. A and B
// are the canonical assignment (A.ID <= B.ID); "AOnly"/"BOnly" states are
// always relative to this canonical pair, never to observation order.
type Edge struct {
	A, B domain.ExeID

	State          domain.MarkovState
	LastChangeTime domain.Tick

	// StateLastLeft[s] is the last tick the edge left state s.
	StateLastLeft [domain.NumStates]domain.Tick

	// TimeToLeave[s] is the decayed mean dwell time in state s, stored
	// in reduced precision per spec.md §9.
	TimeToLeave [domain.NumStates]domain.Half

	// TransitionProb[from][to] is the decayed 4x4 transition matrix.
	TransitionProb [domain.NumStates][domain.NumStates]domain.Half

	BothRunningTime domain.Tick
}

// TimeToLeaveF32 returns TimeToLeave[s] expanded to float32.
func (e *Edge) TimeToLeaveF32(s domain.MarkovState) float32 {
	return e.TimeToLeave[s].ToFloat32()
}

// TransitionProbF32 returns TransitionProb[from][to] expanded to float32.
func (e *Edge) TransitionProbF32(from, to domain.MarkovState) float32 {
	return e.TransitionProb[from][to].ToFloat32()
}

// Update applies the edge-update rule of spec.md §4.1.4 for an observed
// transition from the edge's current State to newState. No-op if the
// state is unchanged.
func (e *Edge) Update(newState domain.MarkovState, now domain.Tick, decay float64) {
	old := e.State
	if old == newState {
		return
	}
	oldIx := int(old)

	dtLeft := float64(now - e.StateLastLeft[oldIx])
	dtChange := float64(now - e.LastChangeTime)
	alphaT := math.Exp(-decay * dtLeft)
	alphaP := math.Exp(-decay * dtChange)

	ttl := float64(e.TimeToLeave[oldIx].ToFloat32())
	ttl = alphaT*ttl + (1-alphaT)*dtChange
	e.TimeToLeave[oldIx] = domain.HalfFromFloat32(float32(ttl))

	newIx := int(newState)
	for i := 0; i < domain.NumStates; i++ {
		for j := 0; j < domain.NumStates; j++ {
			p := float64(e.TransitionProb[i][j].ToFloat32())
			target := 0.0
			if i == oldIx && j == newIx {
				target = 1.0
			}
			p = alphaP*p + (1-alphaP)*target
			e.TransitionProb[i][j] = domain.HalfFromFloat32(float32(p))
		}
	}

	e.StateLastLeft[oldIx] = now
	e.LastChangeTime = now
	e.State = newState
}

// MarkovGraph is the registry of Markov edges over active exes.
type MarkovGraph struct {
	mu    sync.RWMutex
	edges map[domain.EdgeKey]*Edge
}

// NewMarkovGraph constructs an empty graph.
func NewMarkovGraph() *MarkovGraph {
	return &MarkovGraph{edges: make(map[domain.EdgeKey]*Edge)}
}

// Ensure returns the edge for the unordered pair (x, y), creating it
// with the given initial joint state if absent. The canonical A/B
// assignment is fixed at creation time from EdgeKey's ordering.
func (g *MarkovGraph) Ensure(x, y domain.ExeID, initialState domain.MarkovState, now domain.Tick) *Edge {
	key := domain.NewEdgeKey(x, y)
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.edges[key]; ok {
		return e
	}
	e := &Edge{
		A:              key.A,
		B:              key.B,
		State:          initialState,
		LastChangeTime: now,
	}
	g.edges[key] = e
	return e
}

// Get returns the edge for the unordered pair (x, y), if present.
func (g *MarkovGraph) Get(x, y domain.ExeID) (*Edge, bool) {
	key := domain.NewEdgeKey(x, y)
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[key]
	return e, ok
}

// All returns every edge currently in the graph.
func (g *MarkovGraph) All() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

// Put inserts or replaces an edge wholesale (used by snapshot restore).
func (g *MarkovGraph) Put(e *Edge) {
	key := domain.NewEdgeKey(e.A, e.B)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[key] = e
}

// PruneTouching removes every edge that references any exe in stale.
// Called after active-set pruning so the predictor never sees a pair
// involving an inactive exe.
func (g *MarkovGraph) PruneTouching(stale []domain.ExeID) {
	if len(stale) == 0 {
		return
	}
	staleSet := make(map[domain.ExeID]struct{}, len(stale))
	for _, id := range stale {
		staleSet[id] = struct{}{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, e := range g.edges {
		if _, ok := staleSet[e.A]; ok {
			delete(g.edges, key)
			continue
		}
		if _, ok := staleSet[e.B]; ok {
			delete(g.edges, key)
		}
	}
}

// Len returns the number of edges in the graph.
func (g *MarkovGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

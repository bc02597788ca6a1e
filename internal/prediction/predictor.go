// Package prediction turns the current Markov graph into per-exe and
// per-map "needed next cycle" scores, read-only against Stores.
package prediction

import (
	"math"

	"preloadd/internal/domain"
	"preloadd/internal/stores"
)

// Prediction is the output of one predictor pass.
type Prediction struct {
	ExeScore map[domain.ExeID]float64
	MapScore map[domain.MapID]float64
}

// Predictor computes Prediction from the current Stores snapshot.
type Predictor struct {
	cycleSeconds   float64
	useCorrelation bool
}

// New constructs a Predictor. cycleSeconds is the configured tick
// period used in p_state_change; useCorrelation enables the phi
// correlation factor of spec.md §4.2.
func New(cycleSeconds float64, useCorrelation bool) *Predictor {
	return &Predictor{cycleSeconds: cycleSeconds, useCorrelation: useCorrelation}
}

// Predict implements spec.md §4.2 over every edge in st.Markov.
func (p *Predictor) Predict(st *stores.Stores) Prediction {
	notNeeded := make(map[domain.ExeID]float64)
	running := make(map[domain.ExeID]bool)

	for _, e := range st.Markov.All() {
		aExe, aok := st.Exes.Get(e.A)
		bExe, bok := st.Exes.Get(e.B)
		if !aok || !bok {
			continue
		}
		running[e.A] = aExe.Running
		running[e.B] = bExe.Running

		s := e.State
		tt := float64(e.TimeToLeaveF32(s))
		if tt <= 0 {
			continue
		}
		pStateChange := 1 - math.Exp(-p.cycleSeconds/tt)

		phi := 1.0
		if p.useCorrelation {
			if f, ok := phiCorrelation(st.ModelTime, aExe.TotalRunningTime, bExe.TotalRunningTime, e.BothRunningTime); ok {
				phi = math.Abs(f)
			}
		}

		if !aExe.Running {
			pNeeded := pStateChange * (float64(e.TransitionProbF32(s, domain.AOnly)) + float64(e.TransitionProbF32(s, domain.Both)))
			pNeeded = clamp01(pNeeded * phi)
			accumulateNotNeeded(notNeeded, e.A, pNeeded)
		}
		if !bExe.Running {
			pNeeded := pStateChange * (float64(e.TransitionProbF32(s, domain.BOnly)) + float64(e.TransitionProbF32(s, domain.Both)))
			pNeeded = clamp01(pNeeded * phi)
			accumulateNotNeeded(notNeeded, e.B, pNeeded)
		}
	}

	exeScore := make(map[domain.ExeID]float64, len(notNeeded))
	for id, pNot := range notNeeded {
		if running[id] {
			exeScore[id] = 0
			continue
		}
		exeScore[id] = clamp01(1 - pNot)
	}

	mapNotNeeded := make(map[domain.MapID]float64)
	for exeID, score := range exeScore {
		for _, mapID := range st.ExeMaps.MapsOf(exeID) {
			accumulateNotNeeded(mapNotNeeded, mapID, score)
		}
	}
	mapScore := make(map[domain.MapID]float64, len(mapNotNeeded))
	for id, pNot := range mapNotNeeded {
		mapScore[id] = clamp01(1 - pNot)
	}

	return Prediction{ExeScore: exeScore, MapScore: mapScore}
}

// accumulateNotNeeded folds pNeeded into the running "independent
// non-events" product for key, initializing it to 1 on first touch.
func accumulateNotNeeded[K comparable](m map[K]float64, key K, pNeeded float64) {
	cur, ok := m[key]
	if !ok {
		cur = 1
	}
	m[key] = cur * (1 - pNeeded)
}

// phiCorrelation computes Pearson's phi approximated from running-time
// totals, per spec.md §4.2. Returns ok=false when the factor is
// degenerate and should be treated as 1 (no correction).
func phiCorrelation(t, a, b, both domain.Tick) (float64, bool) {
	if t == 0 || a == 0 || b == 0 {
		return 0, false
	}
	if a >= t || b >= t {
		return 0, false
	}
	tf, af, bf, bothf := float64(t), float64(a), float64(b), float64(both)
	denom := af * bf * (tf - af) * (tf - bf)
	if denom <= 0 {
		return 0, false
	}
	return (tf*bothf - af*bf) / math.Sqrt(denom), true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package updater

import (
	"preloadd/internal/domain"
	"preloadd/internal/observation"
	"preloadd/internal/stores"
)

// Updater applies observations to a Stores aggregate. It is the sole
// writer of Stores; every other component only reads it.
type Updater struct {
	policy       observation.Policy
	activeWindow domain.Tick
	decay        float64
}

// New constructs an Updater bound to policy, with the active window
// (seconds, as ticks) and decay rate it should apply each cycle.
func New(policy observation.Policy, activeWindow domain.Tick, decay float64) *Updater {
	return &Updater{policy: policy, activeWindow: activeWindow, decay: decay}
}

// SetDecay updates the decay rate (e.g. on config reload).
func (u *Updater) SetDecay(decay float64) { u.decay = decay }

// SetActiveWindow updates the active window (e.g. on config reload).
func (u *Updater) SetActiveWindow(w domain.Tick) { u.activeWindow = w }

// candidate accumulates one exe's observed maps across the Observation
// before an admission decision is made.
type candidate struct {
	path         string
	pid          int
	maps         []observation.RawMap
	rejectedMaps []string
	totalSize    uint64
}

// Apply runs the full seven-step algorithm of spec.md §4.1.3 against st
// for one Observation captured at time now, returning the resulting
// delta. now must be monotonically non-decreasing across calls.
func (u *Updater) Apply(st *stores.Stores, obs observation.Observation, now domain.Tick) ModelDelta {
	delta := ModelDelta{Time: now}

	// Step 1: gather candidates.
	byPath := make(map[string]*candidate)
	order := make([]string, 0, 16)
	ensure := func(path string, pid int) *candidate {
		c, ok := byPath[path]
		if !ok {
			c = &candidate{path: path, pid: pid}
			byPath[path] = c
			order = append(order, path)
		}
		return c
	}

	for _, ev := range obs.Events {
		switch ev.Kind {
		case observation.EventExeSeen:
			ensure(ev.ExePath, ev.Pid)
		case observation.EventMapSeen:
			c := ensure(ev.OwnerExePath, 0)
			if u.policy.AllowMap(ev.Map.Path) {
				c.maps = append(c.maps, ev.Map)
				c.totalSize += ev.Map.Length
			} else {
				c.rejectedMaps = append(c.rejectedMaps, ev.Map.Path)
			}
		}
	}

	runningPaths := make(map[string]struct{}, len(order))

	// Step 2: decide.
	for _, path := range order {
		c := byPath[path]
		decision := u.policy.Decide(&observation.CandidateExe{
			Path:             c.path,
			Pid:              c.pid,
			AcceptedMapCount: len(c.maps),
			RejectedMaps:     c.rejectedMaps,
			TotalSize:        c.totalSize,
		})
		if !decision.Accepted {
			delta.Rejections = append(delta.Rejections, Rejection{Path: c.path, Reason: decision.Reason})
			continue
		}
		if decision.Completeness == observation.Partial {
			delta.PartialExes = append(delta.PartialExes, c.path)
		}

		exe, isNew := st.Exes.EnsureByPath(c.path)
		if isNew {
			delta.NewExes = append(delta.NewExes, exe.ID)
		}
		runningPaths[c.path] = struct{}{}
		exe.LastSeenTime = now

		for _, m := range c.maps {
			id, isNewMap := st.Maps.Ensure(m.Path, m.Offset, m.Length, now)
			if isNewMap {
				delta.NewMaps = append(delta.NewMaps, id)
			}
			if m.Device != 0 || m.Inode != 0 {
				st.Maps.SetMetadata(id, m.Device, m.Inode)
			}
			st.ExeMaps.Attach(exe.ID, id)
		}
	}

	// Step 3: running-flag pass over every known exe, not just this
	// cycle's candidates, so exes that stopped running are caught.
	for _, exe := range st.Exes.All() {
		_, running := runningPaths[exe.Path.String()]
		if exe.Running != running {
			exe.Running = running
			exe.LastChangeTime = now
			delta.Flips = append(delta.Flips, RunningFlip{Exe: exe.ID, Path: exe.Path.String(), Running: running})
		}
	}

	// Step 4: active-set update. Running or newly-observed exes are
	// marked seen; stale entries are pruned and their edges dropped.
	for path := range runningPaths {
		if exe, ok := st.Exes.GetByPath(path); ok {
			st.Active.MarkSeen(exe.ID, now)
		}
	}
	pruned := st.Active.Prune(now, u.activeWindow)
	if len(pruned) > 0 {
		st.Markov.PruneTouching(pruned)
		for _, id := range pruned {
			st.ExeMaps.DetachExe(id)
		}
		delta.PrunedExes = pruned
	}

	// Step 5: edge creation for every active pair.
	active := st.Active.Active(now, u.activeWindow)
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a == b {
				continue
			}
			if _, ok := st.Markov.Get(a, b); !ok {
				aExe, aok := st.Exes.Get(a)
				bExe, bok := st.Exes.Get(b)
				if !aok || !bok {
					continue
				}
				initial := domain.StateFor(aExe.Running, bExe.Running)
				st.Markov.Ensure(a, b, initial, now)
				delta.NewEdges++
			}
		}
	}

	// Step 6: accounting.
	period := now - st.LastAccountingTime
	if st.LastAccountingTime == 0 {
		period = 0 // first tick has no elapsed period to account for
	}
	if period > 0 {
		for _, exe := range st.Exes.All() {
			if exe.Running {
				exe.TotalRunningTime += period
			}
		}
		for _, e := range st.Markov.All() {
			if e.State == domain.Both {
				e.BothRunningTime += period
			}
		}
	}
	st.LastAccountingTime = now

	// Step 7: transition update.
	for _, e := range st.Markov.All() {
		aExe, aok := st.Exes.Get(e.A)
		bExe, bok := st.Exes.Get(e.B)
		if !aok || !bok {
			continue
		}
		newState := domain.StateFor(aExe.Running, bExe.Running)
		if newState == e.State {
			continue
		}
		e.Update(newState, now, u.decay)
		delta.EdgesUpdated++
	}

	st.ModelTime = now
	return delta
}

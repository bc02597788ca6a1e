package engine

import (
	"preloadd/internal/domain"
	"preloadd/internal/repository"
	"preloadd/internal/stores"
)

// snapshotOf captures st as a repository.Snapshot for persistence.
func snapshotOf(st *stores.Stores) repository.Snapshot {
	snap := repository.Snapshot{
		SchemaVersion:      repository.SchemaVersion,
		ModelTime:          st.ModelTime,
		LastAccountingTime: st.LastAccountingTime,
	}

	for _, e := range st.Exes.All() {
		snap.Exes = append(snap.Exes, repository.ExeRecord{
			Path:             e.Path.String(),
			TotalRunningTime: e.TotalRunningTime,
			LastSeenTime:     e.LastSeenTime,
			HasLastSeenTime:  e.LastSeenTime != 0,
		})
	}

	for _, id := range st.Maps.All() {
		seg, ok := st.Maps.Get(id)
		if !ok {
			continue
		}
		snap.Maps = append(snap.Maps, repository.MapRecord{
			Path:           seg.Path.String(),
			Offset:         seg.Offset,
			Length:         seg.Length,
			LastUpdateTime: seg.LastUpdateTime,
			Device:         seg.Device,
			Inode:          seg.Inode,
		})
	}

	for _, a := range st.ExeMaps.All() {
		exe, ok := st.Exes.Get(a.Exe)
		if !ok {
			continue
		}
		seg, ok := st.Maps.Get(a.Map)
		if !ok {
			continue
		}
		snap.ExeMaps = append(snap.ExeMaps, repository.ExeMapRecord{
			ExePath:   exe.Path.String(),
			MapPath:   seg.Path.String(),
			MapOffset: seg.Offset,
			MapLength: seg.Length,
			Prob:      a.Prob,
		})
	}

	for _, e := range st.Markov.All() {
		aExe, aok := st.Exes.Get(e.A)
		bExe, bok := st.Exes.Get(e.B)
		if !aok || !bok {
			continue
		}
		var ttl [domain.NumStates]float32
		var tp [domain.NumStates][domain.NumStates]float32
		for i := 0; i < domain.NumStates; i++ {
			ttl[i] = e.TimeToLeaveF32(domain.MarkovState(i))
			for j := 0; j < domain.NumStates; j++ {
				tp[i][j] = e.TransitionProbF32(domain.MarkovState(i), domain.MarkovState(j))
			}
		}
		snap.MarkovEdges = append(snap.MarkovEdges, repository.MarkovRecord{
			ExeA:            aExe.Path.String(),
			ExeB:            bExe.Path.String(),
			TimeToLeave:     ttl,
			TransitionProb:  tp,
			BothRunningTime: e.BothRunningTime,
		})
	}

	return snap
}

// restoreInto replays snap into a freshly constructed st, re-seeding the
// active set from each exe's last_seen_time so restored Markov edges
// remain eligible for the normal Prune() flow immediately, per spec.md
// §4.5. Running, LastChangeTime, State and StateLastLeft are
// intentionally left at their zero values: the next scan re-derives
// them.
func restoreInto(st *stores.Stores, snap repository.Snapshot) {
	st.ModelTime = snap.ModelTime
	st.LastAccountingTime = snap.LastAccountingTime

	for _, r := range snap.Exes {
		exe, _ := st.Exes.EnsureByPath(r.Path)
		exe.TotalRunningTime = r.TotalRunningTime
		if r.HasLastSeenTime {
			exe.LastSeenTime = r.LastSeenTime
			st.Active.MarkSeen(exe.ID, r.LastSeenTime)
		}
	}

	for _, r := range snap.Maps {
		id, _ := st.Maps.Ensure(r.Path, r.Offset, r.Length, r.LastUpdateTime)
		if r.Device != 0 || r.Inode != 0 {
			st.Maps.SetMetadata(id, r.Device, r.Inode)
		}
	}

	for _, r := range snap.ExeMaps {
		exe, ok := st.Exes.GetByPath(r.ExePath)
		if !ok {
			continue
		}
		mapID, ok := mapIDForKey(st, r.MapPath, r.MapOffset, r.MapLength)
		if !ok {
			continue
		}
		st.ExeMaps.Attach(exe.ID, mapID)
		st.ExeMaps.SetProb(exe.ID, mapID, r.Prob)
	}

	for _, r := range snap.MarkovEdges {
		restoreMarkovEdge(st, r)
	}
}

// mapIDForKey looks up a map segment's ID by its key without retaining
// an extra interner reference.
func mapIDForKey(st *stores.Stores, path string, offset, length uint64) (domain.MapID, bool) {
	interned := st.Interner.Intern(path)
	defer st.Interner.Release(interned)
	return st.Maps.IDFor(domain.MapKey{Path: interned, Offset: offset, Length: length})
}

// restoreMarkovEdge reinserts one persisted edge. The record's A/B
// assignment was canonical under the exe IDs of the run that saved it;
// those IDs are not stable across restarts, so if the freshly assigned
// canonical pair swaps A and B relative to the record, the AOnly/BOnly
// halves of TimeToLeave and TransitionProb are swapped to match.
func restoreMarkovEdge(st *stores.Stores, r repository.MarkovRecord) {
	aExe, aok := st.Exes.GetByPath(r.ExeA)
	bExe, bok := st.Exes.GetByPath(r.ExeB)
	if !aok || !bok {
		return
	}
	key := domain.NewEdgeKey(aExe.ID, bExe.ID)

	ttl := r.TimeToLeave
	tp := r.TransitionProb
	if key.A != aExe.ID {
		ttl[domain.AOnly], ttl[domain.BOnly] = ttl[domain.BOnly], ttl[domain.AOnly]
		tp[domain.AOnly], tp[domain.BOnly] = tp[domain.BOnly], tp[domain.AOnly]
		for i := range tp {
			tp[i][domain.AOnly], tp[i][domain.BOnly] = tp[i][domain.BOnly], tp[i][domain.AOnly]
		}
	}

	e := &stores.Edge{A: key.A, B: key.B, BothRunningTime: r.BothRunningTime}
	for i := 0; i < domain.NumStates; i++ {
		e.TimeToLeave[i] = domain.HalfFromFloat32(ttl[i])
		for j := 0; j < domain.NumStates; j++ {
			e.TransitionProb[i][j] = domain.HalfFromFloat32(tp[i][j])
		}
	}
	st.Markov.Put(e)
}

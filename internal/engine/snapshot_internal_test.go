package engine

import (
	"testing"

	"preloadd/internal/domain"
	"preloadd/internal/repository"
	"preloadd/internal/stores"
)

func recordForSwapTest() repository.MarkovRecord {
	var ttl [domain.NumStates]float32
	ttl[domain.AOnly] = 10 // describes exe A ("a")
	ttl[domain.BOnly] = 20 // describes exe B ("b")
	return repository.MarkovRecord{
		ExeA:        "/usr/bin/a",
		ExeB:        "/usr/bin/b",
		TimeToLeave: ttl,
	}
}

func TestSnapshotRoundTripPreservesExesMapsAttachments(t *testing.T) {
	st := stores.New()
	exe, _ := st.Exes.EnsureByPath("/usr/bin/foo")
	exe.TotalRunningTime = 50
	exe.LastSeenTime = 90
	st.Active.MarkSeen(exe.ID, 90)

	mapID, _ := st.Maps.Ensure("/lib/libfoo.so", 0, 4096, 90)
	st.Maps.SetMetadata(mapID, 7, 42)
	st.ExeMaps.Attach(exe.ID, mapID)
	st.ExeMaps.SetProb(exe.ID, mapID, 0.5)
	st.ModelTime = 100
	st.LastAccountingTime = 90

	snap := snapshotOf(st)

	restored := stores.New()
	restoreInto(restored, snap)

	gotExe, ok := restored.Exes.GetByPath("/usr/bin/foo")
	if !ok {
		t.Fatal("exe not restored")
	}
	if gotExe.TotalRunningTime != 50 || gotExe.LastSeenTime != 90 {
		t.Fatalf("exe fields not preserved: %+v", gotExe)
	}
	if restored.ModelTime != 100 || restored.LastAccountingTime != 90 {
		t.Fatalf("store clock not preserved: model=%d acct=%d", restored.ModelTime, restored.LastAccountingTime)
	}

	gotMapID, ok := restored.Maps.IDFor(domain.MapKey{Path: restored.Interner.Intern("/lib/libfoo.so"), Offset: 0, Length: 4096})
	if !ok {
		t.Fatal("map not restored")
	}
	seg, _ := restored.Maps.Get(gotMapID)
	if seg.Device != 7 || seg.Inode != 42 {
		t.Fatalf("map metadata not preserved: %+v", seg)
	}

	maps := restored.ExeMaps.MapsOf(gotExe.ID)
	if len(maps) != 1 || maps[0] != gotMapID {
		t.Fatalf("attachment not restored: %v", maps)
	}
	if got := restored.ExeMaps.Prob(gotExe.ID, gotMapID); got != 0.5 {
		t.Fatalf("prob not preserved: %v", got)
	}
}

func TestSnapshotRoundTripReseedsActiveSet(t *testing.T) {
	st := stores.New()
	exe, _ := st.Exes.EnsureByPath("/usr/bin/foo")
	exe.LastSeenTime = 90
	st.Active.MarkSeen(exe.ID, 90)

	snap := snapshotOf(st)

	restored := stores.New()
	restoreInto(restored, snap)

	gotExe, _ := restored.Exes.GetByPath("/usr/bin/foo")
	if !restored.Active.IsActive(gotExe.ID, 100, 20) {
		t.Fatal("restored exe should be active within the window of its last_seen_time")
	}
}

func TestSnapshotRoundTripPreservesMarkovEdgeValues(t *testing.T) {
	st := stores.New()
	a, _ := st.Exes.EnsureByPath("/usr/bin/a")
	b, _ := st.Exes.EnsureByPath("/usr/bin/b")

	e := st.Markov.Ensure(a.ID, b.ID, domain.AOnly, 0)
	e.TimeToLeave[domain.AOnly] = domain.HalfFromFloat32(12.5)
	e.TransitionProb[domain.AOnly][domain.Both] = domain.HalfFromFloat32(0.75)
	e.BothRunningTime = 30

	snap := snapshotOf(st)

	restored := stores.New()
	restoreInto(restored, snap)

	ra, _ := restored.Exes.GetByPath("/usr/bin/a")
	rb, _ := restored.Exes.GetByPath("/usr/bin/b")
	got, ok := restored.Markov.Get(ra.ID, rb.ID)
	if !ok {
		t.Fatal("edge not restored")
	}
	// restoreInto assigns fresh IDs in the order snapshotOf listed the
	// exes, which is not fixed; a's values sit at AOnly only if a is
	// still the canonical A of the restored edge, else at BOnly.
	aSlot := domain.AOnly
	if got.A != ra.ID {
		aSlot = domain.BOnly
	}
	if got.TimeToLeaveF32(aSlot) != float32(12.5) {
		t.Fatalf("time to leave not preserved: %v", got.TimeToLeaveF32(aSlot))
	}
	if got.TransitionProbF32(aSlot, domain.Both) != float32(0.75) {
		t.Fatalf("transition prob not preserved: %v", got.TransitionProbF32(aSlot, domain.Both))
	}
	if got.BothRunningTime != 30 {
		t.Fatalf("both running time not preserved: %v", got.BothRunningTime)
	}
}

// TestRestoreMarkovEdgeSwapsOnReversedCanonicalOrder exercises the case
// where the exe IDs assigned on restore reverse the canonical A/B
// ordering relative to the run that produced the MarkovRecord: the
// AOnly/BOnly halves of TimeToLeave/TransitionProb must swap to match.
func TestRestoreMarkovEdgeSwapsOnReversedCanonicalOrder(t *testing.T) {
	st := stores.New()
	// Insert b before a so EnsureByPath assigns b a lower ID than a,
	// reversing the canonical order the record below assumes (A=a, B=b).
	st.Exes.EnsureByPath("/usr/bin/b")
	st.Exes.EnsureByPath("/usr/bin/a")

	rec := recordForSwapTest()
	restoreMarkovEdge(st, rec)

	a, _ := st.Exes.GetByPath("/usr/bin/a")
	b, _ := st.Exes.GetByPath("/usr/bin/b")
	edge, ok := st.Markov.Get(a.ID, b.ID)
	if !ok {
		t.Fatal("edge not created")
	}

	// The record's AOnly slot (10) described exe A ("a"); since the
	// canonical pair here has B="a", that value must now live at BOnly.
	if got := edge.TimeToLeaveF32(domain.BOnly); got != 10 {
		t.Fatalf("expected swapped AOnly value at BOnly, got %v", got)
	}
	if got := edge.TimeToLeaveF32(domain.AOnly); got != 20 {
		t.Fatalf("expected swapped BOnly value at AOnly, got %v", got)
	}
}

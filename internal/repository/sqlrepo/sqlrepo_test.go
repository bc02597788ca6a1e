package sqlrepo_test

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preloadd/internal/domain"
	"preloadd/internal/errs"
	"preloadd/internal/repository"
	"preloadd/internal/repository/sqlrepo"
)

func TestOpenOnFreshPathStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	r, err := sqlrepo.Open(path)
	require.NoError(t, err)
	defer r.Close()

	snap, err := r.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Exes)
	assert.Empty(t, snap.Maps)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	r, err := sqlrepo.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var tp [domain.NumStates][domain.NumStates]float32
	tp[domain.AOnly][domain.Both] = 0.25
	want := repository.Snapshot{
		ModelTime:          100,
		LastAccountingTime: 90,
		Exes: []repository.ExeRecord{
			{Path: "/usr/bin/foo", TotalRunningTime: 50, LastSeenTime: 90, HasLastSeenTime: true},
			{Path: "/usr/bin/bar", TotalRunningTime: 0},
		},
		Maps: []repository.MapRecord{
			{Path: "/lib/libfoo.so", Offset: 0, Length: 4096, LastUpdateTime: 90},
		},
		ExeMaps: []repository.ExeMapRecord{
			{ExePath: "/usr/bin/foo", MapPath: "/lib/libfoo.so", MapOffset: 0, MapLength: 4096, Prob: 0.5},
		},
		MarkovEdges: []repository.MarkovRecord{
			{ExeA: "/usr/bin/bar", ExeB: "/usr/bin/foo", TimeToLeave: [domain.NumStates]float32{1, 2, 3, 4}, TransitionProb: tp, BothRunningTime: 10},
		},
	}
	require.NoError(t, r.Save(want))

	got, err := r.Load()
	require.NoError(t, err)

	assert.Equal(t, want.ModelTime, got.ModelTime)
	assert.Equal(t, want.LastAccountingTime, got.LastAccountingTime)
	assert.ElementsMatch(t, want.Exes, got.Exes)
	assert.ElementsMatch(t, want.Maps, got.Maps)
	assert.ElementsMatch(t, want.ExeMaps, got.ExeMaps)
	require.Len(t, got.MarkovEdges, 1)
	assert.Equal(t, want.MarkovEdges[0].TimeToLeave, got.MarkovEdges[0].TimeToLeave)
	assert.Equal(t, want.MarkovEdges[0].TransitionProb, got.MarkovEdges[0].TransitionProb)
}

func TestSaveReplacesPriorSnapshotEntirely(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	r, err := sqlrepo.Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Save(repository.Snapshot{
		Exes: []repository.ExeRecord{{Path: "/usr/bin/old"}},
	}))
	require.NoError(t, r.Save(repository.Snapshot{
		Exes: []repository.ExeRecord{{Path: "/usr/bin/new"}},
	}))

	got, err := r.Load()
	require.NoError(t, err)
	require.Len(t, got.Exes, 1)
	assert.Equal(t, "/usr/bin/new", got.Exes[0].Path)
}

func TestOpenRejectsIncompatibleSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	r, err := sqlrepo.Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Save(repository.Snapshot{ModelTime: 1}))
	require.NoError(t, r.Close())

	// Bump the on-disk schema version directly, bypassing sqlrepo, to
	// simulate a database written by a future incompatible version.
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec("UPDATE state SET schema_version = ? WHERE id = 1", repository.SchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = sqlrepo.Open(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrSchemaIncompatible))
}

package memrepo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preloadd/internal/repository"
	"preloadd/internal/repository/memrepo"
)

func TestLoadOnEmptyRepositoryReturnsZeroSnapshot(t *testing.T) {
	r := memrepo.New()
	snap, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, repository.SchemaVersion, snap.SchemaVersion)
	assert.Empty(t, snap.Exes)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	r := memrepo.New()
	want := repository.Snapshot{
		SchemaVersion: repository.SchemaVersion,
		ModelTime:     42,
		Exes:          []repository.ExeRecord{{Path: "/usr/bin/foo", TotalRunningTime: 10}},
	}
	require.NoError(t, r.Save(want))

	got, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCloseIsNoop(t *testing.T) {
	r := memrepo.New()
	assert.NoError(t, r.Close())
}

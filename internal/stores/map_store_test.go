package stores_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preloadd/internal/domain"
	"preloadd/internal/stores"
)

func TestMapStoreSameKeySameID(t *testing.T) {
	in := domain.NewInterner()
	s := stores.NewMapStore(in)

	id1, inserted1 := s.Ensure("/usr/lib/libfoo.so", 0, 4096, 10)
	require.True(t, inserted1)

	id2, inserted2 := s.Ensure("/usr/lib/libfoo.so", 0, 4096, 20)
	assert.False(t, inserted2)
	assert.Equal(t, id1, id2)

	seg, ok := s.Get(id1)
	require.True(t, ok)
	assert.Equal(t, domain.Tick(20), seg.LastUpdateTime, "Ensure updates LastUpdateTime on repeat")
}

func TestMapStoreDifferentOffsetDifferentID(t *testing.T) {
	in := domain.NewInterner()
	s := stores.NewMapStore(in)
	id1, _ := s.Ensure("/usr/lib/libfoo.so", 0, 4096, 10)
	id2, _ := s.Ensure("/usr/lib/libfoo.so", 4096, 4096, 10)
	assert.NotEqual(t, id1, id2)
}

func TestMapStoreIDForRoundTrip(t *testing.T) {
	in := domain.NewInterner()
	s := stores.NewMapStore(in)
	id, _ := s.Ensure("/usr/lib/libfoo.so", 0, 4096, 10)
	p := in.Intern("/usr/lib/libfoo.so")
	defer in.Release(p)
	got, ok := s.IDFor(domain.MapKey{Path: p, Offset: 0, Length: 4096})
	require.True(t, ok)
	assert.Equal(t, id, got)
}

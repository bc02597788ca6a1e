package stores_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"preloadd/internal/domain"
	"preloadd/internal/stores"
)

func TestExeMapIndexAttachIsBidirectional(t *testing.T) {
	idx := stores.NewExeMapIndex()
	idx.Attach(domain.ExeID(1), domain.MapID(10))

	assert.Equal(t, []domain.MapID{10}, idx.MapsOf(domain.ExeID(1)))
	assert.Equal(t, []domain.ExeID{1}, idx.ExesOf(domain.MapID(10)))
}

func TestExeMapIndexAttachIsIdempotent(t *testing.T) {
	idx := stores.NewExeMapIndex()
	idx.Attach(domain.ExeID(1), domain.MapID(10))
	idx.Attach(domain.ExeID(1), domain.MapID(10))
	assert.Len(t, idx.MapsOf(domain.ExeID(1)), 1)
}

func TestExeMapIndexDetachExeRemovesBothDirections(t *testing.T) {
	idx := stores.NewExeMapIndex()
	idx.Attach(domain.ExeID(1), domain.MapID(10))
	idx.Attach(domain.ExeID(2), domain.MapID(10))

	idx.DetachExe(domain.ExeID(1))

	assert.Empty(t, idx.MapsOf(domain.ExeID(1)))
	assert.Equal(t, []domain.ExeID{2}, idx.ExesOf(domain.MapID(10)), "other exe's attachment survives")
}

func TestExeMapIndexProbRoundTrips(t *testing.T) {
	idx := stores.NewExeMapIndex()
	idx.Attach(domain.ExeID(1), domain.MapID(10))
	idx.SetProb(domain.ExeID(1), domain.MapID(10), 0.75)
	assert.Equal(t, float32(0.75), idx.Prob(domain.ExeID(1), domain.MapID(10)))
}

func TestExeMapIndexAllListsEveryAttachment(t *testing.T) {
	idx := stores.NewExeMapIndex()
	idx.Attach(domain.ExeID(1), domain.MapID(10))
	idx.Attach(domain.ExeID(1), domain.MapID(20))
	all := idx.All()
	assert.Len(t, all, 2)
}

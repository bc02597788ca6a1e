package observation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preloadd/internal/observation"
)

func newPolicy(minSize uint64, exePrefix, mapPrefix []string) *observation.DefaultPolicy {
	return observation.NewDefaultPolicy(minSize, exePrefix, mapPrefix, 8, time.Minute)
}

func TestLongestPrefixWins(t *testing.T) {
	p := newPolicy(0, []string{"/usr/", "!/usr/bin/reject"}, nil)
	assert.False(t, p.AllowExe("/usr/bin/reject"), "more specific deny beats the broader allow")
	assert.True(t, p.AllowExe("/usr/bin/other"))
}

func TestNoMatchDefaultsToAccept(t *testing.T) {
	p := newPolicy(0, []string{"/opt/"}, nil)
	assert.True(t, p.AllowExe("/usr/bin/foo"))
}

func TestNegationPrefixDenies(t *testing.T) {
	p := newPolicy(0, []string{"!/tmp/"}, nil)
	assert.False(t, p.AllowExe("/tmp/foo"))
}

func TestDecideRejectsExeDeniedByPrefix(t *testing.T) {
	p := newPolicy(0, []string{"!/opt/"}, nil)
	d := p.Decide(&observation.CandidateExe{Path: "/opt/foo", AcceptedMapCount: 1, TotalSize: 100})
	assert.False(t, d.Accepted)
	assert.Equal(t, observation.RejectExePrefixDenied, d.Reason)
}

func TestDecideRejectsTooSmall(t *testing.T) {
	p := newPolicy(1000, nil, nil)
	d := p.Decide(&observation.CandidateExe{Path: "/usr/bin/foo", AcceptedMapCount: 1, TotalSize: 10})
	assert.False(t, d.Accepted)
	assert.Equal(t, observation.RejectTooSmall, d.Reason)
}

func TestDecideRejectsMissingMaps(t *testing.T) {
	p := newPolicy(0, nil, nil)
	d := p.Decide(&observation.CandidateExe{Path: "/usr/bin/foo"})
	assert.False(t, d.Accepted)
	assert.Equal(t, observation.RejectMissingMaps, d.Reason)
}

func TestDecideRejectsAllMapsDeniedByPrefix(t *testing.T) {
	p := newPolicy(0, nil, nil)
	d := p.Decide(&observation.CandidateExe{Path: "/usr/bin/foo", RejectedMaps: []string{"/lib/a.so"}})
	assert.False(t, d.Accepted)
	assert.Equal(t, observation.RejectMapPrefixDenied, d.Reason)
}

func TestDecideAcceptsFullWhenNoMapsRejected(t *testing.T) {
	p := newPolicy(0, nil, nil)
	d := p.Decide(&observation.CandidateExe{Path: "/usr/bin/foo", AcceptedMapCount: 2, TotalSize: 100})
	require.True(t, d.Accepted)
	assert.Equal(t, observation.Full, d.Completeness)
}

func TestDecideAcceptsPartialWhenSomeMapsRejected(t *testing.T) {
	p := newPolicy(0, nil, nil)
	d := p.Decide(&observation.CandidateExe{
		Path: "/usr/bin/foo", AcceptedMapCount: 1, TotalSize: 100,
		RejectedMaps: []string{"/lib/denied.so"},
	})
	require.True(t, d.Accepted)
	assert.Equal(t, observation.Partial, d.Completeness)
}

func TestRejectionCacheHitsOnRepeatRejection(t *testing.T) {
	p := newPolicy(1000, nil, nil)
	c := &observation.CandidateExe{Path: "/usr/bin/foo", AcceptedMapCount: 1, TotalSize: 10}

	p.Decide(c)
	p.Decide(c)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Inserts)
}

func TestAcceptInvalidatesPriorRejectionCacheEntry(t *testing.T) {
	p := newPolicy(1000, nil, nil)
	rejected := &observation.CandidateExe{Path: "/usr/bin/foo", AcceptedMapCount: 1, TotalSize: 10}
	p.Decide(rejected)
	require.Equal(t, 1, p.Stats().Entries)

	accepted := &observation.CandidateExe{Path: "/usr/bin/foo", AcceptedMapCount: 1, TotalSize: 5000}
	d := p.Decide(accepted)
	require.True(t, d.Accepted)

	assert.Equal(t, 0, p.Stats().Entries)
	assert.Equal(t, uint64(1), p.Stats().Invalidates)
}

func TestRejectionCacheEntryExpiresAfterTTL(t *testing.T) {
	p := observation.NewDefaultPolicy(1000, nil, nil, 8, time.Millisecond)
	c := &observation.CandidateExe{Path: "/usr/bin/foo", AcceptedMapCount: 1, TotalSize: 10}
	p.Decide(c)
	time.Sleep(5 * time.Millisecond)
	p.Decide(c)
	assert.Equal(t, uint64(2), p.Stats().Misses, "expired entry counts as a fresh miss")
}

func TestZeroCacheCapacityDisablesCache(t *testing.T) {
	p := observation.NewDefaultPolicy(0, nil, nil, 0, 0)
	assert.Equal(t, observation.CacheStats{}, p.Stats())
}

// Package metrics exposes the daemon's Prometheus collectors: one tick
// cycle's duration and outcome, model size, and policy cache behaviour.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector registered by the engine.
type Metrics struct {
	TickDuration prometheus.Histogram
	TicksTotal   prometheus.Counter

	ExesTracked prometheus.Gauge
	MapsTracked prometheus.Gauge
	EdgesTotal  prometheus.Gauge

	PrefetchBytesTotal  prometheus.Counter
	PrefetchIssuedTotal prometheus.Counter
	PrefetchSkippedCold prometheus.Counter
	PrefetchFailedTotal prometheus.Counter

	PolicyCacheHits        prometheus.Counter
	PolicyCacheMisses      prometheus.Counter
	PolicyCacheInserts     prometheus.Counter
	PolicyCacheInvalidates prometheus.Counter
	PolicyCacheEntries     prometheus.Gauge
}

// New registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "preloadd_tick_duration_seconds",
			Help:    "Wall-clock duration of one scan/update/predict/plan/prefetch cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		TicksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "preloadd_ticks_total",
			Help: "Total number of completed cycles.",
		}),
		ExesTracked: f.NewGauge(prometheus.GaugeOpts{
			Name: "preloadd_exes_tracked",
			Help: "Number of executables currently tracked in the model.",
		}),
		MapsTracked: f.NewGauge(prometheus.GaugeOpts{
			Name: "preloadd_maps_tracked",
			Help: "Number of map segments currently tracked in the model.",
		}),
		EdgesTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "preloadd_markov_edges",
			Help: "Number of Markov edges currently tracked.",
		}),
		PrefetchBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "preloadd_prefetch_bytes_total",
			Help: "Total bytes selected for prefetch across all cycles.",
		}),
		PrefetchIssuedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "preloadd_prefetch_issued_total",
			Help: "Total map segments for which prefetch I/O was issued.",
		}),
		PrefetchSkippedCold: f.NewCounter(prometheus.CounterOpts{
			Name: "preloadd_prefetch_cache_hits_total",
			Help: "Total map segments skipped because mincore reported them fully cached.",
		}),
		PrefetchFailedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "preloadd_prefetch_failures_total",
			Help: "Total per-map prefetch failures.",
		}),
		PolicyCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "preloadd_policy_cache_hits_total",
			Help: "Admission decision cache hits.",
		}),
		PolicyCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "preloadd_policy_cache_misses_total",
			Help: "Admission decision cache misses.",
		}),
		PolicyCacheInserts: f.NewCounter(prometheus.CounterOpts{
			Name: "preloadd_policy_cache_inserts_total",
			Help: "Admission decision cache insertions.",
		}),
		PolicyCacheInvalidates: f.NewCounter(prometheus.CounterOpts{
			Name: "preloadd_policy_cache_invalidates_total",
			Help: "Admission decision cache invalidations from a later accept.",
		}),
		PolicyCacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "preloadd_policy_cache_entries",
			Help: "Current number of entries held in the admission decision cache.",
		}),
	}
}

// PolicyCacheSnapshot is one reading of the admission cache's
// statistics (DefaultPolicy.Stats), whose counters are cumulative.
type PolicyCacheSnapshot struct {
	Hits, Misses, Inserts, Invalidates uint64
	Entries                            int
}

// ObservePolicyCache updates m's policy-cache series from consecutive
// snapshots: each counter is increased by the delta between prev and
// cur, and the entries gauge is set to cur.Entries.
func (m *Metrics) ObservePolicyCache(prev, cur PolicyCacheSnapshot) {
	if d := cur.Hits - prev.Hits; d > 0 {
		m.PolicyCacheHits.Add(float64(d))
	}
	if d := cur.Misses - prev.Misses; d > 0 {
		m.PolicyCacheMisses.Add(float64(d))
	}
	if d := cur.Inserts - prev.Inserts; d > 0 {
		m.PolicyCacheInserts.Add(float64(d))
	}
	if d := cur.Invalidates - prev.Invalidates; d > 0 {
		m.PolicyCacheInvalidates.Add(float64(d))
	}
	m.PolicyCacheEntries.Set(float64(cur.Entries))
}

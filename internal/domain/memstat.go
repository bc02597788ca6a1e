package domain

// MemStat is a snapshot of host memory counters, all in KiB, plus
// cumulative page-in/page-out totals derived from paged-memory
// counters. Units are
// fixed to KiB (never bytes) so planner arithmetic never has to guess.
type MemStat struct {
	Total     uint64
	Available uint64
	Free      uint64
	Cached    uint64
	PageIn    uint64
	PageOut   uint64
}

package observation

import (
	"strings"
	"sync"
	"time"
)

// Completeness distinguishes a fully-admitted exe from one admitted
// despite some denied maps.
type Completeness int

const (
	Full Completeness = iota
	Partial
)

// RejectReason names why a candidate was not admitted.
type RejectReason int

const (
	RejectTooSmall RejectReason = iota
	RejectExePrefixDenied
	RejectMapPrefixDenied
	RejectMissingMaps
)

func (r RejectReason) String() string {
	switch r {
	case RejectTooSmall:
		return "too_small"
	case RejectExePrefixDenied:
		return "exe_prefix_denied"
	case RejectMapPrefixDenied:
		return "map_prefix_denied"
	case RejectMissingMaps:
		return "missing_maps"
	default:
		return "unknown"
	}
}

// Decision is the total result of policy.decide for one candidate.
type Decision struct {
	Accepted     bool
	Completeness Completeness
	Reason       RejectReason
}

// CandidateExe is one exe gathered from an Observation, pending an
// admission decision. AcceptedMapCount is the number of maps the
// map-prefix policy allowed; RejectedMaps lists the paths it denied.
type CandidateExe struct {
	Path             string
	Pid              int
	AcceptedMapCount int
	RejectedMaps     []string
	TotalSize        uint64
}

// Policy decides admission for exes and maps. Decisions are total: the
// policy never fails (errs.KindPolicy is never constructed).
type Policy interface {
	AllowExe(path string) bool
	AllowMap(path string) bool
	Decide(c *CandidateExe) Decision
}

// DefaultPolicy implements the longest-matching-prefix rule of
// spec.md §4.1.2, identically for exe and map prefix lists, wrapped in
// an LRU decision cache with per-entry TTL for exe rejections.
type DefaultPolicy struct {
	minSize   uint64
	exePrefix []prefixRule
	mapPrefix []prefixRule

	cache *rejectCache
}

type prefixRule struct {
	prefix string
	accept bool
}

func compilePrefixes(entries []string) []prefixRule {
	rules := make([]prefixRule, 0, len(entries))
	for _, e := range entries {
		accept := true
		p := e
		if strings.HasPrefix(e, "!") {
			accept = false
			p = e[1:]
		}
		rules = append(rules, prefixRule{prefix: p, accept: accept})
	}
	return rules
}

// NewDefaultPolicy constructs a DefaultPolicy. cacheCapacity or cacheTTL
// of zero disables the rejection cache.
func NewDefaultPolicy(minSize uint64, exePrefix, mapPrefix []string, cacheCapacity int, cacheTTL time.Duration) *DefaultPolicy {
	return &DefaultPolicy{
		minSize:   minSize,
		exePrefix: compilePrefixes(exePrefix),
		mapPrefix: compilePrefixes(mapPrefix),
		cache:     newRejectCache(cacheCapacity, cacheTTL),
	}
}

// acceptPath implements the longest-matching-prefix rule: scan every
// rule, take the one with the longest literal prefix match (ignoring
// the leading '!'), and accept or reject per its sign. No match means
// accept. Order of the rule list never matters.
func acceptPath(path string, rules []prefixRule) bool {
	bestLen := -1
	accept := true
	for _, r := range rules {
		if strings.HasPrefix(path, r.prefix) {
			if len(r.prefix) > bestLen {
				bestLen = len(r.prefix)
				accept = r.accept
			}
		}
	}
	return accept
}

func (p *DefaultPolicy) AllowExe(path string) bool { return acceptPath(path, p.exePrefix) }
func (p *DefaultPolicy) AllowMap(path string) bool { return acceptPath(path, p.mapPrefix) }

// Decide implements spec.md §4.1.2's decision table. The rejection
// cache never short-circuits recomputation: decideUncached always
// runs, since a subsequent accept for the same path must invalidate
// its entry and a candidate's TotalSize/RejectedMaps can differ from
// tick to tick even for the same path. The cache only records whether
// a live rejection entry already covered this path (for Stats) and, if
// not, remembers a fresh rejection for that observability purpose.
func (p *DefaultPolicy) Decide(c *CandidateExe) Decision {
	var cached bool
	if p.cache != nil {
		_, cached = p.cache.get(c.Path)
	}

	d := p.decideUncached(c)
	if p.cache != nil {
		switch {
		case d.Accepted:
			p.cache.invalidate(c.Path)
		case !cached:
			p.cache.put(c.Path, d)
		}
	}
	return d
}

func (p *DefaultPolicy) decideUncached(c *CandidateExe) Decision {
	if !p.AllowExe(c.Path) {
		return Decision{Accepted: false, Reason: RejectExePrefixDenied}
	}
	if c.AcceptedMapCount == 0 && len(c.RejectedMaps) == 0 {
		return Decision{Accepted: false, Reason: RejectMissingMaps}
	}
	if c.AcceptedMapCount == 0 {
		return Decision{Accepted: false, Reason: RejectMapPrefixDenied}
	}
	if c.TotalSize < p.minSize {
		return Decision{Accepted: false, Reason: RejectTooSmall}
	}
	completeness := Full
	if len(c.RejectedMaps) > 0 {
		completeness = Partial
	}
	return Decision{Accepted: true, Completeness: completeness}
}

// CacheStats reports decision-cache observability counters.
type CacheStats struct {
	Hits        uint64
	Misses      uint64
	Inserts     uint64
	Invalidates uint64
	Entries     int
}

// Stats returns the current cache statistics.
func (p *DefaultPolicy) Stats() CacheStats {
	if p.cache == nil {
		return CacheStats{}
	}
	return p.cache.stats()
}

// rejectCache is an LRU cache of rejection decisions with a per-entry
// TTL. A subsequent accept for the same path invalidates its entry.
// Zero capacity or zero TTL disables the cache.
type rejectCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*cacheEntry
	order    []string // front = most recently used

	hits, misses, inserts, invalidates uint64
}

type cacheEntry struct {
	decision Decision
	expires  time.Time
}

func newRejectCache(capacity int, ttl time.Duration) *rejectCache {
	if capacity <= 0 || ttl <= 0 {
		return nil
	}
	return &rejectCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
	}
}

func (c *rejectCache) get(path string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok || time.Now().After(e.expires) {
		if ok {
			delete(c.entries, path)
			c.removeFromOrder(path)
		}
		c.misses++
		return Decision{}, false
	}
	c.hits++
	c.touch(path)
	return e.decision, true
}

func (c *rejectCache) put(path string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[path]; !exists {
		if len(c.entries) >= c.capacity {
			c.evictOldest()
		}
		c.order = append([]string{path}, c.order...)
	} else {
		c.touch(path)
	}
	c.entries[path] = &cacheEntry{decision: d, expires: time.Now().Add(c.ttl)}
	c.inserts++
}

func (c *rejectCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; ok {
		delete(c.entries, path)
		c.removeFromOrder(path)
		c.invalidates++
	}
}

func (c *rejectCache) touch(path string) {
	c.removeFromOrder(path)
	c.order = append([]string{path}, c.order...)
}

func (c *rejectCache) removeFromOrder(path string) {
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *rejectCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[len(c.order)-1]
	c.order = c.order[:len(c.order)-1]
	delete(c.entries, oldest)
}

func (c *rejectCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Inserts:     c.inserts,
		Invalidates: c.invalidates,
		Entries:     len(c.entries),
	}
}

// Package domain defines the primitive identifiers, interned paths, and
// value types shared by every store and component of the model.
package domain

import (
	"sync"
	"sync/atomic"
)

// pathEntry is the refcounted backing storage for an interned path.
//
// Per the design note on cyclic references and interning: paths are
// never back-pointered to their owners. The refcount only ever reaches
// zero when every Path handle referencing it has been released.
type pathEntry struct {
	s    string
	refs int32
}

// Path is a cheaply-comparable handle to an interned absolute path.
// Two Paths are Equal if and only if they were interned from the same
// string by the same Interner; comparing the underlying pointer is
// sufficient, which keeps map/set operations over paths to pointer
// speed instead of string hashing.
type Path struct {
	entry *pathEntry
}

// IsZero reports whether p holds no interned value.
func (p Path) IsZero() bool { return p.entry == nil }

// String returns the interned string value.
func (p Path) String() string {
	if p.entry == nil {
		return ""
	}
	return p.entry.s
}

// Equal reports whether p and o reference the same interned path.
func (p Path) Equal(o Path) bool { return p.entry == o.entry }

// Less gives Path a total order for deterministic iteration (e.g. the
// planner's Path sort strategy), based on the underlying string.
func (p Path) Less(o Path) bool { return p.String() < o.String() }

// Interner deduplicates path strings into a single refcounted value per
// distinct path. It is safe for concurrent use.
type Interner struct {
	mu    sync.Mutex
	table map[string]*pathEntry
}

// NewInterner constructs an empty Interner.
func NewInterner() *Interner {
	return &Interner{table: make(map[string]*pathEntry)}
}

// Intern returns the Path for s, creating and refcounting the backing
// entry if this is the first reference.
func (in *Interner) Intern(s string) Path {
	in.mu.Lock()
	defer in.mu.Unlock()
	e, ok := in.table[s]
	if !ok {
		e = &pathEntry{s: s}
		in.table[s] = e
	}
	atomic.AddInt32(&e.refs, 1)
	return Path{entry: e}
}

// Release drops one reference to p's backing entry, removing it from
// the intern table once the refcount reaches zero. Callers that retain
// a Path value (e.g. inside a store) are expected to call Release
// exactly once when that value is evicted.
func (in *Interner) Release(p Path) {
	if p.entry == nil {
		return
	}
	if atomic.AddInt32(&p.entry.refs, -1) > 0 {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if atomic.LoadInt32(&p.entry.refs) == 0 {
		if cur, ok := in.table[p.entry.s]; ok && cur == p.entry {
			delete(in.table, p.entry.s)
		}
	}
}

// Len returns the number of distinct interned paths, for diagnostics.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.table)
}

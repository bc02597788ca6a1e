package prefetch

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"preloadd/internal/platform"
)

// Backend names the syscall family used to populate the page cache,
// per spec.md §4.4.
type Backend int

const (
	BackendAuto Backend = iota
	BackendReadahead
	BackendMadvise
	BackendRead
)

// ParseBackend maps a config string to a Backend, defaulting to Auto.
func ParseBackend(s string) Backend {
	switch s {
	case "readahead":
		return BackendReadahead
	case "madvise":
		return BackendMadvise
	case "read":
		return BackendRead
	default:
		return BackendAuto
	}
}

const readaheadChunk = 128 * 1024

// Failure records one per-map prefetch error; per spec.md §7, Io
// failures are per-map and never abort the tick.
type Failure struct {
	Map    PlannedMap
	Reason string
}

// Report summarises the outcome of executing a Plan.
type Report struct {
	Issued      int
	SkippedCold int // fully-cached, no syscall issued
	Failures    []Failure
}

// Prefetcher executes Plans with bounded concurrency.
type Prefetcher struct {
	backend     Backend
	concurrency int
}

// NewPrefetcher constructs a Prefetcher. concurrency <= 0 defaults to the
// host's CPU count, per spec.md §4.4.
func NewPrefetcher(backend Backend, concurrency int) *Prefetcher {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Prefetcher{backend: backend, concurrency: concurrency}
}

// Execute issues prefetch I/O for every entry in plan, fanning out up
// to p.concurrency workers at once via a weighted semaphore.
func (p *Prefetcher) Execute(ctx context.Context, plan Plan) Report {
	sem := semaphore.NewWeighted(int64(p.concurrency))
	var mu sync.Mutex
	var report Report
	var g errgroup.Group

	for _, m := range plan.Ordered {
		m := m
		if err := sem.Acquire(ctx, 1); err != nil {
			break // context cancelled; stop issuing further work
		}
		g.Go(func() error {
			defer sem.Release(1)
			issued, skipped, err := p.execOne(m)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, Failure{Map: m, Reason: err.Error()})
				return nil // per-map failures never abort the fan-out
			}
			if skipped {
				report.SkippedCold++
			}
			if issued {
				report.Issued++
			}
			return nil
		})
	}
	g.Wait()
	return report
}

// execOne handles one planned map: open, cache-probe, then populate
// the uncached sub-ranges via the configured backend.
func (p *Prefetcher) execOne(m PlannedMap) (issued bool, fullyCached bool, err error) {
	fd, err := platform.OpenReadonly(m.Path)
	if err != nil {
		return false, false, fmt.Errorf("open %s: %w", m.Path, err)
	}
	defer platform.Close(fd)

	resident, err := platform.MincoreResident(fd, int64(m.Offset), int64(m.Length))
	if err != nil {
		return false, false, fmt.Errorf("mincore %s: %w", m.Path, err)
	}
	ranges := uncachedRanges(resident, int64(m.Offset), platform.PageSize)
	if len(ranges) == 0 {
		return false, true, nil
	}

	backend := p.backend
	if backend == BackendAuto {
		backend = pickAutoBackend()
	}

	for _, r := range ranges {
		if err := platform.FadviseSequential(fd, r.offset, r.length); err != nil {
			// advisory only; proceed regardless
			_ = err
		}
		if err := populate(fd, r.offset, r.length, backend); err != nil {
			return issued, false, fmt.Errorf("populate %s: %w", m.Path, err)
		}
		issued = true
	}
	return issued, false, nil
}

type byteRange struct {
	offset int64
	length int64
}

// uncachedRanges folds a per-page residency vector into the maximal
// union of contiguous uncached byte ranges, per spec.md §4.4 step 2.
func uncachedRanges(resident []bool, baseOffset int64, pageSize int) []byteRange {
	var out []byteRange
	start := -1
	for i, r := range resident {
		if !r {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, byteRange{
				offset: baseOffset + int64(start*pageSize),
				length: int64((i - start) * pageSize),
			})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, byteRange{
			offset: baseOffset + int64(start*pageSize),
			length: int64((len(resident) - start) * pageSize),
		})
	}
	return out
}

// pickAutoBackend chooses Readahead as the default non-blocking choice
// when the backend is unconfigured; callers that need a guaranteed
// synchronous populate (e.g. no readahead support) should configure
// Read explicitly.
func pickAutoBackend() Backend { return BackendReadahead }

func populate(fd int, offset, length int64, backend Backend) error {
	switch backend {
	case BackendReadahead:
		return populateReadahead(fd, offset, length)
	case BackendMadvise:
		return platform.MadviseWillNeed(fd, offset, length)
	case BackendRead:
		return populateRead(fd, offset, length)
	default:
		return populateReadahead(fd, offset, length)
	}
}

func populateReadahead(fd int, offset, length int64) error {
	for length > 0 {
		chunk := int64(readaheadChunk)
		if chunk > length {
			chunk = length
		}
		if err := platform.Readahead(fd, offset, int(chunk)); err != nil {
			return err
		}
		offset += chunk
		length -= chunk
	}
	return nil
}

func populateRead(fd int, offset, length int64) error {
	if err := platform.FadviseSequential(fd, offset, length); err != nil {
		_ = err
	}
	buf := make([]byte, readaheadChunk)
	for length > 0 {
		want := len(buf)
		if int64(want) > length {
			want = int(length)
		}
		n, err := platform.ReadInto(fd, offset, buf[:want])
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		offset += int64(n)
		length -= int64(n)
	}
	return nil
}

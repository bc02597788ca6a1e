package observation

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"preloadd/internal/domain"
	"preloadd/internal/logging"
)

// Scanner produces one Observation per call for the given model time
// and scan_id; the caller advances both between calls.
type Scanner interface {
	Scan(now domain.Tick, scanID uint64) (Observation, error)
}

// synthetic path prefixes that never name a real, prefetchable file.
var syntheticPrefixes = []string{
	"/proc/", "/sys/", "/dev/", "/tmp/", "/run/", "/var/run/", "/var/lock/",
}

const prelinkMarker = ".#prelink#."

// sanitizePath implements spec.md §4.1.1: reject non-absolute, deleted,
// or synthetic paths, and strip a prelink suffix.
func sanitizePath(p string) (string, bool) {
	if !strings.HasPrefix(p, "/") {
		return "", false
	}
	if strings.Contains(p, "(deleted)") {
		return "", false
	}
	for _, pre := range syntheticPrefixes {
		if strings.HasPrefix(p, pre) {
			return "", false
		}
	}
	if i := strings.Index(p, prelinkMarker); i >= 0 {
		p = p[:i]
	}
	return p, true
}

// procEntry is the per-pid cache entry: identity (pid, start time) plus
// the map list as of the last full rescan.
type procEntry struct {
	startTime  uint64
	exePath    string
	maps       []RawMap
	lastRescan uint64 // scan_id of the last full map rescan
}

// ProcfsScanner is the default, privilege-free Scanner: it walks
// /proc/[pid] each tick, using a per-pid cache keyed on (pid, start
// time) to avoid re-reading /proc/[pid]/maps every cycle, and folds in
// an optional file-open watcher's buffered events.
type ProcfsScanner struct {
	mapRescanInterval uint64
	watcher           FileOpenWatcher

	mu      sync.Mutex
	entries map[int]*procEntry
}

// FileOpenWatcher is the optional, capability-gated accelerator of
// spec.md §4.1.1: it buffers (opener exe, file path, file size) triples
// observed filesystem-wide and drains them once per scan.
type FileOpenWatcher interface {
	Drain() []OpenEvent
	Close() error
}

// OpenEvent is one buffered file-open notification.
type OpenEvent struct {
	ExePath  string
	FilePath string
	FileSize uint64
}

// NewProcfsScanner constructs a scanner. mapRescanInterval is the
// number of scans between forced full map rescans for an otherwise
// unchanged pid (spec.md default: 5). watcher may be nil.
func NewProcfsScanner(mapRescanInterval uint64, watcher FileOpenWatcher) *ProcfsScanner {
	if mapRescanInterval == 0 {
		mapRescanInterval = 5
	}
	return &ProcfsScanner{
		mapRescanInterval: mapRescanInterval,
		watcher:           watcher,
		entries:           make(map[int]*procEntry),
	}
}

// Scan implements Scanner.
func (s *ProcfsScanner) Scan(now domain.Tick, scanID uint64) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scanUUID := uuid.New().String()

	var events []Event
	var warnings []ScanWarning
	events = append(events, Event{Kind: EventObsBegin, Time: now, ScanID: scanID, ScanUUID: scanUUID})

	pids, err := listPids()
	if err != nil {
		return Observation{}, err
	}

	seen := make(map[int]struct{}, len(pids))
	for _, pid := range pids {
		seen[pid] = struct{}{}

		startTime, err := readStartTime(pid)
		if err != nil {
			continue // process exited between listing and reading; not a warning
		}
		exePath, err := readExePath(pid)
		if err != nil {
			warnings = append(warnings, ScanWarning{Pid: pid, Reason: err.Error()})
			continue
		}
		clean, ok := sanitizePath(exePath)
		if !ok {
			continue
		}

		entry, cached := s.entries[pid]
		needsRescan := !cached || entry.startTime != startTime || scanID-entry.lastRescan >= s.mapRescanInterval
		if cached && entry.startTime != startTime {
			needsRescan = true // pid reuse
		}

		if needsRescan {
			maps, err := readMaps(pid, now)
			if err != nil {
				warnings = append(warnings, ScanWarning{Pid: pid, Reason: err.Error()})
				if entry == nil {
					continue
				}
				maps = entry.maps // fall back to stale cache rather than dropping the exe
			}
			entry = &procEntry{startTime: startTime, exePath: clean, maps: maps, lastRescan: scanID}
			s.entries[pid] = entry
		}

		events = append(events, Event{Kind: EventExeSeen, ExePath: clean, Pid: pid})
		for _, m := range entry.maps {
			events = append(events, Event{Kind: EventMapSeen, OwnerExePath: clean, Map: m})
		}
	}

	for pid := range s.entries {
		if _, ok := seen[pid]; !ok {
			delete(s.entries, pid)
		}
	}

	if s.watcher != nil {
		watcherExes := make(map[string]struct{})
		for _, oe := range s.watcher.Drain() {
			if oe.FilePath == oe.ExePath {
				continue // self-open
			}
			clean, ok := sanitizePath(oe.FilePath)
			if !ok {
				continue
			}
			if _, emitted := watcherExes[oe.ExePath]; !emitted {
				watcherExes[oe.ExePath] = struct{}{}
				events = append(events, Event{Kind: EventExeSeen, ExePath: oe.ExePath})
			}
			events = append(events, Event{
				Kind: EventMapSeen, OwnerExePath: oe.ExePath,
				Map: RawMap{Path: clean, Offset: 0, Length: oe.FileSize, LastUpdateTime: now},
			})
		}
	}

	if mem, err := readMemStat(); err == nil {
		events = append(events, Event{Kind: EventMemStat, Mem: mem})
	} else {
		logging.Warn("failed to read memory statistics", "error", err)
	}

	events = append(events, Event{Kind: EventObsEnd, Time: now, ScanID: scanID, ScanUUID: scanUUID, Warnings: warnings})

	return Observation{Events: events}, nil
}

func listPids() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func readExePath(pid int) (string, error) {
	return os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "exe"))
}

// readStartTime parses field 22 of /proc/[pid]/stat. The comm field (2)
// is parenthesized and may itself contain spaces or parentheses, so it
// is located by the last ')' rather than split on whitespace.
func readStartTime(pid int) (uint64, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, err
	}
	line := string(data)
	close := strings.LastIndexByte(line, ')')
	if close < 0 || close+2 >= len(line) {
		return 0, os.ErrInvalid
	}
	fields := strings.Fields(line[close+2:])
	// fields[0] is state (field 3); starttime is field 22, i.e.
	// fields[22-3] = fields[19].
	const startTimeIdx = 19
	if len(fields) <= startTimeIdx {
		return 0, os.ErrInvalid
	}
	return strconv.ParseUint(fields[startTimeIdx], 10, 64)
}

// readMaps parses /proc/[pid]/maps, keeping only file-backed, sanitised
// mappings. Each kept line becomes one RawMap; adjacent mappings of the
// same file are not merged.
func readMaps(pid int, now domain.Tick) ([]RawMap, error) {
	f, err := os.Open(filepath.Join("/proc", strconv.Itoa(pid), "maps"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []RawMap
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		pathname := fields[len(fields)-1]
		clean, ok := sanitizePath(pathname)
		if !ok {
			continue
		}

		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(addrs[0], 16, 64)
		end, err2 := strconv.ParseUint(addrs[1], 16, 64)
		if err1 != nil || err2 != nil || end < start {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}

		var device, inode uint64
		// fields[3] is the device as hex "major:minor", stored here as
		// major<<32 | minor.
		if majHex, minHex, found := strings.Cut(fields[3], ":"); found {
			major, errMaj := strconv.ParseUint(majHex, 16, 32)
			minor, errMin := strconv.ParseUint(minHex, 16, 32)
			if errMaj == nil && errMin == nil {
				device = major<<32 | minor
			}
		}
		if len(fields) >= 5 {
			if v, err := strconv.ParseUint(fields[4], 10, 64); err == nil {
				inode = v
			}
		}

		out = append(out, RawMap{
			Path:           clean,
			Offset:         offset,
			Length:         end - start,
			LastUpdateTime: now,
			Device:         device,
			Inode:          inode,
		})
	}
	return out, scanner.Err()
}

var pageSize = uint64(os.Getpagesize())

// readMemStat derives a MemStat from /proc/meminfo and /proc/vmstat, per
// spec.md §4.1.1: page-in/page-out come from the vmstat pgpgin/pgpgout
// counters scaled by the system page size (expressed in KiB to match
// meminfo's unit).
func readMemStat() (domain.MemStat, error) {
	mem, err := parseMeminfo()
	if err != nil {
		return domain.MemStat{}, err
	}
	vm, err := parseVmstat()
	if err != nil {
		return domain.MemStat{}, err
	}

	available := mem["MemAvailable"]
	if available == 0 {
		available = mem["MemFree"] + mem["Cached"]
	}

	return domain.MemStat{
		Total:     mem["MemTotal"],
		Available: available,
		Free:      mem["MemFree"],
		Cached:    mem["Cached"],
		PageIn:    vm["pgpgin"] * pageSize / 1024,
		PageOut:   vm["pgpgout"] * pageSize / 1024,
	}, nil
}

func parseMeminfo() (map[string]uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]uint64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		out[key] = v
	}
	return out, scanner.Err()
}

func parseVmstat() (map[string]uint64, error) {
	f, err := os.Open("/proc/vmstat")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]uint64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		out[fields[0]] = v
	}
	return out, scanner.Err()
}

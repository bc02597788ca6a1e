// Package platform wraps the Linux syscalls the prefetcher needs
// (open, fadvise, readahead, mmap/mincore/madvise/munmap, pread) as
// plain functions over raw file descriptors.
package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// PageSize is the host's memory page size, used to align mincore
// probes and block-sort keys.
var PageSize = os.Getpagesize()

// OpenReadonly opens path for reading, with no-atime (best effort) and
// without acquiring a controlling terminal.
func OpenReadonly(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOCTTY|unix.O_CLOEXEC|unix.O_NOATIME, 0)
	if err != nil {
		// O_NOATIME fails for files not owned by the caller; retry
		// without it rather than failing prefetch outright.
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	}
	return fd, err
}

// Close closes fd, ignoring EINTR/EBADF as the caller has no recovery.
func Close(fd int) { _ = unix.Close(fd) }

// FadviseSequential hints sequential access over [offset, offset+length).
func FadviseSequential(fd int, offset, length int64) error {
	return unix.Fadvise(fd, offset, length, unix.FADV_SEQUENTIAL)
}

// FadviseWillNeed hints imminent access over [offset, offset+length).
func FadviseWillNeed(fd int, offset, length int64) error {
	return unix.Fadvise(fd, offset, length, unix.FADV_WILLNEED)
}

// Readahead triggers kernel readahead over [offset, offset+length).
func Readahead(fd int, offset int64, length int) error {
	_, err := unix.Readahead(fd, offset, length)
	return err
}

// MincoreResident reports, for each page-aligned page covering
// [offset, offset+length), whether it is currently resident in the
// page cache. The returned slice has one entry per page, in order.
func MincoreResident(fd int, offset int64, length int64) ([]bool, error) {
	if length <= 0 {
		return nil, nil
	}
	alignedOffset := offset - offset%int64(PageSize)
	alignedLength := (offset - alignedOffset) + length
	if rem := alignedLength % int64(PageSize); rem != 0 {
		alignedLength += int64(PageSize) - rem
	}

	data, err := unix.Mmap(fd, alignedOffset, int(alignedLength), unix.PROT_NONE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap for mincore: %w", err)
	}
	defer unix.Munmap(data)

	numPages := int(alignedLength) / PageSize
	vec := make([]byte, numPages)
	if err := unix.Mincore(data, vec); err != nil {
		return nil, fmt.Errorf("mincore: %w", err)
	}

	out := make([]bool, numPages)
	for i, b := range vec {
		out[i] = b&1 != 0
	}
	return out, nil
}

// MadviseWillNeed memory-maps [offset, offset+length) read-only and
// issues MADV_WILLNEED, then unmaps it. This is the Madvise backend of
// spec.md §4.4.
func MadviseWillNeed(fd int, offset, length int64) error {
	if length <= 0 {
		return nil
	}
	alignedOffset := offset - offset%int64(PageSize)
	alignedLength := (offset - alignedOffset) + length
	if rem := alignedLength % int64(PageSize); rem != 0 {
		alignedLength += int64(PageSize) - rem
	}

	data, err := unix.Mmap(fd, alignedOffset, int(alignedLength), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap for madvise: %w", err)
	}
	defer unix.Munmap(data)
	return unix.Madvise(data, unix.MADV_WILLNEED)
}

// ReadInto issues a blocking pread of up to len(buf) bytes at offset,
// for the Read backend of spec.md §4.4, which guarantees population
// where hints are merely advisory.
func ReadInto(fd int, offset int64, buf []byte) (int, error) {
	return unix.Pread(fd, buf, offset)
}

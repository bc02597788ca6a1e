//go:build linux

package observation

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const fanotifyReadBufferSize = 4096

// fanotifyWatcher is the Linux backing for FileOpenWatcher: a
// filesystem-wide FAN_OPEN mark on "/" whose events are drained once
// per scan. Constructing it requires CAP_SYS_ADMIN; failure is left to
// the caller to treat as non-fatal, per spec.md §4.1.1.
type fanotifyWatcher struct {
	fd int

	mu     sync.Mutex
	buffer []OpenEvent
	done   chan struct{}
	err    error
}

// NewFanotifyWatcher attempts to establish a filesystem-wide open
// watch. Returns an error (never panics) if the capability is missing
// or fanotify is unavailable.
func NewFanotifyWatcher() (FileOpenWatcher, error) {
	fd, err := unix.FanotifyInit(unix.FAN_CLASS_NOTIF|unix.FAN_CLOEXEC|unix.FAN_NONBLOCK, unix.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("fanotify init: %w", err)
	}
	if err := unix.FanotifyMark(fd, unix.FAN_MARK_ADD|unix.FAN_MARK_FILESYSTEM,
		unix.FAN_OPEN, -1, "/"); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fanotify mark: %w", err)
	}

	w := &fanotifyWatcher{fd: fd, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *fanotifyWatcher) run() {
	f := os.NewFile(uintptr(w.fd), "fanotify")
	var buf [fanotifyReadBufferSize]byte
	for {
		n, err := f.Read(buf[:])
		select {
		case <-w.done:
			return
		default:
		}
		if err != nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			return
		}
		w.processBatch(buf[:n])
	}
}

func (w *fanotifyWatcher) processBatch(data []byte) {
	const metaLen = int(unsafe.Sizeof(unix.FanotifyEventMetadata{}))
	for len(data) >= metaLen {
		meta := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&data[0]))
		eventLen := int(meta.Event_len)
		if eventLen < metaLen || eventLen > len(data) {
			break
		}
		if meta.Vers != unix.FANOTIFY_METADATA_VERSION {
			break
		}

		eventFd := int(meta.Fd)
		if eventFd >= 0 {
			w.handleEvent(eventFd, int(meta.Pid))
			unix.Close(eventFd)
		}

		data = data[eventLen:]
	}
}

func (w *fanotifyWatcher) handleEvent(eventFd, pid int) {
	filePath, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(eventFd))
	if err != nil {
		return
	}
	exePath, err := os.Readlink("/proc/" + strconv.Itoa(pid) + "/exe")
	if err != nil {
		return
	}
	var size uint64
	if fi, err := os.Stat(filePath); err == nil {
		size = uint64(fi.Size())
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, OpenEvent{ExePath: exePath, FilePath: filePath, FileSize: size})
	w.mu.Unlock()
}

// Drain implements FileOpenWatcher.
func (w *fanotifyWatcher) Drain() []OpenEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.buffer
	w.buffer = nil
	return out
}

// Close implements FileOpenWatcher. Calls after the first are no-ops.
func (w *fanotifyWatcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	return unix.Close(w.fd)
}

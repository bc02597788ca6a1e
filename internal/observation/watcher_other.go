//go:build !linux

package observation

import "errors"

// NewFanotifyWatcher is unsupported outside Linux; the caller treats
// its error as non-fatal and runs without the accelerator.
func NewFanotifyWatcher() (FileOpenWatcher, error) {
	return nil, errors.New("file-open watcher not supported on this platform")
}

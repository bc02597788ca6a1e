// Package errs provides typed error handling for the preload daemon.
//
// It mirrors the error-kind taxonomy of the daemon's error-handling
// design: failures at the individual-unit level (one process, one map)
// never surface as anything but a warning or a report entry, while
// subsystem- and startup-level failures carry a Kind that callers can
// classify with errors.As/errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a DaemonError.
type Kind int

const (
	// KindConfig marks invalid or unreadable configuration.
	KindConfig Kind = iota
	// KindScan marks a per-process scan failure, downgraded to a
	// warning in the observation; never returned as a hard error from
	// the scanner itself.
	KindScan
	// KindPolicy is reserved: admission decisions are total and never
	// fail, so no DaemonError is ever constructed with this kind. It
	// exists for callers that want to assert that property.
	KindPolicy
	// KindIO marks a per-map prefetch failure.
	KindIO
	// KindPersistence marks a save/load failure.
	KindPersistence
	// KindFatal marks a failure that must propagate out of the engine:
	// the repository could not be opened, or the runtime could not be
	// constructed.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindScan:
		return "scan"
	case KindPolicy:
		return "policy"
	case KindIO:
		return "io"
	case KindPersistence:
		return "persistence"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DaemonError is the error type returned across package boundaries in
// this module.
type DaemonError struct {
	Op     string
	Kind   Kind
	Detail string
	Err    error
}

func (e *DaemonError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: ", e.Kind)
	if e.Op != "" {
		msg += e.Op + ": "
	}
	if e.Detail != "" {
		msg += e.Detail
	} else {
		msg += e.Kind.String()
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *DaemonError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *DaemonError with the same Kind, or delegates to
// the wrapped error.
func (e *DaemonError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	var t *DaemonError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a DaemonError with the given kind and detail.
func New(kind Kind, op, detail string) *DaemonError {
	return &DaemonError{Op: op, Kind: kind, Detail: detail}
}

// Wrap attaches kind/op context to an existing error.
func Wrap(err error, kind Kind, op string) *DaemonError {
	if err == nil {
		return nil
	}
	return &DaemonError{Op: op, Kind: kind, Err: err}
}

// WrapDetail attaches kind/op/detail context to an existing error.
func WrapDetail(err error, kind Kind, op, detail string) *DaemonError {
	return &DaemonError{Op: op, Kind: kind, Detail: detail, Err: err}
}

// IsKind reports whether err is a DaemonError of the given kind.
func IsKind(err error, kind Kind) bool {
	var d *DaemonError
	if errors.As(err, &d) {
		return d.Kind == kind
	}
	return false
}

// Re-export standard library functions for convenience, matching the
// teacher's errors package surface.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"preloadd/internal/errs"
)

func TestWrapPreservesUnwrapChain(t *testing.T) {
	root := errors.New("disk full")
	wrapped := errs.Wrap(root, errs.KindPersistence, "sqlrepo.save")

	assert.Equal(t, root, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, root))
}

func TestIsMatchesSameKindDaemonError(t *testing.T) {
	a := errs.New(errs.KindConfig, "op1", "bad value")
	b := errs.New(errs.KindConfig, "op2", "different detail")

	assert.True(t, errors.Is(a, b), "DaemonErrors of the same Kind compare equal via Is")
}

func TestIsRejectsDifferentKindDaemonError(t *testing.T) {
	a := errs.New(errs.KindConfig, "op", "detail")
	b := errs.New(errs.KindIO, "op", "detail")

	assert.False(t, errors.Is(a, b))
}

func TestErrorsIsReachesSentinelThroughWrap(t *testing.T) {
	wrapped := errs.Wrap(errs.ErrSchemaIncompatible, errs.KindPersistence, "sqlrepo.open")
	assert.True(t, errors.Is(wrapped, errs.ErrSchemaIncompatible))
}

func TestIsKindClassifiesWrappedError(t *testing.T) {
	err := errs.WrapDetail(errors.New("boom"), errs.KindIO, "prefetch.issue", "madvise failed")
	assert.True(t, errs.IsKind(err, errs.KindIO))
	assert.False(t, errs.IsKind(err, errs.KindConfig))
}

func TestErrorMessageIncludesOpAndDetail(t *testing.T) {
	err := errs.New(errs.KindScan, "scanner.scan", "proc pid vanished")
	msg := err.Error()
	assert.Contains(t, msg, "scan")
	assert.Contains(t, msg, "scanner.scan")
	assert.Contains(t, msg, "proc pid vanished")
}

func TestErrorMessageAppendsWrappedCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := errs.Wrap(cause, errs.KindIO, "prefetch.readahead")
	assert.True(t, fmt.Sprintf("%v", err) != "" && errors.Unwrap(err) == cause)
}

func TestKindStringCoversAllKinds(t *testing.T) {
	kinds := []errs.Kind{errs.KindConfig, errs.KindScan, errs.KindPolicy, errs.KindIO, errs.KindPersistence, errs.KindFatal}
	for _, k := range kinds {
		assert.NotEqual(t, "unknown", k.String())
	}
}

func TestNilDaemonErrorErrorStringIsSafe(t *testing.T) {
	var e *errs.DaemonError
	assert.Equal(t, "<nil>", e.Error())
}

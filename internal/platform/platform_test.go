package platform_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preloadd/internal/platform"
)

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data")
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestOpenReadonlyOpensExistingFile(t *testing.T) {
	path := writeTempFile(t, 4096)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)
	assert.GreaterOrEqual(t, fd, 0)
}

func TestOpenReadonlyFailsOnMissingFile(t *testing.T) {
	_, err := platform.OpenReadonly(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestReadIntoReturnsExpectedBytes(t *testing.T) {
	path := writeTempFile(t, 4096)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)

	buf := make([]byte, 16)
	n, err := platform.ReadInto(fd, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	for i := 0; i < 16; i++ {
		assert.Equal(t, byte(i), buf[i])
	}
}

func TestReadIntoRespectsOffset(t *testing.T) {
	path := writeTempFile(t, 4096)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)

	buf := make([]byte, 4)
	n, err := platform.ReadInto(fd, 10, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{10, 11, 12, 13}, buf)
}

func TestFadviseSequentialOnRegularFileSucceeds(t *testing.T) {
	path := writeTempFile(t, 4096)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)
	assert.NoError(t, platform.FadviseSequential(fd, 0, 4096))
}

func TestFadviseWillNeedOnRegularFileSucceeds(t *testing.T) {
	path := writeTempFile(t, 4096)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)
	assert.NoError(t, platform.FadviseWillNeed(fd, 0, 4096))
}

func TestReadaheadOnRegularFileSucceeds(t *testing.T) {
	path := writeTempFile(t, 4096)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)
	assert.NoError(t, platform.Readahead(fd, 0, 4096))
}

func TestMincoreResidentReturnsOnePerPageAfterReadahead(t *testing.T) {
	path := writeTempFile(t, platform.PageSize*2)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)

	require.NoError(t, platform.Readahead(fd, 0, platform.PageSize*2))

	vec, err := platform.MincoreResident(fd, 0, int64(platform.PageSize*2))
	require.NoError(t, err)
	assert.Len(t, vec, 2)
}

func TestMincoreResidentZeroLengthReturnsNil(t *testing.T) {
	path := writeTempFile(t, 4096)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)

	vec, err := platform.MincoreResident(fd, 0, 0)
	assert.NoError(t, err)
	assert.Nil(t, vec)
}

func TestMadviseWillNeedOnRegularFileSucceeds(t *testing.T) {
	path := writeTempFile(t, 4096)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)
	assert.NoError(t, platform.MadviseWillNeed(fd, 0, 4096))
}

func TestMadviseWillNeedZeroLengthIsNoop(t *testing.T) {
	path := writeTempFile(t, 4096)
	fd, err := platform.OpenReadonly(path)
	require.NoError(t, err)
	defer platform.Close(fd)
	assert.NoError(t, platform.MadviseWillNeed(fd, 0, 0))
}

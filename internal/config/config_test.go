package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preloadd/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAppliesDefaultsWithNoSources(t *testing.T) {
	cfg, err := config.Load("", "")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadOverlaysExplicitPathOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.toml")
	writeFile(t, path, "[model]\ncycle = 30\n")

	cfg, err := config.Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, int64(30), cfg.Model.CycleSeconds)
	assert.Equal(t, config.Default().Model.ActiveWindow, cfg.Model.ActiveWindow, "fields absent from the file keep their default")
}

func TestLoadConfigDirAppliesLexicalOrderLaterWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "10-base.toml"), "[model]\ncycle = 30\n")
	writeFile(t, filepath.Join(dir, "20-override.toml"), "[model]\ncycle = 45\n")

	cfg, err := config.Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, int64(45), cfg.Model.CycleSeconds)
}

func TestLoadRejectsInvalidMergedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.toml")
	writeFile(t, path, "[model]\ncycle = 0\n")

	_, err := config.Load(path, "")
	assert.Error(t, err)
}

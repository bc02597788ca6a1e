package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"preloadd/internal/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, config.Default().Validate())
}

func TestValidateRejectsNonPositiveCycle(t *testing.T) {
	c := config.Default()
	c.Model.CycleSeconds = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsOutOfRangeMemoryPercent(t *testing.T) {
	c := config.Default()
	c.Model.Memory.MemTotal = 200
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownSortStrategy(t *testing.T) {
	c := config.Default()
	c.System.SortStrategy = "bogus"
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownPrefetchBackend(t *testing.T) {
	c := config.Default()
	c.System.PrefetchBackend = "bogus"
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNegativeConcurrency(t *testing.T) {
	c := config.Default()
	c.System.PrefetchConcurrency = -1
	assert.Error(t, c.Validate())
}

func TestDecayPrefersHalfLifeOverExplicitDecay(t *testing.T) {
	c := config.Default()
	c.Model.HalfLife = 10
	c.Model.Decay = 5
	assert.InDelta(t, 0.06931471805599453, c.Decay(), 1e-12)
}

func TestDecayFallsBackToExplicitValue(t *testing.T) {
	c := config.Default()
	c.Model.Decay = 0.25
	assert.Equal(t, 0.25, c.Decay())
}

func TestDecayDefaultsToZero(t *testing.T) {
	c := config.Default()
	assert.Equal(t, 0.0, c.Decay())
}

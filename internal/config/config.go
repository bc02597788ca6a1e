// Package config loads and merges the daemon's TOML configuration.
package config

import (
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"preloadd/internal/errs"
)

// MemoryConfig controls the prefetch budget calculation.
type MemoryConfig struct {
	MemTotal     float64 `toml:"memtotal"`
	MemAvailable float64 `toml:"memavailable"`
}

// ModelConfig controls the learning model's parameters.
type ModelConfig struct {
	CycleSeconds   int64        `toml:"cycle"`
	UseCorrelation bool         `toml:"use_correlation"`
	MinSize        uint64       `toml:"minsize"`
	ActiveWindow   int64        `toml:"active_window"`
	HalfLife       int64        `toml:"half_life"`
	Decay          float64      `toml:"decay"`
	Memory         MemoryConfig `toml:"memory"`
}

// SystemConfig controls scan/prefetch behaviour and policy.
type SystemConfig struct {
	DoScan              bool     `toml:"doscan"`
	DoPredict           bool     `toml:"dopredict"`
	AutosaveSeconds     int64    `toml:"autosave"`
	ExePrefix           []string `toml:"exeprefix"`
	MapPrefix           []string `toml:"mapprefix"`
	SortStrategy        string   `toml:"sortstrategy"`
	PrefetchConcurrency int      `toml:"prefetch_concurrency"`
	PrefetchBackend     string   `toml:"prefetch_backend"`
	PolicyCacheTTL      int64    `toml:"policy_cache_ttl"`
	PolicyCacheCapacity int      `toml:"policy_cache_capacity"`
	MetricsAddr         string   `toml:"metrics_addr"`
}

// PersistenceConfig controls snapshot storage.
type PersistenceConfig struct {
	StatePath        string `toml:"state_path"`
	AutosaveInterval int64  `toml:"autosave_interval"`
	SaveOnShutdown   bool   `toml:"save_on_shutdown"`
}

// Config is the complete, merged daemon configuration.
type Config struct {
	Model       ModelConfig       `toml:"model"`
	System      SystemConfig      `toml:"system"`
	Persistence PersistenceConfig `toml:"persistence"`
}

// Default returns the configuration with every documented default
// applied, per spec.md §6.
func Default() Config {
	return Config{
		Model: ModelConfig{
			CycleSeconds:   20,
			UseCorrelation: true,
			MinSize:        100000,
			ActiveWindow:   int64(6 * time.Hour / time.Second),
			Memory: MemoryConfig{
				MemTotal:     -5,
				MemAvailable: 95,
			},
		},
		System: SystemConfig{
			DoScan:              true,
			DoPredict:           true,
			AutosaveSeconds:     3600,
			SortStrategy:        "path",
			PrefetchConcurrency: 0, // 0 == auto (available CPU count)
			PrefetchBackend:     "auto",
		},
		Persistence: PersistenceConfig{
			AutosaveInterval: 3600,
			SaveOnShutdown:   true,
		},
	}
}

// Load starts from Default(), decodes path (if non-empty) onto it, then
// decodes every *.toml file in dir in lexical order onto it. Because
// toml.Decode only assigns fields actually present in the source, later
// files only override the keys they name, leaving everything else from
// earlier sources intact — this is the "later overrides earlier" merge
// rule of spec.md §6.
func Load(path string, dir string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, errs.WrapDetail(err, errs.KindConfig, "load", path)
		}
	}

	if dir != "" {
		files, err := globTOML(dir)
		if err != nil {
			return cfg, errs.WrapDetail(err, errs.KindConfig, "config-dir", dir)
		}
		sort.Strings(files)
		for _, f := range files {
			if _, err := toml.DecodeFile(f, &cfg); err != nil {
				return cfg, errs.WrapDetail(err, errs.KindConfig, "config-dir", f)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

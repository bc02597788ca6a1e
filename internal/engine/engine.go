// Package engine owns config, services, and the Stores aggregate, and
// drives the scan -> update -> predict -> plan -> prefetch cycle plus
// autosave, per spec.md §4.6.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"preloadd/internal/config"
	"preloadd/internal/domain"
	"preloadd/internal/errs"
	"preloadd/internal/logging"
	"preloadd/internal/metrics"
	"preloadd/internal/observation"
	"preloadd/internal/prediction"
	"preloadd/internal/prefetch"
	"preloadd/internal/repository"
	"preloadd/internal/stores"
	"preloadd/internal/updater"
)

// Options holds the construction-time settings that never change on a
// config reload: where config lives, whether to skip I/O, and the
// logger to annotate every tick with.
type Options struct {
	ConfigPath string
	ConfigDir  string
	NoPrefetch bool
	Log        *slog.Logger
}

// Engine is the daemon's control loop. It is not safe for concurrent
// use from more than one goroutine; RunUntil receives its control
// events as OS signals and handles them on the goroutine that called
// it, between ticks.
type Engine struct {
	opts    Options
	repo    repository.Repository
	metrics *metrics.Metrics
	log     *slog.Logger

	stores  *stores.Stores
	scanner observation.Scanner
	watcher observation.FileOpenWatcher

	cfg       config.Config
	policy    *observation.DefaultPolicy
	updater   *updater.Updater
	predictor *prediction.Predictor
	planner   *prefetch.Planner
	fetcher   *prefetch.Prefetcher

	scanID          uint64
	lastMem         domain.MemStat
	lastSave        time.Time
	policyCachePrev metrics.PolicyCacheSnapshot
}

// New constructs an Engine: loads any persisted Snapshot through repo,
// attempts to start the optional file-open watcher (non-fatal if it
// fails), and builds the swappable services from cfg.
func New(cfg config.Config, opts Options, repo repository.Repository, reg prometheus.Registerer) (*Engine, error) {
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}

	st := stores.New()
	snap, err := repo.Load()
	if err != nil {
		log.Warn("failed to load persisted state, starting with an empty model", "error", err)
	} else {
		restoreInto(st, snap)
	}

	watcher, err := observation.NewFanotifyWatcher()
	if err != nil {
		log.Info("file-open watcher unavailable, falling back to procfs polling only", "error", err)
		watcher = nil
	}

	e := &Engine{
		opts:     opts,
		repo:     repo,
		metrics:  metrics.New(reg),
		log:      log,
		stores:   st,
		scanner:  observation.NewProcfsScanner(5, watcher),
		watcher:  watcher,
		lastSave: time.Now(),
	}
	e.applyConfig(cfg)
	return e, nil
}

// applyConfig rebuilds every swappable service from cfg. Called at
// construction and on Reload; the persistence path is never touched
// here, per spec.md §4.6.
func (e *Engine) applyConfig(cfg config.Config) {
	e.cfg = cfg
	e.policy = observation.NewDefaultPolicy(
		cfg.Model.MinSize,
		cfg.System.ExePrefix,
		cfg.System.MapPrefix,
		cfg.System.PolicyCacheCapacity,
		time.Duration(cfg.System.PolicyCacheTTL)*time.Second,
	)
	e.updater = updater.New(e.policy, domain.Tick(cfg.Model.ActiveWindow), cfg.Decay())
	e.predictor = prediction.New(float64(cfg.Model.CycleSeconds), cfg.Model.UseCorrelation)
	e.planner = prefetch.New(cfg.Model.Memory.MemTotal, cfg.Model.Memory.MemAvailable, prefetch.ParseSortStrategy(cfg.System.SortStrategy))
	e.fetcher = prefetch.NewPrefetcher(prefetch.ParseBackend(cfg.System.PrefetchBackend), cfg.System.PrefetchConcurrency)
}

// Reload re-reads configuration from the engine's configured path/dir
// and atomically swaps the admission, updater, predictor, planner, and
// prefetcher built from it, per the Control events of spec.md §4.6.
func (e *Engine) Reload() error {
	cfg, err := config.Load(e.opts.ConfigPath, e.opts.ConfigDir)
	if err != nil {
		return err
	}
	e.applyConfig(cfg)
	e.log.Info("configuration reloaded", "cycle_seconds", cfg.Model.CycleSeconds)
	return nil
}

// Tick runs one scan -> update -> predict -> plan -> prefetch cycle and
// advances the model clock by cfg.Model.CycleSeconds.
func (e *Engine) Tick(ctx context.Context) {
	start := time.Now()
	cfg := e.cfg
	now := e.stores.ModelTime + domain.Tick(cfg.Model.CycleSeconds)
	log := logging.WithTick(e.log, int64(now))

	var obs observation.Observation
	if cfg.System.DoScan {
		var err error
		obs, err = e.scanner.Scan(now, e.scanID)
		e.scanID++
		if err != nil {
			log.Error("scan failed, skipping tick", "error", errs.Wrap(err, errs.KindScan, "engine.tick"))
			return
		}
	} else {
		obs = observation.Observation{Events: []observation.Event{
			{Kind: observation.EventObsBegin, Time: now, ScanID: e.scanID},
			{Kind: observation.EventObsEnd, Time: now, ScanID: e.scanID},
		}}
	}

	for _, ev := range obs.Events {
		if ev.Kind == observation.EventObsBegin && ev.ScanUUID != "" {
			log = log.With("scan_uuid", ev.ScanUUID)
		}
		if ev.Kind == observation.EventMemStat {
			e.lastMem = ev.Mem
		}
		if ev.Kind == observation.EventObsEnd {
			for _, w := range ev.Warnings {
				log.Warn("scan warning", "pid", w.Pid, "reason", w.Reason)
			}
		}
	}

	delta := e.updater.Apply(e.stores, obs, now)
	if len(delta.Rejections) > 0 {
		log.Debug("admission rejected candidates", "count", len(delta.Rejections))
	}
	log.Debug("model updated",
		"new_exes", len(delta.NewExes), "new_maps", len(delta.NewMaps),
		"new_edges", delta.NewEdges, "edges_updated", delta.EdgesUpdated,
		"pruned_exes", len(delta.PrunedExes))

	e.metrics.ObservePolicyCache(e.policyCachePrev, toCacheSnapshot(e.policy.Stats()))
	e.policyCachePrev = toCacheSnapshot(e.policy.Stats())

	if cfg.System.DoPredict {
		pred := e.predictor.Predict(e.stores)
		if !e.opts.NoPrefetch {
			plan := e.planner.Plan(e.stores, pred, e.lastMem)
			report := e.fetcher.Execute(ctx, plan)
			e.metrics.PrefetchBytesTotal.Add(float64(plan.TotalBytes))
			e.metrics.PrefetchIssuedTotal.Add(float64(report.Issued))
			e.metrics.PrefetchSkippedCold.Add(float64(report.SkippedCold))
			e.metrics.PrefetchFailedTotal.Add(float64(len(report.Failures)))
			for _, f := range report.Failures {
				log.Warn("prefetch failed", "path", f.Map.Path, "reason", f.Reason)
			}
			log.Debug("prefetch executed",
				"selected", len(plan.Ordered), "budget_bytes", plan.BudgetBytes,
				"issued", report.Issued, "skipped_cold", report.SkippedCold, "failures", len(report.Failures))
		}
	}

	e.metrics.ExesTracked.Set(float64(e.stores.Exes.Len()))
	e.metrics.MapsTracked.Set(float64(e.stores.Maps.Len()))
	e.metrics.EdgesTotal.Set(float64(e.stores.Markov.Len()))
	e.metrics.TicksTotal.Inc()
	e.metrics.TickDuration.Observe(time.Since(start).Seconds())

	e.maybeAutosave(now)
}

func toCacheSnapshot(s observation.CacheStats) metrics.PolicyCacheSnapshot {
	return metrics.PolicyCacheSnapshot{
		Hits: s.Hits, Misses: s.Misses, Inserts: s.Inserts, Invalidates: s.Invalidates, Entries: s.Entries,
	}
}

// maybeAutosave saves if persistence.autosave_interval (falling back to
// system.autosave) seconds have elapsed since the last save. Zero
// disables autosave entirely.
func (e *Engine) maybeAutosave(now domain.Tick) {
	interval := e.cfg.Persistence.AutosaveInterval
	if interval == 0 {
		interval = e.cfg.System.AutosaveSeconds
	}
	if interval <= 0 {
		return
	}
	if time.Since(e.lastSave) < time.Duration(interval)*time.Second {
		return
	}
	if err := e.Save(); err != nil {
		e.log.Error("autosave failed, will retry next cycle", "error", err)
		return
	}
	e.lastSave = time.Now()
}

// Save persists the current Stores through the engine's repository.
func (e *Engine) Save() error {
	if err := e.repo.Save(snapshotOf(e.stores)); err != nil {
		return errs.Wrap(err, errs.KindPersistence, "engine.save")
	}
	return nil
}

// Shutdown saves if configured to (persistence.save_on_shutdown) and
// releases the file-open watcher.
func (e *Engine) Shutdown() error {
	var err error
	if e.cfg.Persistence.SaveOnShutdown {
		err = e.Save()
	}
	if e.watcher != nil {
		if cerr := e.watcher.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

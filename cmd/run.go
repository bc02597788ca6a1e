package cmd

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"preloadd/internal/config"
	"preloadd/internal/engine"
	"preloadd/internal/repository"
	"preloadd/internal/repository/memrepo"
	"preloadd/internal/repository/sqlrepo"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the prefetch daemon",
	Long:  `Load configuration, restore persisted state, and run the scan/update/predict/plan/prefetch cycle until SIGINT/SIGTERM.`,
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	log := rootLogger()

	cfg, err := config.Load(globalConfig, globalConfigDir)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	statePath := cfg.Persistence.StatePath
	if globalStatePath != "" {
		statePath = globalStatePath
	}

	var repo repository.Repository
	if globalNoPersist {
		repo = memrepo.New()
	} else {
		repo, err = sqlrepo.Open(statePath)
		if err != nil {
			return fmt.Errorf("open state database %q: %w", statePath, err)
		}
	}
	defer repo.Close()

	reg := prometheus.NewRegistry()
	if cfg.System.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.System.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		log.Info("metrics endpoint listening", "addr", cfg.System.MetricsAddr)
	}

	e, err := engine.New(cfg, engine.Options{
		ConfigPath: globalConfig,
		ConfigDir:  globalConfigDir,
		NoPrefetch: globalNoPrefetch,
		Log:        log,
	}, repo, reg)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	ctx := GetContext()

	if globalOnce {
		e.Tick(ctx)
		return e.Shutdown()
	}

	return e.RunUntil(ctx)
}

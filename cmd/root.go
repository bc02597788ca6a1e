// Package cmd implements the CLI commands for preloadd.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"preloadd/internal/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags, per spec.md §6.
var (
	globalConfig     string
	globalConfigDir  string
	globalStatePath  string
	globalOnce       bool
	globalNoPersist  bool
	globalNoPrefetch bool
	globalVerbosity  int
)

// rootCmd is the base command for preloadd.
var rootCmd = &cobra.Command{
	Use:   "preloadd",
	Short: "Adaptive readahead daemon",
	Long: `preloadd watches which executables run together and which files
they map, learns pairwise co-activation statistics, and prefetches the
files it predicts the next cycle will need into the page cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfig, "config", "", "path to a single TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&globalConfigDir, "config-dir", "", "directory of *.toml configuration overlays, applied in lexical order")
	rootCmd.PersistentFlags().StringVar(&globalStatePath, "state", "", "path to the persisted state database (overrides persistence.state_path)")
	rootCmd.PersistentFlags().BoolVar(&globalOnce, "once", false, "run a single tick and exit, instead of looping")
	rootCmd.PersistentFlags().BoolVar(&globalNoPersist, "no-persist", false, "keep the model in memory only; never load or save state")
	rootCmd.PersistentFlags().BoolVar(&globalNoPrefetch, "no-prefetch", false, "run scan/update/predict/plan but never issue prefetch I/O")
	rootCmd.PersistentFlags().CountVarP(&globalVerbosity, "verbose", "v", "increase log verbosity (-v, -vv, -vvv)")
}

func rootLogger() *slog.Logger {
	return logging.Default()
}

func setupLogging() {
	logger := logging.NewLogger(logging.Config{
		Level:     logging.LevelFromVerbosity(globalVerbosity),
		Format:    "text",
		Output:    os.Stderr,
		AddSource: globalVerbosity >= 2,
	})
	logging.SetDefault(logger)
}

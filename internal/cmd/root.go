// Package cmd implements the siterun command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/siterun/internal/config"
	"github.com/3leaps/siterun/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile     string
	verbose     bool
	workersFlag int

	// appConfig is resolved by the root pre-run hook.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "siterun",
	Short: "Run site simulations and assemble their outputs",
	Long: `siterun dispatches a simulation executable over a set of sites, merges
its yearly NetCDF outputs, and assembles one date-indexed table per site and
time resolution.

Results are written as JSONL to stdout (or --output), and can be saved to a
SQLite result store and exported as CSV.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadAppConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Application config file (default: ./siterun.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVarP(&workersFlag, "workers", "w", 0, "Concurrent sites (overrides run.workers)")
}

func loadAppConfig(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	overrides := map[string]any{}
	if cmd.Flags().Changed("workers") {
		overrides["run"] = map[string]any{"workers": workersFlag}
	}
	if verbose {
		overrides["logging"] = map[string]any{"level": "debug"}
	}

	config.SetConfigFile(cfgFile)
	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg
	observability.InitCLILoggerLevel("siterun", cfg.Logging.Level)
	return nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

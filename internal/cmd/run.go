package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/siterun/internal/observability"
	"github.com/3leaps/siterun/pkg/assemble"
	"github.com/3leaps/siterun/pkg/dispatch"
	"github.com/3leaps/siterun/pkg/output"
	"github.com/3leaps/siterun/pkg/pipeline"
	"github.com/3leaps/siterun/pkg/runconfig"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation for every site and assemble the outputs",
	Long: `Dispatch the simulation executable for the sites in a run configuration,
merge the yearly output files, and assemble one table per site.

Example:
  siterun run --job sites.yaml
  siterun run --job sites.yaml --workers 4 --store --export s3://bucket/runs
  siterun run --job sites.yaml --skip-run --output tables.jsonl`,
	RunE: runPipeline,
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Assemble existing simulation outputs without dispatching",
	Long: `Merge and assemble the outputs already present under path_output_nc.

Example:
  siterun read --job sites.yaml --probe any`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runOpts.skipRun = true
		return runPipeline(cmd, args)
	},
}

type pipelineOptions struct {
	jobPath   string
	output    string
	probe     string
	store     bool
	storePath string
	export    string
	skipRun   bool
}

var runOpts pipelineOptions

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(readCmd)

	for _, c := range []*cobra.Command{runCmd, readCmd} {
		c.Flags().StringVarP(&runOpts.jobPath, "job", "j", "", "Path to run configuration (required)")
		c.Flags().StringVarP(&runOpts.output, "output", "o", "", "Write JSONL records to this file instead of stdout")
		c.Flags().StringVar(&runOpts.probe, "probe", "", "Existence probe policy: first|any (default from config)")
		c.Flags().BoolVar(&runOpts.store, "store", false, "Save results to the SQLite result store")
		c.Flags().StringVar(&runOpts.storePath, "store-path", "", "Result store path (implies --store)")
		c.Flags().StringVar(&runOpts.export, "export", "", "Export CSV tables to file:/dir or s3://bucket/prefix")
		_ = c.MarkFlagRequired("job")
	}
	runCmd.Flags().BoolVar(&runOpts.skipRun, "skip-run", false, "Read existing outputs without dispatching")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	opts := runOpts
	cfg := appConfig

	rc, err := loadRunConfig(opts.jobPath)
	if err != nil {
		return err
	}
	probe, err := resolveProbe(cfg, opts.probe)
	if err != nil {
		return err
	}

	batchID := newBatchID()
	logDir := batchLogDir(cfg, batchID)

	out, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	w := output.NewJSONLWriter(out, batchID, rc.Model)
	defer func() { _ = w.Close() }()

	rec := newRecorder(ctx, w)
	runner := newRunner()
	p := pipeline.New(pipeline.Config{
		Runner:     newDispatcher(cfg, runner, logDir),
		Reader:     newReader(cfg, rc, runner, logDir, probe, rec.observe),
		SkipRun:    opts.skipRun,
		OnDispatch: rec.dispatched,
		Logger:     observability.CLILogger,
	})

	observability.CLILogger.Info("Starting batch",
		zap.String("batch_id", batchID),
		zap.String("model", rc.Model),
		zap.Int("sites", len(rc.SiteNames)),
		zap.Bool("ensemble", rc.Ensemble),
		zap.Bool("skip_run", opts.skipRun),
		zap.String("log_dir", logDir))

	started := time.Now()
	result, err := p.Run(ctx, rc)
	if err != nil {
		return pipelineError(ctx, w, err)
	}

	if err := rec.tables(result); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write results", err)
	}

	if opts.store || opts.storePath != "" {
		path := opts.storePath
		if path == "" {
			path = cfg.Store.Path
		}
		if err := saveBatch(ctx, path, batchID, rc, result, rec.failed); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to save results", err)
		}
	}

	if opts.export != "" {
		if err := exportBatch(ctx, cfg, opts.export, batchID, result); err != nil {
			return err
		}
	}

	if err := rec.summary(rc, result, started); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
	}

	observability.CLILogger.Info("Batch complete",
		zap.String("batch_id", batchID),
		zap.Int("sites_available", len(result)),
		zap.Int("sites_requested", len(rc.SiteNames)),
		zap.Duration("duration", time.Since(started)))
	return nil
}

// pipelineError reports a fatal pipeline error as a record and maps it to
// an exit code.
func pipelineError(ctx context.Context, w output.Writer, err error) error {
	code, recCode := 1, output.ErrCodeInternal
	switch {
	case ctx.Err() != nil:
		observability.CLILogger.Warn("Batch cancelled", zap.Error(err))
		return exitError(foundry.ExitSignalInt, "Batch cancelled", err)
	case dispatch.IsExecutableUnavailable(err):
		code, recCode = foundry.ExitFileNotFound, output.ErrCodeExecutableUnavailable
	case errors.Is(err, runconfig.ErrUnsupportedImplementation),
		errors.Is(err, assemble.ErrNoVariablesRequested):
		code, recCode = foundry.ExitInvalidArgument, output.ErrCodeConfig
	}

	observability.CLILogger.Error("Batch failed", zap.Error(err))
	if werr := w.WriteError(ctx, &output.ErrorRecord{Code: recCode, Message: err.Error()}); werr != nil {
		observability.CLILogger.Debug("Failed to write error record", zap.Error(werr))
	}
	return exitError(code, "Batch failed", err)
}

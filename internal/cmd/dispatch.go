package cmd

import (
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/siterun/internal/observability"
	"github.com/3leaps/siterun/pkg/batch"
	"github.com/3leaps/siterun/pkg/dispatch"
	"github.com/3leaps/siterun/pkg/output"
	"github.com/3leaps/siterun/pkg/runconfig"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the simulation for every site without reading outputs",
	Long: `Invoke the simulation executable once per site (ensemble) or once with
the run name, and report each invocation's outcome.

Non-zero exits are reported as run records and do not fail the command.

Example:
  siterun dispatch --job sites.yaml --workers 4`,
	RunE: runDispatch,
}

var (
	dispatchJob    string
	dispatchOutput string
)

func init() {
	rootCmd.AddCommand(dispatchCmd)

	dispatchCmd.Flags().StringVarP(&dispatchJob, "job", "j", "", "Path to run configuration (required)")
	dispatchCmd.Flags().StringVarP(&dispatchOutput, "output", "o", "", "Write JSONL records to this file instead of stdout")
	_ = dispatchCmd.MarkFlagRequired("job")
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	rc, err := loadRunConfig(dispatchJob)
	if err != nil {
		return err
	}

	batchID := newBatchID()
	logDir := batchLogDir(cfg, batchID)

	out, err := openOutput(dispatchOutput)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	w := output.NewJSONLWriter(out, batchID, rc.Model)
	defer func() { _ = w.Close() }()

	started := time.Now()
	d := newDispatcher(cfg, newRunner(), logDir)
	sum, err := d.Run(ctx, rc)
	if err != nil {
		return dispatchError(cmd, w, err)
	}

	rec := newRecorder(ctx, w)
	rec.dispatched(sum)
	if err := rec.summary(rc, batch.Result{}, started); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
	}

	observability.CLILogger.Info("Dispatch finished",
		zap.String("batch_id", batchID),
		zap.String("executable", sum.Executable),
		zap.Int("runs", len(sum.Runs)),
		zap.Int("failed", len(sum.Failed())),
		zap.String("log_dir", logDir))
	return nil
}

func dispatchError(cmd *cobra.Command, w output.Writer, err error) error {
	ctx := cmd.Context()
	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Dispatch cancelled", err)
	}
	code, recCode := 1, output.ErrCodeInternal
	switch {
	case dispatch.IsExecutableUnavailable(err):
		code, recCode = foundry.ExitFileNotFound, output.ErrCodeExecutableUnavailable
	case errors.Is(err, runconfig.ErrUnsupportedImplementation):
		code, recCode = foundry.ExitInvalidArgument, output.ErrCodeConfig
	}
	if werr := w.WriteError(ctx, &output.ErrorRecord{Code: recCode, Message: err.Error()}); werr != nil {
		observability.CLILogger.Debug("Failed to write error record", zap.Error(werr))
	}
	return exitError(code, "Dispatch failed", err)
}

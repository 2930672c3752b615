package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/siterun/internal/config"
	"github.com/3leaps/siterun/internal/observability"
	"github.com/3leaps/siterun/pkg/batch"
	"github.com/3leaps/siterun/pkg/export"
	"github.com/3leaps/siterun/pkg/provider"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/tablestore"
)

// saveBatch records a batch and its tables in the result store. Sites that
// failed are marked first so their reason survives SaveResult.
func saveBatch(ctx context.Context, path, batchID string, rc *runconfig.RunConfiguration, result batch.Result, failed map[string]string) error {
	db, err := tablestore.Open(ctx, tablestore.Config{Path: path})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := tablestore.Migrate(ctx, db); err != nil {
		return err
	}
	if err := tablestore.CreateBatch(ctx, db, tablestore.BatchRow{
		BatchID:        batchID,
		Model:          rc.Model,
		Setup:          rc.Setup,
		Ensemble:       rc.Ensemble,
		SitesRequested: len(rc.SiteNames),
		SitesAvailable: len(result),
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return err
	}

	for _, site := range rc.SiteNames {
		msg, ok := failed[site]
		if !ok {
			continue
		}
		if _, available := result[site]; available {
			continue
		}
		if err := tablestore.MarkSite(ctx, db, tablestore.SiteRow{
			BatchID: batchID,
			Site:    site,
			Status:  tablestore.SiteFailed,
			Message: msg,
		}); err != nil {
			return err
		}
	}

	if err := tablestore.SaveResult(ctx, db, batchID, rc.SiteNames, result); err != nil {
		return err
	}
	observability.CLILogger.Info("Saved batch to result store",
		zap.String("batch_id", batchID),
		zap.String("path", path))
	return nil
}

// exportBatch writes every table as CSV under {target}/{batchID}/.
func exportBatch(ctx context.Context, cfg *config.Config, rawTarget, batchID string, result batch.Result) error {
	target, err := export.ParseTarget(rawTarget)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --export target", err)
	}

	sink, err := export.OpenSink(ctx, target, export.S3Options{
		Region:         cfg.Export.Region,
		Endpoint:       cfg.Export.Endpoint,
		Profile:        cfg.Export.Profile,
		ForcePathStyle: cfg.Export.ForcePathStyle,
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open export target", err)
	}
	defer func() { _ = sink.Close() }()

	exp, err := export.New(export.Config{
		Sink:   sink,
		Prefix: batchID,
		Logger: observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid export configuration", err)
	}

	objects, err := exp.ExportResult(ctx, result)
	if err != nil {
		return exitError(exportExitCode(err), "Export failed", err)
	}
	observability.CLILogger.Info("Exported tables",
		zap.String("target", target.String()),
		zap.Int("objects", len(objects)))
	return nil
}

// exportExitCode maps an export failure to an exit code.
func exportExitCode(err error) int {
	var serr *provider.SinkError
	switch {
	case provider.IsBadTarget(err):
		return foundry.ExitInvalidArgument
	case provider.IsRetryable(err):
		return foundry.ExitExternalServiceUnavailable
	case errors.As(err, &serr) && serr.Provider == provider.ProviderS3:
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFileWriteError
	}
}

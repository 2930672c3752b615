package cmd

import (
	"fmt"
	"slices"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/siterun/internal/observability"
	"github.com/3leaps/siterun/pkg/consolidate"
	"github.com/3leaps/siterun/pkg/output"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge yearly output files into one file per site",
	Long: `Merge each site's yearly NetCDF files ({site}.{year}.{suffix}) into
{site}.{suffix} and remove the yearly inputs after a successful merge.

Running it again on merged outputs is a no-op.

Example:
  siterun consolidate --job sites.yaml
  siterun consolidate --job sites.yaml --site FR-Pue --site CH-Lae`,
	RunE: runConsolidate,
}

var (
	consolidateJob    string
	consolidateSites  []string
	consolidateOutput string
)

func init() {
	rootCmd.AddCommand(consolidateCmd)

	consolidateCmd.Flags().StringVarP(&consolidateJob, "job", "j", "", "Path to run configuration (required)")
	consolidateCmd.Flags().StringArrayVar(&consolidateSites, "site", nil, "Site to consolidate (repeatable; default: all sites)")
	consolidateCmd.Flags().StringVarP(&consolidateOutput, "output", "o", "", "Write JSONL records to this file instead of stdout")
	_ = consolidateCmd.MarkFlagRequired("job")
}

func runConsolidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	rc, err := loadRunConfig(consolidateJob)
	if err != nil {
		return err
	}

	sites := rc.SiteNames
	if len(consolidateSites) > 0 {
		for _, s := range consolidateSites {
			if !slices.Contains(rc.SiteNames, s) {
				return exitError(foundry.ExitInvalidArgument, "Unknown site", fmt.Errorf("site %q is not in %s", s, consolidateJob))
			}
		}
		sites = consolidateSites
	}

	batchID := newBatchID()
	out, err := openOutput(consolidateOutput)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	w := output.NewJSONLWriter(out, batchID, rc.Model)
	defer func() { _ = w.Close() }()
	rec := newRecorder(ctx, w)

	c := newConsolidator(cfg, newRunner(), batchLogDir(cfg, batchID))

	var merged, partial int
	for _, site := range sites {
		o, err := c.Consolidate(ctx, site, rc.OutputPath)
		if err != nil {
			if ctx.Err() != nil {
				return exitError(foundry.ExitSignalInt, "Consolidation cancelled", err)
			}
			return exitError(foundry.ExitFileReadError, "Failed to list outputs", err)
		}
		switch o.Status {
		case consolidate.StatusAlreadyConsolidated:
			rec.advisory(output.AdvisoryAlreadyConsolidated, "no yearly files to merge", site, "")
		case consolidate.StatusPartial:
			partial++
			for _, g := range o.Failed() {
				rec.advisory(output.AdvisoryMergeFailed, fmt.Sprintf("%s: %v", g.Name, g.Err), site, "")
			}
		default:
			merged++
		}
	}

	observability.CLILogger.Info("Consolidation finished",
		zap.Int("sites", len(sites)),
		zap.Int("merged", merged),
		zap.Int("partial", partial))

	if partial > 0 {
		return exitError(foundry.ExitFileWriteError, "Consolidation incomplete",
			fmt.Errorf("%d of %d sites had failed merges", partial, len(sites)))
	}
	return nil
}

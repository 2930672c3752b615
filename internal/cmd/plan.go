package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/siterun/pkg/dispatch"
	"github.com/3leaps/siterun/pkg/output"
	"github.com/3leaps/siterun/pkg/runconfig"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a run would do without running it",
	Long: `Validate a run configuration and print the invocations and output
variables a run would use.

Example:
  siterun plan --job sites.yaml
  siterun plan --job sites.yaml --json`,
	RunE: runPlan,
}

var (
	planJob  string
	planJSON bool
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&planJob, "job", "j", "", "Path to run configuration (required)")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Emit a JSONL plan record instead of text")
	_ = planCmd.MarkFlagRequired("job")
}

func buildPlan(rc *runconfig.RunConfiguration, workers int) *output.PlanRecord {
	vars := map[string][]string{}
	for _, res := range rc.Resolutions() {
		names := []string{}
		for _, v := range rc.Variables(res) {
			names = append(names, v.Name)
		}
		vars[res.String()] = names
	}
	return &output.PlanRecord{
		Executable:    filepath.Join(rc.SimulationDir, rc.ExecutableName()),
		SimulationDir: rc.SimulationDir,
		OutputPath:    rc.OutputPath,
		Ensemble:      rc.Ensemble,
		Invocations:   dispatch.IDs(rc),
		Variables:     vars,
		Workers:       workers,
		Gridded:       rc.IsGridded(),
	}
}

func runPlan(cmd *cobra.Command, _ []string) error {
	rc, err := loadRunConfig(planJob)
	if err != nil {
		return err
	}
	plan := buildPlan(rc, appConfig.Run.Workers)

	if planJSON {
		w := output.NewJSONLWriter(cmd.OutOrStdout(), newBatchID(), rc.Model)
		defer func() { _ = w.Close() }()
		if err := w.WritePlan(cmd.Context(), plan); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write plan", err)
		}
		return nil
	}
	showPlan(cmd.OutOrStdout(), rc, plan)
	return nil
}

func showPlan(out io.Writer, rc *runconfig.RunConfiguration, plan *output.PlanRecord) {
	fmt.Fprintln(out, "=== Run Plan (dry-run) ===")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Model:       %s\n", rc.Model)
	fmt.Fprintf(out, "Executable:  %s\n", plan.Executable)
	if rc.DoCompile {
		fmt.Fprintln(out, "Compile:     yes (make)")
	}
	fmt.Fprintf(out, "Sim Dir:     %s\n", plan.SimulationDir)
	fmt.Fprintf(out, "Output:      %s\n", plan.OutputPath)
	fmt.Fprintf(out, "Setup:       %s\n", rc.Setup)
	fmt.Fprintln(out)

	if plan.Ensemble {
		fmt.Fprintf(out, "Invocations: %d (one per site)\n", len(plan.Invocations))
	} else {
		fmt.Fprintln(out, "Invocations: 1 (run name)")
	}
	for _, id := range plan.Invocations {
		fmt.Fprintf(out, "  - %s\n", id)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Variables:")
	for _, res := range rc.Resolutions() {
		names := plan.Variables[res.String()]
		if len(names) == 0 {
			fmt.Fprintf(out, "  %-7s (none enabled)\n", res.String()+":")
			continue
		}
		fmt.Fprintf(out, "  %-7s %s\n", res.String()+":", strings.Join(names, ", "))
	}
	if unused := rc.UnusedFlags(); len(unused) > 0 {
		fmt.Fprintf(out, "  Ignored:  %s\n", strings.Join(unused, ", "))
	}
	if plan.Gridded {
		fmt.Fprintln(out, "  Daily output is skipped in gridded mode.")
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Workers:     %d\n", plan.Workers)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run configuration validated successfully. Use 'siterun run' to execute.")
}

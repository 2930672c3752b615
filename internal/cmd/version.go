package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Version must work without a readable config.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "siterun %s\n", versionInfo.Version)
		fmt.Fprintf(out, "  commit:     %s\n", versionInfo.Commit)
		fmt.Fprintf(out, "  built:      %s\n", versionInfo.BuildDate)
		fmt.Fprintf(out, "  go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/artifacts/cli/output"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := []output.Field{
			{Key: "version", Value: Version},
			{Key: "commit", Value: Commit},
			{Key: "built", Value: BuildDate},
			{Key: "go", Value: runtime.Version()},
			{Key: "platform", Value: runtime.GOOS + "/" + runtime.GOARCH},
		}
		if formatter.Structured() {
			return formatter.PrintFields(fields...)
		}

		_, err := fmt.Fprintf(cmd.OutOrStdout(), "artifacts %s (commit %s, built %s, %s %s)\n",
			Version, Commit, BuildDate, runtime.Version(), fields[4].Value)
		return err
	},
}

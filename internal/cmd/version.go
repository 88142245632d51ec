package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionExtended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", appName, versionInfo.Version)
		if !versionExtended {
			return
		}
		fmt.Fprintf(out, "Commit:      %s\n", versionInfo.Commit)
		fmt.Fprintf(out, "Built:       %s\n", versionInfo.BuildDate)
		fmt.Fprintf(out, "Go:          %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		v := crucible.GetVersion()
		if v.Gofulmen != "" {
			fmt.Fprintf(out, "Gofulmen:    %s\n", v.Gofulmen)
		}
		if v.Crucible != "" {
			fmt.Fprintf(out, "Crucible:    %s\n", v.Crucible)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionExtended, "extended", "e", false, "Include build and dependency details")
}

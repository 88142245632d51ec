package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/tomd/internal/config"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List formats the builtin backend converts",
	Long: `List the file extensions converted in-process.

Other formats need --backend http (a conversion service) or are reported as
unsupported-format failures.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildAdapter(&config.Config{Convert: config.ConvertConfig{Backend: config.BackendBuiltin}})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(reg.SupportedFormats(), "\n"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/alluxio-auth/internal/cli/output"
	"github.com/marmos91/alluxio-auth/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and environment overrides.

By default outputs YAML. Use the global --output flag to change format.

Examples:
  alluxio-auth config show
  alluxio-auth config show -o json --config /etc/alluxio-auth/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format := output.FormatYAML
	if cmd.Flags().Changed("output") {
		value, _ := cmd.Flags().GetString("output")
		if format, err = output.ParseFormat(value); err != nil {
			return err
		}
		if format == output.FormatTable {
			format = output.FormatYAML
		}
	}

	return output.NewPrinter(cmd.OutOrStdout(), format, false).Print(cfg)
}

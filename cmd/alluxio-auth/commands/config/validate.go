package config

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
	"github.com/marmos91/alluxio-auth/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the alluxio-auth configuration file.

Checks for syntax errors, missing required fields, invalid values and
auth_to_local rules that do not compile.

Examples:
  # Validate default config
  alluxio-auth config validate

  # Validate specific config file
  alluxio-auth config validate --config /etc/alluxio-auth/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	warnings, err := checkConfig(cfg)
	if err != nil {
		return err
	}

	printValidation(cmd.OutOrStdout(), displayPath, cfg, warnings)
	return nil
}

// checkConfig runs the checks Load does not: rule compilation and mode
// specific settings that only matter at login time.
func checkConfig(cfg *config.Config) ([]string, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	if cfg.Security.AuthToLocal != "" {
		if _, err := principal.CompileRules(cfg.Security.AuthToLocal); err != nil {
			return nil, fmt.Errorf("security.auth_to_local: %w", err)
		}
	}

	var warnings []string
	if mode.IsKerberos() && cfg.Security.Kerberos.KeytabFile == "" {
		warnings = append(warnings, "Kerberos keytab not configured - 'serve' and 'format' will fail")
	}
	if cfg.Format.JournalDir == "" {
		warnings = append(warnings, "format.journal_dir not configured - 'format master' will fail")
	}
	if len(cfg.Format.WorkerTiers) == 0 {
		warnings = append(warnings, "format.worker_tiers empty - 'format worker' does nothing")
	}
	return warnings, nil
}

func printValidation(w io.Writer, path string, cfg *config.Config, warnings []string) {
	_, _ = fmt.Fprintf(w, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(w, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(w, "\nWarnings:")
		for _, warning := range warnings {
			_, _ = fmt.Fprintf(w, "  - %s\n", warning)
		}
	}

	_, _ = fmt.Fprintf(w, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(w, "  Authentication:  %s\n", cfg.Security.AuthenticationType)
	_, _ = fmt.Fprintf(w, "  Service name:    %s\n", cfg.Security.Kerberos.ServiceName)
	_, _ = fmt.Fprintf(w, "  Listen port:     %d\n", cfg.Server.Port)
	_, _ = fmt.Fprintf(w, "  Log level:       %s\n", cfg.Logging.Level)
}

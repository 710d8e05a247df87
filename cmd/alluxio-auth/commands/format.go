package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/alluxio-auth/internal/cli/prompt"
	"github.com/marmos91/alluxio-auth/pkg/format"
)

var formatCmd = &cobra.Command{
	Use:   "format <master|worker>",
	Short: "Recreate the master journal or the worker tier directories",
	Long: `Delete and recreate local state for a master or a worker.

master  empties each service journal under format.journal_dir and writes
        a format marker.
worker  recreates format.worker_data_folder inside every tier directory
        with world-writable permissions.

With Kerberos enabled the process first logs in from
security.kerberos.keytab_file as security.kerberos.principal.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"master", "worker"},
	RunE:      runFormat,
}

var formatForce bool

func init() {
	formatCmd.Flags().BoolVarP(&formatForce, "force", "f", false, "skip confirmation prompt")
}

func runFormat(cmd *cobra.Command, args []string) error {
	target, err := format.ParseTarget(args[0])
	if err != nil {
		return err
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Format %s? All local %s state will be deleted",
		strings.ToLower(string(target)), strings.ToLower(string(target))), formatForce)
	if err != nil {
		return err
	}
	if !ok {
		printer.Warning("Aborted")
		return nil
	}

	if err := format.New(a.cfg, a.session).Format(cmd.Context(), target); err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("Formatted %s", strings.ToLower(string(target))))
	return nil
}

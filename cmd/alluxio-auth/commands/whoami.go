package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/alluxio-auth/pkg/auth/group"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Log in and print the resulting identity",
	Long: `Log in under the configured authentication mode and print the
identity the process runs as, together with its local groups.

Examples:
  # SIMPLE login as the OS user
  alluxio-auth whoami

  # Kerberos login from the ticket cache
  ALLUXIO_SECURITY_AUTHENTICATION_TYPE=KERBEROS alluxio-auth whoami -o json`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

type whoamiResult struct {
	Principal string   `json:"principal" yaml:"principal"`
	ShortName string   `json:"short_name" yaml:"short_name"`
	Mode      string   `json:"mode" yaml:"mode"`
	Groups    []string `json:"groups" yaml:"groups"`
}

func (r whoamiResult) Headers() []string {
	return []string{"PRINCIPAL", "SHORT NAME", "MODE", "GROUPS"}
}

func (r whoamiResult) Rows() [][]string {
	return [][]string{{r.Principal, r.ShortName, r.Mode, strings.Join(r.Groups, ",")}}
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	id, err := a.session.Identity(ctx)
	if err != nil {
		return err
	}

	groups, err := a.groups.Groups(ctx, id.ShortName())
	if err != nil && !errors.Is(err, group.ErrUnknownUser) {
		return err
	}

	return printer.Print(whoamiResult{
		Principal: id.FullName(),
		ShortName: id.ShortName(),
		Mode:      a.mode.String(),
		Groups:    groups,
	})
}

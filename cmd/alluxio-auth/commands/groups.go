package commands

import (
	"github.com/spf13/cobra"
)

var groupsCmd = &cobra.Command{
	Use:   "groups <user>",
	Short: "Print the groups of a local user",
	Long: `Print the groups of a local user. Users listed under security.groups
use the configured list; all others are looked up in the OS user database.`,
	Args: cobra.ExactArgs(1),
	RunE: runGroups,
}

type groupsResult struct {
	User   string   `json:"user" yaml:"user"`
	Groups []string `json:"groups" yaml:"groups"`
}

func (r groupsResult) Headers() []string { return []string{"GROUP"} }

func (r groupsResult) Rows() [][]string {
	rows := make([][]string, 0, len(r.Groups))
	for _, g := range r.Groups {
		rows = append(rows, []string{g})
	}
	return rows
}

func runGroups(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	groups, err := a.groups.Groups(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printer.Print(groupsResult{User: args[0], Groups: groups})
}

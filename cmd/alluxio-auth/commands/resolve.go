package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <principal>...",
	Short: "Map principals to local names",
	Long: `Map each principal to its local short name using the configured
auth_to_local rules and default realm.

Examples:
  alluxio-auth resolve nn/host1@EXAMPLE.COM alice@EXAMPLE.COM`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

type resolution struct {
	Principal string `json:"principal" yaml:"principal"`
	ShortName string `json:"short_name,omitempty" yaml:"short_name,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

type resolutionList []resolution

func (l resolutionList) Headers() []string {
	return []string{"PRINCIPAL", "SHORT NAME", "ERROR"}
}

func (l resolutionList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, []string{r.Principal, r.ShortName, r.Error})
	}
	return rows
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	results, failed := resolveAll(a.mapperResolve, args)
	if err := printer.Print(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d principals could not be resolved", failed, len(args))
	}
	return nil
}

func (a *app) mapperResolve(name string) (string, error) {
	id, err := a.mapper.Resolve(name)
	if err != nil {
		return "", err
	}
	return id.ShortName(), nil
}

// resolveAll resolves every name and reports how many failed.
func resolveAll(resolve func(string) (string, error), names []string) (resolutionList, int) {
	results := make(resolutionList, 0, len(names))
	failed := 0
	for _, name := range names {
		short, err := resolve(name)
		if err != nil {
			failed++
			results = append(results, resolution{Principal: name, Error: err.Error()})
			continue
		}
		results = append(results, resolution{Principal: name, ShortName: short})
	}
	return results, failed
}

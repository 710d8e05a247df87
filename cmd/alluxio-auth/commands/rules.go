package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
	"github.com/marmos91/alluxio-auth/pkg/auth/realm"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect auth_to_local rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [rules|-]",
	Short: "Compile rule text and optionally try it on principals",
	Long: `Compile auth_to_local rule text and print the parsed rules. The text
is taken from the argument, from stdin when the argument is "-", or from
the configuration when no argument is given.

Examples:
  alluxio-auth rules check 'RULE:[2:$1@$0](.*@EXAMPLE\.COM)s/@.*// DEFAULT'
  cat rules.txt | alluxio-auth rules check - --try nn/host1@EXAMPLE.COM`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesCheck,
}

var (
	rulesTry   []string
	rulesRealm string
)

func init() {
	rulesCheckCmd.Flags().StringSliceVar(&rulesTry, "try", nil, "principals to map with the rules")
	rulesCheckCmd.Flags().StringVar(&rulesRealm, "realm", "", "default realm for DEFAULT rules (default: from config)")
	rulesCmd.AddCommand(rulesCheckCmd)
}

type ruleList []principal.Rule

func (l ruleList) Headers() []string { return []string{"#", "RULE"} }

func (l ruleList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for i, r := range l {
		rows = append(rows, []string{strconv.Itoa(i + 1), r.String()})
	}
	return rows
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	text, err := ruleText(a, args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	rules, err := principal.CompileRules(text)
	if err != nil {
		return err
	}

	if len(rulesTry) == 0 {
		if err := printer.Print(ruleList(rules)); err != nil {
			return err
		}
		printer.Success(fmt.Sprintf("%d rules compiled", len(rules)))
		return nil
	}

	defaultRealm := rulesRealm
	if defaultRealm == "" {
		defaultRealm = a.mapper.DefaultRealm()
	}
	mapper := principal.NewMapper(realm.Static(defaultRealm))
	if err := mapper.SetRules(&text); err != nil {
		return err
	}

	results, failed := resolveAll(func(name string) (string, error) {
		id, err := mapper.Resolve(name)
		if err != nil {
			return "", err
		}
		return id.ShortName(), nil
	}, rulesTry)
	if err := printer.Print(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d principals could not be resolved", failed, len(rulesTry))
	}
	return nil
}

func ruleText(a *app, args []string, stdin io.Reader) (string, error) {
	switch {
	case len(args) == 0:
		text, ok := a.mapper.RuleText()
		if !ok {
			return "", fmt.Errorf("no auth_to_local rules configured")
		}
		return text, nil
	case args[0] == "-":
		if stdin == nil {
			stdin = os.Stdin
		}
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read rules from stdin: %w", err)
		}
		return string(b), nil
	default:
		return args[0], nil
	}
}

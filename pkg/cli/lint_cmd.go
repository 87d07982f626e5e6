package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"apitables/pkg/apilint"
)

const defaultLintConfig = ".apilint.yaml"

func newLintCmd(_ *options) *cobra.Command {
	var (
		rulesConfig string
		minSeverity string
		listRules   bool
	)
	cmd := &cobra.Command{
		Use:   "lint <document>...",
		Short: "Check documents for constructs that compile into weak tables",
		Long: `Lint OpenAPI documents for constructs that compile poorly: composed
schemas, free-form objects, arrays without items, invalid x-pagination
settings and unresolved references.

Rule severities are read from .apilint.yaml in the working directory unless
--rules-config is given. A finding is suppressed by an
"# apilint:ignore ATLnnn" comment on its line. The command fails when any
error-severity finding remains.`,
		Example: `  apitables lint petstore.yaml
  apitables lint api/*.yaml --min-severity warning -o json
  apitables lint --list-rules`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listRules {
				return printRules(cmd)
			}
			if len(args) == 0 {
				return errors.New("requires at least 1 document")
			}
			minSev, err := apilint.ParseSeverity(minSeverity)
			if err != nil {
				return err
			}
			cfg, err := loadLintConfig(rulesConfig, cmd.Flags().Changed("rules-config"))
			if err != nil {
				return err
			}

			var all []apilint.Violation
			for _, path := range args {
				l, err := apilint.New(path)
				if err != nil {
					return err
				}
				all = append(all, apilint.Filter(l.RunWithConfig(cfg), minSev)...)
			}

			w := cmd.OutOrStdout()
			if isJSON(cmd) {
				if all == nil {
					all = []apilint.Violation{}
				}
				if err := printJSON(w, all); err != nil {
					return err
				}
			} else {
				for _, v := range all {
					_, _ = fmt.Fprintln(w, v.String())
				}
			}
			if apilint.HasErrors(all) {
				return fmt.Errorf("lint failed: %d finding(s)", len(all))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesConfig, "rules-config", defaultLintConfig, "Rule severity overrides")
	cmd.Flags().StringVar(&minSeverity, "min-severity", string(apilint.SeverityInfo), "Lowest severity to report: info|warning|error")
	cmd.Flags().BoolVar(&listRules, "list-rules", false, "List the available rules and exit")
	return cmd
}

// loadLintConfig loads rule overrides. A missing default file is not an error.
func loadLintConfig(path string, explicit bool) (*apilint.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil, nil
	}
	return apilint.LoadConfig(path)
}

func printRules(cmd *cobra.Command) error {
	rules := apilint.RegisteredRules()
	if isJSON(cmd) {
		type ruleJSON struct {
			ID          string `json:"id"`
			Severity    string `json:"severity"`
			Description string `json:"description"`
		}
		out := make([]ruleJSON, len(rules))
		for i, r := range rules {
			out[i] = ruleJSON{ID: r.ID(), Severity: string(r.DefaultSeverity()), Description: r.Description()}
		}
		return printJSON(cmd.OutOrStdout(), out)
	}
	rows := make([][]string, len(rules))
	for i, r := range rules {
		rows[i] = []string{r.ID(), string(r.DefaultSeverity()), r.Description()}
	}
	printTable(cmd.OutOrStdout(), []string{"rule", "severity", "description"}, rows)
	return nil
}

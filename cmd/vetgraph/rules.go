package vetgraph

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soundprediction/go-vetgraph/pkg/policy"
)

var ruleScope string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Evaluate policy rules against the graph",
}

var rulesRunCmd = &cobra.Command{
	Use:   "run [PATH]",
	Short: "Evaluate the rule sets of a YAML file or directory",
	Long: `Run loads rule sets from PATH (default the configured rules dir) and
evaluates every enabled set in its source scope: "global" for the Neo4j
store, otherwise a document id or name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Rules.Dir
		if len(args) == 1 {
			path = args[0]
		}
		sets, err := policy.LoadRuleSets(path)
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		results, runErr := a.client.RuleRunner(tenantID, kbID).Run(ctx, sets)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SET\tSOURCE\tPASSED\tFAILED\tPASS RATE")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f%%\n", r.Name, r.Source, r.Passed, r.Failed, 100*r.PassRate())
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return runErr
	},
}

var rulesEvalCmd = &cobra.Command{
	Use:   "eval RULE...",
	Short: "Evaluate rules given on the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		results, evalErr := a.client.EvaluateRules(ctx, tenantID, kbID, args, ruleScope)
		rules := make([]string, 0, len(results))
		for r := range results {
			rules = append(rules, r)
		}
		sort.Strings(rules)
		for _, r := range rules {
			mark := "FAIL"
			if results[r] {
				mark = "PASS"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", mark, r)
		}
		return evalErr
	},
}

func init() {
	addKBFlags(rulesRunCmd)
	addKBFlags(rulesEvalCmd)
	rulesEvalCmd.Flags().StringVar(&ruleScope, "scope", policy.ScopeGlobal, `"global" or a document id or name`)
	rulesCmd.AddCommand(rulesRunCmd, rulesEvalCmd)
	rootCmd.AddCommand(rulesCmd)
}

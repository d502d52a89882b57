package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-suggest/internal/cli"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/pattern"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage categorization rules",
		Long: `Rules map a description substring to a category. A matching rule always
wins over history and models; among several matches the highest priority
wins, then the oldest rule.`,
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rules, err := store.GetActiveRules(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRules(rules))
			return nil
		},
	}
}

func rulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <pattern> <category>",
		Short: "Add a rule",
		Example: `  spice rules add "STARBUCKS" "Coffee Shops"
  spice rules add --priority 10 "AMAZON PRIME" "Subscriptions"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, _ := cmd.Flags().GetInt("priority")
			force, _ := cmd.Flags().GetBool("force")
			rule := model.Rule{
				Pattern:  args[0],
				Category: strings.TrimSpace(args[1]),
				Priority: priority,
				IsActive: true,
			}
			if err := pattern.ValidateRule(rule); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			existing, err := store.GetActiveRules(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if shadowed := pattern.Overlaps(rule, existing); len(shadowed) > 0 {
				for _, s := range shadowed {
					fmt.Fprintln(out, cli.FormatWarning("already matched by "+s))
				}
				if !force {
					return fmt.Errorf("rule %q would never match first; raise --priority or pass --force", rule.Pattern)
				}
			}

			if err := store.CreateRule(cmd.Context(), &rule); err != nil {
				return err
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("rule %d: %q -> %s", rule.ID, rule.Pattern, rule.Category)))
			return nil
		},
	}

	cmd.Flags().Int("priority", 0, "higher priority rules are evaluated first")
	cmd.Flags().Bool("force", false, "add the rule even if an existing rule already covers it")
	return cmd
}

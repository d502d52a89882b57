package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-suggest/internal/cli"
	"github.com/Veraticus/spice-suggest/internal/engine"
	"github.com/Veraticus/spice-suggest/internal/model"
)

func suggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest [txn_id...]",
		Short: "Suggest categories for transactions",
		Long: `Suggest categories for the given transactions, or with --all for every
uncategorized transaction. Each suggestion is recorded as an event that
feedback can refer to.

Examples:
  spice suggest 1234567890:2024011501
  spice suggest --mode model --flag-low 1234567890:2024011501
  spice suggest --all --tenant household`,
		RunE: runSuggest,
	}

	cmd.Flags().String("mode", "auto", "suggestion mode (auto, heuristic, model)")
	cmd.Flags().String("tenant", "", "tenant ID (defaults to the transaction's tenant)")
	cmd.Flags().Int("top-k", 0, "maximum candidates per suggestion (0 uses router.top_k)")
	cmd.Flags().Bool("flag-low", false, "keep low-confidence candidates, flagged, instead of dropping them")
	cmd.Flags().String("sticky-key", "", "pin the canary bucket to this key")
	cmd.Flags().Bool("all", false, "suggest for every uncategorized transaction")
	cmd.Flags().Int("limit", 0, "with --all, stop after this many transactions (0 for no limit)")
	return cmd
}

func runSuggest(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) > 0) {
		return fmt.Errorf("pass transaction IDs or --all, not both")
	}

	modeFlag, _ := cmd.Flags().GetString("mode")
	mode, ok := model.ParseMode(modeFlag)
	if !ok {
		return fmt.Errorf("unknown mode %q", modeFlag)
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	topK, _ := cmd.Flags().GetInt("top-k")
	stickyKey, _ := cmd.Flags().GetString("sticky-key")
	policy := engine.LowConfidencePolicy("")
	if flagLow, _ := cmd.Flags().GetBool("flag-low"); flagLow {
		policy = engine.LowConfidenceFlag
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !all {
		for _, id := range args {
			resp, err := a.router.Suggest(ctx, engine.Request{
				TxnID:         id,
				TenantID:      tenant,
				Mode:          mode,
				LowConfidence: policy,
				StickyKey:     stickyKey,
				TopK:          topK,
			})
			if err != nil {
				fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", id, err)))
				continue
			}
			fmt.Fprintln(out, cli.RenderSuggestion(resp))
		}
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	start := time.Now()
	results, err := a.router.SuggestUncategorized(ctx, tenant, mode, limit, func(total int) func() {
		return cli.Ticker(cli.NewProgressBar(os.Stderr, total, "Suggesting categories..."))
	})
	if err != nil {
		return err
	}

	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintln(out, cli.FormatError(res.Err.Error()))
		}
	}
	fmt.Fprintln(out, cli.RenderBatchSummary(engine.Summarize(results, time.Since(start))))
	return nil
}

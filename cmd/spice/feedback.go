package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-suggest/internal/cli"
	"github.com/Veraticus/spice-suggest/internal/feedback"
	"github.com/Veraticus/spice-suggest/internal/model"
)

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback <event_id> <accept|reject|undo> [label]",
		Short: "Record feedback on a suggestion",
		Long: `Accept, reject or undo a recorded suggestion. Accept needs the chosen label.
Reject without a label rejects the top candidate; undo without a label
reverts the most recent accept.

Examples:
  spice feedback 3f2c... accept "Coffee Shops"
  spice feedback 3f2c... reject
  spice feedback 3f2c... undo`,
		Args: cobra.RangeArgs(2, 3),
		RunE: runFeedback,
	}

	cmd.Flags().String("reason", "", "free-form reason stored with the feedback")
	cmd.Flags().Float64("confidence", -1, "how sure you are, within [0,1]")
	return cmd
}

func runFeedback(cmd *cobra.Command, args []string) error {
	req := feedback.Request{
		EventID: args[0],
		Action:  model.FeedbackAction(strings.ToLower(args[1])),
	}
	if len(args) == 3 {
		req.Label = args[2]
	}
	req.Reason, _ = cmd.Flags().GetString("reason")
	if cmd.Flags().Changed("confidence") {
		c, _ := cmd.Flags().GetFloat64("confidence")
		req.UserConfidence = &c
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.ledger.Record(cmd.Context(), req)
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("%s %q for %s", req.Action, res.Feedback.Label, res.Merchant)
	if req.Action == model.ActionUndo && res.Reverted == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(msg+" (nothing left to revert)"))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(msg))
	return nil
}

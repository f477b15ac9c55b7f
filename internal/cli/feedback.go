package cli

import (
	"context"
	"strings"

	"github.com/cicd-fixer/internal/app"
	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/service"
	"github.com/spf13/cobra"
)

// newFeedbackCmd creates the 'feedback' command.
func newFeedbackCmd(flags *globalFlags) *cobra.Command {
	var (
		outcome       string
		comment       string
		effectiveness float64
		createPR      bool
	)

	cmd := &cobra.Command{
		Use:   "feedback <fix-id>",
		Short: "Approve or reject a fix suggestion",
		Example: `  cicdfixer feedback 7d3c... --outcome approve --create-pr
  cicdfixer feedback 7d3c... --outcome reject --comment "wrong package"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixID := args[0]
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) (any, error) {
				if createPR && strings.EqualFold(outcome, string(domain.FeedbackApprove)) {
					return a.Pipeline.Approve(ctx, fixID, comment, true)
				}
				req := service.FeedbackRequest{
					FixID:   fixID,
					Outcome: domain.FeedbackOutcome(outcome),
					Comment: comment,
				}
				if cmd.Flags().Changed("effectiveness") {
					req.Effectiveness = &effectiveness
				}
				return a.Pipeline.Feedback(ctx, req)
			})
		},
	}

	cmd.Flags().StringVarP(&outcome, "outcome", "o", "", "Decision: approve or reject (required)")
	cmd.Flags().StringVarP(&comment, "comment", "c", "", "Reviewer comment")
	cmd.Flags().Float64Var(&effectiveness, "effectiveness", 0, "Observed effectiveness between 0 and 1")
	cmd.Flags().BoolVar(&createPR, "create-pr", false, "Open a pull request for an approved fix")
	_ = cmd.MarkFlagRequired("outcome")

	return cmd
}

// newFixesCmd creates the 'fixes' command.
func newFixesCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "fixes [fix-id]",
		Short: "List pending fixes or show one fix in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) (any, error) {
				if len(args) == 1 {
					return a.Pipeline.Fix(ctx, args[0])
				}
				return a.Pipeline.PendingFixes(ctx, limit)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", service.DefaultListLimit, "Maximum number of fixes to list")

	return cmd
}

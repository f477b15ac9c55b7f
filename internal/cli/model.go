package cli

import (
	"context"

	"github.com/cicd-fixer/internal/app"
	"github.com/spf13/cobra"
)

// newPatternsCmd creates the 'patterns' command.
func newPatternsCmd(flags *globalFlags) *cobra.Command {
	var (
		days    int
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Show failure patterns over a rolling window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) (any, error) {
				if summary {
					return a.Pipeline.Summary(ctx), nil
				}
				return a.Pipeline.Patterns(ctx, days), nil
			})
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 30, "Days of history to analyze")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print the 7-day summary instead")

	return cmd
}

// newModelCmd creates the 'model' command.
func newModelCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Show the success predictor state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) (any, error) {
				return a.Pipeline.Model(), nil
			})
		},
	}
}

// newRetrainCmd creates the 'retrain' command.
func newRetrainCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Retrain the success predictor from recorded feedback",
		Long: `Retrain rebuilds the predictor from approve/reject history and persists the
artifact. Without --force it does nothing when no feedback arrived since the
last training.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) (any, error) {
				return a.Pipeline.Retrain(ctx, force)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Retrain even without new feedback")

	return cmd
}

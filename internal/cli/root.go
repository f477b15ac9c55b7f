// Package cli implements the operator command line for the fix pipeline.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cicd-fixer/internal/app"
	"github.com/cicd-fixer/internal/config"
	"github.com/cicd-fixer/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	verbose bool
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "cicdfixer",
		Short: "Analyze CI failures and manage fix suggestions",
		Long: `cicdfixer classifies failed CI runs, proposes fixes and learns from
approve/reject decisions. It shares the store and model artifact with the
HTTP server, so both can be pointed at the same data directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log pipeline activity to stderr")

	rootCmd.AddCommand(newAnalyzeCmd(flags))
	rootCmd.AddCommand(newFeedbackCmd(flags))
	rootCmd.AddCommand(newFixesCmd(flags))
	rootCmd.AddCommand(newPatternsCmd(flags))
	rootCmd.AddCommand(newModelCmd(flags))
	rootCmd.AddCommand(newRetrainCmd(flags))

	return rootCmd
}

// withApp builds the application for one command and prints what fn
// returns as indented JSON on the command's stdout.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *app.App) (any, error)) error {
	log, err := logger.NewCLI(flags.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

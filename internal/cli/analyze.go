package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cicd-fixer/internal/app"
	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/service"
	"github.com/spf13/cobra"
)

// newAnalyzeCmd creates the 'analyze' command.
func newAnalyzeCmd(flags *globalFlags) *cobra.Command {
	var (
		req     service.AnalyzeRequest
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a failed run and store a fix suggestion",
		Long: `Analyze reads the failure log from --file, from stdin, or (with --run-id and
GITHUB_TOKEN set) from the workflow run itself.`,
		Example: `  cicdfixer analyze --owner acme --repo web --file build.log
  cat build.log | cicdfixer analyze --owner acme --repo web --language javascript
  cicdfixer analyze --owner acme --repo web --run-id 123456789`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.RunID == 0 {
				logs, err := readLogs(cmd.InOrStdin(), logFile)
				if err != nil {
					return err
				}
				req.Logs = logs
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) (any, error) {
				return a.Pipeline.Analyze(ctx, req)
			})
		},
	}

	cmd.Flags().StringVar(&req.Owner, "owner", "", "Repository owner (required)")
	cmd.Flags().StringVar(&req.Repo, "repo", "", "Repository name (required)")
	cmd.Flags().Int64Var(&req.RunID, "run-id", 0, "Workflow run to fetch logs from")
	cmd.Flags().StringVarP(&logFile, "file", "f", "-", "Log file to analyze, - for stdin")
	cmd.Flags().StringVar(&req.Context.Language, "language", "", "Repository language (detected when empty)")
	cmd.Flags().StringVar(&req.Context.Framework, "framework", "", "Repository framework (detected when empty)")
	cmd.Flags().StringVar(&req.Context.BuildSystem, "build-system", "", "Build system (detected when empty)")
	cmd.Flags().BoolVar(&req.SkipML, "skip-ml", false, "Skip the success predictor")
	cmd.Flags().BoolVar(&req.SkipPatterns, "skip-patterns", false, "Skip pattern-based confidence adjustment")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}

func readLogs(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	if len(data) == 0 {
		return "", domain.NewValidationError("analyze", errors.Join(domain.ErrNoLogs, errors.New("pass --file or pipe the log on stdin")))
	}
	return string(data), nil
}

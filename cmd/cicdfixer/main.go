/*
Package main is the entry point for the cicdfixer operator CLI.

Usage:

	cicdfixer [command]

Available Commands:

	analyze     Analyze a failed run and store a fix suggestion
	feedback    Approve or reject a fix suggestion
	fixes       List pending fixes or show one fix in detail
	patterns    Show failure patterns over a rolling window
	model       Show the success predictor state
	retrain     Retrain the success predictor from recorded feedback

Configuration is read from the environment (and .env) exactly as the
server reads it.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cicd-fixer/internal/cli"
	"github.com/joho/godotenv"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCmd(fmt.Sprintf("%s (commit: %s)", version, commit))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

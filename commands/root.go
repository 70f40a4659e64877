// Package commands defines the lifeplan CLI: the HTTP server, the reminder
// worker, one-shot scan and dispatch runs, and workflow template checking.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const (
	// Version is the binary version reported by the version subcommand.
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "lifeplan"
)

// Root builds the lifeplan root command.
func Root() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Life-event workflow plans and reminders",
		Long: `Lifeplan turns declarative life-event workflow templates plus
user-supplied facts into durable, re-computable plans of dated,
dependency-ordered tasks, and drives email reminders for those tasks
through a transactional outbox.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newScanCommand(),
		newDispatchCommand(),
		newCheckCommand(),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

func configureLogging(logLevel string) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

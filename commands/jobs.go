package commands

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one due-soon reminder scan and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context())
		},
	}
}

func runScan(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.scanner.ScanDueSoon(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	return printSummary(summary)
}

func newDispatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one outbox dispatch batch and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd.Context())
		},
	}
}

func runDispatch(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.dispatcher.Dispatch(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	return printSummary(summary)
}

func printSummary(summary any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}

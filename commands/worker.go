package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lebenslotse/lifeplan/notify"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the periodic reminder scanner and outbox dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	worker := notify.NewWorker(a.scanner, a.dispatcher, a.cfg.Worker, a.logger)
	worker.Start(ctx)

	<-ctx.Done()
	a.logger.Info("Received shutdown signal")
	worker.Stop()
	return nil
}

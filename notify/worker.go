package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lebenslotse/lifeplan/config"
)

// Worker runs the scanner and dispatcher on independent tickers. Both loops
// fire once immediately on start so a freshly deployed worker drains
// whatever is already due.
type Worker struct {
	scanner    *Scanner
	dispatcher *Dispatcher
	cfg        config.WorkerConfig
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a background reminder worker.
func NewWorker(scanner *Scanner, dispatcher *Dispatcher, cfg config.WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		scanner:    scanner,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the scan and dispatch loops. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.loop(ctx, "scan", w.cfg.ScanInterval, func(ctx context.Context, now time.Time) error {
		_, err := w.scanner.ScanDueSoon(ctx, now)
		return err
	})
	go w.loop(ctx, "dispatch", w.cfg.DispatchInterval, func(ctx context.Context, now time.Time) error {
		_, err := w.dispatcher.Dispatch(ctx, now)
		return err
	})

	w.logger.Info("Reminder worker started",
		"scan_interval", w.cfg.ScanInterval,
		"dispatch_interval", w.cfg.DispatchInterval)
}

// Stop cancels the loops and waits for in-flight runs to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Reminder worker stopped")
}

func (w *Worker) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context, time.Time) error) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := run(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
			w.logger.Error("Worker run failed", "loop", name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

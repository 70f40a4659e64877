package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lebenslotse/lifeplan/metrics"
	"github.com/lebenslotse/lifeplan/storage"
	"github.com/lebenslotse/lifeplan/timewindow"
)

// DispatchSummary reports one dispatch run.
type DispatchSummary struct {
	Picked            int `json:"picked"`
	Sent              int `json:"sent"`
	Retried           int `json:"retried"`
	Dead              int `json:"dead"`
	RecoveredStuck    int `json:"recovered_stuck"`
	SkippedQuietHours int `json:"skipped_quiet_hours"`
}

// Dispatcher drains pending outbox items through the email provider.
type Dispatcher struct {
	outbox    OutboxStore
	provider  Provider
	batchSize int
	logger    *slog.Logger
}

// NewDispatcher creates an outbox dispatcher claiming at most batchSize
// items per run.
func NewDispatcher(outbox OutboxStore, provider Provider, batchSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		outbox:    outbox,
		provider:  provider,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Dispatch recovers stale sending items, claims one batch of due pending
// items and pushes each through the provider. Items claimed outside the
// send window go back to pending without burning an attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time) (DispatchSummary, error) {
	var summary DispatchSummary

	recovered, err := d.outbox.RecoverStuckSending(ctx, now)
	if err != nil {
		return summary, fmt.Errorf("recover stuck sending: %w", err)
	}
	summary.RecoveredStuck = recovered
	if recovered > 0 {
		d.logger.Warn("Recovered stale sending items", "count", recovered)
	}

	items, err := d.outbox.LockPendingBatch(ctx, now, d.batchSize)
	if err != nil {
		return summary, fmt.Errorf("lock pending batch: %w", err)
	}
	summary.Picked = len(items)

	for i := range items {
		d.dispatchItem(ctx, &items[i], now, &summary)
	}

	if summary.Picked > 0 {
		d.logger.Info("Dispatch run finished",
			"picked", summary.Picked,
			"sent", summary.Sent,
			"retried", summary.Retried,
			"dead", summary.Dead,
			"skipped_quiet_hours", summary.SkippedQuietHours)
	}
	return summary, nil
}

func (d *Dispatcher) dispatchItem(ctx context.Context, item *storage.OutboxItem, now time.Time, summary *DispatchSummary) {
	if !timewindow.InSendWindow(now) {
		if err := d.outbox.RescheduleQuietHours(ctx, item.ID, now); err != nil {
			d.logger.Error("Could not reschedule item for quiet hours",
				"outbox_id", item.ID, "error", err)
			return
		}
		summary.SkippedQuietHours++
		metrics.DispatchOutcomes.WithLabelValues("quiet_hours").Inc()
		return
	}

	result := d.send(ctx, item)

	switch result.Status {
	case storage.OutboxStatusSent:
		if err := d.outbox.MarkSent(ctx, item.ID, result.ProviderMessageID, now); err != nil {
			d.logger.Error("Could not mark outbox item sent",
				"outbox_id", item.ID, "error", err)
			return
		}
		summary.Sent++
		metrics.DispatchOutcomes.WithLabelValues("sent").Inc()
	default:
		if err := d.outbox.MarkFailedOrRetry(ctx, item.ID, result.FailureClass, result.ErrorCode, result.ErrorMessage, now); err != nil {
			d.logger.Error("Could not record outbox failure",
				"outbox_id", item.ID, "error", err)
			return
		}
		// Retryable failures count as retried even on the final attempt;
		// the store still moves the exhausted row to dead.
		if result.FailureClass == storage.FailurePermanent {
			summary.Dead++
			metrics.DispatchOutcomes.WithLabelValues("dead").Inc()
		} else {
			summary.Retried++
			metrics.DispatchOutcomes.WithLabelValues("retried").Inc()
		}
		d.logger.Warn("Reminder delivery failed",
			"outbox_id", item.ID,
			"attempt", item.AttemptCount+1,
			"failure_class", result.FailureClass,
			"error_code", result.ErrorCode)
	}
}

// send decodes the stored payload, renders the email and calls the provider.
// Undecodable payloads are permanent failures.
func (d *Dispatcher) send(ctx context.Context, item *storage.OutboxItem) SendResult {
	payload, err := payloadFromJSONMap(item.Payload)
	if err != nil {
		return SendResult{
			Status:       storage.OutboxStatusDead,
			FailureClass: storage.FailurePermanent,
			ErrorCode:    "PAYLOAD_INVALID",
			ErrorMessage: err.Error(),
		}
	}
	rendered := RenderTaskDueSoon(payload)
	return d.provider.Send(ctx, payload.ToEmail, rendered)
}

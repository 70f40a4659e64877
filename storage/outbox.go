package storage

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lebenslotse/lifeplan/timewindow"
)

// MaxSendAttempts is the attempt ceiling before a row goes dead with
// retry_exhausted.
const MaxSendAttempts = 5

// stuckSendingThreshold is how long a row may sit in sending before it is
// assumed to belong to a crashed dispatcher.
const stuckSendingThreshold = 15 * time.Minute

// retryBackoff is the retry schedule in minutes, indexed by attempt.
var retryBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	180 * time.Minute,
}

// OutboxStore persists and transitions notification outbox rows.
type OutboxStore struct {
	db *sqlx.DB

	// jitter returns a multiplier in [0.9, 1.1] applied to retry delays.
	// Overridable in tests.
	jitter func() float64
}

// NewOutboxStore creates an outbox store on db.
func NewOutboxStore(db *sqlx.DB) *OutboxStore {
	return &OutboxStore{
		db:     db,
		jitter: func() float64 { return 0.9 + rand.Float64()*0.2 },
	}
}

// EnqueueDueSoon inserts a pending outbox row. A dedupe-key collision means
// an equivalent reminder already exists; the row is dropped and created is
// false.
func (s *OutboxStore) EnqueueDueSoon(ctx context.Context, profileID uuid.UUID, dedupeKeyRaw string, payload JSONMap, now time.Time) (*OutboxItem, bool, error) {
	item := &OutboxItem{
		ID:            uuid.New(),
		ProfileID:     profileID,
		Channel:       "email",
		Type:          "task_due_soon",
		DedupeKeyRaw:  dedupeKeyRaw,
		Payload:       payload,
		Status:        OutboxStatusPending,
		NextAttemptAt: now,
		AttemptCount:  0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO notification_outbox
    (id, profile_id, channel, type, dedupe_key_raw, payload, status,
     failure_class, next_attempt_at, attempt_count, created_at, updated_at)
VALUES (:id, :profile_id, :channel, :type, :dedupe_key_raw, :payload, :status,
        NULL, :next_attempt_at, :attempt_count, :created_at, :updated_at)`,
		item)
	if isUniqueViolation(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("enqueue outbox row: %w", err)
	}
	return item, true, nil
}

// CountCreatedToday counts the profile's outbox rows created within the
// Europe/Berlin local day containing now.
func (s *OutboxStore) CountCreatedToday(ctx context.Context, profileID uuid.UUID, now time.Time) (int, error) {
	start, end := timewindow.LocalDayBoundsUTC(now)
	var count int
	err := s.db.GetContext(ctx, &count, `
SELECT COUNT(*) FROM notification_outbox
WHERE profile_id = $1 AND created_at >= $2 AND created_at < $3`,
		profileID, start, end)
	if err != nil {
		return 0, fmt.Errorf("count outbox rows: %w", err)
	}
	return count, nil
}

// LockPendingBatch claims up to limit due pending rows and flips them to
// sending before returning. SKIP LOCKED lets concurrent dispatchers fan out
// over distinct rows without waiting on each other; rows leave pending
// before the claiming transaction commits.
func (s *OutboxStore) LockPendingBatch(ctx context.Context, now time.Time, limit int) ([]OutboxItem, error) {
	var items []OutboxItem
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &items, `
SELECT * FROM notification_outbox
WHERE status = $1 AND next_attempt_at <= $2
ORDER BY next_attempt_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED`,
			OutboxStatusPending, now, limit); err != nil {
			return fmt.Errorf("select pending batch: %w", err)
		}
		for i := range items {
			if _, err := tx.ExecContext(ctx, `
UPDATE notification_outbox SET status = $2, updated_at = $3 WHERE id = $1`,
				items[i].ID, OutboxStatusSending, now); err != nil {
				return fmt.Errorf("claim outbox row: %w", err)
			}
			items[i].Status = OutboxStatusSending
			items[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkSent finalizes a delivered row.
func (s *OutboxStore) MarkSent(ctx context.Context, outboxID uuid.UUID, providerMessageID string, now time.Time) error {
	var msgID *string
	if providerMessageID != "" {
		msgID = &providerMessageID
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE notification_outbox
SET status = $2, failure_class = NULL, provider_message_id = $3,
    sent_at = $4, updated_at = $4
WHERE id = $1`,
		outboxID, OutboxStatusSent, msgID, now)
	if err != nil {
		return fmt.Errorf("mark outbox row sent: %w", err)
	}
	return nil
}

// MarkFailedOrRetry records a failed attempt. Permanent failures and
// exhausted retries go dead; everything else is rescheduled with jittered
// backoff, snapped into the send window.
func (s *OutboxStore) MarkFailedOrRetry(ctx context.Context, outboxID uuid.UUID, failureClass, errorCode, errorMessage string, now time.Time) error {
	item, err := s.getItem(ctx, outboxID)
	if err != nil {
		return err
	}

	attemptCount := item.AttemptCount + 1
	status := OutboxStatusPending
	nextAttemptAt := now

	switch {
	case failureClass == FailurePermanent:
		status = OutboxStatusDead
	case attemptCount >= MaxSendAttempts:
		status = OutboxStatusDead
		failureClass = FailurePermanent
		errorCode = "retry_exhausted"
	default:
		nextAttemptAt = nextRetryAt(now, attemptCount, s.jitter())
	}

	if len(errorMessage) > 500 {
		errorMessage = errorMessage[:500]
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE notification_outbox
SET status = $2, failure_class = $3, attempt_count = $4,
    last_error_code = $5, last_error_message = $6,
    next_attempt_at = $7, updated_at = $8
WHERE id = $1`,
		outboxID, status, failureClass, attemptCount,
		nullable(errorCode), nullable(errorMessage), nextAttemptAt, now)
	if err != nil {
		return fmt.Errorf("mark outbox row failed: %w", err)
	}
	return nil
}

// RescheduleQuietHours pushes a row picked up outside the send window to the
// next window start. The attempt counter does not move; quiet hours are not
// a failure.
func (s *OutboxStore) RescheduleQuietHours(ctx context.Context, outboxID uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE notification_outbox
SET status = $2, last_error_code = $3, next_attempt_at = $4, updated_at = $5
WHERE id = $1`,
		outboxID, OutboxStatusPending, "QUIET_HOURS",
		timewindow.NextSendWindowStart(now), now)
	if err != nil {
		return fmt.Errorf("reschedule outbox row: %w", err)
	}
	return nil
}

// RecoverStuckSending resets rows stuck in sending for 15 minutes or more.
// They belong to crashed dispatchers and go back to pending at the next
// send-window start.
func (s *OutboxStore) RecoverStuckSending(ctx context.Context, now time.Time) (int, error) {
	threshold := now.Add(-stuckSendingThreshold)
	res, err := s.db.ExecContext(ctx, `
UPDATE notification_outbox
SET status = $1, failure_class = $2, last_error_code = $3,
    last_error_message = $4, next_attempt_at = $5, updated_at = $6
WHERE status = $7 AND updated_at < $8`,
		OutboxStatusPending, FailureRetryable, "stuck_sending_recovered",
		"Recovered stale sending item", timewindow.NextSendWindowStart(now), now,
		OutboxStatusSending, threshold)
	if err != nil {
		return 0, fmt.Errorf("recover stuck rows: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover stuck rows: %w", err)
	}
	return int(affected), nil
}

func (s *OutboxStore) getItem(ctx context.Context, outboxID uuid.UUID) (*OutboxItem, error) {
	var item OutboxItem
	err := s.db.GetContext(ctx, &item,
		`SELECT * FROM notification_outbox WHERE id = $1`, outboxID)
	if err != nil {
		return nil, fmt.Errorf("select outbox row: %w", err)
	}
	return &item, nil
}

// nextRetryAt computes the jittered backoff instant for the given attempt
// number (1-based), snapped to the next send-window start when the candidate
// lands in quiet hours.
func nextRetryAt(now time.Time, attemptCount int, jitter float64) time.Time {
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryBackoff) {
		idx = len(retryBackoff) - 1
	}
	delay := time.Duration(float64(retryBackoff[idx]) * jitter)
	candidate := now.Add(delay)
	if !timewindow.InSendWindow(candidate) {
		candidate = timewindow.NextSendWindowStart(candidate)
	}
	return candidate
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

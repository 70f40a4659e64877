package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lebenslotse/lifeplan/timewindow"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, "pgx"), mock
}

func outboxColumns() []string {
	return []string{
		"id", "profile_id", "channel", "type", "dedupe_key_raw", "payload",
		"status", "failure_class", "next_attempt_at", "attempt_count",
		"last_error_code", "last_error_message", "provider_message_id",
		"sent_at", "created_at", "updated_at",
	}
}

func TestEnqueueDueSoonInsertsPendingRow(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore(db)
	now := time.Date(2026, 2, 25, 8, 5, 0, 0, time.UTC)
	profileID := uuid.New()

	mock.ExpectExec(`INSERT INTO notification_outbox`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	item, created, err := store.EnqueueDueSoon(context.Background(), profileID,
		"task_due_soon|email|profile:"+profileID.String()+"|2026-02-25",
		JSONMap{"to_email": "user@example.com"}, now)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, item)
	assert.Equal(t, OutboxStatusPending, item.Status)
	assert.Equal(t, 0, item.AttemptCount)
	assert.Equal(t, now, item.NextAttemptAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueDueSoonDuplicateKeyIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore(db)

	mock.ExpectExec(`INSERT INTO notification_outbox`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	item, created, err := store.EnqueueDueSoon(context.Background(), uuid.New(),
		"dup-key", JSONMap{}, time.Now())
	require.NoError(t, err, "duplicate dedupe key is idempotency, not failure")
	assert.False(t, created)
	assert.Nil(t, item)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountCreatedTodayUsesBerlinDayBounds(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore(db)
	profileID := uuid.New()

	// 2026-02-25T00:30 UTC is still 2026-02-25 in Berlin (CET, UTC+1).
	now := time.Date(2026, 2, 25, 0, 30, 0, 0, time.UTC)
	wantStart := time.Date(2026, 2, 24, 23, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 2, 25, 23, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notification_outbox`).
		WithArgs(profileID, wantStart, wantEnd).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := store.CountCreatedToday(context.Background(), profileID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockPendingBatchClaimsRowsBeforeCommit(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore(db)
	now := time.Date(2026, 2, 25, 9, 0, 0, 0, time.UTC)
	rowID := uuid.New()
	profileID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(OutboxStatusPending, now, 10).
		WillReturnRows(sqlmock.NewRows(outboxColumns()).AddRow(
			rowID, profileID, "email", "task_due_soon", "key-1", []byte(`{}`),
			OutboxStatusPending, nil, now.Add(-time.Minute), 0,
			nil, nil, nil, nil, now.Add(-time.Hour), now.Add(-time.Hour),
		))
	mock.ExpectExec(`UPDATE notification_outbox SET status`).
		WithArgs(rowID, OutboxStatusSending, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	items, err := store.LockPendingBatch(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, OutboxStatusSending, items[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedOrRetryPermanentGoesDead(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore(db)
	now := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	rowID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM notification_outbox WHERE id`).
		WithArgs(rowID).
		WillReturnRows(sqlmock.NewRows(outboxColumns()).AddRow(
			rowID, uuid.New(), "email", "task_due_soon", "key-1", []byte(`{}`),
			OutboxStatusSending, nil, now, 0,
			nil, nil, nil, nil, now, now,
		))
	mock.ExpectExec(`UPDATE notification_outbox`).
		WithArgs(rowID, OutboxStatusDead, FailurePermanent, 1,
			"HTTP_400", "bad request", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkFailedOrRetry(context.Background(), rowID,
		FailurePermanent, "HTTP_400", "bad request", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedOrRetryExhaustionFlipsToPermanent(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore(db)
	now := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	rowID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM notification_outbox WHERE id`).
		WithArgs(rowID).
		WillReturnRows(sqlmock.NewRows(outboxColumns()).AddRow(
			rowID, uuid.New(), "email", "task_due_soon", "key-1", []byte(`{}`),
			OutboxStatusSending, FailureRetryable, now, MaxSendAttempts-1,
			nil, nil, nil, nil, now, now,
		))
	mock.ExpectExec(`UPDATE notification_outbox`).
		WithArgs(rowID, OutboxStatusDead, FailurePermanent, MaxSendAttempts,
			"retry_exhausted", "timeout", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkFailedOrRetry(context.Background(), rowID,
		FailureRetryable, "TIMEOUT", "timeout", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverStuckSendingResetsStaleRows(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore(db)
	now := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE notification_outbox`).
		WithArgs(OutboxStatusPending, FailureRetryable, "stuck_sending_recovered",
			"Recovered stale sending item", timewindow.NextSendWindowStart(now), now,
			OutboxStatusSending, now.Add(-15*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	recovered, err := store.RecoverStuckSending(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, recovered)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextRetryAtFollowsBackoffSchedule(t *testing.T) {
	// 10:00 Berlin, well inside the send window.
	now := time.Date(2026, 2, 25, 10, 0, 0, 0, timewindow.Location())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{4, 60 * time.Minute},
		{5, 180 * time.Minute},
		{9, 180 * time.Minute}, // clamped to the last slot
	}
	for _, tt := range tests {
		got := nextRetryAt(now, tt.attempt, 1.0)
		assert.Equal(t, now.Add(tt.want), got, "attempt %d", tt.attempt)
	}
}

func TestNextRetryAtAppliesJitter(t *testing.T) {
	now := time.Date(2026, 2, 25, 10, 0, 0, 0, timewindow.Location())

	low := nextRetryAt(now, 1, 0.9)
	high := nextRetryAt(now, 1, 1.1)
	assert.Equal(t, now.Add(54*time.Second), low)
	assert.Equal(t, now.Add(66*time.Second), high)
}

func TestNextRetryAtSnapsQuietHoursToWindowStart(t *testing.T) {
	// 19:59 Berlin: a 5-minute retry lands past 20:00.
	now := time.Date(2026, 2, 25, 19, 59, 0, 0, timewindow.Location())

	got := nextRetryAt(now, 2, 1.0)
	want := time.Date(2026, 2, 26, 8, 0, 0, 0, timewindow.Location())
	assert.Equal(t, want, got)
}

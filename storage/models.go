package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Plan lifecycle statuses.
const (
	PlanStatusCreating = "creating"
	PlanStatusActive   = "active"
	PlanStatusArchived = "archived"
)

// Task statuses.
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
	TaskStatusBlocked    = "blocked"
	TaskStatusSkipped    = "skipped"
)

// Outbox row statuses.
const (
	OutboxStatusPending = "pending"
	OutboxStatusSending = "sending"
	OutboxStatusSent    = "sent"
	OutboxStatusDead    = "dead"
)

// Failure classes for outbox delivery attempts.
const (
	FailureRetryable = "retryable"
	FailurePermanent = "permanent"
)

// JSONMap stores a JSON object column as a Go map.
type JSONMap map[string]any

// Value marshals the map for the driver.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan unmarshals a JSON column value.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(raw, m)
}

// Plan is a persisted plan row. Tasks reference it by plan_id and are
// cascade-deleted with it.
type Plan struct {
	ID          uuid.UUID `db:"id"`
	TemplateKey string    `db:"template_key"`
	Facts       JSONMap   `db:"facts"`
	Snapshot    JSONMap   `db:"snapshot"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Task is a persisted task row. (plan_id, task_key) is unique.
type Task struct {
	ID          uuid.UUID  `db:"id"`
	PlanID      uuid.UUID  `db:"plan_id"`
	TaskKey     string     `db:"task_key"`
	Title       string     `db:"title"`
	Description *string    `db:"description"`
	Status      string     `db:"status"`
	DueDate     *time.Time `db:"due_date"`
	Metadata    JSONMap    `db:"metadata"`
	SortKey     int        `db:"sort_key"`
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// NotificationProfile is the 1-to-1 notification settings row for a plan.
type NotificationProfile struct {
	ID                      uuid.UUID  `db:"id"`
	PlanID                  uuid.UUID  `db:"plan_id"`
	Email                   *string    `db:"email"`
	EmailConsent            bool       `db:"email_consent"`
	Locale                  string     `db:"locale"`
	Timezone                string     `db:"timezone"`
	ReminderDueSoonEnabled  bool       `db:"reminder_due_soon_enabled"`
	MaxRemindersPerDay      int        `db:"max_reminders_per_day"`
	UnsubscribedAt          *time.Time `db:"unsubscribed_at"`
	UnsubscribeTokenHash    *string    `db:"unsubscribe_token_hash"`
	UnsubscribeTokenVersion int        `db:"unsubscribe_token_version"`
	CreatedAt               time.Time  `db:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at"`
}

// OutboxItem is one notification delivery record. Rows transition
// pending → sending → {sent | pending | dead} and are never deleted.
type OutboxItem struct {
	ID                uuid.UUID  `db:"id"`
	ProfileID         uuid.UUID  `db:"profile_id"`
	Channel           string     `db:"channel"`
	Type              string     `db:"type"`
	DedupeKeyRaw      string     `db:"dedupe_key_raw"`
	Payload           JSONMap    `db:"payload"`
	Status            string     `db:"status"`
	FailureClass      *string    `db:"failure_class"`
	NextAttemptAt     time.Time  `db:"next_attempt_at"`
	AttemptCount      int        `db:"attempt_count"`
	LastErrorCode     *string    `db:"last_error_code"`
	LastErrorMessage  *string    `db:"last_error_message"`
	ProviderMessageID *string    `db:"provider_message_id"`
	SentAt            *time.Time `db:"sent_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

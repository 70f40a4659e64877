package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaDDL mirrors the production migrations. It is idempotent so that
// AUTO_CREATE_SCHEMA can run on every startup in development.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS plans (
    id            UUID PRIMARY KEY,
    template_key  TEXT NOT NULL,
    facts         JSONB NOT NULL,
    snapshot      JSONB NOT NULL,
    status        VARCHAR(32) NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_plans_template_key ON plans (template_key);

CREATE TABLE IF NOT EXISTS tasks (
    id            UUID PRIMARY KEY,
    plan_id       UUID NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    task_key      TEXT NOT NULL,
    title         TEXT NOT NULL,
    description   TEXT,
    status        VARCHAR(32) NOT NULL,
    due_date      DATE,
    metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
    sort_key      INTEGER NOT NULL,
    completed_at  TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT uq_tasks_plan_task_key UNIQUE (plan_id, task_key)
);
CREATE INDEX IF NOT EXISTS ix_tasks_plan_id ON tasks (plan_id);
CREATE INDEX IF NOT EXISTS ix_tasks_due_scan ON tasks (status, due_date);

CREATE TABLE IF NOT EXISTS notification_profiles (
    id                         UUID PRIMARY KEY,
    plan_id                    UUID NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    email                      TEXT,
    email_consent              BOOLEAN NOT NULL DEFAULT false,
    locale                     VARCHAR(16) NOT NULL DEFAULT 'de-DE',
    timezone                   VARCHAR(64) NOT NULL DEFAULT 'Europe/Berlin',
    reminder_due_soon_enabled  BOOLEAN NOT NULL DEFAULT true,
    max_reminders_per_day      INTEGER NOT NULL DEFAULT 1,
    unsubscribed_at            TIMESTAMPTZ,
    unsubscribe_token_hash     TEXT,
    unsubscribe_token_version  INTEGER NOT NULL DEFAULT 1,
    created_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT uq_notification_profiles_plan_id UNIQUE (plan_id)
);
CREATE INDEX IF NOT EXISTS ix_notification_profiles_sendable
    ON notification_profiles (email_consent, reminder_due_soon_enabled);

CREATE TABLE IF NOT EXISTS notification_outbox (
    id                   UUID PRIMARY KEY,
    profile_id           UUID NOT NULL REFERENCES notification_profiles(id) ON DELETE CASCADE,
    channel              VARCHAR(32) NOT NULL,
    type                 VARCHAR(64) NOT NULL,
    dedupe_key_raw       TEXT NOT NULL,
    payload              JSONB NOT NULL DEFAULT '{}'::jsonb,
    status               VARCHAR(32) NOT NULL,
    failure_class        VARCHAR(32),
    next_attempt_at      TIMESTAMPTZ NOT NULL,
    attempt_count        INTEGER NOT NULL DEFAULT 0,
    last_error_code      VARCHAR(128),
    last_error_message   TEXT,
    provider_message_id  VARCHAR(255),
    sent_at              TIMESTAMPTZ,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT uq_notification_outbox_dedupe_key_raw UNIQUE (dedupe_key_raw)
);
CREATE INDEX IF NOT EXISTS ix_notification_outbox_status_next_attempt
    ON notification_outbox (status, next_attempt_at);
CREATE INDEX IF NOT EXISTS ix_notification_outbox_profile_created
    ON notification_outbox (profile_id, created_at);
`

// CreateSchema applies the embedded DDL.
func CreateSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

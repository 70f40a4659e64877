package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ProfileStore persists notification profiles.
type ProfileStore struct {
	db *sqlx.DB
}

// NewProfileStore creates a profile store on db.
func NewProfileStore(db *sqlx.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// GetByPlan loads the profile for a plan. Returns ErrNotFound when the plan
// has no profile yet.
func (s *ProfileStore) GetByPlan(ctx context.Context, planID uuid.UUID) (*NotificationProfile, error) {
	var profile NotificationProfile
	err := s.db.GetContext(ctx, &profile,
		`SELECT * FROM notification_profiles WHERE plan_id = $1`, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	return &profile, nil
}

// GetOrCreate returns the plan's profile, inserting a default row when none
// exists. A concurrent insert losing the unique race falls back to a read.
func (s *ProfileStore) GetOrCreate(ctx context.Context, planID uuid.UUID, now time.Time) (*NotificationProfile, error) {
	profile, err := s.GetByPlan(ctx, planID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	fresh := &NotificationProfile{
		ID:                      uuid.New(),
		PlanID:                  planID,
		EmailConsent:            false,
		Locale:                  "de-DE",
		Timezone:                "Europe/Berlin",
		ReminderDueSoonEnabled:  true,
		MaxRemindersPerDay:      1,
		UnsubscribeTokenVersion: 1,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO notification_profiles
    (id, plan_id, email, email_consent, locale, timezone, reminder_due_soon_enabled,
     max_reminders_per_day, unsubscribed_at, unsubscribe_token_hash,
     unsubscribe_token_version, created_at, updated_at)
VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, NULL, NULL, $8, $9, $9)`,
		fresh.ID, fresh.PlanID, fresh.EmailConsent, fresh.Locale, fresh.Timezone,
		fresh.ReminderDueSoonEnabled, fresh.MaxRemindersPerDay,
		fresh.UnsubscribeTokenVersion, now)
	if isUniqueViolation(err) {
		return s.GetByPlan(ctx, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return fresh, nil
}

// UpdateSettings overwrites the user-editable profile fields. It never
// touches unsubscribed_at; only unsubscribe-by-token sets that.
func (s *ProfileStore) UpdateSettings(ctx context.Context, profile *NotificationProfile) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE notification_profiles
SET email = $2, email_consent = $3, locale = $4, timezone = $5,
    reminder_due_soon_enabled = $6, updated_at = $7
WHERE id = $1`,
		profile.ID, profile.Email, profile.EmailConsent, profile.Locale,
		profile.Timezone, profile.ReminderDueSoonEnabled, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// SaveTokenHash records the stored hash of the current unsubscribe token.
func (s *ProfileStore) SaveTokenHash(ctx context.Context, profileID uuid.UUID, tokenHash string, version int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE notification_profiles
SET unsubscribe_token_hash = $2, unsubscribe_token_version = $3, updated_at = $4
WHERE id = $1`,
		profileID, tokenHash, version, now)
	if err != nil {
		return fmt.Errorf("save token hash: %w", err)
	}
	return nil
}

// FindByTokenHash locates the profile holding a token hash.
func (s *ProfileStore) FindByTokenHash(ctx context.Context, tokenHash string) (*NotificationProfile, error) {
	var profile NotificationProfile
	err := s.db.GetContext(ctx, &profile,
		`SELECT * FROM notification_profiles WHERE unsubscribe_token_hash = $1`, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select profile by token hash: %w", err)
	}
	return &profile, nil
}

// SetUnsubscribed stamps unsubscribed_at if it is still null. Repeated
// unsubscribes keep the first timestamp.
func (s *ProfileStore) SetUnsubscribed(ctx context.Context, profileID uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE notification_profiles
SET unsubscribed_at = $2, updated_at = $2
WHERE id = $1 AND unsubscribed_at IS NULL`,
		profileID, now)
	if err != nil {
		return fmt.Errorf("set unsubscribed: %w", err)
	}
	return nil
}

// ListAll returns every profile. The reminder scanner iterates this set.
func (s *ProfileStore) ListAll(ctx context.Context) ([]NotificationProfile, error) {
	var profiles []NotificationProfile
	err := s.db.SelectContext(ctx, &profiles,
		`SELECT * FROM notification_profiles ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	return profiles, nil
}

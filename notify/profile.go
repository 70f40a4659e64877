// Package notify implements the reminder pipeline: notification profiles
// with stable unsubscribe tokens, the due-soon scanner, the outbox
// dispatcher, email rendering and the Brevo provider adapter.
package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lebenslotse/lifeplan/apierr"
	"github.com/lebenslotse/lifeplan/storage"
)

// ProfileStore is the persistence surface for notification profiles.
type ProfileStore interface {
	GetOrCreate(ctx context.Context, planID uuid.UUID, now time.Time) (*storage.NotificationProfile, error)
	GetByPlan(ctx context.Context, planID uuid.UUID) (*storage.NotificationProfile, error)
	UpdateSettings(ctx context.Context, profile *storage.NotificationProfile) error
	SaveTokenHash(ctx context.Context, profileID uuid.UUID, tokenHash string, version int, now time.Time) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*storage.NotificationProfile, error)
	SetUnsubscribed(ctx context.Context, profileID uuid.UUID, now time.Time) error
	ListAll(ctx context.Context) ([]storage.NotificationProfile, error)
}

// ProfileSettings are the user-editable notification profile fields.
type ProfileSettings struct {
	Email                  string
	EmailConsent           bool
	Locale                 string
	Timezone               string
	ReminderDueSoonEnabled bool
}

// ProfileService manages notification profiles and unsubscribe tokens.
type ProfileService struct {
	store       ProfileStore
	tokenSecret []byte
	logger      *slog.Logger
	now         func() time.Time
}

// NewProfileService creates a profile service signing unsubscribe tokens
// with tokenSecret.
func NewProfileService(store ProfileStore, tokenSecret string, logger *slog.Logger) *ProfileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{
		store:       store,
		tokenSecret: []byte(tokenSecret),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Upsert creates the plan's profile if absent and applies the settings.
// Toggling consent off does not unsubscribe; unsubscribed_at is only ever
// set through UnsubscribeByToken.
func (s *ProfileService) Upsert(ctx context.Context, planID uuid.UUID, settings ProfileSettings) (*storage.NotificationProfile, error) {
	now := s.now()
	profile, err := s.store.GetOrCreate(ctx, planID, now)
	if err != nil {
		return nil, apierr.Persistence("Could not load notification profile")
	}

	email := strings.TrimSpace(settings.Email)
	if email == "" {
		profile.Email = nil
	} else {
		profile.Email = &email
	}
	profile.EmailConsent = settings.EmailConsent
	profile.Locale = settings.Locale
	profile.Timezone = settings.Timezone
	profile.ReminderDueSoonEnabled = settings.ReminderDueSoonEnabled
	profile.UpdatedAt = now

	if err := s.store.UpdateSettings(ctx, profile); err != nil {
		return nil, apierr.Persistence("Could not persist notification profile")
	}
	return profile, nil
}

// Sendable reports whether reminders may be sent to the profile.
func Sendable(profile *storage.NotificationProfile) bool {
	email := ""
	if profile.Email != nil {
		email = strings.TrimSpace(*profile.Email)
	}
	return email != "" &&
		profile.EmailConsent &&
		profile.UnsubscribedAt == nil &&
		profile.ReminderDueSoonEnabled
}

// IssueUnsubscribeToken returns the profile's current unsubscribe token,
// persisting its hash when it is not stored yet. The token is deterministic
// for a given (profile id, token version), so re-issuing never invalidates
// links already sent.
func (s *ProfileService) IssueUnsubscribeToken(ctx context.Context, profile *storage.NotificationProfile) (string, error) {
	token := s.unsubscribeToken(profile.ID, profile.UnsubscribeTokenVersion)
	tokenHash := hashToken(token)
	if profile.UnsubscribeTokenHash == nil || *profile.UnsubscribeTokenHash != tokenHash {
		if err := s.store.SaveTokenHash(ctx, profile.ID, tokenHash, profile.UnsubscribeTokenVersion, s.now()); err != nil {
			return "", fmt.Errorf("save unsubscribe token hash: %w", err)
		}
		profile.UnsubscribeTokenHash = &tokenHash
	}
	return token, nil
}

// RotateUnsubscribeToken bumps the token version, invalidating every
// previously issued token.
func (s *ProfileService) RotateUnsubscribeToken(ctx context.Context, profile *storage.NotificationProfile) (string, error) {
	version := profile.UnsubscribeTokenVersion + 1
	token := s.unsubscribeToken(profile.ID, version)
	tokenHash := hashToken(token)
	if err := s.store.SaveTokenHash(ctx, profile.ID, tokenHash, version, s.now()); err != nil {
		return "", fmt.Errorf("rotate unsubscribe token: %w", err)
	}
	profile.UnsubscribeTokenVersion = version
	profile.UnsubscribeTokenHash = &tokenHash
	return token, nil
}

// UnsubscribeByToken marks the owning profile unsubscribed. Unknown tokens
// and repeated unsubscribes are silent no-ops so the endpoint never
// discloses token existence.
func (s *ProfileService) UnsubscribeByToken(ctx context.Context, token string) error {
	profile, err := s.store.FindByTokenHash(ctx, hashToken(token))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apierr.Persistence("Could not process unsubscribe")
	}
	if profile.UnsubscribedAt != nil {
		return nil
	}
	if err := s.store.SetUnsubscribed(ctx, profile.ID, s.now()); err != nil {
		return apierr.Persistence("Could not process unsubscribe")
	}
	s.logger.Info("Profile unsubscribed", "profile_id", profile.ID)
	return nil
}

// unsubscribeToken builds "<profile_id>.<version>.<hex_hmac_sha256>" over
// "<profile_id>:<version>".
func (s *ProfileService) unsubscribeToken(profileID uuid.UUID, version int) string {
	mac := hmac.New(sha256.New, s.tokenSecret)
	fmt.Fprintf(mac, "%s:%d", profileID, version)
	return fmt.Sprintf("%s.%d.%s", profileID, version, hex.EncodeToString(mac.Sum(nil)))
}

// hashToken is the stored form of a token; the raw token is never persisted.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

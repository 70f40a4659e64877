package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lebenslotse/lifeplan/notify"
	"github.com/lebenslotse/lifeplan/storage"
)

type upsertProfileRequest struct {
	Email                  string `json:"email" validate:"omitempty,email"`
	EmailConsent           bool   `json:"email_consent"`
	Locale                 string `json:"locale" validate:"required"`
	Timezone               string `json:"timezone" validate:"required"`
	ReminderDueSoonEnabled bool   `json:"reminder_due_soon_enabled"`
}

type profileResponse struct {
	ID                     uuid.UUID  `json:"id"`
	PlanID                 uuid.UUID  `json:"plan_id"`
	Email                  *string    `json:"email"`
	EmailConsent           bool       `json:"email_consent"`
	Locale                 string     `json:"locale"`
	Timezone               string     `json:"timezone"`
	ReminderDueSoonEnabled bool       `json:"reminder_due_soon_enabled"`
	MaxRemindersPerDay     int        `json:"max_reminders_per_day"`
	Sendable               bool       `json:"sendable"`
	UnsubscribedAt         *time.Time `json:"unsubscribed_at"`
}

// ----------------------------------------------------------------------------
// PUT /plans/{id}/notification-profile
// ----------------------------------------------------------------------------

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	planID, err := planIDParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	// The profile is 1-to-1 with an existing plan.
	if _, err := s.plans.Get(r.Context(), planID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req upsertProfileRequest
	if err := decodeBody(r, s.validate, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	profile, err := s.profiles.Upsert(r.Context(), planID, notify.ProfileSettings{
		Email:                  req.Email,
		EmailConsent:           req.EmailConsent,
		Locale:                 req.Locale,
		Timezone:               req.Timezone,
		ReminderDueSoonEnabled: req.ReminderDueSoonEnabled,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// ----------------------------------------------------------------------------
// GET /notifications/unsubscribe?token=…
// ----------------------------------------------------------------------------

// handleUnsubscribe always answers {ok:true} so the response never discloses
// whether a token exists.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token != "" {
		if err := s.profiles.UnsubscribeByToken(r.Context(), token); err != nil {
			s.logger.Error("Unsubscribe failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func toProfileResponse(p *storage.NotificationProfile) profileResponse {
	return profileResponse{
		ID:                     p.ID,
		PlanID:                 p.PlanID,
		Email:                  p.Email,
		EmailConsent:           p.EmailConsent,
		Locale:                 p.Locale,
		Timezone:               p.Timezone,
		ReminderDueSoonEnabled: p.ReminderDueSoonEnabled,
		MaxRemindersPerDay:     p.MaxRemindersPerDay,
		Sendable:               notify.Sendable(p),
		UnsubscribedAt:         p.UnsubscribedAt,
	}
}

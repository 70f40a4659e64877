package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lebenslotse/lifeplan/metrics"
	"github.com/lebenslotse/lifeplan/planner"
	"github.com/lebenslotse/lifeplan/storage"
	"github.com/lebenslotse/lifeplan/timewindow"
)

// OutboxStore is the persistence surface for outbox rows.
type OutboxStore interface {
	EnqueueDueSoon(ctx context.Context, profileID uuid.UUID, dedupeKeyRaw string, payload storage.JSONMap, now time.Time) (*storage.OutboxItem, bool, error)
	CountCreatedToday(ctx context.Context, profileID uuid.UUID, now time.Time) (int, error)
	LockPendingBatch(ctx context.Context, now time.Time, limit int) ([]storage.OutboxItem, error)
	MarkSent(ctx context.Context, outboxID uuid.UUID, providerMessageID string, now time.Time) error
	MarkFailedOrRetry(ctx context.Context, outboxID uuid.UUID, failureClass, errorCode, errorMessage string, now time.Time) error
	RescheduleQuietHours(ctx context.Context, outboxID uuid.UUID, now time.Time) error
	RecoverStuckSending(ctx context.Context, now time.Time) (int, error)
}

// TaskSource provides the due-soon task query for a plan.
type TaskSource interface {
	DueSoonTasks(ctx context.Context, planID uuid.UUID, from, to string) ([]storage.Task, error)
}

// ScanSummary reports one due-soon scan run.
type ScanSummary struct {
	ProfilesScanned    int `json:"profiles_scanned"`
	TasksMatched       int `json:"tasks_matched"`
	OutboxCreated      int `json:"outbox_created"`
	SkippedNotSendable int `json:"skipped_not_sendable"`
	SkippedDailyCap    int `json:"skipped_daily_cap"`
	Errors             int `json:"errors"`
}

// Scanner finds tasks due within the reminder horizon and enqueues
// idempotent outbox entries.
type Scanner struct {
	profiles   ProfileStore
	profileSvc *ProfileService
	outbox     OutboxStore
	tasks      TaskSource
	appBaseURL string
	logger     *slog.Logger
}

// NewScanner creates a due-soon reminder scanner.
func NewScanner(profiles ProfileStore, profileSvc *ProfileService, outbox OutboxStore, tasks TaskSource, appBaseURL string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		profiles:   profiles,
		profileSvc: profileSvc,
		outbox:     outbox,
		tasks:      tasks,
		appBaseURL: appBaseURL,
		logger:     logger,
	}
}

// ScanDueSoon walks every notification profile once. Failures are isolated
// per profile: one broken profile is counted and the scan moves on.
func (s *Scanner) ScanDueSoon(ctx context.Context, now time.Time) (ScanSummary, error) {
	localToday := timewindow.LocalDayISO(now)
	windowFrom, windowTo := timewindow.DueSoonWindow(now)

	profiles, err := s.profiles.ListAll(ctx)
	if err != nil {
		return ScanSummary{}, fmt.Errorf("list profiles: %w", err)
	}

	var summary ScanSummary
	for i := range profiles {
		profile := &profiles[i]
		summary.ProfilesScanned++

		outcome, err := s.scanProfile(ctx, profile, now, localToday, windowFrom, windowTo)
		if err != nil {
			summary.Errors++
			metrics.ScanErrors.Inc()
			s.logger.Error("Reminder scan failed for profile",
				"profile_id", profile.ID, "error", err)
			continue
		}
		summary.TasksMatched += outcome.tasksMatched
		summary.OutboxCreated += outcome.outboxCreated
		summary.SkippedNotSendable += outcome.skippedNotSendable
		summary.SkippedDailyCap += outcome.skippedDailyCap
	}

	s.logger.Info("Due-soon scan finished",
		"profiles_scanned", summary.ProfilesScanned,
		"outbox_created", summary.OutboxCreated,
		"skipped_not_sendable", summary.SkippedNotSendable,
		"skipped_daily_cap", summary.SkippedDailyCap,
		"errors", summary.Errors)
	return summary, nil
}

type profileScanOutcome struct {
	tasksMatched       int
	outboxCreated      int
	skippedNotSendable int
	skippedDailyCap    int
}

func (s *Scanner) scanProfile(ctx context.Context, profile *storage.NotificationProfile, now time.Time, localToday, windowFrom, windowTo string) (profileScanOutcome, error) {
	var outcome profileScanOutcome

	if !Sendable(profile) {
		outcome.skippedNotSendable = 1
		return outcome, nil
	}

	createdToday, err := s.outbox.CountCreatedToday(ctx, profile.ID, now)
	if err != nil {
		return outcome, err
	}
	if createdToday >= profile.MaxRemindersPerDay {
		outcome.skippedDailyCap = 1
		return outcome, nil
	}

	tasks, err := s.tasks.DueSoonTasks(ctx, profile.PlanID, windowFrom, windowTo)
	if err != nil {
		return outcome, err
	}
	if len(tasks) == 0 {
		return outcome, nil
	}
	outcome.tasksMatched = len(tasks)

	token, err := s.profileSvc.IssueUnsubscribeToken(ctx, profile)
	if err != nil {
		return outcome, err
	}

	payload := s.buildPayload(profile, tasks, localToday, token)
	payloadMap, err := payload.toJSONMap()
	if err != nil {
		return outcome, err
	}

	dedupeKey := DueSoonDedupeKey(profile.ID, localToday)
	_, created, err := s.outbox.EnqueueDueSoon(ctx, profile.ID, dedupeKey, payloadMap, now)
	if err != nil {
		return outcome, err
	}
	if created {
		outcome.outboxCreated = 1
		metrics.RemindersEnqueued.Inc()
		s.logger.Debug("Reminder enqueued",
			"profile_id", profile.ID, "tasks", len(tasks), "local_day", localToday)
	}
	return outcome, nil
}

func (s *Scanner) buildPayload(profile *storage.NotificationProfile, tasks []storage.Task, localToday, token string) *DueSoonPayload {
	today, _ := time.Parse(planner.DateLayout, localToday)

	items := make([]DueSoonTask, 0, len(tasks))
	for _, task := range tasks {
		if task.DueDate == nil {
			continue
		}
		category, _ := task.Metadata["category"].(string)
		priority, _ := task.Metadata["priority"].(string)
		items = append(items, DueSoonTask{
			TaskKey:        task.TaskKey,
			TaskInstanceID: task.ID.String(),
			Title:          task.Title,
			DueDate:        task.DueDate.Format(planner.DateLayout),
			DueInDays:      int(task.DueDate.Sub(today).Hours() / 24),
			Category:       category,
			Priority:       priority,
		})
	}

	email := ""
	if profile.Email != nil {
		email = *profile.Email
	}
	unsubscribeURL := fmt.Sprintf("%s/notifications/unsubscribe?token=%s", s.appBaseURL, token)
	return &DueSoonPayload{
		ProfileID:      profile.ID.String(),
		PlanID:         profile.PlanID.String(),
		ToEmail:        email,
		Locale:         profile.Locale,
		Timezone:       profile.Timezone,
		Tasks:          items,
		PlanURL:        fmt.Sprintf("%s/app/plan/%s", s.appBaseURL, profile.PlanID),
		SettingsURL:    unsubscribeURL,
		UnsubscribeURL: unsubscribeURL,
	}
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lebenslotse/lifeplan/apierr"
	"github.com/lebenslotse/lifeplan/config"
	"github.com/lebenslotse/lifeplan/notify"
	"github.com/lebenslotse/lifeplan/storage"
)

type fakePlanAPI struct {
	plans map[uuid.UUID]*storage.Plan
	err   error
}

func (f *fakePlanAPI) Create(ctx context.Context, templateKey string, facts map[string]any) (*storage.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	p := &storage.Plan{
		ID:          uuid.New(),
		TemplateKey: templateKey,
		Facts:       storage.JSONMap{},
		Snapshot: storage.JSONMap{
			"generated_at":   now.Format(time.RFC3339),
			"task_count":     2,
			"engine_version": "0.1.0",
		},
		Status:    storage.PlanStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if f.plans == nil {
		f.plans = map[uuid.UUID]*storage.Plan{}
	}
	f.plans[p.ID] = p
	return p, nil
}

func (f *fakePlanAPI) Get(ctx context.Context, planID uuid.UUID) (*storage.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.plans[planID]
	if !ok {
		return nil, apierr.PlanNotFound(planID.String())
	}
	return p, nil
}

func (f *fakePlanAPI) UpdateFacts(ctx context.Context, planID uuid.UUID, patch map[string]any, recompute bool) (*storage.Plan, error) {
	p, err := f.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	merged := storage.JSONMap{}
	for k, v := range p.Facts {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	p.Facts = merged
	return p, nil
}

func (f *fakePlanAPI) Recompute(ctx context.Context, planID uuid.UUID) (*storage.Plan, error) {
	return f.Get(ctx, planID)
}

type fakeTaskAPI struct {
	tasks     map[uuid.UUID][]storage.Task
	updateErr error
	gotStatus string
	gotForce  bool
}

func (f *fakeTaskAPI) List(ctx context.Context, planID uuid.UUID, status string) ([]storage.Task, error) {
	var out []storage.Task
	for _, t := range f.tasks[planID] {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskAPI) UpdateStatus(ctx context.Context, planID, taskID uuid.UUID, newStatus string, force bool) (*storage.Task, error) {
	f.gotStatus, f.gotForce = newStatus, force
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for _, t := range f.tasks[planID] {
		if t.ID == taskID {
			t.Status = newStatus
			return &t, nil
		}
	}
	return nil, apierr.TaskNotFound(taskID.String(), planID.String())
}

type fakeProfileAPI struct {
	unsubscribed []string
}

func (f *fakeProfileAPI) Upsert(ctx context.Context, planID uuid.UUID, settings notify.ProfileSettings) (*storage.NotificationProfile, error) {
	var email *string
	if settings.Email != "" {
		email = &settings.Email
	}
	return &storage.NotificationProfile{
		ID:                     uuid.New(),
		PlanID:                 planID,
		Email:                  email,
		EmailConsent:           settings.EmailConsent,
		Locale:                 settings.Locale,
		Timezone:               settings.Timezone,
		ReminderDueSoonEnabled: settings.ReminderDueSoonEnabled,
		MaxRemindersPerDay:     1,
	}, nil
}

func (f *fakeProfileAPI) UnsubscribeByToken(ctx context.Context, token string) error {
	f.unsubscribed = append(f.unsubscribed, token)
	return nil
}

func newTestRouter(plans *fakePlanAPI, tasks *fakeTaskAPI, profiles *fakeProfileAPI) http.Handler {
	if plans == nil {
		plans = &fakePlanAPI{plans: map[uuid.UUID]*storage.Plan{}}
	}
	if tasks == nil {
		tasks = &fakeTaskAPI{}
	}
	if profiles == nil {
		profiles = &fakeProfileAPI{}
	}
	return NewServer(plans, tasks, profiles, nil).Router(config.Default())
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeResponse(t, rec)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %s", rec.Body.String())
	code, _ := errObj["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestRouter(nil, nil, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeResponse(t, rec)["status"])
}

func TestCreatePlan(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)
	rec := doJSON(t, handler, http.MethodPost, "/plans",
		`{"template_key":"birth_de/v1","facts":{"event_date":"2026-03-09"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, "birth_de/v1", body["template_key"])
	assert.Equal(t, "active", body["status"])
	links, ok := body["links"].(map[string]any)
	require.True(t, ok)
	planID, _ := body["id"].(string)
	assert.Equal(t, "/plans/"+planID, links["self"])
	assert.Equal(t, "/plans/"+planID+"/tasks", links["tasks"])
}

func TestCreatePlanValidation(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	rec := doJSON(t, handler, http.MethodPost, "/plans", `{"facts":{}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apierr.CodeRequestValidation, errorCode(t, rec))

	rec = doJSON(t, handler, http.MethodPost, "/plans", `{not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreatePlanTemplateNotFound(t *testing.T) {
	plans := &fakePlanAPI{err: apierr.TemplateNotFound("ghost/v1")}
	rec := doJSON(t, newTestRouter(plans, nil, nil), http.MethodPost, "/plans",
		`{"template_key":"ghost/v1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierr.CodeTemplateNotFound, errorCode(t, rec))
}

func TestGetPlan(t *testing.T) {
	plans := &fakePlanAPI{}
	created, err := plans.Create(context.Background(), "birth_de/v1", nil)
	require.NoError(t, err)
	handler := newTestRouter(plans, nil, nil)

	rec := doJSON(t, handler, http.MethodGet, "/plans/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.NotContains(t, body, "snapshot")
	meta, ok := body["snapshot_meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "birth_de/v1", meta["template_key"])
	assert.Equal(t, "0.1.0", meta["engine_version"])

	rec = doJSON(t, handler, http.MethodGet, "/plans/"+created.ID.String()+"?include_snapshot=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeResponse(t, rec), "snapshot")
}

func TestGetPlanNotFound(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	rec := doJSON(t, handler, http.MethodGet, "/plans/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierr.CodePlanNotFound, errorCode(t, rec))

	// A malformed id can never exist either.
	rec = doJSON(t, handler, http.MethodGet, "/plans/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierr.CodePlanNotFound, errorCode(t, rec))
}

func TestUpdateFacts(t *testing.T) {
	plans := &fakePlanAPI{}
	created, err := plans.Create(context.Background(), "birth_de/v1", nil)
	require.NoError(t, err)

	rec := doJSON(t, newTestRouter(plans, nil, nil), http.MethodPatch,
		"/plans/"+created.ID.String()+"/facts",
		`{"facts":{"health_insurance_provider_known":true},"recompute":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	facts, ok := body["facts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, facts["health_insurance_provider_known"])
}

func TestListTasks(t *testing.T) {
	plans := &fakePlanAPI{}
	created, err := plans.Create(context.Background(), "birth_de/v1", nil)
	require.NoError(t, err)

	due := time.Date(2026, time.March, 12, 0, 0, 0, 0, time.UTC)
	tasks := &fakeTaskAPI{tasks: map[uuid.UUID][]storage.Task{
		created.ID: {
			{
				ID: uuid.New(), PlanID: created.ID, TaskKey: "t_birth_certificate",
				Title: "Geburtsurkunde beantragen", Status: storage.TaskStatusTodo,
				DueDate:  &due,
				Metadata: storage.JSONMap{"category": "behoerde"},
			},
			{
				ID: uuid.New(), PlanID: created.ID, TaskKey: "t_child_insurance_decision",
				Title: "Krankenversicherung wählen", Status: storage.TaskStatusDone,
				Metadata: storage.JSONMap{"tags": []any{"decision"}},
			},
		},
	}}
	handler := newTestRouter(plans, tasks, nil)

	rec := doJSON(t, handler, http.MethodGet, "/plans/"+created.ID.String()+"/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "normal", list[0]["task_kind"])
	assert.Equal(t, "2026-03-12", list[0]["due_date"])
	assert.Equal(t, "decision", list[1]["task_kind"])
	assert.NotContains(t, list[0], "metadata")

	rec = doJSON(t, handler, http.MethodGet,
		"/plans/"+created.ID.String()+"/tasks?status=done&include_metadata=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "t_child_insurance_decision", list[0]["task_key"])
	assert.Contains(t, list[0], "metadata")
}

func TestUpdateTask(t *testing.T) {
	plans := &fakePlanAPI{}
	created, err := plans.Create(context.Background(), "birth_de/v1", nil)
	require.NoError(t, err)
	taskID := uuid.New()
	tasks := &fakeTaskAPI{tasks: map[uuid.UUID][]storage.Task{
		created.ID: {{
			ID: taskID, PlanID: created.ID, TaskKey: "t_birth_certificate",
			Title: "Geburtsurkunde beantragen", Status: storage.TaskStatusTodo,
		}},
	}}
	handler := newTestRouter(plans, tasks, nil)

	rec := doJSON(t, handler, http.MethodPatch,
		"/plans/"+created.ID.String()+"/tasks/"+taskID.String(),
		`{"status":"done","force":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", decodeResponse(t, rec)["status"])
	assert.True(t, tasks.gotForce)

	rec = doJSON(t, handler, http.MethodPatch,
		"/plans/"+created.ID.String()+"/tasks/"+taskID.String(),
		`{"status":"paused"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apierr.CodeRequestValidation, errorCode(t, rec))
}

func TestUpdateTaskConflicts(t *testing.T) {
	plans := &fakePlanAPI{}
	created, err := plans.Create(context.Background(), "birth_de/v1", nil)
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		err  error
		code string
	}{
		{"blocked", apierr.TaskBlocked("t_add_child_insurance_gkv", []string{"t_birth_certificate"}), apierr.CodeTaskBlocked},
		{"decision", apierr.DecisionTaskForbidden("t_child_insurance_decision"), apierr.CodeDecisionTaskForbidden},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tasks := &fakeTaskAPI{updateErr: tc.err}
			rec := doJSON(t, newTestRouter(plans, tasks, nil), http.MethodPatch,
				"/plans/"+created.ID.String()+"/tasks/"+uuid.NewString(),
				`{"status":"done"}`)
			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestUpsertProfile(t *testing.T) {
	plans := &fakePlanAPI{}
	created, err := plans.Create(context.Background(), "birth_de/v1", nil)
	require.NoError(t, err)
	handler := newTestRouter(plans, nil, nil)

	rec := doJSON(t, handler, http.MethodPut,
		"/plans/"+created.ID.String()+"/notification-profile",
		`{"email":"familie@example.org","email_consent":true,"locale":"de","timezone":"Europe/Berlin","reminder_due_soon_enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, true, body["sendable"])
	assert.Equal(t, "familie@example.org", body["email"])

	// Unknown plan gets 404 before any profile work.
	rec = doJSON(t, handler, http.MethodPut,
		"/plans/"+uuid.NewString()+"/notification-profile",
		`{"email":"familie@example.org","locale":"de","timezone":"Europe/Berlin"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Bad email shape is a validation error.
	rec = doJSON(t, handler, http.MethodPut,
		"/plans/"+created.ID.String()+"/notification-profile",
		`{"email":"not-an-email","locale":"de","timezone":"Europe/Berlin"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUnsubscribeAlwaysOK(t *testing.T) {
	profiles := &fakeProfileAPI{}
	handler := newTestRouter(nil, nil, profiles)

	rec := doJSON(t, handler, http.MethodGet, "/notifications/unsubscribe?token=whatever", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeResponse(t, rec)["ok"])
	assert.Equal(t, []string{"whatever"}, profiles.unsubscribed)

	rec = doJSON(t, handler, http.MethodGet, "/notifications/unsubscribe", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeResponse(t, rec)["ok"])
}

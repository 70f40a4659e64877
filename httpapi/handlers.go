package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lebenslotse/lifeplan/apierr"
	"github.com/lebenslotse/lifeplan/plan"
	"github.com/lebenslotse/lifeplan/planner"
	"github.com/lebenslotse/lifeplan/storage"
)

type createPlanRequest struct {
	TemplateKey string         `json:"template_key" validate:"required"`
	Facts       map[string]any `json:"facts"`
}

type updateFactsRequest struct {
	Facts     map[string]any `json:"facts" validate:"required"`
	Recompute bool           `json:"recompute"`
}

type updateTaskRequest struct {
	Status string `json:"status" validate:"required,oneof=todo in_progress done blocked skipped"`
	Force  bool   `json:"force"`
}

type planLinks struct {
	Self  string `json:"self"`
	Tasks string `json:"tasks"`
}

type planCreatedResponse struct {
	ID          uuid.UUID `json:"id"`
	TemplateKey string    `json:"template_key"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Links       planLinks `json:"links"`
}

type snapshotMeta struct {
	GeneratedAt   any    `json:"generated_at"`
	TaskCount     any    `json:"task_count"`
	EngineVersion any    `json:"engine_version"`
	TemplateKey   string `json:"template_key"`
}

type planResponse struct {
	ID           uuid.UUID       `json:"id"`
	TemplateKey  string          `json:"template_key"`
	Facts        storage.JSONMap `json:"facts"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	SnapshotMeta snapshotMeta    `json:"snapshot_meta"`
	Snapshot     storage.JSONMap `json:"snapshot,omitempty"`
}

type taskResponse struct {
	ID          uuid.UUID       `json:"id"`
	PlanID      uuid.UUID       `json:"plan_id"`
	TaskKey     string          `json:"task_key"`
	Title       string          `json:"title"`
	Status      string          `json:"status"`
	DueDate     *string         `json:"due_date"`
	TaskKind    string          `json:"task_kind"`
	SortKey     int             `json:"sort_key"`
	CompletedAt *time.Time      `json:"completed_at"`
	Metadata    storage.JSONMap `json:"metadata,omitempty"`
}

// ----------------------------------------------------------------------------
// POST /plans
// ----------------------------------------------------------------------------

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := decodeBody(r, s.validate, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	created, err := s.plans.Create(r.Context(), req.TemplateKey, req.Facts)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, planCreatedResponse{
		ID:          created.ID,
		TemplateKey: created.TemplateKey,
		Status:      created.Status,
		CreatedAt:   created.CreatedAt,
		UpdatedAt:   created.UpdatedAt,
		Links: planLinks{
			Self:  "/plans/" + created.ID.String(),
			Tasks: "/plans/" + created.ID.String() + "/tasks",
		},
	})
}

// ----------------------------------------------------------------------------
// GET /plans/{id}?include_snapshot=bool
// ----------------------------------------------------------------------------

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	planID, err := planIDParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	loaded, err := s.plans.Get(r.Context(), planID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	includeSnapshot := r.URL.Query().Get("include_snapshot") == "true"
	writeJSON(w, http.StatusOK, toPlanResponse(loaded, includeSnapshot))
}

// ----------------------------------------------------------------------------
// PATCH /plans/{id}/facts
// ----------------------------------------------------------------------------

func (s *Server) handleUpdateFacts(w http.ResponseWriter, r *http.Request) {
	planID, err := planIDParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req updateFactsRequest
	if err := decodeBody(r, s.validate, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	updated, err := s.plans.UpdateFacts(r.Context(), planID, req.Facts, req.Recompute)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(updated, false))
}

// ----------------------------------------------------------------------------
// POST /plans/{id}/recompute
// ----------------------------------------------------------------------------

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	planID, err := planIDParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	updated, err := s.plans.Recompute(r.Context(), planID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(updated, false))
}

// ----------------------------------------------------------------------------
// GET /plans/{id}/tasks?status=&include_metadata=
// ----------------------------------------------------------------------------

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	planID, err := planIDParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	// The plan must exist even when it has no tasks.
	if _, err := s.plans.Get(r.Context(), planID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	tasks, err := s.tasks.List(r.Context(), planID, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	includeMetadata := r.URL.Query().Get("include_metadata") == "true"
	responses := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		responses = append(responses, toTaskResponse(&tasks[i], includeMetadata))
	}
	writeJSON(w, http.StatusOK, responses)
}

// ----------------------------------------------------------------------------
// PATCH /plans/{id}/tasks/{task_id}
// ----------------------------------------------------------------------------

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	planID, err := planIDParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, s.logger, apierr.TaskNotFound(chi.URLParam(r, "taskID"), planID.String()))
		return
	}

	var req updateTaskRequest
	if err := decodeBody(r, s.validate, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	updated, err := s.tasks.UpdateStatus(r.Context(), planID, taskID, req.Status, req.Force)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(updated, true))
}

// ----------------------------------------------------------------------------
// helpers
// ----------------------------------------------------------------------------

// planIDParam parses the plan id path segment. A malformed id can never name
// an existing plan, so it reports PLAN_NOT_FOUND.
func planIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "planID")
	planID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.PlanNotFound(raw)
	}
	return planID, nil
}

func toPlanResponse(p *storage.Plan, includeSnapshot bool) planResponse {
	resp := planResponse{
		ID:          p.ID,
		TemplateKey: p.TemplateKey,
		Facts:       p.Facts,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		SnapshotMeta: snapshotMeta{
			GeneratedAt:   p.Snapshot["generated_at"],
			TaskCount:     p.Snapshot["task_count"],
			EngineVersion: p.Snapshot["engine_version"],
			TemplateKey:   p.TemplateKey,
		},
	}
	if includeSnapshot {
		resp.Snapshot = p.Snapshot
	}
	return resp
}

func toTaskResponse(t *storage.Task, includeMetadata bool) taskResponse {
	resp := taskResponse{
		ID:          t.ID,
		PlanID:      t.PlanID,
		TaskKey:     t.TaskKey,
		Title:       t.Title,
		Status:      t.Status,
		TaskKind:    plan.TaskKind(t.Metadata),
		SortKey:     t.SortKey,
		CompletedAt: t.CompletedAt,
	}
	if t.DueDate != nil {
		due := t.DueDate.Format(planner.DateLayout)
		resp.DueDate = &due
	}
	if includeMetadata {
		resp.Metadata = t.Metadata
	}
	return resp
}

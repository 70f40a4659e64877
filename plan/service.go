package plan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lebenslotse/lifeplan/apierr"
	"github.com/lebenslotse/lifeplan/metrics"
	"github.com/lebenslotse/lifeplan/planner"
	"github.com/lebenslotse/lifeplan/storage"
	"github.com/lebenslotse/lifeplan/workflow"
)

// TemplateSource loads validated workflow templates by key.
type TemplateSource interface {
	Load(templateKey string) (*workflow.Template, error)
}

// Store is the persistence surface the plan lifecycle needs.
type Store interface {
	CreatePlanWithTasks(ctx context.Context, plan *storage.Plan, tasks []storage.Task) error
	GetPlan(ctx context.Context, planID uuid.UUID) (*storage.Plan, error)
	UpdatePlanFacts(ctx context.Context, planID uuid.UUID, facts storage.JSONMap, now time.Time) error
	ReplacePlanTasks(ctx context.Context, plan *storage.Plan, tasks []storage.Task) error
	ListTasks(ctx context.Context, planID uuid.UUID, status string) ([]storage.Task, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*storage.Task, error)
	TasksByKeys(ctx context.Context, planID uuid.UUID, keys []string) ([]storage.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status string, completedAt *time.Time, now time.Time) error
}

// Service drives the plan lifecycle against a template source and a store.
type Service struct {
	templates TemplateSource
	store     Store
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a plan service.
func NewService(templates TemplateSource, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		templates: templates,
		store:     store,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create loads the template, normalizes facts, runs the planner and persists
// the plan and its tasks atomically.
func (s *Service) Create(ctx context.Context, templateKey string, facts map[string]any) (*storage.Plan, error) {
	template, normalized, generated, err := s.generate(templateKey, facts)
	if err != nil {
		return nil, err
	}

	now := s.now()
	plan := &storage.Plan{
		ID:          uuid.New(),
		TemplateKey: templateKey,
		Facts:       normalized,
		Snapshot:    buildSnapshot(template, generated, now),
		Status:      storage.PlanStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tasks, err := buildTaskRows(plan.ID, template, generated, nil, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreatePlanWithTasks(ctx, plan, tasks); err != nil {
		s.logger.Error("Failed to persist plan", "template_key", templateKey, "error", err)
		return nil, apierr.Persistence("Could not persist generated plan")
	}

	metrics.PlansCreated.Inc()
	s.logger.Info("Plan created",
		"plan_id", plan.ID, "template_key", templateKey, "task_count", len(tasks))
	return plan, nil
}

// Get loads one plan.
func (s *Service) Get(ctx context.Context, planID uuid.UUID) (*storage.Plan, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierr.PlanNotFound(planID.String())
	}
	if err != nil {
		return nil, apierr.Persistence("Could not load plan")
	}
	return plan, nil
}

// UpdateFacts shallow-merges the patch into the stored facts, re-normalizes
// and persists them, then optionally recomputes the plan.
func (s *Service) UpdateFacts(ctx context.Context, planID uuid.UUID, patch map[string]any, recompute bool) (*storage.Plan, error) {
	plan, err := s.Get(ctx, planID)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(plan.Facts)+len(patch))
	for k, v := range plan.Facts {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	normalized := NormalizeFacts(plan.TemplateKey, merged)

	now := s.now()
	if err := s.store.UpdatePlanFacts(ctx, planID, normalized, now); err != nil {
		s.logger.Error("Failed to persist facts", "plan_id", planID, "error", err)
		return nil, apierr.Persistence("Could not persist updated facts")
	}
	plan.Facts = normalized
	plan.UpdatedAt = now

	if recompute {
		return s.Recompute(ctx, planID)
	}
	return plan, nil
}

// Recompute re-runs the planner with the stored facts and replaces the
// plan's tasks in one transaction. Tasks whose key survives with status done
// keep their status and completed_at.
func (s *Service) Recompute(ctx context.Context, planID uuid.UUID) (*storage.Plan, error) {
	plan, err := s.Get(ctx, planID)
	if err != nil {
		return nil, err
	}

	template, normalized, generated, err := s.generate(plan.TemplateKey, plan.Facts)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ListTasks(ctx, planID, "")
	if err != nil {
		return nil, apierr.Persistence("Could not load current tasks")
	}
	doneByKey := make(map[string]*time.Time)
	for i := range existing {
		if existing[i].Status == storage.TaskStatusDone {
			doneByKey[existing[i].TaskKey] = existing[i].CompletedAt
		}
	}

	now := s.now()
	plan.Facts = normalized
	plan.Snapshot = buildSnapshot(template, generated, now)
	plan.UpdatedAt = now

	tasks, err := buildTaskRows(planID, template, generated, doneByKey, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.ReplacePlanTasks(ctx, plan, tasks); err != nil {
		s.logger.Error("Failed to persist recomputed plan", "plan_id", planID, "error", err)
		return nil, apierr.Persistence("Could not persist recomputed plan")
	}

	metrics.PlansRecomputed.Inc()
	s.logger.Info("Plan recomputed",
		"plan_id", planID, "task_count", len(tasks), "preserved_done", len(doneByKey))
	return plan, nil
}

// generate runs template load, normalization and the planner engine.
// Planner failures map to PLANNER_INPUT_INVALID at this boundary.
func (s *Service) generate(templateKey string, facts map[string]any) (*workflow.Template, map[string]any, *planner.Plan, error) {
	template, err := s.templates.Load(templateKey)
	if err != nil {
		return nil, nil, nil, err
	}
	normalized := NormalizeFacts(templateKey, facts)
	generated, err := planner.GeneratePlan(template.Definition, normalized)
	if err != nil {
		return nil, nil, nil, apierr.PlannerInputInvalid(err.Error())
	}
	return template, normalized, generated, nil
}

// buildSnapshot assembles the persisted snapshot object.
func buildSnapshot(template *workflow.Template, generated *planner.Plan, now time.Time) storage.JSONMap {
	return storage.JSONMap{
		"planner_plan":   plannerPlanJSON(generated),
		"template_meta":  template.Meta(),
		"engine_version": planner.EngineVersion,
		"generated_at":   now.Format(time.RFC3339),
		"task_count":     len(generated.Tasks),
	}
}

// plannerPlanJSON renders the planner artifact as plain JSON values so the
// snapshot round-trips through the JSONB column unchanged.
func plannerPlanJSON(generated *planner.Plan) map[string]any {
	items := make([]any, 0, len(generated.Tasks))
	for _, item := range generated.Tasks {
		dependsOn := make([]any, 0, len(item.DependsOn))
		for _, dep := range item.DependsOn {
			dependsOn = append(dependsOn, dep)
		}
		items = append(items, map[string]any{
			"id":            item.ID,
			"title":         item.Title,
			"relative_days": item.RelativeDays,
			"deadline":      item.Deadline,
			"depends_on":    dependsOn,
			"meta":          item.Meta,
		})
	}
	return map[string]any{
		"workflow_id": generated.WorkflowID,
		"event_date":  generated.EventDate,
		"tasks":       items,
	}
}

// buildTaskRows turns planner items into task rows in topological order with
// dense sort keys. doneByKey carries completion state to preserve across a
// recompute; nil on first creation.
func buildTaskRows(planID uuid.UUID, template *workflow.Template, generated *planner.Plan, doneByKey map[string]*time.Time, now time.Time) ([]storage.Task, error) {
	tasks := make([]storage.Task, 0, len(generated.Tasks))
	for idx, item := range generated.Tasks {
		dueDate, err := time.Parse(planner.DateLayout, item.Deadline)
		if err != nil {
			return nil, apierr.PlannerInputInvalid("Task deadline must be an ISO date string")
		}

		spec := template.TaskSpec(item.ID)
		metadata := storage.JSONMap{}
		for k, v := range item.Meta {
			metadata[k] = v
		}
		metadata["category"] = spec["category"]
		metadata["priority"] = spec["priority"]
		metadata["tags"] = stringList(spec["tags"])
		if actions, ok := spec["ui_actions"].([]any); ok && len(actions) > 0 {
			metadata["ui_actions"] = actions
		}
		blockedBy := make([]any, 0, len(item.DependsOn))
		for _, dep := range item.DependsOn {
			blockedBy = append(blockedBy, dep)
		}
		metadata["blocked_by"] = blockedBy
		metadata["block_type"] = "hard"

		status := storage.TaskStatusTodo
		var completedAt *time.Time
		if prior, wasDone := doneByKey[item.ID]; wasDone {
			status = storage.TaskStatusDone
			completedAt = prior
		}

		tasks = append(tasks, storage.Task{
			ID:          uuid.New(),
			PlanID:      planID,
			TaskKey:     item.ID,
			Title:       item.Title,
			Status:      status,
			DueDate:     &dueDate,
			Metadata:    metadata,
			SortKey:     idx,
			CompletedAt: completedAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return tasks, nil
}

func stringList(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return []any{}
	}
	return list
}

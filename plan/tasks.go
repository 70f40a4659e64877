package plan

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lebenslotse/lifeplan/apierr"
	"github.com/lebenslotse/lifeplan/storage"
)

// Task kinds derived from metadata.
const (
	TaskKindNormal   = "normal"
	TaskKindDecision = "decision"
)

// TaskService applies task status transitions with dependency and
// decision-task gating.
type TaskService struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTaskService creates a task service.
func NewTaskService(store Store, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var taskStatuses = map[string]struct{}{
	storage.TaskStatusTodo:       {},
	storage.TaskStatusInProgress: {},
	storage.TaskStatusDone:       {},
	storage.TaskStatusBlocked:    {},
	storage.TaskStatusSkipped:    {},
}

// List returns the plan's tasks in sort order, optionally filtered by
// status. Unknown status values are rejected.
func (s *TaskService) List(ctx context.Context, planID uuid.UUID, status string) ([]storage.Task, error) {
	if status != "" {
		if _, ok := taskStatuses[status]; !ok {
			return nil, apierr.RequestValidation([]string{"status: must be one of todo, in_progress, done, blocked, skipped"})
		}
	}
	tasks, err := s.store.ListTasks(ctx, planID, status)
	if err != nil {
		return nil, apierr.Persistence("Could not load tasks")
	}
	return tasks, nil
}

// UpdateStatus transitions one task. Completing a decision task is always
// refused; completing past unresolved hard dependencies requires force.
func (s *TaskService) UpdateStatus(ctx context.Context, planID, taskID uuid.UUID, newStatus string, force bool) (*storage.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierr.TaskNotFound(taskID.String(), planID.String())
	}
	if err != nil {
		return nil, apierr.Persistence("Could not load task")
	}
	if task.PlanID != planID {
		return nil, apierr.TaskNotFound(taskID.String(), planID.String())
	}

	previousStatus := task.Status
	now := s.now()

	if newStatus == storage.TaskStatusDone {
		if TaskKind(task.Metadata) == TaskKindDecision {
			return nil, apierr.DecisionTaskForbidden(task.TaskKey)
		}
		unresolved, err := s.unresolvedDependencies(ctx, task)
		if err != nil {
			return nil, err
		}
		if len(unresolved) > 0 && blockType(task.Metadata) == "hard" && !force {
			return nil, apierr.TaskBlocked(task.TaskKey, unresolved)
		}
	}

	completedAt := task.CompletedAt
	if newStatus == storage.TaskStatusDone {
		if previousStatus != storage.TaskStatusDone && completedAt == nil {
			completedAt = &now
		}
	} else {
		completedAt = nil
	}

	if err := s.store.UpdateTaskStatus(ctx, taskID, newStatus, completedAt, now); err != nil {
		s.logger.Error("Failed to update task status", "task_id", taskID, "error", err)
		return nil, apierr.Persistence("Could not update task status")
	}

	task.Status = newStatus
	task.CompletedAt = completedAt
	task.UpdatedAt = now
	return task, nil
}

// unresolvedDependencies returns the blocked_by task keys that are not yet
// done, sorted for stable error messages.
func (s *TaskService) unresolvedDependencies(ctx context.Context, task *storage.Task) ([]string, error) {
	blockedBy := metadataStrings(task.Metadata, "blocked_by")
	if len(blockedBy) == 0 {
		return nil, nil
	}

	deps, err := s.store.TasksByKeys(ctx, task.PlanID, blockedBy)
	if err != nil {
		return nil, apierr.Persistence("Could not load task dependencies")
	}
	statusByKey := make(map[string]string, len(deps))
	for i := range deps {
		statusByKey[deps[i].TaskKey] = deps[i].Status
	}

	var unresolved []string
	for _, key := range blockedBy {
		if statusByKey[key] != storage.TaskStatusDone {
			unresolved = append(unresolved, key)
		}
	}
	sort.Strings(unresolved)
	return unresolved, nil
}

// TaskKind derives the task kind: decision iff the tags contain "decision"
// or the task carries ui_actions.
func TaskKind(metadata storage.JSONMap) string {
	for _, tag := range metadataStrings(metadata, "tags") {
		if tag == "decision" {
			return TaskKindDecision
		}
	}
	if actions, ok := metadata["ui_actions"].([]any); ok && len(actions) > 0 {
		return TaskKindDecision
	}
	return TaskKindNormal
}

func blockType(metadata storage.JSONMap) string {
	kind, _ := metadata["block_type"].(string)
	return kind
}

func metadataStrings(metadata storage.JSONMap, key string) []string {
	raw, ok := metadata[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

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

// PlanStore persists plans and their task rows.
type PlanStore struct {
	db *sqlx.DB
}

// NewPlanStore creates a plan store on db.
func NewPlanStore(db *sqlx.DB) *PlanStore {
	return &PlanStore{db: db}
}

const insertPlanSQL = `
INSERT INTO plans (id, template_key, facts, snapshot, status, created_at, updated_at)
VALUES (:id, :template_key, :facts, :snapshot, :status, :created_at, :updated_at)`

const insertTaskSQL = `
INSERT INTO tasks (id, plan_id, task_key, title, description, status, due_date,
                   metadata, sort_key, completed_at, created_at, updated_at)
VALUES (:id, :plan_id, :task_key, :title, :description, :status, :due_date,
        :metadata, :sort_key, :completed_at, :created_at, :updated_at)`

// CreatePlanWithTasks inserts the plan and its tasks in one transaction.
// Either everything becomes visible or nothing does.
func (s *PlanStore) CreatePlanWithTasks(ctx context.Context, plan *Plan, tasks []Task) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertPlanSQL, plan); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		for i := range tasks {
			if _, err := tx.NamedExecContext(ctx, insertTaskSQL, &tasks[i]); err != nil {
				return fmt.Errorf("insert task %s: %w", tasks[i].TaskKey, err)
			}
		}
		return nil
	})
}

// GetPlan loads one plan by id. Returns ErrNotFound for unknown ids.
func (s *PlanStore) GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error) {
	var plan Plan
	err := s.db.GetContext(ctx, &plan, `SELECT * FROM plans WHERE id = $1`, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select plan: %w", err)
	}
	return &plan, nil
}

// UpdatePlanFacts overwrites the stored facts and bumps updated_at.
func (s *PlanStore) UpdatePlanFacts(ctx context.Context, planID uuid.UUID, facts JSONMap, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE plans SET facts = $2, updated_at = $3 WHERE id = $1`,
		planID, facts, now)
	if err != nil {
		return fmt.Errorf("update plan facts: %w", err)
	}
	return nil
}

// ReplacePlanTasks atomically overwrites the plan's facts and snapshot,
// deletes all existing tasks and reinserts the given rows. Recompute runs
// through here so a partially rebuilt plan is never visible.
func (s *PlanStore) ReplacePlanTasks(ctx context.Context, plan *Plan, tasks []Task) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE plans SET facts = $2, snapshot = $3, updated_at = $4 WHERE id = $1`,
			plan.ID, plan.Facts, plan.Snapshot, plan.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update plan: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE plan_id = $1`, plan.ID); err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		for i := range tasks {
			if _, err := tx.NamedExecContext(ctx, insertTaskSQL, &tasks[i]); err != nil {
				return fmt.Errorf("insert task %s: %w", tasks[i].TaskKey, err)
			}
		}
		return nil
	})
}

// ListTasks returns the plan's tasks in sort_key order, optionally filtered
// by status.
func (s *PlanStore) ListTasks(ctx context.Context, planID uuid.UUID, status string) ([]Task, error) {
	var (
		tasks []Task
		err   error
	)
	if status == "" {
		err = s.db.SelectContext(ctx, &tasks,
			`SELECT * FROM tasks WHERE plan_id = $1 ORDER BY sort_key ASC`, planID)
	} else {
		err = s.db.SelectContext(ctx, &tasks,
			`SELECT * FROM tasks WHERE plan_id = $1 AND status = $2 ORDER BY sort_key ASC`,
			planID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	return tasks, nil
}

// GetTask loads one task by id. Returns ErrNotFound for unknown ids.
func (s *PlanStore) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	var task Task
	err := s.db.GetContext(ctx, &task, `SELECT * FROM tasks WHERE id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select task: %w", err)
	}
	return &task, nil
}

// TasksByKeys returns the plan's tasks whose task_key is in keys.
func (s *PlanStore) TasksByKeys(ctx context.Context, planID uuid.UUID, keys []string) ([]Task, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT * FROM tasks WHERE plan_id = ? AND task_key IN (?)`, planID, keys)
	if err != nil {
		return nil, fmt.Errorf("build task key query: %w", err)
	}
	var tasks []Task
	if err := s.db.SelectContext(ctx, &tasks, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select tasks by keys: %w", err)
	}
	return tasks, nil
}

// DueSoonTasks returns the plan's todo tasks with a due date inside
// [from, to], ordered by due date then sort_key.
func (s *PlanStore) DueSoonTasks(ctx context.Context, planID uuid.UUID, from, to string) ([]Task, error) {
	var tasks []Task
	err := s.db.SelectContext(ctx, &tasks, `
SELECT * FROM tasks
WHERE plan_id = $1 AND status = $2 AND due_date IS NOT NULL
  AND due_date >= $3 AND due_date <= $4
ORDER BY due_date ASC, sort_key ASC`,
		planID, TaskStatusTodo, from, to)
	if err != nil {
		return nil, fmt.Errorf("select due-soon tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus applies a status transition. completedAt carries the new
// completed_at value, nil to clear it.
func (s *PlanStore) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status string, completedAt *time.Time, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $2, completed_at = $3, updated_at = $4 WHERE id = $1`,
		taskID, status, completedAt, now)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

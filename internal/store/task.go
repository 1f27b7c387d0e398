package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "OPEN"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Priority bounds. Out-of-range values are clamped, never rejected, so a
// sloppy LLM argument cannot fail a tool call.
const (
	MinPriority = 1
	MaxPriority = 5
)

// ClampPriority forces p into [MinPriority, MaxPriority]. Zero (unset) maps
// to the middle of the range.
func ClampPriority(p int) int {
	if p == 0 {
		return 3
	}
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// Task is one to-do item owned by a user.
type Task struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Priority    int
	Status      TaskStatus
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// listLimit caps list queries; a voice response never reads out more anyway.
const listLimit = 50

const taskColumns = `id, user_id, title, description, priority, status, due_date, created_at, updated_at`

// TaskRepo persists tasks.
type TaskRepo struct {
	db DB
}

// Create inserts a new task. A missing ID is generated, the priority is
// clamped, and the status starts as OPEN regardless of input.
func (r *TaskRepo) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Priority = ClampPriority(t.Priority)
	t.Status = StatusOpen

	const query = `
		INSERT INTO tasks (id, user_id, title, description, priority, status, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		t.ID, t.UserID, t.Title, t.Description, t.Priority, t.Status, t.DueDate,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by id. Returns (nil, nil) when no such task
// exists.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	var t Task
	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &t.Priority, &t.Status,
		&t.DueDate, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get task %q: %w", id, err)
	}
	return &t, nil
}

// GetByUser returns the user's tasks ordered by urgency: priority first, then
// nearest due date, undated tasks last.
func (r *TaskRepo) GetByUser(ctx context.Context, userID string, statuses ...TaskStatus) ([]Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1
		ORDER BY priority ASC, due_date ASC NULLS LAST, created_at ASC
		LIMIT ` + fmt.Sprint(listLimit)
	args := []any{userID}
	if len(statuses) > 0 {
		query = `SELECT ` + taskColumns + `
			FROM tasks
			WHERE user_id = $1 AND status = ANY($2)
			ORDER BY priority ASC, due_date ASC NULLS LAST, created_at ASC
			LIMIT ` + fmt.Sprint(listLimit)
		args = append(args, statuses)
	}
	return r.list(ctx, query, args...)
}

// Search returns the user's tasks whose title or description matches the
// query, case-insensitively.
func (r *TaskRepo) Search(ctx context.Context, userID, q string) ([]Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1 AND (title ILIKE $2 OR description ILIKE $2)
		ORDER BY priority ASC, due_date ASC NULLS LAST
		LIMIT ` + fmt.Sprint(listLimit)
	return r.list(ctx, query, userID, "%"+q+"%")
}

// GetDueToday returns the user's open or in-progress tasks due before the end
// of the current day.
func (r *TaskRepo) GetDueToday(ctx context.Context, userID string, now time.Time) ([]Task, error) {
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1
		  AND status IN ('OPEN', 'IN_PROGRESS')
		  AND due_date IS NOT NULL AND due_date <= $2
		ORDER BY due_date ASC, priority ASC
		LIMIT ` + fmt.Sprint(listLimit)
	return r.list(ctx, query, userID, endOfDay)
}

// GetHighPriority returns up to five of the user's most urgent open tasks
// (priority 1 or 2).
func (r *TaskRepo) GetHighPriority(ctx context.Context, userID string) ([]Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1
		  AND status IN ('OPEN', 'IN_PROGRESS')
		  AND priority <= 2
		ORDER BY priority ASC, due_date ASC NULLS LAST
		LIMIT 5`
	return r.list(ctx, query, userID)
}

// GetOpenCount returns how many of the user's tasks are open or in progress.
func (r *TaskRepo) GetOpenCount(ctx context.Context, userID string) (int, error) {
	const query = `
		SELECT count(*) FROM tasks
		WHERE user_id = $1 AND status IN ('OPEN', 'IN_PROGRESS')`
	var n int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: open count: %w", err)
	}
	return n, nil
}

// Update replaces the mutable fields of an existing task. The priority is
// clamped and the status validated.
func (r *TaskRepo) Update(ctx context.Context, t *Task) error {
	t.Priority = ClampPriority(t.Priority)
	if !t.Status.IsValid() {
		return fmt.Errorf("store: update task: invalid status %q", t.Status)
	}

	const query = `
		UPDATE tasks SET
			title = $2, description = $3, priority = $4, status = $5,
			due_date = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		t.ID, t.Title, t.Description, t.Priority, t.Status, t.DueDate,
	).Scan(&t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("store: task %q not found", t.ID)
		}
		return fmt.Errorf("store: update task: %w", err)
	}
	return nil
}

// UpdateStatus transitions a task to the given status.
func (r *TaskRepo) UpdateStatus(ctx context.Context, id string, status TaskStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("store: invalid status %q", status)
	}
	const query = `UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: task %q not found", id)
	}
	return nil
}

// Delete removes a task. Deleting a non-existent task is not an error.
func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("store: delete task %q: %w", id, err)
	}
	return nil
}

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Title, &t.Description, &t.Priority, &t.Status,
			&t.DueDate, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	return tasks, nil
}

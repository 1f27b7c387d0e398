package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/fault"
	"github.com/voxloop/voxloop/internal/prompt"
	"github.com/voxloop/voxloop/internal/signal"
	"github.com/voxloop/voxloop/internal/store"
)

// TaskManager operates on the caller's tasks. Every tool hits the database,
// so all of them are slow and covered by fillers. Every tool requires an
// authenticated user.
type TaskManager struct {
	base
	store *store.Store
}

var (
	_ Agent     = (*TaskManager)(nil)
	_ AuthGated = (*TaskManager)(nil)
)

// NewTaskManager creates the task management agent.
func NewTaskManager(prompts *prompt.Loader, st *store.Store) *TaskManager {
	return &TaskManager{
		base:  base{name: TaskManagerName, prompts: prompts},
		store: st,
	}
}

// OnEnter pre-fetches the caller's open task count so the opener line can
// mention it without a tool round trip.
func (a *TaskManager) OnEnter(ctx context.Context, g *callctx.GlobalContext) error {
	u := g.User()
	if !u.IsAuthenticated || a.store == nil {
		return nil
	}
	n, err := a.store.Tasks.GetOpenCount(ctx, u.UserID)
	if err != nil {
		return nil
	}
	g.Session.Scratchpad().Set("open_task_count", n)
	return nil
}

// ProcessSignal delegates everything to the model.
func (a *TaskManager) ProcessSignal(ctx context.Context, g *callctx.GlobalContext, sig signal.Signal) (*signal.Response, error) {
	return nil, nil
}

// RequiresAuth reports that no task tool works for an anonymous caller.
func (a *TaskManager) RequiresAuth() bool { return true }

func (a *TaskManager) Tools() []Tool {
	return []Tool{
		{
			Name:        "create_task",
			Description: "Create a new task for the caller.",
			IsSlow:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":       map[string]any{"type": "string", "description": "Short task title."},
					"description": map[string]any{"type": "string", "description": "Optional details."},
					"priority":    map[string]any{"type": "integer", "description": "1 (highest) to 5 (lowest). Default 3."},
					"due_date":    map[string]any{"type": "string", "description": "Due date, YYYY-MM-DD or full timestamp."},
				},
				"required": []string{"title"},
			},
			Invoke: a.createTask,
		},
		{
			Name:        "get_all_tasks",
			Description: "List the caller's tasks, most urgent first. Optionally filter by status.",
			IsSlow:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status": map[string]any{
						"type":        "string",
						"description": "Optional status filter.",
						"enum":        []string{"OPEN", "IN_PROGRESS", "COMPLETED", "CANCELLED"},
					},
				},
			},
			Invoke: a.getTasks,
		},
		{
			Name:        "search_tasks",
			Description: "Search the caller's tasks by words from the title or description.",
			IsSlow:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Search words."},
				},
				"required": []string{"query"},
			},
			Invoke: a.searchTasks,
		},
		{
			Name:        "update_task",
			Description: "Change a task's title, description, priority, or due date.",
			IsSlow:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_id":     map[string]any{"type": "string", "description": "Task id from a previous listing."},
					"title":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"priority":    map[string]any{"type": "integer"},
					"due_date":    map[string]any{"type": "string"},
				},
				"required": []string{"task_id"},
			},
			Invoke: a.updateTask,
		},
		{
			Name:        "update_task_status",
			Description: "Mark a task open, in progress, completed, or cancelled.",
			IsSlow:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_id": map[string]any{"type": "string"},
					"status": map[string]any{
						"type": "string",
						"enum": []string{"OPEN", "IN_PROGRESS", "COMPLETED", "CANCELLED"},
					},
				},
				"required": []string{"task_id", "status"},
			},
			Invoke: a.updateTaskStatus,
		},
		{
			Name:        "delete_task",
			Description: "Delete a task permanently. Confirm with the caller first.",
			IsSlow:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_id": map[string]any{"type": "string"},
				},
				"required": []string{"task_id"},
			},
			Invoke: a.deleteTask,
		},
		{
			Name:        "get_todays_tasks",
			Description: "List the caller's tasks due today.",
			IsSlow:      true,
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Invoke:      a.todaysTasks,
		},
		{
			Name:        "get_high_priority_tasks",
			Description: "List the caller's most urgent open tasks.",
			IsSlow:      true,
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Invoke:      a.highPriorityTasks,
		},
		{
			Name:        "get_task_summary",
			Description: "Get a spoken-style summary of the caller's workload: counts, high-priority items, and what is due today.",
			IsSlow:      true,
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Invoke:      a.taskSummary,
		},
	}
}

// requireUser returns the authenticated user id or an authentication fault.
func (a *TaskManager) requireUser(g *callctx.GlobalContext) (string, error) {
	u := g.User()
	if !u.IsAuthenticated {
		return "", fault.NewAuthenticationError("task tools require a registered caller")
	}
	return u.UserID, nil
}

func (a *TaskManager) createTask(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	userID, err := a.requireUser(g)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(argString(args, "title"))
	if title == "" {
		return map[string]any{"status": "error", "message": "a task title is required"}, nil
	}
	due, err := ParseDueDate(argString(args, "due_date"))
	if err != nil {
		return map[string]any{"status": "error", "message": err.Error()}, nil
	}

	t := &store.Task{
		UserID:      userID,
		Title:       title,
		Description: argString(args, "description"),
		Priority:    argInt(args, "priority"),
		DueDate:     due,
	}
	if err := a.store.Tasks.Create(ctx, t); err != nil {
		return nil, err
	}
	return map[string]any{"status": "created", "task": taskResult(*t)}, nil
}

func (a *TaskManager) getTasks(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	userID, err := a.requireUser(g)
	if err != nil {
		return nil, err
	}
	var statuses []store.TaskStatus
	if s := store.TaskStatus(argString(args, "status")); s != "" {
		if !s.IsValid() {
			return map[string]any{"status": "error", "message": fmt.Sprintf("unknown status %q", s)}, nil
		}
		statuses = append(statuses, s)
	}
	tasks, err := a.store.Tasks.GetByUser(ctx, userID, statuses...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "count": len(tasks), "tasks": taskResults(tasks)}, nil
}

func (a *TaskManager) searchTasks(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	userID, err := a.requireUser(g)
	if err != nil {
		return nil, err
	}
	q := strings.TrimSpace(argString(args, "query"))
	if q == "" {
		return map[string]any{"status": "error", "message": "a search query is required"}, nil
	}
	tasks, err := a.store.Tasks.Search(ctx, userID, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "count": len(tasks), "tasks": taskResults(tasks)}, nil
}

func (a *TaskManager) updateTask(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	userID, err := a.requireUser(g)
	if err != nil {
		return nil, err
	}
	t, err := a.ownedTask(ctx, userID, argString(args, "task_id"))
	if err != nil || t == nil {
		return notFoundOrErr(err)
	}

	if v := argString(args, "title"); v != "" {
		t.Title = v
	}
	if v, ok := args["description"].(string); ok {
		t.Description = v
	}
	if v := argInt(args, "priority"); v != 0 {
		t.Priority = v
	}
	if v := argString(args, "due_date"); v != "" {
		due, err := ParseDueDate(v)
		if err != nil {
			return map[string]any{"status": "error", "message": err.Error()}, nil
		}
		t.DueDate = due
	}
	if err := a.store.Tasks.Update(ctx, t); err != nil {
		return nil, err
	}
	return map[string]any{"status": "updated", "task": taskResult(*t)}, nil
}

func (a *TaskManager) updateTaskStatus(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	userID, err := a.requireUser(g)
	if err != nil {
		return nil, err
	}
	t, err := a.ownedTask(ctx, userID, argString(args, "task_id"))
	if err != nil || t == nil {
		return notFoundOrErr(err)
	}
	status := store.TaskStatus(argString(args, "status"))
	if !status.IsValid() {
		return map[string]any{"status": "error", "message": fmt.Sprintf("unknown status %q", status)}, nil
	}
	if err := a.store.Tasks.UpdateStatus(ctx, t.ID, status); err != nil {
		return nil, err
	}
	return map[string]any{"status": "updated", "task_id": t.ID, "new_status": string(status)}, nil
}

func (a *TaskManager) deleteTask(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	userID, err := a.requireUser(g)
	if err != nil {
		return nil, err
	}
	t, err := a.ownedTask(ctx, userID, argString(args, "task_id"))
	if err != nil || t == nil {
		return notFoundOrErr(err)
	}
	if err := a.store.Tasks.Delete(ctx, t.ID); err != nil {
		return nil, err
	}
	return map[string]any{"status": "deleted", "task_id": t.ID}, nil
}

func (a *TaskManager) todaysTasks(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	userID, err := a.requireUser(g)
	if err != nil {
		return nil, err
	}
	tasks, err := a.store.Tasks.GetDueToday(ctx, userID, g.CurrentTime())
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "count": len(tasks), "tasks": taskResults(tasks)}, nil
}

func (a *TaskManager) highPriorityTasks(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	userID, err := a.requireUser(g)
	if err != nil {
		return nil, err
	}
	tasks, err := a.store.Tasks.GetHighPriority(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "count": len(tasks), "tasks": taskResults(tasks)}, nil
}

func (a *TaskManager) taskSummary(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	userID, err := a.requireUser(g)
	if err != nil {
		return nil, err
	}
	open, err := a.store.Tasks.GetByUser(ctx, userID, store.StatusOpen, store.StatusInProgress)
	if err != nil {
		return nil, err
	}
	dueToday, err := a.store.Tasks.GetDueToday(ctx, userID, g.CurrentTime())
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":    "ok",
		"summary":   SummarizeTasks(open),
		"due_today": len(dueToday),
	}, nil
}

// ownedTask fetches a task and verifies ownership. Tasks belonging to other
// users are reported as missing, not as forbidden, so ids never leak.
func (a *TaskManager) ownedTask(ctx context.Context, userID, taskID string) (*store.Task, error) {
	if taskID == "" {
		return nil, nil
	}
	t, err := a.store.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil || t.UserID != userID {
		return nil, nil
	}
	return t, nil
}

func notFoundOrErr(err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "error", "message": "no such task"}, nil
}

// SummarizeTasks renders a short spoken-style workload summary.
func SummarizeTasks(open []store.Task) string {
	if len(open) == 0 {
		return "You have no open tasks."
	}
	var high []string
	for _, t := range open {
		if t.Priority <= 2 {
			high = append(high, t.Title)
		}
	}
	s := fmt.Sprintf("You have %d open task%s.", len(open), plural(len(open)))
	if len(high) > 0 {
		s += fmt.Sprintf(" %d high priority: %s.", len(high), strings.Join(high, ", "))
	}
	return s
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// ParseDueDate parses a due date from tool arguments. A bare date means the
// end of that day, so "due today" stays true until midnight. Empty input
// yields a nil date.
func ParseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		eod := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
		return &eod, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("could not understand the date %q; use YYYY-MM-DD", s)
}

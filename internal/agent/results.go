package agent

import (
	"time"

	"github.com/voxloop/voxloop/internal/store"
)

// taskResult flattens a task into the map handed back to the model. Dates are
// RFC 3339 so the model can read them back verbatim.
func taskResult(t store.Task) map[string]any {
	m := map[string]any{
		"task_id":  t.ID,
		"title":    t.Title,
		"priority": t.Priority,
		"status":   string(t.Status),
	}
	if t.Description != "" {
		m["description"] = t.Description
	}
	if t.DueDate != nil {
		m["due_date"] = t.DueDate.Format(time.RFC3339)
	}
	return m
}

func taskResults(tasks []store.Task) []map[string]any {
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResult(t))
	}
	return out
}

package models

import (
	"slices"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusBlocked   TaskStatus = "blocked"
	TaskStatusCompleted TaskStatus = "completed"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusExecuting, TaskStatusBlocked, TaskStatusCompleted:
		return true
	}
	return false
}

type Task struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Priority     int        `json:"priority"`
	Dependencies []string   `json:"dependencies"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// CompletionEntryID links a completed task to the progress log entry
	// written by its completion commit.
	CompletionEntryID string `json:"completion_entry_id,omitempty"`
}

// TaskSpec is the caller-supplied part of a task, used by init and add.
type TaskSpec struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description" yaml:"description"`
	Priority     int      `json:"priority" yaml:"priority"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
}

// NewTask builds a pending task from spec. Duplicate dependency ids are
// dropped while keeping their first-seen order.
func NewTask(spec TaskSpec, now time.Time) *Task {
	deps := make([]string, 0, len(spec.Dependencies))
	for _, d := range spec.Dependencies {
		if !slices.Contains(deps, d) {
			deps = append(deps, d)
		}
	}
	return &Task{
		ID:           spec.ID,
		Name:         spec.Name,
		Description:  spec.Description,
		Priority:     spec.Priority,
		Dependencies: deps,
		Status:       TaskStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = slices.Clone(t.Dependencies)
	if c.Dependencies == nil {
		c.Dependencies = []string{}
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

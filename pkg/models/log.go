package models

import "time"

type EntryKind string

const (
	EntryKindInitialized   EntryKind = "initialized"
	EntryKindTaskAdded     EntryKind = "task_added"
	EntryKindStatusChanged EntryKind = "status_changed"
	EntryKindCompleted     EntryKind = "completed"
)

// LogEntry is one record of the progress log. Completion entries carry the
// summary of the work done and the hint left for the next worker.
type LogEntry struct {
	ID           string    `json:"id"`
	Kind         EntryKind `json:"kind"`
	TaskID       string    `json:"task_id,omitempty"`
	Summary      string    `json:"summary"`
	NextStepHint string    `json:"next_step_hint,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

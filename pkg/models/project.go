package models

import "time"

type ProjectStatus string

const (
	ProjectStatusNotStarted ProjectStatus = "not_started"
	ProjectStatusInProgress ProjectStatus = "in_progress"
	ProjectStatusCompleted  ProjectStatus = "completed"
)

// Project is a complete snapshot of the task collection. Tasks are kept in
// insertion order, which the scheduler uses to break priority ties.
type Project struct {
	Goal      string    `json:"goal"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Tasks     []*Task   `json:"tasks"`
}

// Task returns the task with the given id, or nil.
func (p *Project) Task(id string) *Task {
	if i := p.Index(id); i >= 0 {
		return p.Tasks[i]
	}
	return nil
}

// Index returns the insertion position of the task with the given id, or -1.
func (p *Project) Index(id string) int {
	for i, t := range p.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// CompletedIDs returns the set of ids whose status is completed.
func (p *Project) CompletedIDs() map[string]bool {
	done := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.Status == TaskStatusCompleted {
			done[t.ID] = true
		}
	}
	return done
}

// CountByStatus tallies tasks per status.
func (p *Project) CountByStatus() map[TaskStatus]int {
	counts := make(map[TaskStatus]int, 4)
	for _, t := range p.Tasks {
		counts[t.Status]++
	}
	return counts
}

// WithStatus returns the tasks currently in status s, in insertion order.
func (p *Project) WithStatus(s TaskStatus) []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.Status == s {
			out = append(out, t)
		}
	}
	return out
}

// Status derives the overall project status from its tasks.
func (p *Project) Status() ProjectStatus {
	if len(p.Tasks) == 0 {
		return ProjectStatusNotStarted
	}
	for _, t := range p.Tasks {
		if t.Status != TaskStatusCompleted {
			return ProjectStatusInProgress
		}
	}
	return ProjectStatusCompleted
}

// Clone returns a deep copy of p.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	c.Tasks = make([]*Task, len(p.Tasks))
	for i, t := range p.Tasks {
		c.Tasks[i] = t.Clone()
	}
	return &c
}

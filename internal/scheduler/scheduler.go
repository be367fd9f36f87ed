// Package scheduler picks the next task a worker should take. It never
// mutates the project; claiming is the coordinator's job.
package scheduler

import (
	"cmp"
	"slices"

	"github.com/nick-dorsch/relay/internal/graph"
	"github.com/nick-dorsch/relay/pkg/models"
)

// Reason explains a scheduling decision.
type Reason string

const (
	// ReasonSelected means Result.Task holds the chosen task.
	ReasonSelected Reason = "selected"
	// ReasonAllDone means every task is completed, or there are none.
	ReasonAllDone Reason = "all_done"
	// ReasonInFlight means nothing is eligible but some task is executing;
	// its completion may unlock more work.
	ReasonInFlight Reason = "in_flight"
	// ReasonStalled means nothing is eligible and nothing is executing, so
	// only a manual status change can make progress (e.g. unblocking).
	ReasonStalled Reason = "stalled"
)

// Result is the outcome of Next. Task is nil unless Reason is
// ReasonSelected.
type Result struct {
	Task      *models.Task `json:"task,omitempty"`
	Reason    Reason       `json:"reason"`
	Executing []string     `json:"executing,omitempty"`
	Blocked   []string     `json:"blocked,omitempty"`
}

// Found reports whether a task was selected.
func (r Result) Found() bool {
	return r.Task != nil
}

// Eligible returns every pending task whose dependencies are completed,
// ordered by priority (highest first) and then insertion order.
func Eligible(p *models.Project) []*models.Task {
	completed := p.CompletedIDs()

	type candidate struct {
		task  *models.Task
		index int
	}
	var cands []candidate
	for i, t := range p.Tasks {
		if t.Status == models.TaskStatusPending && graph.Eligible(t, completed) {
			cands = append(cands, candidate{task: t, index: i})
		}
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(b.task.Priority, a.task.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})

	out := make([]*models.Task, len(cands))
	for i, c := range cands {
		out[i] = c.task
	}
	return out
}

// Next selects the highest-priority eligible task, breaking ties by
// insertion order. The same project always yields the same result.
func Next(p *models.Project) Result {
	if eligible := Eligible(p); len(eligible) > 0 {
		return Result{Task: eligible[0], Reason: ReasonSelected}
	}

	var res Result
	for _, t := range p.Tasks {
		switch t.Status {
		case models.TaskStatusExecuting:
			res.Executing = append(res.Executing, t.ID)
		case models.TaskStatusBlocked:
			res.Blocked = append(res.Blocked, t.ID)
		}
	}
	switch {
	case len(res.Executing) > 0:
		res.Reason = ReasonInFlight
	case p.Status() != models.ProjectStatusInProgress:
		res.Reason = ReasonAllDone
	default:
		res.Reason = ReasonStalled
	}
	return res
}

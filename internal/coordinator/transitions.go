package coordinator

import (
	"time"

	"github.com/nick-dorsch/relay/pkg/models"
)

// trigger identifies what is asking for a status change. Some edges are
// only reachable through one trigger: completed is never set manually.
type trigger int

const (
	byManual trigger = iota
	byClaim
	byCompletion
)

func (tr trigger) String() string {
	switch tr {
	case byClaim:
		return "claim"
	case byCompletion:
		return "completion"
	default:
		return "manual update"
	}
}

type edge struct {
	from, to models.TaskStatus
}

var transitions = map[edge][]trigger{
	{models.TaskStatusPending, models.TaskStatusExecuting}:   {byManual, byClaim},
	{models.TaskStatusExecuting, models.TaskStatusBlocked}:   {byManual},
	{models.TaskStatusBlocked, models.TaskStatusPending}:     {byManual},
	{models.TaskStatusExecuting, models.TaskStatusExecuting}: {byManual},
	{models.TaskStatusPending, models.TaskStatusCompleted}:   {byCompletion},
	{models.TaskStatusExecuting, models.TaskStatusCompleted}: {byCompletion},
}

func validateTransition(t *models.Task, to models.TaskStatus, by trigger) error {
	if !to.Valid() {
		return models.Errorf(models.KindInvalidStateTransition, t.ID, "unknown status %q", to)
	}
	for _, allowed := range transitions[edge{t.Status, to}] {
		if allowed == by {
			return nil
		}
	}
	return models.Errorf(models.KindInvalidStateTransition, t.ID,
		"cannot move task %q from %s to %s by %s", t.ID, t.Status, to, by)
}

// apply sets the new status and the timestamps that go with it.
func apply(t *models.Task, to models.TaskStatus, now time.Time) {
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case models.TaskStatusExecuting:
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
	case models.TaskStatusCompleted:
		completed := now
		t.CompletedAt = &completed
	}
}

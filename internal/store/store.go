// Package store owns the durable project snapshot: the Backend contract,
// the JSON file backend, and the validation applied whenever tasks are
// inserted.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/nick-dorsch/relay/internal/graph"
	"github.com/nick-dorsch/relay/pkg/models"
)

// Backend persists complete project snapshots.
//
// Save is a compare-and-set on Project.Revision: it fails with a Conflict
// error when the stored revision differs from p.Revision, and increments
// p.Revision on success. A reader must only ever observe the fully prior or
// the fully new snapshot.
type Backend interface {
	Load(ctx context.Context) (*models.Project, error)
	Save(ctx context.Context, p *models.Project) error
	Exists(ctx context.Context) (bool, error)
	Close() error
}

// errMissingID is returned for tasks without an id. The coordinator assigns
// ids before tasks reach the store, so this only fires on direct misuse.
var errMissingID = errors.New("task id is required")

// AddTask validates t against p and appends it. p is left untouched when
// validation fails.
func AddTask(p *models.Project, t *models.Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return errMissingID
	}
	if p.Task(t.ID) != nil {
		return models.Errorf(models.KindDuplicateID, t.ID, "task %q already exists", t.ID)
	}
	if cycle := graph.New(p.Tasks).CyclePath(t); cycle != nil {
		return models.Errorf(models.KindCyclicDependency, t.ID, "dependency cycle %s", strings.Join(cycle, " -> "))
	}
	for _, d := range t.Dependencies {
		if p.Task(d) == nil {
			return models.Errorf(models.KindUnknownDependency, t.ID, "task %q depends on unknown task %q", t.ID, d)
		}
	}
	p.Tasks = append(p.Tasks, t)
	return nil
}

// GetTask returns the task with the given id or a NotFound error.
func GetTask(p *models.Project, id string) (*models.Task, error) {
	t := p.Task(id)
	if t == nil {
		return nil, models.Errorf(models.KindNotFound, id, "task %q not found", id)
	}
	return t, nil
}

// ValidateTasks checks a batch of tasks as one unit: ids must be unique and
// non-empty, every dependency must name a task in the batch, and the batch
// must be acyclic. Dependencies may point at tasks later in the batch.
func ValidateTasks(tasks []*models.Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if strings.TrimSpace(t.ID) == "" {
			return errMissingID
		}
		if seen[t.ID] {
			return models.Errorf(models.KindDuplicateID, t.ID, "task %q appears more than once", t.ID)
		}
		seen[t.ID] = true
	}

	g := graph.New(tasks)
	if _, ok := g.TopoOrder(); !ok {
		cycle := g.FindCycle()
		id := ""
		if len(cycle) > 0 {
			id = cycle[0]
		}
		return models.Errorf(models.KindCyclicDependency, id, "dependency cycle %s", strings.Join(cycle, " -> "))
	}

	for _, t := range tasks {
		for _, d := range t.Dependencies {
			if !seen[d] {
				return models.Errorf(models.KindUnknownDependency, t.ID, "task %q depends on unknown task %q", t.ID, d)
			}
		}
	}
	return nil
}

// CheckIntegrity validates a snapshot read back from storage. Any violation
// means the artifact was edited or damaged outside the coordinator.
func CheckIntegrity(p *models.Project) error {
	if err := ValidateTasks(p.Tasks); err != nil {
		return models.Corrupt(nil, "stored project fails validation: %v", err)
	}
	for _, t := range p.Tasks {
		if !t.Status.Valid() {
			return models.Corrupt(nil, "task %q has unknown status %q", t.ID, t.Status)
		}
	}
	return nil
}

func conflict(stored, expected int64) error {
	return models.Errorf(models.KindConflict, "", "store revision is %d, expected %d", stored, expected)
}

func corruptf(err error, path string) error {
	return models.Corrupt(err, "read %s", path)
}

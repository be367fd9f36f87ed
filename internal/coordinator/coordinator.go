// Package coordinator is the single entry point through which workers read
// and mutate a project. Every mutation runs under the state lock as
// load, mutate in memory, commit.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nick-dorsch/relay/internal/graph"
	"github.com/nick-dorsch/relay/internal/progress"
	"github.com/nick-dorsch/relay/internal/scheduler"
	"github.com/nick-dorsch/relay/internal/store"
	"github.com/nick-dorsch/relay/pkg/models"
)

// DefaultTailSize is the number of log entries ReadState returns when no
// other size is configured.
const DefaultTailSize = 10

// JointCommitter is implemented by backends that can persist a snapshot and
// a log entry in one transaction.
type JointCommitter interface {
	SaveWithEntry(ctx context.Context, p *models.Project, entry *models.LogEntry) error
}

// Coordinator implements the relay operations over a Backend and a Log.
type Coordinator struct {
	backend  store.Backend
	log      progress.Log
	joint    JointCommitter
	locker   *store.Locker
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	tailSize int
}

type Option func(*Coordinator)

// WithLocker serializes operations across processes through l. Without it
// only the revision check guards concurrent writers.
func WithLocker(l *store.Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(c *Coordinator) { c.newID = f }
}

// WithTailSize sets how many log entries ReadState returns.
func WithTailSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.tailSize = n
		}
	}
}

// New returns a Coordinator. When backend and log are the same value and it
// implements JointCommitter, completion commits use a single transaction.
func New(backend store.Backend, log progress.Log, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:  backend,
		log:      log,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		tailSize: DefaultTailSize,
	}
	if j, ok := backend.(JointCommitter); ok {
		if l, ok := log.(JointCommitter); ok && j == l {
			c.joint = j
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State is a consistent view of the project and its recent history.
type State struct {
	Project *models.Project           `json:"project"`
	Status  models.ProjectStatus      `json:"status"`
	Counts  map[models.TaskStatus]int `json:"counts"`
	Recent  []models.LogEntry         `json:"recent"`
	Next    scheduler.Result          `json:"next"`

	// Executing lists tasks a worker claimed and has not finished. After a
	// crash these need a manual decision.
	Executing []string `json:"executing"`

	// Dangling holds completion entries whose snapshot save never landed.
	Dangling []models.LogEntry `json:"dangling,omitempty"`
}

// InitProject creates the project. The whole batch is validated before
// anything is written.
func (c *Coordinator) InitProject(ctx context.Context, goal string, specs []models.TaskSpec) (*models.Project, error) {
	release, err := c.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release()

	exists, err := c.backend.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, models.Errorf(models.KindAlreadyInitialized, "", "project already initialized")
	}

	now := c.now()
	tasks := make([]*models.Task, 0, len(specs))
	for _, s := range specs {
		if strings.TrimSpace(s.ID) == "" {
			s.ID = c.newID()
		}
		tasks = append(tasks, models.NewTask(s, now))
	}
	if err := store.ValidateTasks(tasks); err != nil {
		return nil, err
	}

	p := &models.Project{
		Goal:      goal,
		CreatedAt: now,
		UpdatedAt: now,
		Tasks:     tasks,
	}
	entry := c.entry(models.EntryKindInitialized, "", fmt.Sprintf("initialized project with %d tasks", len(tasks)), now)
	if err := c.commit(ctx, p, entry); err != nil {
		if models.IsRetryable(err) {
			return nil, models.Errorf(models.KindAlreadyInitialized, "", "project initialized concurrently")
		}
		return nil, err
	}
	c.logger.Info("project initialized", "goal", goal, "tasks", len(tasks))
	return p, nil
}

// ReadState loads the snapshot first and the log second. A completion is
// logged before its snapshot is saved, so every completed task seen here
// has its entry in the log.
func (c *Coordinator) ReadState(ctx context.Context) (*State, error) {
	release, err := c.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := c.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := c.log.Tail(ctx, 0)
	if err != nil {
		return nil, err
	}
	entries := slices.Collect(seq)

	st := &State{
		Project:   p,
		Status:    p.Status(),
		Counts:    p.CountByStatus(),
		Next:      scheduler.Next(p),
		Executing: []string{},
	}
	for _, t := range p.WithStatus(models.TaskStatusExecuting) {
		st.Executing = append(st.Executing, t.ID)
	}
	for _, e := range entries {
		if e.Kind != models.EntryKindCompleted {
			continue
		}
		if t := p.Task(e.TaskID); t == nil || t.CompletionEntryID != e.ID {
			st.Dangling = append(st.Dangling, e)
		}
	}
	if len(st.Dangling) > 0 {
		c.logger.Warn("progress log holds completion entries without a matching snapshot", "count", len(st.Dangling))
	}
	if len(entries) > c.tailSize {
		entries = entries[len(entries)-c.tailSize:]
	}
	st.Recent = entries
	if st.Recent == nil {
		st.Recent = []models.LogEntry{}
	}
	return st, nil
}

// GetNextTask reports the task a worker should take next without claiming
// it.
func (c *Coordinator) GetNextTask(ctx context.Context) (scheduler.Result, error) {
	release, err := c.acquire(ctx, true)
	if err != nil {
		return scheduler.Result{}, err
	}
	defer release()

	p, err := c.backend.Load(ctx)
	if err != nil {
		return scheduler.Result{}, err
	}
	return scheduler.Next(p), nil
}

// ClaimTask moves an eligible pending task to executing. Claiming a task
// that is already executing is a Conflict: another worker got there first.
func (c *Coordinator) ClaimTask(ctx context.Context, id string) (*models.Task, error) {
	var claimed *models.Task
	_, err := c.mutate(ctx, "claim", func(p *models.Project, now time.Time) (*models.LogEntry, error) {
		t, err := store.GetTask(p, id)
		if err != nil {
			return nil, err
		}
		if err := checkClaimable(p, t); err != nil {
			return nil, err
		}
		apply(t, models.TaskStatusExecuting, now)
		claimed = t
		return c.entry(models.EntryKindStatusChanged, t.ID, fmt.Sprintf("claimed task %q", t.ID), now), nil
	})
	if err != nil {
		return nil, err
	}
	return claimed.Clone(), nil
}

// ClaimNext selects and claims the next task in one step. When nothing is
// eligible the result carries the reason and nothing is written.
func (c *Coordinator) ClaimNext(ctx context.Context) (scheduler.Result, error) {
	var res scheduler.Result
	_, err := c.mutate(ctx, "claim_next", func(p *models.Project, now time.Time) (*models.LogEntry, error) {
		res = scheduler.Next(p)
		if !res.Found() {
			return nil, nil
		}
		apply(res.Task, models.TaskStatusExecuting, now)
		return c.entry(models.EntryKindStatusChanged, res.Task.ID, fmt.Sprintf("claimed task %q", res.Task.ID), now), nil
	})
	if err != nil {
		return scheduler.Result{}, err
	}
	if res.Found() {
		res.Task = res.Task.Clone()
	}
	return res, nil
}

// CompleteTask marks the task completed and records the summary and hint
// for the next worker. The entry is durable before the status flips.
func (c *Coordinator) CompleteTask(ctx context.Context, id, summary, hint string) (*models.Task, error) {
	var done *models.Task
	_, err := c.mutate(ctx, "complete", func(p *models.Project, now time.Time) (*models.LogEntry, error) {
		t, err := store.GetTask(p, id)
		if err != nil {
			return nil, err
		}
		if err := validateTransition(t, models.TaskStatusCompleted, byCompletion); err != nil {
			return nil, err
		}
		entry := c.entry(models.EntryKindCompleted, t.ID, summary, now)
		entry.NextStepHint = hint
		apply(t, models.TaskStatusCompleted, now)
		t.CompletionEntryID = entry.ID
		done = t
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return done.Clone(), nil
}

// AddTask inserts a new pending task. An empty id is replaced with a
// generated one.
func (c *Coordinator) AddTask(ctx context.Context, spec models.TaskSpec) (*models.Task, error) {
	if strings.TrimSpace(spec.ID) == "" {
		spec.ID = c.newID()
	}
	var added *models.Task
	_, err := c.mutate(ctx, "add", func(p *models.Project, now time.Time) (*models.LogEntry, error) {
		t := models.NewTask(spec, now)
		if err := store.AddTask(p, t); err != nil {
			return nil, err
		}
		added = t
		return c.entry(models.EntryKindTaskAdded, t.ID, fmt.Sprintf("added task %q", t.ID), now), nil
	})
	if err != nil {
		return nil, err
	}
	return added.Clone(), nil
}

// UpdateTaskStatus applies a manual status change. Completion is only
// reachable through CompleteTask.
func (c *Coordinator) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error) {
	var updated *models.Task
	_, err := c.mutate(ctx, "set_status", func(p *models.Project, now time.Time) (*models.LogEntry, error) {
		t, err := store.GetTask(p, id)
		if err != nil {
			return nil, err
		}
		from := t.Status
		if err := validateTransition(t, status, byManual); err != nil {
			return nil, err
		}
		apply(t, status, now)
		updated = t
		return c.entry(models.EntryKindStatusChanged, t.ID, fmt.Sprintf("task %q moved from %s to %s", t.ID, from, status), now), nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// GetTask returns a single task.
func (c *Coordinator) GetTask(ctx context.Context, id string) (*models.Task, error) {
	release, err := c.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := c.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	return store.GetTask(p, id)
}

// Dependencies returns the tasks id depends on, in declared order.
func (c *Coordinator) Dependencies(ctx context.Context, id string) ([]*models.Task, error) {
	release, err := c.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := c.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	t, err := store.GetTask(p, id)
	if err != nil {
		return nil, err
	}
	deps := make([]*models.Task, 0, len(t.Dependencies))
	for _, d := range t.Dependencies {
		if dt := p.Task(d); dt != nil {
			deps = append(deps, dt)
		}
	}
	return deps, nil
}

// Dependents returns the tasks that list id as a dependency, in insertion
// order.
func (c *Coordinator) Dependents(ctx context.Context, id string) ([]*models.Task, error) {
	release, err := c.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := c.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := store.GetTask(p, id); err != nil {
		return nil, err
	}
	ids := graph.New(p.Tasks).Dependents(id)
	out := make([]*models.Task, 0, len(ids))
	for _, d := range ids {
		out = append(out, p.Task(d))
	}
	return out, nil
}

func checkClaimable(p *models.Project, t *models.Task) error {
	switch t.Status {
	case models.TaskStatusExecuting:
		return models.Errorf(models.KindConflict, t.ID, "task %q is already claimed", t.ID)
	case models.TaskStatusPending:
		completed := p.CompletedIDs()
		for _, d := range t.Dependencies {
			if !completed[d] {
				return models.Errorf(models.KindInvalidStateTransition, t.ID,
					"task %q is waiting on dependency %q", t.ID, d)
			}
		}
		return nil
	default:
		return validateTransition(t, models.TaskStatusExecuting, byClaim)
	}
}

// mutation changes p in place and returns the log entry describing the
// change. A nil entry with a nil error means there is nothing to write.
type mutation func(p *models.Project, now time.Time) (*models.LogEntry, error)

func (c *Coordinator) mutate(ctx context.Context, op string, fn mutation) (*models.Project, error) {
	release, err := c.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := c.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now()
	entry, err := fn(p, now)
	if err != nil {
		c.logger.Debug("operation rejected", "op", op, "err", err)
		return nil, err
	}
	if entry == nil {
		return p, nil
	}
	p.UpdatedAt = now
	if err := c.commit(ctx, p, entry); err != nil {
		if models.IsRetryable(err) {
			c.logger.Warn("commit lost a race", "op", op, "task_id", entry.TaskID, "err", err)
		}
		return nil, err
	}
	c.logger.Debug("committed", "op", op, "task_id", entry.TaskID, "revision", p.Revision)
	return p, nil
}

// commit persists p together with entry. Completion entries are appended
// before the snapshot is saved so that a completed task is never visible
// without its hint. Other entries describe a change that only happened if
// the save succeeded, so they are appended after it.
func (c *Coordinator) commit(ctx context.Context, p *models.Project, entry *models.LogEntry) error {
	if c.joint != nil {
		return c.joint.SaveWithEntry(ctx, p, entry)
	}
	if entry.Kind == models.EntryKindCompleted {
		if err := c.log.Append(ctx, entry); err != nil {
			return fmt.Errorf("failed to append progress entry: %w", err)
		}
		return c.backend.Save(ctx, p)
	}
	if err := c.backend.Save(ctx, p); err != nil {
		return err
	}
	if err := c.log.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append progress entry: %w", err)
	}
	return nil
}

func (c *Coordinator) entry(kind models.EntryKind, taskID, summary string, now time.Time) *models.LogEntry {
	return &models.LogEntry{
		ID:        c.newID(),
		Kind:      kind,
		TaskID:    taskID,
		Summary:   summary,
		Timestamp: now,
	}
}

func (c *Coordinator) acquire(ctx context.Context, shared bool) (func(), error) {
	if c.locker == nil {
		return func() {}, nil
	}
	lock := c.locker.Lock
	if shared {
		lock = c.locker.RLock
	}
	release, err := lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire state lock: %w", err)
	}
	return release, nil
}

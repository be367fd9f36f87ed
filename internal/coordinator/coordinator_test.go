package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-dorsch/relay/internal/progress"
	"github.com/nick-dorsch/relay/internal/scheduler"
	"github.com/nick-dorsch/relay/internal/store"
	"github.com/nick-dorsch/relay/pkg/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	dir     string
	backend *store.FileBackend
	log     *progress.FileLog
	ids     atomic.Int64
	ticks   atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{dir: dir, backend: store.NewFileBackend(dir), log: progress.NewFileLog(dir)}
}

func (f *fixture) options(locking bool) []Option {
	opts := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return t0.Add(time.Duration(f.ticks.Add(1)) * time.Second) }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", f.ids.Add(1)) }),
	}
	if locking {
		opts = append(opts, WithLocker(store.NewLocker(filepath.Join(f.dir, store.LockFile))))
	}
	return opts
}

func (f *fixture) coordinator(extra ...Option) *Coordinator {
	return New(f.backend, f.log, append(f.options(true), extra...)...)
}

func (f *fixture) logEntries(t *testing.T) []models.LogEntry {
	t.Helper()
	seq, err := f.log.Tail(context.Background(), 0)
	require.NoError(t, err)
	return slices.Collect(seq)
}

func demoSpecs() []models.TaskSpec {
	return []models.TaskSpec{
		{ID: "A", Name: "first", Priority: 5},
		{ID: "B", Name: "second", Priority: 9, Dependencies: []string{"A"}},
	}
}

func TestRelayScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newFixture(t).coordinator()

	p, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Goal)
	assert.Len(t, p.Tasks, 2)

	next, err := c.GetNextTask(ctx)
	require.NoError(t, err)
	require.True(t, next.Found())
	assert.Equal(t, "A", next.Task.ID)

	done, err := c.CompleteTask(ctx, "A", "done A", "check X")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	next, err = c.GetNextTask(ctx)
	require.NoError(t, err)
	require.True(t, next.Found())
	assert.Equal(t, "B", next.Task.ID)

	_, err = c.AddTask(ctx, models.TaskSpec{ID: "C", Priority: 1, Dependencies: []string{"B", "C"}})
	require.ErrorIs(t, err, models.ErrCyclicDependency)

	_, err = c.UpdateTaskStatus(ctx, "A", models.TaskStatusExecuting)
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestCompleteThenReadStateShowsEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newFixture(t).coordinator()
	_, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	_, err = c.CompleteTask(ctx, "A", "done A", "check X")
	require.NoError(t, err)

	st, err := c.ReadState(ctx)
	require.NoError(t, err)
	a := st.Project.Task("A")
	require.NotNil(t, a)
	assert.Equal(t, models.TaskStatusCompleted, a.Status)

	last := st.Recent[len(st.Recent)-1]
	assert.Equal(t, models.EntryKindCompleted, last.Kind)
	assert.Equal(t, "A", last.TaskID)
	assert.Equal(t, "done A", last.Summary)
	assert.Equal(t, "check X", last.NextStepHint)
	assert.Equal(t, a.CompletionEntryID, last.ID)
	assert.Empty(t, st.Dangling)
	assert.Equal(t, 1, st.Counts[models.TaskStatusCompleted])
	assert.Equal(t, models.ProjectStatusInProgress, st.Status)
}

func TestInitProject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("already initialized", func(t *testing.T) {
		t.Parallel()
		c := newFixture(t).coordinator()
		_, err := c.InitProject(ctx, "demo", demoSpecs())
		require.NoError(t, err)

		_, err = c.InitProject(ctx, "again", nil)
		require.ErrorIs(t, err, models.ErrAlreadyInitialized)
	})

	t.Run("forward references in batch", func(t *testing.T) {
		t.Parallel()
		c := newFixture(t).coordinator()
		_, err := c.InitProject(ctx, "demo", []models.TaskSpec{
			{ID: "B", Dependencies: []string{"A"}},
			{ID: "A"},
		})
		require.NoError(t, err)
	})

	invalid := []struct {
		name  string
		specs []models.TaskSpec
		want  error
	}{
		{"duplicate", []models.TaskSpec{{ID: "A"}, {ID: "A"}}, models.ErrDuplicateID},
		{"unknown dependency", []models.TaskSpec{{ID: "A", Dependencies: []string{"Z"}}}, models.ErrUnknownDependency},
		{"cycle", []models.TaskSpec{{ID: "A", Dependencies: []string{"B"}}, {ID: "B", Dependencies: []string{"A"}}}, models.ErrCyclicDependency},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			_, err := f.coordinator().InitProject(ctx, "demo", tt.specs)
			require.ErrorIs(t, err, tt.want)

			exists, err := f.backend.Exists(ctx)
			require.NoError(t, err)
			assert.False(t, exists)
			assert.Empty(t, f.logEntries(t))
		})
	}

	t.Run("uninitialized reads", func(t *testing.T) {
		t.Parallel()
		c := newFixture(t).coordinator()
		_, err := c.ReadState(ctx)
		require.ErrorIs(t, err, models.ErrUninitialized)
		_, err = c.GetNextTask(ctx)
		require.ErrorIs(t, err, models.ErrUninitialized)
	})
}

func TestAddTask_CycleLeavesStoreUnmodified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	c := f.coordinator()
	_, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	before, err := f.backend.Load(ctx)
	require.NoError(t, err)
	entriesBefore := f.logEntries(t)

	_, err = c.AddTask(ctx, models.TaskSpec{ID: "A2", Dependencies: []string{"A2"}})
	require.ErrorIs(t, err, models.ErrCyclicDependency)

	after, err := f.backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, entriesBefore, f.logEntries(t))
}

func TestAddTask_GeneratesID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newFixture(t).coordinator()
	_, err := c.InitProject(ctx, "demo", nil)
	require.NoError(t, err)

	task, err := c.AddTask(ctx, models.TaskSpec{Name: "anonymous", Priority: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	got, err := c.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", got.Name)
}

func TestUpdateTaskStatus_TransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from models.TaskStatus
		to   models.TaskStatus
		ok   bool
	}{
		{models.TaskStatusPending, models.TaskStatusExecuting, true},
		{models.TaskStatusExecuting, models.TaskStatusBlocked, true},
		{models.TaskStatusBlocked, models.TaskStatusPending, true},
		{models.TaskStatusExecuting, models.TaskStatusExecuting, true},
		{models.TaskStatusPending, models.TaskStatusCompleted, false},
		{models.TaskStatusExecuting, models.TaskStatusCompleted, false},
		{models.TaskStatusPending, models.TaskStatusBlocked, false},
		{models.TaskStatusBlocked, models.TaskStatusExecuting, false},
		{models.TaskStatusExecuting, models.TaskStatusPending, false},
		{models.TaskStatusCompleted, models.TaskStatusPending, false},
		{models.TaskStatusCompleted, models.TaskStatusExecuting, false},
		{models.TaskStatusPending, models.TaskStatus("done"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newFixture(t)
			task := models.NewTask(models.TaskSpec{ID: "A"}, t0)
			task.Status = tt.from
			require.NoError(t, f.backend.Save(ctx, &models.Project{Goal: "g", Tasks: []*models.Task{task}}))

			got, err := f.coordinator().UpdateTaskStatus(ctx, "A", tt.to)
			if !tt.ok {
				require.ErrorIs(t, err, models.ErrInvalidStateTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Status)
			assert.True(t, got.UpdatedAt.After(t0))
		})
	}
}

func TestCompleteTask_FromEachStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from models.TaskStatus
		ok   bool
	}{
		{models.TaskStatusPending, true},
		{models.TaskStatusExecuting, true},
		{models.TaskStatusBlocked, false},
		{models.TaskStatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newFixture(t)
			task := models.NewTask(models.TaskSpec{ID: "A"}, t0)
			task.Status = tt.from
			require.NoError(t, f.backend.Save(ctx, &models.Project{Goal: "g", Tasks: []*models.Task{task}}))
			c := f.coordinator()

			got, err := c.CompleteTask(ctx, "A", "done", "next")
			if !tt.ok {
				require.ErrorIs(t, err, models.ErrInvalidStateTransition)
				assert.Empty(t, f.logEntries(t), "a rejected completion must not be logged")
				stored, err := c.GetTask(ctx, "A")
				require.NoError(t, err)
				assert.Equal(t, tt.from, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.TaskStatusCompleted, got.Status)
			entries := f.logEntries(t)
			require.Len(t, entries, 1)
			assert.Equal(t, got.CompletionEntryID, entries[0].ID)

			st, err := c.ReadState(ctx)
			require.NoError(t, err)
			assert.Empty(t, st.Dangling)
		})
	}
}

func TestUpdateTaskStatus_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newFixture(t).coordinator()
	_, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	_, err = c.UpdateTaskStatus(ctx, "nope", models.TaskStatusBlocked)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = c.CompleteTask(ctx, "nope", "", "")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestReclaimAfterCrashRefreshesUpdatedAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newFixture(t).coordinator()
	_, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	first, err := c.ClaimTask(ctx, "A")
	require.NoError(t, err)

	st, err := c.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, st.Executing)
	assert.Equal(t, scheduler.ReasonInFlight, st.Next.Reason)

	again, err := c.UpdateTaskStatus(ctx, "A", models.TaskStatusExecuting)
	require.NoError(t, err)
	assert.True(t, again.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, first.StartedAt, again.StartedAt)
}

func TestClaimTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newFixture(t).coordinator()
	_, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	_, err = c.ClaimTask(ctx, "B")
	require.ErrorIs(t, err, models.ErrInvalidStateTransition, "B still waits on A")

	claimed, err := c.ClaimTask(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusExecuting, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	_, err = c.ClaimTask(ctx, "A")
	require.ErrorIs(t, err, models.ErrConflict)
	assert.True(t, models.IsRetryable(err))

	_, err = c.UpdateTaskStatus(ctx, "A", models.TaskStatusBlocked)
	require.NoError(t, err)
	_, err = c.ClaimTask(ctx, "A")
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)

	_, err = c.ClaimTask(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestClaimNext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	c := f.coordinator()
	_, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	res, err := c.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, "A", res.Task.ID)
	assert.Equal(t, models.TaskStatusExecuting, res.Task.Status)

	before, err := f.backend.Load(ctx)
	require.NoError(t, err)

	res, err = c.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, scheduler.ReasonInFlight, res.Reason)

	after, err := f.backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision, "an empty claim writes nothing")
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.coordinator().InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	const workers = 6
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := New(store.NewFileBackend(f.dir), progress.NewFileLog(f.dir), f.options(true)...)
			_, err := c.ClaimTask(ctx, "A")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, models.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

// interleaving runs a hook once, just before the first Save, to let
// another writer commit between this writer's load and save.
type interleaving struct {
	store.Backend
	once   sync.Once
	before func()
}

func (b *interleaving) Save(ctx context.Context, p *models.Project) error {
	b.once.Do(b.before)
	return b.Backend.Save(ctx, p)
}

func TestLostRaceWithoutLockingIsConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.coordinator().InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	other := New(f.backend, f.log, f.options(false)...)
	racing := &interleaving{Backend: f.backend, before: func() {
		_, err := other.ClaimTask(ctx, "A")
		require.NoError(t, err)
	}}
	c := New(racing, f.log, f.options(false)...)

	_, err = c.ClaimTask(ctx, "A")
	require.ErrorIs(t, err, models.ErrConflict)

	res, err := c.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, res.Found(), "retry after conflict sees the task already claimed")
}

type failingSave struct {
	store.Backend
}

func (failingSave) Save(context.Context, *models.Project) error {
	return errors.New("disk full")
}

func TestDanglingCompletionIsReported(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	c := f.coordinator()
	_, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	crashing := New(failingSave{f.backend}, f.log, f.options(true)...)
	_, err = crashing.CompleteTask(ctx, "A", "done A", "check X")
	require.Error(t, err)

	st, err := c.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, st.Project.Task("A").Status)
	require.Len(t, st.Dangling, 1)
	assert.Equal(t, "A", st.Dangling[0].TaskID)

	// A retried completion links the task to the new entry; the first one
	// stays dangling.
	done, err := c.CompleteTask(ctx, "A", "done A", "check X")
	require.NoError(t, err)
	st, err = c.ReadState(ctx)
	require.NoError(t, err)
	require.Len(t, st.Dangling, 1)
	assert.NotEqual(t, done.CompletionEntryID, st.Dangling[0].ID)
}

func TestReadStateTailSize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newFixture(t).coordinator(WithTailSize(3))
	_, err := c.InitProject(ctx, "demo", nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := c.AddTask(ctx, models.TaskSpec{ID: fmt.Sprintf("T%d", i)})
		require.NoError(t, err)
	}

	st, err := c.ReadState(ctx)
	require.NoError(t, err)
	require.Len(t, st.Recent, 3)
	assert.Equal(t, "T4", st.Recent[2].TaskID)
	assert.Equal(t, models.EntryKindTaskAdded, st.Recent[2].Kind)
}

func TestDependencies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newFixture(t).coordinator()
	_, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)

	deps, err := c.Dependencies(ctx, "B")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "A", deps[0].ID)

	deps, err = c.Dependencies(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, deps)

	_, err = c.Dependencies(ctx, "Z")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestDependents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newFixture(t).coordinator()
	_, err := c.InitProject(ctx, "demo", demoSpecs())
	require.NoError(t, err)
	_, err = c.AddTask(ctx, models.TaskSpec{ID: "C", Dependencies: []string{"A"}})
	require.NoError(t, err)

	deps, err := c.Dependents(ctx, "A")
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "B", deps[0].ID)
	assert.Equal(t, "C", deps[1].ID)

	deps, err = c.Dependents(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, deps)

	_, err = c.Dependents(ctx, "Z")
	require.ErrorIs(t, err, models.ErrNotFound)
}

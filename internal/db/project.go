package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/nick-dorsch/relay/internal/scheduler"
	"github.com/nick-dorsch/relay/internal/store"
	"github.com/nick-dorsch/relay/pkg/models"
)

// Load reads the whole project in one transaction.
func (db *DB) Load(ctx context.Context) (*models.Project, error) {
	var p *models.Project
	err := db.read(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = loadProject(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, models.Errorf(models.KindUninitialized, "", "no project in database")
	}
	return p, nil
}

// Save replaces the stored snapshot with p if the stored revision still
// equals p.Revision.
func (db *DB) Save(ctx context.Context, p *models.Project) error {
	return db.SaveWithEntry(ctx, p, nil)
}

// SaveWithEntry saves p and appends entry in the same transaction. A nil
// entry saves the snapshot alone.
func (db *DB) SaveWithEntry(ctx context.Context, p *models.Project, entry *models.LogEntry) error {
	next := p.Revision + 1
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := storedRevision(ctx, tx)
		if err != nil {
			return err
		}
		if stored != p.Revision {
			return models.Errorf(models.KindConflict, "", "store revision is %d, expected %d", stored, p.Revision)
		}
		if err := writeProject(ctx, tx, p, next); err != nil {
			return err
		}
		if entry != nil {
			return insertEntry(ctx, tx, entry)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Revision = next
	return nil
}

func (db *DB) Exists(ctx context.Context) (bool, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM project`).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count projects: %w", err)
	}
	return n > 0, nil
}

// read runs fn in a transaction that is always rolled back.
func (db *DB) read(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

func storedRevision(ctx context.Context, exec executor) (int64, error) {
	var rev int64
	err := exec.QueryRowContext(ctx, `SELECT revision FROM project WHERE id = 1`).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	return rev, nil
}

// loadProject returns nil, nil when no project row exists.
func loadProject(ctx context.Context, exec executor) (*models.Project, error) {
	p := &models.Project{}
	var created, updated string
	err := exec.QueryRowContext(ctx, `
		SELECT goal, revision, created_at, updated_at FROM project WHERE id = 1
	`).Scan(&p.Goal, &p.Revision, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, models.Corrupt(err, "project created_at")
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, models.Corrupt(err, "project updated_at")
	}

	if p.Tasks, err = loadTasks(ctx, exec); err != nil {
		return nil, err
	}
	if err := store.CheckIntegrity(p); err != nil {
		return nil, err
	}
	if err := checkEligibleView(ctx, exec, p); err != nil {
		return nil, err
	}
	return p, nil
}

func loadTasks(ctx context.Context, exec executor) ([]*models.Task, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT id, name, description, priority, status, created_at, updated_at,
		       started_at, completed_at, completion_entry_id
		FROM tasks
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	byID := make(map[string]*models.Task)
	for rows.Next() {
		t := &models.Task{Dependencies: []string{}}
		var created, updated string
		var started, completed sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Priority, &t.Status,
			&created, &updated, &started, &completed, &t.CompletionEntryID); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, models.Corrupt(err, "task %q created_at", t.ID)
		}
		if t.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, models.Corrupt(err, "task %q updated_at", t.ID)
		}
		if t.StartedAt, err = parseTimePtr(started); err != nil {
			return nil, models.Corrupt(err, "task %q started_at", t.ID)
		}
		if t.CompletedAt, err = parseTimePtr(completed); err != nil {
			return nil, models.Corrupt(err, "task %q completed_at", t.ID)
		}
		tasks = append(tasks, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	deps, err := exec.QueryContext(ctx, `
		SELECT task_id, depends_on_task_id FROM dependencies ORDER BY task_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer deps.Close()
	for deps.Next() {
		var d models.Dependency
		if err := deps.Scan(&d.TaskID, &d.DependsOnTaskID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if t := byID[d.TaskID]; t != nil {
			t.Dependencies = append(t.Dependencies, d.DependsOnTaskID)
		}
	}
	if err := deps.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tasks, nil
}

// writeProject replaces every project, task and dependency row.
func writeProject(ctx context.Context, exec executor, p *models.Project, revision int64) error {
	if _, err := exec.ExecContext(ctx, `
		INSERT INTO project (id, goal, revision, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal = excluded.goal,
			revision = excluded.revision,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, p.Goal, revision, formatTime(p.CreatedAt), formatTime(p.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to write project: %w", err)
	}

	if _, err := exec.ExecContext(ctx, `DELETE FROM dependencies`); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	if _, err := exec.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}

	for i, t := range p.Tasks {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO tasks (seq, id, name, description, priority, status, created_at, updated_at,
			                   started_at, completed_at, completion_entry_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, i, t.ID, t.Name, t.Description, t.Priority, string(t.Status),
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
			formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt), t.CompletionEntryID); err != nil {
			return fmt.Errorf("failed to write task %q: %w", t.ID, err)
		}
	}
	for _, e := range p.Edges() {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO dependencies (task_id, depends_on_task_id, position) VALUES (?, ?, ?)
		`, e.TaskID, e.DependsOnTaskID, e.Position); err != nil {
			return fmt.Errorf("failed to write dependency %s -> %s: %w", e.TaskID, e.DependsOnTaskID, err)
		}
	}
	return nil
}

// eligibleTaskIDs lists eligible task ids as ordered by the
// v_eligible_tasks view.
func eligibleTaskIDs(ctx context.Context, exec executor) ([]string, error) {
	rows, err := exec.QueryContext(ctx, `SELECT id FROM v_eligible_tasks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible tasks: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// checkEligibleView compares the view's eligible set with the scheduler's
// for the loaded rows. A mismatch means the rows or the schema were edited
// by hand.
func checkEligibleView(ctx context.Context, exec executor, p *models.Project) error {
	ids, err := eligibleTaskIDs(ctx, exec)
	if err != nil {
		return err
	}
	want := []string{}
	for _, t := range scheduler.Eligible(p) {
		want = append(want, t.ID)
	}
	if !slices.Equal(ids, want) {
		return models.Corrupt(nil, "eligible view returned %v, tasks give %v", ids, want)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"slices"

	"github.com/nick-dorsch/relay/pkg/models"
)

func (db *DB) Append(ctx context.Context, entry *models.LogEntry) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return insertEntry(ctx, tx, entry)
	})
}

// Tail returns the last n entries, oldest first. n <= 0 returns all.
func (db *DB) Tail(ctx context.Context, n int) (iter.Seq[models.LogEntry], error) {
	entries, err := listEntries(ctx, db.DB, n)
	if err != nil {
		return nil, err
	}
	return slices.Values(entries), nil
}

func insertEntry(ctx context.Context, exec executor, e *models.LogEntry) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO progress (id, kind, task_id, summary, next_step_hint, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Kind), e.TaskID, e.Summary, e.NextStepHint, formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append progress entry: %w", err)
	}
	return nil
}

func listEntries(ctx context.Context, exec executor, n int) ([]models.LogEntry, error) {
	query := `
		SELECT id, kind, task_id, summary, next_step_hint, timestamp
		FROM progress
		ORDER BY seq DESC
	`
	args := []any{}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Kind, &e.TaskID, &e.Summary, &e.NextStepHint, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan progress entry: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, models.Corrupt(err, "progress entry %q timestamp", e.ID)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	slices.Reverse(entries)
	return entries, nil
}

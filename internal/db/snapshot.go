package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nick-dorsch/relay/internal/progress"
	"github.com/nick-dorsch/relay/internal/store"
	"github.com/nick-dorsch/relay/pkg/models"
)

// EnableAutoSnapshot exports tasks.json and progress.jsonl into dir after
// every committed write, so the plain documents stay readable next to the
// database.
func (db *DB) EnableAutoSnapshot(dir string) {
	db.SetOnChange(func(ctx context.Context) {
		// Best effort: the commit already succeeded and the next one will
		// rewrite both documents.
		_ = db.ExportSnapshot(ctx, dir)
	})
}

// ExportSnapshot writes the project and the full progress log to dir in
// the file backend's format. The log is written first.
func (db *DB) ExportSnapshot(ctx context.Context, dir string) error {
	var (
		p       *models.Project
		entries []models.LogEntry
	)
	err := db.read(ctx, func(tx *sql.Tx) error {
		var err error
		if p, err = loadProject(ctx, tx); err != nil {
			return err
		}
		entries, err = listEntries(ctx, tx, 0)
		return err
	})
	if err != nil {
		return err
	}
	if p == nil {
		return models.Errorf(models.KindUninitialized, "", "no project in database")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	logData, err := progress.Encode(entries)
	if err != nil {
		return fmt.Errorf("failed to encode progress log: %w", err)
	}
	if err := store.WriteFileAtomic(filepath.Join(dir, store.ProgressFile), logData, 0o644); err != nil {
		return fmt.Errorf("failed to write progress log: %w", err)
	}

	projectData, err := store.EncodeProject(p)
	if err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	if err := store.WriteFileAtomic(filepath.Join(dir, store.ProjectFile), projectData, 0o644); err != nil {
		return fmt.Errorf("failed to write project: %w", err)
	}
	return nil
}

// ImportSnapshot loads tasks.json and progress.jsonl from dir into the
// database. A missing progress log imports as empty. Unless replace is set,
// importing into an initialized database fails with AlreadyInitialized.
func (db *DB) ImportSnapshot(ctx context.Context, dir string, replace bool) error {
	projectPath := filepath.Join(dir, store.ProjectFile)
	data, err := os.ReadFile(projectPath)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Errorf(models.KindUninitialized, "", "no project at %s", projectPath)
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	p, err := store.DecodeProject(data, projectPath)
	if err != nil {
		return err
	}

	logPath := filepath.Join(dir, store.ProgressFile)
	var entries []models.LogEntry
	if logData, err := os.ReadFile(logPath); err == nil {
		if entries, err = progress.Decode(logData, logPath); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read progress log: %w", err)
	}

	db.DisableOnChange()
	defer db.EnableOnChange()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := storedRevision(ctx, tx)
		if err != nil {
			return err
		}
		if existing != 0 && !replace {
			return models.Errorf(models.KindAlreadyInitialized, "", "database already holds a project")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM progress`); err != nil {
			return fmt.Errorf("failed to clear progress: %w", err)
		}
		if err := writeProject(ctx, tx, p, p.Revision); err != nil {
			return err
		}
		for i := range entries {
			if err := insertEntry(ctx, tx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

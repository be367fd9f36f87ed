// Package progress implements the append-only progress log that carries
// completion summaries and hints from one worker to the next.
package progress

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"

	"github.com/nick-dorsch/relay/internal/store"
	"github.com/nick-dorsch/relay/pkg/models"
)

// Log is an append-only sequence of entries.
type Log interface {
	Append(ctx context.Context, entry *models.LogEntry) error
	// Tail returns the most recent n entries, oldest first. n <= 0 returns
	// every entry. Each call re-reads the log.
	Tail(ctx context.Context, n int) (iter.Seq[models.LogEntry], error)
}

// FileLog stores one JSON entry per line. Appends rewrite the whole file
// through a temp file and rename, so a reader never sees a torn line.
type FileLog struct {
	path string
	lock *store.Locker
}

// NewFileLog returns a log at dir/progress.jsonl.
func NewFileLog(dir string) *FileLog {
	path := filepath.Join(dir, store.ProgressFile)
	return &FileLog{
		path: path,
		lock: store.NewLocker(path + ".lock"),
	}
}

// Path returns the log file path.
func (l *FileLog) Path() string {
	return l.path
}

func (l *FileLog) Append(ctx context.Context, entry *models.LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	release, err := l.lock.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire log lock: %w", err)
	}
	defer release()

	current, err := os.ReadFile(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read progress log: %w", err)
	}
	if len(current) > 0 && current[len(current)-1] != '\n' {
		return models.Corrupt(nil, "%s does not end with a newline", l.path)
	}

	data := make([]byte, 0, len(current)+len(line)+1)
	data = append(data, current...)
	data = append(data, line...)
	data = append(data, '\n')
	if err := store.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write progress log: %w", err)
	}
	return nil
}

func (l *FileLog) Tail(ctx context.Context, n int) (iter.Seq[models.LogEntry], error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return func(func(models.LogEntry) bool) {}, nil
		}
		return nil, fmt.Errorf("failed to read progress log: %w", err)
	}
	entries, err := Decode(data, l.path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return slices.Values(entries), nil
}

// Decode parses a progress log document. Blank lines are skipped; any
// malformed line makes the whole log StorageCorrupt.
func Decode(data []byte, source string) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e models.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, models.Corrupt(err, "%s line %d", source, lineNo)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, models.Corrupt(err, "%s", source)
	}
	return entries, nil
}

// Encode renders entries as a progress log document.
func Encode(entries []models.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

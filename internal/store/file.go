package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nick-dorsch/relay/pkg/models"
)

// File names inside a state directory.
const (
	ProjectFile  = "tasks.json"
	ProgressFile = "progress.jsonl"
	LockFile     = "relay.lock"
)

// documentVersion is the layout version written to tasks.json.
const documentVersion = 1

type document struct {
	Version int `json:"version"`
	models.Project
}

// FileBackend stores the project as a single JSON document.
type FileBackend struct {
	path   string
	commit *Locker
}

// NewFileBackend returns a backend writing dir/tasks.json.
func NewFileBackend(dir string) *FileBackend {
	path := filepath.Join(dir, ProjectFile)
	return &FileBackend{
		path:   path,
		commit: NewLocker(path + ".lock"),
	}
}

// Path returns the document path.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(ctx context.Context) (*models.Project, error) {
	p, err := b.read()
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, models.Errorf(models.KindUninitialized, "", "no project at %s", b.path)
	}
	return p, nil
}

func (b *FileBackend) Save(ctx context.Context, p *models.Project) error {
	release, err := b.commit.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire commit lock: %w", err)
	}
	defer release()

	var stored int64
	current, err := b.read()
	if err != nil {
		return err
	}
	if current != nil {
		stored = current.Revision
	}
	if stored != p.Revision {
		return conflict(stored, p.Revision)
	}

	doc := document{Version: documentVersion, Project: *p}
	doc.Revision = p.Revision + 1
	data, err := MarshalDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}
	if err := WriteFileAtomic(b.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write project: %w", err)
	}
	p.Revision = doc.Revision
	return nil
}

func (b *FileBackend) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(b.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat project: %w", err)
}

func (b *FileBackend) Close() error {
	return nil
}

// read returns nil, nil when the document does not exist yet.
func (b *FileBackend) read() (*models.Project, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read project: %w", err)
	}
	return DecodeProject(data, b.path)
}

// DecodeProject parses a tasks.json document and checks its invariants.
// Any failure is reported as StorageCorrupt naming source.
func DecodeProject(data []byte, source string) (*models.Project, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, corruptf(err, source)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, corruptf(errors.New("trailing content"), source)
	}
	if doc.Version != documentVersion {
		return nil, models.Corrupt(nil, "%s has unsupported version %d", source, doc.Version)
	}

	p := doc.Project
	if p.Tasks == nil {
		p.Tasks = []*models.Task{}
	}
	for i, t := range p.Tasks {
		if t == nil {
			return nil, models.Corrupt(nil, "%s: task %d is null", source, i)
		}
		if t.Dependencies == nil {
			t.Dependencies = []string{}
		}
	}
	if err := CheckIntegrity(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeProject renders p as a tasks.json document without touching its
// revision.
func EncodeProject(p *models.Project) ([]byte, error) {
	return MarshalDocument(document{Version: documentVersion, Project: *p})
}

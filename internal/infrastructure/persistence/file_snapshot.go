package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kds/backend/internal/domain/kitchen"
)

// DefaultSnapshotPath is the snapshot file used when none is configured
const DefaultSnapshotPath = "completed_orders.json"

// FileSnapshotRepository stores the completion snapshot as one JSON document
// on disk. Every save rewrites the whole file through a temp file and a rename
// so readers never observe a partial write.
type FileSnapshotRepository struct {
	path string
	mu   sync.Mutex
}

// NewFileSnapshotRepository creates a repository for the given path
func NewFileSnapshotRepository(path string) *FileSnapshotRepository {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultSnapshotPath
	}
	return &FileSnapshotRepository{path: path}
}

// Path returns the snapshot file path
func (r *FileSnapshotRepository) Path() string {
	return r.path
}

// Close is a no-op; the file is opened per operation
func (r *FileSnapshotRepository) Close() error {
	return nil
}

// Load reads the snapshot. A missing file returns kitchen.ErrSnapshotNotFound.
func (r *FileSnapshotRepository) Load(ctx context.Context) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, kitchen.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read completion snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// Save overwrites the snapshot file
func (r *FileSnapshotRepository) Save(ctx context.Context, snapshot map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Dir(r.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create snapshot dir: %v", kitchen.ErrPersistence, err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", kitchen.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", kitchen.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync temp file: %v", kitchen.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", kitchen.ErrPersistence, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: chmod temp file: %v", kitchen.ErrPersistence, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("%w: rename snapshot: %v", kitchen.ErrPersistence, err)
	}
	return nil
}

func encodeSnapshot(snapshot map[string][]string) ([]byte, error) {
	if snapshot == nil {
		snapshot = map[string][]string{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encode snapshot: %v", kitchen.ErrPersistence, err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (map[string][]string, error) {
	var snapshot map[string][]string
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode completion snapshot: %w", err)
	}
	if snapshot == nil {
		snapshot = map[string][]string{}
	}
	return snapshot, nil
}

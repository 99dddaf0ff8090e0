// Package transferstore persists Transfer descriptors (status, meta, full
// chunk list) to durable JSON sidecars under <data-dir>/files/<file_id>.json,
// so a coordinator restart can rebuild its registry.
package transferstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/filemesh/filemesh/pkg/models"
)

// Store persists Transfer descriptors to baseDir/<file_id>.json.
type Store struct {
	mu      sync.RWMutex
	baseDir string
	log     *zap.SugaredLogger
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string, log *zap.SugaredLogger) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir must not be empty")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transfer descriptor dir: %w", err)
	}
	return &Store{baseDir: baseDir, log: log}, nil
}

func (s *Store) path(id models.FileID) string {
	return filepath.Join(s.baseDir, string(id)+".json")
}

// Save persists t atomically (create-temp + rename), matching the Chunk
// Store's sidecar-write discipline so neither durable record can be
// observed half-written.
func (s *Store) Save(t *models.Transfer) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(t.ID)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open temp transfer file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		f.Close()
		return fmt.Errorf("encode transfer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp transfer file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomic rename transfer file: %w", err)
	}
	return nil
}

// Load reads the Transfer descriptor for id, if present.
func (s *Store) Load(id models.FileID) (*models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("open transfer file: %w", err)
	}
	defer f.Close()

	var t models.Transfer
	if err := json.NewDecoder(f).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode transfer: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Delete removes the descriptor for id, if present. Missing is not an
// error.
func (s *Store) Delete(id models.FileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transfer file: %w", err)
	}
	return nil
}

// ListIDs returns every FileID with a persisted descriptor, used to
// rebuild the coordinator registry at startup.
func (s *Store) ListIDs() ([]models.FileID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read transfer dir: %w", err)
	}
	var ids []models.FileID
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		ids = append(ids, models.FileID(e.Name()[:len(e.Name())-len(".json")]))
	}
	return ids, nil
}

// LoadAll reads every persisted descriptor, logging and skipping (rather
// than failing) any that don't decode.
func (s *Store) LoadAll() ([]*models.Transfer, error) {
	ids, err := s.ListIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Transfer, 0, len(ids))
	for _, id := range ids {
		t, err := s.Load(id)
		if err != nil {
			s.log.Warnw("failed to load transfer descriptor", "fileID", id, "error", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

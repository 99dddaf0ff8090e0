package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/filemesh/filemesh/pkg/errs"
	"github.com/filemesh/filemesh/pkg/models"
)

// sidecar is the on-disk JSON record kept alongside a chunk's payload, per
// the StoredChunk entity in the data model: sidecar and payload exist
// together or not at all.
type sidecar struct {
	FileID         models.FileID        `json:"fileId"`
	Offset         int64                `json:"offset"`
	OriginalSize   int                  `json:"originalSize"`
	CompressedSize int                  `json:"compressedSize"`
	IsCompressed   bool                 `json:"isCompressed"`
	CompressionAlg CompressionAlgorithm `json:"compressionAlgorithm,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	LastAccessedAt time.Time            `json:"lastAccessedAt"`
}

// KnownFileIDs reports the set of file ids the caller currently considers
// live, used by sweep_orphans to find sidecars with no matching transfer
// descriptor.
type KnownFileIDs func() (map[models.FileID]struct{}, error)

// Store is the Chunk Store: content-addressed persistence of chunk bytes
// plus a JSON sidecar index, with optional transparent compression.
type Store struct {
	mu                   sync.RWMutex
	baseDir              string
	enableCompression    bool
	compressionAlgorithm CompressionAlgorithm
	log                  *zap.SugaredLogger
}

// Option configures a Store at construction.
type Option func(*Store)

// WithCompression enables transparent compression using alg for payloads
// above the size threshold.
func WithCompression(alg CompressionAlgorithm) Option {
	return func(s *Store) {
		s.enableCompression = true
		s.compressionAlgorithm = alg
	}
}

// New creates a Store rooted at baseDir (typically "<data-dir>/chunks"),
// creating it if necessary, and removes any dangling payloads left by a
// prior crash (payload with no sidecar).
func New(baseDir string, log *zap.SugaredLogger, opts ...Option) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir must not be empty")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk store dir: %w", err)
	}
	s := &Store{baseDir: baseDir, compressionAlgorithm: CompressionFlate, log: log}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.recoverDanglingPayloads(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) payloadPath(id models.ChunkID) string {
	return filepath.Join(s.baseDir, id.String()+".chunk")
}

func (s *Store) sidecarPath(id models.ChunkID) string {
	return filepath.Join(s.baseDir, id.String()+".json")
}

// Store persists bytes for id, compressing when profitable, writing the
// payload then the sidecar atomically so a reader never observes a
// sidecar without its payload.
func (s *Store) Store(id models.ChunkID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := data
	compressed := false
	alg := CompressionAlgorithm("")
	if s.enableCompression {
		out, ok, err := maybeCompress(s.compressionAlgorithm, data)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
		}
		payload = out
		compressed = ok
		if ok {
			alg = s.compressionAlgorithm
		}
	}

	if err := writeFileAtomic(s.payloadPath(id), payload); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}

	now := time.Now()
	sc := sidecar{
		FileID:         id.FileID,
		Offset:         id.Offset,
		OriginalSize:   len(data),
		CompressedSize: len(payload),
		IsCompressed:   compressed,
		CompressionAlg: alg,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	scBytes, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	if err := writeFileAtomic(s.sidecarPath(id), scBytes); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	return nil
}

// Get returns the original bytes for id, or (nil, false) if absent. A
// missing chunk is not an error.
func (s *Store) Get(id models.ChunkID) ([]byte, bool, error) {
	s.mu.RLock()
	sc, ok, err := s.readSidecar(id)
	s.mu.RUnlock()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	if !ok {
		return nil, false, nil
	}

	raw, err := os.ReadFile(s.payloadPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}

	data := raw
	if sc.IsCompressed {
		data, err = decompressWith(sc.CompressionAlg, raw)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
		}
	}

	s.touchLastAccessed(id, sc)
	return data, true, nil
}

// Has reports whether id's sidecar (and therefore its payload) exists.
func (s *Store) Has(id models.ChunkID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok, err := s.readSidecar(id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	return ok, nil
}

// Delete removes both halves of id's stored chunk. Missing is not an
// error.
func (s *Store) Delete(id models.ChunkID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Store) deleteLocked(id models.ChunkID) error {
	if err := os.Remove(s.payloadPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	if err := os.Remove(s.sidecarPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	return nil
}

// ListForFile returns every ChunkID stored for fileID.
func (s *Store) ListForFile(fileID models.FileID) ([]models.ChunkID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	var ids []models.ChunkID
	prefix := string(fileID) + "_"
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".json")]
		if !hasPrefix(name, prefix) {
			continue
		}
		sc, ok, err := s.readSidecarFile(filepath.Join(s.baseDir, e.Name()))
		if err != nil || !ok {
			continue
		}
		ids = append(ids, models.ChunkID{FileID: sc.FileID, Offset: sc.Offset})
	}
	return ids, nil
}

// TotalBytesStored sums the on-disk (possibly compressed) payload size of
// every stored chunk.
func (s *Store) TotalBytesStored() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".chunk" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// SweepOrphans removes sidecar+payload pairs whose FileID is not reported
// present by known. Used at startup to reclaim chunks of transfers that
// are no longer known; payloads without a sidecar are handled separately
// by recoverDanglingPayloads when the Store is opened.
func (s *Store) SweepOrphans(known KnownFileIDs) (int, error) {
	liveIDs, err := known()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		sc, ok, err := s.readSidecarFile(filepath.Join(s.baseDir, e.Name()))
		if err != nil || !ok {
			continue
		}
		if _, live := liveIDs[sc.FileID]; live {
			continue
		}
		id := models.ChunkID{FileID: sc.FileID, Offset: sc.Offset}
		if err := s.deleteLocked(id); err != nil {
			s.log.Warnw("failed to sweep orphan chunk", "chunkID", id.String(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// recoverDanglingPayloads deletes any payload file with no matching
// sidecar, the crash-recovery case from invariant 3 (sidecar and payload
// present together or not at all).
func (s *Store) recoverDanglingPayloads() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("read chunk store dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".chunk" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".chunk")]
		sidecarPath := filepath.Join(s.baseDir, name+".json")
		if _, err := os.Stat(sidecarPath); os.IsNotExist(err) {
			if err := os.Remove(filepath.Join(s.baseDir, e.Name())); err != nil && !os.IsNotExist(err) {
				s.log.Warnw("failed to remove dangling payload", "path", e.Name(), "error", err)
			}
		}
	}
	return nil
}

func (s *Store) readSidecar(id models.ChunkID) (sidecar, bool, error) {
	return s.readSidecarFile(s.sidecarPath(id))
}

func (s *Store) readSidecarFile(path string) (sidecar, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sidecar{}, false, nil
		}
		return sidecar{}, false, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, false, err
	}
	return sc, true, nil
}

// touchLastAccessed updates last_accessed_at best-effort; failures are
// logged, never propagated, per the spec's "not fatal" clause.
func (s *Store) touchLastAccessed(id models.ChunkID, sc sidecar) {
	sc.LastAccessedAt = time.Now()
	raw, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return
	}
	if err := writeFileAtomic(s.sidecarPath(id), raw); err != nil {
		s.log.Debugw("failed to update last-accessed timestamp", "chunkID", id.String(), "error", err)
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/filemesh/filemesh/internal/erasure"
	"github.com/filemesh/filemesh/pkg/errs"
	"github.com/filemesh/filemesh/pkg/models"
)

// RedundantStore wraps a Store with optional local Reed-Solomon shard
// redundancy: each stored chunk is additionally split into data+parity
// shards on disk, so a single corrupted or lost shard file does not lose
// the chunk. This is a local durability feature only, not a
// cross-peer replication scheme.
type RedundantStore struct {
	*Store
	coder    *erasure.ShardCoder
	shardDir string
}

// NewRedundant wraps store with a Reed-Solomon coder using dataShards and
// parityShards, writing shard files under baseDir/shards.
func NewRedundant(store *Store, baseDir string, dataShards, parityShards int) (*RedundantStore, error) {
	coder, err := erasure.NewShardCoder(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("init erasure coder: %w", err)
	}
	shardDir := filepath.Join(baseDir, "shards")
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return nil, fmt.Errorf("create shard dir: %w", err)
	}
	return &RedundantStore{Store: store, coder: coder, shardDir: shardDir}, nil
}

// Store persists data through the wrapped Store and additionally writes a
// redundant shard set so the chunk can be reconstructed if its primary
// payload is lost.
func (r *RedundantStore) Store(id models.ChunkID, data []byte) error {
	if err := r.Store.Store(id, data); err != nil {
		return err
	}
	return r.writeShards(id, data)
}

func (r *RedundantStore) writeShards(id models.ChunkID, data []byte) error {
	shards, err := r.coder.EncodeChunk(data)
	if err != nil {
		return fmt.Errorf("%w: encode shards: %v", errs.ErrStorageFailed, err)
	}
	manifest := shardManifest{
		DataShards:   r.coder.DataShards,
		ParityShards: r.coder.ParityShards,
		ShardSize:    r.coder.ShardSize,
		OriginalLen:  len(data),
	}
	for i, shard := range shards {
		path := filepath.Join(r.shardDir, fmt.Sprintf("%s.shard%d", id.String(), i))
		if err := writeFileAtomic(path, shard); err != nil {
			return fmt.Errorf("%w: write shard %d: %v", errs.ErrStorageFailed, i, err)
		}
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	return writeFileAtomic(filepath.Join(r.shardDir, id.String()+".manifest.json"), raw)
}

// Reconstruct rebuilds a chunk's bytes from its shard set, tolerating up
// to ParityShards missing or unreadable shards. Used to recover a chunk
// whose primary payload file was lost or corrupted outside the atomic
// write path (e.g. disk-level bit rot).
func (r *RedundantStore) Reconstruct(id models.ChunkID) ([]byte, error) {
	manifestRaw, err := os.ReadFile(filepath.Join(r.shardDir, id.String()+".manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: read shard manifest: %v", errs.ErrStorageFailed, err)
	}
	var manifest shardManifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}

	total := manifest.DataShards + manifest.ParityShards
	shards := make([][]byte, total)
	for i := 0; i < total; i++ {
		path := filepath.Join(r.shardDir, fmt.Sprintf("%s.shard%d", id.String(), i))
		raw, err := os.ReadFile(path)
		if err != nil {
			shards[i] = nil // missing shard; reconstruct fills it in
			continue
		}
		shards[i] = raw
	}

	data, err := r.coder.DecodeChunk(shards)
	if err != nil {
		return nil, fmt.Errorf("%w: reconstruct: %v", errs.ErrStorageFailed, err)
	}
	if len(data) > manifest.OriginalLen {
		data = data[:manifest.OriginalLen]
	}
	return data, nil
}

// shardManifest records the coder configuration used for one chunk's
// shard set, so Reconstruct can rebuild it without external context.
type shardManifest struct {
	DataShards   int `json:"dataShards"`
	ParityShards int `json:"parityShards"`
	ShardSize    int `json:"shardSize"`
	OriginalLen  int `json:"originalLen"`
}

package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filemesh/filemesh/pkg/models"
)

func TestStoreGetRoundTripUncompressed(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	id := models.ChunkID{FileID: "f1", Offset: 0}
	payload := []byte("small payload under threshold")
	require.NoError(t, s.Store(id, payload))

	got, ok, err := s.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, got)
}

func TestStoreGetRoundTripCompressed(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil, WithCompression(CompressionFlate))
	require.NoError(t, err)

	id := models.ChunkID{FileID: "f1", Offset: 0}
	payload := bytes.Repeat([]byte("A"), 100_000) // highly compressible, over threshold
	require.NoError(t, s.Store(id, payload))

	got, ok, err := s.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, got)

	raw, err := os.ReadFile(filepath.Join(dir, id.String()+".chunk"))
	require.NoError(t, err)
	require.Less(t, len(raw), len(payload))
}

func TestStoreIncompressibleDataStoredRaw(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil, WithCompression(CompressionFlate))
	require.NoError(t, err)

	id := models.ChunkID{FileID: "f1", Offset: 0}
	// xorshift32 output has no short period, so it does not compress
	// below the 0.9 ratio bar.
	payload := make([]byte, 5000)
	x := uint32(2654435761)
	for i := range payload {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		payload[i] = byte(x)
	}
	require.NoError(t, s.Store(id, payload))

	got, ok, err := s.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, got)

	raw, err := os.ReadFile(filepath.Join(dir, id.String()+".chunk"))
	require.NoError(t, err)
	require.Equal(t, payload, raw)
}

func TestGetMissingReturnsAbsentNotError(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	_, ok, err := s.Get(models.ChunkID{FileID: "nope", Offset: 0})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasReflectsPresence(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	id := models.ChunkID{FileID: "f1", Offset: 0}
	ok, err := s.Has(id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Store(id, []byte("x")))
	ok, err = s.Has(id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDeleteRemovesBothHalves(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	id := models.ChunkID{FileID: "f1", Offset: 0}
	require.NoError(t, s.Store(id, []byte("x")))
	require.NoError(t, s.Delete(id))

	ok, err := s.Has(id)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = os.Stat(filepath.Join(dir, id.String()+".chunk"))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Delete(models.ChunkID{FileID: "nope", Offset: 0}))
}

func TestListForFileAndTotalBytesStored(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Store(models.ChunkID{FileID: "f1", Offset: 0}, []byte("a")))
	require.NoError(t, s.Store(models.ChunkID{FileID: "f1", Offset: 1024}, []byte("bb")))
	require.NoError(t, s.Store(models.ChunkID{FileID: "f2", Offset: 0}, []byte("ccc")))

	ids, err := s.ListForFile("f1")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	total, err := s.TotalBytesStored()
	require.NoError(t, err)
	require.Equal(t, int64(1+2+3), total)
}

func TestSweepOrphansRemovesUnknownFileChunks(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Store(models.ChunkID{FileID: "live", Offset: 0}, []byte("x")))
	require.NoError(t, s.Store(models.ChunkID{FileID: "orphan", Offset: 0}, []byte("y")))

	removed, err := s.SweepOrphans(func() (map[models.FileID]struct{}, error) {
		return map[models.FileID]struct{}{"live": {}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	ok, err := s.Has(models.ChunkID{FileID: "orphan", Offset: 0})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Has(models.ChunkID{FileID: "live", Offset: 0})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRecoverDanglingPayloadOnOpen(t *testing.T) {
	dir := t.TempDir()
	// Simulate a crash between payload write and sidecar commit.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f1_0.chunk"), []byte("half-written"), 0o644))

	s, err := New(dir, nil)
	require.NoError(t, err)

	ok, err := s.Has(models.ChunkID{FileID: "f1", Offset: 0})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = os.Stat(filepath.Join(dir, "f1_0.chunk"))
	require.True(t, os.IsNotExist(err))
}

func TestConcurrentStoreSameChunkIDConvergesToOneRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	id := models.ChunkID{FileID: "f1", Offset: 0}
	payload := []byte("concurrent write payload")

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- s.Store(id, payload)
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	got, ok, err := s.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, got)
}

package transferstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/filemesh/filemesh/pkg/models"
)

func newTestTransfer(id string) *models.Transfer {
	return &models.Transfer{
		ID: models.FileID(id),
		Meta: models.FileMeta{
			Name:      "movie.mkv",
			Size:      8192,
			ChunkSize: 4096,
			Checksum: models.Checksum{
				Bytes:     []byte{1, 2, 3},
				Algorithm: models.ChecksumAlgorithmSHA256,
			},
		},
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
		Chunks: []*models.ChunkState{
			{ID: models.ChunkID{FileID: models.FileID(id), Offset: 0}},
			{ID: models.ChunkID{FileID: models.FileID(id), Offset: 4096}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	xfer := newTestTransfer("file-1")
	require.NoError(t, store.Save(xfer))

	loaded, err := store.Load("file-1")
	require.NoError(t, err)
	require.Equal(t, xfer.ID, loaded.ID)
	require.Equal(t, xfer.Meta, loaded.Meta)
	require.Len(t, loaded.Chunks, 2)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	xfer := newTestTransfer("file-2")
	require.NoError(t, store.Save(xfer))

	require.NoFileExists(t, filepath.Join(dir, "file-2.json.tmp"))
	require.FileExists(t, filepath.Join(dir, "file-2.json"))
}

func TestLoadMissingReturnsError(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	_, err = store.Load("does-not-exist")
	require.Error(t, err)
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Delete("does-not-exist"))
}

func TestListIDsAndLoadAll(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(newTestTransfer("file-a")))
	require.NoError(t, store.Save(newTestTransfer("file-b")))

	ids, err := store.ListIDs()
	require.NoError(t, err)
	require.ElementsMatch(t, []models.FileID{"file-a", "file-b"}, ids)

	all, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSaveRejectsInvalidTransfer(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	require.NoError(t, err)

	err = store.Save(&models.Transfer{})
	require.Error(t, err)
}

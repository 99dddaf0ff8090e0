package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validFileMeta() FileMeta {
	return FileMeta{
		Name:      "test.bin",
		Size:      10000,
		ChunkSize: 4096,
		Checksum:  Checksum{Bytes: []byte{0xab, 0xcd}, Algorithm: ChecksumAlgorithmSHA256},
	}
}

func TestFileMetaValidate(t *testing.T) {
	f := validFileMeta()
	require.NoError(t, f.Validate())

	f.Name = ""
	require.Error(t, f.Validate())
}

func TestFileMetaChunkSizeBounds(t *testing.T) {
	f := validFileMeta()
	f.ChunkSize = MinChunkSize - 1
	require.Error(t, f.Validate())

	f.ChunkSize = MaxChunkSize + 1
	require.Error(t, f.Validate())
}

func TestFileMetaTotalChunksAndTailLength(t *testing.T) {
	f := validFileMeta() // 10000 bytes, 4096 chunk size -> 3 chunks, tail 1808
	require.Equal(t, 3, f.TotalChunks())

	offsets := f.ChunkOffsets()
	require.Equal(t, []int64{0, 4096, 8192}, offsets)

	require.Equal(t, int64(4096), f.ChunkLength(0))
	require.Equal(t, int64(4096), f.ChunkLength(4096))
	require.Equal(t, int64(1808), f.ChunkLength(8192))
}

func TestFileMetaZeroSizeHasNoChunks(t *testing.T) {
	f := validFileMeta()
	f.Size = 0
	require.Equal(t, 0, f.TotalChunks())
}

func newTransfer(t *testing.T, meta FileMeta) *Transfer {
	t.Helper()
	tr := &Transfer{
		ID:        FileID("file-1"),
		Meta:      meta,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	for _, off := range meta.ChunkOffsets() {
		tr.Chunks = append(tr.Chunks, &ChunkState{ID: ChunkID{FileID: tr.ID, Offset: off}})
	}
	require.NoError(t, tr.Validate())
	return tr
}

func TestTransferProgressAccounting(t *testing.T) {
	tr := newTransfer(t, validFileMeta())
	require.Equal(t, 3, tr.TotalChunks())
	require.Equal(t, 0, tr.ReceivedChunks())
	require.False(t, tr.AllChunksReceived())
	require.Equal(t, float64(0), tr.CompletionPercentage())

	now := time.Now()
	tr.Chunks[0].MarkReceived(now, nil)
	require.Equal(t, ByteSize(4096), tr.TransferredBytes())

	tr.Chunks[1].MarkReceived(now, nil)
	tr.Chunks[2].MarkReceived(now, nil)
	require.True(t, tr.AllChunksReceived())
	require.Equal(t, ByteSize(10000), tr.TransferredBytes())
	require.Equal(t, float64(100), tr.CompletionPercentage())
}

func TestChunkStateMarkReceivedIdempotent(t *testing.T) {
	c := &ChunkState{ID: ChunkID{FileID: "f", Offset: 0}}
	node := NodeID("n1")

	first := c.MarkReceived(time.Now(), &node)
	require.True(t, first)
	firstAt := c.ReceivedAt

	second := c.MarkReceived(time.Now(), &node)
	require.False(t, second)
	require.Equal(t, firstAt, c.ReceivedAt)
}

func TestChunkStateSources(t *testing.T) {
	c := &ChunkState{ID: ChunkID{FileID: "f", Offset: 0}}
	a, b := NodeID("a"), NodeID("b")

	c.AddSource(a)
	c.AddSource(b)
	c.AddSource(a) // duplicate, no-op
	require.Len(t, c.AvailableFrom, 2)

	c.CurrentSource = &a
	c.RemoveSource(a)
	require.Len(t, c.AvailableFrom, 1)
	require.Nil(t, c.CurrentSource)
}

func TestChunkIDString(t *testing.T) {
	id := ChunkID{FileID: "abc", Offset: 4096}
	require.Equal(t, "abc_4096", id.String())
}

func TestZeroChunkTransferNotComplete(t *testing.T) {
	meta := validFileMeta()
	meta.Size = 0
	tr := newTransfer(t, meta)
	require.False(t, tr.AllChunksReceived())
	require.Equal(t, float64(0), tr.CompletionPercentage())
}

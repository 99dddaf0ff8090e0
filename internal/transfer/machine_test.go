package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/filemesh/filemesh/pkg/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func newTestTransfer(id models.FileID, chunkOffsets ...int64) *models.Transfer {
	chunks := make([]*models.ChunkState, len(chunkOffsets))
	for i, off := range chunkOffsets {
		chunks[i] = &models.ChunkState{ID: models.ChunkID{FileID: id, Offset: off}}
	}
	return &models.Transfer{
		ID: id,
		Meta: models.FileMeta{
			Name:      "a.bin",
			Size:      2500,
			ChunkSize: 1024,
			Checksum:  models.Checksum{Bytes: []byte{1}, Algorithm: models.ChecksumAlgorithmSHA256},
		},
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
		Chunks:    chunks,
	}
}

func startMachine(t *testing.T, xfer *models.Transfer, sink EventSink) (*Machine, context.CancelFunc) {
	t.Helper()
	m := New(xfer, sink)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(cancel)
	return m, cancel
}

func TestStartTransitionsToInProgress(t *testing.T) {
	xfer := newTestTransfer("f1", 0, 1024, 2048)
	sink := &recordingSink{}
	m, _ := startMachine(t, xfer, sink)

	node := models.NodeID("n1")
	evt, err := m.Start(context.Background(), &node)
	require.NoError(t, err)
	require.IsType(t, Started{}, evt)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, status.Status)
}

func TestStartIsANoOpWhenNotPending(t *testing.T) {
	xfer := newTestTransfer("f1", 0)
	m, _ := startMachine(t, xfer, &recordingSink{})

	ctx := context.Background()
	_, err := m.Start(ctx, nil)
	require.NoError(t, err)

	evt, err := m.Start(ctx, nil)
	require.NoError(t, err)
	require.IsType(t, NoOp{}, evt)
}

func TestPauseResumeCycleDoesNotAlterProgress(t *testing.T) {
	xfer := newTestTransfer("f1", 0, 1024)
	m, _ := startMachine(t, xfer, &recordingSink{})
	ctx := context.Background()

	_, err := m.Start(ctx, nil)
	require.NoError(t, err)
	_, err = m.MarkChunkReceived(ctx, models.ChunkID{FileID: "f1", Offset: 0}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = m.Pause(ctx, "requester")
		require.NoError(t, err)
		_, err = m.Resume(ctx, "requester")
		require.NoError(t, err)
	}

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, status.Status)
	require.Equal(t, models.ByteSize(1024), status.TransferredBytes)
}

func TestMarkChunkReceivedIsIdempotent(t *testing.T) {
	xfer := newTestTransfer("f1", 0)
	sink := &recordingSink{}
	m, _ := startMachine(t, xfer, sink)
	ctx := context.Background()
	_, err := m.Start(ctx, nil)
	require.NoError(t, err)

	id := models.ChunkID{FileID: "f1", Offset: 0}
	_, err = m.MarkChunkReceived(ctx, id, nil)
	require.NoError(t, err)
	evt, err := m.MarkChunkReceived(ctx, id, nil)
	require.NoError(t, err)
	require.IsType(t, NoOp{}, evt)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 100.0, status.CompletionPercent)
}

func TestCompletingAllChunksTransitionsToCompleted(t *testing.T) {
	xfer := newTestTransfer("f1", 0, 1024, 2048)
	m, _ := startMachine(t, xfer, &recordingSink{})
	ctx := context.Background()
	_, err := m.Start(ctx, nil)
	require.NoError(t, err)

	var last Event
	for _, off := range []int64{0, 1024, 2048} {
		last, err = m.MarkChunkReceived(ctx, models.ChunkID{FileID: "f1", Offset: off}, nil)
		require.NoError(t, err)
	}
	require.IsType(t, Completed{}, last)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, status.Status)
	require.Equal(t, models.ByteSize(2500), status.TransferredBytes)
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	xfer := newTestTransfer("f1", 0)
	m, _ := startMachine(t, xfer, &recordingSink{})
	ctx := context.Background()

	evt, err := m.Cancel(ctx, "requester")
	require.NoError(t, err)
	require.IsType(t, Cancelled{}, evt)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, status.Status)
}

func TestNextChunkToRequestPrefersHigherPriorityAndFewerRetries(t *testing.T) {
	xfer := newTestTransfer("f1", 0, 1024)
	peer := models.NodeID("peer-1")
	xfer.Chunks[0].AvailableFrom = []models.NodeID{peer}
	xfer.Chunks[0].Priority = 1
	xfer.Chunks[1].AvailableFrom = []models.NodeID{peer}
	xfer.Chunks[1].Priority = 5

	m, _ := startMachine(t, xfer, &recordingSink{})
	ctx := context.Background()

	id, err := m.NextChunkToRequest(ctx, peer)
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, int64(1024), id.Offset)
}

func TestNextChunkToRequestSkipsChunksWithoutThatSource(t *testing.T) {
	xfer := newTestTransfer("f1", 0)
	m, _ := startMachine(t, xfer, &recordingSink{})
	ctx := context.Background()

	id, err := m.NextChunkToRequest(ctx, "peer-without-chunk")
	require.NoError(t, err)
	require.Nil(t, id)
}

func TestMarkRequestFailedIncrementsRetryAndClearsSource(t *testing.T) {
	xfer := newTestTransfer("f1", 0)
	peer := models.NodeID("peer-1")
	xfer.Chunks[0].CurrentSource = &peer

	m, _ := startMachine(t, xfer, &recordingSink{})
	ctx := context.Background()

	_, err := m.MarkRequestFailed(ctx, models.ChunkID{FileID: "f1", Offset: 0}, "timeout")
	require.NoError(t, err)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, status.Status) // failure doesn't change lifecycle status

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Chunks[0].RetryCount)
	require.Nil(t, snap.Chunks[0].CurrentSource)
}

func TestAddAndRemoveSource(t *testing.T) {
	xfer := newTestTransfer("f1", 0)
	m, _ := startMachine(t, xfer, &recordingSink{})
	ctx := context.Background()

	node := models.NodeID("peer-1")
	_, err := m.AddSource(ctx, node)
	require.NoError(t, err)

	id, err := m.NextChunkToRequest(ctx, node)
	require.NoError(t, err)
	require.NotNil(t, id)

	_, err = m.RemoveSource(ctx, node)
	require.NoError(t, err)

	id, err = m.NextChunkToRequest(ctx, node)
	require.NoError(t, err)
	require.Nil(t, id)
}

func TestZeroChunkTransferNeverAutoCompletes(t *testing.T) {
	xfer := newTestTransfer("f1")
	xfer.Meta.Size = 0
	m, _ := startMachine(t, xfer, &recordingSink{})
	ctx := context.Background()

	_, err := m.Start(ctx, nil)
	require.NoError(t, err)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, status.Status)
}

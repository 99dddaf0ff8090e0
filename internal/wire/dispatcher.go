package wire

import (
	"context"
	"errors"

	"github.com/filemesh/filemesh/internal/coordinator"
	"github.com/filemesh/filemesh/pkg/errs"
	"github.com/filemesh/filemesh/pkg/models"
)

// Dispatcher is what a Session hands inbound file_init/file_chunk
// envelopes to. Defined here (not imported from internal/coordinator) so
// a test session can fake it without constructing a real Coordinator,
// and so this package only depends on coordinator in one direction.
type Dispatcher interface {
	StartTransfer(ctx context.Context, fileID models.FileID, meta models.FileMeta, initiator *models.NodeID) error
	StoreChunk(ctx context.Context, chunkID models.ChunkID, data []byte, source *models.NodeID) error
}

// CoordinatorDispatcher adapts *coordinator.Coordinator to Dispatcher,
// discarding the lifecycle Event each call produces since a Session has
// no use for it beyond the error.
type CoordinatorDispatcher struct {
	Coordinator *coordinator.Coordinator
}

// StartTransfer forwards file_init to the coordinator as a start command.
// TransferAlreadyActive is swallowed: a peer re-announcing an in-flight
// file is not a session-ending error.
func (d CoordinatorDispatcher) StartTransfer(ctx context.Context, fileID models.FileID, meta models.FileMeta, initiator *models.NodeID) error {
	_, err := d.Coordinator.Start(ctx, fileID, meta, initiator)
	if errors.Is(err, errs.ErrTransferAlreadyActive) {
		return nil
	}
	return err
}

// StoreChunk forwards file_chunk to the coordinator.
func (d CoordinatorDispatcher) StoreChunk(ctx context.Context, chunkID models.ChunkID, data []byte, source *models.NodeID) error {
	_, err := d.Coordinator.StoreChunk(ctx, chunkID, data, source)
	return err
}

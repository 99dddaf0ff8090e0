// Package coordinator implements the Transfer Coordinator: the
// single-owner registry of active transfers, their creation/destruction,
// status fan-out, and outbound-progress bookkeeping. Registry mutation
// runs through a single command-processing goroutine so it is never
// shared across goroutines.
package coordinator

import (
	"time"

	"github.com/filemesh/filemesh/internal/transfer"
	"github.com/filemesh/filemesh/pkg/models"
)

// ChunkStore is the subset of internal/store.Store the coordinator needs
// to persist chunk bytes alongside updating transfer state.
type ChunkStore interface {
	Store(id models.ChunkID, data []byte) error
}

// TransferStore is the subset of internal/transferstore.Store the
// coordinator needs to persist transfer descriptors.
type TransferStore interface {
	Save(t *models.Transfer) error
	Delete(id models.FileID) error
}

// ActiveEntry is one row of a list_active response.
type ActiveEntry struct {
	transfer.Status
}

// ListActiveResult is the control API's list_active output.
type ListActiveResult struct {
	Transfers  []ActiveEntry
	TotalCount int
}

// DefaultStatusTimeout is the bounded Ask deadline used by
// active_transfers() for each per-transfer status query, per spec
// §5's "default deadline 3 s".
const DefaultStatusTimeout = 3 * time.Second

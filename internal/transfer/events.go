package transfer

import (
	"time"

	"github.com/filemesh/filemesh/pkg/models"
)

// Event is the closed set of outcomes a Machine operation can produce,
// following the "inheritance of message base types -> tagged variants"
// design note: a tagged union instead of a class hierarchy.
type Event interface{ isEvent() }

// Started is emitted when a transfer leaves Pending.
type Started struct {
	FileID    models.FileID
	Initiator *models.NodeID
	StartedAt time.Time
}

// Paused is emitted when a transfer enters Paused.
type Paused struct {
	FileID    models.FileID
	Requester models.NodeID
}

// Resumed is emitted when a transfer leaves Paused back to InProgress.
type Resumed struct {
	FileID    models.FileID
	Requester models.NodeID
}

// Cancelled is emitted when a transfer is cancelled by a requester.
type Cancelled struct {
	FileID    models.FileID
	Requester models.NodeID
}

// Progress is emitted after a chunk is newly marked received.
type Progress struct {
	FileID             models.FileID
	ReceivedChunks     int
	TotalChunks        int
	TransferredBytes   models.ByteSize
	CompletionPercent  float64
}

// Completed is emitted once, immediately after the Progress event that
// brings received_chunks to total_chunks.
type Completed struct {
	FileID      models.FileID
	CompletedAt time.Time
}

// Failed is emitted when a transfer transitions to the terminal Failed
// state for any reason other than explicit cancellation.
type Failed struct {
	FileID models.FileID
	Cause  models.FailureCause
	Reason string
}

// SourceAdded/SourceRemoved report per-chunk availability changes.
type SourceAdded struct {
	FileID models.FileID
	Node   models.NodeID
}

type SourceRemoved struct {
	FileID models.FileID
	Node   models.NodeID
}

// ChunkRequestFailed is emitted by mark_request_failed.
type ChunkRequestFailed struct {
	FileID  models.FileID
	ChunkID models.ChunkID
	Reason  string
}

// NoOp is returned when an operation's precondition failed; per spec
// 4.2's idempotence rule these must not raise, so they report a no-op
// event rather than an error.
type NoOp struct {
	FileID models.FileID
	Reason string
}

func (Started) isEvent()            {}
func (Paused) isEvent()             {}
func (Resumed) isEvent()            {}
func (Cancelled) isEvent()          {}
func (Progress) isEvent()           {}
func (Completed) isEvent()          {}
func (Failed) isEvent()             {}
func (SourceAdded) isEvent()        {}
func (SourceRemoved) isEvent()      {}
func (ChunkRequestFailed) isEvent() {}
func (NoOp) isEvent()               {}

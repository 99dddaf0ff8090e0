package models

import (
	"errors"
	"time"
)

// TransferStatus is the lifecycle state of a Transfer. Cancelled is
// modeled as Failed with Cause set to FailureCauseCancelled, per spec.
type TransferStatus string

const (
	StatusPending     TransferStatus = "pending"
	StatusInProgress  TransferStatus = "in_progress"
	StatusPaused      TransferStatus = "paused"
	StatusCompleted   TransferStatus = "completed"
	StatusFailed      TransferStatus = "failed"
)

// FailureCause records why a Transfer entered StatusFailed.
type FailureCause string

const (
	FailureCauseCancelled FailureCause = "cancelled"
	FailureCauseStorage   FailureCause = "storage_failed"
	FailureCauseOther     FailureCause = "other"
)

// Transfer is the durable record of one file moving between peers. It
// exclusively owns its Chunks list; nothing else may mutate it directly.
type Transfer struct {
	ID          FileID         `json:"id"`
	Meta        FileMeta       `json:"meta"`
	Status      TransferStatus `json:"status"`
	Cause       FailureCause   `json:"cause,omitempty"`
	Initiator   *NodeID        `json:"initiator,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Chunks      []*ChunkState  `json:"chunks"`
	Sources     []NodeID       `json:"sources"`
}

// Validate checks Transfer-level invariants.
func (t *Transfer) Validate() error {
	if t.ID == "" {
		return errors.New("transfer id must not be empty")
	}
	if err := t.Meta.Validate(); err != nil {
		return err
	}
	switch t.Status {
	case StatusPending, StatusInProgress, StatusPaused, StatusCompleted, StatusFailed:
	default:
		return errors.New("invalid transfer status")
	}
	return nil
}

// ReceivedChunks returns the count of chunks marked received.
func (t *Transfer) ReceivedChunks() int {
	n := 0
	for _, c := range t.Chunks {
		if c.Received {
			n++
		}
	}
	return n
}

// TotalChunks returns the number of chunks this transfer tracks.
func (t *Transfer) TotalChunks() int {
	return len(t.Chunks)
}

// AllChunksReceived reports whether every tracked chunk has been received.
// A transfer with zero chunks is not considered complete by this check;
// callers decide separately whether a zero-chunk file completes
// immediately (see invariant 1: status=Completed iff received=total and
// total>0).
func (t *Transfer) AllChunksReceived() bool {
	if len(t.Chunks) == 0 {
		return false
	}
	for _, c := range t.Chunks {
		if !c.Received {
			return false
		}
	}
	return true
}

// TransferredBytes returns the bytes accounted for by received chunks,
// capped at the file's total size on the trailing chunk.
func (t *Transfer) TransferredBytes() ByteSize {
	var total int64
	for _, c := range t.Chunks {
		if c.Received {
			total += t.Meta.ChunkLength(c.ID.Offset)
		}
	}
	return ByteSize(total)
}

// CompletionPercentage returns received/total*100, with the convention
// that a transfer with zero chunks reports 0%.
func (t *Transfer) CompletionPercentage() float64 {
	total := t.TotalChunks()
	if total == 0 {
		return 0
	}
	return float64(t.ReceivedChunks()) / float64(total) * 100
}

// ChunkByID returns the ChunkState for id, if tracked.
func (t *Transfer) ChunkByID(id ChunkID) *ChunkState {
	for _, c := range t.Chunks {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// HasSource reports whether node is already recorded as a transfer-level
// source.
func (t *Transfer) HasSource(node NodeID) bool {
	for _, n := range t.Sources {
		if n == node {
			return true
		}
	}
	return false
}

package transfer

import (
	"time"

	"github.com/filemesh/filemesh/pkg/models"
)

// Status is the snapshot returned by get_status and by the coordinator's
// active_transfers() fan-out.
type Status struct {
	FileID            models.FileID
	Status            models.TransferStatus
	CompletionPercent float64
	TransferredBytes  models.ByteSize
	TotalBytes        models.ByteSize
	Duration          time.Duration
	Sources           []models.NodeID
	// Degraded marks a status synthesized by the coordinator because the
	// owning Machine did not answer an Ask within its deadline.
	Degraded bool
}

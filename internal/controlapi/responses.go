package controlapi

import (
	"time"

	"github.com/filemesh/filemesh/internal/coordinator"
	"github.com/filemesh/filemesh/internal/transfer"
	"github.com/filemesh/filemesh/pkg/models"
)

// eventResponse renders a transfer.Event as the JSON shape returned for
// each lifecycle operation (Started/Paused/Resumed/Cancelled/...).
func eventResponse(evt transfer.Event) any {
	switch e := evt.(type) {
	case transfer.Started:
		return struct {
			FileID    models.FileID  `json:"file_id"`
			Initiator *models.NodeID `json:"initiator,omitempty"`
			StartedAt time.Time      `json:"started_at"`
		}{e.FileID, e.Initiator, e.StartedAt}
	case transfer.Paused:
		return struct {
			FileID    models.FileID `json:"file_id"`
			Requester models.NodeID `json:"requester"`
		}{e.FileID, e.Requester}
	case transfer.Resumed:
		return struct {
			FileID    models.FileID `json:"file_id"`
			Requester models.NodeID `json:"requester"`
		}{e.FileID, e.Requester}
	case transfer.Cancelled:
		return struct {
			FileID    models.FileID `json:"file_id"`
			Requester models.NodeID `json:"requester"`
		}{e.FileID, e.Requester}
	case transfer.NoOp:
		return struct {
			FileID models.FileID `json:"file_id"`
			Reason string        `json:"reason"`
		}{e.FileID, e.Reason}
	default:
		return struct {
			FileID models.FileID `json:"file_id"`
		}{}
	}
}

type transferStatusResponse struct {
	FileID            models.FileID         `json:"file_id"`
	Status            models.TransferStatus `json:"status"`
	CompletionPercent float64               `json:"completion_percentage"`
	TransferredBytes  models.ByteSize       `json:"transferred_bytes"`
	TotalBytes        models.ByteSize       `json:"total_bytes"`
	DurationSeconds   float64               `json:"duration_seconds"`
	Sources           []models.NodeID       `json:"sources"`
	Degraded          bool                  `json:"degraded,omitempty"`
}

func statusResponse(status transfer.Status) transferStatusResponse {
	return transferStatusResponse{
		FileID:            status.FileID,
		Status:            status.Status,
		CompletionPercent: status.CompletionPercent,
		TransferredBytes:  status.TransferredBytes,
		TotalBytes:        status.TotalBytes,
		DurationSeconds:   status.Duration.Seconds(),
		Sources:           status.Sources,
		Degraded:          status.Degraded,
	}
}

type listActiveResponseBody struct {
	Transfers  []transferStatusResponse `json:"transfers"`
	TotalCount int                      `json:"total_count"`
}

func listActiveResponse(result coordinator.ListActiveResult) listActiveResponseBody {
	out := make([]transferStatusResponse, len(result.Transfers))
	for i, e := range result.Transfers {
		out[i] = statusResponse(e.Status)
	}
	return listActiveResponseBody{Transfers: out, TotalCount: result.TotalCount}
}

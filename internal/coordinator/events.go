package coordinator

import (
	"github.com/filemesh/filemesh/internal/transfer"
	"github.com/filemesh/filemesh/pkg/models"
)

// machineSink is the owned event sink (per transfer package's "ambient
// event bus -> explicit wiring" design note) every Machine is given at
// creation. It logs completion, failure and cancellation without any
// global subscriber list; byte-count metrics are updated by StoreChunk.
type machineSink struct {
	fileID      models.FileID
	coordinator *Coordinator
}

func (s *machineSink) Publish(evt transfer.Event) {
	switch e := evt.(type) {
	case transfer.Completed:
		s.coordinator.log.Infow("transfer completed", "fileID", s.fileID)
	case transfer.Failed:
		s.coordinator.log.Warnw("transfer failed", "fileID", s.fileID, "cause", e.Cause, "reason", e.Reason)
	case transfer.Cancelled:
		s.coordinator.log.Infow("transfer cancelled", "fileID", s.fileID, "requester", e.Requester)
	}
}

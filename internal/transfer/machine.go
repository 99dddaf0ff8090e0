// Package transfer implements the Per-Transfer State Machine: one
// instance per in-flight FileId, owning its ChunkState list, progress,
// and lifecycle. Each Machine runs its own goroutine with an inbox of
// commands and queries, so the coordinator only ever holds a handle and
// never a pointer into Machine internals.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/filemesh/filemesh/pkg/models"
)

// EventSink receives every event a Machine produces. The caller supplies
// its own sink at construction; there is no ambient subscriber list.
type EventSink interface {
	Publish(Event)
}

// NopSink discards every event; useful in tests.
type NopSink struct{}

func (NopSink) Publish(Event) {}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdPause
	cmdResume
	cmdCancel
	cmdMarkChunkReceived
	cmdAddSource
	cmdRemoveSource
	cmdNextChunkToRequest
	cmdMarkRequestFailed
	cmdStatus
	cmdSnapshot
	cmdStop
)

type command struct {
	kind      cmdKind
	initiator *models.NodeID
	requester models.NodeID
	chunkID   models.ChunkID
	source    *models.NodeID
	node      models.NodeID
	from      models.NodeID
	reason    string
	reply     chan result
}

type result struct {
	event    Event
	chunkID  *models.ChunkID
	status   Status
	snapshot *models.Transfer
}

// Machine owns one Transfer's lifecycle and chunk bookkeeping. All
// mutation happens on the goroutine running Run; every other goroutine
// talks to it exclusively through the exported methods, which send a
// command over a bounded inbox and block for a reply (the "Ask" pattern).
type Machine struct {
	fileID models.FileID
	sink   EventSink
	inbox  chan command

	transfer *models.Transfer
}

// New creates a Machine for transfer in whatever status it carries: a
// fresh transfer is Pending, a restored one keeps its persisted status.
// Call Run in its own goroutine before issuing any command.
func New(t *models.Transfer, sink EventSink) *Machine {
	if sink == nil {
		sink = NopSink{}
	}
	return &Machine{
		fileID:   t.ID,
		sink:     sink,
		inbox:    make(chan command, 32),
		transfer: t,
	}
}

// FileID returns the FileId this Machine owns.
func (m *Machine) FileID() models.FileID {
	return m.fileID
}

// Run processes commands until ctx is cancelled or Stop is called. It
// must run on exactly one goroutine for the Machine's lifetime.
func (m *Machine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.inbox:
			if cmd.kind == cmdStop {
				if cmd.reply != nil {
					cmd.reply <- result{}
				}
				return
			}
			r := m.apply(cmd)
			if cmd.reply != nil {
				cmd.reply <- r
			}
		}
	}
}

// Stop asks the Machine's Run loop to exit.
func (m *Machine) Stop(ctx context.Context) {
	m.ask(ctx, command{kind: cmdStop})
}

func (m *Machine) ask(ctx context.Context, cmd command) (result, error) {
	cmd.reply = make(chan result, 1)
	select {
	case m.inbox <- cmd:
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// Start transitions Pending -> InProgress.
func (m *Machine) Start(ctx context.Context, initiator *models.NodeID) (Event, error) {
	r, err := m.ask(ctx, command{kind: cmdStart, initiator: initiator})
	return r.event, err
}

// Pause transitions InProgress -> Paused.
func (m *Machine) Pause(ctx context.Context, requester models.NodeID) (Event, error) {
	r, err := m.ask(ctx, command{kind: cmdPause, requester: requester})
	return r.event, err
}

// Resume transitions Paused -> InProgress.
func (m *Machine) Resume(ctx context.Context, requester models.NodeID) (Event, error) {
	r, err := m.ask(ctx, command{kind: cmdResume, requester: requester})
	return r.event, err
}

// Cancel transitions any non-terminal state to Failed(cancelled).
func (m *Machine) Cancel(ctx context.Context, requester models.NodeID) (Event, error) {
	r, err := m.ask(ctx, command{kind: cmdCancel, requester: requester})
	return r.event, err
}

// MarkChunkReceived marks chunkID received, attributing it to source if
// given. Idempotent: a second call for the same chunk is a no-op.
func (m *Machine) MarkChunkReceived(ctx context.Context, chunkID models.ChunkID, source *models.NodeID) (Event, error) {
	r, err := m.ask(ctx, command{kind: cmdMarkChunkReceived, chunkID: chunkID, source: source})
	return r.event, err
}

// AddSource records node as a potential source for every un-received
// chunk.
func (m *Machine) AddSource(ctx context.Context, node models.NodeID) (Event, error) {
	r, err := m.ask(ctx, command{kind: cmdAddSource, node: node})
	return r.event, err
}

// RemoveSource drops node as a source for every un-received chunk.
func (m *Machine) RemoveSource(ctx context.Context, node models.NodeID) (Event, error) {
	r, err := m.ask(ctx, command{kind: cmdRemoveSource, node: node})
	return r.event, err
}

// NextChunkToRequest picks the best candidate chunk to request from peer
// from, or nil if none qualifies.
func (m *Machine) NextChunkToRequest(ctx context.Context, from models.NodeID) (*models.ChunkID, error) {
	r, err := m.ask(ctx, command{kind: cmdNextChunkToRequest, from: from})
	return r.chunkID, err
}

// MarkRequestFailed records a failed chunk request, incrementing its
// retry count and clearing its current source.
func (m *Machine) MarkRequestFailed(ctx context.Context, chunkID models.ChunkID, reason string) (Event, error) {
	r, err := m.ask(ctx, command{kind: cmdMarkRequestFailed, chunkID: chunkID, reason: reason})
	return r.event, err
}

// Status returns a point-in-time snapshot of this transfer.
func (m *Machine) Status(ctx context.Context) (Status, error) {
	r, err := m.ask(ctx, command{kind: cmdStatus})
	return r.status, err
}

// Snapshot returns a deep copy of the full Transfer record, including
// per-chunk state, for durable persistence by the coordinator.
func (m *Machine) Snapshot(ctx context.Context) (*models.Transfer, error) {
	r, err := m.ask(ctx, command{kind: cmdSnapshot})
	return r.snapshot, err
}

// apply runs exclusively on the Run goroutine; it is the only place that
// mutates m.transfer.
func (m *Machine) apply(cmd command) result {
	t := m.transfer
	switch cmd.kind {
	case cmdStart:
		if t.Status != models.StatusPending {
			return result{event: NoOp{FileID: m.fileID, Reason: "start: not pending"}}
		}
		now := time.Now()
		t.Status = models.StatusInProgress
		t.StartedAt = &now
		if t.Initiator == nil {
			t.Initiator = cmd.initiator
		}
		evt := Started{FileID: m.fileID, Initiator: t.Initiator, StartedAt: now}
		m.sink.Publish(evt)
		return result{event: evt}

	case cmdPause:
		if t.Status != models.StatusInProgress {
			return result{event: NoOp{FileID: m.fileID, Reason: "pause: not in progress"}}
		}
		t.Status = models.StatusPaused
		evt := Paused{FileID: m.fileID, Requester: cmd.requester}
		m.sink.Publish(evt)
		return result{event: evt}

	case cmdResume:
		if t.Status != models.StatusPaused {
			return result{event: NoOp{FileID: m.fileID, Reason: "resume: not paused"}}
		}
		t.Status = models.StatusInProgress
		evt := Resumed{FileID: m.fileID, Requester: cmd.requester}
		m.sink.Publish(evt)
		return result{event: evt}

	case cmdCancel:
		if t.Status == models.StatusCompleted || t.Status == models.StatusFailed {
			return result{event: NoOp{FileID: m.fileID, Reason: "cancel: already terminal"}}
		}
		t.Status = models.StatusFailed
		t.Cause = models.FailureCauseCancelled
		evt := Cancelled{FileID: m.fileID, Requester: cmd.requester}
		m.sink.Publish(evt)
		return result{event: evt}

	case cmdMarkChunkReceived:
		return result{event: m.markChunkReceived(cmd.chunkID, cmd.source)}

	case cmdAddSource:
		for _, c := range t.Chunks {
			if !c.Received {
				c.AddSource(cmd.node)
			}
		}
		if !t.HasSource(cmd.node) {
			t.Sources = append(t.Sources, cmd.node)
		}
		evt := SourceAdded{FileID: m.fileID, Node: cmd.node}
		m.sink.Publish(evt)
		return result{event: evt}

	case cmdRemoveSource:
		for _, c := range t.Chunks {
			if !c.Received {
				c.RemoveSource(cmd.node)
			}
		}
		evt := SourceRemoved{FileID: m.fileID, Node: cmd.node}
		m.sink.Publish(evt)
		return result{event: evt}

	case cmdNextChunkToRequest:
		id := m.nextChunkToRequest(cmd.from)
		return result{chunkID: id}

	case cmdMarkRequestFailed:
		c := t.ChunkByID(cmd.chunkID)
		if c == nil {
			return result{event: NoOp{FileID: m.fileID, Reason: "mark_request_failed: unknown chunk"}}
		}
		c.RetryCount++
		c.CurrentSource = nil
		evt := ChunkRequestFailed{FileID: m.fileID, ChunkID: cmd.chunkID, Reason: cmd.reason}
		m.sink.Publish(evt)
		return result{event: evt}

	case cmdStatus:
		return result{status: m.status()}

	case cmdSnapshot:
		return result{snapshot: m.deepCopy()}

	default:
		return result{event: NoOp{FileID: m.fileID, Reason: fmt.Sprintf("unknown command %d", cmd.kind)}}
	}
}

func (m *Machine) markChunkReceived(chunkID models.ChunkID, source *models.NodeID) Event {
	t := m.transfer
	c := t.ChunkByID(chunkID)
	if c == nil {
		return NoOp{FileID: m.fileID, Reason: "mark_chunk_received: unknown chunk"}
	}
	if c.Received {
		return NoOp{FileID: m.fileID, Reason: "mark_chunk_received: already received"}
	}
	now := time.Now()
	c.MarkReceived(now, source)

	progress := Progress{
		FileID:            m.fileID,
		ReceivedChunks:    t.ReceivedChunks(),
		TotalChunks:       t.TotalChunks(),
		TransferredBytes:  t.TransferredBytes(),
		CompletionPercent: t.CompletionPercentage(),
	}
	m.sink.Publish(progress)

	if t.AllChunksReceived() {
		t.Status = models.StatusCompleted
		t.CompletedAt = &now
		completed := Completed{FileID: m.fileID, CompletedAt: now}
		m.sink.Publish(completed)
		return completed
	}
	return progress
}

func (m *Machine) nextChunkToRequest(from models.NodeID) *models.ChunkID {
	var best *models.ChunkState
	for _, c := range m.transfer.Chunks {
		if c.Received || c.CurrentSource != nil {
			continue
		}
		if !c.HasSource(from) {
			continue
		}
		if best == nil || c.Priority > best.Priority ||
			(c.Priority == best.Priority && c.RetryCount < best.RetryCount) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	id := best.ID
	return &id
}

func (m *Machine) status() Status {
	t := m.transfer
	var d time.Duration
	if t.StartedAt != nil {
		end := time.Now()
		if t.CompletedAt != nil {
			end = *t.CompletedAt
		}
		d = end.Sub(*t.StartedAt)
	}
	return Status{
		FileID:            m.fileID,
		Status:            t.Status,
		CompletionPercent: t.CompletionPercentage(),
		TransferredBytes:  t.TransferredBytes(),
		TotalBytes:        t.Meta.Size,
		Duration:          d,
		Sources:           append([]models.NodeID(nil), t.Sources...),
	}
}

// deepCopy clones the owned Transfer, including each ChunkState, so the
// caller can persist or inspect it without racing the Run goroutine.
func (m *Machine) deepCopy() *models.Transfer {
	t := m.transfer
	clone := *t
	clone.Chunks = make([]*models.ChunkState, len(t.Chunks))
	for i, c := range t.Chunks {
		cc := *c
		cc.AvailableFrom = append([]models.NodeID(nil), c.AvailableFrom...)
		clone.Chunks[i] = &cc
	}
	clone.Sources = append([]models.NodeID(nil), t.Sources...)
	return &clone
}

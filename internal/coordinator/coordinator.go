package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/filemesh/filemesh/internal/transfer"
	"github.com/filemesh/filemesh/pkg/errs"
	"github.com/filemesh/filemesh/pkg/models"
)

// MetricsSink receives coordinator-level gauges. Implemented by
// internal/metrics; nil-safe so tests don't need a Prometheus registry.
type MetricsSink interface {
	SetActiveTransfers(n int)
	AddBytesTransferred(n float64)
}

type nopMetrics struct{}

func (nopMetrics) SetActiveTransfers(int)      {}
func (nopMetrics) AddBytesTransferred(float64) {}

type registryEntry struct {
	machine  *transfer.Machine
	cancel   context.CancelFunc
	meta     models.FileMeta
	outbound models.ByteSize
}

// Coordinator is the registry and router for every transfer active on a
// node. All registry mutation happens on a single goroutine (run); every
// other caller talks to it through the exported methods, which are
// themselves implemented as Ask-style requests over an inbox channel.
type Coordinator struct {
	inbox   chan func(*state)
	chunks  ChunkStore
	descs   TransferStore
	log     *zap.SugaredLogger
	metrics MetricsSink

	statusTimeout time.Duration
}

type state struct {
	registry map[models.FileID]*registryEntry
}

// New creates a Coordinator. Call Run in its own goroutine before issuing
// any command.
func New(chunks ChunkStore, descs TransferStore, log *zap.SugaredLogger, metrics MetricsSink) *Coordinator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Coordinator{
		inbox:         make(chan func(*state), 64),
		chunks:        chunks,
		descs:         descs,
		log:           log,
		metrics:       metrics,
		statusTimeout: DefaultStatusTimeout,
	}
}

// Run processes registry mutations until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	st := &state{registry: make(map[models.FileID]*registryEntry)}
	for {
		select {
		case <-ctx.Done():
			for _, e := range st.registry {
				e.cancel()
			}
			return
		case fn := <-c.inbox:
			fn(st)
		}
	}
}

func (c *Coordinator) do(ctx context.Context, fn func(*state)) error {
	done := make(chan struct{})
	wrapped := func(st *state) {
		fn(st)
		close(done)
	}
	select {
	case c.inbox <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restore re-registers a Transfer loaded from internal/transferstore
// (e.g. at process startup) without running it through Start's
// fresh-Pending creation path: the Machine is built directly from the
// persisted descriptor, so its status, sources, and received chunks
// carry over unchanged. Only non-terminal transfers are ever persisted,
// so every descriptor LoadAll returns is expected to still be pending,
// in progress, or paused.
func (c *Coordinator) Restore(ctx context.Context, t *models.Transfer) error {
	return c.do(ctx, func(st *state) {
		if _, ok := st.registry[t.ID]; ok {
			return
		}
		sink := &machineSink{fileID: t.ID, coordinator: c}
		m := transfer.New(t, sink)
		mctx, cancel := context.WithCancel(context.Background())
		go m.Run(mctx)
		st.registry[t.ID] = &registryEntry{machine: m, cancel: cancel, meta: t.Meta}
		c.metrics.SetActiveTransfers(len(st.registry))
	})
}

// Start creates a new Machine for fileID and asks it to begin. Rejects
// with ErrTransferAlreadyActive if fileID is already registered.
func (c *Coordinator) Start(ctx context.Context, fileID models.FileID, meta models.FileMeta, initiator *models.NodeID) (transfer.Event, error) {
	var machine *transfer.Machine
	var alreadyActive bool
	err := c.do(ctx, func(st *state) {
		if _, ok := st.registry[fileID]; ok {
			alreadyActive = true
			return
		}
		t := &models.Transfer{
			ID:        fileID,
			Meta:      meta,
			Status:    models.StatusPending,
			CreatedAt: time.Now(),
			Chunks:    chunksForMeta(fileID, meta),
		}
		sink := &machineSink{fileID: fileID, coordinator: c}
		m := transfer.New(t, sink)
		mctx, cancel := context.WithCancel(context.Background())
		go m.Run(mctx)
		st.registry[fileID] = &registryEntry{machine: m, cancel: cancel, meta: meta}
		c.metrics.SetActiveTransfers(len(st.registry))
		machine = m
	})
	if err != nil {
		return nil, err
	}
	if alreadyActive {
		return nil, errs.ErrTransferAlreadyActive
	}
	evt, err := machine.Start(ctx, initiator)
	if err != nil {
		return nil, err
	}
	c.persist(fileID)
	return evt, nil
}

// Pause forwards a pause command to fileID's Machine.
func (c *Coordinator) Pause(ctx context.Context, fileID models.FileID, requester models.NodeID) (transfer.Event, error) {
	return c.forward(ctx, fileID, func(m *transfer.Machine) (transfer.Event, error) {
		return m.Pause(ctx, requester)
	})
}

// Resume forwards a resume command to fileID's Machine.
func (c *Coordinator) Resume(ctx context.Context, fileID models.FileID, requester models.NodeID) (transfer.Event, error) {
	return c.forward(ctx, fileID, func(m *transfer.Machine) (transfer.Event, error) {
		return m.Resume(ctx, requester)
	})
}

// Cancel forwards a cancel command to fileID's Machine. A transfer that
// is cancelled is dropped from the registry and its descriptor removed.
func (c *Coordinator) Cancel(ctx context.Context, fileID models.FileID, requester models.NodeID) (transfer.Event, error) {
	machine, err := c.lookup(ctx, fileID)
	if err != nil {
		return nil, err
	}
	evt, err := machine.Cancel(ctx, requester)
	if err != nil {
		return nil, err
	}
	if _, ok := evt.(transfer.Cancelled); ok {
		c.scheduleRemoval(fileID)
	} else {
		c.persist(fileID)
	}
	return evt, nil
}

func (c *Coordinator) forward(ctx context.Context, fileID models.FileID, fn func(*transfer.Machine) (transfer.Event, error)) (transfer.Event, error) {
	machine, err := c.lookup(ctx, fileID)
	if err != nil {
		return nil, err
	}
	evt, err := fn(machine)
	if err != nil {
		return nil, err
	}
	c.persist(fileID)
	return evt, nil
}

func (c *Coordinator) lookup(ctx context.Context, fileID models.FileID) (*transfer.Machine, error) {
	var machine *transfer.Machine
	err := c.do(ctx, func(st *state) {
		if e, ok := st.registry[fileID]; ok {
			machine = e.machine
		}
	})
	if err != nil {
		return nil, err
	}
	if machine == nil {
		return nil, errs.ErrTransferNotFound
	}
	return machine, nil
}

// StoreChunk persists bytes into the chunk store and reports the chunk
// received to fileID's Machine. The ack is ChunkStored.
func (c *Coordinator) StoreChunk(ctx context.Context, chunkID models.ChunkID, data []byte, source *models.NodeID) (transfer.Event, error) {
	machine, err := c.lookup(ctx, chunkID.FileID)
	if err != nil {
		return nil, err
	}
	if err := c.chunks.Store(chunkID, data); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageFailed, err)
	}
	c.metrics.AddBytesTransferred(float64(len(data)))
	evt, err := machine.MarkChunkReceived(ctx, chunkID, source)
	if err != nil {
		return nil, err
	}
	if _, ok := evt.(transfer.Completed); ok {
		c.scheduleRemoval(chunkID.FileID)
	} else {
		c.persist(chunkID.FileID)
	}
	return evt, nil
}

// Status returns fileID's current snapshot, merging the Machine's
// received-chunk progress with the coordinator's outbound counter per
// §4.3's fan-out aggregation rationale.
func (c *Coordinator) Status(ctx context.Context, fileID models.FileID) (transfer.Status, error) {
	machine, err := c.lookup(ctx, fileID)
	if err != nil {
		return transfer.Status{}, err
	}
	status, err := machine.Status(ctx)
	if err != nil {
		return transfer.Status{}, err
	}
	return c.mergeOutbound(ctx, fileID, status), nil
}

func (c *Coordinator) mergeOutbound(ctx context.Context, fileID models.FileID, status transfer.Status) transfer.Status {
	var outbound models.ByteSize
	_ = c.do(ctx, func(st *state) {
		if e, ok := st.registry[fileID]; ok {
			outbound = e.outbound
		}
	})
	merged := status.TransferredBytes
	if outbound < status.TotalBytes {
		if outbound > merged {
			merged = outbound
		}
	} else {
		merged = status.TotalBytes
	}
	status.TransferredBytes = merged
	if status.TotalBytes > 0 {
		status.CompletionPercent = float64(merged) / float64(status.TotalBytes) * 100
	}
	return status
}

// OutboundProgressNotice records a monotonic high-water mark of bytes
// handed to the session layer for sending, capped at meta.size.
func (c *Coordinator) OutboundProgressNotice(ctx context.Context, fileID models.FileID, bytesSentSoFar models.ByteSize) error {
	return c.do(ctx, func(st *state) {
		e, ok := st.registry[fileID]
		if !ok {
			return
		}
		next := bytesSentSoFar
		if next > e.meta.Size {
			next = e.meta.Size
		}
		if next > e.outbound {
			e.outbound = next
		}
	})
}

// ActiveTransfers queries every registered Machine for status with a
// bounded timeout per query; non-responders contribute a degraded entry
// synthesized from stored metadata and the outbound counter, per §4.3.
func (c *Coordinator) ActiveTransfers(ctx context.Context) (ListActiveResult, error) {
	type snapshotEntry struct {
		fileID   models.FileID
		machine  *transfer.Machine
		meta     models.FileMeta
		outbound models.ByteSize
	}
	var snap []snapshotEntry
	err := c.do(ctx, func(st *state) {
		for id, e := range st.registry {
			snap = append(snap, snapshotEntry{fileID: id, machine: e.machine, meta: e.meta, outbound: e.outbound})
		}
	})
	if err != nil {
		return ListActiveResult{}, err
	}

	results := make([]ActiveEntry, len(snap))
	g, gctx := errgroup.WithContext(context.Background())
	for i, entry := range snap {
		i, entry := i, entry
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, c.statusTimeout)
			defer cancel()
			status, err := entry.machine.Status(qctx)
			if err != nil {
				results[i] = ActiveEntry{Status: transfer.Status{
					FileID:           entry.fileID,
					Status:           models.StatusInProgress,
					TransferredBytes: entry.outbound,
					TotalBytes:       entry.meta.Size,
					Degraded:         true,
				}}
				return nil
			}
			results[i] = ActiveEntry{Status: c.mergeOutbound(gctx, entry.fileID, status)}
			return nil
		})
	}
	// errgroup.Wait's error is always nil here: per-query failures are
	// absorbed into a degraded entry rather than failing the whole
	// aggregation, per §5's timeout policy.
	_ = g.Wait()
	return ListActiveResult{Transfers: results, TotalCount: len(results)}, nil
}

func (c *Coordinator) persist(fileID models.FileID) {
	machine, err := c.lookup(context.Background(), fileID)
	if err != nil {
		return
	}
	snap, err := machine.Snapshot(context.Background())
	if err != nil {
		return
	}
	if err := c.descs.Save(snap); err != nil {
		c.log.Warnw("failed to persist transfer descriptor", "fileID", fileID, "error", err)
	}
}

// scheduleRemoval drops fileID from the registry and its outbound
// counter, matching "on state-machine termination notification, drop
// registry entries and outbound counter."
func (c *Coordinator) scheduleRemoval(fileID models.FileID) {
	_ = c.do(context.Background(), func(st *state) {
		if e, ok := st.registry[fileID]; ok {
			e.cancel()
			delete(st.registry, fileID)
			c.metrics.SetActiveTransfers(len(st.registry))
		}
	})
	if err := c.descs.Delete(fileID); err != nil {
		c.log.Warnw("failed to delete completed transfer descriptor", "fileID", fileID, "error", err)
	}
}

func chunksForMeta(fileID models.FileID, meta models.FileMeta) []*models.ChunkState {
	offsets := meta.ChunkOffsets()
	chunks := make([]*models.ChunkState, len(offsets))
	for i, off := range offsets {
		chunks[i] = &models.ChunkState{ID: models.ChunkID{FileID: fileID, Offset: off}}
	}
	return chunks
}

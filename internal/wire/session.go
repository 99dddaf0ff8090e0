// Package wire implements the Framed Session Layer: per-connection
// read/write of length-prefixed JSON envelopes, handshake, inbound
// dispatch into a Dispatcher, and outbound send/broadcast.
package wire

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/filemesh/filemesh/pkg/errs"
	"github.com/filemesh/filemesh/pkg/models"
	"github.com/filemesh/filemesh/pkg/protocol"
)

// Session owns one TCP connection to one remote peer plus its framed
// message state. The remote NodeID is unknown until hello arrives.
type Session struct {
	Local models.NodeID

	mu          sync.Mutex // serializes writes (the send lock)
	conn        net.Conn
	remote      models.NodeID
	connectedAt time.Time
	closed      bool
}

func newSession(local models.NodeID, conn net.Conn) *Session {
	return &Session{Local: local, conn: conn, connectedAt: time.Now()}
}

// Remote returns the peer's advertised NodeID, empty until hello arrives.
func (s *Session) Remote() models.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// ConnectedAt returns when this session was established.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Send serializes v as an envelope, length-prefixes it, and writes it
// under the per-session send lock so two senders never interleave
// frames.
func (s *Session) Send(v any) error {
	payload, err := protocol.EncodeEnvelope(v)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidFrame, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrNetworkFailed
	}
	if err := protocol.WriteFrame(s.conn, payload); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrNetworkFailed, err)
	}
	return nil
}

// Close closes the underlying connection, idempotently.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// SessionMetrics receives the live connected-peer count. Implemented by
// internal/metrics; nil-safe so callers without a registry don't need a
// stub.
type SessionMetrics interface {
	SetSessionsConnected(n int)
}

type nopSessionMetrics struct{}

func (nopSessionMetrics) SetSessionsConnected(int) {}

// Registry tracks every currently-connected Session, keyed by remote
// NodeID once known, and runs each session's receive loop.
type Registry struct {
	local      models.NodeID
	dispatcher Dispatcher
	log        *zap.SugaredLogger
	metrics    SessionMetrics

	mu       sync.RWMutex
	byRemote map[models.NodeID]*Session
	pending  map[*Session]struct{} // accepted/connected but pre-hello
}

// NewRegistry creates a Registry for local's outbound/inbound sessions.
func NewRegistry(local models.NodeID, dispatcher Dispatcher, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		local:      local,
		dispatcher: dispatcher,
		log:        log,
		metrics:    nopSessionMetrics{},
		byRemote:   make(map[models.NodeID]*Session),
		pending:    make(map[*Session]struct{}),
	}
}

// SetMetrics wires a SessionMetrics sink. Optional; call before Connect
// or Accept are used concurrently with it.
func (r *Registry) SetMetrics(m SessionMetrics) {
	if m == nil {
		m = nopSessionMetrics{}
	}
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

func (r *Registry) reportSessionsConnected() {
	r.mu.RLock()
	n := len(r.byRemote)
	m := r.metrics
	r.mu.RUnlock()
	m.SetSessionsConnected(n)
}

// Connect dials host:port and starts the session's receive loop. A
// connect failure is NetworkFailed.
func (r *Registry) Connect(ctx context.Context, addr string) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrNetworkFailed, err)
	}
	s := r.adopt(conn)
	go r.serve(ctx, s)
	return s, nil
}

// Accept adopts an inbound connection (e.g. from a listener's Accept
// loop) and starts its receive loop.
func (r *Registry) Accept(ctx context.Context, conn net.Conn) *Session {
	s := r.adopt(conn)
	go r.serve(ctx, s)
	return s
}

func (r *Registry) adopt(conn net.Conn) *Session {
	s := newSession(r.local, conn)
	r.mu.Lock()
	r.pending[s] = struct{}{}
	r.mu.Unlock()
	return s
}

// serve is the per-session receive loop (§4.4): send hello, then read
// frames until EOF or a protocol error, dispatching each to its handler.
func (r *Registry) serve(ctx context.Context, s *Session) {
	defer r.remove(s)
	defer s.Close()

	if err := s.Send(protocol.NewHello(string(r.local))); err != nil {
		return
	}

	for {
		payload, err := protocol.ReadFrame(s.conn)
		if err != nil {
			return // EOF or malformed length: session terminates, §8 invariant 10
		}
		msg, err := protocol.DecodeEnvelope(payload)
		if err != nil {
			return // malformed JSON: session terminates
		}
		if err := r.handle(ctx, s, msg); err != nil {
			r.log.Warnw("session handler error", "remote", s.Remote(), "error", err)
		}
	}
}

func (r *Registry) handle(ctx context.Context, s *Session, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeHello:
		node := models.NodeID(msg.Hello.NodeID)
		s.mu.Lock()
		s.remote = node
		s.mu.Unlock()
		r.mu.Lock()
		delete(r.pending, s)
		r.byRemote[node] = s
		r.mu.Unlock()
		r.reportSessionsConnected()
		return nil

	case protocol.TypeFileInit:
		meta, err := fileMetaFromInit(msg.FileInit)
		if err != nil {
			return err
		}
		initiator := models.NodeID(msg.FileInit.SourceNodeID)
		return r.dispatcher.StartTransfer(ctx, models.FileID(msg.FileInit.FileID), meta, &initiator)

	case protocol.TypeFileChunk:
		source := models.NodeID(msg.FileChunk.SourceNodeID)
		chunkID := models.ChunkID{FileID: models.FileID(msg.FileChunk.FileID), Offset: int64(msg.FileChunk.Offset)}
		return r.dispatcher.StoreChunk(ctx, chunkID, msg.FileChunk.Data, &source)

	default:
		r.log.Debugw("ignoring unknown envelope type", "type", msg.Type)
		return nil
	}
}

func (r *Registry) remove(s *Session) {
	remote := s.Remote()
	r.mu.Lock()
	delete(r.pending, s)
	removed := false
	if remote != "" {
		if cur, ok := r.byRemote[remote]; ok && cur == s {
			delete(r.byRemote, remote)
			removed = true
		}
	}
	r.mu.Unlock()
	if removed {
		r.reportSessionsConnected()
	}
}

// Get returns the Session for a connected peer, if any.
func (r *Registry) Get(node models.NodeID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byRemote[node]
	return s, ok
}

// Disconnect closes and removes the session for node, if connected.
func (r *Registry) Disconnect(node models.NodeID) error {
	s, ok := r.Get(node)
	if !ok {
		return nil
	}
	return s.Close()
}

// Broadcast sends v to every currently-connected session; an individual
// session's failure is isolated and logged, not propagated.
func (r *Registry) Broadcast(v any) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byRemote))
	for _, s := range r.byRemote {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Send(v); err != nil {
			r.log.Warnw("broadcast to peer failed", "remote", s.Remote(), "error", err)
		}
	}
}

func fileMetaFromInit(fi *protocol.FileInit) (models.FileMeta, error) {
	checksum := models.Checksum{
		Bytes:     append([]byte(nil), fi.Checksum...),
		Algorithm: models.ChecksumAlgorithm(fi.ChecksumAlgorithm),
	}
	meta := models.FileMeta{
		Name:      fi.FileName,
		Size:      models.ByteSize(fi.FileSize),
		ChunkSize: models.ByteSize(fi.ChunkSize),
		Checksum:  checksum,
	}
	if err := meta.Validate(); err != nil {
		return models.FileMeta{}, fmt.Errorf("%w: %v", errs.ErrPreconditionViolated, err)
	}
	return meta, nil
}

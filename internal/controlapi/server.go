// Package controlapi exposes the HTTP/WebSocket control surface for a
// running peer: start_transfer, pause_transfer, resume_transfer,
// cancel_transfer, get_status, list_active, connect_peer,
// disconnect_peer.
package controlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/filemesh/filemesh/internal/coordinator"
	"github.com/filemesh/filemesh/internal/transfer"
	"github.com/filemesh/filemesh/pkg/errs"
	"github.com/filemesh/filemesh/pkg/models"
)

// PeerConnector is the subset of *wire.Registry connect_peer/
// disconnect_peer need. Defined here, not imported from internal/wire,
// to keep this package's dependency on wire one-directional.
type PeerConnector interface {
	Connect(ctx context.Context, addr string) error
	Disconnect(node models.NodeID) error
}

// Server wires the Transfer Coordinator (and, optionally, a peer
// connector) to HTTP handlers. The zero value is invalid; use New.
type Server struct {
	coord    *coordinator.Coordinator
	peers    PeerConnector
	log      *zap.SugaredLogger
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
}

// New builds a Server. gatherer may be nil to fall back to the default
// global Prometheus registry; peers may be nil, in which case
// connect_peer/disconnect_peer report NetworkFailed/no-op respectively.
func New(coord *coordinator.Coordinator, peers PeerConnector, log *zap.SugaredLogger, gatherer prometheus.Gatherer) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		coord:    coord,
		peers:    peers,
		log:      log,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers every control API route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/transfers/start", s.handleStart)
	mux.HandleFunc("/api/v1/transfers/", s.handleTransferSubroute)
	mux.HandleFunc("/api/v1/transfers", s.handleListActive)
	mux.HandleFunc("/api/v1/peers/connect", s.handleConnectPeer)
	mux.HandleFunc("/api/v1/peers/disconnect", s.handleDisconnectPeer)
	mux.HandleFunc("/ws/status", s.handleStatusWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := errs.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case "TRANSFER_NOT_FOUND":
		status = http.StatusNotFound
	case "TRANSFER_ALREADY_ACTIVE":
		status = http.StatusConflict
	case "PRECONDITION_VIOLATED":
		status = http.StatusBadRequest
	case "NETWORK_FAILED", "STORAGE_FAILED":
		status = http.StatusBadGateway
	}
	writeJSON(w, status, apiError{Code: code, Message: err.Error()})
}

// handleTransferSubroute dispatches /api/v1/transfers/{file_id}/{action}
// to their handlers, since net/http's ServeMux pattern-matches prefixes
// only.
func (s *Server) handleTransferSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/transfers/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	fileID := models.FileID(parts[0])
	switch parts[1] {
	case "pause":
		s.handleLifecycle(w, r, fileID, s.coord.Pause)
	case "resume":
		s.handleLifecycle(w, r, fileID, s.coord.Resume)
	case "cancel":
		s.handleLifecycle(w, r, fileID, s.coord.Cancel)
	case "status":
		s.handleGetStatus(w, r, fileID)
	default:
		http.NotFound(w, r)
	}
}

type startRequest struct {
	FileID    models.FileID   `json:"file_id"`
	Meta      models.FileMeta `json:"meta"`
	Initiator *models.NodeID  `json:"initiator,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrPreconditionViolated)
		return
	}
	evt, err := s.coord.Start(r.Context(), req.FileID, req.Meta, req.Initiator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse(evt))
}

type requesterRequest struct {
	Requester models.NodeID `json:"requester"`
}

// lifecycleOp is the shape shared by Pause/Resume/Cancel.
type lifecycleOp func(ctx context.Context, fileID models.FileID, requester models.NodeID) (transfer.Event, error)

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request, fileID models.FileID, op lifecycleOp) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req requesterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrPreconditionViolated)
		return
	}
	evt, err := op(r.Context(), fileID, req.Requester)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse(evt))
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request, fileID models.FileID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status, err := s.coord.Status(r.Context(), fileID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(status))
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := s.coord.ActiveTransfers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listActiveResponse(result))
}

type connectPeerRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (s *Server) handleConnectPeer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req connectPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" || req.Port <= 0 {
		writeError(w, errs.ErrPreconditionViolated)
		return
	}
	if s.peers == nil {
		writeError(w, errs.ErrNetworkFailed)
		return
	}
	addr := req.Host + ":" + strconv.Itoa(req.Port)
	if err := s.peers.Connect(r.Context(), addr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"host": req.Host, "port": req.Port})
}

type disconnectPeerRequest struct {
	NodeID models.NodeID `json:"node_id"`
}

func (s *Server) handleDisconnectPeer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req disconnectPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" {
		writeError(w, errs.ErrPreconditionViolated)
		return
	}
	if s.peers != nil {
		_ = s.peers.Disconnect(req.NodeID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": req.NodeID})
}

// handleStatusWebSocket upgrades the connection and pushes get_status
// snapshots for ?file_id= on a fixed tick until the client disconnects.
func (s *Server) handleStatusWebSocket(w http.ResponseWriter, r *http.Request) {
	fileID := models.FileID(r.URL.Query().Get("file_id"))
	if fileID == "" {
		http.Error(w, "file_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, err := s.coord.Status(r.Context(), fileID)
			if err != nil {
				_ = conn.WriteJSON(apiError{Code: errs.Code(err), Message: err.Error()})
				return
			}
			if err := conn.WriteJSON(statusResponse(status)); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// Package client is a thin HTTP client for the control API in
// internal/controlapi, used by cmd/filemesh to drive a locally or
// remotely running node.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/filemesh/filemesh/pkg/models"
)

// ControlAPIClient is a small HTTP client for internal/controlapi.
type ControlAPIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewControlAPIClient creates a new client with reasonable defaults.
func NewControlAPIClient(baseURL string) *ControlAPIClient {
	return &ControlAPIClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *ControlAPIClient) do(ctx context.Context, method, path string, body any, out any, okStatus int) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != okStatus {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Code != "" {
			return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type startedResponse struct {
	FileID    models.FileID  `json:"file_id"`
	Initiator *models.NodeID `json:"initiator,omitempty"`
	StartedAt time.Time      `json:"started_at"`
}

// StartTransfer calls start_transfer.
func (c *ControlAPIClient) StartTransfer(ctx context.Context, fileID models.FileID, meta models.FileMeta, initiator *models.NodeID) (*startedResponse, error) {
	req := struct {
		FileID    models.FileID   `json:"file_id"`
		Meta      models.FileMeta `json:"meta"`
		Initiator *models.NodeID  `json:"initiator,omitempty"`
	}{fileID, meta, initiator}
	var out startedResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/transfers/start", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

type lifecycleResponse struct {
	FileID    models.FileID `json:"file_id"`
	Requester models.NodeID `json:"requester"`
}

func (c *ControlAPIClient) lifecycle(ctx context.Context, action string, fileID models.FileID, requester models.NodeID) (*lifecycleResponse, error) {
	req := struct {
		Requester models.NodeID `json:"requester"`
	}{requester}
	var out lifecycleResponse
	path := fmt.Sprintf("/api/v1/transfers/%s/%s", fileID, action)
	if err := c.do(ctx, http.MethodPost, path, req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// PauseTransfer calls pause_transfer.
func (c *ControlAPIClient) PauseTransfer(ctx context.Context, fileID models.FileID, requester models.NodeID) (*lifecycleResponse, error) {
	return c.lifecycle(ctx, "pause", fileID, requester)
}

// ResumeTransfer calls resume_transfer.
func (c *ControlAPIClient) ResumeTransfer(ctx context.Context, fileID models.FileID, requester models.NodeID) (*lifecycleResponse, error) {
	return c.lifecycle(ctx, "resume", fileID, requester)
}

// CancelTransfer calls cancel_transfer.
func (c *ControlAPIClient) CancelTransfer(ctx context.Context, fileID models.FileID, requester models.NodeID) (*lifecycleResponse, error) {
	return c.lifecycle(ctx, "cancel", fileID, requester)
}

// TransferStatus is the get_status/list_active row shape.
type TransferStatus struct {
	FileID            models.FileID         `json:"file_id"`
	Status            models.TransferStatus `json:"status"`
	CompletionPercent float64               `json:"completion_percentage"`
	TransferredBytes  models.ByteSize       `json:"transferred_bytes"`
	TotalBytes        models.ByteSize       `json:"total_bytes"`
	DurationSeconds   float64               `json:"duration_seconds"`
	Sources           []models.NodeID       `json:"sources"`
	Degraded          bool                  `json:"degraded,omitempty"`
}

// GetStatus calls get_status.
func (c *ControlAPIClient) GetStatus(ctx context.Context, fileID models.FileID) (*TransferStatus, error) {
	var out TransferStatus
	path := fmt.Sprintf("/api/v1/transfers/%s/status", fileID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListActiveResult is the list_active response shape.
type ListActiveResult struct {
	Transfers  []TransferStatus `json:"transfers"`
	TotalCount int              `json:"total_count"`
}

// ListActive calls list_active.
func (c *ControlAPIClient) ListActive(ctx context.Context) (*ListActiveResult, error) {
	var out ListActiveResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/transfers", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectPeer calls connect_peer.
func (c *ControlAPIClient) ConnectPeer(ctx context.Context, host string, port int) error {
	req := struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	}{host, port}
	return c.do(ctx, http.MethodPost, "/api/v1/peers/connect", req, nil, http.StatusOK)
}

// DisconnectPeer calls disconnect_peer.
func (c *ControlAPIClient) DisconnectPeer(ctx context.Context, node models.NodeID) error {
	req := struct {
		NodeID models.NodeID `json:"node_id"`
	}{node}
	return c.do(ctx, http.MethodPost, "/api/v1/peers/disconnect", req, nil, http.StatusOK)
}

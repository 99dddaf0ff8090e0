// Package outbound implements the Outbound Transfer Orchestrator: given
// a source file path and a connected peer, it frames and streams chunks
// in ascending offset order and reports progress back to the
// coordinator.
package outbound

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/filemesh/filemesh/pkg/models"
	"github.com/filemesh/filemesh/pkg/protocol"
)

// Sender is the subset of *wire.Session an orchestrator writes to.
type Sender interface {
	Send(v any) error
}

// ProgressNotifier receives a monotonic high-water mark of bytes handed
// to the session for sending. Satisfied structurally by
// *coordinator.Coordinator.
type ProgressNotifier interface {
	OutboundProgressNotice(ctx context.Context, fileID models.FileID, bytesSentSoFar models.ByteSize) error
}

// ProgressFunc is an optional caller-supplied callback (e.g. driving a
// CLI progress bar) invoked after every chunk is written.
type ProgressFunc func(sentSoFar models.ByteSize, total models.ByteSize)

// Orchestrator drives one outbound file transfer at a time; it holds no
// per-transfer state between calls to SendFile.
type Orchestrator struct {
	localNodeID models.NodeID
	notifier    ProgressNotifier
	log         *zap.SugaredLogger
}

// New creates an Orchestrator that reports outbound progress to notifier
// as localNodeID.
func New(localNodeID models.NodeID, notifier ProgressNotifier, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{localNodeID: localNodeID, notifier: notifier, log: log}
}

// SendFile sends one file_init followed by its chunks, in ascending
// offset order, to target. On any I/O failure it logs and stops; the
// caller (or a higher-level resend request) decides whether to retry.
func (o *Orchestrator) SendFile(ctx context.Context, fileID models.FileID, target Sender, meta models.FileMeta, sourcePath string, onProgress ProgressFunc) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("invalid file metadata: %w", err)
	}

	init := protocol.FileInit{
		Type:              protocol.TypeFileInit,
		FileID:            string(fileID),
		FileName:          meta.Name,
		FileSize:          uint64(meta.Size),
		ChunkSize:         uint32(meta.ChunkSize),
		SourceNodeID:      string(o.localNodeID),
		Checksum:          append([]byte(nil), meta.Checksum.Bytes...),
		ChecksumAlgorithm: string(meta.Checksum.Algorithm),
	}
	if err := target.Send(init); err != nil {
		return fmt.Errorf("send file_init: %w", err)
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, meta.ChunkSize)
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := io.ReadFull(f, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			o.log.Errorw("read source file failed, aborting send", "fileID", fileID, "offset", offset, "error", readErr)
			return fmt.Errorf("read source file at offset %d: %w", offset, readErr)
		}
		if n == 0 {
			break
		}

		chunk := protocol.FileChunk{
			Type:         protocol.TypeFileChunk,
			FileID:       string(fileID),
			Offset:       uint64(offset),
			SourceNodeID: string(o.localNodeID),
			Data:         append([]byte(nil), buf[:n]...),
		}
		if err := target.Send(chunk); err != nil {
			o.log.Errorw("send chunk failed, aborting send", "fileID", fileID, "offset", offset, "error", err)
			return fmt.Errorf("send chunk at offset %d: %w", offset, err)
		}

		offset += int64(n)
		if o.notifier != nil {
			if err := o.notifier.OutboundProgressNotice(ctx, fileID, models.ByteSize(offset)); err != nil {
				o.log.Warnw("outbound progress notice failed", "fileID", fileID, "error", err)
			}
		}
		if onProgress != nil {
			onProgress(models.ByteSize(offset), meta.Size)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}
	return nil
}

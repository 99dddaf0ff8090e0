package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/filemesh/filemesh/internal/chunker"
	"github.com/filemesh/filemesh/internal/outbound"
	"github.com/filemesh/filemesh/internal/telemetry"
	"github.com/filemesh/filemesh/internal/wire"
	"github.com/filemesh/filemesh/pkg/models"
	"github.com/filemesh/filemesh/pkg/utils"
)

var (
	sendTarget    string
	sendChunkSize int64
	sendNodeID    string
	sendFileID    string
)

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Send a file to a peer",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendTarget, "to", "", "target peer address (host:port)")
	sendCmd.Flags().Int64Var(&sendChunkSize, "chunk-size", int64(models.MinChunkSize)*64, "preferred chunk size in bytes")
	sendCmd.Flags().StringVar(&sendNodeID, "node-id", "", "this node's id (defaults to a generated UUID)")
	sendCmd.Flags().StringVar(&sendFileID, "file-id", "", "file id to advertise (defaults to the file's sha256)")
	_ = sendCmd.MarkFlagRequired("to")
}

// noopDispatcher satisfies wire.Dispatcher for the outbound-only session a
// send opens: there is nothing to do with a peer-initiated file_init or
// file_chunk while we are exclusively pushing.
type noopDispatcher struct{}

func (noopDispatcher) StartTransfer(context.Context, models.FileID, models.FileMeta, *models.NodeID) error {
	return nil
}

func (noopDispatcher) StoreChunk(context.Context, models.ChunkID, []byte, *models.NodeID) error {
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	sum, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}

	nodeID := models.NodeID(sendNodeID)
	if nodeID == "" {
		nodeID = models.NodeID(uuid.NewString())
	}
	fileID := models.FileID(sendFileID)
	if fileID == "" {
		fileID = models.FileID(fmt.Sprintf("%x", sum))
	}

	sizer := chunker.New(models.ByteSize(sendChunkSize), models.MaxChunkSize, telemetry.NewCollector())
	meta := models.FileMeta{
		Name:      info.Name(),
		Size:      models.ByteSize(info.Size()),
		ChunkSize: sizer.ChooseAdaptive(models.ByteSize(info.Size())),
		Checksum:  models.Checksum{Bytes: sum, Algorithm: models.ChecksumAlgorithmSHA256},
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer dialCancel()

	registry := wire.NewRegistry(nodeID, noopDispatcher{}, zap.NewNop().Sugar())
	sess, err := registry.Connect(dialCtx, sendTarget)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", sendTarget, err)
	}
	defer sess.Close()

	bar := progressbar.NewOptions64(
		int64(meta.Size),
		progressbar.OptionSetDescription("sending "+meta.Name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	orch := outbound.New(nodeID, nil, zap.NewNop().Sugar())
	if err := orch.SendFile(context.Background(), fileID, sess, meta, path, func(sent, _ models.ByteSize) {
		_ = bar.Set64(int64(sent))
	}); err != nil {
		return fmt.Errorf("send file: %w", err)
	}

	fmt.Printf("\nsent %s (%s) to %s as file %s\n", meta.Name, utils.HumanBytes(int64(meta.Size)), sendTarget, fileID)
	return nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

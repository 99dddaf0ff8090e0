package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/filemesh/filemesh/internal/client"
	"github.com/filemesh/filemesh/pkg/models"
)

var statusAPIAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query and control a running filemesh peer over its control API",
}

func init() {
	statusCmd.PersistentFlags().StringVar(&statusAPIAddr, "api", "http://localhost:8090", "control API base URL")
	statusCmd.AddCommand(
		statusGetCmd,
		statusListCmd,
		statusStartCmd,
		lifecycleCmd("pause", "Pause a transfer", func(ctx context.Context, c *client.ControlAPIClient, fileID models.FileID, requester models.NodeID) error {
			_, err := c.PauseTransfer(ctx, fileID, requester)
			return err
		}),
		lifecycleCmd("resume", "Resume a paused transfer", func(ctx context.Context, c *client.ControlAPIClient, fileID models.FileID, requester models.NodeID) error {
			_, err := c.ResumeTransfer(ctx, fileID, requester)
			return err
		}),
		lifecycleCmd("cancel", "Cancel a transfer", func(ctx context.Context, c *client.ControlAPIClient, fileID models.FileID, requester models.NodeID) error {
			_, err := c.CancelTransfer(ctx, fileID, requester)
			return err
		}),
		statusConnectCmd,
		statusDisconnectCmd,
	)
}

func apiClient() *client.ControlAPIClient {
	return client.NewControlAPIClient(statusAPIAddr)
}

func printStatus(st client.TransferStatus) {
	degraded := ""
	if st.Degraded {
		degraded = " (degraded)"
	}
	fmt.Printf("%-24s %-12s %6.2f%%  %d/%d bytes%s\n",
		st.FileID, st.Status, st.CompletionPercent, st.TransferredBytes, st.TotalBytes, degraded)
}

var statusGetCmd = &cobra.Command{
	Use:   "get <file-id>",
	Short: "Get one transfer's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := apiClient().GetStatus(context.Background(), models.FileID(args[0]))
		if err != nil {
			return err
		}
		printStatus(*st)
		return nil
	},
}

var statusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every active transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient().ListActive(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%d active transfer(s)\n", res.TotalCount)
		for _, t := range res.Transfers {
			printStatus(t)
		}
		return nil
	},
}

// lifecycleCmd builds a "<use> <file-id> [--requester]" subcommand that
// forwards to one of the control API's pause/resume/cancel operations,
// sharing the requester-flag plumbing across all three.
func lifecycleCmd(use, short string, fn func(ctx context.Context, c *client.ControlAPIClient, fileID models.FileID, requester models.NodeID) error) *cobra.Command {
	var requester string
	cmd := &cobra.Command{
		Use:   use + " <file-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fn(context.Background(), apiClient(), models.FileID(args[0]), models.NodeID(requester))
		},
	}
	cmd.Flags().StringVar(&requester, "requester", "cli", "node id attributed as the requester")
	return cmd
}

var (
	startName      string
	startSize      int64
	startChunkSize int64
	startChecksum  string
	startInitiator string
)

var statusStartCmd = &cobra.Command{
	Use:   "start <file-id>",
	Short: "Register a transfer ahead of inbound chunks (control API start_transfer)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := hex.DecodeString(startChecksum)
		if err != nil {
			return fmt.Errorf("decode --checksum: %w", err)
		}
		meta := models.FileMeta{
			Name:      startName,
			Size:      models.ByteSize(startSize),
			ChunkSize: models.ByteSize(startChunkSize),
			Checksum:  models.Checksum{Bytes: sum, Algorithm: models.ChecksumAlgorithmSHA256},
		}
		var initiator *models.NodeID
		if startInitiator != "" {
			n := models.NodeID(startInitiator)
			initiator = &n
		}
		_, err = apiClient().StartTransfer(context.Background(), models.FileID(args[0]), meta, initiator)
		return err
	},
}

func init() {
	statusStartCmd.Flags().StringVar(&startName, "name", "", "file name")
	statusStartCmd.Flags().Int64Var(&startSize, "size", 0, "file size in bytes")
	statusStartCmd.Flags().Int64Var(&startChunkSize, "chunk-size", int64(models.MinChunkSize), "chunk size in bytes")
	statusStartCmd.Flags().StringVar(&startChecksum, "checksum", "", "hex-encoded sha256 checksum")
	statusStartCmd.Flags().StringVar(&startInitiator, "initiator", "", "initiating node id")
}

var statusConnectCmd = &cobra.Command{
	Use:   "connect <host> <port>",
	Short: "Connect this peer to another peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		return apiClient().ConnectPeer(context.Background(), args[0], port)
	},
}

var statusDisconnectCmd = &cobra.Command{
	Use:   "disconnect <node-id>",
	Short: "Disconnect this peer from another peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiClient().DisconnectPeer(context.Background(), models.NodeID(args[0]))
	},
}

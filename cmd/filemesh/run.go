package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/filemesh/filemesh/internal/config"
	"github.com/filemesh/filemesh/internal/controlapi"
	"github.com/filemesh/filemesh/internal/coordinator"
	"github.com/filemesh/filemesh/internal/discovery"
	"github.com/filemesh/filemesh/internal/metrics"
	"github.com/filemesh/filemesh/internal/store"
	"github.com/filemesh/filemesh/internal/transferstore"
	"github.com/filemesh/filemesh/internal/transport"
	"github.com/filemesh/filemesh/internal/wire"
	"github.com/filemesh/filemesh/pkg/models"
)

var (
	runControlAddr string
	runNodeID      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a filemesh peer (listener, coordinator, and control API)",
	RunE:  runPeer,
}

func init() {
	runCmd.Flags().StringVar(&runControlAddr, "control-addr", ":8090", "HTTP control API bind address")
	runCmd.Flags().StringVar(&runNodeID, "node-id", "", "this node's id (defaults to a generated UUID)")
}

func runPeer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer zl.Sync()
	log := zl.Sugar()

	nodeID := models.NodeID(runNodeID)
	if nodeID == "" {
		nodeID = models.NodeID(uuid.NewString())
	}

	chunkStore, err := buildChunkStore(cfg, log)
	if err != nil {
		return err
	}

	descs, err := transferstore.New(cfg.Storage.DataDir+"/files", log)
	if err != nil {
		return fmt.Errorf("open transfer descriptor store: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	coord := coordinator.New(chunkStore, descs, log, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	restored, err := descs.LoadAll()
	if err != nil {
		return fmt.Errorf("load persisted transfers: %w", err)
	}
	for _, t := range restored {
		if err := coord.Restore(ctx, t); err != nil {
			log.Warnw("failed to restore transfer", "fileID", t.ID, "error", err)
		}
	}
	if len(restored) > 0 {
		log.Infow("restored transfers from disk", "count", len(restored))
	}

	orphans, err := chunkStore.SweepOrphans(func() (map[models.FileID]struct{}, error) {
		ids, err := descs.ListIDs()
		if err != nil {
			return nil, err
		}
		known := make(map[models.FileID]struct{}, len(ids))
		for _, id := range ids {
			known[id] = struct{}{}
		}
		return known, nil
	})
	if err != nil {
		log.Warnw("failed to sweep orphaned chunks", "error", err)
	} else if orphans > 0 {
		log.Infow("swept orphaned chunk payloads", "count", orphans)
	}

	registry := wire.NewRegistry(nodeID, wire.CoordinatorDispatcher{Coordinator: coord}, log)
	registry.SetMetrics(m)

	listenAddr := fmt.Sprintf("%s:%d", cfg.Network.Host, cfg.Network.Port)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	defer ln.Close()

	go acceptLoop(ctx, ln, registry, log)
	connectSeeds(ctx, cfg.Network.SeedNodes, registry, log)

	apiServer := controlapi.New(coord, controlapi.RegistryConnector{Registry: registry}, log, reg)
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpSrv := &http.Server{Addr: runControlAddr, Handler: mux}

	go func() {
		log.Infow("control API listening", "addr", runControlAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("control API server error", "error", err)
		}
	}()

	log.Infow("filemesh peer started", "nodeId", nodeID, "listen", ln.Addr().String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	_ = httpSrv.Close()
	cancel()
	return nil
}

// sweepableChunkStore is satisfied by both *store.Store and
// *store.RedundantStore; runPeer needs SweepOrphans at startup in
// addition to the narrower coordinator.ChunkStore interface.
type sweepableChunkStore interface {
	coordinator.ChunkStore
	SweepOrphans(known store.KnownFileIDs) (int, error)
}

// buildChunkStore wires internal/store's optional compression and
// optional local erasure redundancy per storage.enable_compression and
// storage.enable_redundancy.
func buildChunkStore(cfg config.Config, log *zap.SugaredLogger) (sweepableChunkStore, error) {
	chunksDir := cfg.Storage.DataDir + "/chunks"

	var opts []store.Option
	if cfg.Storage.EnableCompression {
		alg := store.CompressionFlate
		if cfg.Storage.CompressionAlgorithm == "zstd" {
			alg = store.CompressionZstd
		}
		opts = append(opts, store.WithCompression(alg))
	}

	base, err := store.New(chunksDir, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}

	if !cfg.Storage.EnableRedundancy {
		return base, nil
	}
	redundant, err := store.NewRedundant(base, chunksDir, cfg.Storage.RedundancyDataShards, cfg.Storage.RedundancyParityShards)
	if err != nil {
		return nil, fmt.Errorf("enable chunk redundancy: %w", err)
	}
	return redundant, nil
}

func acceptLoop(ctx context.Context, ln net.Listener, registry *wire.Registry, log *zap.SugaredLogger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Warnw("accept failed", "error", err)
			return
		}
		registry.Accept(ctx, conn)
	}
}

// connectSeeds dials every configured seed node, retrying each with
// exponential backoff and a per-address circuit breaker.
func connectSeeds(ctx context.Context, seedNodes []string, registry *wire.Registry, log *zap.SugaredLogger) {
	disc := discovery.NewStaticSeedDiscoverer(seedNodes)
	seeds, err := disc.Discover(ctx)
	if err != nil {
		log.Warnw("seed discovery failed", "error", err)
		return
	}

	rm := transport.NewReconnectManager()
	for _, addr := range seeds {
		go connectWithRetry(ctx, string(addr), registry, rm, log)
	}
}

func connectWithRetry(ctx context.Context, addr string, registry *wire.Registry, rm *transport.ReconnectManager, log *zap.SugaredLogger) {
	for attempt := 0; ; attempt++ {
		if rm.GetCircuitState(addr) == transport.CircuitOpen {
			log.Warnw("seed node circuit open, giving up", "addr", addr)
			return
		}
		if _, err := registry.Connect(ctx, addr); err != nil {
			rm.RecordFailure(addr, err)
			if !rm.ShouldRetry(attempt, err) {
				log.Warnw("giving up on seed node", "addr", addr, "attempts", attempt+1, "error", err)
				return
			}
			backoff := rm.NextBackoff(attempt+1, 0)
			log.Warnw("connect to seed node failed, retrying", "addr", addr, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		rm.RecordSuccess(addr)
		return
	}
}

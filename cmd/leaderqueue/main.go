// Command leaderqueue runs a single tablet's leader-side replication
// queue: it appends a steady stream of operations and drives a
// per-peer update cycle, wired the way the teacher's storage node main
// wires its services, config and graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leaderqueue/internal/config"
	leaderqueueerrors "leaderqueue/internal/errors"
	"leaderqueue/internal/health"
	"leaderqueue/internal/membership"
	"leaderqueue/internal/memtracker"
	"leaderqueue/internal/metrics"
	"leaderqueue/internal/model"
	"leaderqueue/internal/opid"
	"leaderqueue/internal/queue"
	"leaderqueue/internal/server"
	"leaderqueue/internal/transport"
	"leaderqueue/internal/util/workerpool"
	"leaderqueue/internal/watermark"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("tablet_id", cfg.Server.TabletID),
		zap.Int("quorum_size", cfg.Queue.QuorumSize),
		zap.Int("total_peers", cfg.Queue.TotalPeers))

	registry := memtracker.NewRegistry()
	parent := registry.FindOrCreate(memtracker.GlobalTrackerID, cfg.Queue.GlobalSoftBytes(), cfg.Queue.GlobalHardBytes())

	m := metrics.NewMetrics(cfg.Server.TabletID)

	q := queue.New(cfg.Server.TabletID, cfg.Queue.QuorumSize, cfg.Queue.TotalPeers, queue.Config{
		LocalSoftBytes:  cfg.Queue.LocalSoftBytes(),
		LocalHardBytes:  cfg.Queue.LocalHardBytes(),
		MaxBatchBytes:   cfg.Queue.MaxBatchBytes,
		DumpQueueOnFull: cfg.Queue.DumpQueueOnFull,
	}, parent, m, logger)

	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		TabletID: cfg.Server.TabletID,
		Queue:    q,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go checker.Start(ctx)

	metricsSrv := server.NewMetricsServer(server.Config{
		HTTPPort: cfg.Metrics.Port,
		GRPCPort: cfg.Metrics.Port + 1,
	}, m, checker, logger)
	if err := metricsSrv.Start(); err != nil {
		logger.Fatal("failed to start metrics server", zap.Error(err))
	}
	defer metricsSrv.Stop()

	peerTransport := transport.NewLoopbackTransport()

	var roster *membership.Roster
	if cfg.Membership.Enabled {
		roster, err = membership.NewRoster(membership.Config{
			NodeID:         cfg.Server.TabletID,
			BindPort:       cfg.Membership.BindPort,
			SeedNodes:      cfg.Membership.SeedNodes,
			GossipInterval: cfg.Membership.GossipInterval,
			ProbeTimeout:   cfg.Membership.ProbeTimeout,
			ProbeInterval:  cfg.Membership.ProbeInterval,
		}, q, logger)
		if err != nil {
			logger.Error("failed to initialize membership roster", zap.Error(err))
		} else {
			defer roster.Shutdown()
			logger.Info("membership roster initialized")
		}
	} else {
		trackStaticPeers(q, cfg.Queue.TotalPeers, logger)
	}

	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "replication",
		MaxWorkers: cfg.Queue.TotalPeers,
		QueueSize:  cfg.Queue.TotalPeers * 4,
		Logger:     logger,
	})
	defer pool.Stop(cfg.Server.ShutdownTimeout)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	runReplicationLoop(ctx, q, pool, peerTransport, cfg.Queue.MaxBatchBytes, logger, sigChan)

	logger.Info("leaderqueue shut down cleanly")
}

// trackStaticPeers tracks a fixed peer-N set for demo runs with
// membership gossip disabled.
func trackStaticPeers(q *queue.Queue, totalPeers int, logger *zap.Logger) {
	for i := 1; i < totalPeers; i++ {
		peer := watermark.PeerID(fmt.Sprintf("peer-%d", i))
		if err := q.TrackPeer(peer, opid.Zero); err != nil {
			logger.Warn("failed to track static peer", zap.String("peer", string(peer)), zap.Error(err))
		}
	}
}

// runReplicationLoop appends a steady stream of operations and, on every
// tick, fans out one workerpool task per tracked peer to build a
// request, send it, and apply the response.
func runReplicationLoop(ctx context.Context, q *queue.Queue, pool *workerpool.WorkerPool, t transport.PeerTransport, maxBatchBytes int64, logger *zap.Logger, sigChan <-chan os.Signal) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	term := uint64(1)
	index := uint64(0)

	for {
		select {
		case <-sigChan:
			logger.Info("shutting down gracefully")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			index++
			id := opid.ID{Term: term, Index: index}
			op, err := model.NewReplicateBytesChecked(id, []byte(fmt.Sprintf("payload-%d", index)))
			if err != nil {
				logger.Error("failed to build operation", zap.Error(err))
				continue
			}

			if err := q.Append(q.NewTracker(op)); err != nil {
				if leaderqueueerrors.GetCode(err) == leaderqueueerrors.ErrCodeQueueFull {
					logger.Warn("queue full, skipping append", zap.String("op_id", id.String()))
				} else {
					logger.Error("failed to append operation", zap.Error(err))
				}
				continue
			}

			for _, peer := range activePeers(q) {
				peer := peer
				_ = pool.Submit(workerpool.Task{
					ID: fmt.Sprintf("replicate-%s-%s", peer, id),
					Fn: func(taskCtx context.Context) error {
						return replicateOnce(taskCtx, q, t, peer, maxBatchBytes)
					},
				})
			}
		}
	}
}

// activePeers lists the peers currently tracked by the queue's
// watermark table.
func activePeers(q *queue.Queue) []watermark.PeerID {
	return q.TrackedPeers()
}

func replicateOnce(ctx context.Context, q *queue.Queue, t transport.PeerTransport, peer watermark.PeerID, maxBatchBytes int64) error {
	batch, err := q.BuildRequest(peer, maxBatchBytes)
	if err != nil {
		return fmt.Errorf("build request for %q: %w", peer, err)
	}
	if len(batch) == 0 {
		return nil
	}

	resp, err := t.SendRequest(ctx, peer, batch)
	if err != nil {
		return fmt.Errorf("send request to %q: %w", peer, err)
	}

	q.ApplyResponse(peer, resp.Watermark)
	return nil
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/vdb/pkg/cache"
	"github.com/orneryd/vdb/pkg/cluster"
	"github.com/orneryd/vdb/pkg/collection"
	"github.com/orneryd/vdb/pkg/config"
	"github.com/orneryd/vdb/pkg/obs"
)

// runServe wires config -> data-dir -> registry (which itself opens the
// WAL manager and replays it per collection) -> cache -> RPC server, the
// initialisation order §9's "global state" note specifies, and blocks
// until SIGINT/SIGTERM.
func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: exitInvalidConfig, err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: exitInvalidConfig, err: err}
	}

	log, err := obs.NewLogger(obs.LoggerConfig{Level: cfg.Logging.Level, Format: obs.LogFormat(cfg.Logging.Format)})
	if err != nil {
		return &exitError{code: exitInvalidConfig, err: err}
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := obs.NewMetrics()

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("serve: create data dir: %w", err)}
	}

	log.Info("opening registry", zap.String("data_dir", cfg.Server.DataDir))
	registry, err := collection.NewRegistry(cfg.Server.DataDir, log, metrics)
	if err != nil {
		return &exitError{code: exitRecoveryFailed, err: fmt.Errorf("serve: open registry: %w", err)}
	}
	defer registry.Close()

	contentCache, err := cache.New(cache.Config{
		HotBytes:         cfg.Cache.HotBytes,
		WarmPath:         cfg.Cache.WarmPath,
		ColdPath:         cfg.Cache.ColdPath,
		CompressionLevel: cfg.Cache.CompressionLevel,
		Metrics:          metricsOrNil(cfg.Cache.EnableMetrics, metrics),
	}, log)
	if err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("serve: open cache: %w", err)}
	}
	defer contentCache.Close()

	// The router's shard count here covers collections created without an
	// explicit sharding override; a sharded collection carries its own
	// vector.ShardingConfig.ShardCount and would need its own Router sized
	// to match, which a multi-collection deployment should construct
	// per-collection rather than sharing this process-wide default one.
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	router := cluster.NewRouter(1, 64)
	nodeID := cfg.Cluster.NodeID
	if nodeID == "" {
		nodeID = "self"
	}
	router.AddNode(nodeID, addr)
	for _, peer := range cfg.Cluster.Servers {
		router.AddNode(peer.ID, net.JoinHostPort(peer.Address, strconv.Itoa(peer.Port)))
	}

	pool := cluster.NewPool(time.Duration(cfg.Cluster.TimeoutMs)*time.Millisecond, 30*time.Second)
	defer pool.Close()

	if cfg.Cluster.Enabled {
		health := cluster.NewHealthMonitor(5*time.Second, time.Duration(cfg.Cluster.TimeoutMs)*time.Millisecond, 3, pingNode(pool), log)
		health.SetOnUnavailable(func(id string) {
			log.Warn("cluster node unavailable, excluded from routing", zap.String("node", id))
		})
		health.Start(ctx, router.Nodes)
		defer health.Stop()
		router.SetHealthMonitor(health)
	}

	// cluster.Coordinator is the caller-side router a transport collaborator
	// would drive to fan an Insert/Search/Delete out across shards; with no
	// transport in this core, the process only needs the server half below,
	// which executes RPCs against shards it locally owns.
	server := cluster.NewServer(addr, registry, log)
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.Serve() }()

	log.Info("vdb ready", zap.String("addr", addr), zap.Bool("cluster_enabled", cfg.Cluster.Enabled))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErrCh:
		if isAddrInUse(err) {
			return &exitError{code: exitPortInUse, err: fmt.Errorf("serve: %w", err)}
		}
		return &exitError{code: exitFailure, err: fmt.Errorf("serve: %w", err)}
	}

	if err := server.Close(); err != nil {
		log.Warn("error closing RPC server", zap.Error(err))
	}
	return nil
}

func metricsOrNil(enabled bool, m *obs.Metrics) *obs.Metrics {
	if !enabled {
		return nil
	}
	return m
}

// pingNode backs HealthMonitor's heartbeat by issuing a cheap
// ListCollections RPC over the pooled connection, rather than opening a
// separate liveness-only socket.
func pingNode(pool *cluster.Pool) cluster.PingFunc {
	return func(ctx context.Context, nodeID, addr string) error {
		client, err := pool.Get(nodeID, addr)
		if err != nil {
			return err
		}
		deadline := time.Now().Add(3 * time.Second)
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		var resp cluster.ListCollectionsResponse
		return client.Call(deadline, cluster.MethodListCollections, struct{}{}, &resp)
	}
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.EADDRINUSE)
}

// Command server composes and runs one orchestrator process: a shard
// manager, history engine, matching engine, visibility indexer, and the
// gRPC facade in front of them, wired together with go.uber.org/fx so each
// component's lifecycle (start background loops, stop them on shutdown) is
// managed uniformly.
package main

import (
	"context"
	"flag"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"net/http"

	"github.com/orchestrator/workflow-core/api"
	"github.com/orchestrator/workflow-core/common/config"
	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	sqlstore "github.com/orchestrator/workflow-core/common/persistence/sql"
	"github.com/orchestrator/workflow-core/service/history"
	"github.com/orchestrator/workflow-core/service/matching"
	"github.com/orchestrator/workflow-core/service/shard"
	etcdshard "github.com/orchestrator/workflow-core/service/shard/etcd"
	"github.com/orchestrator/workflow-core/service/visibility"
)

var configPath = flag.String("config", "config.yaml", "path to the orchestrator's YAML configuration file")

func main() {
	flag.Parse()
	fx.New(
		fx.Provide(
			loadConfig,
			newLogger,
			prometheus.NewRegistry,
			newMetricsHandler,
			newStore,
			newShardManager,
			newVisibilityIndexer,
			newHistoryEngine,
			newMatchingEngine,
			newWorkflowService,
			newGRPCServer,
		),
		fx.Invoke(registerLifecycle, runMetricsServer),
	).Run()
}

func loadConfig() (*config.Config, error) {
	return config.Load(*configPath)
}

func newLogger(cfg *config.Config) (log.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Log.Encoding != "" {
		zapCfg.Encoding = cfg.Log.Encoding
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err == nil {
		zapCfg.Level = level
	}
	z, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return log.NewZapLogger(z), nil
}

func newMetricsHandler(cfg *config.Config, registry *prometheus.Registry) metrics.Handler {
	if !cfg.Metrics.Enabled {
		return metrics.NoopHandler()
	}
	return metrics.NewPrometheusHandler(cfg.Metrics.Namespace, registry)
}

func newStore(cfg *config.Config, logger log.Logger) (persistence.Store, error) {
	return sqlstore.NewStore(cfg.Persistence.DSN, logger)
}

func newShardManager(cfg *config.Config, store persistence.Store, logger log.Logger, metricsHandler metrics.Handler) (shard.Manager, error) {
	repo := store.Shards()
	if cfg.Shard.LeaseBackend == "etcd" {
		client, err := clientv3.New(clientv3.Config{Endpoints: cfg.Shard.EtcdEndpoints})
		if err != nil {
			return nil, err
		}
		repo = etcdshard.New(client)
	}
	return shard.NewManager(shard.Config{
		Identity:             hostIdentity(),
		ShardCount:           cfg.Shard.Count,
		LeaseDuration:        cfg.Shard.LeaseDuration,
		HeartbeatInterval:    cfg.Shard.HeartbeatInterval,
		HeartbeatExtension:   cfg.Shard.HeartbeatExtension,
		ReclaimSweepInterval: cfg.Shard.ReclaimSweepInterval,
	}, repo, logger, metricsHandler), nil
}

func newHistoryEngine(cfg *config.Config, store persistence.Store, shardMgr shard.Manager, visibilityIndexer visibility.Indexer, logger log.Logger, metricsHandler metrics.Handler) (history.Engine, error) {
	return history.NewEngine(history.Config{MutableStateCacheSize: cfg.History.MutableStateCacheSize}, store, shardMgr, visibilityIndexer, logger, metricsHandler)
}

func newMatchingEngine(cfg *config.Config, store persistence.Store, logger log.Logger, metricsHandler metrics.Handler) matching.Engine {
	return matching.NewEngine(matching.Config{
		LongPollTimeout:     cfg.Matching.LongPollTimeout,
		PollRetryInterval:   cfg.Matching.PollRetryInterval,
		TaskLeaseDuration:   cfg.Matching.TaskLeaseDuration,
		RequeueDelaySeconds: cfg.Matching.RequeueDelaySeconds,
		RateLimitPerSecond:  cfg.Matching.RateLimitPerSecond,
		PartitionsPerQueue:  cfg.Matching.PartitionsPerQueue,
		ShardCount:          cfg.Shard.Count,
	}, store.TaskQueues(), logger, metricsHandler)
}

func newVisibilityIndexer(store persistence.Store, logger log.Logger, metricsHandler metrics.Handler) visibility.Indexer {
	return visibility.NewIndexer(store.Visibility(), logger, metricsHandler)
}

func newWorkflowService(historyEngine history.Engine, matchingEngine matching.Engine, visibilityIndexer visibility.Indexer) api.WorkflowService {
	return api.NewWorkflowService(historyEngine, matchingEngine, visibilityIndexer)
}

func newGRPCServer(workflowService api.WorkflowService) *grpc.Server {
	srv := grpc.NewServer()
	api.RegisterWorkflowServiceServer(srv, workflowService)
	reflection.Register(srv)
	return srv
}

func hostIdentity() string {
	hostname, err := net.LookupCNAME("localhost")
	if err != nil || hostname == "" {
		return "orchestrator-server"
	}
	return hostname
}

// registerLifecycle wires every component's start/stop into fx's lifecycle
// so a single process shutdown signal cleanly stops the shard manager's
// background loops and the task-lease sweeper, closes the store, and shuts
// down the gRPC listener.
func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, store persistence.Store, shardMgr shard.Manager, grpcServer *grpc.Server, logger log.Logger, metricsHandler metrics.Handler) {
	sweeper := matching.NewSweeper(store.TaskQueues(), 0, logger, metricsHandler)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := shardMgr.Start(ctx); err != nil {
				return err
			}
			sweeper.Start()
			listener, err := net.Listen("tcp", cfg.RPC.ListenAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := grpcServer.Serve(listener); err != nil {
					logger.Error("grpc server exited", zapErrorTag(err))
				}
			}()
			logger.Info("orchestrator server started", zapStringTag("listenAddr", cfg.RPC.ListenAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shardMgr.Stop()
			sweeper.Stop()
			grpcServer.GracefulStop()
			return store.Close()
		},
	})
}

// runMetricsServer serves the metrics handler's registry on the Prometheus
// /metrics HTTP endpoint when metrics are enabled; the listener starts and
// closes with fx.Lifecycle.
func runMetricsServer(lc fx.Lifecycle, cfg *config.Config, registry *prometheus.Registry, logger log.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server exited", zapErrorTag(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Close()
		},
	})
}

func zapErrorTag(err error) zap.Field   { return zap.Error(err) }
func zapStringTag(k, v string) zap.Field { return zap.String(k, v) }

// Package matching implements task-queue dispatch: enqueueing tasks,
// long-polling workers for work with bounded wait and cooperative
// cancellation, and the heartbeat/complete/fail lifecycle a worker drives
// a leased task through.
package matching

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/orchestrator/workflow-core/common/hashring"
	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/log/tag"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

// Engine is the matching service's public surface: task producers call
// EnqueueTask, workers call PollTask and then one of Complete/Fail,
// heartbeating long-running tasks in between.
type Engine interface {
	EnqueueTask(ctx context.Context, item *persistence.TaskQueueItem) error
	// PollTask blocks until a task is ready, the long-poll timeout elapses,
	// or ctx is canceled, whichever comes first. A timed-out poll returns
	// (nil, nil, nil) so callers can distinguish "no work" from an error.
	PollTask(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType, worker string) (*persistence.TaskQueueItem, *persistence.TaskLease, error)
	HeartbeatTask(ctx context.Context, leaseID string) (*persistence.TaskLease, error)
	CompleteTask(ctx context.Context, leaseID string) error
	FailTask(ctx context.Context, leaseID string, reason string, requeue bool) error
	// PauseTask prevents the pending task belonging to one execution from
	// being dispatched again until UnpauseTask is called; a lease already
	// held at the time of the call keeps running.
	PauseTask(ctx context.Context, namespaceID, workflowID, runID string, queueType persistence.TaskQueueType, identity, reason string) error
	UnpauseTask(ctx context.Context, namespaceID, workflowID, runID string, queueType persistence.TaskQueueType, resetAttempts bool) error
	QueueDepth(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType) (int64, error)
	PartitionDepths(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType) (map[int32]int64, error)
}

// Config bounds the engine's polling and backoff behavior.
type Config struct {
	LongPollTimeout     time.Duration
	PollRetryInterval    time.Duration
	TaskLeaseDuration    time.Duration
	RequeueDelaySeconds  int32
	RateLimitPerSecond   float64
	PartitionsPerQueue   int32
	ShardCount           int32
}

type engineImpl struct {
	cfg     Config
	repo    persistence.TaskQueueRepository
	logger  log.Logger
	metrics metrics.Handler
	limiter *rate.Limiter
}

// NewEngine constructs a matching Engine against repo.
func NewEngine(cfg Config, repo persistence.TaskQueueRepository, logger log.Logger, metricsHandler metrics.Handler) Engine {
	if cfg.LongPollTimeout <= 0 {
		cfg.LongPollTimeout = 60 * time.Second
	}
	if cfg.PollRetryInterval <= 0 || cfg.PollRetryInterval > 250*time.Millisecond {
		cfg.PollRetryInterval = 250 * time.Millisecond
	}
	if cfg.TaskLeaseDuration <= 0 {
		cfg.TaskLeaseDuration = 10 * time.Second
	}
	if cfg.RequeueDelaySeconds <= 0 {
		cfg.RequeueDelaySeconds = 5
	}
	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), int(cfg.RateLimitPerSecond))
	}
	return &engineImpl{
		cfg:     cfg,
		repo:    repo,
		logger:  logger.With(tag.ComponentName("matching-engine")),
		metrics: metricsHandler,
		limiter: limiter,
	}
}

func (e *engineImpl) EnqueueTask(ctx context.Context, item *persistence.TaskQueueItem) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return &serviceerror.Canceled{Message: "enqueue rate-limit wait canceled"}
		}
	}
	partitions := hashring.PartitionsForQueue(e.cfg.ShardCount, e.cfg.PartitionsPerQueue)
	item.PartitionHash = hashring.PartitionHash(item.TaskQueueName, partitions)
	if err := e.repo.Enqueue(ctx, item); err != nil {
		return err
	}
	e.metrics.Counter("task_enqueued").Inc()
	return nil
}

// PollTask retries Poll at PollRetryInterval until a task is ready, the
// long-poll timeout elapses, or ctx is canceled. This bounded-wait loop is
// the long-poll contract: the caller's connection stays open but the
// underlying store call never blocks longer than one retry interval, so
// cancellation is observed promptly.
func (e *engineImpl) PollTask(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType, worker string) (*persistence.TaskQueueItem, *persistence.TaskLease, error) {
	deadline := time.Now().Add(e.cfg.LongPollTimeout)
	ticker := time.NewTicker(e.cfg.PollRetryInterval)
	defer ticker.Stop()

	for {
		item, lease, err := e.repo.Poll(ctx, namespaceID, queueName, queueType, worker, e.cfg.TaskLeaseDuration)
		if err == nil {
			e.metrics.Counter("task_polled").Inc()
			return item, lease, nil
		}
		if _, isNotFound := err.(*serviceerror.NotFound); !isNotFound {
			return nil, nil, err
		}
		if time.Now().After(deadline) {
			return nil, nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil, &serviceerror.Canceled{Message: "poll canceled by caller"}
		case <-ticker.C:
			continue
		}
	}
}

func (e *engineImpl) HeartbeatTask(ctx context.Context, leaseID string) (*persistence.TaskLease, error) {
	return e.repo.Heartbeat(ctx, leaseID, e.cfg.TaskLeaseDuration)
}

func (e *engineImpl) CompleteTask(ctx context.Context, leaseID string) error {
	if err := e.repo.Complete(ctx, leaseID); err != nil {
		return err
	}
	e.metrics.Counter("task_completed").Inc()
	return nil
}

// FailTask marks the leased task failed. When requeue is true the task
// becomes visible again after a flat RequeueDelaySeconds backoff; the
// matching layer does not implement exponential backoff itself, leaving
// per-attempt backoff shaping to the caller's retry policy.
func (e *engineImpl) FailTask(ctx context.Context, leaseID string, reason string, requeue bool) error {
	backoff := time.Duration(e.cfg.RequeueDelaySeconds) * time.Second
	if err := e.repo.Fail(ctx, leaseID, reason, requeue, backoff); err != nil {
		return err
	}
	e.metrics.Counter("task_failed").Inc()
	e.logger.Warn("task failed", tag.LeaseID(leaseID), tag.Value("requeue", requeue))
	return nil
}

func (e *engineImpl) PauseTask(ctx context.Context, namespaceID, workflowID, runID string, queueType persistence.TaskQueueType, identity, reason string) error {
	if err := e.repo.Pause(ctx, namespaceID, workflowID, runID, queueType, identity, reason); err != nil {
		return err
	}
	e.logger.Info("task paused", tag.WorkflowID(workflowID), tag.RunID(runID), tag.Value("identity", identity))
	e.metrics.Counter("task_paused").Inc()
	return nil
}

func (e *engineImpl) UnpauseTask(ctx context.Context, namespaceID, workflowID, runID string, queueType persistence.TaskQueueType, resetAttempts bool) error {
	if err := e.repo.Unpause(ctx, namespaceID, workflowID, runID, queueType, resetAttempts); err != nil {
		return err
	}
	e.logger.Info("task unpaused", tag.WorkflowID(workflowID), tag.RunID(runID))
	e.metrics.Counter("task_unpaused").Inc()
	return nil
}

func (e *engineImpl) QueueDepth(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType) (int64, error) {
	return e.repo.Depth(ctx, namespaceID, queueName, queueType)
}

func (e *engineImpl) PartitionDepths(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType) (map[int32]int64, error) {
	return e.repo.DepthByPartition(ctx, namespaceID, queueName, queueType)
}

var _ Engine = (*engineImpl)(nil)

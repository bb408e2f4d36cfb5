// Package dispatcher drives the poll-execute-complete loop for both
// workflow and activity task queues: poll a task, resolve its type against
// the runtime registry, decode and invoke the registered function, then
// report the outcome back through the history engine (for workflow tasks)
// or the matching engine (for activity tasks), heartbeating periodically
// while the invocation is in flight.
package dispatcher

import (
	"context"
	"time"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/log/tag"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/service/history"
	"github.com/orchestrator/workflow-core/service/matching"
	"github.com/orchestrator/workflow-core/service/runtime"
)

// WorkflowTaskPayload is the opaque structure stored in a workflow task's
// TaskData: enough to resolve and invoke the target workflow function.
type WorkflowTaskPayload struct {
	WorkflowType string
	Input        []byte
	ReplayCount  int
	IsReplay     bool
	Recorded     []runtime.EffectRecord
}

// ActivityTaskPayload is the opaque structure stored in an activity task's
// TaskData.
type ActivityTaskPayload struct {
	ActivityType string
	Input        []byte
}

// Codec decodes/encodes the opaque TaskData bytes a dispatcher reads and
// writes; the dispatcher is agnostic to wire format, so callers supply one
// (e.g. encoding/gob, protobuf) matching how tasks were enqueued.
type Codec interface {
	DecodeWorkflowTask(data []byte) (*WorkflowTaskPayload, error)
	DecodeActivityTask(data []byte) (*ActivityTaskPayload, error)
	EncodeResult(result []byte, err error) []byte
}

// Dispatcher runs one polling loop against a single (namespace, task queue,
// queue type) triple until Stop is called.
type Dispatcher struct {
	namespaceID string
	taskQueue   string
	worker      string

	matching *matchingClient
	history  history.Engine
	registry *runtime.Registry
	codec    Codec
	logger   log.Logger
	metrics  metrics.Handler

	heartbeatInterval time.Duration
	cancel            context.CancelFunc
}

type matchingClient struct {
	engine matching.Engine
}

// Config bounds dispatcher behavior independent of which queue it serves.
type Config struct {
	NamespaceID       string
	TaskQueue         string
	WorkerIdentity    string
	HeartbeatInterval time.Duration
}

// New constructs a Dispatcher. historyEngine may be nil for an
// activity-only dispatcher, since activity invocations never touch history
// directly.
func New(cfg Config, matchingEngine matching.Engine, historyEngine history.Engine, registry *runtime.Registry, codec Codec, logger log.Logger, metricsHandler metrics.Handler) *Dispatcher {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		namespaceID:       cfg.NamespaceID,
		taskQueue:         cfg.TaskQueue,
		worker:            cfg.WorkerIdentity,
		matching:          &matchingClient{engine: matchingEngine},
		history:           historyEngine,
		registry:          registry,
		codec:             codec,
		logger:            logger.With(tag.ComponentName("dispatcher"), tag.TaskQueue(cfg.TaskQueue)),
		metrics:           metricsHandler,
		heartbeatInterval: interval,
	}
}

// RunWorkflowLoop polls the workflow task queue until ctx is canceled,
// invoking the registered workflow function for each task and reporting
// the resulting events back to the history engine.
func (d *Dispatcher) RunWorkflowLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		item, lease, err := d.matching.engine.PollTask(ctx, d.namespaceID, d.taskQueue, persistence.TaskQueueTypeWorkflow, d.worker)
		if err != nil {
			d.logger.Warn("workflow poll failed", tag.Error(err))
			continue
		}
		if item == nil {
			continue // long-poll timed out with no work; loop immediately re-polls
		}
		d.runWorkflowTask(ctx, item, lease)
	}
}

func (d *Dispatcher) runWorkflowTask(ctx context.Context, item *persistence.TaskQueueItem, lease *persistence.TaskLease) {
	stopHeartbeat := d.startHeartbeat(ctx, lease.LeaseID)
	defer stopHeartbeat()

	payload, err := d.codec.DecodeWorkflowTask(item.TaskData)
	if err != nil {
		d.failTask(ctx, lease.LeaseID, "decode error: "+err.Error(), true)
		return
	}
	fn, err := d.registry.ResolveWorkflow(payload.WorkflowType)
	if err != nil {
		d.failTask(ctx, lease.LeaseID, err.Error(), false)
		return
	}

	rtCtx := runtime.NewContext(ctx, d.namespaceID, item.WorkflowID, item.RunID, payload.ReplayCount, payload.IsReplay, runtime.NewFixedTimeProvider(time.Now().UTC()), payload.Recorded)
	result, workflowErr := fn(rtCtx, payload.Input)

	exec, err := d.history.Describe(ctx, history.ExecutionKey{NamespaceID: d.namespaceID, WorkflowID: item.WorkflowID, RunID: item.RunID})
	if err != nil {
		d.failTask(ctx, lease.LeaseID, err.Error(), true)
		return
	}
	newEvents := d.effectEvents(item, exec.NextEventID, rtCtx.Effects().PendingRecords())
	var closeState *persistence.WorkflowState
	if workflowErr != nil || result != nil {
		state := persistence.WorkflowStateCompleted
		if workflowErr != nil {
			state = persistence.WorkflowStateFailed
		}
		closeState = &state
	}
	nextEventID := exec.NextEventID + int64(len(newEvents))
	key := history.ExecutionKey{NamespaceID: d.namespaceID, WorkflowID: item.WorkflowID, RunID: item.RunID}
	if err := d.history.CompleteWorkflowTask(ctx, key, exec.Version, newEvents, nextEventID, closeState); err != nil {
		d.failTask(ctx, lease.LeaseID, err.Error(), true)
		return
	}
	if err := d.matching.engine.CompleteTask(ctx, lease.LeaseID); err != nil {
		d.logger.Warn("failed to mark workflow task complete", tag.Error(err))
	}
	d.metrics.Counter("workflow_task_dispatched").Inc()
}

func (d *Dispatcher) effectEvents(item *persistence.TaskQueueItem, firstEventID int64, records []runtime.EffectRecord) []*persistence.HistoryEvent {
	if len(records) == 0 {
		return nil
	}
	events := make([]*persistence.HistoryEvent, 0, len(records))
	now := time.Now().UTC()
	for i, r := range records {
		events = append(events, &persistence.HistoryEvent{
			NamespaceID: d.namespaceID, WorkflowID: item.WorkflowID, RunID: item.RunID,
			EventID:   firstEventID + int64(i),
			EventType: persistence.EventTypeWorkflowTaskCompleted, EventTimestamp: now, EventData: r.Value,
		})
	}
	return events
}

// RunActivityLoop polls the activity task queue until ctx is canceled,
// invoking the registered activity function for each task.
func (d *Dispatcher) RunActivityLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		item, lease, err := d.matching.engine.PollTask(ctx, d.namespaceID, d.taskQueue, persistence.TaskQueueTypeActivity, d.worker)
		if err != nil {
			d.logger.Warn("activity poll failed", tag.Error(err))
			continue
		}
		if item == nil {
			continue
		}
		d.runActivityTask(ctx, item, lease)
	}
}

func (d *Dispatcher) runActivityTask(ctx context.Context, item *persistence.TaskQueueItem, lease *persistence.TaskLease) {
	stopHeartbeat := d.startHeartbeat(ctx, lease.LeaseID)
	defer stopHeartbeat()

	payload, err := d.codec.DecodeActivityTask(item.TaskData)
	if err != nil {
		d.failTask(ctx, lease.LeaseID, "decode error: "+err.Error(), true)
		return
	}
	fn, err := d.registry.ResolveActivity(payload.ActivityType)
	if err != nil {
		d.failTask(ctx, lease.LeaseID, err.Error(), false)
		return
	}
	_, activityErr := fn(ctx, payload.Input)
	if activityErr != nil {
		d.failTask(ctx, lease.LeaseID, activityErr.Error(), true)
		return
	}
	if err := d.matching.engine.CompleteTask(ctx, lease.LeaseID); err != nil {
		d.logger.Warn("failed to mark activity task complete", tag.Error(err))
	}
	d.metrics.Counter("activity_task_dispatched").Inc()
}

func (d *Dispatcher) failTask(ctx context.Context, leaseID, reason string, requeue bool) {
	if err := d.matching.engine.FailTask(ctx, leaseID, reason, requeue); err != nil {
		d.logger.Warn("failed to mark task failed", tag.LeaseID(leaseID), tag.Error(err))
	}
}

func (d *Dispatcher) startHeartbeat(ctx context.Context, leaseID string) func() {
	heartbeatCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				if _, err := d.matching.engine.HeartbeatTask(heartbeatCtx, leaseID); err != nil {
					d.logger.Warn("heartbeat failed", tag.LeaseID(leaseID), tag.Error(err))
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

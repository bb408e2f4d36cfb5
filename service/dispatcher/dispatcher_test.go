package dispatcher_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/persistence/memstore"
	"github.com/orchestrator/workflow-core/service/dispatcher"
	"github.com/orchestrator/workflow-core/service/history"
	"github.com/orchestrator/workflow-core/service/matching"
	"github.com/orchestrator/workflow-core/service/runtime"
)

func TestDispatcher_RunWorkflowLoopInvokesRegisteredWorkflowAndCompletesTask(t *testing.T) {
	store := memstore.New()
	historyEngine, err := history.NewEngine(history.Config{}, store, nil, nil, log.NewDefault(), metrics.NoopHandler())
	require.NoError(t, err)
	matchingEngine := matching.NewEngine(matching.Config{
		LongPollTimeout:   100 * time.Millisecond,
		PollRetryInterval: 5 * time.Millisecond,
		TaskLeaseDuration: time.Second,
	}, store.TaskQueues(), log.NewDefault(), metrics.NoopHandler())

	ctx := context.Background()
	key := history.ExecutionKey{NamespaceID: "ns", WorkflowID: "wf-1", RunID: "run-1"}
	_, err = historyEngine.StartWorkflowExecution(ctx, &history.StartRequest{
		NamespaceID: "ns", WorkflowID: "wf-1", RunID: "run-1", WorkflowType: "greet", TaskQueue: "tq",
	})
	require.NoError(t, err)

	registry := runtime.NewRegistry()
	var invoked int32
	registry.RegisterWorkflow("greet", func(rc *runtime.Context, input []byte) ([]byte, error) {
		atomic.AddInt32(&invoked, 1)
		return []byte("hello:" + string(input)), nil
	})

	payload, err := dispatcher.EncodeWorkflowTask(&dispatcher.WorkflowTaskPayload{WorkflowType: "greet", Input: []byte("world")})
	require.NoError(t, err)
	require.NoError(t, matchingEngine.EnqueueTask(ctx, &persistence.TaskQueueItem{
		NamespaceID: "ns", TaskQueueName: "tq", TaskQueueType: persistence.TaskQueueTypeWorkflow,
		WorkflowID: "wf-1", RunID: "run-1", ScheduledAt: time.Now().UTC(), TaskData: payload,
	}))

	d := dispatcher.New(dispatcher.Config{NamespaceID: "ns", TaskQueue: "tq", WorkerIdentity: "worker-1", HeartbeatInterval: time.Hour},
		matchingEngine, historyEngine, registry, dispatcher.JSONCodec{}, log.NewDefault(), metrics.NoopHandler())

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.RunWorkflowLoop(runCtx)
		close(done)
	}()
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&invoked))
	exec, err := historyEngine.Describe(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, persistence.WorkflowStateCompleted, exec.State)
}

func TestDispatcher_RunActivityLoopInvokesRegisteredActivityAndCompletesTask(t *testing.T) {
	store := memstore.New()
	matchingEngine := matching.NewEngine(matching.Config{
		LongPollTimeout:   100 * time.Millisecond,
		PollRetryInterval: 5 * time.Millisecond,
		TaskLeaseDuration: time.Second,
	}, store.TaskQueues(), log.NewDefault(), metrics.NoopHandler())

	ctx := context.Background()
	registry := runtime.NewRegistry()
	var invoked int32
	registry.RegisterActivity("charge-card", func(ctx context.Context, input []byte) ([]byte, error) {
		atomic.AddInt32(&invoked, 1)
		return []byte("charged"), nil
	})

	payload, err := dispatcher.EncodeActivityTask(&dispatcher.ActivityTaskPayload{ActivityType: "charge-card", Input: []byte("order-1")})
	require.NoError(t, err)
	require.NoError(t, matchingEngine.EnqueueTask(ctx, &persistence.TaskQueueItem{
		NamespaceID: "ns", TaskQueueName: "tq", TaskQueueType: persistence.TaskQueueTypeActivity,
		WorkflowID: "wf-1", RunID: "run-1", ScheduledAt: time.Now().UTC(), TaskData: payload,
	}))

	d := dispatcher.New(dispatcher.Config{NamespaceID: "ns", TaskQueue: "tq", WorkerIdentity: "worker-1", HeartbeatInterval: time.Hour},
		matchingEngine, nil, registry, dispatcher.JSONCodec{}, log.NewDefault(), metrics.NoopHandler())

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.RunActivityLoop(runCtx)
		close(done)
	}()
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&invoked))
}

func TestDispatcher_UnregisteredWorkflowTypeFailsTaskWithoutRequeue(t *testing.T) {
	store := memstore.New()
	historyEngine, err := history.NewEngine(history.Config{}, store, nil, nil, log.NewDefault(), metrics.NoopHandler())
	require.NoError(t, err)
	matchingEngine := matching.NewEngine(matching.Config{
		LongPollTimeout:   100 * time.Millisecond,
		PollRetryInterval: 5 * time.Millisecond,
		TaskLeaseDuration: time.Second,
	}, store.TaskQueues(), log.NewDefault(), metrics.NoopHandler())

	ctx := context.Background()
	_, err = historyEngine.StartWorkflowExecution(ctx, &history.StartRequest{
		NamespaceID: "ns", WorkflowID: "wf-2", RunID: "run-2", WorkflowType: "unknown", TaskQueue: "tq",
	})
	require.NoError(t, err)

	registry := runtime.NewRegistry()
	payload, err := dispatcher.EncodeWorkflowTask(&dispatcher.WorkflowTaskPayload{WorkflowType: "never-registered"})
	require.NoError(t, err)
	require.NoError(t, matchingEngine.EnqueueTask(ctx, &persistence.TaskQueueItem{
		NamespaceID: "ns", TaskQueueName: "tq", TaskQueueType: persistence.TaskQueueTypeWorkflow,
		WorkflowID: "wf-2", RunID: "run-2", ScheduledAt: time.Now().UTC(), TaskData: payload,
	}))

	d := dispatcher.New(dispatcher.Config{NamespaceID: "ns", TaskQueue: "tq", WorkerIdentity: "worker-1", HeartbeatInterval: time.Hour},
		matchingEngine, historyEngine, registry, dispatcher.JSONCodec{}, log.NewDefault(), metrics.NoopHandler())

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.RunWorkflowLoop(runCtx)
		close(done)
	}()
	<-done

	depth, err := matchingEngine.QueueDepth(ctx, "ns", "tq", persistence.TaskQueueTypeWorkflow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth, "unregistered workflow type should fail without requeue")
}

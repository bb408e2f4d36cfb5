package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/workflow-core/api"
	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/persistence/memstore"
	"github.com/orchestrator/workflow-core/service/history"
	"github.com/orchestrator/workflow-core/service/matching"
	"github.com/orchestrator/workflow-core/service/visibility"
)

func newService(t *testing.T) (api.WorkflowService, matching.Engine) {
	t.Helper()
	store := memstore.New()
	visibilityIndexer := visibility.NewIndexer(store.Visibility(), log.NewDefault(), metrics.NoopHandler())
	historyEngine, err := history.NewEngine(history.Config{}, store, nil, visibilityIndexer, log.NewDefault(), metrics.NoopHandler())
	require.NoError(t, err)
	matchingEngine := matching.NewEngine(matching.Config{
		LongPollTimeout:   100 * time.Millisecond,
		PollRetryInterval: 5 * time.Millisecond,
		TaskLeaseDuration: time.Second,
	}, store.TaskQueues(), log.NewDefault(), metrics.NoopHandler())
	return api.NewWorkflowService(historyEngine, matchingEngine, visibilityIndexer), matchingEngine
}

func TestWorkflowService_StartThenDescribeRoundTrips(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	started, err := svc.StartWorkflowExecution(ctx, &api.StartWorkflowExecutionRequest{
		Namespace: "ns", WorkflowId: "wf-1", WorkflowType: "order-fulfillment", TaskQueue: "tq",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, started.RunId)

	desc, err := svc.DescribeWorkflowExecution(ctx, &api.DescribeWorkflowExecutionRequest{
		Namespace: "ns", Execution: api.WorkflowExecution{WorkflowId: "wf-1", RunId: started.RunId},
	})
	require.NoError(t, err)
	assert.Equal(t, "wf-1", desc.Execution.WorkflowID)
	assert.Equal(t, int64(1), desc.Execution.Version)
}

func TestWorkflowService_StartWritesThroughToVisibility(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	started, err := svc.StartWorkflowExecution(ctx, &api.StartWorkflowExecutionRequest{
		Namespace: "ns", WorkflowId: "wf-visible", WorkflowType: "order-fulfillment", TaskQueue: "tq",
	})
	require.NoError(t, err)

	listed, err := svc.ListWorkflowExecutions(ctx, &api.ListWorkflowExecutionsRequest{
		Namespace: "ns", Query: "WorkflowId = 'wf-visible'", PageSize: 10,
	})
	require.NoError(t, err)
	require.Len(t, listed.Executions, 1)
	assert.Equal(t, started.RunId, listed.Executions[0].RunID)
}

func TestWorkflowService_DescribeUnknownExecutionReturnsTemporalNotFound(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.DescribeWorkflowExecution(context.Background(), &api.DescribeWorkflowExecutionRequest{
		Namespace: "ns", Execution: api.WorkflowExecution{WorkflowId: "missing", RunId: "missing"},
	})
	assert.Error(t, err)
}

func TestWorkflowService_SignalThenGetHistoryShowsSignalEvent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	started, err := svc.StartWorkflowExecution(ctx, &api.StartWorkflowExecutionRequest{
		Namespace: "ns", WorkflowId: "wf-2", WorkflowType: "t", TaskQueue: "tq",
	})
	require.NoError(t, err)
	exec := api.WorkflowExecution{WorkflowId: "wf-2", RunId: started.RunId}

	_, err = svc.SignalWorkflowExecution(ctx, &api.SignalWorkflowExecutionRequest{
		Namespace: "ns", Execution: exec, SignalName: "order-updated", Input: []byte("x"),
	})
	require.NoError(t, err)

	hist, err := svc.GetWorkflowExecutionHistory(ctx, &api.GetWorkflowExecutionHistoryRequest{
		Namespace: "ns", Execution: exec, MaximumPageSize: 10,
	})
	require.NoError(t, err)
	assert.Len(t, hist.Events, 2)
}

func TestWorkflowService_PauseBlocksPollUntilUnpaused(t *testing.T) {
	svc, matchingEngine := newService(t)
	ctx := context.Background()
	started, err := svc.StartWorkflowExecution(ctx, &api.StartWorkflowExecutionRequest{
		Namespace: "ns", WorkflowId: "wf-3", WorkflowType: "t", TaskQueue: "tq",
	})
	require.NoError(t, err)
	exec := api.WorkflowExecution{WorkflowId: "wf-3", RunId: started.RunId}

	require.NoError(t, matchingEngine.EnqueueTask(ctx, &persistence.TaskQueueItem{
		NamespaceID: "ns", TaskQueueName: "tq", TaskQueueType: persistence.TaskQueueTypeActivity,
		WorkflowID: "wf-3", RunID: started.RunId, ScheduledAt: time.Now().UTC(), TaskData: []byte(`{}`),
	}))

	_, err = svc.PauseActivity(ctx, &api.PauseActivityRequest{Namespace: "ns", Execution: exec, Identity: "op", Reason: "investigating"})
	require.NoError(t, err)

	resp, err := svc.PollActivityTaskQueue(ctx, &api.PollTaskQueueRequest{Namespace: "ns", TaskQueue: "tq", WorkerIdentity: "worker-1"})
	require.NoError(t, err)
	assert.Nil(t, resp.Task)

	_, err = svc.UnpauseActivity(ctx, &api.UnpauseActivityRequest{Namespace: "ns", Execution: exec, ResetAttempts: true})
	require.NoError(t, err)

	resp, err = svc.PollActivityTaskQueue(ctx, &api.PollTaskQueueRequest{Namespace: "ns", TaskQueue: "tq", WorkerIdentity: "worker-1"})
	require.NoError(t, err)
	require.NotNil(t, resp.Task)
	assert.Equal(t, "wf-3", resp.Task.WorkflowID)
}

func TestWorkflowService_PauseUnknownExecutionReturnsTemporalNotFound(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.PauseActivity(context.Background(), &api.PauseActivityRequest{
		Namespace: "ns", Execution: api.WorkflowExecution{WorkflowId: "missing", RunId: "missing"}, Identity: "op",
	})
	assert.Error(t, err)
}

func TestWorkflowService_TerminateThenDescribeShowsTerminalState(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	started, err := svc.StartWorkflowExecution(ctx, &api.StartWorkflowExecutionRequest{
		Namespace: "ns", WorkflowId: "wf-4", WorkflowType: "t", TaskQueue: "tq",
	})
	require.NoError(t, err)
	exec := api.WorkflowExecution{WorkflowId: "wf-4", RunId: started.RunId}

	_, err = svc.TerminateWorkflowExecution(ctx, &api.TerminateWorkflowExecutionRequest{
		Namespace: "ns", Execution: exec, Reason: "operator requested",
	})
	require.NoError(t, err)

	desc, err := svc.DescribeWorkflowExecution(ctx, &api.DescribeWorkflowExecutionRequest{Namespace: "ns", Execution: exec})
	require.NoError(t, err)
	assert.True(t, desc.Execution.State.IsTerminal())
}

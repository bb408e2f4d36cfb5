package history_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/persistence/memstore"
	"github.com/orchestrator/workflow-core/service/history"
)

func newEngine(t *testing.T) history.Engine {
	t.Helper()
	store := memstore.New()
	engine, err := history.NewEngine(history.Config{}, store, nil, nil, log.NewDefault(), metrics.NoopHandler())
	require.NoError(t, err)
	return engine
}

func TestStartWorkflowExecution_CreatesRunningExecutionWithStartedEvent(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	exec, err := engine.StartWorkflowExecution(ctx, &history.StartRequest{
		NamespaceID:  "ns",
		WorkflowID:   "wf-1",
		RunID:        "run-1",
		WorkflowType: "order-fulfillment",
		TaskQueue:    "tq",
		Input:        []byte("input"),
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.WorkflowStateRunning, exec.State)
	assert.Equal(t, int64(2), exec.NextEventID)
	assert.Equal(t, int64(1), exec.Version)

	key := history.ExecutionKey{NamespaceID: "ns", WorkflowID: "wf-1", RunID: "run-1"}
	events, _, err := engine.GetHistory(ctx, key, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, persistence.EventTypeWorkflowExecutionStarted, events[0].EventType)
}

func TestStartWorkflowExecution_GeneratesRunIDWhenCallerOmitsOne(t *testing.T) {
	engine := newEngine(t)
	exec, err := engine.StartWorkflowExecution(context.Background(), &history.StartRequest{
		NamespaceID: "ns", WorkflowID: "wf-generated", WorkflowType: "t", TaskQueue: "tq",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, exec.RunID)
}

func TestStartWorkflowExecution_HonorsCallerSuppliedRunID(t *testing.T) {
	engine := newEngine(t)
	exec, err := engine.StartWorkflowExecution(context.Background(), &history.StartRequest{
		NamespaceID: "ns", WorkflowID: "wf-fixed", RunID: "run-fixed", WorkflowType: "t", TaskQueue: "tq",
	})
	require.NoError(t, err)
	assert.Equal(t, "run-fixed", exec.RunID)
}

func TestStartWorkflowExecution_MissingRequiredFieldIsInvalidRequest(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.StartWorkflowExecution(context.Background(), &history.StartRequest{NamespaceID: "ns"})
	assert.Error(t, err)
}

func TestSignal_AppendsEventAndAdvancesNextEventID(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	key := history.ExecutionKey{NamespaceID: "ns", WorkflowID: "wf-2", RunID: "run-2"}
	_, err := engine.StartWorkflowExecution(ctx, &history.StartRequest{
		NamespaceID: "ns", WorkflowID: "wf-2", RunID: "run-2", WorkflowType: "t", TaskQueue: "tq",
	})
	require.NoError(t, err)

	require.NoError(t, engine.Signal(ctx, key, "order-updated", []byte("payload")))

	exec, err := engine.Describe(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), exec.NextEventID)
}

func TestSignal_TerminalExecutionReturnsInvalidWorkflowState(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	key := history.ExecutionKey{NamespaceID: "ns", WorkflowID: "wf-3", RunID: "run-3"}
	_, err := engine.StartWorkflowExecution(ctx, &history.StartRequest{
		NamespaceID: "ns", WorkflowID: "wf-3", RunID: "run-3", WorkflowType: "t", TaskQueue: "tq",
	})
	require.NoError(t, err)
	require.NoError(t, engine.Terminate(ctx, key, "operator requested"))

	err = engine.Signal(ctx, key, "too-late", nil)
	assert.Error(t, err)
}

func TestQuery_UnregisteredQueryTypeReturnsInvalidRequest(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	key := history.ExecutionKey{NamespaceID: "ns", WorkflowID: "wf-4", RunID: "run-4"}
	_, err := engine.StartWorkflowExecution(ctx, &history.StartRequest{
		NamespaceID: "ns", WorkflowID: "wf-4", RunID: "run-4", WorkflowType: "t", TaskQueue: "tq",
	})
	require.NoError(t, err)

	_, err = engine.Query(ctx, key, "unregistered-query", nil)
	assert.Error(t, err)
}

func TestCompleteWorkflowTask_AppendsEventsAndTransitionsToCompleted(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	key := history.ExecutionKey{NamespaceID: "ns", WorkflowID: "wf-5", RunID: "run-5"}
	exec, err := engine.StartWorkflowExecution(ctx, &history.StartRequest{
		NamespaceID: "ns", WorkflowID: "wf-5", RunID: "run-5", WorkflowType: "t", TaskQueue: "tq",
	})
	require.NoError(t, err)

	completed := persistence.WorkflowStateCompleted
	newEvents := []*persistence.HistoryEvent{{
		NamespaceID: "ns", WorkflowID: "wf-5", RunID: "run-5",
		EventID: 2, EventType: persistence.EventTypeWorkflowExecutionCompleted,
	}}
	require.NoError(t, engine.CompleteWorkflowTask(ctx, key, exec.Version, newEvents, 3, &completed))

	got, err := engine.Describe(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, persistence.WorkflowStateCompleted, got.State)
	assert.Equal(t, int64(3), got.NextEventID)
}

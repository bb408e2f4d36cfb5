package visibility_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/persistence/memstore"
	"github.com/orchestrator/workflow-core/service/visibility"
)

func newIndexer(t *testing.T) (visibility.Indexer, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	idx := visibility.NewIndexer(store.Visibility(), log.NewDefault(), metrics.NoopHandler())
	return idx, store
}

func TestIndexer_RecordThenListFindsExecutionByType(t *testing.T) {
	idx, _ := newIndexer(t)
	ctx := context.Background()

	exec := &persistence.WorkflowExecution{
		NamespaceID:  "ns",
		WorkflowID:   "wf-1",
		RunID:        "run-1",
		WorkflowType: "order-fulfillment",
		TaskQueue:    "tq",
		State:        persistence.WorkflowStateRunning,
		StartedAt:    time.Now().UTC(),
	}
	require.NoError(t, idx.Record(ctx, exec, 3))

	recs, _, err := idx.List(ctx, "ns", "WorkflowType = 'order-fulfillment'", 10, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "wf-1", recs[0].WorkflowID)
	assert.Equal(t, int64(3), recs[0].HistoryLength)
}

func TestIndexer_RecordUpsertsOnRepeatedCalls(t *testing.T) {
	idx, store := newIndexer(t)
	ctx := context.Background()
	exec := &persistence.WorkflowExecution{
		NamespaceID: "ns", WorkflowID: "wf-2", RunID: "run-2",
		WorkflowType: "t", TaskQueue: "tq", State: persistence.WorkflowStateRunning, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, idx.Record(ctx, exec, 1))

	exec.State = persistence.WorkflowStateCompleted
	closed := time.Now().UTC()
	exec.CompletedAt = &closed
	require.NoError(t, idx.Record(ctx, exec, 5))

	count, err := idx.Count(ctx, "ns", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	recs, _, err := idx.List(ctx, "ns", "", 10, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(5), recs[0].HistoryLength)
	_ = store
}

func TestIndexer_DeleteRemovesRecord(t *testing.T) {
	idx, _ := newIndexer(t)
	ctx := context.Background()
	exec := &persistence.WorkflowExecution{
		NamespaceID: "ns", WorkflowID: "wf-3", RunID: "run-3",
		WorkflowType: "t", TaskQueue: "tq", State: persistence.WorkflowStateRunning, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, idx.Record(ctx, exec, 0))
	require.NoError(t, idx.Delete(ctx, "ns", "wf-3", "run-3"))

	count, err := idx.Count(ctx, "ns", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestIndexer_ArchiveOlderThanPurgesClosedExecutionsPastThreshold(t *testing.T) {
	idx, _ := newIndexer(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	exec := &persistence.WorkflowExecution{
		NamespaceID: "ns", WorkflowID: "wf-4", RunID: "run-4",
		WorkflowType: "t", TaskQueue: "tq", State: persistence.WorkflowStateCompleted,
		StartedAt: old, CompletedAt: &old,
	}
	require.NoError(t, idx.Record(ctx, exec, 1))

	n, err := idx.ArchiveOlderThan(ctx, "ns", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := idx.Count(ctx, "ns", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

// Package visibility maintains the eventually-consistent projection used to
// list and search workflow executions: a write-through indexer that upserts
// a VisibilityRecord whenever the history engine observes an execution
// mutation, plus the list/search/count surface wrapping the persistence
// layer's query grammar.
package visibility

import (
	"context"
	"time"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/log/tag"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
)

// Indexer keeps the visibility projection current and serves reads against it.
type Indexer interface {
	// Record upserts the projection for exec. Called after every execution
	// mutation (start, workflow-task completion, terminate); safe to call
	// more often than needed since it's a pure upsert.
	Record(ctx context.Context, exec *persistence.WorkflowExecution, historyLength int64) error
	List(ctx context.Context, namespaceID, query string, pageSize int, token persistence.PageToken) ([]*persistence.VisibilityRecord, persistence.PageToken, error)
	Count(ctx context.Context, namespaceID, query string) (int64, error)
	Delete(ctx context.Context, namespaceID, workflowID, runID string) error
	// ArchiveOlderThan purges closed executions' visibility records past
	// threshold, intended to run on a periodic schedule alongside history
	// archival.
	ArchiveOlderThan(ctx context.Context, namespaceID string, threshold time.Time) (int, error)
}

type indexerImpl struct {
	repo    persistence.VisibilityRepository
	logger  log.Logger
	metrics metrics.Handler
}

// NewIndexer constructs an Indexer backed by repo.
func NewIndexer(repo persistence.VisibilityRepository, logger log.Logger, metricsHandler metrics.Handler) Indexer {
	return &indexerImpl{repo: repo, logger: logger.With(tag.ComponentName("visibility-indexer")), metrics: metricsHandler}
}

func (i *indexerImpl) Record(ctx context.Context, exec *persistence.WorkflowExecution, historyLength int64) error {
	rec := &persistence.VisibilityRecord{
		NamespaceID:      exec.NamespaceID,
		WorkflowID:       exec.WorkflowID,
		RunID:            exec.RunID,
		WorkflowType:     exec.WorkflowType,
		TaskQueue:        exec.TaskQueue,
		Status:           exec.State,
		StartTime:        exec.StartedAt,
		CloseTime:        exec.CompletedAt,
		HistoryLength:    historyLength,
		Memo:             exec.Memo,
		SearchAttributes: exec.SearchAttributes,
		ParentWorkflowID: exec.ParentWorkflowID,
		ParentRunID:      exec.ParentRunID,
	}
	if err := i.repo.Upsert(ctx, rec); err != nil {
		i.logger.Warn("visibility upsert failed", tag.WorkflowID(exec.WorkflowID), tag.RunID(exec.RunID), tag.Error(err))
		return err
	}
	i.metrics.Counter("visibility_indexed").Inc()
	return nil
}

func (i *indexerImpl) List(ctx context.Context, namespaceID, query string, pageSize int, token persistence.PageToken) ([]*persistence.VisibilityRecord, persistence.PageToken, error) {
	return i.repo.Search(ctx, namespaceID, query, pageSize, token)
}

func (i *indexerImpl) Count(ctx context.Context, namespaceID, query string) (int64, error) {
	return i.repo.Count(ctx, namespaceID, query)
}

func (i *indexerImpl) Delete(ctx context.Context, namespaceID, workflowID, runID string) error {
	return i.repo.Delete(ctx, namespaceID, workflowID, runID)
}

func (i *indexerImpl) ArchiveOlderThan(ctx context.Context, namespaceID string, threshold time.Time) (int, error) {
	return i.repo.ArchiveOlderThan(ctx, namespaceID, threshold)
}

var _ Indexer = (*indexerImpl)(nil)

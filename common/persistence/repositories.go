package persistence

import (
	"context"
	"time"
)

// PageToken is an opaque pagination cursor; concrete implementations decide
// its encoding (visibility uses a non-negative integer offset; other
// repositories may use a denser key).
type PageToken []byte

// NamespaceRepository manages the namespace registry: create, lookup,
// update, and soft-delete.
type NamespaceRepository interface {
	Create(ctx context.Context, ns *Namespace) error
	GetByName(ctx context.Context, name string) (*Namespace, error)
	GetByID(ctx context.Context, id string) (*Namespace, error)
	Update(ctx context.Context, ns *Namespace) error
	List(ctx context.Context, pageSize int, pageToken PageToken) ([]*Namespace, PageToken, error)
	Exists(ctx context.Context, name string) (bool, error)
	// Archive performs an idempotent soft-delete (status -> deleted).
	Archive(ctx context.Context, name string) error
}

// ShardRepository manages ownership leases over the fixed shard space.
type ShardRepository interface {
	AcquireLease(ctx context.Context, shardID int32, owner string, duration time.Duration) (*Shard, error)
	RenewLease(ctx context.Context, shardID int32, owner string, duration time.Duration) (*Shard, error)
	ReleaseLease(ctx context.Context, shardID int32, owner string) error
	GetLease(ctx context.Context, shardID int32) (*Shard, error)
	ListOwned(ctx context.Context, owner string) ([]*Shard, error)
	ListAll(ctx context.Context) ([]*Shard, error)
	// ReclaimExpired clears ownership fields on any shard whose lease has
	// expired, returning the count cleared.
	ReclaimExpired(ctx context.Context) (int, error)
	InitializeShards(ctx context.Context, shardCount int32) error
}

// ExecutionRepository stores one row per workflow run, versioned for
// optimistic concurrency control.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *WorkflowExecution) error
	Get(ctx context.Context, namespaceID, workflowID, runID string) (*WorkflowExecution, error)
	// GetCurrent returns the most recently started run for a workflowId.
	GetCurrent(ctx context.Context, namespaceID, workflowID string) (*WorkflowExecution, error)
	// Update fails with *serviceerror.ConcurrencyConflict if the persisted
	// version does not equal expectedVersion.
	Update(ctx context.Context, exec *WorkflowExecution, expectedVersion int64) error
	// UpdateWithNextEventID additionally advances NextEventID as part of the
	// same optimistic-concurrency update, used by AppendEvents callers that
	// mutate execution state in the same logical step as the append.
	UpdateWithNextEventID(ctx context.Context, exec *WorkflowExecution, expectedVersion int64, nextEventID int64) error
	List(ctx context.Context, namespaceID string, state *WorkflowState, pageSize int, token PageToken) ([]*WorkflowExecution, PageToken, error)
	Terminate(ctx context.Context, namespaceID, workflowID, runID, reason string) error
}

// HistoryRepository stores the append-only event log for a workflow run.
type HistoryRepository interface {
	// AppendEvents is atomic: it validates events[0].EventID == lastEventID+1
	// and intra-batch contiguity before inserting, within one transaction.
	AppendEvents(ctx context.Context, namespaceID, workflowID, runID string, events []*HistoryEvent) error
	GetHistory(ctx context.Context, namespaceID, workflowID, runID string, fromEventID int64, maxEvents int) ([]*HistoryEvent, PageToken, error)
	GetEvent(ctx context.Context, namespaceID, workflowID, runID string, eventID int64) (*HistoryEvent, error)
	GetEventCount(ctx context.Context, namespaceID, workflowID, runID string) (int64, error)
	// ValidateSequence returns false iff any gap exists in the run's event ids.
	ValidateSequence(ctx context.Context, namespaceID, workflowID, runID string) (bool, error)
	ArchiveOlderThan(ctx context.Context, namespaceID string, threshold time.Time, batchSize int) (int, error)
}

// TaskQueueRepository implements lease-based, at-least-once task dispatch.
type TaskQueueRepository interface {
	Enqueue(ctx context.Context, item *TaskQueueItem) error
	// Poll atomically selects the earliest-scheduled ready, unleased task
	// and creates a lease for it (SELECT ... FOR UPDATE SKIP LOCKED
	// semantics), returning both. Returns *serviceerror.NotFound if no task
	// is ready.
	Poll(ctx context.Context, namespaceID, queueName string, queueType TaskQueueType, worker string, leaseDuration time.Duration) (*TaskQueueItem, *TaskLease, error)
	Heartbeat(ctx context.Context, leaseID string, extension time.Duration) (*TaskLease, error)
	Complete(ctx context.Context, leaseID string) error
	Fail(ctx context.Context, leaseID string, reason string, requeue bool, backoff time.Duration) error
	// Pause marks the pending task for (namespaceID, workflowID, runID,
	// queueType) so Poll skips it until Unpause is called. A lease already
	// held for the task when Pause is called is unaffected; the pause takes
	// effect on the task's next poll.
	Pause(ctx context.Context, namespaceID, workflowID, runID string, queueType TaskQueueType, identity, reason string) error
	// Unpause clears a prior Pause. When resetAttempts is true the task's
	// persisted attempt count is reset to zero, so its next poll reports
	// AttemptCount == 1 as if freshly enqueued.
	Unpause(ctx context.Context, namespaceID, workflowID, runID string, queueType TaskQueueType, resetAttempts bool) error
	Depth(ctx context.Context, namespaceID, queueName string, queueType TaskQueueType) (int64, error)
	DepthByPartition(ctx context.Context, namespaceID, queueName string, queueType TaskQueueType) (map[int32]int64, error)
	ListQueues(ctx context.Context, namespaceID string) (map[string]int64, error)
	ReclaimExpiredLeases(ctx context.Context) (int, error)
	PurgeOlderThan(ctx context.Context, threshold time.Time) (int, error)
}

// VisibilityRepository maintains the searchable execution projection.
type VisibilityRepository interface {
	Upsert(ctx context.Context, rec *VisibilityRecord) error
	List(ctx context.Context, req *ListRequest) ([]*VisibilityRecord, PageToken, error)
	Search(ctx context.Context, namespaceID string, query string, pageSize int, token PageToken) ([]*VisibilityRecord, PageToken, error)
	Count(ctx context.Context, namespaceID string, query string) (int64, error)
	UpdateTags(ctx context.Context, namespaceID, workflowID, runID string, tags map[string]string) error
	SearchByTags(ctx context.Context, namespaceID string, tags map[string]string, matchAll bool, pageSize int, token PageToken) ([]*VisibilityRecord, PageToken, error)
	ArchiveOlderThan(ctx context.Context, namespaceID string, threshold time.Time) (int, error)
	Delete(ctx context.Context, namespaceID, workflowID, runID string) error
}

// ListRequest is the generalized visibility listing/search request: a
// namespace, an optional parsed query, and paging.
type ListRequest struct {
	NamespaceID string
	Query       string
	PageSize    int
	PageToken   PageToken
}

// DefaultVisibilityPageSize and MaxVisibilityPageSize bound visibility
// pagination.
const (
	DefaultVisibilityPageSize = 100
	MaxVisibilityPageSize     = 500
)

// ClampPageSize normalizes a requested page size to [1, MaxVisibilityPageSize].
func ClampPageSize(requested int) int {
	if requested <= 0 {
		return DefaultVisibilityPageSize
	}
	if requested > MaxVisibilityPageSize {
		return MaxVisibilityPageSize
	}
	return requested
}

// Store aggregates every repository the orchestrator core depends on, so
// components can be constructed from one Store rather than six separate
// interfaces.
type Store interface {
	Namespaces() NamespaceRepository
	Shards() ShardRepository
	Executions() ExecutionRepository
	History() HistoryRepository
	TaskQueues() TaskQueueRepository
	Visibility() VisibilityRepository
	Healthcheck(ctx context.Context) error
	Close() error
}

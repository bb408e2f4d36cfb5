// Package persistence defines the storage-facing data model and repository
// contracts of the orchestrator. Implementations live in sibling packages
// (common/persistence/sql); this package is pure data plus interfaces, with
// no side effects of its own.
package persistence

import "time"

// NamespaceStatus is the lifecycle state of a Namespace.
type NamespaceStatus int32

const (
	NamespaceStatusActive NamespaceStatus = iota
	NamespaceStatusDeprecated
	NamespaceStatusDeleted
)

// Namespace provides multi-tenant isolation; every other entity's key
// includes a NamespaceID.
type Namespace struct {
	NamespaceID               string
	Name                      string
	Description               string
	OwnerID                   string
	RetentionDays             int32
	HistoryArchivalEnabled    bool
	VisibilityArchivalEnabled bool
	Status                    NamespaceStatus
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Shard is one partition of the workflowId hash space, owned exclusively by
// at most one process via a time-bounded lease.
type Shard struct {
	ShardID        int32
	OwnerIdentity  *string
	LeaseExpiresAt *time.Time
	AcquiredAt     *time.Time
	LastHeartbeat  *time.Time
	HashRangeStart uint64
	HashRangeEnd   uint64
}

// IsOwned reports whether the shard has a non-expired owner as of now.
// An expired lease is equivalent to unowned.
func (s *Shard) IsOwned(now time.Time) bool {
	return s.OwnerIdentity != nil && s.LeaseExpiresAt != nil && s.LeaseExpiresAt.After(now)
}

// WorkflowState is the execution-level lifecycle state of a WorkflowExecution.
type WorkflowState int32

const (
	WorkflowStateRunning WorkflowState = iota
	WorkflowStateCompleted
	WorkflowStateFailed
	WorkflowStateCanceled
	WorkflowStateTerminated
	WorkflowStateContinuedAsNew
	WorkflowStateTimedOut
)

// IsTerminal reports whether the state is one with no further transitions.
func (s WorkflowState) IsTerminal() bool {
	return s != WorkflowStateRunning
}

// RetryPolicy is an opaque, execution-scoped retry configuration; its
// interpretation is a dispatcher/runtime concern, not a persistence one.
type RetryPolicy struct {
	InitialIntervalSeconds int32
	MaximumAttempts        int32
	BackoffCoefficient     float64
}

// WorkflowExecution is the mutable execution-state row for one
// (namespaceId, workflowId, runId).
type WorkflowExecution struct {
	NamespaceID         string
	WorkflowID          string
	RunID               string
	WorkflowType         string
	TaskQueue            string
	State                WorkflowState
	ExecutionState       []byte // opaque, runtime-owned
	NextEventID          int64
	LastProcessedEventID int64
	WorkflowTimeoutSec   int32
	RunTimeoutSec        int32
	TaskTimeoutSec       int32
	RetryPolicy          *RetryPolicy
	CronSchedule         string
	ParentWorkflowID     *string
	ParentRunID          *string
	InitiatedID          *int64
	CompletionEventID    *int64
	Memo                 map[string]string
	SearchAttributes     map[string]string
	StartedAt            time.Time
	CompletedAt          *time.Time
	LastUpdatedAt        time.Time
	ShardID              int32
	Version              int64
}

// EventType enumerates the HistoryEvent kinds the core engine itself
// produces or accepts; dispatcher/runtime-level event types are opaque to
// persistence and are carried in EventData.
type EventType string

const (
	EventTypeWorkflowExecutionStarted   EventType = "WorkflowExecutionStarted"
	EventTypeWorkflowExecutionCompleted EventType = "WorkflowExecutionCompleted"
	EventTypeWorkflowExecutionFailed    EventType = "WorkflowExecutionFailed"
	EventTypeWorkflowExecutionCanceled  EventType = "WorkflowExecutionCanceled"
	EventTypeWorkflowExecutionTerminated EventType = "WorkflowExecutionTerminated"
	EventTypeWorkflowExecutionTimedOut  EventType = "WorkflowExecutionTimedOut"
	EventTypeWorkflowExecutionSignaled  EventType = "WorkflowExecutionSignaled"
	EventTypeWorkflowTaskScheduled      EventType = "WorkflowTaskScheduled"
	EventTypeWorkflowTaskCompleted      EventType = "WorkflowTaskCompleted"
)

// HistoryEvent is an immutable, per-run, densely-numbered record.
type HistoryEvent struct {
	NamespaceID    string
	WorkflowID     string
	RunID          string
	EventID        int64
	EventType      EventType
	EventTimestamp time.Time
	TaskID         int64
	Version        int64
	EventData      []byte // opaque structured payload
}

// TaskQueueType distinguishes workflow-task queues from activity-task queues.
type TaskQueueType int32

const (
	TaskQueueTypeWorkflow TaskQueueType = iota
	TaskQueueTypeActivity
)

// TaskQueueItem is one pending unit of dispatch on a task queue.
type TaskQueueItem struct {
	NamespaceID    string
	TaskQueueName  string
	TaskQueueType  TaskQueueType
	TaskID         int64
	WorkflowID     string
	RunID          string
	ScheduledAt    time.Time
	ExpiryAt       *time.Time
	TaskData       []byte
	PartitionHash  int32
	// Paused tasks are never returned by Poll until Unpause clears the flag;
	// an in-flight lease is unaffected by a pause issued while it's held.
	Paused        bool
	PauseIdentity string
	PauseReason   string
}

// TaskLease grants one worker exclusive, time-bounded delivery rights over
// a TaskQueueItem.
type TaskLease struct {
	LeaseID       string
	NamespaceID   string
	TaskQueueName string
	TaskQueueType TaskQueueType
	TaskID        int64
	WorkerIdentity string
	LeasedAt      time.Time
	LeaseExpiresAt time.Time
	HeartbeatAt   time.Time
	AttemptCount  int32
}

// IsExpired reports whether the lease is no longer live as of now.
func (l *TaskLease) IsExpired(now time.Time) bool {
	return !l.LeaseExpiresAt.After(now)
}

// VisibilityRecord is the eventually-consistent projection of an execution
// used for list/search queries.
type VisibilityRecord struct {
	NamespaceID      string
	WorkflowID       string
	RunID            string
	WorkflowType     string
	TaskQueue        string
	Status           WorkflowState
	StartTime        time.Time
	CloseTime        *time.Time
	HistoryLength    int64
	Memo             map[string]string
	SearchAttributes map[string]string
	ParentWorkflowID *string
	ParentRunID      *string
	Tags             map[string]string
}

// Package serviceerror defines the tagged error kinds shared by every layer
// of the orchestrator (persistence, shard manager, history, matching,
// dispatcher). Every fallible operation returns one of these rather than an
// ad-hoc error string, so callers can branch on kind with errors.As.
package serviceerror

import "fmt"

// InvalidRequest indicates malformed or missing required input.
type InvalidRequest struct{ Message string }

func (e *InvalidRequest) Error() string { return "invalid request: " + e.Message }

// NotFound indicates a namespace/workflow/run/queue/lease absent from the store.
type NotFound struct{ Message string }

func (e *NotFound) Error() string { return "not found: " + e.Message }

// AlreadyExists indicates a uniqueness violation on create.
type AlreadyExists struct{ Message string }

func (e *AlreadyExists) Error() string { return "already exists: " + e.Message }

// InvalidWorkflowState indicates an operation invalid for the execution's
// current state (e.g. mutating a terminal execution).
type InvalidWorkflowState struct{ Message string }

func (e *InvalidWorkflowState) Error() string { return "invalid workflow state: " + e.Message }

// ConcurrencyConflict indicates an optimistic-concurrency version mismatch.
type ConcurrencyConflict struct {
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict: expected version %d, actual %d", e.ExpectedVersion, e.ActualVersion)
}

// ShardUnavailable indicates the shard is not owned by this process, or its
// lease has expired; the caller should re-route or retry after a delay.
type ShardUnavailable struct {
	ShardID int32
	Message string
}

func (e *ShardUnavailable) Error() string {
	return fmt.Sprintf("shard %d unavailable: %s", e.ShardID, e.Message)
}

// HistoryEventError indicates a sequence gap, duplicate eventId, or
// non-contiguous append batch.
type HistoryEventError struct{ Message string }

func (e *HistoryEventError) Error() string { return "history event error: " + e.Message }

// TaskLeaseExpired indicates a heartbeat/complete/fail against a lease that
// no longer exists (expired or already resolved).
type TaskLeaseExpired struct{ LeaseID string }

func (e *TaskLeaseExpired) Error() string { return "task lease expired: " + e.LeaseID }

// PersistenceError wraps an unexpected store error; retryable with jitter.
type PersistenceError struct{ Cause error }

func (e *PersistenceError) Error() string { return "persistence error: " + e.Cause.Error() }
func (e *PersistenceError) Unwrap() error { return e.Cause }

// Canceled indicates cooperative cancellation was observed.
type Canceled struct{ Message string }

func (e *Canceled) Error() string { return "canceled: " + e.Message }

// WorkflowNotRegistered indicates the dispatcher has no handler for the
// requested workflow type.
type WorkflowNotRegistered struct{ WorkflowType string }

func (e *WorkflowNotRegistered) Error() string {
	return "workflow type not registered: " + e.WorkflowType
}

// WorkflowExecutionFailed wraps a workflow function's returned application
// error, as distinct from an infrastructure failure.
type WorkflowExecutionFailed struct{ Cause error }

func (e *WorkflowExecutionFailed) Error() string { return "workflow execution failed: " + e.Cause.Error() }
func (e *WorkflowExecutionFailed) Unwrap() error  { return e.Cause }

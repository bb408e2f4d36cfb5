// Package history implements the event-log engine: starting executions,
// appending and validating history, driving state transitions under
// optimistic concurrency, and serving reads, all gated by local shard
// ownership so only the process holding a workflowId's shard lease may
// mutate it.
package history

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pborman/uuid"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/log/tag"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
	"github.com/orchestrator/workflow-core/service/shard"
	"github.com/orchestrator/workflow-core/service/visibility"
)

// Engine is the history service's public surface, consumed by the
// dispatcher and the wire-facing api package.
type Engine interface {
	StartWorkflowExecution(ctx context.Context, req *StartRequest) (*persistence.WorkflowExecution, error)
	AppendEvents(ctx context.Context, key ExecutionKey, events []*persistence.HistoryEvent) error
	GetHistory(ctx context.Context, key ExecutionKey, fromEventID int64, maxEvents int) ([]*persistence.HistoryEvent, persistence.PageToken, error)
	Describe(ctx context.Context, key ExecutionKey) (*persistence.WorkflowExecution, error)
	Signal(ctx context.Context, key ExecutionKey, signalName string, input []byte) error
	Query(ctx context.Context, key ExecutionKey, queryType string, args []byte) ([]byte, error)
	Terminate(ctx context.Context, key ExecutionKey, reason string) error
	CompleteWorkflowTask(ctx context.Context, key ExecutionKey, expectedVersion int64, newEvents []*persistence.HistoryEvent, nextEventID int64, closeState *persistence.WorkflowState) error
}

// ExecutionKey identifies one workflow run.
type ExecutionKey struct {
	NamespaceID string
	WorkflowID  string
	RunID       string
}

// StartRequest carries the fields needed to start a new execution.
type StartRequest struct {
	NamespaceID        string
	WorkflowID         string
	RunID              string
	WorkflowType       string
	TaskQueue          string
	Input              []byte
	WorkflowTimeoutSec int32
	RunTimeoutSec      int32
	TaskTimeoutSec     int32
	RetryPolicy        *persistence.RetryPolicy
	CronSchedule       string
	Memo               map[string]string
	SearchAttributes   map[string]string
}

// QueryHandler resolves a query against a cached or rebuilt runtime state;
// registered by query type. The runtime package supplies concrete handlers.
type QueryHandler func(ctx context.Context, exec *persistence.WorkflowExecution, args []byte) ([]byte, error)

type engineImpl struct {
	store      persistence.Store
	shardMgr   shard.Manager
	visibility visibility.Indexer
	logger     log.Logger
	metrics    metrics.Handler
	cache      *lru.Cache[string, *persistence.WorkflowExecution]
	queryTypes map[string]QueryHandler
}

// Config bounds the engine's local caching behavior.
type Config struct {
	MutableStateCacheSize int
}

// NewEngine constructs a history Engine backed by store and gated by
// shardMgr's local ownership view. visibilityIndexer may be nil, in which
// case the write-through visibility projection is skipped (used by tests
// that only exercise the event log).
func NewEngine(cfg Config, store persistence.Store, shardMgr shard.Manager, visibilityIndexer visibility.Indexer, logger log.Logger, metricsHandler metrics.Handler) (Engine, error) {
	size := cfg.MutableStateCacheSize
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, *persistence.WorkflowExecution](size)
	if err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	return &engineImpl{
		store:      store,
		shardMgr:   shardMgr,
		visibility: visibilityIndexer,
		logger:     logger.With(tag.ComponentName("history-engine")),
		metrics:    metricsHandler,
		cache:      cache,
		queryTypes: map[string]QueryHandler{},
	}, nil
}

// recordVisibility upserts the visibility projection for exec, after
// historyLength events have been appended to its history. It is a
// best-effort side call: a failure here logs and is swallowed rather than
// failing the mutation that triggered it, since visibility is an
// eventually-consistent projection, not the system of record.
func (e *engineImpl) recordVisibility(ctx context.Context, exec *persistence.WorkflowExecution, historyLength int64) {
	if e.visibility == nil {
		return
	}
	if err := e.visibility.Record(ctx, exec, historyLength); err != nil {
		e.logger.Warn("visibility record failed", tag.WorkflowID(exec.WorkflowID), tag.RunID(exec.RunID), tag.Error(err))
	}
}

// RegisterQueryHandler associates a query type name with a handler; queries
// of unregistered types return serviceerror.InvalidRequest.
func (e *engineImpl) RegisterQueryHandler(queryType string, handler QueryHandler) {
	e.queryTypes[queryType] = handler
}

func cacheKey(key ExecutionKey) string {
	return key.NamespaceID + "|" + key.WorkflowID + "|" + key.RunID
}

func (e *engineImpl) checkOwnership(workflowID string) error {
	if e.shardMgr == nil {
		return nil // tests may construct an engine without shard gating
	}
	if !e.shardMgr.Owns(workflowID) {
		return &serviceerror.ShardUnavailable{ShardID: e.shardMgr.ShardFor(workflowID), Message: "this process does not own the shard for " + workflowID}
	}
	return nil
}

func (e *engineImpl) StartWorkflowExecution(ctx context.Context, req *StartRequest) (*persistence.WorkflowExecution, error) {
	if req.WorkflowID == "" || req.WorkflowType == "" || req.TaskQueue == "" {
		return nil, &serviceerror.InvalidRequest{Message: "workflowId, workflowType, and taskQueue are required"}
	}
	if err := e.checkOwnership(req.WorkflowID); err != nil {
		return nil, err
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.New()
	}
	now := time.Now().UTC()
	exec := &persistence.WorkflowExecution{
		NamespaceID:        req.NamespaceID,
		WorkflowID:         req.WorkflowID,
		RunID:              runID,
		WorkflowType:       req.WorkflowType,
		TaskQueue:          req.TaskQueue,
		State:              persistence.WorkflowStateRunning,
		NextEventID:        2, // event 1 (WorkflowExecutionStarted) is appended below
		WorkflowTimeoutSec: req.WorkflowTimeoutSec,
		RunTimeoutSec:      req.RunTimeoutSec,
		TaskTimeoutSec:     req.TaskTimeoutSec,
		RetryPolicy:        req.RetryPolicy,
		CronSchedule:       req.CronSchedule,
		Memo:               req.Memo,
		SearchAttributes:   req.SearchAttributes,
		StartedAt:          now,
		LastUpdatedAt:      now,
		ShardID:            e.shardFor(req.WorkflowID),
		Version:            1,
	}
	if err := e.store.Executions().Create(ctx, exec); err != nil {
		return nil, err
	}
	startEvent := &persistence.HistoryEvent{
		NamespaceID: req.NamespaceID, WorkflowID: req.WorkflowID, RunID: runID,
		EventID: 1, EventType: persistence.EventTypeWorkflowExecutionStarted,
		EventTimestamp: now, EventData: req.Input,
	}
	if err := e.store.History().AppendEvents(ctx, req.NamespaceID, req.WorkflowID, runID, []*persistence.HistoryEvent{startEvent}); err != nil {
		return nil, err
	}
	e.cache.Add(cacheKey(ExecutionKey{req.NamespaceID, req.WorkflowID, runID}), exec)
	e.recordVisibility(ctx, exec, 1)
	e.metrics.Counter("workflow_started").Inc()
	e.logger.Info("started workflow execution", tag.WorkflowID(req.WorkflowID), tag.RunID(runID))
	return exec, nil
}

func (e *engineImpl) shardFor(workflowID string) int32 {
	if e.shardMgr == nil {
		return 0
	}
	return e.shardMgr.ShardFor(workflowID)
}

func (e *engineImpl) AppendEvents(ctx context.Context, key ExecutionKey, events []*persistence.HistoryEvent) error {
	if err := e.checkOwnership(key.WorkflowID); err != nil {
		return err
	}
	if err := e.store.History().AppendEvents(ctx, key.NamespaceID, key.WorkflowID, key.RunID, events); err != nil {
		return err
	}
	e.cache.Remove(cacheKey(key))
	return nil
}

func (e *engineImpl) GetHistory(ctx context.Context, key ExecutionKey, fromEventID int64, maxEvents int) ([]*persistence.HistoryEvent, persistence.PageToken, error) {
	return e.store.History().GetHistory(ctx, key.NamespaceID, key.WorkflowID, key.RunID, fromEventID, maxEvents)
}

func (e *engineImpl) Describe(ctx context.Context, key ExecutionKey) (*persistence.WorkflowExecution, error) {
	if cached, ok := e.cache.Get(cacheKey(key)); ok {
		return cached, nil
	}
	exec, err := e.store.Executions().Get(ctx, key.NamespaceID, key.WorkflowID, key.RunID)
	if err != nil {
		return nil, err
	}
	e.cache.Add(cacheKey(key), exec)
	return exec, nil
}

func (e *engineImpl) Signal(ctx context.Context, key ExecutionKey, signalName string, input []byte) error {
	if err := e.checkOwnership(key.WorkflowID); err != nil {
		return err
	}
	exec, err := e.store.Executions().Get(ctx, key.NamespaceID, key.WorkflowID, key.RunID)
	if err != nil {
		return err
	}
	if exec.State.IsTerminal() {
		return &serviceerror.InvalidWorkflowState{Message: "cannot signal a terminal execution"}
	}
	signalEvent := &persistence.HistoryEvent{
		NamespaceID: key.NamespaceID, WorkflowID: key.WorkflowID, RunID: key.RunID,
		EventID: exec.NextEventID, EventType: persistence.EventTypeWorkflowExecutionSignaled,
		EventTimestamp: time.Now().UTC(), EventData: encodeSignal(signalName, input),
	}
	if err := e.store.History().AppendEvents(ctx, key.NamespaceID, key.WorkflowID, key.RunID, []*persistence.HistoryEvent{signalEvent}); err != nil {
		return err
	}
	if err := e.store.Executions().UpdateWithNextEventID(ctx, exec, exec.Version, exec.NextEventID+1); err != nil {
		return err
	}
	e.cache.Remove(cacheKey(key))
	e.recordVisibility(ctx, exec, exec.NextEventID)
	return nil
}

func encodeSignal(name string, input []byte) []byte {
	out := make([]byte, 0, len(name)+1+len(input))
	out = append(out, []byte(name)...)
	out = append(out, 0)
	out = append(out, input...)
	return out
}

func (e *engineImpl) Query(ctx context.Context, key ExecutionKey, queryType string, args []byte) ([]byte, error) {
	handler, ok := e.queryTypes[queryType]
	if !ok {
		return nil, &serviceerror.InvalidRequest{Message: "unregistered query type: " + queryType}
	}
	exec, err := e.Describe(ctx, key)
	if err != nil {
		return nil, err
	}
	return handler(ctx, exec, args)
}

func (e *engineImpl) Terminate(ctx context.Context, key ExecutionKey, reason string) error {
	if err := e.checkOwnership(key.WorkflowID); err != nil {
		return err
	}
	if err := e.store.Executions().Terminate(ctx, key.NamespaceID, key.WorkflowID, key.RunID, reason); err != nil {
		return err
	}
	e.cache.Remove(cacheKey(key))
	if exec, err := e.store.Executions().Get(ctx, key.NamespaceID, key.WorkflowID, key.RunID); err == nil {
		e.recordVisibility(ctx, exec, exec.NextEventID-1)
	}
	e.metrics.Counter("workflow_terminated").Inc()
	return nil
}

// CompleteWorkflowTask applies the result of one workflow-task dispatch
// cycle atomically from the engine's perspective: it appends the events the
// runtime produced, advances NextEventID, and optionally transitions the
// execution to a terminal state, all under the caller-supplied expected
// version so a stale dispatch loses to a concurrent one.
func (e *engineImpl) CompleteWorkflowTask(ctx context.Context, key ExecutionKey, expectedVersion int64, newEvents []*persistence.HistoryEvent, nextEventID int64, closeState *persistence.WorkflowState) error {
	if err := e.checkOwnership(key.WorkflowID); err != nil {
		return err
	}
	if len(newEvents) > 0 {
		if err := e.store.History().AppendEvents(ctx, key.NamespaceID, key.WorkflowID, key.RunID, newEvents); err != nil {
			return err
		}
	}
	exec, err := e.store.Executions().Get(ctx, key.NamespaceID, key.WorkflowID, key.RunID)
	if err != nil {
		return err
	}
	if closeState != nil {
		exec.State = *closeState
		now := time.Now().UTC()
		exec.CompletedAt = &now
	}
	if err := e.store.Executions().UpdateWithNextEventID(ctx, exec, expectedVersion, nextEventID); err != nil {
		return err
	}
	e.cache.Remove(cacheKey(key))
	e.recordVisibility(ctx, exec, nextEventID-1)
	return nil
}

var _ Engine = (*engineImpl)(nil)

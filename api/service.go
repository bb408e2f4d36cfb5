// Package api is the orchestrator's wire-facing facade: it mirrors the
// request/response shape of a Temporal-style WorkflowService, translating
// between the internal history/matching/visibility engines and the
// go.temporal.io/api vocabulary external callers and operators already
// speak (error types, workflow execution identifiers).
package api

import (
	"context"
	"strconv"

	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/service/history"
	"github.com/orchestrator/workflow-core/service/matching"
	"github.com/orchestrator/workflow-core/service/visibility"
)

// WorkflowService is the RPC-shaped facade over the orchestrator core,
// named and organized after Temporal's WorkflowService so operators
// familiar with that API recognize the method set immediately.
type WorkflowService interface {
	StartWorkflowExecution(ctx context.Context, req *StartWorkflowExecutionRequest) (*StartWorkflowExecutionResponse, error)
	GetWorkflowExecutionHistory(ctx context.Context, req *GetWorkflowExecutionHistoryRequest) (*GetWorkflowExecutionHistoryResponse, error)
	DescribeWorkflowExecution(ctx context.Context, req *DescribeWorkflowExecutionRequest) (*DescribeWorkflowExecutionResponse, error)
	SignalWorkflowExecution(ctx context.Context, req *SignalWorkflowExecutionRequest) (*SignalWorkflowExecutionResponse, error)
	QueryWorkflowExecution(ctx context.Context, req *QueryWorkflowExecutionRequest) (*QueryWorkflowExecutionResponse, error)
	TerminateWorkflowExecution(ctx context.Context, req *TerminateWorkflowExecutionRequest) (*TerminateWorkflowExecutionResponse, error)
	ListWorkflowExecutions(ctx context.Context, req *ListWorkflowExecutionsRequest) (*ListWorkflowExecutionsResponse, error)
	PollWorkflowTaskQueue(ctx context.Context, req *PollTaskQueueRequest) (*PollTaskQueueResponse, error)
	PollActivityTaskQueue(ctx context.Context, req *PollTaskQueueRequest) (*PollTaskQueueResponse, error)
	PauseActivity(ctx context.Context, req *PauseActivityRequest) (*PauseActivityResponse, error)
	UnpauseActivity(ctx context.Context, req *UnpauseActivityRequest) (*UnpauseActivityResponse, error)
}

// WorkflowExecution identifies one run, mirroring
// go.temporal.io/api/common/v1.WorkflowExecution's field names.
type WorkflowExecution struct {
	WorkflowId string
	RunId      string
}

type StartWorkflowExecutionRequest struct {
	Namespace          string
	WorkflowId         string
	WorkflowType       string
	TaskQueue          string
	Input              []byte
	WorkflowTimeoutSec int32
	RunTimeoutSec      int32
	TaskTimeoutSec     int32
	CronSchedule       string
	Memo               map[string]string
	SearchAttributes   map[string]string
}

type StartWorkflowExecutionResponse struct {
	RunId string
}

type GetWorkflowExecutionHistoryRequest struct {
	Namespace     string
	Execution     WorkflowExecution
	NextPageToken []byte
	MaximumPageSize int32
}

type GetWorkflowExecutionHistoryResponse struct {
	Events        []*persistence.HistoryEvent
	NextPageToken []byte
}

type DescribeWorkflowExecutionRequest struct {
	Namespace string
	Execution WorkflowExecution
}

type DescribeWorkflowExecutionResponse struct {
	Execution *persistence.WorkflowExecution
}

type SignalWorkflowExecutionRequest struct {
	Namespace  string
	Execution  WorkflowExecution
	SignalName string
	Input      []byte
}

type SignalWorkflowExecutionResponse struct{}

type QueryWorkflowExecutionRequest struct {
	Namespace string
	Execution WorkflowExecution
	QueryType string
	QueryArgs []byte
}

type QueryWorkflowExecutionResponse struct {
	QueryResult []byte
}

type TerminateWorkflowExecutionRequest struct {
	Namespace string
	Execution WorkflowExecution
	Reason    string
}

type TerminateWorkflowExecutionResponse struct{}

type ListWorkflowExecutionsRequest struct {
	Namespace     string
	Query         string
	PageSize      int32
	NextPageToken []byte
}

type ListWorkflowExecutionsResponse struct {
	Executions    []*persistence.VisibilityRecord
	NextPageToken []byte
}

type PollTaskQueueRequest struct {
	Namespace      string
	TaskQueue      string
	WorkerIdentity string
}

type PollTaskQueueResponse struct {
	Task  *persistence.TaskQueueItem
	Lease *persistence.TaskLease
}

type PauseActivityRequest struct {
	Namespace  string
	Execution  WorkflowExecution
	Identity   string
	Reason     string
}

type PauseActivityResponse struct{}

type UnpauseActivityRequest struct {
	Namespace     string
	Execution     WorkflowExecution
	ResetAttempts bool
}

type UnpauseActivityResponse struct{}

type workflowServiceImpl struct {
	history    history.Engine
	matching   matching.Engine
	visibility visibility.Indexer
}

// NewWorkflowService constructs the facade over the three service engines.
func NewWorkflowService(historyEngine history.Engine, matchingEngine matching.Engine, visibilityIndexer visibility.Indexer) WorkflowService {
	return &workflowServiceImpl{history: historyEngine, matching: matchingEngine, visibility: visibilityIndexer}
}

func (s *workflowServiceImpl) StartWorkflowExecution(ctx context.Context, req *StartWorkflowExecutionRequest) (*StartWorkflowExecutionResponse, error) {
	exec, err := s.history.StartWorkflowExecution(ctx, &history.StartRequest{
		NamespaceID:        req.Namespace,
		WorkflowID:         req.WorkflowId,
		WorkflowType:       req.WorkflowType,
		TaskQueue:          req.TaskQueue,
		Input:              req.Input,
		WorkflowTimeoutSec: req.WorkflowTimeoutSec,
		RunTimeoutSec:      req.RunTimeoutSec,
		TaskTimeoutSec:     req.TaskTimeoutSec,
		CronSchedule:       req.CronSchedule,
		Memo:               req.Memo,
		SearchAttributes:   req.SearchAttributes,
	})
	if err != nil {
		return nil, ToTemporalError(err)
	}
	return &StartWorkflowExecutionResponse{RunId: exec.RunID}, nil
}

func (s *workflowServiceImpl) GetWorkflowExecutionHistory(ctx context.Context, req *GetWorkflowExecutionHistoryRequest) (*GetWorkflowExecutionHistoryResponse, error) {
	key := history.ExecutionKey{NamespaceID: req.Namespace, WorkflowID: req.Execution.WorkflowId, RunID: req.Execution.RunId}
	events, next, err := s.history.GetHistory(ctx, key, decodeFromEventID(req.NextPageToken), int(req.MaximumPageSize))
	if err != nil {
		return nil, ToTemporalError(err)
	}
	return &GetWorkflowExecutionHistoryResponse{Events: events, NextPageToken: next}, nil
}

func decodeFromEventID(token []byte) int64 {
	if len(token) == 0 {
		return 1
	}
	id, err := strconv.ParseInt(string(token), 10, 64)
	if err != nil {
		return 1
	}
	return id
}

func (s *workflowServiceImpl) DescribeWorkflowExecution(ctx context.Context, req *DescribeWorkflowExecutionRequest) (*DescribeWorkflowExecutionResponse, error) {
	key := history.ExecutionKey{NamespaceID: req.Namespace, WorkflowID: req.Execution.WorkflowId, RunID: req.Execution.RunId}
	exec, err := s.history.Describe(ctx, key)
	if err != nil {
		return nil, ToTemporalError(err)
	}
	return &DescribeWorkflowExecutionResponse{Execution: exec}, nil
}

func (s *workflowServiceImpl) SignalWorkflowExecution(ctx context.Context, req *SignalWorkflowExecutionRequest) (*SignalWorkflowExecutionResponse, error) {
	key := history.ExecutionKey{NamespaceID: req.Namespace, WorkflowID: req.Execution.WorkflowId, RunID: req.Execution.RunId}
	if err := s.history.Signal(ctx, key, req.SignalName, req.Input); err != nil {
		return nil, ToTemporalError(err)
	}
	return &SignalWorkflowExecutionResponse{}, nil
}

func (s *workflowServiceImpl) QueryWorkflowExecution(ctx context.Context, req *QueryWorkflowExecutionRequest) (*QueryWorkflowExecutionResponse, error) {
	key := history.ExecutionKey{NamespaceID: req.Namespace, WorkflowID: req.Execution.WorkflowId, RunID: req.Execution.RunId}
	result, err := s.history.Query(ctx, key, req.QueryType, req.QueryArgs)
	if err != nil {
		return nil, ToTemporalError(err)
	}
	return &QueryWorkflowExecutionResponse{QueryResult: result}, nil
}

func (s *workflowServiceImpl) TerminateWorkflowExecution(ctx context.Context, req *TerminateWorkflowExecutionRequest) (*TerminateWorkflowExecutionResponse, error) {
	key := history.ExecutionKey{NamespaceID: req.Namespace, WorkflowID: req.Execution.WorkflowId, RunID: req.Execution.RunId}
	if err := s.history.Terminate(ctx, key, req.Reason); err != nil {
		return nil, ToTemporalError(err)
	}
	return &TerminateWorkflowExecutionResponse{}, nil
}

func (s *workflowServiceImpl) ListWorkflowExecutions(ctx context.Context, req *ListWorkflowExecutionsRequest) (*ListWorkflowExecutionsResponse, error) {
	recs, next, err := s.visibility.List(ctx, req.Namespace, req.Query, int(req.PageSize), persistence.PageToken(req.NextPageToken))
	if err != nil {
		return nil, ToTemporalError(err)
	}
	return &ListWorkflowExecutionsResponse{Executions: recs, NextPageToken: next}, nil
}

func (s *workflowServiceImpl) PollWorkflowTaskQueue(ctx context.Context, req *PollTaskQueueRequest) (*PollTaskQueueResponse, error) {
	return s.poll(ctx, req, persistence.TaskQueueTypeWorkflow)
}

func (s *workflowServiceImpl) PollActivityTaskQueue(ctx context.Context, req *PollTaskQueueRequest) (*PollTaskQueueResponse, error) {
	return s.poll(ctx, req, persistence.TaskQueueTypeActivity)
}

func (s *workflowServiceImpl) PauseActivity(ctx context.Context, req *PauseActivityRequest) (*PauseActivityResponse, error) {
	if err := s.matching.PauseTask(ctx, req.Namespace, req.Execution.WorkflowId, req.Execution.RunId, persistence.TaskQueueTypeActivity, req.Identity, req.Reason); err != nil {
		return nil, ToTemporalError(err)
	}
	return &PauseActivityResponse{}, nil
}

func (s *workflowServiceImpl) UnpauseActivity(ctx context.Context, req *UnpauseActivityRequest) (*UnpauseActivityResponse, error) {
	if err := s.matching.UnpauseTask(ctx, req.Namespace, req.Execution.WorkflowId, req.Execution.RunId, persistence.TaskQueueTypeActivity, req.ResetAttempts); err != nil {
		return nil, ToTemporalError(err)
	}
	return &UnpauseActivityResponse{}, nil
}

func (s *workflowServiceImpl) poll(ctx context.Context, req *PollTaskQueueRequest, queueType persistence.TaskQueueType) (*PollTaskQueueResponse, error) {
	task, lease, err := s.matching.PollTask(ctx, req.Namespace, req.TaskQueue, queueType, req.WorkerIdentity)
	if err != nil {
		return nil, ToTemporalError(err)
	}
	return &PollTaskQueueResponse{Task: task, Lease: lease}, nil
}

var _ WorkflowService = (*workflowServiceImpl)(nil)

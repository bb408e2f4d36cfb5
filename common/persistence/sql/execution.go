package sql

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

type executionRow struct {
	NamespaceID          string    `db:"namespace_id"`
	WorkflowID           string    `db:"workflow_id"`
	RunID                string    `db:"run_id"`
	WorkflowType         string    `db:"workflow_type"`
	TaskQueue            string    `db:"task_queue"`
	WorkflowState        int32     `db:"workflow_state"`
	ExecutionState       []byte    `db:"execution_state"`
	NextEventID          int64     `db:"next_event_id"`
	LastProcessedEventID int64     `db:"last_processed_event_id"`
	WorkflowTimeoutSec   int32     `db:"workflow_timeout_seconds"`
	RunTimeoutSec        int32     `db:"run_timeout_seconds"`
	TaskTimeoutSec       int32     `db:"task_timeout_seconds"`
	RetryPolicy          []byte    `db:"retry_policy"`
	CronSchedule         string    `db:"cron_schedule"`
	ParentWorkflowID     *string   `db:"parent_workflow_id"`
	ParentRunID          *string   `db:"parent_run_id"`
	InitiatedID          *int64    `db:"initiated_id"`
	CompletionEventID    *int64    `db:"completion_event_id"`
	Memo                 []byte    `db:"memo"`
	SearchAttributes     []byte    `db:"search_attributes"`
	StartedAt            time.Time `db:"started_at"`
	CompletedAt          *time.Time `db:"completed_at"`
	LastUpdatedAt        time.Time `db:"last_updated_at"`
	ShardID              int32     `db:"shard_id"`
	Version              int64     `db:"version"`
}

func executionRowFromModel(e *persistence.WorkflowExecution) (*executionRow, error) {
	memo, err := json.Marshal(e.Memo)
	if err != nil {
		return nil, &serviceerror.InvalidRequest{Message: "memo not serializable: " + err.Error()}
	}
	sa, err := json.Marshal(e.SearchAttributes)
	if err != nil {
		return nil, &serviceerror.InvalidRequest{Message: "search attributes not serializable: " + err.Error()}
	}
	var retryPolicy []byte
	if e.RetryPolicy != nil {
		retryPolicy, err = json.Marshal(e.RetryPolicy)
		if err != nil {
			return nil, &serviceerror.InvalidRequest{Message: "retry policy not serializable: " + err.Error()}
		}
	}
	return &executionRow{
		NamespaceID:          e.NamespaceID,
		WorkflowID:           e.WorkflowID,
		RunID:                e.RunID,
		WorkflowType:         e.WorkflowType,
		TaskQueue:            e.TaskQueue,
		WorkflowState:        int32(e.State),
		ExecutionState:       e.ExecutionState,
		NextEventID:          e.NextEventID,
		LastProcessedEventID: e.LastProcessedEventID,
		WorkflowTimeoutSec:   e.WorkflowTimeoutSec,
		RunTimeoutSec:        e.RunTimeoutSec,
		TaskTimeoutSec:       e.TaskTimeoutSec,
		RetryPolicy:          retryPolicy,
		CronSchedule:         e.CronSchedule,
		ParentWorkflowID:     e.ParentWorkflowID,
		ParentRunID:          e.ParentRunID,
		InitiatedID:          e.InitiatedID,
		CompletionEventID:    e.CompletionEventID,
		Memo:                 memo,
		SearchAttributes:     sa,
		StartedAt:            e.StartedAt,
		CompletedAt:          e.CompletedAt,
		LastUpdatedAt:        e.LastUpdatedAt,
		ShardID:              e.ShardID,
		Version:              e.Version,
	}, nil
}

func (r *executionRow) toModel() (*persistence.WorkflowExecution, error) {
	var memo, sa map[string]string
	if len(r.Memo) > 0 {
		if err := json.Unmarshal(r.Memo, &memo); err != nil {
			return nil, &serviceerror.PersistenceError{Cause: err}
		}
	}
	if len(r.SearchAttributes) > 0 {
		if err := json.Unmarshal(r.SearchAttributes, &sa); err != nil {
			return nil, &serviceerror.PersistenceError{Cause: err}
		}
	}
	var retryPolicy *persistence.RetryPolicy
	if len(r.RetryPolicy) > 0 {
		retryPolicy = &persistence.RetryPolicy{}
		if err := json.Unmarshal(r.RetryPolicy, retryPolicy); err != nil {
			return nil, &serviceerror.PersistenceError{Cause: err}
		}
	}
	return &persistence.WorkflowExecution{
		NamespaceID:          r.NamespaceID,
		WorkflowID:           r.WorkflowID,
		RunID:                r.RunID,
		WorkflowType:         r.WorkflowType,
		TaskQueue:            r.TaskQueue,
		State:                persistence.WorkflowState(r.WorkflowState),
		ExecutionState:       r.ExecutionState,
		NextEventID:          r.NextEventID,
		LastProcessedEventID: r.LastProcessedEventID,
		WorkflowTimeoutSec:   r.WorkflowTimeoutSec,
		RunTimeoutSec:        r.RunTimeoutSec,
		TaskTimeoutSec:       r.TaskTimeoutSec,
		RetryPolicy:          retryPolicy,
		CronSchedule:         r.CronSchedule,
		ParentWorkflowID:     r.ParentWorkflowID,
		ParentRunID:          r.ParentRunID,
		InitiatedID:          r.InitiatedID,
		CompletionEventID:    r.CompletionEventID,
		Memo:                 memo,
		SearchAttributes:     sa,
		StartedAt:            r.StartedAt,
		CompletedAt:          r.CompletedAt,
		LastUpdatedAt:        r.LastUpdatedAt,
		ShardID:              r.ShardID,
		Version:              r.Version,
	}, nil
}

type executionRepository struct {
	sqlStore
}

const createExecutionSQL = `
INSERT INTO workflow_executions
	(namespace_id, workflow_id, run_id, workflow_type, task_queue, workflow_state, execution_state,
	 next_event_id, last_processed_event_id, workflow_timeout_seconds, run_timeout_seconds, task_timeout_seconds,
	 retry_policy, cron_schedule, parent_workflow_id, parent_run_id, initiated_id, completion_event_id,
	 memo, search_attributes, started_at, completed_at, last_updated_at, shard_id, version)
VALUES
	(:namespace_id, :workflow_id, :run_id, :workflow_type, :task_queue, :workflow_state, :execution_state,
	 :next_event_id, :last_processed_event_id, :workflow_timeout_seconds, :run_timeout_seconds, :task_timeout_seconds,
	 :retry_policy, :cron_schedule, :parent_workflow_id, :parent_run_id, :initiated_id, :completion_event_id,
	 :memo, :search_attributes, :started_at, :completed_at, :last_updated_at, :shard_id, :version)`

func (r *executionRepository) Create(ctx context.Context, exec *persistence.WorkflowExecution) error {
	return r.txExecute(ctx, "CreateExecution", func(tx *sqlx.Tx) error {
		var count int
		err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM workflow_executions WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3`),
			exec.NamespaceID, exec.WorkflowID, exec.RunID)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		if count > 0 {
			return &serviceerror.AlreadyExists{Message: "execution already exists for run " + exec.RunID}
		}
		row, err := executionRowFromModel(exec)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, createExecutionSQL, row); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

const executionColumns = `namespace_id, workflow_id, run_id, workflow_type, task_queue, workflow_state, execution_state,
	 next_event_id, last_processed_event_id, workflow_timeout_seconds, run_timeout_seconds, task_timeout_seconds,
	 retry_policy, cron_schedule, parent_workflow_id, parent_run_id, initiated_id, completion_event_id,
	 memo, search_attributes, started_at, completed_at, last_updated_at, shard_id, version`

func (r *executionRepository) Get(ctx context.Context, namespaceID, workflowID, runID string) (*persistence.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3`
	var row executionRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), namespaceID, workflowID, runID); err != nil {
		if isNoRows(err) {
			return nil, &serviceerror.NotFound{Message: "execution not found: " + workflowID + "/" + runID}
		}
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	return row.toModel()
}

func (r *executionRepository) GetCurrent(ctx context.Context, namespaceID, workflowID string) (*persistence.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE namespace_id = $1 AND workflow_id = $2 ORDER BY started_at DESC LIMIT 1`
	var row executionRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), namespaceID, workflowID); err != nil {
		if isNoRows(err) {
			return nil, &serviceerror.NotFound{Message: "no execution found for workflow " + workflowID}
		}
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	return row.toModel()
}

const updateExecutionSQL = `
UPDATE workflow_executions SET
	workflow_state = :workflow_state,
	execution_state = :execution_state,
	last_processed_event_id = :last_processed_event_id,
	completion_event_id = :completion_event_id,
	completed_at = :completed_at,
	memo = :memo,
	search_attributes = :search_attributes,
	last_updated_at = :last_updated_at,
	version = :new_version
WHERE namespace_id = :namespace_id AND workflow_id = :workflow_id AND run_id = :run_id AND version = :expected_version`

const updateExecutionWithNextEventIDSQL = `
UPDATE workflow_executions SET
	workflow_state = :workflow_state,
	execution_state = :execution_state,
	last_processed_event_id = :last_processed_event_id,
	completion_event_id = :completion_event_id,
	completed_at = :completed_at,
	memo = :memo,
	search_attributes = :search_attributes,
	last_updated_at = :last_updated_at,
	version = :new_version,
	next_event_id = :next_event_id
WHERE namespace_id = :namespace_id AND workflow_id = :workflow_id AND run_id = :run_id AND version = :expected_version`

// Update applies optimistic concurrency control: it succeeds only if the
// persisted version equals expectedVersion, and on success sets
// version := expectedVersion + 1.
func (r *executionRepository) Update(ctx context.Context, exec *persistence.WorkflowExecution, expectedVersion int64) error {
	return r.update(ctx, exec, expectedVersion, nil)
}

func (r *executionRepository) UpdateWithNextEventID(ctx context.Context, exec *persistence.WorkflowExecution, expectedVersion int64, nextEventID int64) error {
	return r.update(ctx, exec, expectedVersion, &nextEventID)
}

func (r *executionRepository) update(ctx context.Context, exec *persistence.WorkflowExecution, expectedVersion int64, nextEventID *int64) error {
	return r.txExecute(ctx, "UpdateExecution", func(tx *sqlx.Tx) error {
		var current executionRow
		selectQuery := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3 FOR UPDATE`
		if err := tx.GetContext(ctx, &current, tx.Rebind(selectQuery), exec.NamespaceID, exec.WorkflowID, exec.RunID); err != nil {
			if isNoRows(err) {
				return &serviceerror.NotFound{Message: "execution not found: " + exec.WorkflowID + "/" + exec.RunID}
			}
			return &serviceerror.PersistenceError{Cause: err}
		}
		if current.Version != expectedVersion {
			return &serviceerror.ConcurrencyConflict{ExpectedVersion: expectedVersion, ActualVersion: current.Version}
		}
		if persistence.WorkflowState(current.WorkflowState).IsTerminal() {
			return &serviceerror.InvalidWorkflowState{Message: "execution " + exec.RunID + " is already terminal"}
		}

		row, err := executionRowFromModel(exec)
		if err != nil {
			return err
		}
		if nextEventID != nil {
			row.NextEventID = *nextEventID
		} else {
			row.NextEventID = current.NextEventID
		}

		args := map[string]interface{}{
			"workflow_state":          row.WorkflowState,
			"execution_state":         row.ExecutionState,
			"last_processed_event_id": row.LastProcessedEventID,
			"completion_event_id":     row.CompletionEventID,
			"completed_at":            row.CompletedAt,
			"memo":                    row.Memo,
			"search_attributes":       row.SearchAttributes,
			"last_updated_at":         time.Now().UTC(),
			"new_version":             expectedVersion + 1,
			"namespace_id":            exec.NamespaceID,
			"workflow_id":             exec.WorkflowID,
			"run_id":                  exec.RunID,
			"expected_version":        expectedVersion,
		}
		updateQuery := updateExecutionSQL
		if nextEventID != nil {
			updateQuery = updateExecutionWithNextEventIDSQL
			args["next_event_id"] = *nextEventID
		}
		res, err := tx.NamedExecContext(ctx, updateQuery, args)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return &serviceerror.ConcurrencyConflict{ExpectedVersion: expectedVersion, ActualVersion: current.Version}
		}
		exec.Version = expectedVersion + 1
		return nil
	})
}

func (r *executionRepository) List(ctx context.Context, namespaceID string, state *persistence.WorkflowState, pageSize int, token persistence.PageToken) ([]*persistence.WorkflowExecution, persistence.PageToken, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE namespace_id = $1 AND workflow_id > $2`
	args := []interface{}{namespaceID, string(token)}
	if state != nil {
		query += ` AND workflow_state = $3 ORDER BY workflow_id ASC LIMIT $4`
		args = append(args, int32(*state), pageSize)
	} else {
		query += ` ORDER BY workflow_id ASC LIMIT $3`
		args = append(args, pageSize)
	}
	var rows []executionRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, nil, &serviceerror.PersistenceError{Cause: err}
	}
	result := make([]*persistence.WorkflowExecution, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, nil, err
		}
		result = append(result, m)
	}
	var next persistence.PageToken
	if len(rows) == pageSize {
		next = persistence.PageToken(rows[len(rows)-1].WorkflowID)
	}
	return result, next, nil
}

func (r *executionRepository) Terminate(ctx context.Context, namespaceID, workflowID, runID, reason string) error {
	return r.txExecute(ctx, "TerminateExecution", func(tx *sqlx.Tx) error {
		var current executionRow
		selectQuery := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3 FOR UPDATE`
		if err := tx.GetContext(ctx, &current, tx.Rebind(selectQuery), namespaceID, workflowID, runID); err != nil {
			if isNoRows(err) {
				return &serviceerror.NotFound{Message: "execution not found: " + workflowID + "/" + runID}
			}
			return &serviceerror.PersistenceError{Cause: err}
		}
		if persistence.WorkflowState(current.WorkflowState).IsTerminal() {
			return &serviceerror.InvalidWorkflowState{Message: "execution already terminal"}
		}
		now := time.Now().UTC()
		completionEventID := current.LastProcessedEventID + 1
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE workflow_executions SET workflow_state = $1, completed_at = $2, completion_event_id = $3, last_updated_at = $2, version = version + 1 WHERE namespace_id = $4 AND workflow_id = $5 AND run_id = $6`),
			int32(persistence.WorkflowStateTerminated), now, completionEventID, namespaceID, workflowID, runID)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

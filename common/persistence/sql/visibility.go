package sql

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/persistence/query"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

type visibilityRow struct {
	NamespaceID      string    `db:"namespace_id"`
	WorkflowID       string    `db:"workflow_id"`
	RunID            string    `db:"run_id"`
	WorkflowType     string    `db:"workflow_type"`
	TaskQueue        string    `db:"task_queue"`
	Status           int32     `db:"status"`
	StartTime        time.Time `db:"start_time"`
	CloseTime        *time.Time `db:"close_time"`
	HistoryLength    int64     `db:"history_length"`
	Memo             []byte    `db:"memo"`
	SearchAttributes []byte    `db:"search_attributes"`
	ParentWorkflowID *string   `db:"parent_workflow_id"`
	ParentRunID      *string   `db:"parent_run_id"`
	Tags             []byte    `db:"tags"`
}

func visibilityRowFromModel(v *persistence.VisibilityRecord) (*visibilityRow, error) {
	memo, err := json.Marshal(v.Memo)
	if err != nil {
		return nil, &serviceerror.InvalidRequest{Message: "memo not serializable: " + err.Error()}
	}
	sa, err := json.Marshal(v.SearchAttributes)
	if err != nil {
		return nil, &serviceerror.InvalidRequest{Message: "search attributes not serializable: " + err.Error()}
	}
	tags, err := json.Marshal(v.Tags)
	if err != nil {
		return nil, &serviceerror.InvalidRequest{Message: "tags not serializable: " + err.Error()}
	}
	return &visibilityRow{
		NamespaceID:      v.NamespaceID,
		WorkflowID:       v.WorkflowID,
		RunID:            v.RunID,
		WorkflowType:     v.WorkflowType,
		TaskQueue:        v.TaskQueue,
		Status:           int32(v.Status),
		StartTime:        v.StartTime,
		CloseTime:        v.CloseTime,
		HistoryLength:    v.HistoryLength,
		Memo:             memo,
		SearchAttributes: sa,
		ParentWorkflowID: v.ParentWorkflowID,
		ParentRunID:      v.ParentRunID,
		Tags:             tags,
	}, nil
}

func (r *visibilityRow) toModel() (*persistence.VisibilityRecord, error) {
	var memo, sa, tags map[string]string
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
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &tags); err != nil {
			return nil, &serviceerror.PersistenceError{Cause: err}
		}
	}
	return &persistence.VisibilityRecord{
		NamespaceID:      r.NamespaceID,
		WorkflowID:       r.WorkflowID,
		RunID:            r.RunID,
		WorkflowType:     r.WorkflowType,
		TaskQueue:        r.TaskQueue,
		Status:           persistence.WorkflowState(r.Status),
		StartTime:        r.StartTime,
		CloseTime:        r.CloseTime,
		HistoryLength:    r.HistoryLength,
		Memo:             memo,
		SearchAttributes: sa,
		ParentWorkflowID: r.ParentWorkflowID,
		ParentRunID:      r.ParentRunID,
		Tags:             tags,
	}, nil
}

type visibilityRepository struct {
	sqlStore
}

const upsertVisibilitySQL = `
INSERT INTO visibility_records
	(namespace_id, workflow_id, run_id, workflow_type, task_queue, status, start_time, close_time,
	 history_length, memo, search_attributes, parent_workflow_id, parent_run_id, tags)
VALUES
	(:namespace_id, :workflow_id, :run_id, :workflow_type, :task_queue, :status, :start_time, :close_time,
	 :history_length, :memo, :search_attributes, :parent_workflow_id, :parent_run_id, :tags)
ON CONFLICT (namespace_id, workflow_id, run_id) DO UPDATE SET
	workflow_type = EXCLUDED.workflow_type,
	task_queue = EXCLUDED.task_queue,
	status = EXCLUDED.status,
	close_time = EXCLUDED.close_time,
	history_length = EXCLUDED.history_length,
	memo = EXCLUDED.memo,
	search_attributes = EXCLUDED.search_attributes,
	tags = EXCLUDED.tags`

func (r *visibilityRepository) Upsert(ctx context.Context, rec *persistence.VisibilityRecord) error {
	return r.txExecute(ctx, "UpsertVisibility", func(tx *sqlx.Tx) error {
		row, err := visibilityRowFromModel(rec)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertVisibilitySQL, row); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

const visibilityColumns = `namespace_id, workflow_id, run_id, workflow_type, task_queue, status, start_time, close_time,
	 history_length, memo, search_attributes, parent_workflow_id, parent_run_id, tags`

// List implements plain namespace-scoped listing; Query, if present, is
// parsed and applied in-process against the candidate page since the
// query grammar (common/persistence/query) is intentionally not a
// SQL-generating DSL.
func (r *visibilityRepository) List(ctx context.Context, req *persistence.ListRequest) ([]*persistence.VisibilityRecord, persistence.PageToken, error) {
	return r.queryPage(ctx, req.NamespaceID, req.Query, req.PageSize, req.PageToken)
}

func (r *visibilityRepository) Search(ctx context.Context, namespaceID string, q string, pageSize int, token persistence.PageToken) ([]*persistence.VisibilityRecord, persistence.PageToken, error) {
	return r.queryPage(ctx, namespaceID, q, pageSize, token)
}

func (r *visibilityRepository) queryPage(ctx context.Context, namespaceID string, rawQuery string, pageSize int, token persistence.PageToken) ([]*persistence.VisibilityRecord, persistence.PageToken, error) {
	pageSize = persistence.ClampPageSize(pageSize)
	offset := decodeOffset(token)
	ast := query.Parse(rawQuery)

	fetchQuery := `SELECT ` + visibilityColumns + ` FROM visibility_records WHERE namespace_id = $1 ORDER BY start_time DESC`
	var all []visibilityRow
	if err := r.db.SelectContext(ctx, &all, r.db.Rebind(fetchQuery), namespaceID); err != nil {
		return nil, nil, &serviceerror.PersistenceError{Cause: err}
	}

	var matched []*persistence.VisibilityRecord
	for _, row := range all {
		m, err := row.toModel()
		if err != nil {
			return nil, nil, err
		}
		if !ast.Match(visibilityFields(m), visibilityFreeText(m)) {
			continue
		}
		matched = append(matched, m)
	}

	end := offset + pageSize
	if offset >= len(matched) {
		return nil, nil, nil
	}
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[offset:end]
	var next persistence.PageToken
	if end < len(matched) {
		next = encodeOffset(end)
	}
	return page, next, nil
}

func visibilityFields(v *persistence.VisibilityRecord) map[query.Field]string {
	fields := map[query.Field]string{
		query.FieldWorkflowType: v.WorkflowType,
		query.FieldWorkflowID:   v.WorkflowID,
		query.FieldStatus:       workflowStateName(v.Status),
		query.FieldTaskQueue:    v.TaskQueue,
		query.FieldState:        workflowStateName(v.Status),
		query.FieldStartTime:    v.StartTime.UTC().Format(time.RFC3339),
	}
	if v.CloseTime != nil {
		fields[query.FieldCloseTime] = v.CloseTime.UTC().Format(time.RFC3339)
	}
	return fields
}

func visibilityFreeText(v *persistence.VisibilityRecord) []string {
	return []string{v.WorkflowID, v.WorkflowType, workflowStateName(v.Status), v.TaskQueue}
}

func workflowStateName(s persistence.WorkflowState) string {
	switch s {
	case persistence.WorkflowStateRunning:
		return "Running"
	case persistence.WorkflowStateCompleted:
		return "Completed"
	case persistence.WorkflowStateFailed:
		return "Failed"
	case persistence.WorkflowStateCanceled:
		return "Canceled"
	case persistence.WorkflowStateTerminated:
		return "Terminated"
	case persistence.WorkflowStateContinuedAsNew:
		return "ContinuedAsNew"
	case persistence.WorkflowStateTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

func decodeOffset(token persistence.PageToken) int {
	if len(token) == 0 {
		return 0
	}
	n, err := strconv.Atoi(string(token))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func encodeOffset(n int) persistence.PageToken {
	return persistence.PageToken(strconv.Itoa(n))
}

func (r *visibilityRepository) Count(ctx context.Context, namespaceID string, q string) (int64, error) {
	ast := query.Parse(q)
	fetchQuery := `SELECT ` + visibilityColumns + ` FROM visibility_records WHERE namespace_id = $1`
	var all []visibilityRow
	if err := r.db.SelectContext(ctx, &all, r.db.Rebind(fetchQuery), namespaceID); err != nil {
		return 0, &serviceerror.PersistenceError{Cause: err}
	}
	var count int64
	for _, row := range all {
		m, err := row.toModel()
		if err != nil {
			return 0, err
		}
		if ast.Match(visibilityFields(m), visibilityFreeText(m)) {
			count++
		}
	}
	return count, nil
}

func (r *visibilityRepository) UpdateTags(ctx context.Context, namespaceID, workflowID, runID string, tags map[string]string) error {
	return r.txExecute(ctx, "UpdateVisibilityTags", func(tx *sqlx.Tx) error {
		data, err := json.Marshal(tags)
		if err != nil {
			return &serviceerror.InvalidRequest{Message: "tags not serializable: " + err.Error()}
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE visibility_records SET tags = $1 WHERE namespace_id = $2 AND workflow_id = $3 AND run_id = $4`),
			data, namespaceID, workflowID, runID)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &serviceerror.NotFound{Message: "visibility record not found"}
		}
		return nil
	})
}

func (r *visibilityRepository) SearchByTags(ctx context.Context, namespaceID string, tags map[string]string, matchAll bool, pageSize int, token persistence.PageToken) ([]*persistence.VisibilityRecord, persistence.PageToken, error) {
	pageSize = persistence.ClampPageSize(pageSize)
	offset := decodeOffset(token)

	fetchQuery := `SELECT ` + visibilityColumns + ` FROM visibility_records WHERE namespace_id = $1 ORDER BY start_time DESC`
	var all []visibilityRow
	if err := r.db.SelectContext(ctx, &all, r.db.Rebind(fetchQuery), namespaceID); err != nil {
		return nil, nil, &serviceerror.PersistenceError{Cause: err}
	}

	var matched []*persistence.VisibilityRecord
	for _, row := range all {
		m, err := row.toModel()
		if err != nil {
			return nil, nil, err
		}
		if tagsMatch(m.Tags, tags, matchAll) {
			matched = append(matched, m)
		}
	}
	end := offset + pageSize
	if offset >= len(matched) {
		return nil, nil, nil
	}
	if end > len(matched) {
		end = len(matched)
	}
	var next persistence.PageToken
	if end < len(matched) {
		next = encodeOffset(end)
	}
	return matched[offset:end], next, nil
}

func tagsMatch(have, want map[string]string, matchAll bool) bool {
	if len(want) == 0 {
		return true
	}
	matches := 0
	for k, v := range want {
		if have[k] == v {
			matches++
		}
	}
	if matchAll {
		return matches == len(want)
	}
	return matches > 0
}

func (r *visibilityRepository) ArchiveOlderThan(ctx context.Context, namespaceID string, threshold time.Time) (int, error) {
	var n int
	err := r.txExecute(ctx, "ArchiveVisibility", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM visibility_records WHERE namespace_id = $1 AND close_time IS NOT NULL AND close_time < $2`),
			namespaceID, threshold)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		affected, _ := res.RowsAffected()
		n = int(affected)
		return nil
	})
	return n, err
}

func (r *visibilityRepository) Delete(ctx context.Context, namespaceID, workflowID, runID string) error {
	return r.txExecute(ctx, "DeleteVisibility", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM visibility_records WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3`),
			namespaceID, workflowID, runID)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

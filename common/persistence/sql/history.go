package sql

import (
	"context"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

type historyEventRow struct {
	NamespaceID    string    `db:"namespace_id"`
	WorkflowID     string    `db:"workflow_id"`
	RunID          string    `db:"run_id"`
	EventID        int64     `db:"event_id"`
	EventType      string    `db:"event_type"`
	EventTimestamp time.Time `db:"event_timestamp"`
	TaskID         int64     `db:"task_id"`
	Version        int64     `db:"version"`
	EventData      []byte    `db:"event_data"`
}

func (r *historyEventRow) toModel() *persistence.HistoryEvent {
	return &persistence.HistoryEvent{
		NamespaceID:    r.NamespaceID,
		WorkflowID:     r.WorkflowID,
		RunID:          r.RunID,
		EventID:        r.EventID,
		EventType:      persistence.EventType(r.EventType),
		EventTimestamp: r.EventTimestamp,
		TaskID:         r.TaskID,
		Version:        r.Version,
		EventData:      r.EventData,
	}
}

func historyEventRowFromModel(e *persistence.HistoryEvent) *historyEventRow {
	return &historyEventRow{
		NamespaceID:    e.NamespaceID,
		WorkflowID:     e.WorkflowID,
		RunID:          e.RunID,
		EventID:        e.EventID,
		EventType:      string(e.EventType),
		EventTimestamp: e.EventTimestamp,
		TaskID:         e.TaskID,
		Version:        e.Version,
		EventData:      e.EventData,
	}
}

type historyRepository struct {
	sqlStore
}

const insertHistoryEventSQL = `
INSERT INTO history_events (namespace_id, workflow_id, run_id, event_id, event_type, event_timestamp, task_id, version, event_data)
VALUES (:namespace_id, :workflow_id, :run_id, :event_id, :event_type, :event_timestamp, :task_id, :version, :event_data)`

const maxEventIDForUpdateSQL = `SELECT COALESCE(MAX(event_id), 0) FROM history_events WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3 FOR UPDATE`

// AppendEvents validates events[0].EventID == lastEventID+1 and intra-batch
// contiguity before inserting the whole batch in one transaction.
func (r *historyRepository) AppendEvents(ctx context.Context, namespaceID, workflowID, runID string, events []*persistence.HistoryEvent) error {
	if len(events) == 0 {
		return &serviceerror.InvalidRequest{Message: "AppendEvents called with empty batch"}
	}
	for i := 1; i < len(events); i++ {
		if events[i].EventID != events[i-1].EventID+1 {
			return &serviceerror.HistoryEventError{Message: "intra-batch event id gap"}
		}
	}
	return r.txExecute(ctx, "AppendHistoryEvents", func(tx *sqlx.Tx) error {
		var lastEventID int64
		if err := tx.GetContext(ctx, &lastEventID, tx.Rebind(maxEventIDForUpdateSQL), namespaceID, workflowID, runID); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		if events[0].EventID != lastEventID+1 {
			return &serviceerror.HistoryEventError{Message: "append does not continue from last event id"}
		}
		for _, e := range events {
			row := historyEventRowFromModel(e)
			if _, err := tx.NamedExecContext(ctx, insertHistoryEventSQL, row); err != nil {
				return &serviceerror.HistoryEventError{Message: "duplicate or invalid event id: " + err.Error()}
			}
		}
		return nil
	})
}

const getHistorySQL = `
SELECT namespace_id, workflow_id, run_id, event_id, event_type, event_timestamp, task_id, version, event_data
FROM history_events
WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3 AND event_id >= $4
ORDER BY event_id ASC LIMIT $5`

const (
	minHistoryPage     = 1
	maxHistoryPage     = 5000
	defaultHistoryPage = 1000
)

// ClampMaxEvents normalizes a requested page size to [1, 5000], defaulting
// to 1000 when unset.
func ClampMaxEvents(requested int) int {
	if requested <= 0 {
		return defaultHistoryPage
	}
	if requested > maxHistoryPage {
		return maxHistoryPage
	}
	if requested < minHistoryPage {
		return minHistoryPage
	}
	return requested
}

func (r *historyRepository) GetHistory(ctx context.Context, namespaceID, workflowID, runID string, fromEventID int64, maxEvents int) ([]*persistence.HistoryEvent, persistence.PageToken, error) {
	limit := ClampMaxEvents(maxEvents)
	var rows []historyEventRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(getHistorySQL), namespaceID, workflowID, runID, fromEventID, limit); err != nil {
		return nil, nil, &serviceerror.PersistenceError{Cause: err}
	}
	events := make([]*persistence.HistoryEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].toModel()
	}
	var next persistence.PageToken
	if len(rows) == limit {
		next = persistence.PageToken(encodeEventID(rows[len(rows)-1].EventID + 1))
	}
	return events, next, nil
}

const getEventSQL = `
SELECT namespace_id, workflow_id, run_id, event_id, event_type, event_timestamp, task_id, version, event_data
FROM history_events WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3 AND event_id = $4`

func (r *historyRepository) GetEvent(ctx context.Context, namespaceID, workflowID, runID string, eventID int64) (*persistence.HistoryEvent, error) {
	var row historyEventRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(getEventSQL), namespaceID, workflowID, runID, eventID); err != nil {
		if isNoRows(err) {
			return nil, &serviceerror.NotFound{Message: "event not found"}
		}
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	return row.toModel(), nil
}

func (r *historyRepository) GetEventCount(ctx context.Context, namespaceID, workflowID, runID string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM history_events WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3`),
		namespaceID, workflowID, runID)
	if err != nil {
		return 0, &serviceerror.PersistenceError{Cause: err}
	}
	return count, nil
}

// ValidateSequence returns false iff a gap exists: it compares the row count
// against the highest event id (dense 1..N iff equal).
func (r *historyRepository) ValidateSequence(ctx context.Context, namespaceID, workflowID, runID string) (bool, error) {
	var count, maxID int64
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM history_events WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3`),
		namespaceID, workflowID, runID); err != nil {
		return false, &serviceerror.PersistenceError{Cause: err}
	}
	if err := r.db.GetContext(ctx, &maxID, r.db.Rebind(`SELECT COALESCE(MAX(event_id), 0) FROM history_events WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3`),
		namespaceID, workflowID, runID); err != nil {
		return false, &serviceerror.PersistenceError{Cause: err}
	}
	return count == maxID, nil
}

func (r *historyRepository) ArchiveOlderThan(ctx context.Context, namespaceID string, threshold time.Time, batchSize int) (int, error) {
	var deleted int
	err := r.txExecute(ctx, "ArchiveHistoryEvents", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM history_events WHERE namespace_id = $1 AND event_timestamp < $2 AND event_id IN (
			SELECT event_id FROM history_events WHERE namespace_id = $1 AND event_timestamp < $2 LIMIT $3)`),
			namespaceID, threshold, batchSize)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		affected, _ := res.RowsAffected()
		deleted = int(affected)
		return nil
	})
	return deleted, err
}

func encodeEventID(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

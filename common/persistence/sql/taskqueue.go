package sql

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pborman/uuid"

	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

type taskQueueRow struct {
	NamespaceID   string    `db:"namespace_id"`
	TaskQueueName string    `db:"task_queue_name"`
	TaskQueueType int32     `db:"task_queue_type"`
	TaskID        int64     `db:"task_id"`
	WorkflowID    string    `db:"workflow_id"`
	RunID         string    `db:"run_id"`
	ScheduledAt   time.Time `db:"scheduled_at"`
	ExpiryAt      *time.Time `db:"expiry_at"`
	TaskData      []byte    `db:"task_data"`
	PartitionHash int32     `db:"partition_hash"`
	CreatedAt     time.Time `db:"created_at"`
	// AttemptCount survives across leases for the same task (leases are
	// deleted on Complete/Fail), so it is the source of truth for how many
	// times this task has been delivered; not part of persistence.TaskQueueItem.
	AttemptCount  int32  `db:"attempt_count"`
	Paused        bool   `db:"paused"`
	PauseIdentity string `db:"pause_identity"`
	PauseReason   string `db:"pause_reason"`
}

func (r *taskQueueRow) toModel() *persistence.TaskQueueItem {
	return &persistence.TaskQueueItem{
		NamespaceID:   r.NamespaceID,
		TaskQueueName: r.TaskQueueName,
		TaskQueueType: persistence.TaskQueueType(r.TaskQueueType),
		TaskID:        r.TaskID,
		WorkflowID:    r.WorkflowID,
		RunID:         r.RunID,
		ScheduledAt:   r.ScheduledAt,
		ExpiryAt:      r.ExpiryAt,
		TaskData:      r.TaskData,
		PartitionHash: r.PartitionHash,
		Paused:        r.Paused,
		PauseIdentity: r.PauseIdentity,
		PauseReason:   r.PauseReason,
	}
}

type taskLeaseRow struct {
	LeaseID        string    `db:"lease_id"`
	NamespaceID    string    `db:"namespace_id"`
	TaskQueueName  string    `db:"task_queue_name"`
	TaskQueueType  int32     `db:"task_queue_type"`
	TaskID         int64     `db:"task_id"`
	WorkerIdentity string    `db:"worker_identity"`
	LeasedAt       time.Time `db:"leased_at"`
	LeaseExpiresAt time.Time `db:"lease_expires_at"`
	HeartbeatAt    time.Time `db:"heartbeat_at"`
	AttemptCount   int32     `db:"attempt_count"`
}

func (r *taskLeaseRow) toModel() *persistence.TaskLease {
	return &persistence.TaskLease{
		LeaseID:        r.LeaseID,
		NamespaceID:    r.NamespaceID,
		TaskQueueName:  r.TaskQueueName,
		TaskQueueType:  persistence.TaskQueueType(r.TaskQueueType),
		TaskID:         r.TaskID,
		WorkerIdentity: r.WorkerIdentity,
		LeasedAt:       r.LeasedAt,
		LeaseExpiresAt: r.LeaseExpiresAt,
		HeartbeatAt:    r.HeartbeatAt,
		AttemptCount:   r.AttemptCount,
	}
}

type taskQueueRepository struct {
	sqlStore
}

const insertTaskSQL = `
INSERT INTO task_queues (namespace_id, task_queue_name, task_queue_type, task_id, workflow_id, run_id, scheduled_at, expiry_at, task_data, partition_hash, created_at, attempt_count, paused, pause_identity, pause_reason)
VALUES (:namespace_id, :task_queue_name, :task_queue_type, :task_id, :workflow_id, :run_id, :scheduled_at, :expiry_at, :task_data, :partition_hash, :created_at, 0, false, '', '')`

func (r *taskQueueRepository) Enqueue(ctx context.Context, item *persistence.TaskQueueItem) error {
	return r.txExecute(ctx, "EnqueueTask", func(tx *sqlx.Tx) error {
		var count int
		err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM task_queues WHERE namespace_id = $1 AND task_queue_name = $2 AND task_queue_type = $3 AND task_id = $4`),
			item.NamespaceID, item.TaskQueueName, int32(item.TaskQueueType), item.TaskID)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		if count > 0 {
			return &serviceerror.AlreadyExists{Message: "task already enqueued"}
		}
		row := &taskQueueRow{
			NamespaceID:   item.NamespaceID,
			TaskQueueName: item.TaskQueueName,
			TaskQueueType: int32(item.TaskQueueType),
			TaskID:        item.TaskID,
			WorkflowID:    item.WorkflowID,
			RunID:         item.RunID,
			ScheduledAt:   item.ScheduledAt,
			ExpiryAt:      item.ExpiryAt,
			TaskData:      item.TaskData,
			PartitionHash: item.PartitionHash,
			CreatedAt:     time.Now().UTC(),
		}
		if _, err := tx.NamedExecContext(ctx, insertTaskSQL, row); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

// selectReadyTaskSQL picks the earliest-scheduled, ready, unleased task,
// ties broken by task_id ascending, using SKIP LOCKED so concurrently-polling
// workers never block on each other.
const selectReadyTaskSQL = `
SELECT t.namespace_id, t.task_queue_name, t.task_queue_type, t.task_id, t.workflow_id, t.run_id, t.scheduled_at, t.expiry_at, t.task_data, t.partition_hash, t.created_at, t.attempt_count, t.paused, t.pause_identity, t.pause_reason
FROM task_queues t
LEFT JOIN task_queue_leases l
	ON l.namespace_id = t.namespace_id AND l.task_queue_name = t.task_queue_name
	AND l.task_queue_type = t.task_queue_type AND l.task_id = t.task_id AND l.lease_expires_at > $4
WHERE t.namespace_id = $1 AND t.task_queue_name = $2 AND t.task_queue_type = $3
  AND t.scheduled_at <= $4 AND (t.expiry_at IS NULL OR t.expiry_at > $4)
  AND t.paused = false
  AND l.lease_id IS NULL
ORDER BY t.scheduled_at ASC, t.task_id ASC
LIMIT 1
FOR UPDATE OF t SKIP LOCKED`

const insertLeaseSQL = `
INSERT INTO task_queue_leases (lease_id, namespace_id, task_queue_name, task_queue_type, task_id, worker_identity, leased_at, lease_expires_at, heartbeat_at, attempt_count)
VALUES (:lease_id, :namespace_id, :task_queue_name, :task_queue_type, :task_id, :worker_identity, :leased_at, :lease_expires_at, :heartbeat_at, :attempt_count)`

func (r *taskQueueRepository) Poll(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType, worker string, leaseDuration time.Duration) (*persistence.TaskQueueItem, *persistence.TaskLease, error) {
	var task *persistence.TaskQueueItem
	var lease *persistence.TaskLease
	err := r.txExecute(ctx, "PollTask", func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		var row taskQueueRow
		err := tx.GetContext(ctx, &row, tx.Rebind(selectReadyTaskSQL), namespaceID, queueName, int32(queueType), now)
		if err != nil {
			if isNoRows(err) {
				return &serviceerror.NotFound{Message: "no ready task"}
			}
			return &serviceerror.PersistenceError{Cause: err}
		}
		leaseRow := &taskLeaseRow{
			LeaseID:        uuid.New(),
			NamespaceID:    namespaceID,
			TaskQueueName:  queueName,
			TaskQueueType:  int32(queueType),
			TaskID:         row.TaskID,
			WorkerIdentity: worker,
			LeasedAt:       now,
			LeaseExpiresAt: now.Add(leaseDuration),
			HeartbeatAt:    now,
			AttemptCount:   row.AttemptCount + 1,
		}
		if _, err := tx.NamedExecContext(ctx, insertLeaseSQL, leaseRow); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		task = row.toModel()
		lease = leaseRow.toModel()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return task, lease, nil
}

const selectLeaseForUpdateSQL = `SELECT lease_id, namespace_id, task_queue_name, task_queue_type, task_id, worker_identity, leased_at, lease_expires_at, heartbeat_at, attempt_count FROM task_queue_leases WHERE lease_id = $1 FOR UPDATE`

func (r *taskQueueRepository) Heartbeat(ctx context.Context, leaseID string, extension time.Duration) (*persistence.TaskLease, error) {
	var result *persistence.TaskLease
	err := r.txExecute(ctx, "HeartbeatTask", func(tx *sqlx.Tx) error {
		var row taskLeaseRow
		if err := tx.GetContext(ctx, &row, tx.Rebind(selectLeaseForUpdateSQL), leaseID); err != nil {
			if isNoRows(err) {
				return &serviceerror.TaskLeaseExpired{LeaseID: leaseID}
			}
			return &serviceerror.PersistenceError{Cause: err}
		}
		now := time.Now().UTC()
		if !row.LeaseExpiresAt.After(now) {
			return &serviceerror.TaskLeaseExpired{LeaseID: leaseID}
		}
		expires := now.Add(extension)
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE task_queue_leases SET lease_expires_at = $1, heartbeat_at = $2 WHERE lease_id = $3`), expires, now, leaseID); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		row.LeaseExpiresAt = expires
		row.HeartbeatAt = now
		result = row.toModel()
		return nil
	})
	return result, err
}

func (r *taskQueueRepository) Complete(ctx context.Context, leaseID string) error {
	return r.txExecute(ctx, "CompleteTask", func(tx *sqlx.Tx) error {
		var row taskLeaseRow
		if err := tx.GetContext(ctx, &row, tx.Rebind(selectLeaseForUpdateSQL), leaseID); err != nil {
			if isNoRows(err) {
				return &serviceerror.TaskLeaseExpired{LeaseID: leaseID}
			}
			return &serviceerror.PersistenceError{Cause: err}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_queue_leases WHERE lease_id = $1`), leaseID); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_queues WHERE namespace_id = $1 AND task_queue_name = $2 AND task_queue_type = $3 AND task_id = $4`),
			row.NamespaceID, row.TaskQueueName, row.TaskQueueType, row.TaskID); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

func (r *taskQueueRepository) Fail(ctx context.Context, leaseID string, reason string, requeue bool, backoff time.Duration) error {
	return r.txExecute(ctx, "FailTask", func(tx *sqlx.Tx) error {
		var row taskLeaseRow
		if err := tx.GetContext(ctx, &row, tx.Rebind(selectLeaseForUpdateSQL), leaseID); err != nil {
			if isNoRows(err) {
				return &serviceerror.TaskLeaseExpired{LeaseID: leaseID}
			}
			return &serviceerror.PersistenceError{Cause: err}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_queue_leases WHERE lease_id = $1`), leaseID); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		if !requeue {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_queues WHERE namespace_id = $1 AND task_queue_name = $2 AND task_queue_type = $3 AND task_id = $4`),
				row.NamespaceID, row.TaskQueueName, row.TaskQueueType, row.TaskID); err != nil {
				return &serviceerror.PersistenceError{Cause: err}
			}
			return nil
		}
		newScheduledAt := time.Now().UTC().Add(backoff)
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE task_queues SET scheduled_at = $1, attempt_count = attempt_count + 1 WHERE namespace_id = $2 AND task_queue_name = $3 AND task_queue_type = $4 AND task_id = $5`),
			newScheduledAt, row.NamespaceID, row.TaskQueueName, row.TaskQueueType, row.TaskID); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

func (r *taskQueueRepository) Pause(ctx context.Context, namespaceID, workflowID, runID string, queueType persistence.TaskQueueType, identity, reason string) error {
	return r.txExecute(ctx, "PauseTask", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE task_queues SET paused = true, pause_identity = $1, pause_reason = $2
			WHERE namespace_id = $3 AND workflow_id = $4 AND run_id = $5 AND task_queue_type = $6`),
			identity, reason, namespaceID, workflowID, runID, int32(queueType))
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return &serviceerror.NotFound{Message: "no pending task for execution " + workflowID + "/" + runID}
		}
		return nil
	})
}

func (r *taskQueueRepository) Unpause(ctx context.Context, namespaceID, workflowID, runID string, queueType persistence.TaskQueueType, resetAttempts bool) error {
	return r.txExecute(ctx, "UnpauseTask", func(tx *sqlx.Tx) error {
		query := `UPDATE task_queues SET paused = false, pause_identity = '', pause_reason = ''`
		if resetAttempts {
			query += `, attempt_count = 0`
		}
		query += ` WHERE namespace_id = $1 AND workflow_id = $2 AND run_id = $3 AND task_queue_type = $4`
		res, err := tx.ExecContext(ctx, tx.Rebind(query), namespaceID, workflowID, runID, int32(queueType))
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return &serviceerror.NotFound{Message: "no pending task for execution " + workflowID + "/" + runID}
		}
		return nil
	})
}

func (r *taskQueueRepository) Depth(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM task_queues WHERE namespace_id = $1 AND task_queue_name = $2 AND task_queue_type = $3`),
		namespaceID, queueName, int32(queueType))
	if err != nil {
		return 0, &serviceerror.PersistenceError{Cause: err}
	}
	return count, nil
}

func (r *taskQueueRepository) DepthByPartition(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType) (map[int32]int64, error) {
	type partitionCount struct {
		PartitionHash int32 `db:"partition_hash"`
		Count         int64 `db:"count"`
	}
	var rows []partitionCount
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT partition_hash, COUNT(*) as count FROM task_queues WHERE namespace_id = $1 AND task_queue_name = $2 AND task_queue_type = $3 GROUP BY partition_hash`),
		namespaceID, queueName, int32(queueType))
	if err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	result := make(map[int32]int64, len(rows))
	for _, row := range rows {
		result[row.PartitionHash] = row.Count
	}
	return result, nil
}

func (r *taskQueueRepository) ListQueues(ctx context.Context, namespaceID string) (map[string]int64, error) {
	type queueCount struct {
		TaskQueueName string `db:"task_queue_name"`
		Count         int64  `db:"count"`
	}
	var rows []queueCount
	query := `SELECT task_queue_name, COUNT(*) as count FROM task_queues WHERE ($1 = '' OR namespace_id = $1) GROUP BY task_queue_name`
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), namespaceID); err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.TaskQueueName] = row.Count
	}
	return result, nil
}

func (r *taskQueueRepository) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	var n int
	err := r.txExecute(ctx, "ReclaimExpiredTaskLeases", func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		// Count the expired delivery so the next poll reports the redelivery.
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE task_queues t SET attempt_count = t.attempt_count + 1 FROM task_queue_leases l
WHERE l.namespace_id = t.namespace_id AND l.task_queue_name = t.task_queue_name AND l.task_queue_type = t.task_queue_type AND l.task_id = t.task_id AND l.lease_expires_at < $1`), now); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_queue_leases WHERE lease_expires_at < $1`), now)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		affected, _ := res.RowsAffected()
		n = int(affected)
		return nil
	})
	return n, err
}

func (r *taskQueueRepository) PurgeOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	var n int
	err := r.txExecute(ctx, "PurgeOldTasks", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_queues WHERE created_at < $1`), threshold)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		affected, _ := res.RowsAffected()
		n = int(affected)
		return nil
	})
	return n, err
}

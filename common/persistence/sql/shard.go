package sql

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orchestrator/workflow-core/common/hashring"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

type shardRow struct {
	ShardID        int32      `db:"shard_id"`
	OwnerIdentity  *string    `db:"owner_identity"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at"`
	AcquiredAt     *time.Time `db:"acquired_at"`
	LastHeartbeat  *time.Time `db:"last_heartbeat"`
	RangeStart     int64      `db:"range_start"`
	RangeEnd       int64      `db:"range_end"`
}

func (r *shardRow) toModel() *persistence.Shard {
	return &persistence.Shard{
		ShardID:        r.ShardID,
		OwnerIdentity:  r.OwnerIdentity,
		LeaseExpiresAt: r.LeaseExpiresAt,
		AcquiredAt:     r.AcquiredAt,
		LastHeartbeat:  r.LastHeartbeat,
		HashRangeStart: uint64(r.RangeStart),
		HashRangeEnd:   uint64(r.RangeEnd),
	}
}

type shardRepository struct {
	sqlStore
}

const initShardsUpsertSQL = `
INSERT INTO history_shards (shard_id, range_start, range_end)
VALUES (:shard_id, :range_start, :range_end)
ON CONFLICT (shard_id) DO NOTHING`

func (r *shardRepository) InitializeShards(ctx context.Context, shardCount int32) error {
	return r.txExecute(ctx, "InitializeShards", func(tx *sqlx.Tx) error {
		for _, id := range hashring.ShardIDsForRange(shardCount) {
			start, end := hashring.HashRange(id, shardCount)
			row := shardRow{ShardID: id, RangeStart: int64(start), RangeEnd: int64(end)}
			if _, err := tx.NamedExecContext(ctx, initShardsUpsertSQL, row); err != nil {
				return &serviceerror.PersistenceError{Cause: err}
			}
		}
		return nil
	})
}

const selectShardForUpdateSQL = `SELECT shard_id, owner_identity, lease_expires_at, acquired_at, last_heartbeat, range_start, range_end FROM history_shards WHERE shard_id = $1 FOR UPDATE`

// AcquireLease succeeds only if the row is unowned or its lease has expired.
func (r *shardRepository) AcquireLease(ctx context.Context, shardID int32, owner string, duration time.Duration) (*persistence.Shard, error) {
	var result *persistence.Shard
	err := r.txExecute(ctx, "AcquireShardLease", func(tx *sqlx.Tx) error {
		var row shardRow
		if err := tx.GetContext(ctx, &row, tx.Rebind(selectShardForUpdateSQL), shardID); err != nil {
			if isNoRows(err) {
				return &serviceerror.NotFound{Message: "shard not initialized"}
			}
			return &serviceerror.PersistenceError{Cause: err}
		}
		now := time.Now().UTC()
		if row.OwnerIdentity != nil && row.LeaseExpiresAt != nil && row.LeaseExpiresAt.After(now) {
			return &serviceerror.ShardUnavailable{ShardID: shardID, Message: "lease held by " + *row.OwnerIdentity}
		}
		expires := now.Add(duration)
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE history_shards SET owner_identity = $1, lease_expires_at = $2, acquired_at = $3, last_heartbeat = $3 WHERE shard_id = $4`),
			owner, expires, now, shardID); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		row.OwnerIdentity = &owner
		row.LeaseExpiresAt = &expires
		row.AcquiredAt = &now
		row.LastHeartbeat = &now
		result = row.toModel()
		return nil
	})
	return result, err
}

// RenewLease succeeds only if the caller is the current, non-expired owner.
func (r *shardRepository) RenewLease(ctx context.Context, shardID int32, owner string, duration time.Duration) (*persistence.Shard, error) {
	var result *persistence.Shard
	err := r.txExecute(ctx, "RenewShardLease", func(tx *sqlx.Tx) error {
		var row shardRow
		if err := tx.GetContext(ctx, &row, tx.Rebind(selectShardForUpdateSQL), shardID); err != nil {
			if isNoRows(err) {
				return &serviceerror.NotFound{Message: "shard not initialized"}
			}
			return &serviceerror.PersistenceError{Cause: err}
		}
		now := time.Now().UTC()
		if row.OwnerIdentity == nil || *row.OwnerIdentity != owner || row.LeaseExpiresAt == nil || !row.LeaseExpiresAt.After(now) {
			return &serviceerror.ShardUnavailable{ShardID: shardID, Message: "caller is not the current owner"}
		}
		expires := now.Add(duration)
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE history_shards SET lease_expires_at = $1, last_heartbeat = $2 WHERE shard_id = $3`),
			expires, now, shardID); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		row.LeaseExpiresAt = &expires
		row.LastHeartbeat = &now
		result = row.toModel()
		return nil
	})
	return result, err
}

// ReleaseLease succeeds only if the caller owns the shard.
func (r *shardRepository) ReleaseLease(ctx context.Context, shardID int32, owner string) error {
	return r.txExecute(ctx, "ReleaseShardLease", func(tx *sqlx.Tx) error {
		var row shardRow
		if err := tx.GetContext(ctx, &row, tx.Rebind(selectShardForUpdateSQL), shardID); err != nil {
			if isNoRows(err) {
				return &serviceerror.NotFound{Message: "shard not initialized"}
			}
			return &serviceerror.PersistenceError{Cause: err}
		}
		if row.OwnerIdentity == nil || *row.OwnerIdentity != owner {
			return &serviceerror.ShardUnavailable{ShardID: shardID, Message: "caller does not own shard"}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE history_shards SET owner_identity = NULL, lease_expires_at = NULL, acquired_at = NULL WHERE shard_id = $1`), shardID); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

const getShardSQL = `SELECT shard_id, owner_identity, lease_expires_at, acquired_at, last_heartbeat, range_start, range_end FROM history_shards WHERE shard_id = $1`

func (r *shardRepository) GetLease(ctx context.Context, shardID int32) (*persistence.Shard, error) {
	var row shardRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(getShardSQL), shardID); err != nil {
		if isNoRows(err) {
			return nil, &serviceerror.NotFound{Message: "shard not initialized"}
		}
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	return row.toModel(), nil
}

const listOwnedSQL = `SELECT shard_id, owner_identity, lease_expires_at, acquired_at, last_heartbeat, range_start, range_end FROM history_shards WHERE owner_identity = $1 AND lease_expires_at > $2`

func (r *shardRepository) ListOwned(ctx context.Context, owner string) ([]*persistence.Shard, error) {
	var rows []shardRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(listOwnedSQL), owner, time.Now().UTC()); err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	return toShardModels(rows), nil
}

const listAllShardsSQL = `SELECT shard_id, owner_identity, lease_expires_at, acquired_at, last_heartbeat, range_start, range_end FROM history_shards ORDER BY shard_id ASC`

func (r *shardRepository) ListAll(ctx context.Context) ([]*persistence.Shard, error) {
	var rows []shardRow
	if err := r.db.SelectContext(ctx, &rows, listAllShardsSQL); err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	return toShardModels(rows), nil
}

// ReclaimExpired clears ownership on every shard whose lease has expired,
// purely for observability; it does not grant ownership to the caller, so
// stuck projections in shard-state dashboards get cleared promptly.
func (r *shardRepository) ReclaimExpired(ctx context.Context) (int, error) {
	var n int
	err := r.txExecute(ctx, "ReclaimExpiredShardLeases", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE history_shards SET owner_identity = NULL, lease_expires_at = NULL, acquired_at = NULL WHERE lease_expires_at IS NOT NULL AND lease_expires_at < $1`), time.Now().UTC())
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		affected, _ := res.RowsAffected()
		n = int(affected)
		return nil
	})
	return n, err
}

func toShardModels(rows []shardRow) []*persistence.Shard {
	out := make([]*persistence.Shard, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out
}

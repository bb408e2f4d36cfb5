// Package sql implements common/persistence's repository contracts against a
// relational store (PostgreSQL) using sqlx, following the embedded-sqlStore
// + txExecute convention used throughout the Cadence/Temporal SQL plugin
// lineage.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/log/tag"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

// sqlStore is embedded by every per-entity repository; it owns the shared
// *sqlx.DB handle and the transaction-closure helper every repository
// method funnels through.
type sqlStore struct {
	db     *sqlx.DB
	logger log.Logger
}

// txExecute runs fn inside a single transaction, recovering any panic into
// a PersistenceError and rolling back on any error return, so callers never
// observe a partially-applied batch.
func (s *sqlStore) txExecute(ctx context.Context, opName string, fn func(tx *sqlx.Tx) error) (err error) {
	defer serviceerror.Recover(&err)

	tx, beginErr := s.db.BeginTxx(ctx, nil)
	if beginErr != nil {
		return &serviceerror.PersistenceError{Cause: fmt.Errorf("%s: begin tx: %w", opName, beginErr)}
	}

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", tag.Error(rbErr), tag.Value("op", opName))
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return &serviceerror.PersistenceError{Cause: fmt.Errorf("%s: commit: %w", opName, err)}
	}
	return nil
}

// Store composes every per-entity repository behind persistence.Store.
type Store struct {
	db         *sqlx.DB
	logger     log.Logger
	namespaces *namespaceRepository
	shards     *shardRepository
	executions *executionRepository
	history    *historyRepository
	taskQueues *taskQueueRepository
	visibility *visibilityRepository
}

var _ persistence.Store = (*Store)(nil)

// NewStore opens a connection to connString via the pgx stdlib driver and
// wires every repository on top of it.
func NewStore(connString string, logger log.Logger) (*Store, error) {
	db, err := sqlx.Connect("pgx", connString)
	if err != nil {
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	db.SetMaxOpenConns(32)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	base := sqlStore{db: db, logger: logger.With(tag.ComponentName("sql-store"))}
	return &Store{
		db:         db,
		logger:     logger,
		namespaces: &namespaceRepository{sqlStore: base},
		shards:     &shardRepository{sqlStore: base},
		executions: &executionRepository{sqlStore: base},
		history:    &historyRepository{sqlStore: base},
		taskQueues: &taskQueueRepository{sqlStore: base},
		visibility: &visibilityRepository{sqlStore: base},
	}, nil
}

func (s *Store) Namespaces() persistence.NamespaceRepository { return s.namespaces }
func (s *Store) Shards() persistence.ShardRepository         { return s.shards }
func (s *Store) Executions() persistence.ExecutionRepository { return s.executions }
func (s *Store) History() persistence.HistoryRepository      { return s.history }
func (s *Store) TaskQueues() persistence.TaskQueueRepository { return s.taskQueues }
func (s *Store) Visibility() persistence.VisibilityRepository { return s.visibility }

func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &serviceerror.PersistenceError{Cause: err}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// isNoRows is a small helper so every repository method treats
// sql.ErrNoRows uniformly.
func isNoRows(err error) bool { return err == sql.ErrNoRows }

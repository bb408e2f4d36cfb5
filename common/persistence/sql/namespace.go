package sql

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

type namespaceRow struct {
	NamespaceID               string    `db:"namespace_id"`
	NamespaceName             string    `db:"namespace_name"`
	Description               string    `db:"description"`
	OwnerID                   string    `db:"owner_id"`
	RetentionDays             int32     `db:"retention_days"`
	HistoryArchivalEnabled    bool      `db:"history_archival_enabled"`
	VisibilityArchivalEnabled bool      `db:"visibility_archival_enabled"`
	Status                    int32     `db:"status"`
	CreatedAt                 time.Time `db:"created_at"`
	UpdatedAt                 time.Time `db:"updated_at"`
}

func (r *namespaceRow) toModel() *persistence.Namespace {
	return &persistence.Namespace{
		NamespaceID:               r.NamespaceID,
		Name:                      r.NamespaceName,
		Description:               r.Description,
		OwnerID:                   r.OwnerID,
		RetentionDays:             r.RetentionDays,
		HistoryArchivalEnabled:    r.HistoryArchivalEnabled,
		VisibilityArchivalEnabled: r.VisibilityArchivalEnabled,
		Status:                    persistence.NamespaceStatus(r.Status),
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
}

func namespaceRowFromModel(ns *persistence.Namespace) *namespaceRow {
	return &namespaceRow{
		NamespaceID:               ns.NamespaceID,
		NamespaceName:             ns.Name,
		Description:               ns.Description,
		OwnerID:                   ns.OwnerID,
		RetentionDays:             ns.RetentionDays,
		HistoryArchivalEnabled:    ns.HistoryArchivalEnabled,
		VisibilityArchivalEnabled: ns.VisibilityArchivalEnabled,
		Status:                    int32(ns.Status),
		CreatedAt:                 ns.CreatedAt,
		UpdatedAt:                 ns.UpdatedAt,
	}
}

type namespaceRepository struct {
	sqlStore
}

const createNamespaceSQL = `
INSERT INTO namespaces
	(namespace_id, namespace_name, description, owner_id, retention_days,
	 history_archival_enabled, visibility_archival_enabled, status, created_at, updated_at)
VALUES
	(:namespace_id, :namespace_name, :description, :owner_id, :retention_days,
	 :history_archival_enabled, :visibility_archival_enabled, :status, :created_at, :updated_at)`

func (r *namespaceRepository) Create(ctx context.Context, ns *persistence.Namespace) error {
	return r.txExecute(ctx, "CreateNamespace", func(tx *sqlx.Tx) error {
		exists, err := namespaceExistsTx(ctx, tx, ns.Name)
		if err != nil {
			return err
		}
		if exists {
			return &serviceerror.AlreadyExists{Message: "namespace " + ns.Name + " already exists"}
		}
		row := namespaceRowFromModel(ns)
		if _, err := tx.NamedExecContext(ctx, createNamespaceSQL, row); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

const getNamespaceByNameSQL = `
SELECT namespace_id, namespace_name, description, owner_id, retention_days,
       history_archival_enabled, visibility_archival_enabled, status, created_at, updated_at
FROM namespaces WHERE namespace_name = $1 AND status <> 2`

func (r *namespaceRepository) GetByName(ctx context.Context, name string) (*persistence.Namespace, error) {
	var row namespaceRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(getNamespaceByNameSQL), name); err != nil {
		if isNoRows(err) {
			return nil, &serviceerror.NotFound{Message: "namespace " + name + " not found"}
		}
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	return row.toModel(), nil
}

const getNamespaceByIDSQL = `
SELECT namespace_id, namespace_name, description, owner_id, retention_days,
       history_archival_enabled, visibility_archival_enabled, status, created_at, updated_at
FROM namespaces WHERE namespace_id = $1`

func (r *namespaceRepository) GetByID(ctx context.Context, id string) (*persistence.Namespace, error) {
	var row namespaceRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(getNamespaceByIDSQL), id); err != nil {
		if isNoRows(err) {
			return nil, &serviceerror.NotFound{Message: "namespace id " + id + " not found"}
		}
		return nil, &serviceerror.PersistenceError{Cause: err}
	}
	return row.toModel(), nil
}

const updateNamespaceSQL = `
UPDATE namespaces SET
	description = :description,
	owner_id = :owner_id,
	retention_days = :retention_days,
	history_archival_enabled = :history_archival_enabled,
	visibility_archival_enabled = :visibility_archival_enabled,
	status = :status,
	updated_at = :updated_at
WHERE namespace_id = :namespace_id`

func (r *namespaceRepository) Update(ctx context.Context, ns *persistence.Namespace) error {
	return r.txExecute(ctx, "UpdateNamespace", func(tx *sqlx.Tx) error {
		row := namespaceRowFromModel(ns)
		res, err := tx.NamedExecContext(ctx, updateNamespaceSQL, row)
		if err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return &serviceerror.NotFound{Message: "namespace id " + ns.NamespaceID + " not found"}
		}
		return nil
	})
}

const listNamespacesSQL = `
SELECT namespace_id, namespace_name, description, owner_id, retention_days,
       history_archival_enabled, visibility_archival_enabled, status, created_at, updated_at
FROM namespaces WHERE status <> 2 AND namespace_id > $1 ORDER BY namespace_id ASC LIMIT $2`

func (r *namespaceRepository) List(ctx context.Context, pageSize int, token persistence.PageToken) ([]*persistence.Namespace, persistence.PageToken, error) {
	after := string(token)
	var rows []namespaceRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(listNamespacesSQL), after, pageSize); err != nil {
		return nil, nil, &serviceerror.PersistenceError{Cause: err}
	}
	result := make([]*persistence.Namespace, len(rows))
	for i := range rows {
		result[i] = rows[i].toModel()
	}
	var next persistence.PageToken
	if len(rows) == pageSize {
		next = persistence.PageToken(rows[len(rows)-1].NamespaceID)
	}
	return result, next, nil
}

func namespaceExistsTx(ctx context.Context, tx *sqlx.Tx, name string) (bool, error) {
	var count int
	err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM namespaces WHERE namespace_name = $1 AND status <> 2`), name)
	if err != nil && err != sql.ErrNoRows {
		return false, &serviceerror.PersistenceError{Cause: err}
	}
	return count > 0, nil
}

func (r *namespaceRepository) Exists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM namespaces WHERE namespace_name = $1 AND status <> 2`), name); err != nil {
		return false, &serviceerror.PersistenceError{Cause: err}
	}
	return count > 0, nil
}

const archiveNamespaceSQL = `UPDATE namespaces SET status = 2, updated_at = $1 WHERE namespace_name = $2 AND status <> 2`

// Archive is an idempotent soft-delete: applying it to an already-deleted
// namespace affects zero rows and returns no error (spec Property 8).
func (r *namespaceRepository) Archive(ctx context.Context, name string) error {
	return r.txExecute(ctx, "ArchiveNamespace", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(archiveNamespaceSQL), time.Now().UTC(), name); err != nil {
			return &serviceerror.PersistenceError{Cause: err}
		}
		return nil
	})
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/vwriter/ventoy-writer/pkg/errors"
)

// Repository stores operation history.
type Repository struct {
	db *sql.DB
}

// NewRepository opens dbPath and creates the schema.
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateOperation inserts op and sets its ID.
func (r *Repository) CreateOperation(ctx context.Context, op *Operation) error {
	slog.Debug("database_create_operation", "run_id", op.RunID, "kind", op.Kind, "device", op.Device)

	if op.Status == "" {
		op.Status = StatusRunning
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO operations (run_id, kind, device, status, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.RunID, op.Kind, op.Device, op.Status, op.ErrorKind, op.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "run_id", op.RunID, "error", err)
		return errors.Wrap(err, "failed to insert operation")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	op.ID = id
	return nil
}

// FinishOperation sets the terminal status of an operation.
func (r *Repository) FinishOperation(ctx context.Context, id int64, status, errorKind, errorMessage string) error {
	slog.Debug("database_finish_operation", "operation_id", id, "status", status)

	result, err := r.db.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, error_kind = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		status, errorKind, errorMessage, id)
	if err != nil {
		slog.Error("database_update_failed", "operation_id", id, "error", err)
		return errors.Wrap(err, "failed to update operation")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("operation not found: id=%d", id)
	}
	return nil
}

// RecordCopies stores the per-image outcomes of a write in one transaction.
func (r *Repository) RecordCopies(ctx context.Context, operationID int64, copies []ImageCopy) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for i := range copies {
		c := &copies[i]
		c.OperationID = operationID
		res, err := tx.ExecContext(ctx, `
			INSERT INTO image_copies (operation_id, position, image_path, status, bytes, sha256, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			operationID, c.Position, c.ImagePath, c.Status, c.Bytes, c.SHA256, c.ErrorMessage)
		if err != nil {
			slog.Error("database_insert_copy_failed", "operation_id", operationID, "image", c.ImagePath, "error", err)
			return errors.Wrap(err, "failed to insert image copy")
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return errors.Wrap(err, "failed to get last insert id")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	slog.Debug("database_copies_recorded", "operation_id", operationID, "count", len(copies))
	return nil
}

const operationColumns = `id, run_id, kind, device, status, error_kind, error_message, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(s scanner) (*Operation, error) {
	var op Operation
	var errorKind, errorMessage sql.NullString
	if err := s.Scan(&op.ID, &op.RunID, &op.Kind, &op.Device, &op.Status,
		&errorKind, &errorMessage, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return nil, err
	}
	op.ErrorKind = errorKind.String
	op.ErrorMessage = errorMessage.String
	return &op, nil
}

// GetByRunID returns the operation for runID, or nil when there is none.
func (r *Repository) GetByRunID(ctx context.Context, runID string) (*Operation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE run_id = ?`, runID)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", runID, "error", err)
		return nil, errors.Wrap(err, "failed to query operation")
	}
	return op, nil
}

// List returns the most recent operations first. limit <= 0 returns all.
func (r *Repository) List(ctx context.Context, limit int) ([]*Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list operations")
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return ops, nil
}

// Copies returns the image outcomes of an operation in selection order.
func (r *Repository) Copies(ctx context.Context, operationID int64) ([]ImageCopy, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, operation_id, position, image_path, status, bytes, sha256, error_message
		FROM image_copies WHERE operation_id = ? ORDER BY position`, operationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list image copies")
	}
	defer rows.Close()

	var copies []ImageCopy
	for rows.Next() {
		var c ImageCopy
		var sum, msg sql.NullString
		if err := rows.Scan(&c.ID, &c.OperationID, &c.Position, &c.ImagePath, &c.Status, &c.Bytes, &sum, &msg); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		c.SHA256 = sum.String
		c.ErrorMessage = msg.String
		copies = append(copies, c)
	}
	return copies, rows.Err()
}

// FailInterrupted marks operations still running as failed. It runs at
// startup and from cleanup to close out runs a crash left open.
func (r *Repository) FailInterrupted(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, error_message = 'interrupted', updated_at = CURRENT_TIMESTAMP
		WHERE status = ?`, StatusFailed, StatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to close interrupted operations")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	if n > 0 {
		slog.Warn("database_interrupted_operations", "count", n)
	}
	return n, nil
}

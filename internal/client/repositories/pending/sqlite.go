package pending

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/dmitrijs2005/synckit/internal/dbx"
	"github.com/goccy/go-json"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `SELECT request_id, created_at, collection, entity_id, method, url, headers, body FROM pending_operations`

func (r *SQLiteRepository) Add(ctx context.Context, op models.PendingOperation) error {
	headers, err := json.Marshal(op.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pending_operations (request_id, created_at, collection, entity_id, method, url, headers, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, op.RequestID, op.CreatedAt.UnixNano(), op.Collection, nullable(op.EntityID), op.Method, op.URL, string(headers), op.Body)
	if err != nil {
		return fmt.Errorf("failed to insert pending operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, op models.PendingOperation) error {
	headers, err := json.Marshal(op.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_operations SET method = ?, url = ?, headers = ?, body = ? WHERE request_id = ?
	`, op.Method, op.URL, string(headers), op.Body, op.RequestID)
	if err != nil {
		return fmt.Errorf("failed to update pending operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, collection string) ([]models.PendingOperation, error) {
	if collection == "" {
		return r.list(ctx, selectColumns+` ORDER BY seq`)
	}
	return r.list(ctx, selectColumns+` WHERE collection = ? ORDER BY seq`, collection)
}

func (r *SQLiteRepository) ListByEntity(ctx context.Context, collection, entityID string) ([]models.PendingOperation, error) {
	return r.list(ctx, selectColumns+` WHERE collection = ? AND entity_id = ? ORDER BY seq`, collection, entityID)
}

func (r *SQLiteRepository) list(ctx context.Context, stmt string, args ...any) ([]models.PendingOperation, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending operations: %w", err)
	}
	defer rows.Close()

	var result []models.PendingOperation
	for rows.Next() {
		var (
			op       models.PendingOperation
			created  int64
			entityID sql.NullString
			headers  string
		)
		if err := rows.Scan(&op.RequestID, &created, &op.Collection, &entityID, &op.Method, &op.URL, &headers, &op.Body); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		op.CreatedAt = time.Unix(0, created)
		op.EntityID = entityID.String
		if headers != "" {
			if err := json.Unmarshal([]byte(headers), &op.Headers); err != nil {
				return nil, fmt.Errorf("failed to decode headers of %s: %w", op.RequestID, err)
			}
		}
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, requestID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE request_id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("failed to delete pending operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByEntity(ctx context.Context, collection, entityID string) (int, error) {
	return r.exec(ctx, `DELETE FROM pending_operations WHERE collection = ? AND entity_id = ?`, collection, entityID)
}

func (r *SQLiteRepository) DeleteByCollection(ctx context.Context, collection string) (int, error) {
	return r.exec(ctx, `DELETE FROM pending_operations WHERE collection = ?`, collection)
}

func (r *SQLiteRepository) exec(ctx context.Context, stmt string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) Count(ctx context.Context, collection string) (int, error) {
	var n int
	var err error
	if collection == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations WHERE collection = ?`, collection).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ReplaceEntityID(ctx context.Context, collection, oldID, newID string) error {
	ops, err := r.ListByEntity(ctx, collection, oldID)
	if err != nil {
		return err
	}
	for _, op := range ops {
		_, err := r.db.ExecContext(ctx, `
			UPDATE pending_operations SET entity_id = ?, url = ? WHERE request_id = ?
		`, newID, strings.ReplaceAll(op.URL, oldID, newID), op.RequestID)
		if err != nil {
			return fmt.Errorf("failed to move pending operation: %w", err)
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package querycache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, collection, query, fields string) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{Collection: collection, Query: query, Fields: fields}
	err := r.db.QueryRowContext(ctx, `
		SELECT last_request FROM query_cache WHERE collection = ? AND query = ? AND fields = ?
	`, collection, query, fields).Scan(&cp.LastRequest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, cp models.Checkpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO query_cache (collection, query, fields, last_request) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, query, fields) DO UPDATE SET last_request = excluded.last_request
	`, cp.Collection, cp.Query, cp.Fields, cp.LastRequest)
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, collection, query, fields string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM query_cache WHERE collection = ? AND query = ? AND fields = ?
	`, collection, query, fields)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByCollection(ctx context.Context, collection string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM query_cache WHERE collection = ?`, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

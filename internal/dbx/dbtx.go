// Package dbx provides the small database abstractions shared by the store
// repositories: a DBTX interface implemented by both *sql.DB and *sql.Tx, a
// transaction helper, and a Serializer that gives one store a single write
// lane.
package dbx

import (
	"context"
	"database/sql"

	"golang.org/x/sync/semaphore"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// Serializer admits one writer at a time. Waiting honors ctx, so a cancelled
// caller never blocks behind a long transaction.
type Serializer struct {
	sem *semaphore.Weighted
}

func NewSerializer() *Serializer {
	return &Serializer{sem: semaphore.NewWeighted(1)}
}

// Do runs fn while holding the write lane.
func (s *Serializer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return fn(ctx)
}

// WithWriteTx is WithTx executed inside the serializer's write lane.
func WithWriteTx(ctx context.Context, db *sql.DB, s *Serializer, fn func(ctx context.Context, tx DBTX) error) error {
	return s.Do(ctx, func(ctx context.Context) error {
		return WithTx(ctx, db, nil, fn)
	})
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/client/migrations"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/pending"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/querycache"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/records"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/dmitrijs2005/synckit/internal/dbx"
	"github.com/dmitrijs2005/synckit/internal/filex"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const memoryPath = ":memory:"

// SQLite is a Store backed by one SQLite file. It keeps a single connection,
// so a running transaction hides its writes from every other caller.
type SQLite struct {
	db      *sql.DB
	writes  *dbx.Serializer
	schemas *query.Registry
	path    string
}

// Open opens (creating if needed) the store file, applies the schema
// migrations and reconciles the caller's schema version.
func Open(ctx context.Context, opts Options) (*SQLite, error) {
	path := opts.Path
	if path == "" {
		p, err := filex.StorePath(opts.Dir, opts.AppKey, opts.Tag)
		if err != nil {
			return nil, common.Wrap(common.KindClientNotInitialized, "resolve store path", err)
		}
		path = p
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != memoryPath {
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure store %s: %w", path, err)
		}
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, common.Wrap(common.KindMigrationFailed, "apply store migrations", err)
	}

	s := &SQLite{db: db, writes: dbx.NewSerializer(), schemas: opts.schemas(), path: path}
	if err := checkSchemaVersion(ctx, s, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	opts.logger().Debug(ctx, "store opened", "path", path)
	return s, nil
}

// Path is the file the store lives in.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Records() records.Repository {
	return records.NewSQLiteRepository(s.db, s.schemas)
}

func (s *SQLite) Pending() pending.Repository {
	return pending.NewSQLiteRepository(s.db)
}

func (s *SQLite) Checkpoints() querycache.Repository {
	return querycache.NewSQLiteRepository(s.db)
}

func (s *SQLite) Metadata() metadata.Repository {
	return metadata.NewSQLiteRepository(s.db)
}

func (s *SQLite) Schemas() *query.Registry { return s.schemas }

func (s *SQLite) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error {
	return dbx.WithWriteTx(ctx, s.db, s.writes, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, txRepos{tx: tx, schemas: s.schemas})
	})
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type txRepos struct {
	tx      dbx.DBTX
	schemas *query.Registry
}

func (t txRepos) Records() records.Repository {
	return records.NewSQLiteRepository(t.tx, t.schemas)
}

func (t txRepos) Pending() pending.Repository {
	return pending.NewSQLiteRepository(t.tx)
}

func (t txRepos) Checkpoints() querycache.Repository {
	return querycache.NewSQLiteRepository(t.tx)
}

func (t txRepos) Metadata() metadata.Repository {
	return metadata.NewSQLiteRepository(t.tx)
}

// Package store is the cache facade: one local database per app key holding
// cached records, the pending-operation log, sync checkpoints and metadata.
//
// SQLite is the production implementation; Memory is a drop-in double with
// the same transactional behaviour, used by tests and by callers that do not
// want anything on disk.
package store

import (
	"context"

	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/pending"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/querycache"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/records"
	"github.com/dmitrijs2005/synckit/internal/logging"
)

// Repos groups the repositories of one store.
type Repos interface {
	Records() records.Repository
	Pending() pending.Repository
	Checkpoints() querycache.Repository
	Metadata() metadata.Repository
}

// Store is a local cache. Writes made inside WithTx become visible together
// when fn returns nil and are discarded otherwise.
type Store interface {
	Repos
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
	Schemas() *query.Registry
	Close() error
}

// MigrationFunc upgrades cached data written under schema version from to
// version to. It runs inside one transaction before the store is returned.
type MigrationFunc func(ctx context.Context, tx Repos, from, to int) error

type Options struct {
	Dir    string
	AppKey string
	Tag    string
	// Path overrides Dir, AppKey and Tag. ":memory:" opens a private
	// in-memory database.
	Path string

	SchemaVersion int
	Migrate       MigrationFunc

	Schemas *query.Registry
	Logger  logging.Logger
}

func (o Options) logger() logging.Logger {
	if o.Logger == nil {
		return logging.Nop()
	}
	return o.Logger
}

func (o Options) schemas() *query.Registry {
	if o.Schemas == nil {
		return query.NewRegistry()
	}
	return o.Schemas
}

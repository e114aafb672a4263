// Package services is the offline-sync engine. A Service serves one
// collection: it reads from the cache or the backend, records local writes
// in the pending log, replays them on push, and keeps the cache consistent
// with the backend on pull.
package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/client/client"
	"github.com/dmitrijs2005/synckit/internal/client/config"
	"github.com/dmitrijs2005/synckit/internal/client/metrics"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/progress"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/records"
	"github.com/dmitrijs2005/synckit/internal/client/store"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/dmitrijs2005/synckit/internal/logging"
)

// Service defines the sync operations of one collection.
//
// Contract:
//   - *Local methods never touch the network; with no store attached they
//     return empty results.
//   - *Network methods never read the cache; they merge what they fetch.
//   - Pull refuses to run while the collection has pending operations.
//   - Sync pushes first and then pulls regardless of remaining failures.
//
// All methods must honor context cancellation.
type Service interface {
	Collection() string

	FindLocal(ctx context.Context, q *query.Query) ([]models.Entity, error)
	FindNetwork(ctx context.Context, q *query.Query, p *progress.Progress) ([]models.Entity, error)
	FindByIDLocal(ctx context.Context, id string) (*models.Entity, error)
	FindByIDNetwork(ctx context.Context, id string) (*models.Entity, error)
	CountLocal(ctx context.Context, q *query.Query) (int, error)
	CountNetwork(ctx context.Context, q *query.Query) (int, error)
	AggregateLocal(ctx context.Context, agg client.Aggregation) ([]map[string]any, error)
	AggregateNetwork(ctx context.Context, agg client.Aggregation) ([]map[string]any, error)

	Save(ctx context.Context, e models.Entity, policy WritePolicy) (*models.Entity, error)
	RemoveByID(ctx context.Context, id string, policy WritePolicy) (int, error)
	Remove(ctx context.Context, q *query.Query, policy WritePolicy) (int, error)

	Push(ctx context.Context, p *progress.Progress) (models.PushResult, error)
	Pull(ctx context.Context, q *query.Query, p *progress.Progress) ([]models.Entity, error)
	Sync(ctx context.Context, q *query.Query, p *progress.Progress) (models.SyncResult, error)
	Purge(ctx context.Context, q *query.Query, pull bool, p *progress.Progress) (int, error)

	PendingCount(ctx context.Context) (int, error)
	ClearCache(ctx context.Context, q *query.Query) error
}

// Options tune fetch strategies.
type Options struct {
	DeltaSet       bool
	AutoPagination bool
	// CachePruning deletes cached records the server no longer returns for
	// an unconstrained full fetch.
	CachePruning             bool
	MaxPageSize              int
	MaxConcurrentConnections int

	Logger  logging.Logger
	Metrics *metrics.Collector
}

// OptionsFromConfig copies the fetch settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DeltaSet:                 cfg.DeltaSet,
		AutoPagination:           cfg.AutoPagination,
		CachePruning:             cfg.CachePruning,
		MaxPageSize:              cfg.MaxPageSize,
		MaxConcurrentConnections: cfg.MaxConcurrentConnections,
	}
}

var (
	errNoBackend = common.NewError(common.KindInvalidOperation, "network access is not configured")
	errNoStore   = common.NewError(common.KindInvalidOperation, "local store is not configured")
)

type collectionService struct {
	collection string
	store      store.Store
	backend    client.Backend
	opts       Options
	log        logging.Logger
	metrics    *metrics.Collector
}

// New returns the Service of collection. Either st or backend may be nil:
// a nil store makes the service network-only, a nil backend local-only.
func New(collection string, st store.Store, backend client.Backend, opts Options) Service {
	return newService(collection, st, backend, opts)
}

func newService(collection string, st store.Store, backend client.Backend, opts Options) *collectionService {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = common.DefaultMaxPageSize
	}
	if opts.MaxConcurrentConnections <= 0 {
		opts.MaxConcurrentConnections = common.DefaultMaxConcurrentConnections
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &collectionService{
		collection: collection,
		store:      st,
		backend:    backend,
		opts:       opts,
		log:        log.With("collection", collection),
		metrics:    opts.Metrics,
	}
}

func (s *collectionService) Collection() string { return s.collection }

func (s *collectionService) FindLocal(ctx context.Context, q *query.Query) ([]models.Entity, error) {
	if s.store == nil {
		return []models.Entity{}, nil
	}
	ents, err := s.store.Records().Find(ctx, s.collection, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	return ents, nil
}

func (s *collectionService) FindNetwork(ctx context.Context, q *query.Query, p *progress.Progress) ([]models.Entity, error) {
	if s.backend == nil {
		return nil, errNoBackend
	}
	return s.newFindOperation(q, p).Run(ctx)
}

// FindByIDLocal returns (nil, nil) when no store is attached and a
// common.KindNotFound error when the record is not cached.
func (s *collectionService) FindByIDLocal(ctx context.Context, id string) (*models.Entity, error) {
	if id == "" {
		return nil, common.ErrIDRequired
	}
	if s.store == nil {
		return nil, nil
	}
	e, err := s.store.Records().FindByID(ctx, s.collection, id)
	if records.IsNotFound(err) {
		return nil, common.Wrap(common.KindNotFound, "entity not cached", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	return e, nil
}

func (s *collectionService) FindByIDNetwork(ctx context.Context, id string) (*models.Entity, error) {
	if id == "" {
		return nil, common.ErrIDRequired
	}
	if s.backend == nil {
		return nil, errNoBackend
	}
	e, err := s.backend.FindByID(ctx, s.collection, id)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return e, nil
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Repos) error {
		pending, err := tx.Pending().ListByEntity(ctx, s.collection, e.ID)
		if err != nil || len(pending) > 0 {
			return err
		}
		return tx.Records().Upsert(ctx, s.collection, []models.Entity{*e})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cache entity: %w", err)
	}
	return e, nil
}

func (s *collectionService) CountLocal(ctx context.Context, q *query.Query) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	n, err := s.store.Records().Count(ctx, s.collection, q)
	if err != nil {
		return 0, fmt.Errorf("failed to count cache: %w", err)
	}
	return n, nil
}

func (s *collectionService) CountNetwork(ctx context.Context, q *query.Query) (int, error) {
	if s.backend == nil {
		return 0, errNoBackend
	}
	n, _, err := s.backend.Count(ctx, s.collection, q)
	return n, err
}

// AggregateLocal fails with common.ErrNotSupportedLocally when a store is
// attached: groupings run only on the server.
func (s *collectionService) AggregateLocal(context.Context, client.Aggregation) ([]map[string]any, error) {
	if s.store != nil {
		return nil, common.ErrNotSupportedLocally
	}
	return []map[string]any{}, nil
}

func (s *collectionService) AggregateNetwork(ctx context.Context, agg client.Aggregation) ([]map[string]any, error) {
	if s.backend == nil {
		return nil, errNoBackend
	}
	return s.backend.Aggregate(ctx, s.collection, agg)
}

func (s *collectionService) PendingCount(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	return s.store.Pending().Count(ctx, s.collection)
}

// ClearCache drops cached records (all, or those matching q) and every
// checkpoint of the collection. Pending operations are kept.
func (s *collectionService) ClearCache(ctx context.Context, q *query.Query) error {
	if s.store == nil {
		return nil
	}
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Repos) error {
		if q == nil || q.Filter == nil {
			if err := tx.Records().Clear(ctx, s.collection); err != nil {
				return err
			}
		} else if _, err := tx.Records().Remove(ctx, s.collection, q); err != nil {
			return err
		}
		n, err := tx.Checkpoints().DeleteByCollection(ctx, s.collection)
		if n > 0 {
			s.metrics.ObserveCheckpointReset("clear")
		}
		return err
	})
}

// pendingIDs returns the ids of entities with pending operations.
func pendingIDs(ctx context.Context, tx store.Repos, collection string) (map[string]bool, error) {
	ops, err := tx.Pending().List(ctx, collection)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.EntityID != "" {
			ids[op.EntityID] = true
		}
	}
	return ids, nil
}

package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/progress"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/client/store"
	"github.com/dmitrijs2005/synckit/internal/common"
)

// Pull fetches q from the backend into the cache. It fails with
// common.ErrPushPending, without any network call, while the collection has
// pending operations.
func (s *collectionService) Pull(ctx context.Context, q *query.Query, p *progress.Progress) ([]models.Entity, error) {
	if s.store == nil {
		return nil, common.ErrInvalidStoreType
	}
	n, err := s.store.Pending().Count(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending operations: %w", err)
	}
	if n > 0 {
		return nil, common.ErrPushPending
	}
	return s.FindNetwork(ctx, q, p)
}

// Sync pushes and then pulls q. Push failures of single operations are
// reported in the result and do not stop the pull.
func (s *collectionService) Sync(ctx context.Context, q *query.Query, p *progress.Progress) (models.SyncResult, error) {
	var result models.SyncResult
	if s.store == nil {
		return result, common.ErrInvalidStoreType
	}

	pushed, err := s.Push(ctx, p.Child(progress.Total/2))
	if err != nil {
		return result, err
	}
	result.PushCount = pushed.Count
	result.PushErrors = pushed.Errors

	ents, err := s.FindNetwork(ctx, q, p.Child(progress.Total/2))
	if err != nil {
		return result, err
	}
	result.Entities = ents
	return result, nil
}

// Purge discards every pending operation of the collection together with its
// checkpoints. Entities created on the device whose create was discarded are
// removed from the cache. Abandoned local edits of server entities stay cached
// as they are until the next fetch; with pull set, q is fetched again
// afterwards and the cache realigns with the backend.
func (s *collectionService) Purge(ctx context.Context, q *query.Query, pull bool, p *progress.Progress) (int, error) {
	if s.store == nil {
		return 0, common.ErrInvalidStoreType
	}

	count := 0
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Repos) error {
		ops, err := tx.Pending().List(ctx, s.collection)
		if err != nil {
			return err
		}

		for _, op := range ops {
			if err := tx.Pending().Delete(ctx, op.RequestID); err != nil {
				return err
			}
			count++
			if op.IsCreate() && models.IsTempID(op.EntityID) {
				if _, err := tx.Records().RemoveByID(ctx, s.collection, op.EntityID); err != nil {
					return err
				}
			}
		}

		_, err = tx.Checkpoints().DeleteByCollection(ctx, s.collection)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge: %w", err)
	}
	s.metrics.ObserveCheckpointReset("purge")
	s.log.Info(ctx, "purged pending operations", "count", count)

	if !pull || s.backend == nil {
		p.Complete()
		return count, nil
	}
	if _, err := s.FindNetwork(ctx, q, p); err != nil {
		return count, err
	}
	return count, nil
}

package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/client/store"
	"github.com/dmitrijs2005/synckit/internal/common"
)

func (s *collectionService) Save(ctx context.Context, e models.Entity, policy WritePolicy) (*models.Entity, error) {
	if s.backend == nil && policy != WriteLocalOnly {
		return nil, errNoBackend
	}
	if policy == WriteNetworkOnly || (policy == LocalThenNetwork && s.store == nil) {
		return s.saveNetwork(ctx, e)
	}
	if s.store == nil {
		return nil, errNoStore
	}
	if s.backend == nil {
		return nil, common.NewError(common.KindInvalidOperation, "local writes need a backend to describe the pending request")
	}

	e = e.Clone()
	if e.ID == "" {
		e.ID = models.NewTempID()
	}
	op, err := s.backend.SaveRequest(s.collection, e)
	if err != nil {
		return nil, err
	}

	var queued models.PendingOperation
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Repos) error {
		if err := tx.Records().Upsert(ctx, s.collection, []models.Entity{e}); err != nil {
			return err
		}
		queued, _, err = s.enqueue(ctx, tx, op)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save locally: %w", err)
	}
	if policy == WriteLocalOnly {
		return &e, nil
	}

	saved, err := s.backend.Replay(ctx, queued)
	if err != nil {
		return nil, err
	}
	if err := s.acknowledge(ctx, queued, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *collectionService) saveNetwork(ctx context.Context, e models.Entity) (*models.Entity, error) {
	saved, err := s.backend.Save(ctx, s.collection, e)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.Records().Upsert(ctx, s.collection, []models.Entity{*saved}); err != nil {
			return nil, fmt.Errorf("failed to cache entity: %w", err)
		}
	}
	return saved, nil
}

func (s *collectionService) RemoveByID(ctx context.Context, id string, policy WritePolicy) (int, error) {
	if id == "" {
		return 0, common.ErrIDRequired
	}
	if s.backend == nil && policy != WriteLocalOnly {
		return 0, errNoBackend
	}
	if policy == WriteNetworkOnly || (policy == LocalThenNetwork && s.store == nil) {
		n, err := s.backend.RemoveByID(ctx, s.collection, id)
		if err != nil {
			return 0, err
		}
		if s.store != nil {
			if _, err := s.store.Records().RemoveByID(ctx, s.collection, id); err != nil {
				return 0, fmt.Errorf("failed to remove cached entity: %w", err)
			}
		}
		return n, nil
	}
	if s.store == nil {
		return 0, errNoStore
	}
	if s.backend == nil {
		return 0, common.NewError(common.KindInvalidOperation, "local writes need a backend to describe the pending request")
	}

	op, err := s.backend.RemoveRequest(s.collection, id, nil)
	if err != nil {
		return 0, err
	}

	var (
		n      int
		queued models.PendingOperation
		ok     bool
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Repos) error {
		if n, err = tx.Records().RemoveByID(ctx, s.collection, id); err != nil {
			return err
		}
		queued, ok, err = s.enqueue(ctx, tx, op)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove locally: %w", err)
	}
	if policy == WriteLocalOnly || !ok {
		return n, nil
	}

	if err := s.replay(ctx, queued); err != nil {
		return 0, err
	}
	return n, nil
}

// Remove deletes every entity matching q. Locally removed entities lose their
// pending operations and one bulk DELETE is queued in their place.
func (s *collectionService) Remove(ctx context.Context, q *query.Query, policy WritePolicy) (int, error) {
	if s.backend == nil && policy != WriteLocalOnly {
		return 0, errNoBackend
	}
	if policy == WriteNetworkOnly || (policy == LocalThenNetwork && s.store == nil) {
		n, err := s.backend.Remove(ctx, s.collection, q)
		if err != nil {
			return 0, err
		}
		if s.store != nil {
			if _, err := s.store.Records().Remove(ctx, s.collection, q); err != nil {
				return 0, fmt.Errorf("failed to remove cached entities: %w", err)
			}
		}
		return n, nil
	}
	if s.store == nil {
		return 0, errNoStore
	}
	if s.backend == nil {
		return 0, common.NewError(common.KindInvalidOperation, "local writes need a backend to describe the pending request")
	}

	op, err := s.backend.RemoveRequest(s.collection, "", q)
	if err != nil {
		return 0, err
	}

	var removed []string
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Repos) error {
		removed, err = tx.Records().Remove(ctx, s.collection, q)
		if err != nil {
			return err
		}
		for _, id := range removed {
			if _, err := tx.Pending().DeleteByEntity(ctx, s.collection, id); err != nil {
				return err
			}
		}
		return tx.Pending().Add(ctx, op)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove locally: %w", err)
	}
	if policy == WriteLocalOnly {
		return len(removed), nil
	}

	if err := s.replay(ctx, op); err != nil {
		return 0, err
	}
	return len(removed), nil
}

// enqueue records op keeping one entry per entity. It reports false when
// nothing needs to be sent: deleting an entity the server never saw.
func (s *collectionService) enqueue(ctx context.Context, tx store.Repos, op models.PendingOperation) (models.PendingOperation, bool, error) {
	if op.EntityID == "" {
		return op, true, tx.Pending().Add(ctx, op)
	}

	existing, err := tx.Pending().ListByEntity(ctx, s.collection, op.EntityID)
	if err != nil {
		return op, false, err
	}

	if op.IsDelete() && models.IsTempID(op.EntityID) {
		_, err := tx.Pending().DeleteByEntity(ctx, s.collection, op.EntityID)
		return op, false, err
	}
	if len(existing) == 0 {
		return op, true, tx.Pending().Add(ctx, op)
	}

	for _, extra := range existing[1:] {
		if err := tx.Pending().Delete(ctx, extra.RequestID); err != nil {
			return op, false, err
		}
	}

	entry := existing[0]
	switch {
	case op.IsDelete():
		entry.Method, entry.URL, entry.Body = op.Method, op.URL, nil
	case entry.Method == http.MethodPost:
		entry.Body = op.Body
	default:
		entry.Method, entry.URL, entry.Body = op.Method, op.URL, op.Body
	}
	entry.Headers = op.Headers
	return entry, true, tx.Pending().Update(ctx, entry)
}

// replay sends one pending operation and acknowledges it. A DELETE of an
// entity the server no longer has counts as done.
func (s *collectionService) replay(ctx context.Context, op models.PendingOperation) error {
	saved, err := s.backend.Replay(ctx, op)
	if err != nil && !(op.IsDelete() && common.IsKind(err, common.KindNotFound)) {
		return err
	}
	return s.acknowledge(ctx, op, saved)
}

// acknowledge applies a successful replay: the server copy replaces the
// cached one, a temporary id is replaced everywhere, and the entry is
// removed from the log.
func (s *collectionService) acknowledge(ctx context.Context, op models.PendingOperation, saved *models.Entity) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Repos) error {
		if saved != nil && !op.IsDelete() {
			if saved.ID == "" {
				return common.ErrIDRequired
			}
			if op.EntityID != "" && op.EntityID != saved.ID {
				if err := tx.Records().ReplaceID(ctx, s.collection, op.EntityID, saved.ID); err != nil {
					return err
				}
				if err := tx.Pending().ReplaceEntityID(ctx, s.collection, op.EntityID, saved.ID); err != nil {
					return err
				}
			}
			if err := tx.Records().Upsert(ctx, s.collection, []models.Entity{*saved}); err != nil {
				return err
			}
		}
		return tx.Pending().Delete(ctx, op.RequestID)
	})
	if err != nil {
		return fmt.Errorf("failed to acknowledge %s %s: %w", op.Method, op.URL, err)
	}
	return nil
}

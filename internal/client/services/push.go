package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/progress"
	"github.com/dmitrijs2005/synckit/internal/common"
	"golang.org/x/sync/errgroup"
)

// Push replays the pending log of the collection. Operations of one entity
// run in creation order; after a failure the later ones are skipped and
// reported as errors. Different entities, and every bulk delete, run
// concurrently. Count plus len(Errors) equals the number of log entries.
// The returned error is reserved for a log that cannot be read.
func (s *collectionService) Push(ctx context.Context, p *progress.Progress) (models.PushResult, error) {
	var result models.PushResult
	if s.store == nil {
		return result, common.ErrInvalidStoreType
	}
	if s.backend == nil {
		return result, errNoBackend
	}

	ops, err := s.store.Pending().List(ctx, s.collection)
	if err != nil {
		return result, fmt.Errorf("failed to read pending operations: %w", err)
	}
	if len(ops) == 0 {
		p.Complete()
		return result, nil
	}

	groups := groupByEntity(ops)
	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrentConnections)
	for _, group := range groups {
		g.Go(func() error {
			var failed error
			for _, op := range group {
				var err error
				if failed != nil {
					err = fmt.Errorf("skipped: earlier operation for %s failed", op.EntityID)
				} else {
					err = s.replay(ctx, op)
				}

				mu.Lock()
				done++
				p.Set(float64(done) / float64(len(ops)))
				if err != nil {
					result.Errors = append(result.Errors, fmt.Errorf("%s %s: %w", op.Method, op.URL, err))
				} else {
					result.Count++
				}
				mu.Unlock()

				if failed == nil {
					failed = err
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.ObservePush(result.Count, len(result.Errors))
	if result.Failed() {
		s.log.Warn(ctx, "push finished with failures", "pushed", result.Count, "failed", len(result.Errors))
	}
	if err := ctx.Err(); err != nil {
		return result, common.FromContext(err)
	}
	p.Complete()
	return result, nil
}

// groupByEntity splits ops by entity id keeping creation order inside each
// group and the order of first appearance between groups. Operations without
// an entity id (bulk deletes) each get their own group.
func groupByEntity(ops []models.PendingOperation) [][]models.PendingOperation {
	index := make(map[string]int)
	var groups [][]models.PendingOperation
	for _, op := range ops {
		if op.EntityID == "" {
			groups = append(groups, []models.PendingOperation{op})
			continue
		}
		i, ok := index[op.EntityID]
		if !ok {
			i = len(groups)
			index[op.EntityID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	return groups
}

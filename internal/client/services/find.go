package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/synckit/internal/client/metrics"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/progress"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/client/store"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"
)

// Fetch states.
const (
	StateIdle           = "idle"
	StateCountPending   = "count_pending"
	StateDeltaFetch     = "delta_fetch"
	StateFullFetch      = "full_fetch"
	StatePaginatedFetch = "paginated_fetch"
	StateMerging        = "merging"
	StateDone           = "done"
	StateFailed         = "failed"
)

const (
	eventDelta    = "delta"
	eventCount    = "count"
	eventFull     = "full"
	eventPaginate = "paginate"
	eventMerge    = "merge"
	eventFinish   = "finish"
	eventFail     = "fail"
)

// Progress shares of a paginated fetch.
const (
	countShare = 1
	dataShare  = progress.Total - countShare
)

// FindOperation fetches a query from the backend and merges the result
// into the cache. It is a state machine:
//
//	idle -> delta_fetch | count_pending | full_fetch
//	delta_fetch -> count_pending | full_fetch | merging
//	count_pending -> paginated_fetch
//	full_fetch | paginated_fetch -> merging
//	merging -> done
//
// and any non-terminal state -> failed.
type FindOperation struct {
	svc      *collectionService
	q        *query.Query
	progress *progress.Progress
	machine  *fsm.FSM

	deltaSet bool
	cpQuery  string
	cpFields string
	since    string

	count      int
	countStart string
	fetched    fetchResult
	result     []models.Entity
	err        error

	mu    sync.Mutex
	trace []string
}

type fetchResult struct {
	strategy     string
	changed      []models.Entity
	deleted      []models.Entity
	requestStart string
	// complete is set when changed holds the whole result set.
	complete bool
}

func (s *collectionService) newFindOperation(q *query.Query, p *progress.Progress) *FindOperation {
	op := &FindOperation{
		svc:      s,
		q:        q,
		progress: p,
		deltaSet: s.opts.DeltaSet && s.store != nil && !q.Paginated() && !q.Projected(),
	}

	running := []string{StateIdle, StateCountPending, StateDeltaFetch, StateFullFetch, StatePaginatedFetch, StateMerging}
	op.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventDelta, Src: []string{StateIdle}, Dst: StateDeltaFetch},
			{Name: eventCount, Src: []string{StateIdle, StateDeltaFetch}, Dst: StateCountPending},
			{Name: eventFull, Src: []string{StateIdle, StateDeltaFetch}, Dst: StateFullFetch},
			{Name: eventPaginate, Src: []string{StateCountPending}, Dst: StatePaginatedFetch},
			{Name: eventMerge, Src: []string{StateDeltaFetch, StateFullFetch, StatePaginatedFetch}, Dst: StateMerging},
			{Name: eventFinish, Src: []string{StateMerging}, Dst: StateDone},
			{Name: eventFail, Src: running, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				op.mu.Lock()
				op.trace = append(op.trace, e.Dst)
				op.mu.Unlock()
				s.log.Debug(ctx, "fetch state", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return op
}

// Trace returns the states entered so far.
func (op *FindOperation) Trace() []string {
	op.mu.Lock()
	defer op.mu.Unlock()
	return append([]string(nil), op.trace...)
}

func (op *FindOperation) Run(ctx context.Context) ([]models.Entity, error) {
	next, err := op.entry(ctx)
	if err != nil {
		return nil, err
	}
	// transitions must still fire once ctx is cancelled; the steps honor it
	fire := context.WithoutCancel(ctx)
	for {
		if err := op.machine.Event(fire, next); err != nil {
			return nil, fmt.Errorf("fetch %s from %s: %w", next, op.machine.Current(), err)
		}
		switch op.machine.Current() {
		case StateDone:
			op.progress.Complete()
			op.svc.metrics.ObserveFetch(op.fetched.strategy, metrics.OutcomeOK)
			return op.result, nil
		case StateFailed:
			op.svc.metrics.ObserveFetch(op.fetched.strategy, metrics.OutcomeError)
			return nil, common.FromContext(op.err)
		}
		next = op.step(ctx)
	}
}

func (op *FindOperation) entry(ctx context.Context) (string, error) {
	if op.deltaSet {
		tr := query.NewTranslator(op.svc.store.Schemas().Schema(op.svc.collection))
		key, fields, err := tr.CheckpointKey(op.q)
		if err != nil {
			return "", err
		}
		op.cpQuery, op.cpFields = key, fields

		cp, err := op.svc.store.Checkpoints().Get(ctx, op.svc.collection, key, fields)
		if err != nil {
			op.svc.log.Warn(ctx, "failed to read checkpoint", "error", err)
		} else if cp != nil {
			op.since = cp.LastRequest
			return eventDelta, nil
		}
	}
	return op.fallback(), nil
}

func (op *FindOperation) fallback() string {
	if op.svc.opts.AutoPagination && !op.q.Paginated() {
		return eventCount
	}
	return eventFull
}

func (op *FindOperation) fail(err error) string {
	op.err = err
	return eventFail
}

func (op *FindOperation) step(ctx context.Context) string {
	switch op.machine.Current() {
	case StateDeltaFetch:
		return op.deltaFetch(ctx)
	case StateFullFetch:
		return op.fullFetch(ctx)
	case StateCountPending:
		return op.countPending(ctx)
	case StatePaginatedFetch:
		return op.paginatedFetch(ctx)
	case StateMerging:
		return op.merge(ctx)
	}
	return op.fail(fmt.Errorf("no action for state %s", op.machine.Current()))
}

func (op *FindOperation) deltaFetch(ctx context.Context) string {
	s := op.svc
	op.fetched.strategy = metrics.StrategyDelta

	ds, err := s.backend.DeltaSet(ctx, s.collection, op.q, op.since)
	switch {
	case err == nil:
		op.fetched.changed = ds.Changed
		op.fetched.deleted = ds.Deleted
		op.fetched.requestStart = ds.RequestStart
		return eventMerge

	case common.IsKind(err, common.KindCheckpointStale):
		s.log.Info(ctx, "checkpoint too old, refetching", "since", op.since)
		if derr := s.store.Checkpoints().Delete(ctx, s.collection, op.cpQuery, op.cpFields); derr != nil {
			return op.fail(fmt.Errorf("failed to drop checkpoint: %w", derr))
		}
		s.metrics.ObserveCheckpointReset("stale")

	case common.IsKind(err, common.KindMissingConfiguration):
		s.log.Info(ctx, "delta set not enabled on server, refetching")
		if _, derr := s.store.Checkpoints().DeleteByCollection(ctx, s.collection); derr != nil {
			return op.fail(fmt.Errorf("failed to drop checkpoints: %w", derr))
		}
		s.metrics.ObserveCheckpointReset("missing_configuration")
		op.deltaSet = false

	case common.IsKind(err, common.KindResultSetSizeExceeded) && s.opts.AutoPagination:
		s.log.Info(ctx, "delta set too large, paginating")

	default:
		return op.fail(err)
	}

	s.metrics.ObserveFetch(metrics.StrategyDelta, metrics.OutcomeFallback)
	return op.fallback()
}

func (op *FindOperation) fullFetch(ctx context.Context) string {
	s := op.svc
	op.fetched.strategy = metrics.StrategyFull

	ents, start, err := s.backend.Find(ctx, s.collection, op.q)
	if err != nil {
		return op.fail(err)
	}
	op.fetched.changed = ents
	op.fetched.deleted = nil
	op.fetched.requestStart = start
	op.fetched.complete = true
	return eventMerge
}

func (op *FindOperation) countPending(ctx context.Context) string {
	s := op.svc
	op.fetched.strategy = metrics.StrategyPaginated

	n, start, err := s.backend.Count(ctx, s.collection, op.q)
	if err != nil {
		return op.fail(err)
	}
	op.count, op.countStart = n, start
	op.progress.Child(countShare).Complete()
	return eventPaginate
}

// paginatedFetch issues every page concurrently. Nothing is kept unless all
// pages arrive; the first failure cancels the rest.
func (op *FindOperation) paginatedFetch(ctx context.Context) string {
	s := op.svc
	size := s.opts.MaxPageSize
	pages := (op.count + size - 1) / size
	data := op.progress.Child(dataShare)

	results := make([][]models.Entity, pages)
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrentConnections)
	for i := 0; i < pages; i++ {
		g.Go(func() error {
			pq := op.q.Clone()
			if len(pq.Sort) == 0 {
				pq.Ascending(common.FieldID)
			}
			pq.Skip = i * size
			pq.Limit = size

			ents, _, err := s.backend.Find(gctx, s.collection, pq)
			if err != nil {
				return err
			}
			results[i] = ents

			mu.Lock()
			done++
			data.Set(float64(done) / float64(pages))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return op.fail(err)
	}

	seen := make(map[string]bool, op.count)
	all := make([]models.Entity, 0, op.count)
	for _, page := range results {
		for _, e := range page {
			if e.ID != "" && seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			all = append(all, e)
		}
	}

	op.fetched.changed = all
	op.fetched.deleted = nil
	op.fetched.requestStart = op.countStart
	op.fetched.complete = true
	return eventMerge
}

func (op *FindOperation) merge(ctx context.Context) string {
	s := op.svc
	f := op.fetched

	for _, list := range [][]models.Entity{f.changed, f.deleted} {
		for _, e := range list {
			if e.ID == "" {
				return op.fail(common.ErrIDRequired)
			}
		}
	}

	// a partial document would clobber the cached one
	if s.store == nil || op.q.Projected() {
		op.result = f.changed
		return eventFinish
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Repos) error {
		pending, err := pendingIDs(ctx, tx, s.collection)
		if err != nil {
			return err
		}

		for _, e := range f.deleted {
			if pending[e.ID] {
				continue
			}
			if _, err := tx.Records().RemoveByID(ctx, s.collection, e.ID); err != nil {
				return err
			}
		}

		upserts := make([]models.Entity, 0, len(f.changed))
		for _, e := range f.changed {
			if !pending[e.ID] {
				upserts = append(upserts, e)
			}
		}
		if err := tx.Records().Upsert(ctx, s.collection, upserts); err != nil {
			return err
		}

		if f.complete && s.opts.CachePruning && op.q.Unconstrained() {
			if err := op.prune(ctx, tx, pending); err != nil {
				return err
			}
		}

		if op.deltaSet && f.requestStart != "" {
			return tx.Checkpoints().Set(ctx, models.Checkpoint{
				Collection:  s.collection,
				Query:       op.cpQuery,
				Fields:      op.cpFields,
				LastRequest: f.requestStart,
			})
		}
		return nil
	})
	if err != nil {
		return op.fail(fmt.Errorf("failed to merge fetched records: %w", err))
	}

	if f.strategy == metrics.StrategyDelta {
		// the delta only holds changes; answer from the merged cache
		ents, err := s.store.Records().Find(ctx, s.collection, op.q)
		if err != nil {
			return op.fail(fmt.Errorf("failed to read cache: %w", err))
		}
		op.result = ents
	} else {
		op.result = f.changed
	}
	return eventFinish
}

// prune removes cached records the server no longer has. Records with
// pending operations and records created on the device are kept.
func (op *FindOperation) prune(ctx context.Context, tx store.Repos, pending map[string]bool) error {
	s := op.svc
	returned := make(map[string]bool, len(op.fetched.changed))
	for _, e := range op.fetched.changed {
		returned[e.ID] = true
	}

	cached, err := tx.Records().Versions(ctx, s.collection)
	if err != nil {
		return err
	}
	removed := 0
	for id := range cached {
		if returned[id] || pending[id] || models.IsTempID(id) {
			continue
		}
		if _, err := tx.Records().RemoveByID(ctx, s.collection, id); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		s.log.Debug(ctx, "pruned cache", "removed", removed)
	}
	return nil
}

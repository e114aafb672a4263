// Package datastore is the typed collection API. Every operation returns a
// request.Handle; results are delivered to the callback on the configured
// executor.
package datastore

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/client/client"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/progress"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/client/request"
	"github.com/dmitrijs2005/synckit/internal/client/services"
	"github.com/dmitrijs2005/synckit/internal/client/store"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/dmitrijs2005/synckit/internal/logging"
	"github.com/goccy/go-json"
)

// StoreType selects how a DataStore combines the cache and the backend.
type StoreType int

const (
	// Sync works on the cache only. Data moves with Push, Pull and Sync.
	Sync StoreType = iota
	// Cache answers reads from the cache and then from the backend. Writes
	// are recorded locally and sent right away.
	Cache
	// Network bypasses the cache.
	Network
	// Auto reads from the backend and falls back to the cache when the
	// backend cannot be reached.
	Auto
)

func (t StoreType) String() string {
	switch t {
	case Sync:
		return "sync"
	case Cache:
		return "cache"
	case Network:
		return "network"
	case Auto:
		return "auto"
	}
	return fmt.Sprintf("StoreType(%d)", int(t))
}

// ParseStoreType is the inverse of StoreType.String.
func ParseStoreType(s string) (StoreType, error) {
	for _, t := range []StoreType{Sync, Cache, Network, Auto} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, common.NewError(common.KindInvalidStoreType, fmt.Sprintf("unknown store type %q", s))
}

func (t StoreType) readPolicy() services.ReadPolicy {
	switch t {
	case Sync:
		return services.LocalOnly
	case Cache:
		return services.Both
	}
	return services.NetworkOnly
}

func (t StoreType) writePolicy() services.WritePolicy {
	switch t {
	case Sync:
		return services.WriteLocalOnly
	case Network:
		return services.WriteNetworkOnly
	}
	return services.LocalThenNetwork
}

// Config wires a DataStore.
type Config struct {
	Type StoreType
	// Store is required for every type but Network, which ignores it.
	Store   store.Store
	Backend client.Backend

	// Executor runs callbacks and progress reports. Defaults to request.Inline.
	Executor request.Executor
	Progress progress.Func

	Services services.Options
}

// DataStore is the public API of one collection. T is any type that
// round-trips through the entity JSON form; models.Entity itself works.
type DataStore[T any] struct {
	typ        StoreType
	svc        services.Service
	exec       request.Executor
	onProgress progress.Func
	log        logging.Logger
}

// New returns the DataStore of collection.
func New[T any](collection string, cfg Config) (*DataStore[T], error) {
	if collection == "" {
		return nil, common.NewError(common.KindInvalidOperation, "collection name required")
	}
	st := cfg.Store
	switch cfg.Type {
	case Network:
		st = nil
		if cfg.Backend == nil {
			return nil, common.ErrClientNotInitialized
		}
	case Sync, Cache, Auto:
		if st == nil {
			return nil, common.Wrap(common.KindInvalidStoreType, cfg.Type.String()+" store needs a local cache", common.ErrInvalidStoreType)
		}
	default:
		return nil, common.ErrInvalidStoreType
	}

	exec := cfg.Executor
	if exec == nil {
		exec = request.Inline{}
	}
	log := cfg.Services.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &DataStore[T]{
		typ:        cfg.Type,
		svc:        services.New(collection, st, cfg.Backend, cfg.Services),
		exec:       exec,
		onProgress: cfg.Progress,
		log:        log.With("collection", collection, "store_type", cfg.Type.String()),
	}, nil
}

func (d *DataStore[T]) Type() StoreType    { return d.typ }
func (d *DataStore[T]) Collection() string { return d.svc.Collection() }

// launch runs steps behind a handle. A non-nil err is delivered as the
// result of a single failed step.
func launch[R, T any](ctx context.Context, d *DataStore[T], cb request.Callback[R], steps []request.Func[R], err error) *request.Handle[R] {
	if err != nil {
		steps = []request.Func[R]{func(context.Context, *progress.Progress) (R, error) {
			var zero R
			return zero, err
		}}
	}
	return request.Start(ctx, d.exec, d.onProgress, cb, steps...)
}

func resolveRead[R any](typ StoreType, log logging.Logger, local, network request.Func[R]) ([]request.Func[R], error) {
	if typ == Auto {
		network = withFallback(log, network, local)
	}
	return services.Resolve(typ.readPolicy(), local, network)
}

// withFallback answers from local when network cannot reach the backend.
func withFallback[R any](log logging.Logger, network, local request.Func[R]) request.Func[R] {
	return func(ctx context.Context, p *progress.Progress) (R, error) {
		r, err := network(ctx, p)
		if err == nil || !unreachable(err) || ctx.Err() != nil {
			return r, err
		}
		log.Warn(ctx, "backend unreachable, reading cache", "error", err)
		return local(ctx, p)
	}
}

func unreachable(err error) bool {
	return common.IsKind(err, common.KindNetwork) || common.IsKind(err, common.KindRequestTimeout)
}

// Find runs q. A Cache store reports twice: cached records first, then the
// backend's answer.
func (d *DataStore[T]) Find(ctx context.Context, q *query.Query, cb request.Callback[[]T]) *request.Handle[[]T] {
	local := func(ctx context.Context, _ *progress.Progress) ([]T, error) {
		ents, err := d.svc.FindLocal(ctx, q)
		if err != nil {
			return nil, err
		}
		return decodeAll[T](ents)
	}
	network := func(ctx context.Context, p *progress.Progress) ([]T, error) {
		ents, err := d.svc.FindNetwork(ctx, q, p)
		if err != nil {
			return nil, err
		}
		return decodeAll[T](ents)
	}
	steps, err := resolveRead[[]T](d.typ, d.log, local, network)
	return launch(ctx, d, cb, steps, err)
}

func (d *DataStore[T]) FindByID(ctx context.Context, id string, cb request.Callback[*T]) *request.Handle[*T] {
	decodeOne := func(e *models.Entity, err error) (*T, error) {
		if err != nil || e == nil {
			return nil, err
		}
		v, err := decode[T](*e)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
	local := func(ctx context.Context, _ *progress.Progress) (*T, error) {
		return decodeOne(d.svc.FindByIDLocal(ctx, id))
	}
	network := func(ctx context.Context, _ *progress.Progress) (*T, error) {
		return decodeOne(d.svc.FindByIDNetwork(ctx, id))
	}
	steps, err := resolveRead[*T](d.typ, d.log, local, network)
	return launch(ctx, d, cb, steps, err)
}

func (d *DataStore[T]) Count(ctx context.Context, q *query.Query, cb request.Callback[int]) *request.Handle[int] {
	local := func(ctx context.Context, _ *progress.Progress) (int, error) {
		return d.svc.CountLocal(ctx, q)
	}
	network := func(ctx context.Context, _ *progress.Progress) (int, error) {
		return d.svc.CountNetwork(ctx, q)
	}
	steps, err := resolveRead[int](d.typ, d.log, local, network)
	return launch(ctx, d, cb, steps, err)
}

// Aggregate groups on the server. A Sync store has no server to ask and
// fails with common.ErrNotSupportedLocally.
func (d *DataStore[T]) Aggregate(ctx context.Context, agg client.Aggregation, cb request.Callback[[]map[string]any]) *request.Handle[[]map[string]any] {
	policy := services.NetworkOnly
	if d.typ == Sync {
		policy = services.LocalOnly
	}
	steps, err := services.Resolve[[]map[string]any](policy,
		func(ctx context.Context, _ *progress.Progress) ([]map[string]any, error) {
			return d.svc.AggregateLocal(ctx, agg)
		},
		func(ctx context.Context, _ *progress.Progress) ([]map[string]any, error) {
			return d.svc.AggregateNetwork(ctx, agg)
		})
	return launch(ctx, d, cb, steps, err)
}

// Save stores v. An entity without id gets a temporary one until the
// backend acknowledges it.
func (d *DataStore[T]) Save(ctx context.Context, v T, cb request.Callback[T]) *request.Handle[T] {
	step := func(ctx context.Context, _ *progress.Progress) (T, error) {
		var zero T
		e, err := encode(v)
		if err != nil {
			return zero, err
		}
		saved, err := d.svc.Save(ctx, e, d.typ.writePolicy())
		if err != nil {
			return zero, err
		}
		return decode[T](*saved)
	}
	return launch(ctx, d, cb, []request.Func[T]{step}, nil)
}

func (d *DataStore[T]) RemoveByID(ctx context.Context, id string, cb request.Callback[int]) *request.Handle[int] {
	step := func(ctx context.Context, _ *progress.Progress) (int, error) {
		return d.svc.RemoveByID(ctx, id, d.typ.writePolicy())
	}
	return launch(ctx, d, cb, []request.Func[int]{step}, nil)
}

func (d *DataStore[T]) Remove(ctx context.Context, q *query.Query, cb request.Callback[int]) *request.Handle[int] {
	step := func(ctx context.Context, _ *progress.Progress) (int, error) {
		return d.svc.Remove(ctx, q, d.typ.writePolicy())
	}
	return launch(ctx, d, cb, []request.Func[int]{step}, nil)
}

// Push replays the pending operations. A Network store has none and fails
// with common.ErrInvalidStoreType.
func (d *DataStore[T]) Push(ctx context.Context, cb request.Callback[models.PushResult]) *request.Handle[models.PushResult] {
	step := func(ctx context.Context, p *progress.Progress) (models.PushResult, error) {
		return d.svc.Push(ctx, p)
	}
	return launch(ctx, d, cb, []request.Func[models.PushResult]{step}, nil)
}

// Pull refreshes the cache with q. It fails with common.ErrPushPending
// while local changes wait to be pushed.
func (d *DataStore[T]) Pull(ctx context.Context, q *query.Query, cb request.Callback[[]T]) *request.Handle[[]T] {
	step := func(ctx context.Context, p *progress.Progress) ([]T, error) {
		ents, err := d.svc.Pull(ctx, q, p)
		if err != nil {
			return nil, err
		}
		return decodeAll[T](ents)
	}
	return launch(ctx, d, cb, []request.Func[[]T]{step}, nil)
}

// SyncResult is models.SyncResult with decoded entities.
type SyncResult[T any] struct {
	PushCount  int
	PushErrors []error
	Entities   []T
}

func (d *DataStore[T]) Sync(ctx context.Context, q *query.Query, cb request.Callback[SyncResult[T]]) *request.Handle[SyncResult[T]] {
	step := func(ctx context.Context, p *progress.Progress) (SyncResult[T], error) {
		res, err := d.svc.Sync(ctx, q, p)
		out := SyncResult[T]{PushCount: res.PushCount, PushErrors: res.PushErrors}
		if err != nil {
			return out, err
		}
		out.Entities, err = decodeAll[T](res.Entities)
		return out, err
	}
	return launch(ctx, d, cb, []request.Func[SyncResult[T]]{step}, nil)
}

// Purge drops every pending operation of the collection and, with pull set,
// refetches q.
func (d *DataStore[T]) Purge(ctx context.Context, q *query.Query, pull bool, cb request.Callback[int]) *request.Handle[int] {
	step := func(ctx context.Context, p *progress.Progress) (int, error) {
		return d.svc.Purge(ctx, q, pull, p)
	}
	return launch(ctx, d, cb, []request.Func[int]{step}, nil)
}

func (d *DataStore[T]) PendingCount(ctx context.Context) (int, error) {
	return d.svc.PendingCount(ctx)
}

// ClearCache drops cached records (all, or those matching q) and the
// collection's checkpoints.
func (d *DataStore[T]) ClearCache(ctx context.Context, q *query.Query) error {
	return d.svc.ClearCache(ctx, q)
}

func encode[T any](v T) (models.Entity, error) {
	if e, ok := any(v).(models.Entity); ok {
		return e, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return models.Entity{}, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	var e models.Entity
	if err := json.Unmarshal(b, &e); err != nil {
		return models.Entity{}, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return e, nil
}

func decode[T any](e models.Entity) (T, error) {
	var v T
	if out, ok := any(e).(T); ok {
		return out, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return v, fmt.Errorf("failed to decode entity %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("failed to decode entity %s: %w", e.ID, err)
	}
	return v, nil
}

func decodeAll[T any](ents []models.Entity) ([]T, error) {
	out := make([]T, 0, len(ents))
	for _, e := range ents {
		v, err := decode[T](e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

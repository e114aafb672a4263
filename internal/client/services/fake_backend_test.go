package services

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/dmitrijs2005/synckit/internal/client/auth"
	"github.com/dmitrijs2005/synckit/internal/client/client"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/goccy/go-json"
)

// fakeBackend is an in-process document store. Requests for pending
// operations are built by a real client.API.
type fakeBackend struct {
	requests *client.API

	mu     sync.Mutex
	docs   map[string]map[string]any
	clock  int
	nextID int
	calls  map[string]int
	since  []string

	delta     *models.DeltaSet
	deltaErr  error
	findErr   error
	replayErr map[string]error
	onFind    func(ctx context.Context, q *query.Query) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		requests:  client.NewAPI(nil, auth.AppCredentials{AppKey: "kid"}, nil),
		docs:      make(map[string]map[string]any),
		calls:     make(map[string]int),
		replayErr: make(map[string]error),
	}
}

var _ client.Backend = (*fakeBackend)(nil)

func (f *fakeBackend) put(ents ...models.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range ents {
		f.docs[e.ID] = e.Document()
	}
}

func (f *fakeBackend) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[id]
	return ok
}

func (f *fakeBackend) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBackend) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// tick records a call and returns the request-start time of it.
func (f *fakeBackend) tick(method string) string {
	f.calls[method]++
	f.clock++
	return fmt.Sprintf("T%03d", f.clock)
}

func (f *fakeBackend) sorted() []map[string]any {
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]any, len(ids))
	for i, id := range ids {
		out[i] = models.CloneValue(f.docs[id]).(map[string]any)
	}
	return out
}

func (f *fakeBackend) query(q *query.Query) ([]models.Entity, error) {
	docs, err := query.NewTranslator(nil).Apply(q, f.sorted())
	if err != nil {
		return nil, err
	}
	out := make([]models.Entity, 0, len(docs))
	t := query.NewTranslator(nil)
	for _, d := range docs {
		e, err := models.FromDocument(t.Project(q, d))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeBackend) Find(ctx context.Context, collection string, q *query.Query) ([]models.Entity, string, error) {
	if f.onFind != nil {
		if err := f.onFind(ctx, q); err != nil {
			return nil, "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	start := f.tick("find")
	if f.findErr != nil {
		return nil, "", f.findErr
	}
	ents, err := f.query(q)
	return ents, start, err
}

func (f *fakeBackend) FindByID(ctx context.Context, collection, id string) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick("find_by_id")
	d, ok := f.docs[id]
	if !ok {
		return nil, common.NewError(common.KindNotFound, "entity not found")
	}
	e, err := models.FromDocument(models.CloneValue(d).(map[string]any))
	return &e, err
}

func (f *fakeBackend) Count(ctx context.Context, collection string, q *query.Query) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := f.tick("count")
	var filter *query.Query
	if q != nil {
		filter = &query.Query{Filter: q.Filter}
	}
	ents, err := f.query(filter)
	return len(ents), start, err
}

func (f *fakeBackend) DeltaSet(ctx context.Context, collection string, q *query.Query, since string) (*models.DeltaSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := f.tick("delta")
	f.since = append(f.since, since)
	if f.deltaErr != nil {
		return nil, f.deltaErr
	}
	ds := models.DeltaSet{RequestStart: start}
	if f.delta != nil {
		ds.Changed = f.delta.Changed
		ds.Deleted = f.delta.Deleted
	}
	return &ds, nil
}

func (f *fakeBackend) Save(ctx context.Context, collection string, e models.Entity) (*models.Entity, error) {
	op, err := f.requests.SaveRequest(collection, e)
	if err != nil {
		return nil, err
	}
	return f.Replay(ctx, op)
}

func (f *fakeBackend) RemoveByID(ctx context.Context, collection, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick("remove")
	if _, ok := f.docs[id]; !ok {
		return 0, nil
	}
	delete(f.docs, id)
	return 1, nil
}

func (f *fakeBackend) Remove(ctx context.Context, collection string, q *query.Query) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick("remove")
	ents, err := f.query(&query.Query{Filter: q.Filter})
	if err != nil {
		return 0, err
	}
	for _, e := range ents {
		delete(f.docs, e.ID)
	}
	return len(ents), nil
}

func (f *fakeBackend) Aggregate(ctx context.Context, collection string, agg client.Aggregation) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick("aggregate")
	return []map[string]any{{"count": float64(len(f.docs))}}, nil
}

func (f *fakeBackend) SaveRequest(collection string, e models.Entity) (models.PendingOperation, error) {
	return f.requests.SaveRequest(collection, e)
}

func (f *fakeBackend) RemoveRequest(collection, id string, q *query.Query) (models.PendingOperation, error) {
	return f.requests.RemoveRequest(collection, id, q)
}

func (f *fakeBackend) Replay(ctx context.Context, op models.PendingOperation) (*models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick("replay")
	if err := f.replayErr[op.EntityID]; err != nil {
		return nil, err
	}

	switch op.Method {
	case http.MethodDelete:
		if op.EntityID == "" {
			return nil, nil
		}
		if _, ok := f.docs[op.EntityID]; !ok {
			return nil, common.NewError(common.KindNotFound, "entity not found")
		}
		delete(f.docs, op.EntityID)
		return nil, nil
	case http.MethodPost, http.MethodPut:
		var doc map[string]any
		if err := json.Unmarshal(op.Body, &doc); err != nil {
			return nil, err
		}
		if op.Method == http.MethodPost {
			f.nextID++
			doc[common.FieldID] = fmt.Sprintf("srv_%d", f.nextID)
		}
		doc[common.FieldMetadata] = map[string]any{"lmt": fmt.Sprintf("L%03d", f.clock)}
		id := doc[common.FieldID].(string)
		f.docs[id] = doc
		e, err := models.FromDocument(models.CloneValue(doc).(map[string]any))
		return &e, err
	}
	return nil, common.NewError(common.KindMethodNotAllowed, op.Method)
}

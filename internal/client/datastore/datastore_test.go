package datastore

import (
	"context"
	"sync"
	"testing"

	"github.com/dmitrijs2005/synckit/internal/client/auth"
	"github.com/dmitrijs2005/synckit/internal/client/client"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/client/store"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Book struct {
	ID    string `json:"_id,omitempty"`
	Title string `json:"title"`
}

// stubBackend answers Find and Save; request building is delegated to a
// real API. Any other call panics.
type stubBackend struct {
	client.Backend
	api *client.API

	mu      sync.Mutex
	docs    []models.Entity
	findErr error
	finds   int
}

func newStub(docs ...models.Entity) *stubBackend {
	return &stubBackend{api: client.NewAPI(nil, auth.AppCredentials{AppKey: "kid"}, nil), docs: docs}
}

func (s *stubBackend) Find(context.Context, string, *query.Query) ([]models.Entity, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return nil, "", s.findErr
	}
	out := make([]models.Entity, len(s.docs))
	for i, e := range s.docs {
		out[i] = e.Clone()
	}
	return out, "T1", nil
}

func (s *stubBackend) Save(_ context.Context, _ string, e models.Entity) (*models.Entity, error) {
	e = e.Clone()
	if e.ID == "" || models.IsTempID(e.ID) {
		e.ID = "srv_1"
	}
	return &e, nil
}

func (s *stubBackend) SaveRequest(collection string, e models.Entity) (models.PendingOperation, error) {
	return s.api.SaveRequest(collection, e)
}

func (s *stubBackend) RemoveRequest(collection, id string, q *query.Query) (models.PendingOperation, error) {
	return s.api.RemoveRequest(collection, id, q)
}

func entity(id, title string) models.Entity {
	return models.Entity{ID: id, Fields: map[string]any{"title": title}}
}

func newBooks(t *testing.T, typ StoreType, be client.Backend) (*DataStore[Book], store.Store) {
	t.Helper()
	st := store.NewMemory(nil)
	ds, err := New[Book]("books", Config{Type: typ, Store: st, Backend: be})
	require.NoError(t, err)
	return ds, st
}

func TestNew_Validation(t *testing.T) {
	_, err := New[Book]("books", Config{Type: Sync})
	assert.True(t, common.IsKind(err, common.KindInvalidStoreType))

	_, err = New[Book]("books", Config{Type: Network})
	assert.ErrorIs(t, err, common.ErrClientNotInitialized)

	_, err = New[Book]("", Config{Type: Network, Backend: newStub()})
	assert.True(t, common.IsKind(err, common.KindInvalidOperation))

	_, err = New[Book]("books", Config{Type: StoreType(9), Store: store.NewMemory(nil)})
	assert.ErrorIs(t, err, common.ErrInvalidStoreType)

	ds, err := New[Book]("books", Config{Type: Network, Backend: newStub(), Store: store.NewMemory(nil)})
	require.NoError(t, err)
	assert.Equal(t, Network, ds.Type())
	assert.Equal(t, "books", ds.Collection())
}

func TestParseStoreType(t *testing.T) {
	for _, typ := range []StoreType{Sync, Cache, Network, Auto} {
		got, err := ParseStoreType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseStoreType("offline")
	assert.True(t, common.IsKind(err, common.KindInvalidStoreType))
}

func TestSyncStore_SaveAndFindLocally(t *testing.T) {
	be := newStub()
	ds, _ := newBooks(t, Sync, be)
	ctx := context.Background()

	saved, err := ds.Save(ctx, Book{Title: "Dune"}, nil).Wait()
	require.NoError(t, err)
	assert.True(t, models.IsTempID(saved.ID))
	assert.Equal(t, "Dune", saved.Title)

	got, err := ds.Find(ctx, nil, nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, []Book{saved}, got)

	n, err := ds.Count(ctx, nil, nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := ds.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Zero(t, be.finds)

	byID, err := ds.FindByID(ctx, saved.ID, nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, saved, *byID)
}

func TestCacheStore_FindReportsTwice(t *testing.T) {
	be := newStub(entity("a", "A"), entity("b", "B"))
	ds, st := newBooks(t, Cache, be)
	ctx := context.Background()
	require.NoError(t, st.Records().Upsert(ctx, "books", []models.Entity{entity("a", "A")}))

	var (
		mu    sync.Mutex
		sizes []int
	)
	h := ds.Find(ctx, nil, func(books []Book, err error) {
		assert.NoError(t, err)
		mu.Lock()
		sizes = append(sizes, len(books))
		mu.Unlock()
	})
	got, err := h.Wait()
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, h.Parts(), 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, sizes)
}

func TestAutoStore_FallsBackToCache(t *testing.T) {
	be := newStub()
	be.findErr = common.NewError(common.KindNetwork, "connection refused")
	ds, st := newBooks(t, Auto, be)
	ctx := context.Background()
	require.NoError(t, st.Records().Upsert(ctx, "books", []models.Entity{entity("a", "A")}))

	got, err := ds.Find(ctx, nil, nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, []Book{{ID: "a", Title: "A"}}, got)
	assert.Equal(t, 1, be.finds)
}

func TestAutoStore_ServerErrorsAreReported(t *testing.T) {
	be := newStub()
	be.findErr = common.NewError(common.KindServer, "boom")
	ds, _ := newBooks(t, Auto, be)

	_, err := ds.Find(context.Background(), nil, nil).Wait()
	assert.True(t, common.IsKind(err, common.KindServer))
}

func TestNetworkStore(t *testing.T) {
	be := newStub()
	ds, err := New[Book]("books", Config{Type: Network, Backend: be})
	require.NoError(t, err)
	ctx := context.Background()

	saved, err := ds.Save(ctx, Book{Title: "Dune"}, nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, Book{ID: "srv_1", Title: "Dune"}, saved)

	_, err = ds.Push(ctx, nil).Wait()
	assert.ErrorIs(t, err, common.ErrInvalidStoreType)
	_, err = ds.Pull(ctx, nil, nil).Wait()
	assert.ErrorIs(t, err, common.ErrInvalidStoreType)
}

func TestSyncStore_AggregateNotSupported(t *testing.T) {
	ds, _ := newBooks(t, Sync, newStub())
	_, err := ds.Aggregate(context.Background(), client.CountBy("title"), nil).Wait()
	assert.ErrorIs(t, err, common.ErrNotSupportedLocally)
}

func TestSyncStore_PurgeAndClear(t *testing.T) {
	ds, st := newBooks(t, Sync, newStub())
	ctx := context.Background()
	require.NoError(t, st.Records().Upsert(ctx, "books", []models.Entity{entity("a", "A")}))
	_, err := ds.Save(ctx, Book{ID: "a", Title: "A2"}, nil).Wait()
	require.NoError(t, err)

	n, err := ds.Purge(ctx, nil, false, nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, ds.ClearCache(ctx, nil))
	count, err := ds.Count(ctx, nil, nil).Wait()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEntityPassThrough(t *testing.T) {
	st := store.NewMemory(nil)
	ds, err := New[models.Entity]("books", Config{Type: Sync, Store: st, Backend: newStub()})
	require.NoError(t, err)

	saved, err := ds.Save(context.Background(), entity("x", "X"), nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, "X", saved.Fields["title"])
}

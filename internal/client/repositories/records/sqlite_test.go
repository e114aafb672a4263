package records

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/synckit/internal/client/migrations"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}

func registry(t *testing.T) *query.Registry {
	t.Helper()
	r := query.NewRegistry()
	require.NoError(t, r.Register("books", query.NewSchema("Book", map[string]query.Field{
		"tags":     {Key: "tags", Kind: query.KindWrappedList},
		"location": {Key: "_geoloc", Kind: query.KindGeoPoint},
		"author": {Key: "author", Kind: query.KindObject, Schema: query.NewSchema("Author", map[string]query.Field{
			"name": {Key: "name"},
		})},
	})))
	return r
}

func book(id, title string, pages float64) models.Entity {
	return models.Entity{
		ID:     id,
		Meta:   &models.Metadata{Lmt: "2024-01-01T00:00:00.000Z"},
		Fields: map[string]any{"title": title, "pages": pages},
	}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestUpsert_IsIdempotent(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db, registry(t))
	ctx := context.Background()

	e := book("b1", "Dune", 412)
	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{e}))
	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{e}))

	got, err := r.Find(ctx, "books", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e, got[0])
}

func TestUpsert_RequiresID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db, nil)

	err := r.Upsert(context.Background(), "books", []models.Entity{{Fields: map[string]any{"a": 1.0}}})
	require.ErrorIs(t, err, common.ErrIDRequired)
	assert.True(t, common.IsKind(err, common.KindInvalidOperation))
}

func TestFind_FilterSortPage(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db, registry(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{
		book("b1", "Dune", 412), book("b2", "Emma", 300), book("b3", "Ulysses", 730),
	}))
	require.NoError(t, r.Upsert(ctx, "other", []models.Entity{book("x", "Dune", 1)}))

	got, err := r.Find(ctx, "books", query.New(query.Gte("pages", 400)).Descending("pages"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b3", got[0].ID)
	assert.Equal(t, "b1", got[1].ID)

	got, err = r.Find(ctx, "books", (&query.Query{}).Ascending("pages").WithSkip(1).WithLimit(1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].ID)

	got, err = r.Find(ctx, "books", (&query.Query{}).WithFields("title"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.NotContains(t, got[0].Fields, "pages")
	assert.Contains(t, got[0].Fields, "title")

	n, err := r.Count(ctx, "books", query.New(query.Eq("title", "Dune")).WithLimit(1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFind_WrappedListsRoundTrip(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db, registry(t))
	ctx := context.Background()

	e := models.Entity{ID: "b1", Fields: map[string]any{"tags": []any{"sf", "classic"}}}
	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{e}))

	var raw string
	require.NoError(t, db.QueryRow(`SELECT doc FROM records WHERE id = 'b1'`).Scan(&raw))
	assert.Contains(t, raw, `{"value":"sf"}`)

	got, err := r.Find(ctx, "books", query.New(query.Eq("tags", "classic")))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []any{"sf", "classic"}, got[0].Fields["tags"])
}

func TestFind_GeoFilteredInMemory(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db, registry(t))
	ctx := context.Background()

	at := func(id string, lon, lat float64) models.Entity {
		return models.Entity{ID: id, Fields: map[string]any{"_geoloc": []any{lon, lat}}}
	}
	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{
		at("near", 0.001, 0), at("far", 1, 1), at("here", 0, 0),
	}))

	q := query.New(query.Near("location", models.GeoPoint{}, 500)).Ascending("_id")
	got, err := r.Find(ctx, "books", q)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "here", got[0].ID)
	assert.Equal(t, "near", got[1].ID)

	n, err := r.Count(ctx, "books", q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNestedObjects_SharedAndCascade(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db, registry(t))
	ctx := context.Background()

	withAuthor := func(id, name string) models.Entity {
		return models.Entity{ID: id, Fields: map[string]any{"author": map[string]any{"_id": "a1", "name": name}}}
	}
	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{withAuthor("b1", "Frank")}))
	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{withAuthor("b2", "Frank Herbert")}))
	assert.Equal(t, 1, countRows(t, db, "nested_objects"))
	assert.Equal(t, 2, countRows(t, db, "record_refs"))

	got, err := r.FindByID(ctx, "books", "b1")
	require.NoError(t, err)
	assert.Equal(t, "Frank Herbert", got.Fields["author"].(map[string]any)["name"], "shared copy wins")

	n, err := r.RemoveByID(ctx, "books", "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, countRows(t, db, "nested_objects"), "still referenced by b2")

	_, err = r.RemoveByID(ctx, "books", "b2")
	require.NoError(t, err)
	assert.Equal(t, 0, countRows(t, db, "nested_objects"))
	assert.Equal(t, 0, countRows(t, db, "record_refs"))
}

func TestRemove_ByQuery(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db, nil)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{
		book("b1", "Dune", 412), book("b2", "Emma", 300), book("b3", "Ulysses", 730),
	}))

	ids, err := r.Remove(ctx, "books", query.New(query.Gt("pages", 400)))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "b3"}, ids)

	left, err := r.Versions(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b2": "2024-01-01T00:00:00.000Z"}, left)
}

func TestReplaceID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db, registry(t))
	ctx := context.Background()

	tmp := models.NewTempID()
	e := models.Entity{ID: tmp, Fields: map[string]any{"author": map[string]any{"_id": "a1"}}}
	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{e}))

	require.NoError(t, r.ReplaceID(ctx, "books", tmp, "srv1"))

	_, err := r.FindByID(ctx, "books", tmp)
	assert.True(t, IsNotFound(err))

	got, err := r.FindByID(ctx, "books", "srv1")
	require.NoError(t, err)
	assert.Equal(t, "srv1", got.ID)

	var owner string
	require.NoError(t, db.QueryRow(`SELECT record_id FROM record_refs`).Scan(&owner))
	assert.Equal(t, "srv1", owner)

	err = r.ReplaceID(ctx, "books", "missing", "x")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestClear_OnlyThatCollection(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db, nil)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, "books", []models.Entity{book("b1", "Dune", 1)}))
	require.NoError(t, r.Upsert(ctx, "films", []models.Entity{book("f1", "Dune", 1)}))
	require.NoError(t, r.Clear(ctx, "books"))

	assert.Equal(t, 1, countRows(t, db, "records"))
}

func TestUpsert_DBExecError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO records .* ON CONFLICT\(collection, id\) DO UPDATE`).
		WithArgs("books", "b1", sqlmock.AnyArg(), "", "2024-01-01T00:00:00.000Z", "").
		WillReturnError(errors.New("disk full"))

	r := NewSQLiteRepository(db, nil)
	err = r.Upsert(context.Background(), "books", []models.Entity{book("b1", "Dune", 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVersions_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, lmt FROM records`).WithArgs("books").WillReturnError(errors.New("boom"))

	_, err = NewSQLiteRepository(db, nil).Versions(context.Background(), "books")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select versions")
}

package metadata

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/synckit/internal/client/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(context.Background(), db))
	return NewSQLiteRepository(db)
}

func TestSessionKeys_Lifecycle(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	sealed, err := r.Get(ctx, KeySession)
	require.NoError(t, err)
	assert.Nil(t, sealed, "absent key reads as nil")

	require.NoError(t, r.Set(ctx, KeySessionSalt, []byte{0x01, 0x02}))
	require.NoError(t, r.Set(ctx, KeySession, []byte("v1")))
	require.NoError(t, r.Set(ctx, KeySession, []byte("v2")))

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{KeySession: []byte("v2"), KeySessionSalt: {0x01, 0x02}}, all)

	require.NoError(t, r.Delete(ctx, KeySession))
	require.NoError(t, r.Delete(ctx, KeySession))
	sealed, err = r.Get(ctx, KeySession)
	require.NoError(t, err)
	assert.Nil(t, sealed)

	require.NoError(t, r.Clear(ctx))
	all, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSchemaVersion_IntRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	_, ok, err := r.GetInt(ctx, KeySchemaVersion)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetInt(ctx, KeySchemaVersion, 7))

	v, ok, err := r.GetInt(ctx, KeySchemaVersion)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	require.NoError(t, r.Set(ctx, KeySchemaVersion, []byte("seven")))
	_, _, err = r.GetInt(ctx, KeySchemaVersion)
	require.Error(t, err)
}

func TestDBErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	boom := errors.New("disk I/O error")

	mock.ExpectQuery(`SELECT value FROM metadata`).WithArgs(KeySession).WillReturnError(boom)
	mock.ExpectExec(`INSERT INTO metadata`).WithArgs(KeySession, []byte("x")).WillReturnError(boom)
	mock.ExpectExec(`DELETE FROM metadata WHERE key`).WithArgs(KeySession).WillReturnError(boom)
	mock.ExpectExec(`DELETE FROM metadata`).WillReturnError(boom)

	_, err = r.Get(ctx, KeySession)
	assert.ErrorContains(t, err, "failed to get metadata[session]")
	assert.ErrorIs(t, err, boom)

	err = r.Set(ctx, KeySession, []byte("x"))
	assert.ErrorContains(t, err, "failed to set metadata[session]")

	err = r.Delete(ctx, KeySession)
	assert.ErrorContains(t, err, "failed to delete metadata[session]")

	err = r.Clear(ctx)
	assert.ErrorContains(t, err, "failed to clear metadata")

	require.NoError(t, mock.ExpectationsWereMet())
}

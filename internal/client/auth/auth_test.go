package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/synckit/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/synckit/internal/client/store"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	return tok
}

func TestAppCredentials(t *testing.T) {
	ctx := context.Background()

	h, err := AppCredentials{AppKey: "kid", AppSecret: "secret"}.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Basic a2lkOnNlY3JldA==", h)

	_, err = AppCredentials{}.Authorization(ctx)
	assert.True(t, common.IsKind(err, common.KindClientNotInitialized))

	err = AppCredentials{AppKey: "kid"}.Refresh(ctx)
	assert.True(t, common.IsKind(err, common.KindUnauthorized))
}

func TestSession_FallsBackToAppCredentials(t *testing.T) {
	s := NewSession(AppCredentials{AppKey: "kid", AppSecret: "secret"})
	h, err := s.Authorization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Basic a2lkOnNlY3JldA==", h)
	assert.False(t, s.Active())

	s.Login(Tokens{UserID: "u1", AccessToken: "opaque"})
	h, err = s.Authorization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer opaque", h)
	assert.Equal(t, "u1", s.UserID())

	s.Logout()
	assert.False(t, s.Active())
	assert.Equal(t, "", s.UserID())
}

func TestSession_Refresh(t *testing.T) {
	ctx := context.Background()
	s := NewSession(AppCredentials{AppKey: "kid"})

	err := s.Refresh(ctx)
	assert.True(t, common.IsKind(err, common.KindUnauthorized))

	s.Login(Tokens{UserID: "u1", AccessToken: "a1", RefreshToken: "r1"})
	err = s.Refresh(ctx)
	assert.True(t, common.IsKind(err, common.KindUnauthorized), "no refresher installed")

	var got string
	s.SetRefresher(func(_ context.Context, refresh string) (Tokens, error) {
		got = refresh
		return Tokens{AccessToken: "a2"}, nil
	})
	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, "r1", got)

	h, err := s.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer a2", h)
	assert.Equal(t, "u1", s.UserID(), "user id kept when the exchange omits it")

	boom := errors.New("boom")
	s.SetRefresher(func(context.Context, string) (Tokens, error) { return Tokens{}, boom })
	assert.ErrorIs(t, s.Refresh(ctx), boom)
}

func TestSession_ProactiveRefreshNearExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	s := NewSession(AppCredentials{AppKey: "kid"})
	s.now = func() time.Time { return now }

	calls := 0
	s.SetRefresher(func(context.Context, string) (Tokens, error) {
		calls++
		return Tokens{AccessToken: signed(t, now.Add(time.Hour)), RefreshToken: "r2"}, nil
	})

	fresh := signed(t, now.Add(10*time.Minute))
	s.Login(Tokens{AccessToken: fresh, RefreshToken: "r1"})
	h, err := s.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+fresh, h)
	assert.Equal(t, 0, calls)

	s.Login(Tokens{AccessToken: signed(t, now.Add(5*time.Second)), RefreshToken: "r1"})
	h, err = s.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Bearer "+signed(t, now.Add(time.Hour)), h)
}

func TestSession_SaveLoad(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory(nil).Metadata()
	secret := []byte("app-secret")

	s := NewSession(AppCredentials{AppKey: "kid"})
	s.Login(Tokens{UserID: "u1", AccessToken: "a1", RefreshToken: "r1"})
	require.NoError(t, s.Save(ctx, repo, secret))

	raw, err := repo.Get(ctx, metadata.KeySession)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "a1")

	restored := NewSession(AppCredentials{AppKey: "kid"})
	ok, err := restored.Load(ctx, repo, secret)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", restored.UserID())

	_, err = NewSession(AppCredentials{}).Load(ctx, repo, []byte("wrong"))
	require.Error(t, err)

	s.Logout()
	require.NoError(t, s.Save(ctx, repo, secret))
	ok, err = NewSession(AppCredentials{}).Load(ctx, repo, secret)
	require.NoError(t, err)
	assert.False(t, ok)
}

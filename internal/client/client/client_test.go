package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/dmitrijs2005/synckit/internal/client/auth"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/goccy/go-json"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testApp = auth.AppCredentials{AppKey: "kid", AppSecret: "secret"}

func newMockedAPI(t *testing.T) *API {
	t.Helper()
	tr := newMockedTransport(t, testApp, WithRetryMax(0))
	return NewAPI(tr, testApp, nil)
}

// paramEquals matches a query parameter literally.
func paramEquals(key, want string) gock.MatchFunc {
	return func(r *http.Request, _ *gock.Request) (bool, error) {
		return r.URL.Query().Get(key) == want, nil
	}
}

// jsonBody decodes the request body and hands it to check.
func jsonBody(check func(doc map[string]any) bool) gock.MatchFunc {
	return func(r *http.Request, _ *gock.Request) (bool, error) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return false, err
		}
		r.Body = io.NopCloser(bytes.NewReader(b))
		var doc map[string]any
		if err := json.Unmarshal(b, &doc); err != nil {
			return false, err
		}
		return check(doc), nil
	}
}

func TestAPI_Find(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).
		Get("/appdata/kid/books/").
		MatchHeader(common.AuthorizationHeaderName, "^Basic ").
		AddMatcher(paramEquals("query", `{"title":"Dune"}`)).
		AddMatcher(paramEquals("sort", `{"title":1}`)).
		Reply(200).
		SetHeader(common.RequestStartHeaderName, "T1").
		JSON([]map[string]any{
			{"_id": "b1", "title": "Dune", "_kmd": map[string]any{"lmt": "L1"}},
		})

	got, start, err := api.Find(context.Background(), "books", query.New(query.Eq("title", "Dune")).Ascending("title"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].ID)
	assert.Equal(t, "L1", got[0].Lmt())
	assert.Equal(t, "T1", start)
	assert.True(t, gock.IsDone())
}

func TestAPI_FindByID(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).Get("/appdata/kid/books/b1").Reply(200).JSON(map[string]any{"_id": "b1", "title": "Dune"})
	gock.New(testBaseURL).Get("/appdata/kid/books/zz").Reply(404).JSON(map[string]any{"error": "EntityNotFound"})

	e, err := api.FindByID(context.Background(), "books", "b1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", e.Fields["title"])

	_, err = api.FindByID(context.Background(), "books", "zz")
	assert.True(t, common.IsKind(err, common.KindNotFound))

	_, err = api.FindByID(context.Background(), "books", "")
	assert.ErrorIs(t, err, common.ErrIDRequired)
}

func TestAPI_Count(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).
		Get("/appdata/kid/books/_count").
		AddMatcher(paramEquals("query", `{"pages":{"$gt":100}}`)).
		Reply(200).
		SetHeader(common.RequestStartHeaderName, "T2").
		JSON(map[string]int{"count": 25000})

	n, start, err := api.Count(context.Background(), "books", query.New(query.Gt("pages", 100)).WithLimit(3))
	require.NoError(t, err)
	assert.Equal(t, 25000, n)
	assert.Equal(t, "T2", start)
}

func TestAPI_DeltaSet(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).
		Get("/appdata/kid/books/_deltaset").
		AddMatcher(paramEquals("since", "T0")).
		Reply(200).
		SetHeader(common.RequestStartHeaderName, "T1").
		JSON(map[string]any{
			"changed": []map[string]any{{"_id": "a", "title": "A"}},
			"deleted": []map[string]any{{"_id": "b"}},
		})

	ds, err := api.DeltaSet(context.Background(), "books", nil, "T0")
	require.NoError(t, err)
	require.Len(t, ds.Changed, 1)
	require.Len(t, ds.Deleted, 1)
	assert.Equal(t, "a", ds.Changed[0].ID)
	assert.Equal(t, "b", ds.Deleted[0].ID)
	assert.Equal(t, "T1", ds.RequestStart)
}

func TestAPI_DeltaSetStale(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).
		Get("/appdata/kid/books/_deltaset").
		Reply(400).
		JSON(map[string]string{"error": "ParameterValueOutOfRange", "description": "since too old"})

	_, err := api.DeltaSet(context.Background(), "books", nil, "T0")
	assert.ErrorIs(t, err, common.ErrCheckpointStale)
}

func TestAPI_SaveCreatesTempEntities(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).
		Post("/appdata/kid/books/").
		AddMatcher(jsonBody(func(doc map[string]any) bool {
			_, hasID := doc["_id"]
			return !hasID && doc["title"] == "Dune"
		})).
		Reply(201).
		JSON(map[string]any{"_id": "srv1", "title": "Dune"})

	e := models.Entity{ID: models.NewTempID(), Fields: map[string]any{"title": "Dune"}}
	saved, err := api.Save(context.Background(), "books", e)
	require.NoError(t, err)
	assert.Equal(t, "srv1", saved.ID)
	assert.True(t, gock.IsDone())
}

func TestAPI_SaveReplacesExisting(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).
		Put("/appdata/kid/books/b1").
		AddMatcher(jsonBody(func(doc map[string]any) bool { return doc["_id"] == "b1" })).
		Reply(200).
		JSON(map[string]any{"_id": "b1", "title": "Dune", "_kmd": map[string]any{"lmt": "L2"}})

	saved, err := api.Save(context.Background(), "books", models.Entity{ID: "b1", Fields: map[string]any{"title": "Dune"}})
	require.NoError(t, err)
	assert.Equal(t, "L2", saved.Lmt())
}

func TestAPI_PendingRequests(t *testing.T) {
	api := NewAPI(nil, testApp, nil)

	op, err := api.SaveRequest("books", models.Entity{ID: "tmp_1", Fields: map[string]any{"n": 1}})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, op.Method)
	assert.Equal(t, "/appdata/kid/books/", op.URL)
	assert.Equal(t, "tmp_1", op.EntityID)
	assert.NotEmpty(t, op.RequestID)
	assert.Equal(t, "application/json", op.Headers["Content-Type"])
	assert.JSONEq(t, `{"n":1}`, string(op.Body))

	op, err = api.SaveRequest("books", models.Entity{ID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, op.Method)
	assert.Equal(t, "/appdata/kid/books/b1", op.URL)

	op, err = api.RemoveRequest("books", "b1", nil)
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, op.Method)
	assert.Equal(t, "/appdata/kid/books/b1", op.URL)
	assert.Nil(t, op.Body)

	op, err = api.RemoveRequest("books", "", query.New(query.Eq("title", "x")))
	require.NoError(t, err)
	assert.Equal(t, "", op.EntityID)
	assert.Equal(t, "/appdata/kid/books/?query=%7B%22title%22%3A%22x%22%7D", op.URL)
}

func TestAPI_Replay(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).
		Delete("/appdata/kid/books/").
		AddMatcher(paramEquals("query", `{"title":"x"}`)).
		Reply(200).
		JSON(map[string]int{"count": 2})

	op, err := api.RemoveRequest("books", "", query.New(query.Eq("title", "x")))
	require.NoError(t, err)
	e, err := api.Replay(context.Background(), op)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.True(t, gock.IsDone())
}

func TestAPI_Remove(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).Delete("/appdata/kid/books/b1").Reply(200).JSON(map[string]int{"count": 1})
	gock.New(testBaseURL).
		Delete("/appdata/kid/books/").
		AddMatcher(paramEquals("query", `{"n":{"$lt":3}}`)).
		Reply(200).
		JSON(map[string]int{"count": 4})

	n, err := api.RemoveByID(context.Background(), "books", "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = api.Remove(context.Background(), "books", query.New(query.Lt("n", 3)))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestAPI_Aggregate(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).
		Post("/appdata/kid/books/_group").
		AddMatcher(jsonBody(func(doc map[string]any) bool {
			key, _ := doc["key"].(map[string]any)
			cond, _ := doc["condition"].(map[string]any)
			return key["genre"] == true && cond["year"] != nil && doc["reduce"] != ""
		})).
		Reply(200).
		JSON([]map[string]any{{"genre": "sf", "count": 2}})

	out, err := api.Aggregate(context.Background(), "books", CountBy("genre").Where(query.Gte("year", 1960)))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sf", out[0]["genre"])
	assert.Equal(t, 2.0, out[0]["count"])
}

func TestAPI_LoginAndRefresh(t *testing.T) {
	api := newMockedAPI(t)

	gock.New(testBaseURL).
		Post("/user/kid/login").
		MatchHeader(common.AuthorizationHeaderName, "^Basic ").
		AddMatcher(jsonBody(func(doc map[string]any) bool { return doc["username"] == "ann" })).
		Reply(200).
		JSON(map[string]any{"_id": "u1", "_kmd": map[string]any{"authtoken": "a1", "refresh_token": "r1"}})
	gock.New(testBaseURL).
		Post("/oauth/token").
		MatchHeader(common.AuthorizationHeaderName, "^Basic ").
		AddMatcher(jsonBody(func(doc map[string]any) bool { return doc["refresh_token"] == "r1" })).
		Reply(200).
		JSON(map[string]string{"access_token": "a2", "refresh_token": "r2"})

	tok, err := api.Login(context.Background(), "ann", "pw")
	require.NoError(t, err)
	assert.Equal(t, auth.Tokens{UserID: "u1", AccessToken: "a1", RefreshToken: "r1"}, tok)

	tok, err = api.RefreshTokens(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r2", tok.RefreshToken)
}

func TestAPI_SessionRefreshWiring(t *testing.T) {
	session := auth.NewSession(testApp)
	tr := newMockedTransport(t, session, WithRetryMax(0))
	api := NewAPI(tr, testApp, nil)
	session.SetRefresher(api.RefreshTokens)
	session.Login(auth.Tokens{UserID: "u1", AccessToken: "old", RefreshToken: "r1"})

	gock.New(testBaseURL).
		Get("/appdata/kid/books/b1").
		MatchHeader(common.AuthorizationHeaderName, "^Bearer old$").
		Reply(401).
		JSON(map[string]string{"error": "InvalidCredentials"})
	gock.New(testBaseURL).
		Post("/oauth/token").
		Reply(200).
		JSON(map[string]string{"access_token": "new"})
	gock.New(testBaseURL).
		Get("/appdata/kid/books/b1").
		MatchHeader(common.AuthorizationHeaderName, "^Bearer new$").
		Reply(200).
		JSON(map[string]any{"_id": "b1"})

	e, err := api.FindByID(context.Background(), "books", "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", e.ID)
	assert.True(t, gock.IsDone())
}

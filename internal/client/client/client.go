package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/synckit/internal/client/auth"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Backend is the collection API the sync engine depends on.
//
// Find and Count also return the server's request-start timestamp, which
// becomes the sync checkpoint.
type Backend interface {
	Find(ctx context.Context, collection string, q *query.Query) ([]models.Entity, string, error)
	FindByID(ctx context.Context, collection, id string) (*models.Entity, error)
	Count(ctx context.Context, collection string, q *query.Query) (int, string, error)
	DeltaSet(ctx context.Context, collection string, q *query.Query, since string) (*models.DeltaSet, error)

	// Save creates the entity when its id is empty or temporary and
	// replaces it otherwise. It returns the server copy.
	Save(ctx context.Context, collection string, e models.Entity) (*models.Entity, error)
	RemoveByID(ctx context.Context, collection, id string) (int, error)
	Remove(ctx context.Context, collection string, q *query.Query) (int, error)
	Aggregate(ctx context.Context, collection string, agg Aggregation) ([]map[string]any, error)

	// SaveRequest and RemoveRequest build the pending operation that Replay
	// later sends.
	SaveRequest(collection string, e models.Entity) (models.PendingOperation, error)
	RemoveRequest(collection, id string, q *query.Query) (models.PendingOperation, error)

	// Replay sends a pending operation. It returns the server copy for
	// saves and nil for deletes.
	Replay(ctx context.Context, op models.PendingOperation) (*models.Entity, error)
}

// API implements Backend over a Transport.
type API struct {
	transport Transport
	app       auth.AppCredentials
	schemas   *query.Registry
	now       func() time.Time
}

func NewAPI(t Transport, app auth.AppCredentials, schemas *query.Registry) *API {
	if schemas == nil {
		schemas = query.NewRegistry()
	}
	return &API{transport: t, app: app, schemas: schemas, now: time.Now}
}

var _ Backend = (*API)(nil)

func (a *API) collectionPath(collection string) string {
	return "/appdata/" + url.PathEscape(a.app.AppKey) + "/" + url.PathEscape(collection) + "/"
}

func (a *API) entityPath(collection, id string) string {
	return a.collectionPath(collection) + url.PathEscape(id)
}

func (a *API) translator(collection string) *query.Translator {
	return query.NewTranslator(a.schemas.Schema(collection))
}

func (a *API) Find(ctx context.Context, collection string, q *query.Query) ([]models.Entity, string, error) {
	params, err := a.translator(collection).Values(q)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.transport.Execute(ctx, &Request{Method: http.MethodGet, Path: a.collectionPath(collection), Query: params})
	if err != nil {
		return nil, "", err
	}
	entities, err := models.ParseEntities(resp.Body)
	if err != nil {
		return nil, "", common.Wrap(common.KindServer, "unexpected find response", err)
	}
	return entities, resp.RequestStart(), nil
}

func (a *API) FindByID(ctx context.Context, collection, id string) (*models.Entity, error) {
	if id == "" {
		return nil, common.ErrIDRequired
	}
	resp, err := a.transport.Execute(ctx, &Request{Method: http.MethodGet, Path: a.entityPath(collection, id)})
	if err != nil {
		return nil, err
	}
	return parseEntity(resp.Body)
}

type countBody struct {
	Count int `json:"count"`
}

func (a *API) Count(ctx context.Context, collection string, q *query.Query) (int, string, error) {
	params := url.Values{}
	if q != nil && q.Filter != nil {
		f, err := a.translator(collection).FilterJSON(q)
		if err != nil {
			return 0, "", err
		}
		params.Set("query", f)
	}
	resp, err := a.transport.Execute(ctx, &Request{Method: http.MethodGet, Path: a.collectionPath(collection) + "_count", Query: params})
	if err != nil {
		return 0, "", err
	}
	var cb countBody
	if err := json.Unmarshal(resp.Body, &cb); err != nil {
		return 0, "", common.Wrap(common.KindServer, "unexpected count response", err)
	}
	return cb.Count, resp.RequestStart(), nil
}

type deltaBody struct {
	Changed []models.Entity `json:"changed"`
	Deleted []models.Entity `json:"deleted"`
}

func (a *API) DeltaSet(ctx context.Context, collection string, q *query.Query, since string) (*models.DeltaSet, error) {
	params, err := a.translator(collection).Values(q)
	if err != nil {
		return nil, err
	}
	params.Set("since", since)
	resp, err := a.transport.Execute(ctx, &Request{Method: http.MethodGet, Path: a.collectionPath(collection) + "_deltaset", Query: params})
	if err != nil {
		return nil, err
	}
	var db deltaBody
	if err := json.Unmarshal(resp.Body, &db); err != nil {
		return nil, common.Wrap(common.KindServer, "unexpected delta set response", err)
	}
	return &models.DeltaSet{Changed: db.Changed, Deleted: db.Deleted, RequestStart: resp.RequestStart()}, nil
}

func (a *API) Save(ctx context.Context, collection string, e models.Entity) (*models.Entity, error) {
	op, err := a.SaveRequest(collection, e)
	if err != nil {
		return nil, err
	}
	return a.Replay(ctx, op)
}

func (a *API) RemoveByID(ctx context.Context, collection, id string) (int, error) {
	if id == "" {
		return 0, common.ErrIDRequired
	}
	resp, err := a.transport.Execute(ctx, &Request{Method: http.MethodDelete, Path: a.entityPath(collection, id)})
	if err != nil {
		return 0, err
	}
	return parseCount(resp.Body)
}

func (a *API) Remove(ctx context.Context, collection string, q *query.Query) (int, error) {
	op, err := a.RemoveRequest(collection, "", q)
	if err != nil {
		return 0, err
	}
	resp, err := a.transport.Execute(ctx, &Request{Method: op.Method, Path: op.URL})
	if err != nil {
		return 0, err
	}
	return parseCount(resp.Body)
}

func (a *API) SaveRequest(collection string, e models.Entity) (models.PendingOperation, error) {
	doc := e.Document()
	method, path := http.MethodPut, a.entityPath(collection, e.ID)
	if e.ID == "" || models.IsTempID(e.ID) {
		delete(doc, common.FieldID)
		method, path = http.MethodPost, a.collectionPath(collection)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return models.PendingOperation{}, fmt.Errorf("failed to encode entity: %w", err)
	}
	return a.newOperation(collection, e.ID, method, path, body), nil
}

func (a *API) RemoveRequest(collection, id string, q *query.Query) (models.PendingOperation, error) {
	if id != "" {
		return a.newOperation(collection, id, http.MethodDelete, a.entityPath(collection, id), nil), nil
	}
	path := a.collectionPath(collection)
	if q != nil && q.Filter != nil {
		f, err := a.translator(collection).FilterJSON(q)
		if err != nil {
			return models.PendingOperation{}, err
		}
		path += "?" + url.Values{"query": {f}}.Encode()
	}
	return a.newOperation(collection, "", http.MethodDelete, path, nil), nil
}

func (a *API) newOperation(collection, id, method, path string, body []byte) models.PendingOperation {
	headers := map[string]string{APIVersionHeader: APIVersion}
	if body != nil {
		headers["Content-Type"] = "application/json"
	}
	return models.PendingOperation{
		RequestID:  uuid.NewString(),
		CreatedAt:  a.now(),
		Collection: collection,
		EntityID:   id,
		Method:     method,
		URL:        path,
		Headers:    headers,
		Body:       body,
	}
}

func (a *API) Replay(ctx context.Context, op models.PendingOperation) (*models.Entity, error) {
	req := &Request{Method: op.Method, Path: op.URL, Header: http.Header{}, Body: op.Body}
	for k, v := range op.Headers {
		req.Header.Set(k, v)
	}
	resp, err := a.transport.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if op.IsDelete() {
		return nil, nil
	}
	return parseEntity(resp.Body)
}

// Aggregate runs a grouping on the server. Aggregations are never computed
// from the local cache.
func (a *API) Aggregate(ctx context.Context, collection string, agg Aggregation) ([]map[string]any, error) {
	body := map[string]any{
		"key":     agg.keyDoc(),
		"initial": agg.Initial,
		"reduce":  agg.Reduce,
	}
	if agg.Condition != nil {
		cond, err := a.translator(collection).Filter(agg.Condition)
		if err != nil {
			return nil, err
		}
		body["condition"] = cond
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode aggregation: %w", err)
	}
	resp, err := a.transport.Execute(ctx, &Request{Method: http.MethodPost, Path: a.collectionPath(collection) + "_group", Body: b})
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, common.Wrap(common.KindServer, "unexpected aggregation response", err)
	}
	return out, nil
}

type loginBody struct {
	ID  string `json:"_id"`
	Kmd struct {
		AuthToken    string `json:"authtoken"`
		RefreshToken string `json:"refresh_token"`
	} `json:"_kmd"`
}

// Login authenticates a user with the app credentials and returns the
// user's tokens.
func (a *API) Login(ctx context.Context, username, password string) (auth.Tokens, error) {
	b, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return auth.Tokens{}, err
	}
	h, err := a.appHeader(ctx)
	if err != nil {
		return auth.Tokens{}, err
	}
	resp, err := a.transport.Execute(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/user/" + url.PathEscape(a.app.AppKey) + "/login",
		Header: h,
		Body:   b,
	})
	if err != nil {
		return auth.Tokens{}, err
	}
	var lb loginBody
	if err := json.Unmarshal(resp.Body, &lb); err != nil {
		return auth.Tokens{}, common.Wrap(common.KindServer, "unexpected login response", err)
	}
	if lb.Kmd.AuthToken == "" {
		return auth.Tokens{}, common.NewError(common.KindServer, "login response carries no token")
	}
	return auth.Tokens{UserID: lb.ID, AccessToken: lb.Kmd.AuthToken, RefreshToken: lb.Kmd.RefreshToken}, nil
}

type tokenBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens exchanges a refresh token. It has the auth.Refresher shape.
func (a *API) RefreshTokens(ctx context.Context, refreshToken string) (auth.Tokens, error) {
	b, err := json.Marshal(map[string]string{"grant_type": "refresh_token", "refresh_token": refreshToken})
	if err != nil {
		return auth.Tokens{}, err
	}
	h, err := a.appHeader(ctx)
	if err != nil {
		return auth.Tokens{}, err
	}
	resp, err := a.transport.Execute(ctx, &Request{Method: http.MethodPost, Path: "/oauth/token", Header: h, Body: b})
	if err != nil {
		return auth.Tokens{}, err
	}
	var tb tokenBody
	if err := json.Unmarshal(resp.Body, &tb); err != nil {
		return auth.Tokens{}, common.Wrap(common.KindServer, "unexpected token response", err)
	}
	return auth.Tokens{AccessToken: tb.AccessToken, RefreshToken: tb.RefreshToken}, nil
}

func (a *API) appHeader(ctx context.Context) (http.Header, error) {
	v, err := a.app.Authorization(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(common.AuthorizationHeaderName, v)
	return h, nil
}

func parseEntity(body []byte) (*models.Entity, error) {
	var e models.Entity
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, common.Wrap(common.KindServer, "unexpected entity response", err)
	}
	return &e, nil
}

func parseCount(body []byte) (int, error) {
	if len(body) == 0 {
		return 0, nil
	}
	var cb countBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return 0, common.Wrap(common.KindServer, "unexpected count response", err)
	}
	return cb.Count, nil
}

package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/synckit/internal/client/auth"
	"github.com/dmitrijs2005/synckit/internal/client/metrics"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/dmitrijs2005/synckit/internal/logging"
)

const (
	APIVersionHeader = "X-Kinvey-API-Version"
	APIVersion       = "5"
)

// Request is one backend call. Path is relative to the base URL and may
// already carry a query string; Query is appended to it.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// RequestStart returns the server's request-start timestamp.
func (r *Response) RequestStart() string {
	return r.Header.Get(common.RequestStartHeaderName)
}

// Transport executes requests. A non-2xx answer is returned as an error
// built by MapError.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

type HTTPTransport struct {
	baseURL  string
	auth     auth.Provider
	client   *http.Client
	timeout  time.Duration
	retryMax int
	backOff  func() backoff.BackOff
	log      logging.Logger
	metrics  *metrics.Collector
}

type Option func(*HTTPTransport)

// WithTimeout bounds every attempt. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) { t.timeout = d }
}

// WithRetryMax sets how many times a GET is retried on transient failures.
func WithRetryMax(n int) Option {
	return func(t *HTTPTransport) { t.retryMax = n }
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.client = c }
}

func WithBackOff(fn func() backoff.BackOff) Option {
	return func(t *HTTPTransport) { t.backOff = fn }
}

func WithLogger(l logging.Logger) Option {
	return func(t *HTTPTransport) { t.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(t *HTTPTransport) { t.metrics = m }
}

func NewHTTPTransport(baseURL string, provider auth.Provider, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		baseURL:  strings.TrimRight(baseURL, "/"),
		auth:     provider,
		client:   http.DefaultClient,
		timeout:  60 * time.Second,
		retryMax: 3,
		log:      logging.Nop(),
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

var errRetryableStatus = errors.New("retryable status")

func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.executeWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && t.refreshable(req) {
		if rerr := t.auth.Refresh(ctx); rerr != nil {
			t.log.Debug(ctx, "credential refresh failed", "method", req.Method, "path", req.Path, "error", rerr)
		} else {
			resp, err = t.executeWithRetry(ctx, req)
			if err != nil {
				return nil, err
			}
		}
	}

	if resp.Status >= http.StatusMultipleChoices {
		return nil, MapError(resp.Status, resp.Body)
	}
	return resp, nil
}

// refreshable reports whether a 401 on req may be fixed by refreshing the
// provider's credentials. Requests carrying their own Authorization header
// (login, token exchange) are not.
func (t *HTTPTransport) refreshable(req *Request) bool {
	return t.auth != nil && req.Header.Get(common.AuthorizationHeaderName) == ""
}

func (t *HTTPTransport) executeWithRetry(ctx context.Context, req *Request) (*Response, error) {
	if req.Method != http.MethodGet || t.retryMax <= 0 {
		return t.do(ctx, req)
	}

	var resp *Response
	op := func() error {
		r, err := t.do(ctx, req)
		if err != nil {
			if common.IsKind(err, common.KindCancelled) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		if retryableStatus(r.Status) {
			return errRetryableStatus
		}
		return nil
	}
	notify := func(err error, d time.Duration) {
		t.log.Debug(ctx, "retrying request", "method", req.Method, "path", req.Path, "after", d, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(t.backOff(), uint64(t.retryMax)), ctx)
	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil, errors.Is(err, errRetryableStatus):
		return resp, nil
	default:
		return nil, common.FromContext(err)
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *HTTPTransport) url(req *Request) string {
	u := t.baseURL + req.Path
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(req.Path, "?") {
			sep = "&"
		}
		u += sep + req.Query.Encode()
	}
	return u
}

func (t *HTTPTransport) do(ctx context.Context, req *Request) (*Response, error) {
	attemptCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(attemptCtx, req.Method, t.url(req), body)
	if err != nil {
		return nil, common.Wrap(common.KindInvalidOperation, "failed to build request", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if hr.Header.Get(common.AuthorizationHeaderName) == "" && t.auth != nil {
		h, err := t.auth.Authorization(ctx)
		if err != nil {
			return nil, err
		}
		hr.Header.Set(common.AuthorizationHeaderName, h)
	}
	if req.Body != nil && hr.Header.Get("Content-Type") == "" {
		hr.Header.Set("Content-Type", "application/json")
	}
	if hr.Header.Get(APIVersionHeader) == "" {
		hr.Header.Set(APIVersionHeader, APIVersion)
	}

	res, err := t.client.Do(hr)
	if err != nil {
		t.metrics.ObserveRequest(req.Method, 0)
		return nil, t.classify(ctx, attemptCtx, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.metrics.ObserveRequest(req.Method, 0)
		return nil, t.classify(ctx, attemptCtx, err)
	}
	t.metrics.ObserveRequest(req.Method, res.StatusCode)

	return &Response{Status: res.StatusCode, Header: res.Header, Body: b}, nil
}

func (t *HTTPTransport) classify(ctx, attemptCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return common.FromContext(ctx.Err())
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return common.Wrap(common.KindRequestTimeout, "request timed out", err)
	default:
		return common.Wrap(common.KindNetwork, "request failed", err)
	}
}

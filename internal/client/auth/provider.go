// Package auth produces the Authorization header for backend requests.
//
// AppCredentials authenticates as the application itself. Session carries a
// logged-in user's tokens and falls back to the application credentials when
// nobody is logged in.
package auth

import (
	"context"
	"encoding/base64"

	"github.com/dmitrijs2005/synckit/internal/common"
)

// Provider supplies credentials to the transport. Refresh is called at most
// once per request, after the server rejected the current credentials.
type Provider interface {
	Authorization(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// AppCredentials is HTTP basic auth with the app key and secret.
type AppCredentials struct {
	AppKey    string
	AppSecret string
}

func (c AppCredentials) Authorization(context.Context) (string, error) {
	if c.AppKey == "" {
		return "", common.ErrClientNotInitialized
	}
	raw := c.AppKey + ":" + c.AppSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

func (c AppCredentials) Refresh(context.Context) error {
	return common.NewError(common.KindUnauthorized, "app credentials cannot be refreshed")
}

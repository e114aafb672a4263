package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/synckit/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/dmitrijs2005/synckit/internal/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpirySkew is how long before its exp claim an access token is
// refreshed proactively.
const DefaultExpirySkew = 30 * time.Second

// Tokens is the credential set of a logged-in user.
type Tokens struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresher exchanges a refresh token for a new token set.
type Refresher func(ctx context.Context, refreshToken string) (Tokens, error)

// Session is the Provider used once a user may log in.
type Session struct {
	app  AppCredentials
	skew time.Duration
	now  func() time.Time

	mu        sync.Mutex
	refresher Refresher
	tokens    *Tokens
}

func NewSession(app AppCredentials) *Session {
	return &Session{app: app, skew: DefaultExpirySkew, now: time.Now}
}

// SetRefresher installs the token exchange. The backend API usually needs a
// transport built on this session, so it is wired after construction.
func (s *Session) SetRefresher(r Refresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresher = r
}

// Login swaps in a user's tokens.
func (s *Session) Login(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = &t
}

// Logout drops the user's tokens; later requests use app credentials.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens != nil
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		return ""
	}
	return s.tokens.UserID
}

func (s *Session) Authorization(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens == nil {
		return s.app.Authorization(ctx)
	}

	if s.expiring(s.tokens.AccessToken) && s.tokens.RefreshToken != "" && s.refresher != nil {
		// a failed proactive refresh is retried after the server answers 401
		_ = s.refreshLocked(ctx)
	}
	return "Bearer " + s.tokens.AccessToken, nil
}

func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		return common.NewError(common.KindUnauthorized, "no active user session")
	}
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refresher == nil || s.tokens.RefreshToken == "" {
		return common.NewError(common.KindUnauthorized, "session cannot be refreshed")
	}

	t, err := s.refresher(ctx, s.tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	if t.RefreshToken == "" {
		t.RefreshToken = s.tokens.RefreshToken
	}
	if t.UserID == "" {
		t.UserID = s.tokens.UserID
	}
	s.tokens = &t
	return nil
}

// expiring reports whether token is a JWT whose exp falls within the skew.
// Opaque tokens never expire from the client's point of view.
func (s *Session) expiring(token string) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return s.now().Add(s.skew).After(exp.Time)
}

// Save persists the current tokens sealed with a key derived from secret.
// A logged-out session removes any persisted tokens.
func (s *Session) Save(ctx context.Context, repo metadata.Repository, secret []byte) error {
	s.mu.Lock()
	var tokens *Tokens
	if s.tokens != nil {
		t := *s.tokens
		tokens = &t
	}
	s.mu.Unlock()

	if tokens == nil {
		if err := repo.Delete(ctx, metadata.KeySession); err != nil {
			return err
		}
		return repo.Delete(ctx, metadata.KeySessionNonce)
	}

	salt, err := repo.Get(ctx, metadata.KeySessionSalt)
	if err != nil {
		return err
	}
	if salt == nil {
		if salt, err = cryptox.RandomBytes(16); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := repo.Set(ctx, metadata.KeySessionSalt, salt); err != nil {
			return err
		}
	}

	key, err := cryptox.DeriveKey(secret, salt)
	if err != nil {
		return fmt.Errorf("failed to derive session key: %w", err)
	}
	ct, nonce, err := cryptox.Seal(tokens, key)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}
	if err := repo.Set(ctx, metadata.KeySession, ct); err != nil {
		return err
	}
	return repo.Set(ctx, metadata.KeySessionNonce, nonce)
}

// Load restores tokens written by Save. It reports false when nothing was
// persisted.
func (s *Session) Load(ctx context.Context, repo metadata.Repository, secret []byte) (bool, error) {
	ct, err := repo.Get(ctx, metadata.KeySession)
	if err != nil || ct == nil {
		return false, err
	}
	nonce, err := repo.Get(ctx, metadata.KeySessionNonce)
	if err != nil {
		return false, err
	}
	salt, err := repo.Get(ctx, metadata.KeySessionSalt)
	if err != nil {
		return false, err
	}

	key, err := cryptox.DeriveKey(secret, salt)
	if err != nil {
		return false, fmt.Errorf("failed to derive session key: %w", err)
	}
	var t Tokens
	if err := cryptox.Open(ct, nonce, key, &t); err != nil {
		return false, fmt.Errorf("failed to open session: %w", err)
	}
	s.Login(t)
	return true, nil
}

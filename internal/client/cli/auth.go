package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Login prompts for credentials, exchanges them for user tokens and
// persists the session sealed in the store metadata. Later requests are
// sent on behalf of the user.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	tokens, err := a.api.Login(ctx, userName, string(password))
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	a.session.Login(tokens)
	if err := a.session.Save(ctx, a.store.Metadata(), a.secret()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	a.log.Info(ctx, "logged in", "user", tokens.UserID)
	fmt.Fprintf(a.out, "Logged in as %s\n", tokens.UserID)
	return nil
}

// Logout drops the user tokens. Requests fall back to app credentials.
func (a *App) Logout(ctx context.Context) error {
	a.session.Logout()
	if err := a.session.Save(ctx, a.store.Metadata(), a.secret()); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

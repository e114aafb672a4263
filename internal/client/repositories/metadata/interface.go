// Package metadata stores key/value facts about the local store itself:
// the caller's schema version and the sealed user session.
package metadata

import (
	"context"
)

const (
	KeySchemaVersion = "schema_version"
	KeySession       = "session"
	KeySessionNonce  = "session_nonce"
	KeySessionSalt   = "session_salt"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error

	// GetInt returns the integer stored under key and whether it was present.
	GetInt(ctx context.Context, key string) (int, bool, error)
	SetInt(ctx context.Context, key string, v int) error
}

// Package pending persists the log of local mutations awaiting replay.
// Entries are returned in creation order.
package pending

import (
	"context"

	"github.com/dmitrijs2005/synckit/internal/client/models"
)

type Repository interface {
	Add(ctx context.Context, op models.PendingOperation) error

	// Update rewrites method, URL, headers and body of an entry by request id.
	Update(ctx context.Context, op models.PendingOperation) error

	// List returns the entries of collection, or of every collection when
	// collection is "".
	List(ctx context.Context, collection string) ([]models.PendingOperation, error)
	ListByEntity(ctx context.Context, collection, entityID string) ([]models.PendingOperation, error)

	Delete(ctx context.Context, requestID string) error
	DeleteByEntity(ctx context.Context, collection, entityID string) (int, error)
	DeleteByCollection(ctx context.Context, collection string) (int, error)

	// Count counts the entries of collection ("" for all).
	Count(ctx context.Context, collection string) (int, error)

	// ReplaceEntityID moves entries of oldID to newID, rewriting their URLs.
	ReplaceEntityID(ctx context.Context, collection, oldID, newID string) error
}

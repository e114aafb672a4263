// Package querycache stores sync checkpoints: for each (collection, query,
// fields) shape, the server time of the last complete fetch.
package querycache

import (
	"context"

	"github.com/dmitrijs2005/synckit/internal/client/models"
)

type Repository interface {
	// Get returns (nil, nil) when no checkpoint exists.
	Get(ctx context.Context, collection, query, fields string) (*models.Checkpoint, error)
	Set(ctx context.Context, cp models.Checkpoint) error
	Delete(ctx context.Context, collection, query, fields string) error
	DeleteByCollection(ctx context.Context, collection string) (int, error)
}

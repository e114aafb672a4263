// Package records persists the cached documents of every collection.
//
// Documents are stored as JSON in their storage form (see query.Schema).
// Embedded entities that carry their own "_id" are also kept once in the
// nested_objects table and referenced from record_refs; removing the last
// record that references a nested object removes the object as well.
package records

import (
	"context"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
)

type Repository interface {
	// Upsert inserts or replaces entities by (collection, id). Every entity
	// must have an id.
	Upsert(ctx context.Context, collection string, entities []models.Entity) error

	Find(ctx context.Context, collection string, q *query.Query) ([]models.Entity, error)

	// FindByID returns common.ErrorNotFound when the record is not cached.
	FindByID(ctx context.Context, collection, id string) (*models.Entity, error)

	// Count ignores skip and limit.
	Count(ctx context.Context, collection string, q *query.Query) (int, error)

	// RemoveByID reports how many records were removed (0 or 1).
	RemoveByID(ctx context.Context, collection, id string) (int, error)

	// Remove deletes the records matching q's filter and returns their ids.
	Remove(ctx context.Context, collection string, q *query.Query) ([]string, error)

	// Versions returns id -> lmt for every cached record of collection.
	Versions(ctx context.Context, collection string) (map[string]string, error)

	// ReplaceID renames a record, keeping its nested references.
	ReplaceID(ctx context.Context, collection, oldID, newID string) error

	// Clear removes every record of collection.
	Clear(ctx context.Context, collection string) error
}

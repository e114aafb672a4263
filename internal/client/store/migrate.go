package store

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/synckit/internal/common"
)

// checkSchemaVersion compares the caller's schema version with the stored one
// and runs the migration callback on mismatch. A fresh store just records
// the version.
func checkSchemaVersion(ctx context.Context, s Store, opts Options) error {
	return s.WithTx(ctx, func(ctx context.Context, tx Repos) error {
		stored, ok, err := tx.Metadata().GetInt(ctx, metadata.KeySchemaVersion)
		if err != nil {
			return common.Wrap(common.KindMigrationFailed, "read schema version", err)
		}
		if ok && stored == opts.SchemaVersion {
			return nil
		}
		if ok && opts.Migrate != nil {
			opts.logger().Info(ctx, "migrating store", "from", stored, "to", opts.SchemaVersion)
			if err := opts.Migrate(ctx, tx, stored, opts.SchemaVersion); err != nil {
				return common.Wrap(common.KindMigrationFailed,
					fmt.Sprintf("migrate schema %d -> %d", stored, opts.SchemaVersion), err)
			}
		}
		if err := tx.Metadata().SetInt(ctx, metadata.KeySchemaVersion, opts.SchemaVersion); err != nil {
			return common.Wrap(common.KindMigrationFailed, "write schema version", err)
		}
		return nil
	})
}

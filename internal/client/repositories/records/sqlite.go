package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/dmitrijs2005/synckit/internal/dbx"
	"github.com/goccy/go-json"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db      dbx.DBTX
	schemas *query.Registry
}

// NewSQLiteRepository returns a repository bound to db. schemas may be nil.
func NewSQLiteRepository(db dbx.DBTX, schemas *query.Registry) *SQLiteRepository {
	return &SQLiteRepository{db: db, schemas: schemas}
}

func (r *SQLiteRepository) translator(collection string) *query.Translator {
	return query.NewTranslator(r.schemas.Schema(collection))
}

func (r *SQLiteRepository) Upsert(ctx context.Context, collection string, entities []models.Entity) error {
	schema := r.schemas.Schema(collection)
	for _, e := range entities {
		if e.ID == "" {
			return common.ErrIDRequired
		}
		doc := e.Document()
		body, err := json.Marshal(schema.ToStorage(doc))
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", e.ID, err)
		}
		var ect, lmt, lrt string
		if e.Meta != nil {
			ect, lmt, lrt = e.Meta.Ect, e.Meta.Lmt, e.Meta.Lrt
		}
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO records (collection, id, doc, ect, lmt, lrt) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET doc = excluded.doc,
				ect = excluded.ect, lmt = excluded.lmt, lrt = excluded.lrt
		`, collection, e.ID, string(body), ect, lmt, lrt)
		if err != nil {
			return fmt.Errorf("failed to upsert record: %w", err)
		}
		if err := r.writeRefs(ctx, collection, e.ID, schema.Nested(doc)); err != nil {
			return err
		}
	}
	return r.dropOrphans(ctx)
}

func (r *SQLiteRepository) writeRefs(ctx context.Context, collection, id string, nested []query.NestedObject) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM record_refs WHERE collection = ? AND record_id = ?`, collection, id); err != nil {
		return fmt.Errorf("failed to reset references: %w", err)
	}
	for _, n := range nested {
		body, err := json.Marshal(n.Doc)
		if err != nil {
			return fmt.Errorf("failed to encode nested %s/%s: %w", n.Type, n.ID, err)
		}
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO nested_objects (type, id, doc) VALUES (?, ?, ?)
			ON CONFLICT(type, id) DO UPDATE SET doc = excluded.doc
		`, n.Type, n.ID, string(body)); err != nil {
			return fmt.Errorf("failed to upsert nested object: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO record_refs (collection, record_id, type, nested_id) VALUES (?, ?, ?, ?)
		`, collection, id, n.Type, n.ID); err != nil {
			return fmt.Errorf("failed to insert reference: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) dropOrphans(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM nested_objects WHERE NOT EXISTS (
			SELECT 1 FROM record_refs rr WHERE rr.type = nested_objects.type AND rr.nested_id = nested_objects.id
		)`)
	if err != nil {
		return fmt.Errorf("failed to delete orphaned nested objects: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Find(ctx context.Context, collection string, q *query.Query) ([]models.Entity, error) {
	tr := r.translator(collection)
	f, err := tr.SQL(q)
	if err != nil {
		return nil, err
	}

	stmt := `SELECT doc FROM records WHERE collection = ? AND (` + f.Where + `)`
	args := append([]any{collection}, f.WhereArgs...)
	if f.OrderBy != "" {
		stmt += ` ORDER BY ` + f.OrderBy + `, rowid`
		args = append(args, f.OrderArgs...)
	} else {
		stmt += ` ORDER BY rowid`
	}
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		stmt += ` LIMIT ? OFFSET ?`
		args = append(args, limit, f.Offset)
	}

	docs, err := r.queryDocs(ctx, tr.Schema(), stmt, args...)
	if err != nil {
		return nil, err
	}
	if f.InMemory {
		docs, err = tr.Apply(q, docs)
		if err != nil {
			return nil, err
		}
	}

	result := make([]models.Entity, 0, len(docs))
	for _, d := range docs {
		e, err := models.FromDocument(tr.Project(q, d))
		if err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		result = append(result, e)
	}
	return result, nil
}

func (r *SQLiteRepository) queryDocs(ctx context.Context, schema *query.Schema, stmt string, args ...any) ([]map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		docs = append(docs, schema.FromStorage(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if schema == nil {
		return docs, nil
	}
	for i, d := range docs {
		docs[i] = schema.Hydrate(d, func(typ, id string) (map[string]any, bool) {
			shared, err := r.nested(ctx, typ, id)
			return shared, err == nil && shared != nil
		})
	}
	return docs, nil
}

func (r *SQLiteRepository) nested(ctx context.Context, typ, id string) (map[string]any, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM nested_objects WHERE type = ? AND id = ?`, typ, id).Scan(&raw)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *SQLiteRepository) FindByID(ctx context.Context, collection, id string) (*models.Entity, error) {
	docs, err := r.queryDocs(ctx, r.schemas.Schema(collection),
		`SELECT doc FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.ErrorNotFound
	}
	e, err := models.FromDocument(docs[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &e, nil
}

func (r *SQLiteRepository) Count(ctx context.Context, collection string, q *query.Query) (int, error) {
	q = q.Clone()
	q.Skip, q.Limit, q.Sort = 0, 0, nil

	tr := r.translator(collection)
	f, err := tr.SQL(q)
	if err != nil {
		return 0, err
	}
	if f.InMemory {
		ids, err := r.matchingIDs(ctx, collection, q)
		return len(ids), err
	}

	var n int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ? AND (`+f.Where+`)`,
		append([]any{collection}, f.WhereArgs...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) matchingIDs(ctx context.Context, collection string, q *query.Query) ([]string, error) {
	q = q.Clone()
	q.Skip, q.Limit, q.Sort, q.Fields = 0, 0, nil, nil
	found, err := r.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(found))
	for _, e := range found {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (r *SQLiteRepository) RemoveByID(ctx context.Context, collection, id string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM record_refs WHERE collection = ? AND record_id = ?`, collection, id); err != nil {
		return 0, fmt.Errorf("failed to delete references: %w", err)
	}
	if err := r.dropOrphans(ctx); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, collection string, q *query.Query) ([]string, error) {
	ids, err := r.matchingIDs(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := r.RemoveByID(ctx, collection, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (r *SQLiteRepository) Versions(ctx context.Context, collection string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, lmt FROM records WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to select versions: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var id, lmt string
		if err := rows.Scan(&id, &lmt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		result[id] = lmt
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) ReplaceID(ctx context.Context, collection, oldID, newID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE records SET id = ?, doc = json_set(doc, '$._id', ?)
		WHERE collection = ? AND id = ?
	`, newID, newID, collection, oldID)
	if err != nil {
		return fmt.Errorf("failed to replace record id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	if _, err := r.db.ExecContext(ctx, `
		UPDATE record_refs SET record_id = ? WHERE collection = ? AND record_id = ?
	`, newID, collection, oldID); err != nil {
		return fmt.Errorf("failed to replace reference owner: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context, collection string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM record_refs WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear references: %w", err)
	}
	return r.dropOrphans(ctx)
}

// IsNotFound reports whether err means a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrorNotFound) || errors.Is(err, sql.ErrNoRows)
}

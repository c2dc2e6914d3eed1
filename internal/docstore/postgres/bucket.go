// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/starhold/starhold/internal/docstore"
)

// Bucket implements docstore.Bucket on a PostgreSQL engine.
type Bucket struct {
	engine *Engine
	name   string
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Get fetches a document body.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := b.engine.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE bucket = $1 AND key = $2`,
		b.name, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("bucket", b.name).With("key", key).Wrap(docstore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("STORE_GET_FAILED").
			With("bucket", b.name).
			With("key", key).
			Wrap(err)
	}
	return body, nil
}

// Add stores a new document and maintains the view indexes in the same
// transaction. Fails with ErrKeyExists if the key is already present.
func (b *Bucket) Add(ctx context.Context, key string, value []byte) error {
	return b.write(ctx, key, value, false)
}

// Set stores a document unconditionally and maintains the view indexes in
// the same transaction.
func (b *Bucket) Set(ctx context.Context, key string, value []byte) error {
	return b.write(ctx, key, value, true)
}

func (b *Bucket) write(ctx context.Context, key string, value []byte, upsert bool) error {
	tx, err := b.engine.pool.Begin(ctx)
	if err != nil {
		return oops.Code("STORE_WRITE_FAILED").
			With("operation", "begin transaction").
			With("bucket", b.name).
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // no-op after commit

	if upsert {
		_, err = tx.Exec(ctx, `
			INSERT INTO documents (bucket, key, body)
			VALUES ($1, $2, $3)
			ON CONFLICT (bucket, key)
			DO UPDATE SET body = EXCLUDED.body, updated_at = now()
		`, b.name, key, value)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO documents (bucket, key, body)
			VALUES ($1, $2, $3)
		`, b.name, key, value)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.With("bucket", b.name).With("key", key).Wrap(docstore.ErrKeyExists)
		}
		return oops.Code("STORE_WRITE_FAILED").
			With("bucket", b.name).
			With("key", key).
			Wrap(err)
	}

	if err := b.indexDocument(ctx, tx, key, value); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("STORE_WRITE_FAILED").
			With("operation", "commit").
			With("bucket", b.name).
			With("key", key).
			Wrap(err)
	}
	return nil
}

// indexDocument replaces the view entries for one document by running every
// registered map function against the new body.
func (b *Bucket) indexDocument(ctx context.Context, tx pgx.Tx, key string, value []byte) error {
	_, err := tx.Exec(ctx,
		`DELETE FROM view_entries WHERE bucket = $1 AND doc_key = $2`,
		b.name, key)
	if err != nil {
		return oops.Code("STORE_INDEX_FAILED").
			With("operation", "clear view entries").
			With("bucket", b.name).
			With("key", key).
			Wrap(err)
	}

	for mapperKey, mapFn := range b.engine.mappers {
		design, view, ok := strings.Cut(mapperKey, "/")
		if !ok {
			continue
		}
		for _, e := range mapFn(key, value) {
			_, err := tx.Exec(ctx, `
				INSERT INTO view_entries (bucket, design, view, key, doc_key, value)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (bucket, design, view, key, doc_key) DO UPDATE SET value = EXCLUDED.value
			`, b.name, design, view, e.Key, key, e.Value)
			if err != nil {
				return oops.Code("STORE_INDEX_FAILED").
					With("operation", "insert view entry").
					With("bucket", b.name).
					With("design", design).
					With("view", view).
					Wrap(err)
			}
		}
	}
	return nil
}

// Incr atomically adds delta to the integer document at key. The single
// UPDATE statement is the store's atomic increment primitive; there is no
// application-level read-modify-write.
func (b *Bucket) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	var raw string
	err := b.engine.pool.QueryRow(ctx, `
		UPDATE documents
		SET body = convert_to(((convert_from(body, 'UTF8'))::bigint + $3)::text, 'UTF8'),
		    updated_at = now()
		WHERE bucket = $1 AND key = $2
		RETURNING convert_from(body, 'UTF8')
	`, b.name, key, delta).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, oops.With("bucket", b.name).With("key", key).Wrap(docstore.ErrNotFound)
	}
	if err != nil {
		return 0, oops.Code("STORE_INCR_FAILED").
			With("bucket", b.name).
			With("key", key).
			Wrap(err)
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, oops.Code("STORE_COUNTER_CORRUPT").
			With("bucket", b.name).
			With("key", key).
			Wrap(err)
	}
	return value, nil
}

// DesignDocument fetches a design document.
func (b *Bucket) DesignDocument(ctx context.Context, name string) (*docstore.DesignDocument, error) {
	var viewsJSON []byte
	err := b.engine.pool.QueryRow(ctx,
		`SELECT views FROM design_documents WHERE bucket = $1 AND name = $2`,
		b.name, name).Scan(&viewsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("bucket", b.name).With("design", name).Wrap(docstore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("STORE_DESIGN_GET_FAILED").
			With("bucket", b.name).
			With("design", name).
			Wrap(err)
	}

	doc := &docstore.DesignDocument{Name: name}
	if err := json.Unmarshal(viewsJSON, &doc.Views); err != nil {
		return nil, oops.Code("STORE_DESIGN_CORRUPT").
			With("bucket", b.name).
			With("design", name).
			Wrap(err)
	}
	return doc, nil
}

// PutDesignDocument persists a design document and rebuilds the bucket's
// view entries so that views added after documents were written still index
// them. Runs in one transaction; startup-only cost.
func (b *Bucket) PutDesignDocument(ctx context.Context, doc *docstore.DesignDocument) error {
	viewsJSON, err := json.Marshal(doc.Views)
	if err != nil {
		return oops.Code("STORE_DESIGN_PUT_FAILED").
			With("operation", "marshal views").
			With("design", doc.Name).
			Wrap(err)
	}

	tx, err := b.engine.pool.Begin(ctx)
	if err != nil {
		return oops.Code("STORE_DESIGN_PUT_FAILED").
			With("operation", "begin transaction").
			With("design", doc.Name).
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO design_documents (bucket, name, views)
		VALUES ($1, $2, $3)
		ON CONFLICT (bucket, name)
		DO UPDATE SET views = EXCLUDED.views, updated_at = now()
	`, b.name, doc.Name, viewsJSON)
	if err != nil {
		return oops.Code("STORE_DESIGN_PUT_FAILED").
			With("bucket", b.name).
			With("design", doc.Name).
			Wrap(err)
	}

	if err := b.reindexAll(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("STORE_DESIGN_PUT_FAILED").
			With("operation", "commit").
			With("design", doc.Name).
			Wrap(err)
	}
	return nil
}

// reindexAll rebuilds every view entry in the bucket from the documents.
func (b *Bucket) reindexAll(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `DELETE FROM view_entries WHERE bucket = $1`, b.name)
	if err != nil {
		return oops.Code("STORE_INDEX_FAILED").
			With("operation", "clear bucket view entries").
			With("bucket", b.name).
			Wrap(err)
	}

	rows, err := tx.Query(ctx,
		`SELECT key, body FROM documents WHERE bucket = $1`, b.name)
	if err != nil {
		return oops.Code("STORE_INDEX_FAILED").
			With("operation", "scan documents").
			With("bucket", b.name).
			Wrap(err)
	}

	type doc struct {
		key  string
		body []byte
	}
	var docs []doc
	for rows.Next() {
		var d doc
		if err := rows.Scan(&d.key, &d.body); err != nil {
			rows.Close()
			return oops.Code("STORE_INDEX_FAILED").
				With("operation", "scan document row").
				With("bucket", b.name).
				Wrap(err)
		}
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return oops.Code("STORE_INDEX_FAILED").
			With("operation", "iterate documents").
			With("bucket", b.name).
			Wrap(err)
	}

	for _, d := range docs {
		if err := b.indexDocument(ctx, tx, d.key, d.body); err != nil {
			return err
		}
	}
	return nil
}

// QueryView runs a view query. Because indexes are maintained in the same
// transaction as the write, Stale and Strong reads see identical data.
func (b *Bucket) QueryView(ctx context.Context, q docstore.ViewQuery) ([]docstore.ViewRow, error) {
	design, err := b.DesignDocument(ctx, q.Design)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, oops.With("design", q.Design).With("view", q.View).Wrap(docstore.ErrViewNotFound)
	}
	if err != nil {
		return nil, err
	}
	if _, ok := design.View(q.View); !ok {
		return nil, oops.With("design", q.Design).With("view", q.View).Wrap(docstore.ErrViewNotFound)
	}
	if _, ok := b.engine.mappers[docstore.MapperKey(q.Design, q.View)]; !ok {
		return nil, oops.With("design", q.Design).With("view", q.View).Wrap(docstore.ErrViewNotFound)
	}

	var rows pgx.Rows
	switch {
	case q.IncludeDocs && q.Key != nil:
		rows, err = b.engine.pool.Query(ctx, `
			SELECT v.key, v.doc_key, v.value, d.body
			FROM view_entries v
			JOIN documents d ON d.bucket = v.bucket AND d.key = v.doc_key
			WHERE v.bucket = $1 AND v.design = $2 AND v.view = $3 AND v.key = $4
			ORDER BY v.key, v.doc_key
		`, b.name, q.Design, q.View, *q.Key)
	case q.IncludeDocs:
		rows, err = b.engine.pool.Query(ctx, `
			SELECT v.key, v.doc_key, v.value, d.body
			FROM view_entries v
			JOIN documents d ON d.bucket = v.bucket AND d.key = v.doc_key
			WHERE v.bucket = $1 AND v.design = $2 AND v.view = $3
			ORDER BY v.key, v.doc_key
		`, b.name, q.Design, q.View)
	case q.Key != nil:
		rows, err = b.engine.pool.Query(ctx, `
			SELECT key, doc_key, value
			FROM view_entries
			WHERE bucket = $1 AND design = $2 AND view = $3 AND key = $4
			ORDER BY key, doc_key
		`, b.name, q.Design, q.View, *q.Key)
	default:
		rows, err = b.engine.pool.Query(ctx, `
			SELECT key, doc_key, value
			FROM view_entries
			WHERE bucket = $1 AND design = $2 AND view = $3
			ORDER BY key, doc_key
		`, b.name, q.Design, q.View)
	}
	if err != nil {
		return nil, oops.Code("STORE_VIEW_QUERY_FAILED").
			With("bucket", b.name).
			With("design", q.Design).
			With("view", q.View).
			Wrap(err)
	}
	defer rows.Close()

	var out []docstore.ViewRow
	for rows.Next() {
		var row docstore.ViewRow
		if q.IncludeDocs {
			err = rows.Scan(&row.Key, &row.ID, &row.Value, &row.Document)
		} else {
			err = rows.Scan(&row.Key, &row.ID, &row.Value)
		}
		if err != nil {
			return nil, oops.Code("STORE_VIEW_QUERY_FAILED").
				With("operation", "scan view row").
				With("view", q.View).
				Wrap(err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("STORE_VIEW_QUERY_FAILED").
			With("operation", "iterate view rows").
			With("view", q.View).
			Wrap(err)
	}
	return out, nil
}

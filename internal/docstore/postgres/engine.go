// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

// Package postgres implements the docstore contract on PostgreSQL.
// Documents are rows keyed by (bucket, key); view indexes are maintained
// synchronously in the same transaction as the originating write, so every
// query satisfies the Strong consistency level.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/starhold/starhold/internal/docstore"
)

// poolIface abstracts *pgxpool.Pool so unit tests can substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Engine owns the connection pool and hands out bucket handles.
type Engine struct {
	pool    poolIface
	mappers docstore.MapperRegistry
}

// New connects to PostgreSQL and returns an engine. The registry supplies
// the executable map functions used to maintain view indexes.
func New(ctx context.Context, databaseURL string, mappers docstore.MapperRegistry) (*Engine, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "create connection pool").
			Wrap(err)
	}
	return &Engine{pool: pool, mappers: mappers}, nil
}

// NewWithPool creates an engine over an existing pool. Used by tests.
func NewWithPool(pool poolIface, mappers docstore.MapperRegistry) *Engine {
	return &Engine{pool: pool, mappers: mappers}
}

// Close releases the connection pool.
func (e *Engine) Close() {
	e.pool.Close()
}

// Bucket returns a handle for the named bucket. Handles are stateless and
// safe for concurrent use.
func (e *Engine) Bucket(name string) *Bucket {
	return &Bucket{engine: e, name: name}
}

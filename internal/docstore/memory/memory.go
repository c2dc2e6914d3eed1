// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

// Package memory provides an embedded in-memory docstore engine for tests
// and single-node development. It implements the full bucket contract,
// including lazily rebuilt view indexes so that the Stale/Strong
// consistency split behaves the way a real store's would.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/samber/oops"

	"github.com/starhold/starhold/internal/docstore"
)

// Bucket is an in-memory docstore.Bucket. Safe for concurrent use.
type Bucket struct {
	name    string
	mappers docstore.MapperRegistry

	mu       sync.RWMutex
	docs     map[string][]byte
	designs  map[string]*docstore.DesignDocument
	snapshot map[string][]docstore.ViewRow // built index per design/view
	stale    map[string]bool               // snapshot out of date
}

// NewBucket creates an empty bucket. The registry supplies the executable
// map functions for any views later established on the bucket.
func NewBucket(name string, mappers docstore.MapperRegistry) *Bucket {
	return &Bucket{
		name:     name,
		mappers:  mappers,
		docs:     make(map[string][]byte),
		designs:  make(map[string]*docstore.DesignDocument),
		snapshot: make(map[string][]docstore.ViewRow),
		stale:    make(map[string]bool),
	}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Get fetches a document body.
func (b *Bucket) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc, ok := b.docs[key]
	if !ok {
		return nil, oops.With("key", key).Wrap(docstore.ErrNotFound)
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

// Add stores a new document, failing if the key exists.
func (b *Bucket) Add(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.docs[key]; ok {
		return oops.With("key", key).Wrap(docstore.ErrKeyExists)
	}
	b.store(key, value)
	return nil
}

// Set stores a document unconditionally.
func (b *Bucket) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store(key, value)
	return nil
}

// store writes the document and invalidates built index snapshots.
// Callers must hold the write lock.
func (b *Bucket) store(key string, value []byte) {
	doc := make([]byte, len(value))
	copy(doc, value)
	b.docs[key] = doc
	for view := range b.snapshot {
		b.stale[view] = true
	}
}

// Incr atomically adds delta to the integer document at key. The whole
// read-add-write happens under the write lock, so concurrent callers are
// linearized per bucket.
func (b *Bucket) Incr(_ context.Context, key string, delta int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, ok := b.docs[key]
	if !ok {
		return 0, oops.With("key", key).Wrap(docstore.ErrNotFound)
	}
	current, err := strconv.ParseInt(string(doc), 10, 64)
	if err != nil {
		return 0, oops.Code("STORE_COUNTER_CORRUPT").
			With("key", key).
			Wrap(err)
	}
	next := current + delta
	b.docs[key] = []byte(strconv.FormatInt(next, 10))
	return next, nil
}

// DesignDocument fetches a design document.
func (b *Bucket) DesignDocument(_ context.Context, name string) (*docstore.DesignDocument, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	design, ok := b.designs[name]
	if !ok {
		return nil, oops.With("design", name).Wrap(docstore.ErrNotFound)
	}
	out := &docstore.DesignDocument{Name: design.Name}
	out.Views = append(out.Views, design.Views...)
	return out, nil
}

// PutDesignDocument persists a design document as one write.
func (b *Bucket) PutDesignDocument(_ context.Context, doc *docstore.DesignDocument) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := &docstore.DesignDocument{Name: doc.Name}
	stored.Views = append(stored.Views, doc.Views...)
	b.designs[doc.Name] = stored

	// New views start without a snapshot and build on first query.
	for _, v := range stored.Views {
		delete(b.snapshot, docstore.MapperKey(doc.Name, v.Name))
	}
	return nil
}

// QueryView runs a view query. Strong consistency forces a rebuild of the
// view index; Stale serves the last built snapshot.
func (b *Bucket) QueryView(_ context.Context, q docstore.ViewQuery) ([]docstore.ViewRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	design, ok := b.designs[q.Design]
	if !ok {
		return nil, oops.With("design", q.Design).With("view", q.View).Wrap(docstore.ErrViewNotFound)
	}
	if _, ok := design.View(q.View); !ok {
		return nil, oops.With("design", q.Design).With("view", q.View).Wrap(docstore.ErrViewNotFound)
	}
	viewKey := docstore.MapperKey(q.Design, q.View)
	mapFn, ok := b.mappers[viewKey]
	if !ok {
		return nil, oops.With("design", q.Design).With("view", q.View).Wrap(docstore.ErrViewNotFound)
	}

	rows, built := b.snapshot[viewKey]
	if !built || b.stale[viewKey] && q.Consistency == docstore.Strong {
		rows = b.buildIndex(mapFn)
		b.snapshot[viewKey] = rows
		b.stale[viewKey] = false
	}

	var out []docstore.ViewRow
	for _, row := range rows {
		if q.Key != nil && row.Key != *q.Key {
			continue
		}
		if q.IncludeDocs {
			if doc, ok := b.docs[row.ID]; ok {
				body := make([]byte, len(doc))
				copy(body, doc)
				row.Document = body
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// buildIndex applies the map function to every document. Callers must hold
// the write lock.
func (b *Bucket) buildIndex(mapFn docstore.MapFunc) []docstore.ViewRow {
	var rows []docstore.ViewRow
	for id, doc := range b.docs {
		for _, e := range mapFn(id, doc) {
			rows = append(rows, docstore.ViewRow{Key: e.Key, ID: id, Value: e.Value})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Key != rows[j].Key {
			return rows[i].Key < rows[j].Key
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

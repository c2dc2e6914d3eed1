// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package docstore

import "context"

// Consistency selects how fresh a view query must be.
type Consistency int

const (
	// Stale allows the engine to answer from the last built index snapshot.
	Stale Consistency = iota

	// Strong requires the index to reflect every acknowledged write before
	// answering. Slower, but safe for authentication-sensitive lookups.
	Strong
)

// ViewDefinition is a named secondary-index view inside a design document.
// Map holds the portable map-function source; engines that cannot execute
// it natively run a registered MapFunc equivalent instead.
type ViewDefinition struct {
	Name string `json:"name"`
	Map  string `json:"map"`
}

// DesignDocument groups related view definitions. Views are additive:
// existing views are never removed, only missing ones are appended.
type DesignDocument struct {
	Name  string           `json:"name"`
	Views []ViewDefinition `json:"views"`
}

// View returns the named view definition, if present.
func (d *DesignDocument) View(name string) (ViewDefinition, bool) {
	for _, v := range d.Views {
		if v.Name == name {
			return v, true
		}
	}
	return ViewDefinition{}, false
}

// SetView appends the definition, replacing an existing view with the
// same name.
func (d *DesignDocument) SetView(def ViewDefinition) {
	for i, v := range d.Views {
		if v.Name == def.Name {
			d.Views[i] = def
			return
		}
	}
	d.Views = append(d.Views, def)
}

// ViewRow is one entry of a view query result.
type ViewRow struct {
	// Key is the emitted index key.
	Key string

	// ID is the key of the originating document.
	ID string

	// Value is the emitted value, empty when the map function emitted the
	// document itself.
	Value string

	// Document is the originating document body, populated only when the
	// query requested IncludeDocs.
	Document []byte
}

// ViewQuery describes a view lookup.
type ViewQuery struct {
	Design      string
	View        string
	Key         *string // exact emitted-key filter; nil scans the whole view
	IncludeDocs bool
	Consistency Consistency
}

// Bucket is a named logical partition of the document store. Implementations
// must be safe for concurrent use; every operation is a blocking round trip
// and honors context cancellation where the backing transport does.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// Get fetches a document body. Returns ErrNotFound for missing keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// Add stores a new document and fails with ErrKeyExists if the key is
	// already present. This is the create-only primitive.
	Add(ctx context.Context, key string, value []byte) error

	// Set stores a document unconditionally (upsert).
	Set(ctx context.Context, key string, value []byte) error

	// Incr atomically adds delta to the integer document stored at key and
	// returns the new value. Returns ErrNotFound if the counter was never
	// seeded. Implementations must use an atomic store primitive, never an
	// application-level read-modify-write.
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// DesignDocument fetches a design document. Returns ErrNotFound if it
	// has never been persisted.
	DesignDocument(ctx context.Context, name string) (*DesignDocument, error)

	// PutDesignDocument persists a design document as a single write.
	PutDesignDocument(ctx context.Context, doc *DesignDocument) error

	// QueryView runs a view query and returns rows ordered by emitted key.
	// Returns ErrViewNotFound if the view has not been established.
	QueryView(ctx context.Context, q ViewQuery) ([]ViewRow, error)
}

// Emit is one (key, value) pair produced by a map function for a document.
// An empty Value means the map function emitted the document itself.
type Emit struct {
	Key   string
	Value string
}

// MapFunc is the executable form of a view map function: a pure function
// from a document to zero or more emitted entries.
type MapFunc func(id string, doc []byte) []Emit

// MapperRegistry resolves the executable map function for a view, keyed by
// MapperKey. Engines consult it when maintaining or rebuilding indexes.
type MapperRegistry map[string]MapFunc

// MapperKey builds the registry key for a (design document, view) pair.
func MapperKey(design, view string) string {
	return design + "/" + view
}

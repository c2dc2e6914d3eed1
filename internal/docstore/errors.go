// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package docstore

import "errors"

// ErrNotFound is returned when a requested document does not exist.
// Absence is a normal outcome, distinct from a store failure.
var ErrNotFound = errors.New("document not found")

// ErrKeyExists is returned by Add when the key is already present.
var ErrKeyExists = errors.New("key already exists")

// ErrViewNotFound is returned when querying a view that has not been
// established in the store.
var ErrViewNotFound = errors.New("view not found")

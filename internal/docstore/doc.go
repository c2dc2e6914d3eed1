// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

// Package docstore defines the document-store contract the data layer is
// built on: named buckets with get/add/set and atomic increment, design
// documents holding secondary-index view definitions, and key-filtered
// view queries with selectable consistency.
//
// Two engines implement the contract: an embedded in-memory engine
// (docstore/memory) used by tests and single-node development, and a
// PostgreSQL engine (docstore/postgres) that stores documents as rows and
// maintains view indexes synchronously.
package docstore

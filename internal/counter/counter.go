// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

// Package counter provides gap-free, collision-free monotonic id counters
// backed by the document store's atomic increment primitive. Counters are
// plain integer documents, so multiple service instances sharing a bucket
// share the sequence.
package counter

import (
	"context"
	"errors"
	"strconv"

	"github.com/samber/oops"

	"github.com/starhold/starhold/internal/docstore"
)

// Name identifies a counter document.
type Name string

// Counter documents used by the platform.
const (
	ClusterID Name = "ClusterId"
	AccountID Name = "AccountId"
	NetworkID Name = "NetworkId"
)

// Documented starting values. NetworkIDSeed sits above the 32-bit range so
// freshly allocated network ids can never collide with legacy short ids.
const (
	ClusterIDSeed int64 = 1
	AccountIDSeed int64 = 1
	NetworkIDSeed int64 = 1 << 32
)

// Source allocates ids from the counters of one bucket. Admin-bucket and
// game-bucket sources are independent; callers must use the source scoped
// to the entity they are allocating.
type Source struct {
	bucket docstore.Bucket
}

// NewSource creates a counter source over the given bucket.
func NewSource(bucket docstore.Bucket) *Source {
	return &Source{bucket: bucket}
}

// Next atomically increments the named counter and returns the new value.
func (s *Source) Next(ctx context.Context, name Name) (int64, error) {
	value, err := s.bucket.Incr(ctx, string(name), 1)
	if err != nil {
		return 0, oops.Code("COUNTER_NEXT_FAILED").
			With("counter", string(name)).
			With("bucket", s.bucket.Name()).
			Wrap(err)
	}
	return value, nil
}

// Seed establishes the counter's starting value if it does not exist yet.
// Uses the store's add-if-absent primitive so two racing initializers
// cannot both seed; losing the race is not an error.
func (s *Source) Seed(ctx context.Context, name Name, start int64) error {
	_, err := s.bucket.Get(ctx, string(name))
	if err == nil {
		return nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return oops.Code("COUNTER_SEED_FAILED").
			With("counter", string(name)).
			Wrap(err)
	}

	err = s.bucket.Add(ctx, string(name), []byte(strconv.FormatInt(start, 10)))
	if err != nil && !errors.Is(err, docstore.ErrKeyExists) {
		return oops.Code("COUNTER_SEED_FAILED").
			With("counter", string(name)).
			With("start", start).
			Wrap(err)
	}
	return nil
}

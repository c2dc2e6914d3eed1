// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package counter_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starhold/starhold/internal/counter"
	"github.com/starhold/starhold/internal/docstore/memory"
)

func TestSource_Seed(t *testing.T) {
	ctx := context.Background()

	t.Run("seeds a fresh counter", func(t *testing.T) {
		src := counter.NewSource(memory.NewBucket("adminObjects", nil))
		require.NoError(t, src.Seed(ctx, counter.AccountID, counter.AccountIDSeed))

		v, err := src.Next(ctx, counter.AccountID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	})

	t.Run("seeding twice does not reset", func(t *testing.T) {
		src := counter.NewSource(memory.NewBucket("adminObjects", nil))
		require.NoError(t, src.Seed(ctx, counter.ClusterID, counter.ClusterIDSeed))

		_, err := src.Next(ctx, counter.ClusterID)
		require.NoError(t, err)
		_, err = src.Next(ctx, counter.ClusterID)
		require.NoError(t, err)

		require.NoError(t, src.Seed(ctx, counter.ClusterID, counter.ClusterIDSeed))
		v, err := src.Next(ctx, counter.ClusterID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), v)
	})

	t.Run("network id floor clears the 32-bit range", func(t *testing.T) {
		src := counter.NewSource(memory.NewBucket("gameObjects", nil))
		require.NoError(t, src.Seed(ctx, counter.NetworkID, counter.NetworkIDSeed))

		v, err := src.Next(ctx, counter.NetworkID)
		require.NoError(t, err)
		assert.Greater(t, v, int64(1)<<32)
	})
}

func TestSource_Next(t *testing.T) {
	ctx := context.Background()

	t.Run("unseeded counter fails", func(t *testing.T) {
		src := counter.NewSource(memory.NewBucket("adminObjects", nil))
		_, err := src.Next(ctx, counter.AccountID)
		require.Error(t, err)
	})

	t.Run("concurrent allocations are exactly the expected set", func(t *testing.T) {
		src := counter.NewSource(memory.NewBucket("adminObjects", nil))
		require.NoError(t, src.Seed(ctx, counter.AccountID, counter.AccountIDSeed))

		const n = 100
		results := make(chan int64, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := src.Next(ctx, counter.AccountID)
				assert.NoError(t, err)
				results <- v
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[int64]bool)
		for v := range results {
			assert.False(t, seen[v], "counter value %d allocated twice", v)
			seen[v] = true
		}
		for v := counter.AccountIDSeed + 1; v <= counter.AccountIDSeed+n; v++ {
			assert.True(t, seen[v], "missing counter value %d", v)
		}
	})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starhold/starhold/internal/docstore"
	"github.com/starhold/starhold/internal/docstore/memory"
)

// titleMapper emits a document's "title" field when present.
func titleMapper(_ string, doc []byte) []docstore.Emit {
	var fields struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(doc, &fields); err != nil || fields.Title == "" {
		return nil
	}
	return []docstore.Emit{{Key: fields.Title}}
}

func newTitleBucket(t *testing.T) *memory.Bucket {
	t.Helper()
	mappers := docstore.MapperRegistry{
		docstore.MapperKey("test", "Titles"): titleMapper,
	}
	b := memory.NewBucket("adminObjects", mappers)
	err := b.PutDesignDocument(context.Background(), &docstore.DesignDocument{
		Name:  "test",
		Views: []docstore.ViewDefinition{{Name: "Titles", Map: "function(doc, meta) {}"}},
	})
	require.NoError(t, err)
	return b
}

func TestBucket_GetAddSet(t *testing.T) {
	ctx := context.Background()
	b := memory.NewBucket("adminObjects", nil)

	t.Run("get missing key", func(t *testing.T) {
		_, err := b.Get(ctx, "nope")
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("add then get", func(t *testing.T) {
		require.NoError(t, b.Add(ctx, "k1", []byte(`{"a":1}`)))
		doc, err := b.Get(ctx, "k1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(doc))
	})

	t.Run("add existing key fails", func(t *testing.T) {
		require.NoError(t, b.Add(ctx, "k2", []byte(`{}`)))
		err := b.Add(ctx, "k2", []byte(`{"other":true}`))
		require.ErrorIs(t, err, docstore.ErrKeyExists)

		// Original document unmodified.
		doc, err := b.Get(ctx, "k2")
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(doc))
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "k3", []byte(`1`)))
		require.NoError(t, b.Set(ctx, "k3", []byte(`2`)))
		doc, err := b.Get(ctx, "k3")
		require.NoError(t, err)
		assert.Equal(t, "2", string(doc))
	})

	t.Run("get returns a copy", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "k4", []byte("abc")))
		doc, err := b.Get(ctx, "k4")
		require.NoError(t, err)
		doc[0] = 'X'
		again, err := b.Get(ctx, "k4")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(again))
	})
}

func TestBucket_Incr(t *testing.T) {
	ctx := context.Background()
	b := memory.NewBucket("adminObjects", nil)

	t.Run("unseeded counter", func(t *testing.T) {
		_, err := b.Incr(ctx, "Counter", 1)
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("increments from seed", func(t *testing.T) {
		require.NoError(t, b.Add(ctx, "Counter", []byte("41")))
		v, err := b.Incr(ctx, "Counter", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("corrupt counter document", func(t *testing.T) {
		require.NoError(t, b.Add(ctx, "Broken", []byte("not a number")))
		_, err := b.Incr(ctx, "Broken", 1)
		require.Error(t, err)
	})

	t.Run("concurrent increments never collide", func(t *testing.T) {
		require.NoError(t, b.Add(ctx, "Race", []byte("0")))

		const n = 64
		results := make(chan int64, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := b.Incr(ctx, "Race", 1)
				assert.NoError(t, err)
				results <- v
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[int64]bool)
		for v := range results {
			assert.False(t, seen[v], "duplicate counter value %d", v)
			seen[v] = true
		}
		for i := int64(1); i <= n; i++ {
			assert.True(t, seen[i], "missing counter value %d", i)
		}
	})
}

func TestBucket_DesignDocuments(t *testing.T) {
	ctx := context.Background()
	b := memory.NewBucket("adminObjects", nil)

	t.Run("missing design document", func(t *testing.T) {
		_, err := b.DesignDocument(ctx, "accounts")
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("put then fetch", func(t *testing.T) {
		doc := &docstore.DesignDocument{
			Name:  "accounts",
			Views: []docstore.ViewDefinition{{Name: "Username", Map: "function(doc, meta) {}"}},
		}
		require.NoError(t, b.PutDesignDocument(ctx, doc))

		got, err := b.DesignDocument(ctx, "accounts")
		require.NoError(t, err)
		assert.Equal(t, "accounts", got.Name)
		_, ok := got.View("Username")
		assert.True(t, ok)
	})

	t.Run("fetch returns a copy", func(t *testing.T) {
		got, err := b.DesignDocument(ctx, "accounts")
		require.NoError(t, err)
		got.SetView(docstore.ViewDefinition{Name: "Rogue", Map: "x"})

		again, err := b.DesignDocument(ctx, "accounts")
		require.NoError(t, err)
		_, ok := again.View("Rogue")
		assert.False(t, ok)
	})
}

func TestBucket_QueryView(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown view", func(t *testing.T) {
		b := memory.NewBucket("adminObjects", nil)
		_, err := b.QueryView(ctx, docstore.ViewQuery{Design: "test", View: "Titles"})
		require.ErrorIs(t, err, docstore.ErrViewNotFound)
	})

	t.Run("view defined but no mapper registered", func(t *testing.T) {
		b := memory.NewBucket("adminObjects", nil)
		require.NoError(t, b.PutDesignDocument(ctx, &docstore.DesignDocument{
			Name:  "test",
			Views: []docstore.ViewDefinition{{Name: "Titles", Map: "function(doc, meta) {}"}},
		}))
		_, err := b.QueryView(ctx, docstore.ViewQuery{Design: "test", View: "Titles"})
		require.ErrorIs(t, err, docstore.ErrViewNotFound)
	})

	t.Run("rows ordered by emitted key", func(t *testing.T) {
		b := newTitleBucket(t)
		require.NoError(t, b.Set(ctx, "doc1", []byte(`{"title":"zeta"}`)))
		require.NoError(t, b.Set(ctx, "doc2", []byte(`{"title":"alpha"}`)))
		require.NoError(t, b.Set(ctx, "doc3", []byte(`{"untitled":true}`)))

		rows, err := b.QueryView(ctx, docstore.ViewQuery{
			Design: "test", View: "Titles", Consistency: docstore.Strong,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "alpha", rows[0].Key)
		assert.Equal(t, "doc2", rows[0].ID)
		assert.Equal(t, "zeta", rows[1].Key)
	})

	t.Run("exact key filter with documents", func(t *testing.T) {
		b := newTitleBucket(t)
		require.NoError(t, b.Set(ctx, "doc1", []byte(`{"title":"alpha"}`)))
		require.NoError(t, b.Set(ctx, "doc2", []byte(`{"title":"beta"}`)))

		key := "beta"
		rows, err := b.QueryView(ctx, docstore.ViewQuery{
			Design: "test", View: "Titles",
			Key: &key, IncludeDocs: true, Consistency: docstore.Strong,
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "doc2", rows[0].ID)
		assert.JSONEq(t, `{"title":"beta"}`, string(rows[0].Document))
	})

	t.Run("stale read serves last snapshot, strong read catches up", func(t *testing.T) {
		b := newTitleBucket(t)
		require.NoError(t, b.Set(ctx, "doc1", []byte(`{"title":"alpha"}`)))

		// Build the snapshot.
		rows, err := b.QueryView(ctx, docstore.ViewQuery{
			Design: "test", View: "Titles", Consistency: docstore.Strong,
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		require.NoError(t, b.Set(ctx, "doc2", []byte(`{"title":"beta"}`)))

		stale, err := b.QueryView(ctx, docstore.ViewQuery{
			Design: "test", View: "Titles", Consistency: docstore.Stale,
		})
		require.NoError(t, err)
		assert.Len(t, stale, 1, "stale read should not see the new write")

		strong, err := b.QueryView(ctx, docstore.ViewQuery{
			Design: "test", View: "Titles", Consistency: docstore.Strong,
		})
		require.NoError(t, err)
		assert.Len(t, strong, 2, "strong read must see the new write")
	})

	t.Run("concurrent writers and strong readers", func(t *testing.T) {
		b := newTitleBucket(t)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				doc := []byte(fmt.Sprintf(`{"title":"t%02d"}`, i))
				assert.NoError(t, b.Set(ctx, fmt.Sprintf("doc%02d", i), doc))
				_, err := b.QueryView(ctx, docstore.ViewQuery{
					Design: "test", View: "Titles", Consistency: docstore.Strong,
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		rows, err := b.QueryView(ctx, docstore.ViewQuery{
			Design: "test", View: "Titles", Consistency: docstore.Strong,
		})
		require.NoError(t, err)
		assert.Len(t, rows, 16)
	})
}

func TestBucket_ErrorsAreSentinels(t *testing.T) {
	ctx := context.Background()
	b := memory.NewBucket("adminObjects", nil)

	_, err := b.Get(ctx, "missing")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

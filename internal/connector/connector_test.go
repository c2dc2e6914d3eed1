// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package connector_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starhold/starhold/internal/codec"
	"github.com/starhold/starhold/internal/connector"
	"github.com/starhold/starhold/internal/docstore"
	"github.com/starhold/starhold/internal/docstore/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingBucket counts design-document writes so tests can assert that a
// second startup produces none.
type countingBucket struct {
	docstore.Bucket
	designWrites int
}

func (b *countingBucket) PutDesignDocument(ctx context.Context, doc *docstore.DesignDocument) error {
	b.designWrites++
	return b.Bucket.PutDesignDocument(ctx, doc)
}

func newConnector(t *testing.T, serializer codec.NetworkSerializer) (*connector.Connector, *memory.Bucket, *memory.Bucket) {
	t.Helper()

	views := connector.DefaultViewConfig()
	admin := memory.NewBucket("adminObjects", connector.Mappers(views))
	game := memory.NewBucket("gameObjects", nil)

	var tc *codec.Transcoder
	if serializer != nil {
		tc = codec.NewTranscoder(serializer)
	}

	conn := connector.New(admin, game, tc, views, testLogger())
	require.NoError(t, conn.Start(context.Background()))
	return conn, admin, game
}

func TestEnsureViews(t *testing.T) {
	ctx := context.Background()
	views := connector.DefaultViewConfig()

	t.Run("establishes views on a fresh bucket", func(t *testing.T) {
		bucket := memory.NewBucket("adminObjects", connector.Mappers(views))
		require.NoError(t, connector.EnsureViews(ctx, bucket, views, testLogger()))

		design, err := bucket.DesignDocument(ctx, views.DesignDoc)
		require.NoError(t, err)
		for _, name := range []string{views.UsernameView, views.AuthTokenView, views.CharacterNamesView} {
			_, ok := design.View(name)
			assert.True(t, ok, "view %s not established", name)
		}
	})

	t.Run("second startup produces no writes", func(t *testing.T) {
		bucket := &countingBucket{Bucket: memory.NewBucket("adminObjects", connector.Mappers(views))}
		require.NoError(t, connector.EnsureViews(ctx, bucket, views, testLogger()))
		require.Equal(t, 1, bucket.designWrites)

		require.NoError(t, connector.EnsureViews(ctx, bucket, views, testLogger()))
		assert.Equal(t, 1, bucket.designWrites)
	})

	t.Run("appends only the missing view", func(t *testing.T) {
		bucket := &countingBucket{Bucket: memory.NewBucket("adminObjects", connector.Mappers(views))}
		require.NoError(t, connector.EnsureViews(ctx, bucket, views, testLogger()))

		// Drop one view out of the design document.
		design, err := bucket.DesignDocument(ctx, views.DesignDoc)
		require.NoError(t, err)
		var kept []docstore.ViewDefinition
		for _, v := range design.Views {
			if v.Name != views.AuthTokenView {
				kept = append(kept, v)
			}
		}
		design.Views = kept
		require.NoError(t, bucket.PutDesignDocument(ctx, design))
		writesBefore := bucket.designWrites

		require.NoError(t, connector.EnsureViews(ctx, bucket, views, testLogger()))
		assert.Equal(t, writesBefore+1, bucket.designWrites)

		design, err = bucket.DesignDocument(ctx, views.DesignDoc)
		require.NoError(t, err)
		assert.Len(t, design.Views, 3)
	})
}

type testRecord struct {
	Username string `json:"username"`
	Note     string `json:"note,omitempty"`
}

func TestConnector_ObjectCRUD(t *testing.T) {
	ctx := context.Background()
	conn, _, _ := newConnector(t, nil)

	t.Run("create then get", func(t *testing.T) {
		require.NoError(t, conn.CreateObject(ctx, "account_leia", testRecord{Username: "leia"}))

		var got testRecord
		require.NoError(t, conn.GetObject(ctx, "account_leia", &got))
		assert.Equal(t, "leia", got.Username)
	})

	t.Run("create on an existing key fails", func(t *testing.T) {
		require.NoError(t, conn.CreateObject(ctx, "account_han", testRecord{Username: "han"}))

		err := conn.CreateObject(ctx, "account_han", testRecord{Username: "impostor"})
		require.ErrorIs(t, err, docstore.ErrKeyExists)

		var got testRecord
		require.NoError(t, conn.GetObject(ctx, "account_han", &got))
		assert.Equal(t, "han", got.Username)
	})

	t.Run("update overwrites", func(t *testing.T) {
		require.NoError(t, conn.CreateObject(ctx, "account_luke", testRecord{Username: "luke"}))
		require.NoError(t, conn.UpdateObject(ctx, "account_luke", testRecord{Username: "luke", Note: "jedi"}))

		var got testRecord
		require.NoError(t, conn.GetObject(ctx, "account_luke", &got))
		assert.Equal(t, "jedi", got.Note)
	})

	t.Run("missing key reports not found", func(t *testing.T) {
		var got testRecord
		err := conn.GetObject(ctx, "account_nobody", &got)
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})
}

// shipObject is a minimal binary network object for transcoder paths.
type shipObject struct {
	id   int64
	hull uint32
}

func (o *shipObject) NetworkID() int64 { return o.id }

type shipSerializer struct{}

func (shipSerializer) Serialize(obj codec.NetworkObject) ([]byte, error) {
	ship := obj.(*shipObject)
	out := make([]byte, 12)
	binary.BigEndian.PutUint64(out[:8], uint64(ship.id))
	binary.BigEndian.PutUint32(out[8:], ship.hull)
	return out, nil
}

func (shipSerializer) Deserialize(data []byte) (codec.NetworkObject, error) {
	return &shipObject{
		id:   int64(binary.BigEndian.Uint64(data[:8])),
		hull: binary.BigEndian.Uint32(data[8:]),
	}, nil
}

func TestConnector_NetworkObjects(t *testing.T) {
	ctx := context.Background()
	conn, _, _ := newConnector(t, shipSerializer{})

	t.Run("create then get round-trips", func(t *testing.T) {
		id, err := conn.NextID(ctx)
		require.NoError(t, err)

		require.NoError(t, conn.CreateNetworkObject(ctx, &shipObject{id: id, hull: 900}))

		got, err := conn.GetNetworkObject(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.NetworkID())
		assert.Equal(t, uint32(900), got.(*shipObject).hull)
	})

	t.Run("create on a used id fails", func(t *testing.T) {
		id, err := conn.NextID(ctx)
		require.NoError(t, err)

		require.NoError(t, conn.CreateNetworkObject(ctx, &shipObject{id: id, hull: 1}))
		err = conn.CreateNetworkObject(ctx, &shipObject{id: id, hull: 2})
		require.ErrorIs(t, err, docstore.ErrKeyExists)
	})

	t.Run("update overwrites", func(t *testing.T) {
		id, err := conn.NextID(ctx)
		require.NoError(t, err)

		require.NoError(t, conn.CreateNetworkObject(ctx, &shipObject{id: id, hull: 100}))
		require.NoError(t, conn.UpdateNetworkObject(ctx, &shipObject{id: id, hull: 42}))

		got, err := conn.GetNetworkObject(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint32(42), got.(*shipObject).hull)
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		_, err := conn.GetNetworkObject(ctx, 999999999)
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})
}

type sessionDoc struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	AuthToken string `json:"authToken,omitempty"`
}

func TestConnector_LookupSession(t *testing.T) {
	ctx := context.Background()
	conn, _, _ := newConnector(t, nil)

	require.NoError(t, conn.CreateObject(ctx, "account_leia", sessionDoc{
		Type: "account", Username: "leia", AuthToken: "12345678901234567890",
	}))
	require.NoError(t, conn.CreateObject(ctx, "account_han", sessionDoc{
		Type: "account", Username: "han", AuthToken: "99999999999999999999",
	}))

	t.Run("resolves a unique token", func(t *testing.T) {
		var got sessionDoc
		found, err := conn.LookupSession(ctx, "12345678901234567890", &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "leia", got.Username)
	})

	t.Run("unknown token is no session, not an error", func(t *testing.T) {
		var got sessionDoc
		found, err := conn.LookupSession(ctx, "00000000000000000000", &got)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("duplicate token fails closed for both holders", func(t *testing.T) {
		require.NoError(t, conn.CreateObject(ctx, "account_clone1", sessionDoc{
			Type: "account", Username: "clone1", AuthToken: "55555555555555555555",
		}))
		require.NoError(t, conn.CreateObject(ctx, "account_clone2", sessionDoc{
			Type: "account", Username: "clone2", AuthToken: "55555555555555555555",
		}))

		var got sessionDoc
		found, err := conn.LookupSession(ctx, "55555555555555555555", &got)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

type characterDoc struct {
	Type          string `json:"type"`
	Username      string `json:"username"`
	CharacterList []struct {
		Name      string `json:"name"`
		ClusterID int64  `json:"clusterId"`
	} `json:"characterList"`
}

func makeCharacterDoc(username string, chars map[string]int64) characterDoc {
	doc := characterDoc{Type: "account", Username: username}
	for name, cluster := range chars {
		doc.CharacterList = append(doc.CharacterList, struct {
			Name      string `json:"name"`
			ClusterID int64  `json:"clusterId"`
		}{Name: name, ClusterID: cluster})
	}
	return doc
}

func TestConnector_GetClusterCharacterSet(t *testing.T) {
	ctx := context.Background()
	conn, _, _ := newConnector(t, nil)

	require.NoError(t, conn.CreateObject(ctx, "account_han",
		makeCharacterDoc("han", map[string]int64{"Han Solo": 2})))
	require.NoError(t, conn.CreateObject(ctx, "account_impostor",
		makeCharacterDoc("impostor", map[string]int64{"Han Skywalker": 2})))
	require.NoError(t, conn.CreateObject(ctx, "account_leia",
		makeCharacterDoc("leia", map[string]int64{"Leia Organa": 2})))
	require.NoError(t, conn.CreateObject(ctx, "account_luke",
		makeCharacterDoc("luke", map[string]int64{"Luke Skywalker": 3})))

	t.Run("folds, dedupes and filters by cluster", func(t *testing.T) {
		names, err := conn.GetClusterCharacterSet(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"han", "leia"}, names)
	})

	t.Run("other cluster sees only its own characters", func(t *testing.T) {
		names, err := conn.GetClusterCharacterSet(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"luke"}, names)
	})

	t.Run("empty cluster yields an empty set", func(t *testing.T) {
		names, err := conn.GetClusterCharacterSet(ctx, 7)
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestConnector_CharacterCollisionLogging(t *testing.T) {
	ctx := context.Background()
	views := connector.DefaultViewConfig()
	admin := memory.NewBucket("adminObjects", connector.Mappers(views))
	game := memory.NewBucket("gameObjects", nil)

	var logBuf bytes.Buffer
	conn := connector.New(admin, game, nil, views, slog.New(slog.NewTextHandler(&logBuf, nil)))
	require.NoError(t, conn.Start(ctx))

	require.NoError(t, conn.CreateObject(ctx, "account_han",
		makeCharacterDoc("han", map[string]int64{"Han Solo": 2})))
	require.NoError(t, conn.CreateObject(ctx, "account_copycat",
		makeCharacterDoc("copycat", map[string]int64{"Han Solo": 2})))
	require.NoError(t, conn.CreateObject(ctx, "account_impostor",
		makeCharacterDoc("impostor", map[string]int64{"Han Skywalker": 2})))

	t.Run("identical full names on different accounts dedupe loudly", func(t *testing.T) {
		logBuf.Reset()
		names, err := conn.GetClusterCharacterSet(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"han"}, names)

		logged := logBuf.String()
		// One collision per duplicate row beyond the winner.
		assert.Equal(t, 2, strings.Count(logged, "character first-name collision"))
	})
}

func TestConnector_Counters(t *testing.T) {
	ctx := context.Background()
	conn, _, _ := newConnector(t, nil)

	t.Run("cluster and account ids start above their seeds", func(t *testing.T) {
		clusterID, err := conn.NextClusterID(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), clusterID)

		accountID, err := conn.NextAccountID(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), accountID)
	})

	t.Run("network ids clear the legacy 32-bit range", func(t *testing.T) {
		id, err := conn.NextID(ctx)
		require.NoError(t, err)
		assert.Greater(t, id, int64(1)<<32)
	})

	t.Run("ready after start", func(t *testing.T) {
		assert.True(t, conn.Ready())
	})
}

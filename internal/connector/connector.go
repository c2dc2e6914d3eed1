// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

// Package connector unifies the object codec, the secondary-index views and
// the id counters into CRUD and lookup operations over the platform's two
// buckets: structured admin/account records in one, opaque binary game
// objects in the other.
package connector

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/starhold/starhold/internal/codec"
	"github.com/starhold/starhold/internal/counter"
	"github.com/starhold/starhold/internal/docstore"
	"github.com/starhold/starhold/internal/observability"
)

// Connector is safe for concurrent use: it holds no per-request state, and
// all mutable state lives in the store itself.
type Connector struct {
	admin docstore.Bucket
	game  docstore.Bucket

	adminCounters *counter.Source
	gameCounters  *counter.Source

	transcoder *codec.Transcoder
	views      ViewConfig
	logger     *slog.Logger
	ready      atomic.Bool
}

// New creates a Connector over the admin and game buckets. The transcoder
// may be nil when no binary game-object operations will be issued.
func New(admin, game docstore.Bucket, transcoder *codec.Transcoder, views ViewConfig, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		admin:         admin,
		game:          game,
		adminCounters: counter.NewSource(admin),
		gameCounters:  counter.NewSource(game),
		transcoder:    transcoder,
		views:         views,
		logger:        logger,
	}
}

// Start establishes the index views and seeds the id counters. It must
// complete before the connector serves lookups; a returned error is fatal
// for the process.
func (c *Connector) Start(ctx context.Context) error {
	if err := EnsureViews(ctx, c.admin, c.views, c.logger); err != nil {
		return err
	}

	if err := c.adminCounters.Seed(ctx, counter.ClusterID, counter.ClusterIDSeed); err != nil {
		return err
	}
	if err := c.adminCounters.Seed(ctx, counter.AccountID, counter.AccountIDSeed); err != nil {
		return err
	}
	if err := c.gameCounters.Seed(ctx, counter.NetworkID, counter.NetworkIDSeed); err != nil {
		return err
	}

	c.ready.Store(true)
	return nil
}

// Ready reports whether Start has completed. Wired into the readiness probe.
func (c *Connector) Ready() bool {
	return c.ready.Load()
}

// CreateObject stores a new admin object, failing with
// docstore.ErrKeyExists if the key is already taken.
func (c *Connector) CreateObject(ctx context.Context, key string, value any) error {
	body, err := codec.MarshalObject(value)
	if err != nil {
		observability.RecordStoreOperation("create", "error")
		return err
	}
	if err := c.admin.Add(ctx, key, body); err != nil {
		observability.RecordStoreOperation("create", "error")
		return oops.Code("OBJECT_CREATE_FAILED").With("key", key).Wrap(err)
	}
	observability.RecordStoreOperation("create", "ok")
	return nil
}

// UpdateObject stores an admin object unconditionally.
func (c *Connector) UpdateObject(ctx context.Context, key string, value any) error {
	body, err := codec.MarshalObject(value)
	if err != nil {
		observability.RecordStoreOperation("update", "error")
		return err
	}
	if err := c.admin.Set(ctx, key, body); err != nil {
		observability.RecordStoreOperation("update", "error")
		return oops.Code("OBJECT_UPDATE_FAILED").With("key", key).Wrap(err)
	}
	observability.RecordStoreOperation("update", "ok")
	return nil
}

// GetObject fetches and decodes an admin object into out. Returns
// docstore.ErrNotFound (wrapped) for missing keys.
func (c *Connector) GetObject(ctx context.Context, key string, out any) error {
	body, err := c.admin.Get(ctx, key)
	if errors.Is(err, docstore.ErrNotFound) {
		observability.RecordStoreOperation("get", "not_found")
		return err
	}
	if err != nil {
		observability.RecordStoreOperation("get", "error")
		return oops.Code("OBJECT_GET_FAILED").With("key", key).Wrap(err)
	}
	if err := codec.UnmarshalObject(body, out); err != nil {
		observability.RecordStoreOperation("get", "error")
		return err
	}
	observability.RecordStoreOperation("get", "ok")
	return nil
}

func networkKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// CreateNetworkObject stores a new game object keyed by its network id,
// failing if the id is already in use.
func (c *Connector) CreateNetworkObject(ctx context.Context, obj codec.NetworkObject) error {
	payload, err := c.transcoder.Encode(obj)
	if err != nil {
		observability.RecordStoreOperation("create_network", "error")
		return err
	}
	if err := c.game.Add(ctx, networkKey(obj.NetworkID()), payload); err != nil {
		observability.RecordStoreOperation("create_network", "error")
		return oops.Code("OBJECT_CREATE_FAILED").With("network_id", obj.NetworkID()).Wrap(err)
	}
	observability.RecordStoreOperation("create_network", "ok")
	return nil
}

// UpdateNetworkObject stores a game object unconditionally.
func (c *Connector) UpdateNetworkObject(ctx context.Context, obj codec.NetworkObject) error {
	payload, err := c.transcoder.Encode(obj)
	if err != nil {
		observability.RecordStoreOperation("update_network", "error")
		return err
	}
	if err := c.game.Set(ctx, networkKey(obj.NetworkID()), payload); err != nil {
		observability.RecordStoreOperation("update_network", "error")
		return oops.Code("OBJECT_UPDATE_FAILED").With("network_id", obj.NetworkID()).Wrap(err)
	}
	observability.RecordStoreOperation("update_network", "ok")
	return nil
}

// GetNetworkObject fetches and decodes the game object with the given id.
// Returns docstore.ErrNotFound (wrapped) for unknown ids.
func (c *Connector) GetNetworkObject(ctx context.Context, id int64) (codec.NetworkObject, error) {
	payload, err := c.game.Get(ctx, networkKey(id))
	if errors.Is(err, docstore.ErrNotFound) {
		observability.RecordStoreOperation("get_network", "not_found")
		return nil, err
	}
	if err != nil {
		observability.RecordStoreOperation("get_network", "error")
		return nil, oops.Code("OBJECT_GET_FAILED").With("network_id", id).Wrap(err)
	}
	obj, err := c.transcoder.Decode(payload)
	if err != nil {
		observability.RecordStoreOperation("get_network", "error")
		return nil, err
	}
	observability.RecordStoreOperation("get_network", "ok")
	return obj, nil
}

// LookupSession resolves an auth token to its account document via the
// auth-token view under a strongly consistent read: this powers
// authentication decisions, so a stale index is never acceptable.
//
// Zero matches is a normal no-session outcome, not an error. More than one
// match means two documents share the token; an ambiguous session must never
// be trusted, so the lookup logs the duplicate and reports no session.
func (c *Connector) LookupSession(ctx context.Context, token string, out any) (bool, error) {
	rows, err := c.admin.QueryView(ctx, docstore.ViewQuery{
		Design:      c.views.DesignDoc,
		View:        c.views.AuthTokenView,
		Key:         &token,
		IncludeDocs: true,
		Consistency: docstore.Strong,
	})
	if err != nil {
		observability.RecordViewQuery(c.views.AuthTokenView, "error")
		return false, oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
	}

	switch {
	case len(rows) == 0:
		observability.RecordViewQuery(c.views.AuthTokenView, "empty")
		return false, nil
	case len(rows) > 1:
		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
		c.logger.Error("duplicate auth token detected, rejecting session",
			"view", c.views.AuthTokenView,
			"documents", ids)
		observability.RecordViewQuery(c.views.AuthTokenView, "duplicate")
		return false, nil
	}

	if err := codec.UnmarshalObject(rows[0].Document, out); err != nil {
		c.logger.Error("session document failed to decode",
			"key", rows[0].ID,
			"error", err)
		observability.RecordViewQuery(c.views.AuthTokenView, "error")
		return false, nil
	}
	observability.RecordViewQuery(c.views.AuthTokenView, "ok")
	return true, nil
}

// GetClusterCharacterSet returns the case-folded first names of every
// character on the given cluster, deduplicated and sorted. A fold collision
// between distinct characters is logged but does not abort the scan; the
// first insertion wins.
func (c *Connector) GetClusterCharacterSet(ctx context.Context, clusterID int64) ([]string, error) {
	rows, err := c.admin.QueryView(ctx, docstore.ViewQuery{
		Design:      c.views.DesignDoc,
		View:        c.views.CharacterNamesView,
		Consistency: docstore.Strong,
	})
	if err != nil {
		observability.RecordViewQuery(c.views.CharacterNamesView, "error")
		return nil, oops.Code("CHARACTER_SCAN_FAILED").With("cluster_id", clusterID).Wrap(err)
	}

	wanted := strconv.FormatInt(clusterID, 10)
	seen := make(map[string]docstore.ViewRow) // folded first name -> first row
	var names []string
	for _, row := range rows {
		if row.Value != wanted {
			continue
		}
		fields := strings.Fields(row.Key)
		if len(fields) == 0 {
			continue
		}
		first := strings.ToLower(fields[0])
		if prior, ok := seen[first]; ok {
			// Every folded duplicate is logged, identical full names on
			// different accounts included; only the row that won the fold
			// stays in the set.
			c.logger.Error("character first-name collision",
				"cluster_id", clusterID,
				"name", row.Key,
				"document", row.ID,
				"existing", prior.Key,
				"existing_document", prior.ID)
			continue
		}
		seen[first] = row
		names = append(names, first)
	}
	sort.Strings(names)

	observability.RecordViewQuery(c.views.CharacterNamesView, "ok")
	return names, nil
}

// NextClusterID allocates the next cluster id.
func (c *Connector) NextClusterID(ctx context.Context) (int64, error) {
	return c.adminCounters.Next(ctx, counter.ClusterID)
}

// NextAccountID allocates the next account id.
func (c *Connector) NextAccountID(ctx context.Context) (int64, error) {
	return c.adminCounters.Next(ctx, counter.AccountID)
}

// NextID allocates the next network-object id.
func (c *Connector) NextID(ctx context.Context) (int64, error) {
	return c.gameCounters.Next(ctx, counter.NetworkID)
}

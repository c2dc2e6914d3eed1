// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/starhold/starhold/internal/docstore"
)

// ViewConfig names the design document and the secondary-index views the
// connector depends on.
type ViewConfig struct {
	DesignDoc          string
	UsernameView       string
	AuthTokenView      string
	CharacterNamesView string
}

// DefaultViewConfig returns the standard view layout.
func DefaultViewConfig() ViewConfig {
	return ViewConfig{
		DesignDoc:          "accounts",
		UsernameView:       "Username",
		AuthTokenView:      "AuthToken",
		CharacterNamesView: "CharacterNames",
	}
}

// Portable map-function sources stored in the design document. Engines that
// execute map functions natively run these; embedded engines run the
// registered Go equivalents from Mappers.
const (
	usernameMapSource = `function (doc, meta) {
  if (doc.username) {
    emit(meta.id, doc);
  }
}`

	authTokenMapSource = `function (doc, meta) {
  if (doc.authToken) {
    emit(doc.authToken, doc);
  }
}`

	characterNamesMapSource = `function (doc, meta) {
  if (doc.type == "account" && doc.characterList) {
    for (var i = 0; i < doc.characterList.length; i++) {
      emit(doc.characterList[i].name, doc.characterList[i].clusterId);
    }
  }
}`
)

// indexedDoc is the subset of an account document the map functions read.
// Unknown fields are ignored so non-account documents simply emit nothing.
type indexedDoc struct {
	Type          string `json:"type"`
	Username      string `json:"username"`
	AuthToken     string `json:"authToken"`
	CharacterList []struct {
		Name      string `json:"name"`
		ClusterID int64  `json:"clusterId"`
	} `json:"characterList"`
}

func decodeIndexedDoc(doc []byte) (indexedDoc, bool) {
	var d indexedDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		// Binary game-object payloads land here; they are not indexed.
		return indexedDoc{}, false
	}
	return d, true
}

func usernameMap(id string, doc []byte) []docstore.Emit {
	d, ok := decodeIndexedDoc(doc)
	if !ok || d.Username == "" {
		return nil
	}
	return []docstore.Emit{{Key: id}}
}

func authTokenMap(_ string, doc []byte) []docstore.Emit {
	d, ok := decodeIndexedDoc(doc)
	if !ok || d.AuthToken == "" {
		return nil
	}
	return []docstore.Emit{{Key: d.AuthToken}}
}

func characterNamesMap(_ string, doc []byte) []docstore.Emit {
	d, ok := decodeIndexedDoc(doc)
	if !ok || d.Type != "account" {
		return nil
	}
	var emits []docstore.Emit
	for _, c := range d.CharacterList {
		emits = append(emits, docstore.Emit{
			Key:   c.Name,
			Value: strconv.FormatInt(c.ClusterID, 10),
		})
	}
	return emits
}

// Mappers returns the executable map functions for the configured views,
// keyed for engine registration.
func Mappers(cfg ViewConfig) docstore.MapperRegistry {
	return docstore.MapperRegistry{
		docstore.MapperKey(cfg.DesignDoc, cfg.UsernameView):       usernameMap,
		docstore.MapperKey(cfg.DesignDoc, cfg.AuthTokenView):      authTokenMap,
		docstore.MapperKey(cfg.DesignDoc, cfg.CharacterNamesView): characterNamesMap,
	}
}

func requiredViews(cfg ViewConfig) []docstore.ViewDefinition {
	return []docstore.ViewDefinition{
		{Name: cfg.UsernameView, Map: usernameMapSource},
		{Name: cfg.AuthTokenView, Map: authTokenMapSource},
		{Name: cfg.CharacterNamesView, Map: characterNamesMapSource},
	}
}

// EnsureViews guarantees the configured views exist on the bucket before any
// lookup depends on them. Missing or divergent views are appended to the
// design document, which is then persisted as a single write; views already
// in place produce no writes at all. Each view handle is probed afterwards
// with a short exponential backoff, because some stores establish views
// asynchronously after the design-document write.
//
// A returned error is unrecoverable: the process cannot serve correct
// authentication without these indexes and must not start.
func EnsureViews(ctx context.Context, bucket docstore.Bucket, cfg ViewConfig, logger *slog.Logger) error {
	fail := oops.Code("VIEW_SETUP_FAILED").
		With("bucket", bucket.Name()).
		With("design", cfg.DesignDoc)

	design, err := bucket.DesignDocument(ctx, cfg.DesignDoc)
	if errors.Is(err, docstore.ErrNotFound) {
		design = &docstore.DesignDocument{Name: cfg.DesignDoc}
	} else if err != nil {
		return fail.Wrap(err)
	}

	changed := false
	for _, v := range requiredViews(cfg) {
		existing, ok := design.View(v.Name)
		if ok && existing.Map == v.Map {
			continue
		}
		design.SetView(v)
		changed = true
		logger.Info("establishing view",
			"bucket", bucket.Name(),
			"design", cfg.DesignDoc,
			"view", v.Name)
	}

	if changed {
		if err := bucket.PutDesignDocument(ctx, design); err != nil {
			return fail.Wrap(err)
		}
	}

	// Probe each view with a key that matches nothing; we only care that the
	// handle resolves.
	probeKey := "\x00"
	for _, v := range requiredViews(cfg) {
		viewName := v.Name
		// Backoff state is consumed per retry.Do run, so build a fresh one
		// for each view.
		backoff := retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			_, qerr := bucket.QueryView(ctx, docstore.ViewQuery{
				Design:      cfg.DesignDoc,
				View:        viewName,
				Key:         &probeKey,
				Consistency: docstore.Stale,
			})
			if errors.Is(qerr, docstore.ErrViewNotFound) {
				return retry.RetryableError(qerr)
			}
			return qerr
		})
		if err != nil {
			return fail.With("view", viewName).Wrap(err)
		}
	}

	return nil
}

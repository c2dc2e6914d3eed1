// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

// Package config loads and validates the Starhold configuration from
// defaults, an optional YAML file, and command-line flags, in that order
// of precedence (later wins).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// StoreConfig configures the document store backing the data layer.
type StoreConfig struct {
	// Engine selects the store backend.
	Engine string `koanf:"engine" json:"engine" jsonschema:"enum=memory,enum=postgres"`

	// Address and Port locate the store when DatabaseURL is not given.
	Address string `koanf:"address" json:"address"`
	Port    int    `koanf:"port" json:"port" jsonschema:"minimum=1,maximum=65535"`

	// DatabaseURL overrides Address/Port with a full connection URL.
	DatabaseURL string `koanf:"database_url" json:"database_url,omitempty"`

	AdminBucket string `koanf:"admin_bucket" json:"admin_bucket"`
	GameBucket  string `koanf:"game_bucket" json:"game_bucket"`

	DesignDoc          string `koanf:"design_doc" json:"design_doc"`
	UsernameView       string `koanf:"username_view" json:"username_view"`
	AuthTokenView      string `koanf:"auth_token_view" json:"auth_token_view"`
	CharacterNamesView string `koanf:"character_names_view" json:"character_names_view"`
}

// AuthConfig configures session-token behavior.
type AuthConfig struct {
	// TokenTTLSeconds is the session lifetime in seconds.
	TokenTTLSeconds int `koanf:"token_ttl_seconds" json:"token_ttl_seconds" jsonschema:"minimum=1"`

	// BindAddress ties sessions to the address they were issued to.
	BindAddress bool `koanf:"bind_address" json:"bind_address"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MetricsConfig configures the observability endpoint.
type MetricsConfig struct {
	// Addr is the metrics/health listen address; empty disables the server.
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// Config is the full service configuration.
type Config struct {
	Store   StoreConfig   `koanf:"store" json:"store"`
	Auth    AuthConfig    `koanf:"auth" json:"auth"`
	Log     LogConfig     `koanf:"log" json:"log"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics"`
}

// Defaults returns the documented default configuration.
func Defaults() map[string]any {
	return map[string]any{
		"store.engine":               "memory",
		"store.address":              "127.0.0.1",
		"store.port":                 5432,
		"store.admin_bucket":         "adminObjects",
		"store.game_bucket":          "gameObjects",
		"store.design_doc":           "accounts",
		"store.username_view":        "Username",
		"store.auth_token_view":      "AuthToken",
		"store.character_names_view": "CharacterNames",
		"auth.token_ttl_seconds":     600,
		"auth.bind_address":          false,
		"log.format":                 "json",
		"log.level":                  "info",
		"metrics.addr":               "127.0.0.1:9100",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when empty), then the given flag set (skipped when nil). The
// file is checked against the generated JSON Schema before it is merged,
// so mistyped keys fail loudly instead of silently falling back to
// defaults.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
		if err := ValidateSchema(raw); err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("path", path).
				Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	fail := oops.Code("CONFIG_INVALID")

	switch c.Store.Engine {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" && c.Store.Address == "" {
			return fail.Errorf("postgres engine requires store.database_url or store.address")
		}
	default:
		return fail.Errorf("store.engine must be 'memory' or 'postgres', got %q", c.Store.Engine)
	}

	if c.Store.AdminBucket == "" || c.Store.GameBucket == "" {
		return fail.Errorf("bucket names cannot be empty")
	}
	if c.Store.DesignDoc == "" {
		return fail.Errorf("store.design_doc cannot be empty")
	}
	if c.Auth.TokenTTLSeconds <= 0 {
		return fail.Errorf("auth.token_ttl_seconds must be positive, got %d", c.Auth.TokenTTLSeconds)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fail.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fail.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Store.Port < 1 || c.Store.Port > 65535 {
		return fail.Errorf("store.port out of range: %d", c.Store.Port)
	}

	return nil
}

// TokenTTL returns the session lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLSeconds) * time.Second
}

// PostgresURL returns the store connection URL, composing one from the
// address and port when no explicit URL is configured.
func (c *Config) PostgresURL() string {
	if c.Store.DatabaseURL != "" {
		return c.Store.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%d/starhold", c.Store.Address, c.Store.Port)
}

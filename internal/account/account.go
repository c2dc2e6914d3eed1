// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

// Package account provides account creation, authentication and
// session-token lifecycle on top of the connector layer.
package account

import (
	"strings"

	"github.com/samber/oops"

	"github.com/starhold/starhold/internal/codec"
)

// TypeAccount is the document type tag the index views select on.
const TypeAccount = "account"

// CharacterRecord is one in-game character owned by an account.
type CharacterRecord struct {
	Name      string `json:"name"`
	ClusterID int64  `json:"clusterId"`
}

// Account is the persistent account record. The JSON field names are load
// bearing: the secondary-index map functions read them.
type Account struct {
	Type      string `json:"type"`
	AccountID int64  `json:"accountId"`
	Username  string `json:"username"`

	// Password holds the password hash, never the plaintext.
	Password string `json:"password"`

	// AuthToken is the active session credential, empty when no session.
	AuthToken string `json:"authToken,omitempty"`

	// AuthExpiration is the absolute session expiry as a Unix timestamp in
	// seconds; zero when no session.
	AuthExpiration int64 `json:"authExpiration,omitempty"`

	// AuthAddress is the client address bound to the session, when address
	// binding is enabled.
	AuthAddress *codec.SocketAddr `json:"authAddress,omitempty"`

	CharacterList []CharacterRecord `json:"characterList,omitempty"`
}

// Factory constructs a blank account value for a freshly allocated id.
// Callers embedding a richer account type inject their own.
type Factory func(id int64) *Account

// NewAccount is the default Factory.
func NewAccount(id int64) *Account {
	return &Account{Type: TypeAccount, AccountID: id}
}

// Key derives the document key for a username. Usernames are
// case-insensitive at the storage layer.
func Key(username string) string {
	return "account_" + strings.ToLower(username)
}

// ValidateUsername rejects usernames the storage layer cannot key.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return oops.Code("ACCOUNT_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if strings.ContainsAny(username, " \t\n") {
		return oops.Code("ACCOUNT_INVALID_USERNAME").
			With("username", username).
			Errorf("username cannot contain whitespace")
	}
	return nil
}

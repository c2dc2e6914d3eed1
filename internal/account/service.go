// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package account

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/starhold/starhold/internal/codec"
	"github.com/starhold/starhold/internal/docstore"
	"github.com/starhold/starhold/internal/observability"
)

// DefaultTokenTTL is the session lifetime when none is configured.
const DefaultTokenTTL = 600 * time.Second

// Store is the slice of the connector surface the account service uses.
type Store interface {
	CreateObject(ctx context.Context, key string, value any) error
	UpdateObject(ctx context.Context, key string, value any) error
	GetObject(ctx context.Context, key string, out any) error
	LookupSession(ctx context.Context, token string, out any) (bool, error)
	NextAccountID(ctx context.Context) (int64, error)
}

// Options configures a Service. The zero value gives sane defaults.
type Options struct {
	// TokenTTL is the session lifetime; DefaultTokenTTL when zero.
	TokenTTL time.Duration

	// BindAddress rejects session validations arriving from an address
	// other than the one the token was issued to.
	BindAddress bool

	// Factory constructs blank accounts; NewAccount when nil.
	Factory Factory

	Logger *slog.Logger

	// Clock overrides time.Now for expiry decisions. Tests inject one.
	Clock func() time.Time
}

// Service implements the account lifecycle: creation, authentication and
// session tokens. Safe for concurrent use; all state lives in the store.
type Service struct {
	store       Store
	hasher      PasswordHasher
	factory     Factory
	tokenTTL    time.Duration
	bindAddress bool
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a Service over the given store.
func NewService(store Store, hasher PasswordHasher, opts Options) *Service {
	s := &Service{
		store:       store,
		hasher:      hasher,
		factory:     opts.Factory,
		tokenTTL:    opts.TokenTTL,
		bindAddress: opts.BindAddress,
		logger:      opts.Logger,
		now:         opts.Clock,
	}
	if s.factory == nil {
		s.factory = NewAccount
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateAccount registers a new account. The username must be unused: the
// write uses add semantics, so a concurrent duplicate registration loses
// cleanly instead of overwriting.
func (s *Service) CreateAccount(ctx context.Context, username, password string) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	id, err := s.store.NextAccountID(ctx)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("username", username).
			Wrap(err)
	}

	acct := s.factory(id)
	acct.Type = TypeAccount
	acct.Username = username
	acct.Password = hash

	if err := s.store.CreateObject(ctx, Key(username), acct); err != nil {
		if errors.Is(err, docstore.ErrKeyExists) {
			return nil, oops.Code("ACCOUNT_EXISTS").
				With("username", username).
				Wrap(err)
		}
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("username", username).
			Wrap(err)
	}

	s.logger.Info("account created", "username", username, "account_id", id)
	return acct, nil
}

// GetAccount fetches an account by username. An unknown username is a
// normal (nil, nil) outcome, not an error.
func (s *Service) GetAccount(ctx context.Context, username string) (*Account, error) {
	var acct Account
	err := s.store.GetObject(ctx, Key(username), &acct)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("username", username).
			Wrap(err)
	}
	return &acct, nil
}

// UpdateAccount persists the account unconditionally.
func (s *Service) UpdateAccount(ctx context.Context, acct *Account) error {
	if err := s.store.UpdateObject(ctx, Key(acct.Username), acct); err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("username", acct.Username).
			Wrap(err)
	}
	return nil
}

// Authenticate verifies a password against the account's stored hash. A
// verification-library failure is logged and treated as a mismatch, never
// propagated: a malformed stored hash must not crash a login path.
func (s *Service) Authenticate(acct *Account, password string) bool {
	ok, err := s.hasher.Verify(password, acct.Password)
	if err != nil {
		s.logger.Error("password verification failed",
			"username", acct.Username,
			"error", err)
		return false
	}
	return ok
}

// CreateAuthToken issues a fresh session token for the account, binds the
// client address when address binding is enabled, and persists the session
// state. Returns the plaintext token.
func (s *Service) CreateAuthToken(ctx context.Context, acct *Account, addr *codec.SocketAddr) (string, error) {
	token, err := newAuthToken()
	if err != nil {
		return "", oops.Code("ACCOUNT_TOKEN_FAILED").
			With("username", acct.Username).
			Wrap(err)
	}

	acct.AuthToken = token
	acct.AuthExpiration = s.now().Add(s.tokenTTL).Unix()
	if s.bindAddress {
		acct.AuthAddress = addr
	} else {
		acct.AuthAddress = nil
	}

	if err := s.UpdateAccount(ctx, acct); err != nil {
		return "", err
	}

	s.logger.Info("auth token issued",
		"username", acct.Username,
		"expires", acct.AuthExpiration)
	return token, nil
}

// ValidateSession resolves a token to its live account. A token that is
// unknown, expired, or bound to a different address yields (nil, nil).
// Expired sessions are revoked as a side effect: the token is cleared, the
// expiration reset to now, the bound address dropped, and the record
// persisted, so a replay of the same token cannot resurrect the session.
func (s *Service) ValidateSession(ctx context.Context, token string, addr *codec.SocketAddr) (*Account, error) {
	if token == "" {
		return nil, nil
	}

	var acct Account
	found, err := s.store.LookupSession(ctx, token, &acct)
	if err != nil {
		return nil, oops.Code("SESSION_VALIDATE_FAILED").Wrap(err)
	}
	if !found {
		observability.RecordSessionValidation("unknown")
		return nil, nil
	}

	now := s.now()
	expired := acct.AuthExpiration <= now.Unix()
	if !expired && s.bindAddress && acct.AuthAddress != nil {
		if addr == nil || !acct.AuthAddress.Equal(*addr) {
			s.logger.Warn("session address mismatch, revoking",
				"username", acct.Username)
			expired = true
		}
	}

	if expired {
		s.revoke(ctx, &acct, now)
		observability.RecordSessionValidation("expired")
		return nil, nil
	}

	observability.RecordSessionValidation("valid")
	return &acct, nil
}

// revoke clears the session state. Persisting the revocation is best
// effort: the caller already decided the session is dead, and a failed
// write only means the next validation repeats the revocation.
func (s *Service) revoke(ctx context.Context, acct *Account, now time.Time) {
	acct.AuthToken = ""
	acct.AuthExpiration = now.Unix()
	acct.AuthAddress = nil

	if err := s.UpdateAccount(ctx, acct); err != nil {
		s.logger.Error("session revocation write failed",
			"username", acct.Username,
			"error", err)
		return
	}
	s.logger.Info("session revoked", "username", acct.Username)
}

// newAuthToken builds a session credential from two concatenated
// non-negative 63-bit random magnitudes. Short tokens invite collisions;
// this form matches what legacy clients already parse.
func newAuthToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	a := int64(binary.BigEndian.Uint64(buf[:8]) &^ (1 << 63))
	b := int64(binary.BigEndian.Uint64(buf[8:]) &^ (1 << 63))
	return strconv.FormatInt(a, 10) + strconv.FormatInt(b, 10), nil
}

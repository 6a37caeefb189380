// Copyright 2026 The BrokerGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package oauth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Domain errors (internal)
var (
	ErrClientNotFound     = errors.New("client not found")
	ErrCodeNotFound       = errors.New("authorization code not found")
	ErrCodeAlreadyUsed    = errors.New("authorization code already used")
	ErrCodeExpired        = errors.New("authorization code expired")
	ErrTokenNotFound      = errors.New("token not found")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrAudienceMismatch   = errors.New("token audience mismatch")
	ErrUserGone           = errors.New("token subject no longer exists")
	ErrStateNotFound      = errors.New("upstream state not found")
	ErrInvalidRedirectURI = errors.New("invalid redirect URI")
)

// ScopeTrading is the default and only scope this server grants.
const ScopeTrading = "trading"

// ClientIDPrefix marks client identifiers issued by dynamic registration.
const ClientIDPrefix = "mcp-"

// Client represents a registered OAuth client. All clients issued by
// this server are public; Secret is carried only for imported
// confidential clients and is never emitted by registration.
type Client struct {
	ClientID       string    `json:"client_id"`
	Secret         string    `json:"-"`
	ClientName     string    `json:"client_name"`
	RedirectURIs   []string  `json:"redirect_uris"`
	IsConfidential bool      `json:"-"`
	CreatedAt      time.Time `json:"-"`
}

// ValidateRedirectURI checks if the redirect URI is registered for this client
func (c *Client) ValidateRedirectURI(redirectURI string) bool {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// ValidRedirectURI reports whether a URI is acceptable at registration
// time: HTTPS anywhere, or HTTP on localhost (RFC 8252 Section 7.3).
func ValidRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "https":
		return u.Host != ""
	case "http":
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1"
	default:
		return false
	}
}

// Code represents a short-lived single-use authorization code.
type Code struct {
	Code                string
	UserID              string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
	Scope               string
	ExpiresAt           time.Time
	Used                bool
	CreatedAt           time.Time
}

// IsExpired checks if the authorization code has expired
func (c *Code) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// Token represents one issued access/refresh pair. The row is keyed by
// the access token's SHA-256 hex; refresh rotation rewrites both hashes
// in place so one row tracks the whole grant family.
type Token struct {
	TokenHash        string
	UserID           string
	ClientID         string
	Resource         string
	Scope            string
	ExpiresAt        time.Time
	RefreshTokenHash string
	RefreshExpiresAt time.Time
	Revoked          bool
	CreatedAt        time.Time
}

// IsExpired checks if the access token has expired
func (t *Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsRefreshExpired checks if the refresh token has expired
func (t *Token) IsRefreshExpired() bool {
	return time.Now().After(t.RefreshExpiresAt)
}

// UpstreamState is the transient row carried across the upstream
// brokerage's OAuth redirect. Single-use; deleted on any outcome.
type UpstreamState struct {
	State        string
	Email        string
	Password     string
	CodeVerifier string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// IsExpired checks if the upstream state has expired
func (s *UpstreamState) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// ContainsScope reports whether a space-separated scope string grants target.
func ContainsScope(scope, target string) bool {
	for _, part := range strings.Fields(scope) {
		if part == target {
			return true
		}
	}
	return false
}

// ClientRepository defines the interface for OAuth client persistence
type ClientRepository interface {
	// Create creates a new client
	Create(ctx context.Context, client *Client) error

	// GetByClientID retrieves a client by client_id
	GetByClientID(ctx context.Context, clientID string) (*Client, error)
}

// CodeRepository defines the interface for authorization code persistence
type CodeRepository interface {
	// Create creates a new authorization code
	Create(ctx context.Context, code *Code) error

	// GetByCode retrieves an authorization code
	GetByCode(ctx context.Context, code string) (*Code, error)

	// Consume atomically flips used from false to true. Returns
	// ErrCodeAlreadyUsed when the code was already consumed, so
	// concurrent redemptions admit exactly one winner.
	Consume(ctx context.Context, code string) error

	// DeleteExpiredBefore deletes codes whose expiry is before cutoff
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenRepository defines the interface for token persistence
type TokenRepository interface {
	// Create creates a new token row
	Create(ctx context.Context, token *Token) error

	// GetByAccessHash retrieves a token by access token hash
	GetByAccessHash(ctx context.Context, hash string) (*Token, error)

	// GetByRefreshHash retrieves a token by refresh token hash
	GetByRefreshHash(ctx context.Context, hash string) (*Token, error)

	// Rotate replaces both hashes and both expiries on the row currently
	// holding oldRefreshHash, guarded by revoked=false. created_at keeps
	// the original issuance time. Returns ErrTokenNotFound when no live
	// row matched.
	Rotate(ctx context.Context, oldRefreshHash string, next *Token) error

	// RevokeByHash marks revoked the row whose access or refresh hash
	// matches. Returns ErrTokenNotFound when nothing matched; revoking an
	// already-revoked row is not an error.
	RevokeByHash(ctx context.Context, hash string) error

	// ListActiveByUser returns non-revoked rows for a user
	ListActiveByUser(ctx context.Context, userID string) ([]*Token, error)

	// RevokeAllForUser revokes every non-revoked row for a user,
	// optionally restricted to one client. Returns the count revoked.
	RevokeAllForUser(ctx context.Context, userID, clientID string) (int64, error)

	// DeleteExpiredBefore deletes rows where both expiries are before cutoff
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteRevokedBefore deletes revoked rows created before cutoff
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UpstreamStateRepository defines the interface for upstream OAuth state persistence
type UpstreamStateRepository interface {
	// Create creates a new state row
	Create(ctx context.Context, state *UpstreamState) error

	// Consume retrieves and deletes a state row in one step. The row is
	// gone regardless of what the caller does with the result.
	Consume(ctx context.Context, state string) (*UpstreamState, error)

	// DeleteExpiredBefore deletes state rows whose expiry is before cutoff
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

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
	"strings"
	"time"

	"github.com/brokergate/brokergate/internal/audit"
)

// Service provides the authorization-server business logic: client
// registration, authorization requests, the grant switch, revocation,
// and session management.
type Service struct {
	clients     ClientRepository
	codes       CodeRepository
	tokens      TokenRepository
	tokenSvc    *TokenService
	auditLogger audit.Logger

	authCodeTTL time.Duration
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

// NewService creates a new authorization service
func NewService(
	clients ClientRepository,
	codes CodeRepository,
	tokens TokenRepository,
	tokenSvc *TokenService,
	auditLogger audit.Logger,
	authCodeTTL, accessTTL, refreshTTL time.Duration,
) *Service {
	return &Service{
		clients:     clients,
		codes:       codes,
		tokens:      tokens,
		tokenSvc:    tokenSvc,
		auditLogger: auditLogger,
		authCodeTTL: authCodeTTL,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
	}
}

// AuthorizeRequest represents an authorization request (RFC 6749 Section 4.1.1)
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
}

// TokenRequest represents a token request (RFC 6749 Section 4.1.3 / Section 6)
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
	Resource     string
}

// TokenResponse represents a token response (RFC 6749 Section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// RegisterClient handles dynamic client registration (RFC 7591). All
// issued clients are public; no client_secret is generated.
func (s *Service) RegisterClient(ctx context.Context, clientName string, redirectURIs []string) (*Client, error) {
	if clientName == "" {
		return nil, NewError(ErrInvalidClientMetadataReg, "client_name is required")
	}
	if len(redirectURIs) == 0 {
		return nil, NewError(ErrInvalidRedirectURIReg, "redirect_uris is required")
	}
	for _, uri := range redirectURIs {
		if !ValidRedirectURI(uri) {
			return nil, NewError(ErrInvalidRedirectURIReg, "redirect URIs must be HTTPS or localhost")
		}
	}

	client := &Client{
		ClientID:     NewClientID(),
		ClientName:   clientName,
		RedirectURIs: redirectURIs,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.clients.Create(ctx, client); err != nil {
		return nil, NewError(ErrServerError, "failed to persist client")
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeClientRegistered,
		Resource: client.ClientID,
		Metadata: map[string]any{"client_name": clientName},
	})

	return client, nil
}

// ValidateAuthorizeRequest validates an authorization request
// (RFC 6749 Section 4.1.1 plus RFC 7636 and RFC 8707 requirements).
// Defaults the scope to trading when absent.
func (s *Service) ValidateAuthorizeRequest(ctx context.Context, req *AuthorizeRequest) (*Client, error) {
	client, err := s.clients.GetByClientID(ctx, req.ClientID)
	if err != nil {
		return nil, NewError(ErrInvalidRequest, "unknown client_id")
	}

	// Exact match against registered URIs (RFC 6749 Section 3.1.2)
	if !client.ValidateRedirectURI(req.RedirectURI) {
		return nil, NewError(ErrInvalidRequest, "invalid redirect_uri")
	}

	if req.ResponseType != "code" {
		return nil, NewError(ErrInvalidRequest, "response_type must be 'code'")
	}

	// state carries the client's CSRF binding and must round-trip
	if req.State == "" {
		return nil, NewError(ErrInvalidRequest, "state parameter is required")
	}

	// Only S256 is supported (RFC 7636 Section 4.3); 'plain' is rejected
	if req.CodeChallenge == "" || req.CodeChallengeMethod != "S256" {
		return nil, NewError(ErrInvalidRequest, "code_challenge with method S256 is required")
	}

	// Resource indicator is mandatory under the MCP profile (RFC 8707)
	if req.Resource == "" {
		return nil, NewError(ErrInvalidRequest, "resource parameter is required")
	}

	if req.Scope == "" {
		req.Scope = ScopeTrading
	}
	for _, sc := range strings.Fields(req.Scope) {
		if sc != ScopeTrading {
			return nil, NewError(ErrInvalidScope, "unsupported scope")
		}
	}

	return client, nil
}

// IssueCode creates a single-use authorization code for a validated
// request (RFC 6749 Section 4.1.2).
func (s *Service) IssueCode(ctx context.Context, req *AuthorizeRequest, userID string) (*Code, error) {
	code := &Code{
		Code:                NewOpaqueToken(),
		UserID:              userID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Resource:            req.Resource,
		Scope:               req.Scope,
		ExpiresAt:           time.Now().UTC().Add(s.authCodeTTL),
		CreatedAt:           time.Now().UTC(),
	}

	if err := s.codes.Create(ctx, code); err != nil {
		return nil, NewError(ErrServerError, "failed to persist authorization code")
	}

	return code, nil
}

// Exchange is the token-endpoint grant switch (RFC 6749 Section 3.2).
func (s *Service) Exchange(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	// A request naming material from two grants is malformed
	if req.Code != "" && req.RefreshToken != "" {
		return nil, NewError(ErrInvalidRequest, "request mixes authorization_code and refresh_token material")
	}

	switch req.GrantType {
	case "authorization_code":
		return s.exchangeCode(ctx, req)
	case "refresh_token":
		return s.refresh(ctx, req)
	default:
		return nil, NewError(ErrUnsupportedGrantType, "unsupported grant_type")
	}
}

// exchangeCode redeems an authorization code (RFC 6749 Section 4.1.3).
// Which clause failed is never disclosed; everything is invalid_grant.
func (s *Service) exchangeCode(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.Code == "" || req.RedirectURI == "" || req.CodeVerifier == "" || req.ClientID == "" || req.Resource == "" {
		return nil, NewError(ErrInvalidRequest, "missing required parameter")
	}

	code, err := s.codes.GetByCode(ctx, req.Code)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "invalid authorization code")
	}
	if code.Used || code.IsExpired() {
		return nil, NewError(ErrInvalidGrant, "invalid authorization code")
	}
	if code.ClientID != req.ClientID || code.RedirectURI != req.RedirectURI || code.Resource != req.Resource {
		return nil, NewError(ErrInvalidGrant, "invalid authorization code")
	}

	// PKCE verification (RFC 7636 Section 4.6)
	if !VerifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier) {
		return nil, NewError(ErrInvalidGrant, "invalid authorization code")
	}

	// The conditional update is the single-use gate; under concurrent
	// redemption exactly one caller gets past this line.
	if err := s.codes.Consume(ctx, req.Code); err != nil {
		return nil, NewError(ErrInvalidGrant, "invalid authorization code")
	}

	return s.issueTokenPair(ctx, code.UserID, req.ClientID, code.Resource, code.Scope)
}

// refresh rotates a refresh token (RFC 6749 Section 6). Both hashes are
// replaced in one guarded update; presenting an already-rotated refresh
// token finds no row and fails.
func (s *Service) refresh(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" || req.ClientID == "" || req.Resource == "" {
		return nil, NewError(ErrInvalidRequest, "missing required parameter")
	}

	oldRefreshHash := HashToken(req.RefreshToken)
	token, err := s.tokens.GetByRefreshHash(ctx, oldRefreshHash)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "invalid refresh token")
	}
	if token.Revoked || token.IsRefreshExpired() {
		return nil, NewError(ErrInvalidGrant, "invalid refresh token")
	}
	if token.ClientID != req.ClientID || token.Resource != req.Resource {
		return nil, NewError(ErrInvalidGrant, "invalid refresh token")
	}

	accessToken, accessExpiry, err := s.tokenSvc.Mint(token.UserID, token.Resource, token.ClientID, token.Scope)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to issue access token")
	}
	refreshToken := NewOpaqueToken()

	next := &Token{
		TokenHash:        HashToken(accessToken),
		ExpiresAt:        accessExpiry,
		RefreshTokenHash: HashToken(refreshToken),
		RefreshExpiresAt: time.Now().UTC().Add(s.refreshTTL),
	}
	if err := s.tokens.Rotate(ctx, oldRefreshHash, next); err != nil {
		// A concurrent refresh or revocation won the row
		if errors.Is(err, ErrTokenNotFound) {
			return nil, NewError(ErrInvalidGrant, "invalid refresh token")
		}
		return nil, NewError(ErrServerError, "failed to rotate tokens")
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeTokenRefreshed,
		ActorID: token.UserID,
		Metadata: map[string]any{
			audit.AttrClientID: token.ClientID,
			audit.AttrScope:    token.Scope,
		},
	})

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        token.Scope,
	}, nil
}

func (s *Service) issueTokenPair(ctx context.Context, userID, clientID, resource, scope string) (*TokenResponse, error) {
	accessToken, accessExpiry, err := s.tokenSvc.Mint(userID, resource, clientID, scope)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to issue access token")
	}
	refreshToken := NewOpaqueToken()

	token := &Token{
		TokenHash:        HashToken(accessToken),
		UserID:           userID,
		ClientID:         clientID,
		Resource:         resource,
		Scope:            scope,
		ExpiresAt:        accessExpiry,
		RefreshTokenHash: HashToken(refreshToken),
		RefreshExpiresAt: time.Now().UTC().Add(s.refreshTTL),
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, NewError(ErrServerError, "failed to persist token")
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeTokenIssued,
		ActorID: userID,
		Metadata: map[string]any{
			audit.AttrClientID: clientID,
			audit.AttrScope:    scope,
		},
	})

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

// Revoke implements RFC 7009 semantics. Unknown tokens and client
// mismatches are silent successes; only storage failures propagate.
func (s *Service) Revoke(ctx context.Context, rawToken, clientID string) error {
	hash := HashToken(rawToken)

	token, err := s.tokens.GetByAccessHash(ctx, hash)
	if err != nil {
		token, err = s.tokens.GetByRefreshHash(ctx, hash)
	}
	if err != nil {
		return nil
	}
	if clientID != "" && token.ClientID != clientID {
		return nil
	}
	if token.Revoked {
		return nil
	}

	if err := s.tokens.RevokeByHash(ctx, hash); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeTokenRevoked,
		ActorID: token.UserID,
		Metadata: map[string]any{
			audit.AttrClientID: token.ClientID,
		},
	})
	return nil
}

// SessionInfo describes one live token row to its owner.
type SessionInfo struct {
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsExpired bool      `json:"is_expired"`
}

// ListSessions enumerates the caller's non-revoked tokens.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*SessionInfo, error) {
	tokens, err := s.tokens.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sessions := make([]*SessionInfo, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, &SessionInfo{
			ClientID:  t.ClientID,
			Scope:     t.Scope,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
			IsExpired: now.After(t.ExpiresAt),
		})
	}
	return sessions, nil
}

// RevokeCurrent revokes the presenting token. Reports whether a live
// row was actually revoked.
func (s *Service) RevokeCurrent(ctx context.Context, rawToken string) (bool, error) {
	hash := HashToken(rawToken)
	token, err := s.tokens.GetByAccessHash(ctx, hash)
	if err != nil || token.Revoked {
		return false, nil
	}
	if err := s.tokens.RevokeByHash(ctx, hash); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return false, nil
		}
		return false, err
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeTokenRevoked,
		ActorID: token.UserID,
	})
	return true, nil
}

// RevokeAll revokes every live token for the caller, optionally
// restricted to one client_id. Returns the count revoked.
func (s *Service) RevokeAll(ctx context.Context, userID, clientID string) (int64, error) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, clientID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeTokenRevoked,
			ActorID:  userID,
			Metadata: map[string]any{"count": n},
		})
	}
	return n, nil
}

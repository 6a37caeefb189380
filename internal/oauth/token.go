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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brokergate/brokergate/internal/identity"
)

// Claims is the access-token claims set: RFC 7519 registered claims
// plus client_id and scope.
type Claims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies audience-bound HS256 access tokens
// and owns the hash format used for storage lookup.
type TokenService struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	tokens    TokenRepository
	users     identity.UserRepository
}

// NewTokenService creates a token service. The secret is the raw
// JWT_SECRET_KEY bytes; callers validate presence at startup.
func NewTokenService(secret []byte, issuer string, accessTTL time.Duration, tokens TokenRepository, users identity.UserRepository) *TokenService {
	return &TokenService{
		secret:    secret,
		issuer:    issuer,
		accessTTL: accessTTL,
		tokens:    tokens,
		users:     users,
	}
}

// Mint signs an access token for subject userID bound to the given
// audience. Returns the compact JWT and its expiry.
func (s *TokenService) Mint(userID, audience, clientID, scope string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.accessTTL)

	claims := Claims{
		ClientID: clientID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audience},
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Decode verifies signature, issuer, and expiry of a token without
// touching storage. Leeway is zero; an expired token is expired the
// instant exp passes.
func (s *TokenService) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenNotFound
	}
	return claims, nil
}

// Verify performs the full presentation check: claims, strict
// single-audience equality (RFC 8707), the stored row, and the subject.
// A token whose user has been deleted is revoked as a side effect so a
// later presentation hits the revoked path.
func (s *TokenService) Verify(ctx context.Context, tokenString, expectedAudience string) (*Claims, *Token, error) {
	claims, err := s.Decode(tokenString)
	if err != nil {
		return nil, nil, err
	}

	// aud must be exactly one value equal to the expected resource
	if len(claims.Audience) != 1 || claims.Audience[0] != expectedAudience {
		return nil, nil, ErrAudienceMismatch
	}

	token, err := s.tokens.GetByAccessHash(ctx, HashToken(tokenString))
	if err != nil {
		return nil, nil, ErrTokenNotFound
	}
	if token.Revoked {
		return nil, nil, ErrTokenRevoked
	}
	if token.IsExpired() {
		return nil, nil, ErrTokenExpired
	}

	if _, err := s.users.GetByID(ctx, token.UserID); err != nil {
		_ = s.tokens.RevokeByHash(ctx, token.TokenHash)
		return nil, nil, ErrUserGone
	}

	return claims, token, nil
}

// HashToken returns the SHA-256 hex digest used as the storage key for
// both access and refresh tokens. Raw tokens never reach the database.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// NewOpaqueToken returns a 32-byte URL-safe random string, the format
// of refresh tokens, authorization codes, and state values.
func NewOpaqueToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewClientID returns a fresh dynamic-registration client identifier.
func NewClientID() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return ClientIDPrefix + base64.RawURLEncoding.EncodeToString(b)
}

// VerifyPKCE checks base64url(sha256(verifier)) without padding against
// the stored challenge (RFC 7636 Section 4.6). Only S256 is accepted.
func VerifyPKCE(challenge, method, verifier string) bool {
	if method != "S256" || verifier == "" {
		return false
	}
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:]) == challenge
}

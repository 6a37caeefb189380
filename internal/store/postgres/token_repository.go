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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brokergate/brokergate/internal/oauth"
)

// TokenRepository implements oauth.TokenRepository
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

const tokenColumns = `token_hash, user_id, client_id, resource_parameter, scope,
	expires_at, refresh_token_hash, refresh_expires_at, revoked, created_at`

func scanToken(row pgx.Row) (*oauth.Token, error) {
	var t oauth.Token
	err := row.Scan(
		&t.TokenHash, &t.UserID, &t.ClientID, &t.Resource, &t.Scope,
		&t.ExpiresAt, &t.RefreshTokenHash, &t.RefreshExpiresAt, &t.Revoked, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to scan token: %w", err)
	}
	return &t, nil
}

// Create creates a new token row
func (r *TokenRepository) Create(ctx context.Context, token *oauth.Token) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth_tokens (
			token_hash, user_id, client_id, resource_parameter, scope,
			expires_at, refresh_token_hash, refresh_expires_at, revoked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		token.TokenHash, token.UserID, token.ClientID, token.Resource, token.Scope,
		token.ExpiresAt, token.RefreshTokenHash, token.RefreshExpiresAt, token.Revoked, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// GetByAccessHash retrieves a token by access token hash
func (r *TokenRepository) GetByAccessHash(ctx context.Context, hash string) (*oauth.Token, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens WHERE token_hash = $1`, hash)
	return scanToken(row)
}

// GetByRefreshHash retrieves a token by refresh token hash
func (r *TokenRepository) GetByRefreshHash(ctx context.Context, hash string) (*oauth.Token, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens WHERE refresh_token_hash = $1`, hash)
	return scanToken(row)
}

// Rotate replaces both hashes and both expiries in a single guarded
// UPDATE. The revoked = false guard makes concurrent rotation of the
// same refresh token a single-winner race: losers see zero rows.
// created_at stays at issuance time so row age survives rotation.
func (r *TokenRepository) Rotate(ctx context.Context, oldRefreshHash string, next *oauth.Token) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_tokens
		SET token_hash = $1, expires_at = $2, refresh_token_hash = $3, refresh_expires_at = $4
		WHERE refresh_token_hash = $5 AND revoked = false
	`, next.TokenHash, next.ExpiresAt, next.RefreshTokenHash, next.RefreshExpiresAt, oldRefreshHash)
	if err != nil {
		return fmt.Errorf("failed to rotate token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return oauth.ErrTokenNotFound
	}
	return nil
}

// RevokeByHash marks revoked the row whose access or refresh hash matches
func (r *TokenRepository) RevokeByHash(ctx context.Context, hash string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_tokens SET revoked = true
		WHERE token_hash = $1 OR refresh_token_hash = $1
	`, hash)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return oauth.ErrTokenNotFound
	}
	return nil
}

// ListActiveByUser returns non-revoked rows for a user, newest first
func (r *TokenRepository) ListActiveByUser(ctx context.Context, userID string) ([]*oauth.Token, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM oauth_tokens
		WHERE user_id = $1 AND revoked = false
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*oauth.Token
	for rows.Next() {
		var t oauth.Token
		err := rows.Scan(
			&t.TokenHash, &t.UserID, &t.ClientID, &t.Resource, &t.Scope,
			&t.ExpiresAt, &t.RefreshTokenHash, &t.RefreshExpiresAt, &t.Revoked, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return tokens, nil
}

// RevokeAllForUser revokes every non-revoked row for a user, optionally
// restricted to one client when clientID is non-empty
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID, clientID string) (int64, error) {
	query := `UPDATE oauth_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`
	args := []any{userID}
	if clientID != "" {
		query += ` AND client_id = $2`
		args = append(args, clientID)
	}

	result, err := r.db.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpiredBefore deletes rows where both expiries are before cutoff
func (r *TokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM oauth_tokens WHERE expires_at < $1 AND refresh_expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteRevokedBefore deletes revoked rows created before cutoff
func (r *TokenRepository) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM oauth_tokens WHERE revoked = true AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete revoked tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

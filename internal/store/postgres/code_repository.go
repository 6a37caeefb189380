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

// CodeRepository implements oauth.CodeRepository
type CodeRepository struct {
	db *DB
}

// NewCodeRepository creates a new authorization code repository
func NewCodeRepository(db *DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// Create creates a new authorization code
func (r *CodeRepository) Create(ctx context.Context, code *oauth.Code) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth_codes (
			code, user_id, client_id, redirect_uri, code_challenge,
			code_challenge_method, resource_parameter, scope, expires_at, used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		code.Code, code.UserID, code.ClientID, code.RedirectURI, code.CodeChallenge,
		code.CodeChallengeMethod, code.Resource, code.Scope, code.ExpiresAt, code.Used, code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}
	return nil
}

// GetByCode retrieves an authorization code
func (r *CodeRepository) GetByCode(ctx context.Context, codeValue string) (*oauth.Code, error) {
	var code oauth.Code
	err := r.db.pool.QueryRow(ctx, `
		SELECT code, user_id, client_id, redirect_uri, code_challenge,
		       code_challenge_method, resource_parameter, scope, expires_at, used, created_at
		FROM oauth_codes WHERE code = $1
	`, codeValue).Scan(
		&code.Code, &code.UserID, &code.ClientID, &code.RedirectURI, &code.CodeChallenge,
		&code.CodeChallengeMethod, &code.Resource, &code.Scope, &code.ExpiresAt, &code.Used, &code.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	return &code, nil
}

// Consume flips used from false to true. The WHERE clause is the
// single-use gate: of N concurrent redemptions exactly one sees a
// non-zero row count.
func (r *CodeRepository) Consume(ctx context.Context, codeValue string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_codes SET used = true WHERE code = $1 AND used = false
	`, codeValue)
	if err != nil {
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return oauth.ErrCodeAlreadyUsed
	}
	return nil
}

// DeleteExpiredBefore deletes codes whose expiry is before cutoff
func (r *CodeRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM oauth_codes WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	return result.RowsAffected(), nil
}

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
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/brokergate/brokergate/internal/credentials"
)

// CredentialRepository implements credentials.Repository
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert writes a credential row, replacing any existing row for the
// same (user_id, platform)
func (r *CredentialRepository) Upsert(ctx context.Context, cred *credentials.Credential) error {
	refresh := nullString(cred.EncryptedRefreshToken)
	hash := nullString(cred.EncryptedAccountHash)

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO user_credentials (
			user_id, platform, encrypted_access_token, encrypted_account_number,
			encrypted_refresh_token, encrypted_account_hash, token_expires_at,
			encryption_key_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			encrypted_access_token   = EXCLUDED.encrypted_access_token,
			encrypted_account_number = EXCLUDED.encrypted_account_number,
			encrypted_refresh_token  = EXCLUDED.encrypted_refresh_token,
			encrypted_account_hash   = EXCLUDED.encrypted_account_hash,
			token_expires_at         = EXCLUDED.token_expires_at,
			encryption_key_id        = EXCLUDED.encryption_key_id,
			updated_at               = EXCLUDED.updated_at
	`,
		cred.UserID, cred.Platform, cred.EncryptedAccessToken, cred.EncryptedAccountNumber,
		refresh, hash, cred.TokenExpiresAt,
		cred.EncryptionKeyID, cred.CreatedAt, cred.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credentials: %w", err)
	}
	return nil
}

// Get retrieves the row for (user_id, platform)
func (r *CredentialRepository) Get(ctx context.Context, userID, platform string) (*credentials.Credential, error) {
	var cred credentials.Credential
	var refresh, hash sql.NullString

	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, platform, encrypted_access_token, encrypted_account_number,
		       encrypted_refresh_token, encrypted_account_hash, token_expires_at,
		       encryption_key_id, created_at, updated_at
		FROM user_credentials WHERE user_id = $1 AND platform = $2
	`, userID, platform).Scan(
		&cred.UserID, &cred.Platform, &cred.EncryptedAccessToken, &cred.EncryptedAccountNumber,
		&refresh, &hash, &cred.TokenExpiresAt,
		&cred.EncryptionKeyID, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, credentials.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	if refresh.Valid {
		cred.EncryptedRefreshToken = refresh.String
	}
	if hash.Valid {
		cred.EncryptedAccountHash = hash.String
	}
	return &cred, nil
}

// ListPlatforms returns the platforms a user has credentials for
func (r *CredentialRepository) ListPlatforms(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT platform FROM user_credentials WHERE user_id = $1 ORDER BY platform
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list platforms: %w", err)
	}
	defer rows.Close()

	var platforms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan platform: %w", err)
		}
		platforms = append(platforms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list platforms: %w", err)
	}
	return platforms, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brokergate/brokergate/internal/oauth"
)

// UpstreamStateRepository implements oauth.UpstreamStateRepository
type UpstreamStateRepository struct {
	db *DB
}

// NewUpstreamStateRepository creates a new upstream state repository
func NewUpstreamStateRepository(db *DB) *UpstreamStateRepository {
	return &UpstreamStateRepository{db: db}
}

// Create creates a new state row
func (r *UpstreamStateRepository) Create(ctx context.Context, state *oauth.UpstreamState) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO upstream_oauth_states (state, email, password, code_verifier, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, state.State, state.Email, nullString(state.Password), state.CodeVerifier, state.ExpiresAt, state.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create upstream state: %w", err)
	}
	return nil
}

// Consume retrieves and deletes a state row in one step. DELETE with
// RETURNING makes retrieval and invalidation atomic, so a state value
// can never be presented twice.
func (r *UpstreamStateRepository) Consume(ctx context.Context, stateValue string) (*oauth.UpstreamState, error) {
	var state oauth.UpstreamState
	var password sql.NullString

	err := r.db.pool.QueryRow(ctx, `
		DELETE FROM upstream_oauth_states WHERE state = $1
		RETURNING state, email, password, code_verifier, expires_at, created_at
	`, stateValue).Scan(&state.State, &state.Email, &password, &state.CodeVerifier, &state.ExpiresAt, &state.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to consume upstream state: %w", err)
	}

	if password.Valid {
		state.Password = password.String
	}
	return &state, nil
}

// DeleteExpiredBefore deletes state rows whose expiry is before cutoff
func (r *UpstreamStateRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM upstream_oauth_states WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired states: %w", err)
	}
	return result.RowsAffected(), nil
}

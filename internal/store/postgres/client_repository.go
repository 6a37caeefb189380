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

	"github.com/brokergate/brokergate/internal/oauth"
)

// ClientRepository implements oauth.ClientRepository
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create creates a new OAuth client
func (r *ClientRepository) Create(ctx context.Context, client *oauth.Client) error {
	var secret sql.NullString
	if client.Secret != "" {
		secret = sql.NullString{String: client.Secret, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth_clients (client_id, client_secret, client_name, redirect_uris, is_confidential, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, client.ClientID, secret, client.ClientName, client.RedirectURIs, client.IsConfidential, client.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetByClientID retrieves a client by client_id
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*oauth.Client, error) {
	var client oauth.Client
	var secret sql.NullString

	err := r.db.pool.QueryRow(ctx, `
		SELECT client_id, client_secret, client_name, redirect_uris, is_confidential, created_at
		FROM oauth_clients WHERE client_id = $1
	`, clientID).Scan(&client.ClientID, &secret, &client.ClientName, &client.RedirectURIs, &client.IsConfidential, &client.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if secret.Valid {
		client.Secret = secret.String
	}
	return &client, nil
}

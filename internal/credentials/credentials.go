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

// Package credentials persists per-user brokerage secrets, encrypted by
// the vault. Plaintext exists only in memory inside one request.
package credentials

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrNotFound = errors.New("credentials not found")

	// ErrUnavailable covers every decryption failure. The cause (bad MAC,
	// wrong key, corrupt row) is never surfaced to callers.
	ErrUnavailable = errors.New("credentials unavailable")
)

// Credential is one encrypted row, keyed by (user_id, platform). A
// second write for the same pair updates in place.
type Credential struct {
	UserID                 string
	Platform               string
	EncryptedAccessToken   string
	EncryptedAccountNumber string
	EncryptedRefreshToken  string
	EncryptedAccountHash   string
	TokenExpiresAt         *time.Time
	EncryptionKeyID        string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// TradingCredentials is the decrypted form handed to broker clients.
type TradingCredentials struct {
	AccessToken    string
	AccountNumber  string
	RefreshToken   string
	AccountHash    string
	TokenExpiresAt *time.Time
}

// Repository defines the interface for credential persistence
type Repository interface {
	// Upsert writes a credential row, replacing any existing row for the
	// same (user_id, platform)
	Upsert(ctx context.Context, cred *Credential) error

	// Get retrieves the row for (user_id, platform)
	Get(ctx context.Context, userID, platform string) (*Credential, error)

	// ListPlatforms returns the platforms a user has credentials for
	ListPlatforms(ctx context.Context, userID string) ([]string, error)
}

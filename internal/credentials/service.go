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

package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brokergate/brokergate/internal/audit"
	"github.com/brokergate/brokergate/internal/observability/logger"
	"github.com/brokergate/brokergate/internal/vault"
)

// Service encrypts and decrypts credential rows through the vault.
type Service struct {
	repo        Repository
	vault       *vault.Vault
	auditLogger audit.Logger
}

// NewService creates a new credential service
func NewService(repo Repository, v *vault.Vault, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		vault:       v,
		auditLogger: auditLogger,
	}
}

// Store encrypts and persists trading credentials for (userID, platform).
func (s *Service) Store(ctx context.Context, userID, platform string, creds *TradingCredentials) error {
	encAccess, err := s.vault.Encrypt(creds.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	encAccount, err := s.vault.Encrypt(creds.AccountNumber)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	row := &Credential{
		UserID:                 userID,
		Platform:               platform,
		EncryptedAccessToken:   encAccess,
		EncryptedAccountNumber: encAccount,
		TokenExpiresAt:         creds.TokenExpiresAt,
		EncryptionKeyID:        vault.KeyID,
		CreatedAt:              time.Now().UTC(),
		UpdatedAt:              time.Now().UTC(),
	}

	if creds.RefreshToken != "" {
		if row.EncryptedRefreshToken, err = s.vault.Encrypt(creds.RefreshToken); err != nil {
			return fmt.Errorf("failed to store credentials: %w", err)
		}
	}
	if creds.AccountHash != "" {
		if row.EncryptedAccountHash, err = s.vault.Encrypt(creds.AccountHash); err != nil {
			return fmt.Errorf("failed to store credentials: %w", err)
		}
	}

	if err := s.repo.Upsert(ctx, row); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeCredentialsStored,
		ActorID: userID,
		Metadata: map[string]any{
			audit.AttrPlatform: platform,
		},
	})

	return nil
}

// Load retrieves and decrypts credentials for (userID, platform).
// Returns ErrNotFound when no row exists and ErrUnavailable when
// decryption fails for any reason.
func (s *Service) Load(ctx context.Context, userID, platform string) (*TradingCredentials, error) {
	row, err := s.repo.Get(ctx, userID, platform)
	if err != nil {
		return nil, ErrNotFound
	}

	creds := &TradingCredentials{TokenExpiresAt: row.TokenExpiresAt}

	if creds.AccessToken, err = s.vault.Decrypt(row.EncryptedAccessToken); err != nil {
		slog.WarnContext(ctx, "credential decryption failed",
			logger.UserID(userID), logger.Platform(platform), logger.Error(err))
		return nil, ErrUnavailable
	}
	if creds.AccountNumber, err = s.vault.Decrypt(row.EncryptedAccountNumber); err != nil {
		slog.WarnContext(ctx, "credential decryption failed",
			logger.UserID(userID), logger.Platform(platform), logger.Error(err))
		return nil, ErrUnavailable
	}
	if row.EncryptedRefreshToken != "" {
		if creds.RefreshToken, err = s.vault.Decrypt(row.EncryptedRefreshToken); err != nil {
			return nil, ErrUnavailable
		}
	}
	if row.EncryptedAccountHash != "" {
		if creds.AccountHash, err = s.vault.Decrypt(row.EncryptedAccountHash); err != nil {
			return nil, ErrUnavailable
		}
	}

	return creds, nil
}

// Platforms lists the platforms a user has stored credentials for.
func (s *Service) Platforms(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ListPlatforms(ctx, userID)
}

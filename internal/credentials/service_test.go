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
	"errors"
	"testing"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/brokergate/brokergate/internal/audit"
	"github.com/brokergate/brokergate/internal/vault"
)

type MockCredentialRepo struct {
	rows map[string]*Credential
}

func key(userID, platform string) string { return userID + "/" + platform }

func (m *MockCredentialRepo) Upsert(ctx context.Context, cred *Credential) error {
	m.rows[key(cred.UserID, cred.Platform)] = cred
	return nil
}

func (m *MockCredentialRepo) Get(ctx context.Context, userID, platform string) (*Credential, error) {
	c, ok := m.rows[key(userID, platform)]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *MockCredentialRepo) ListPlatforms(ctx context.Context, userID string) ([]string, error) {
	var out []string
	for _, c := range m.rows {
		if c.UserID == userID {
			out = append(out, c.Platform)
		}
	}
	return out, nil
}

func newCredFixture(t *testing.T) (*Service, *MockCredentialRepo) {
	t.Helper()
	var k fernet.Key
	if err := k.Generate(); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v, err := vault.New(k.Encode())
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	repo := &MockCredentialRepo{rows: make(map[string]*Credential)}
	return NewService(repo, v, audit.NewSlogLogger()), repo
}

// TestPurpose: Validates the encrypt-persist-reload-decrypt round trip for all credential fields.
// Scope: Unit Test
// Security: Plaintext must never appear in the persisted row.
// Expected: Load returns the original values; stored ciphertext differs from plaintext; key id is recorded.
func TestCredentials_StoreLoad_RoundTrip(t *testing.T) {
	s, repo := newCredFixture(t)
	ctx := context.Background()
	exp := time.Now().UTC().Add(30 * time.Minute)

	in := &TradingCredentials{
		AccessToken:    "upstream-access-token",
		AccountNumber:  "12345678",
		RefreshToken:   "upstream-refresh-token",
		AccountHash:    "ABCDEF0123",
		TokenExpiresAt: &exp,
	}
	if err := s.Store(ctx, "user-123", "schwab", in); err != nil {
		t.Fatalf("store: %v", err)
	}

	row := repo.rows["user-123/schwab"]
	if row.EncryptedAccessToken == in.AccessToken || row.EncryptedAccountNumber == in.AccountNumber {
		t.Error("plaintext persisted")
	}
	if row.EncryptionKeyID != vault.KeyID {
		t.Errorf("key id = %q", row.EncryptionKeyID)
	}

	out, err := s.Load(ctx, "user-123", "schwab")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.AccessToken != in.AccessToken || out.AccountNumber != in.AccountNumber ||
		out.RefreshToken != in.RefreshToken || out.AccountHash != in.AccountHash {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if out.TokenExpiresAt == nil || !out.TokenExpiresAt.Equal(exp) {
		t.Errorf("token_expires_at mismatch: %v", out.TokenExpiresAt)
	}
}

// TestPurpose: Validates upsert-in-place for a repeated (user, platform) pair and optional-field absence.
// Scope: Unit Test
// Expected: Second store replaces the row; optional fields stay empty when not provided.
func TestCredentials_Store_Upsert(t *testing.T) {
	s, repo := newCredFixture(t)
	ctx := context.Background()

	if err := s.Store(ctx, "user-123", "tradier", &TradingCredentials{AccessToken: "old-key", AccountNumber: "111"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Store(ctx, "user-123", "tradier", &TradingCredentials{AccessToken: "new-key", AccountNumber: "222"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(repo.rows))
	}

	out, err := s.Load(ctx, "user-123", "tradier")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.AccessToken != "new-key" || out.AccountNumber != "222" {
		t.Errorf("upsert did not replace: %+v", out)
	}
	if out.RefreshToken != "" || out.AccountHash != "" {
		t.Errorf("optional fields unexpectedly set: %+v", out)
	}
}

// TestPurpose: Validates the opaque failure contract for missing and undecryptable rows.
// Scope: Unit Test
// Security: MAC failures must surface as a generic unavailability, never the cryptographic cause.
// Expected: ErrNotFound for a missing row; ErrUnavailable for corrupted ciphertext.
func TestCredentials_Load_Failures(t *testing.T) {
	s, repo := newCredFixture(t)
	ctx := context.Background()

	if _, err := s.Load(ctx, "user-123", "tradier"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.Store(ctx, "user-123", "tradier", &TradingCredentials{AccessToken: "k", AccountNumber: "1"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	repo.rows["user-123/tradier"].EncryptedAccessToken = "gAAAAABcorrupted"

	if _, err := s.Load(ctx, "user-123", "tradier"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

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

package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brokergate/brokergate/internal/audit"
)

type MockUserRepo struct {
	byEmail map[string]*User
}

func newMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byEmail: make(map[string]*User)}
}

func (m *MockUserRepo) Create(ctx context.Context, user *User) error {
	if _, ok := m.byEmail[user.Email]; ok {
		return ErrUserAlreadyExists
	}
	m.byEmail[user.Email] = user
	return nil
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *MockUserRepo) Delete(ctx context.Context, id string) error {
	for email, u := range m.byEmail {
		if u.ID == id {
			delete(m.byEmail, email)
			return nil
		}
	}
	return ErrUserNotFound
}

func newTestService() (*Service, *MockUserRepo) {
	repo := newMockUserRepo()
	return NewService(repo, NewPasswordHasher(), audit.NewSlogLogger()), repo
}

// TestPurpose: Validates that an unknown email creates a new account on first login.
// Scope: Unit Test
// Expected: AuthenticateOrCreate returns created=true and persists a bcrypt hash, not the password.
func TestIdentity_AuthenticateOrCreate_NewUser(t *testing.T) {
	s, repo := newTestService()
	ctx := context.Background()

	user, created, err := s.AuthenticateOrCreate(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}
	if user.ID == "" {
		t.Error("user ID missing")
	}

	stored := repo.byEmail["alice@example.com"]
	if stored == nil {
		t.Fatal("user not persisted")
	}
	if stored.PasswordHash == "correct-horse-battery" {
		t.Error("password stored in plaintext")
	}
}

// TestPurpose: Validates that a returning user with the right password authenticates without creating a duplicate.
// Scope: Unit Test
// Expected: Same user ID returned, created=false.
func TestIdentity_AuthenticateOrCreate_ExistingUser(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	first, _, err := s.AuthenticateOrCreate(ctx, "bob@example.com", "password-123")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	second, created, err := s.AuthenticateOrCreate(ctx, "bob@example.com", "password-123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if created {
		t.Error("expected created=false")
	}
	if second.ID != first.ID {
		t.Errorf("expected user %s, got %s", first.ID, second.ID)
	}
}

// TestPurpose: Validates that a wrong password for an existing email is rejected, not treated as a new account.
// Scope: Unit Test
// Security: The create-on-first-login path must never shadow an existing account.
// Expected: ErrInvalidCredentials.
func TestIdentity_AuthenticateOrCreate_WrongPassword(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	if _, _, err := s.AuthenticateOrCreate(ctx, "carol@example.com", "password-123"); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err := s.AuthenticateOrCreate(ctx, "carol@example.com", "wrong-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

// TestPurpose: Validates that email case differences resolve to one account.
// Scope: Unit Test
// Expected: Mixed-case login finds the account created with lowercase email.
func TestIdentity_EmailNormalization(t *testing.T) {
	s, repo := newTestService()
	ctx := context.Background()

	first, _, err := s.AuthenticateOrCreate(ctx, "Dave@Example.COM", "password-123")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Email != "dave@example.com" {
		t.Errorf("expected lowercase email, got %s", first.Email)
	}

	second, created, err := s.AuthenticateOrCreate(ctx, "DAVE@example.com", "password-123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if created || second.ID != first.ID {
		t.Error("case variant created a duplicate account")
	}
	if len(repo.byEmail) != 1 {
		t.Errorf("expected one account, got %d", len(repo.byEmail))
	}
}

// TestPurpose: Validates that passwords longer than 72 bytes hash and verify consistently.
// Scope: Unit Test
// Security: bcrypt reads only 72 bytes; truncation must be symmetric between hash and verify.
// Expected: A 100-byte password round-trips; its 72-byte prefix also verifies.
func TestIdentity_PasswordTruncation(t *testing.T) {
	h := NewPasswordHasher()

	long := strings.Repeat("a", 100)
	hash, err := h.Hash(long)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if !h.Verify(long, hash) {
		t.Error("long password failed to verify against its own hash")
	}
	if !h.Verify(strings.Repeat("a", 72), hash) {
		t.Error("72-byte prefix should verify; bcrypt ignores the rest")
	}
	if h.Verify(strings.Repeat("a", 71), hash) {
		t.Error("71-byte prefix must not verify")
	}
}

// TestPurpose: Validates the Authenticate path for unknown users and short passwords on create.
// Scope: Unit Test
// Expected: Unknown email yields ErrInvalidCredentials; a 7-character password on create yields ErrWeakPassword.
func TestIdentity_AuthenticateErrors(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	if _, err := s.Authenticate(ctx, "nobody@example.com", "whatever1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	if _, _, err := s.AuthenticateOrCreate(ctx, "eve@example.com", "short12"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}
}

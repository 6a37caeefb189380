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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/brokergate/brokergate/internal/audit"
)

// bcryptCost matches the work factor the credential rows were written with.
const bcryptCost = 12

// PasswordHasher handles password hashing using bcrypt
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a new password hasher
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{cost: bcryptCost}
}

// Hash hashes a password using bcrypt. bcrypt only reads the first 72
// bytes of input, and recent library versions reject longer input
// outright, so truncate explicitly for a stable contract.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncate72([]byte(password)), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify verifies a password against a bcrypt hash
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncate72([]byte(password))) == nil
}

func truncate72(b []byte) []byte {
	if len(b) > 72 {
		return b[:72]
	}
	return b
}

// Service provides user account business logic
type Service struct {
	repo        UserRepository
	hasher      *PasswordHasher
	auditLogger audit.Logger
}

// NewService creates a new identity service
func NewService(repo UserRepository, hasher *PasswordHasher, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		hasher:      hasher,
		auditLogger: auditLogger,
	}
}

// NormalizeEmail lowercases and trims an email address. All reads and
// writes go through this so the unique index on users.email holds.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate authenticates a user with email and password
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: email,
			Metadata: map[string]any{audit.AttrReason: "user_not_found"},
		})
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "invalid_password"},
		})
		return nil, ErrInvalidCredentials
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeLoginSuccess,
		ActorID: user.ID,
	})

	return user, nil
}

// AuthenticateOrCreate authenticates a user, creating the account on
// first sight of the email. A wrong password for an existing email is a
// normal authentication failure; only an unknown email creates. Returns
// whether a new account was created.
func (s *Service) AuthenticateOrCreate(ctx context.Context, email, password string) (*User, bool, error) {
	email = NormalizeEmail(email)

	if !isValidEmail(email) {
		return nil, false, ErrInvalidEmail
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		if !s.hasher.Verify(password, user.PasswordHash) {
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeLoginFailed,
				ActorID:  user.ID,
				Resource: "login",
				Metadata: map[string]any{audit.AttrReason: "invalid_password"},
			})
			return nil, false, ErrInvalidCredentials
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:    audit.TypeLoginSuccess,
			ActorID: user.ID,
		})
		return user, false, nil
	}

	if !isStrongPassword(password) {
		return nil, false, ErrWeakPassword
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, false, err
	}

	user = &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		// A concurrent first login may have won the unique-email race.
		if existing, getErr := s.repo.GetByEmail(ctx, email); getErr == nil {
			if s.hasher.Verify(password, existing.PasswordHash) {
				return existing, false, nil
			}
			return nil, false, ErrInvalidCredentials
		}
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeUserCreated,
		ActorID: user.ID,
		Metadata: map[string]any{
			audit.AttrEmail: email,
		},
	})

	return user, true, nil
}

// GetByID retrieves a user by ID
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Helper functions
func isValidEmail(email string) bool {
	// Basic shape check; the form is the real gatekeeper
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && len(email) < 255
}

func isStrongPassword(password string) bool {
	return len(password) >= 8
}

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

// Package vault encrypts brokerage credentials at rest using the fernet
// token format (AES-128-CBC + HMAC-SHA256 under a single 32-byte key).
package vault

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// KeyID identifies the active key. Rows record it so a future key
// rotation can tell old ciphertext from new.
const KeyID = "default"

var (
	// ErrDecrypt is returned when ciphertext fails authentication or
	// cannot be decoded. The cause is deliberately not distinguished.
	ErrDecrypt = errors.New("vault: decryption failed")
)

// Vault encrypts and decrypts short secrets with a fernet key.
type Vault struct {
	key *fernet.Key
}

// New builds a Vault from a URL-safe base64 encoded 32-byte key, the
// format produced by cmd/keygen.
func New(encodedKey string) (*Vault, error) {
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("vault: invalid encryption key: %w", err)
	}
	return &Vault{key: key}, nil
}

// Encrypt seals plaintext into a fernet token.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), v.key)
	if err != nil {
		return "", fmt.Errorf("vault: encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a fernet token. Tokens never expire here; credential
// lifetime is governed by the database rows, not the ciphertext.
func (v *Vault) Decrypt(token string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{v.key})
	if msg == nil {
		return "", ErrDecrypt
	}
	return string(msg), nil
}

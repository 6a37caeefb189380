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

package vault

import (
	"errors"
	"strings"
	"testing"

	"github.com/fernet/fernet-go"
)

func testKey(t *testing.T) string {
	t.Helper()
	var k fernet.Key
	if err := k.Generate(); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k.Encode()
}

// TestPurpose: Validates that a secret encrypted by the vault decrypts to the original plaintext.
// Scope: Unit Test
// Security: Credentials must survive the encrypt/decrypt round trip without loss.
// Expected: Decrypt(Encrypt(s)) == s and the ciphertext differs from the plaintext.
func TestVault_RoundTrip(t *testing.T) {
	v, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	plaintext := "tradier-api-key-abc123"
	token, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if token == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := v.Decrypt(token)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != plaintext {
		t.Errorf("expected %q, got %q", plaintext, got)
	}
}

// TestPurpose: Validates that two encryptions of the same plaintext produce distinct ciphertext.
// Scope: Unit Test
// Security: Random IV per token prevents equality inference across rows.
// Expected: Encrypt(s) != Encrypt(s).
func TestVault_NonDeterministic(t *testing.T) {
	v, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	a, _ := v.Encrypt("same-secret")
	b, _ := v.Encrypt("same-secret")
	if a == b {
		t.Error("two encryptions produced identical ciphertext")
	}
}

// TestPurpose: Validates that tampered ciphertext fails authentication.
// Scope: Unit Test
// Security: HMAC verification must reject any bit flip in the token.
// Expected: Decrypt returns ErrDecrypt, never corrupted plaintext.
func TestVault_TamperDetection(t *testing.T) {
	v, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	token, err := v.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// Flip a character in the middle of the token
	mid := len(token) / 2
	flipped := "A"
	if token[mid] == 'A' {
		flipped = "B"
	}
	tampered := token[:mid] + flipped + token[mid+1:]

	if _, err := v.Decrypt(tampered); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
}

// TestPurpose: Validates that ciphertext from one key cannot be opened with another.
// Scope: Unit Test
// Security: A rotated or mismatched ENCRYPTION_KEY must not silently decrypt.
// Expected: Decrypt under the wrong key returns ErrDecrypt.
func TestVault_WrongKey(t *testing.T) {
	v1, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	v2, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	token, _ := v1.Encrypt("secret")
	if _, err := v2.Decrypt(token); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
}

// TestPurpose: Validates rejection of malformed encryption keys at construction.
// Scope: Unit Test
// Expected: New returns an error for keys that are not 32 bytes base64.
func TestVault_InvalidKey(t *testing.T) {
	for _, key := range []string{"", "short", strings.Repeat("x", 31)} {
		if _, err := New(key); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}

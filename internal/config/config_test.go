package config

import (
	"strings"
	"testing"
	"time"
)

// setRequiredEnv sets the four mandatory variables with valid values.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", "pRXNWQ5Zfez01xCByutlCzrfg5i5BqeS0reKRxrnJ2Y")
	t.Setenv("JWT_SECRET_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("SERVER_URL", "https://srv")
	t.Setenv("DATABASE_URL", "postgres://localhost/brokergate_test")
}

// TestPurpose: Validates that Load applies documented defaults when only the mandatory variables are set.
// Scope: Unit Test
// Expected: 15m/720h/10m token lifetimes, 10/20/30 per-minute rate limits with burst 5, 60m janitor interval.
func TestConfig_Load_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Security.AccessTokenTTL != 15*time.Minute {
		t.Errorf("access TTL = %v", cfg.Security.AccessTokenTTL)
	}
	if cfg.Security.RefreshTokenTTL != 720*time.Hour {
		t.Errorf("refresh TTL = %v", cfg.Security.RefreshTokenTTL)
	}
	if cfg.Security.AuthCodeTTL != 10*time.Minute {
		t.Errorf("code TTL = %v", cfg.Security.AuthCodeTTL)
	}
	if cfg.RateLimit.LoginPerMinute != 10 || cfg.RateLimit.AuthorizePerMinute != 20 ||
		cfg.RateLimit.TokenPerMinute != 30 || cfg.RateLimit.Burst != 5 {
		t.Errorf("rate limits = %+v", cfg.RateLimit)
	}
	if cfg.Janitor.Interval != 60*time.Minute {
		t.Errorf("janitor interval = %v", cfg.Janitor.Interval)
	}
	if cfg.Schwab.Enabled() {
		t.Error("schwab bridge enabled without credentials")
	}
}

// TestPurpose: Validates that startup fails when any mandatory variable is absent.
// Scope: Unit Test
// Security: The process must not boot able to mint unverifiable tokens or write undecryptable ciphertext.
// Expected: Load errors naming the missing variable.
func TestConfig_Load_MissingRequired(t *testing.T) {
	required := []string{"ENCRYPTION_KEY", "JWT_SECRET_KEY", "SERVER_URL", "DATABASE_URL"}
	for _, key := range required {
		t.Run(key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(key, "")

			if _, err := Load(); err == nil {
				t.Fatalf("missing %s accepted", key)
			} else if !strings.Contains(err.Error(), key) {
				t.Errorf("error does not name %s: %v", key, err)
			}
		})
	}
}

// TestPurpose: Validates the HS256 key length floor.
// Scope: Unit Test
// Security: A short JWT_SECRET_KEY weakens every token the server mints; reject it at startup.
// Expected: A secret under 32 bytes fails validation; exactly 32 bytes passes.
func TestConfig_Load_ShortJWTSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET_KEY", "too-short")

	if _, err := Load(); err == nil {
		t.Fatal("short secret accepted")
	}

	t.Setenv("JWT_SECRET_KEY", strings.Repeat("k", 32))
	if _, err := Load(); err != nil {
		t.Fatalf("32-byte secret rejected: %v", err)
	}
}

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

package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokergate/brokergate/internal/audit"
	"github.com/brokergate/brokergate/internal/config"
	"github.com/brokergate/brokergate/internal/credentials"
	"github.com/brokergate/brokergate/internal/identity"
	"github.com/brokergate/brokergate/internal/oauth"
	"github.com/brokergate/brokergate/internal/vault"
)

type mockStateRepo struct {
	rows map[string]*oauth.UpstreamState
}

func (m *mockStateRepo) Create(ctx context.Context, state *oauth.UpstreamState) error {
	m.rows[state.State] = state
	return nil
}

func (m *mockStateRepo) Consume(ctx context.Context, state string) (*oauth.UpstreamState, error) {
	row, ok := m.rows[state]
	if !ok {
		return nil, oauth.ErrStateNotFound
	}
	delete(m.rows, state)
	return row, nil
}

func (m *mockStateRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockUserRepo struct {
	users map[string]*identity.User
}

func (m *mockUserRepo) Create(ctx context.Context, u *identity.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	delete(m.users, id)
	return nil
}

type mockCredRepo struct {
	rows map[string]*credentials.Credential
}

func (m *mockCredRepo) Upsert(ctx context.Context, c *credentials.Credential) error {
	m.rows[c.UserID+"/"+c.Platform] = c
	return nil
}

func (m *mockCredRepo) Get(ctx context.Context, userID, platform string) (*credentials.Credential, error) {
	c, ok := m.rows[userID+"/"+platform]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return c, nil
}

func (m *mockCredRepo) ListPlatforms(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

func newBridgeFixture(t *testing.T) (*Bridge, *mockStateRepo, *credentials.Service) {
	t.Helper()
	var k fernet.Key
	require.NoError(t, k.Generate())
	v, err := vault.New(k.Encode())
	require.NoError(t, err)

	al := audit.NewSlogLogger()
	states := &mockStateRepo{rows: make(map[string]*oauth.UpstreamState)}
	users := identity.NewService(&mockUserRepo{users: make(map[string]*identity.User)}, identity.NewPasswordHasher(), al)
	creds := credentials.NewService(&mockCredRepo{rows: make(map[string]*credentials.Credential)}, v, al)

	b := New(config.SchwabConfig{
		AppKey:      "app-key",
		AppSecret:   "app-secret",
		CallbackURL: "https://srv/setup/schwab/callback",
	}, states, users, creds, al)
	return b, states, creds
}

// TestPurpose: Validates the initiation leg: state persistence, PKCE challenge, and redirect URL contents.
// Scope: Unit Test
// Security: The verifier must stay server-side; only its S256 digest travels in the redirect.
// Expected: Redirect carries client_id, S256 challenge, and a state matching a stored row with a 10-minute TTL.
func TestUpstream_Initiate(t *testing.T) {
	b, states, _ := newBridgeFixture(t)

	redirect, err := b.Initiate(context.Background(), "Trader@X.com", "password123")
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "app-key", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	row, ok := states.rows[q.Get("state")]
	require.True(t, ok, "state row not persisted")
	assert.Equal(t, "trader@x.com", row.Email, "email must be normalized")
	assert.NotEmpty(t, row.CodeVerifier)
	assert.NotContains(t, redirect, row.CodeVerifier, "verifier leaked into redirect")
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), row.ExpiresAt, time.Minute)
}

// TestPurpose: Validates the callback leg: Basic-auth code exchange, account fetch, user creation, credential storage.
// Scope: Unit Test (httptest)
// Expected: Tokens land encrypted under (user, schwab); the state row is consumed.
func TestUpstream_Callback_Success(t *testing.T) {
	b, states, creds := newBridgeFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth/token":
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok, "expected HTTP Basic client auth")
			assert.Equal(t, "app-key", user)
			assert.Equal(t, "app-secret", pass)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			assert.NotEmpty(t, r.PostForm.Get("code_verifier"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"up-access","refresh_token":"up-refresh","token_type":"Bearer","expires_in":1800}`))
		case "/trader/v1/accounts/accountNumbers":
			assert.Equal(t, "Bearer up-access", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"accountNumber":"87654321","hashValue":"HASH123"}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	b.oauthCfg.Endpoint.TokenURL = srv.URL + "/v1/oauth/token"
	b.apiURL = srv.URL

	redirect, err := b.Initiate(ctx, "trader@x.com", "password123")
	require.NoError(t, err)
	state := mustQueryParam(t, redirect, "state")

	email, err := b.Callback(ctx, state, "upstream-code")
	require.NoError(t, err)
	assert.Equal(t, "trader@x.com", email)
	assert.Empty(t, states.rows, "state row must be consumed")

	// Credentials round-trip through the vault
	user, err := b.users.Authenticate(ctx, "trader@x.com", "password123")
	require.NoError(t, err, "callback should have created the account")
	stored, err := creds.Load(ctx, user.ID, "schwab")
	require.NoError(t, err)
	assert.Equal(t, "up-access", stored.AccessToken)
	assert.Equal(t, "up-refresh", stored.RefreshToken)
	assert.Equal(t, "87654321", stored.AccountNumber)
	assert.Equal(t, "HASH123", stored.AccountHash)
	require.NotNil(t, stored.TokenExpiresAt)
}

// TestPurpose: Validates single-use and expiry handling of upstream state.
// Scope: Unit Test
// Expected: Unknown, replayed, and expired states all fail with ErrStateInvalid; expired rows are still consumed.
func TestUpstream_Callback_StateInvalid(t *testing.T) {
	b, states, _ := newBridgeFixture(t)
	ctx := context.Background()

	_, err := b.Callback(ctx, "no-such-state", "code")
	assert.ErrorIs(t, err, ErrStateInvalid)

	redirect, err := b.Initiate(ctx, "trader@x.com", "password123")
	require.NoError(t, err)
	state := mustQueryParam(t, redirect, "state")
	states.rows[state].ExpiresAt = time.Now().Add(-time.Second)

	_, err = b.Callback(ctx, state, "code")
	assert.ErrorIs(t, err, ErrStateInvalid)
	assert.Empty(t, states.rows, "expired state must still be deleted")

	// Replay of the consumed state
	_, err = b.Callback(ctx, state, "code")
	assert.ErrorIs(t, err, ErrStateInvalid)
}

func mustQueryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	v := u.Query().Get(key)
	require.NotEmpty(t, v, "missing query param %s in %s", key, rawURL)
	if strings.Contains(v, " ") {
		t.Fatalf("query param %s contains spaces", key)
	}
	return v
}

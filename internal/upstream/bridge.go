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

// Package upstream drives the PKCE authorization-code exchange against
// the Schwab OAuth endpoints. The resulting tokens are vault-stored
// credentials, not trust material for this server's own clients.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/brokergate/brokergate/internal/audit"
	"github.com/brokergate/brokergate/internal/broker"
	"github.com/brokergate/brokergate/internal/config"
	"github.com/brokergate/brokergate/internal/credentials"
	"github.com/brokergate/brokergate/internal/identity"
	brokeroauth "github.com/brokergate/brokergate/internal/oauth"
	"github.com/brokergate/brokergate/internal/observability/logger"
)

const (
	schwabAuthURL  = "https://api.schwabapi.com/v1/oauth/authorize"
	schwabTokenURL = "https://api.schwabapi.com/v1/oauth/token"
	schwabAPIURL   = "https://api.schwabapi.com"

	stateTTL        = 10 * time.Minute
	exchangeTimeout = 10 * time.Second
)

// Domain errors
var (
	ErrStateInvalid = errors.New("upstream state missing or expired")
	ErrExchange     = errors.New("upstream token exchange failed")
)

// Bridge runs the upstream OAuth flow end to end: initiate builds the
// redirect, callback exchanges the code and persists credentials.
type Bridge struct {
	oauthCfg    *oauth2.Config
	apiURL      string
	states      brokeroauth.UpstreamStateRepository
	users       *identity.Service
	creds       *credentials.Service
	auditLogger audit.Logger
}

// New creates a bridge from the Schwab application configuration.
func New(cfg config.SchwabConfig, states brokeroauth.UpstreamStateRepository, users *identity.Service, creds *credentials.Service, auditLogger audit.Logger) *Bridge {
	return &Bridge{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.AppKey,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.CallbackURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  schwabAuthURL,
				TokenURL: schwabTokenURL,
				// Schwab requires client credentials as HTTP Basic auth
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiURL:      schwabAPIURL,
		states:      states,
		users:       users,
		creds:       creds,
		auditLogger: auditLogger,
	}
}

// Initiate persists transient state for (email, password) and returns
// the brokerage authorization URL to redirect the browser to.
func (b *Bridge) Initiate(ctx context.Context, email, password string) (string, error) {
	verifier := oauth2.GenerateVerifier()
	state := brokeroauth.NewOpaqueToken()

	row := &brokeroauth.UpstreamState{
		State:        state,
		Email:        identity.NormalizeEmail(email),
		Password:     password,
		CodeVerifier: verifier,
		ExpiresAt:    time.Now().UTC().Add(stateTTL),
		CreatedAt:    time.Now().UTC(),
	}
	if err := b.states.Create(ctx, row); err != nil {
		return "", fmt.Errorf("failed to persist upstream state: %w", err)
	}

	return b.oauthCfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// Callback consumes the state row, exchanges the code, resolves or
// creates the user, and stores the encrypted credentials. The state is
// single-use regardless of outcome.
func (b *Bridge) Callback(ctx context.Context, state, code string) (string, error) {
	row, err := b.states.Consume(ctx, state)
	if err != nil {
		return "", ErrStateInvalid
	}
	if row.IsExpired() {
		return "", ErrStateInvalid
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	token, err := b.oauthCfg.Exchange(exchangeCtx, code, oauth2.VerifierOption(row.CodeVerifier))
	if err != nil {
		slog.ErrorContext(ctx, "upstream token exchange failed",
			logger.Platform(broker.PlatformSchwab), logger.Error(err))
		return "", ErrExchange
	}

	accountNumber, accountHash, err := b.fetchAccount(exchangeCtx, token.AccessToken)
	if err != nil {
		return "", err
	}

	user, _, err := b.users.AuthenticateOrCreate(ctx, row.Email, row.Password)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user: %w", err)
	}

	expiry := token.Expiry.UTC()
	if err := b.creds.Store(ctx, user.ID, broker.PlatformSchwab, &credentials.TradingCredentials{
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		AccountNumber:  accountNumber,
		AccountHash:    accountHash,
		TokenExpiresAt: &expiry,
	}); err != nil {
		return "", err
	}

	b.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeUpstreamLinked,
		ActorID: user.ID,
		Metadata: map[string]any{
			audit.AttrPlatform: broker.PlatformSchwab,
		},
	})

	return user.Email, nil
}

// fetchAccount resolves the primary account number and hash via the
// Trader API's accountNumbers endpoint.
func (b *Bridge) fetchAccount(ctx context.Context, accessToken string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiURL+"/trader/v1/accounts/accountNumbers", nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrExchange, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrExchange, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrExchange, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: accountNumbers returned %d", ErrExchange, resp.StatusCode)
	}

	var accounts []struct {
		AccountNumber string `json:"accountNumber"`
		HashValue     string `json:"hashValue"`
	}
	if err := json.Unmarshal(raw, &accounts); err != nil || len(accounts) == 0 {
		return "", "", fmt.Errorf("%w: no linked accounts", ErrExchange)
	}
	return accounts[0].AccountNumber, accounts[0].HashValue, nil
}

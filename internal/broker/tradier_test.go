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

package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokergate/brokergate/internal/credentials"
)

// TestPurpose: Validates quote retrieval, bearer auth, and Tradier's single-vs-list unwrapping.
// Scope: Unit Test (httptest)
// Expected: The API key is presented as a bearer; a single quote object round-trips.
func TestBroker_Tradier_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/markets/quotes", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbols"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quotes":{"quote":{"symbol":"AAPL","last":190.5,"bid":190.4,"ask":190.6}}}`))
	}))
	defer srv.Close()

	c := newTradierClient(srv.URL, "test-key", "12345678")
	quote, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", quote["symbol"])
	assert.Equal(t, 190.5, quote["last"])
}

// TestPurpose: Validates the multileg order form encoding with indexed leg notation.
// Scope: Unit Test (httptest)
// Expected: class=multileg with side[i]/quantity[i]/option_symbol[i] fields and the net price.
func TestBroker_Tradier_MultilegOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/accounts/12345678/orders", r.URL.Path)
		assert.Equal(t, "multileg", r.PostForm.Get("class"))
		assert.Equal(t, "SPY", r.PostForm.Get("symbol"))
		assert.Equal(t, "debit", r.PostForm.Get("type"))
		assert.Equal(t, "1.25", r.PostForm.Get("price"))
		assert.Equal(t, "buy_to_open", r.PostForm.Get("side[0]"))
		assert.Equal(t, "sell_to_open", r.PostForm.Get("side[1]"))
		assert.Equal(t, "1", r.PostForm.Get("quantity[0]"))
		assert.Equal(t, "SPY260116C00500000", r.PostForm.Get("option_symbol[0]"))
		w.Write([]byte(`{"order":{"id":101,"status":"ok"}}`))
	}))
	defer srv.Close()

	price := 1.25
	c := newTradierClient(srv.URL, "test-key", "12345678")
	resp, err := c.PlaceMultilegOrder(context.Background(), MultilegOrder{
		Symbol:   "SPY",
		Type:     "debit",
		Duration: "day",
		Price:    &price,
		Legs: []Leg{
			{Side: "buy_to_open", Quantity: 1, OptionSymbol: "SPY260116C00500000"},
			{Side: "sell_to_open", Quantity: 1, OptionSymbol: "SPY260116C00510000"},
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, resp["order"])
}

// TestPurpose: Validates error mapping for non-2xx upstream responses.
// Scope: Unit Test (httptest)
// Expected: An *UpstreamError carrying the status code and body; empty list endpoints return empty slices.
func TestBroker_Tradier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts/12345678/positions":
			w.Write([]byte(`{"positions":"null"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"fault":"invalid token"}`))
		}
	}))
	defer srv.Close()

	c := newTradierClient(srv.URL, "bad-key", "12345678")

	_, err := c.Quote(context.Background(), "AAPL")
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode)
	assert.Equal(t, PlatformTradier, ue.Platform)

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

// TestPurpose: Validates platform dispatch in the factory.
// Scope: Unit Test
// Expected: Known platforms build clients; Schwab without an account hash and unknown names fail.
func TestBroker_Factory(t *testing.T) {
	creds := &credentials.TradingCredentials{AccessToken: "k", AccountNumber: "1"}

	for _, platform := range []string{PlatformTradier, PlatformTradierPaper} {
		c, err := New(platform, creds)
		require.NoError(t, err, platform)
		assert.NotNil(t, c)
	}

	_, err := New(PlatformSchwab, creds)
	assert.Error(t, err, "schwab without account hash must fail")

	schwabCreds := &credentials.TradingCredentials{AccessToken: "k", AccountNumber: "1", AccountHash: "h"}
	c, err := New(PlatformSchwab, schwabCreds)
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = New("etrade", creds)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)

	assert.True(t, ValidPlatform(PlatformTradier))
	assert.False(t, ValidPlatform("etrade"))
}

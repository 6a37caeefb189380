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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	tradierLiveURL    = "https://api.tradier.com"
	tradierSandboxURL = "https://sandbox.tradier.com"
)

// tradierClient talks to the Tradier REST API with a bearer API key.
type tradierClient struct {
	baseURL       string
	accessToken   string
	accountNumber string
}

func newTradierClient(baseURL, accessToken, accountNumber string) *tradierClient {
	return &tradierClient{
		baseURL:       baseURL,
		accessToken:   accessToken,
		accountNumber: accountNumber,
	}
}

func (c *tradierClient) do(ctx context.Context, method, endpoint string, query url.Values, form url.Values) (map[string]any, error) {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &UpstreamError{Platform: PlatformTradier, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Platform: PlatformTradier, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Platform: PlatformTradier, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Platform: PlatformTradier, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &UpstreamError{Platform: PlatformTradier, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}

func (c *tradierClient) AccountInfo(ctx context.Context) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/user/profile", nil, nil)
	if err != nil {
		return nil, err
	}
	profile, ok := resp["profile"].(map[string]any)
	if !ok {
		return nil, &UpstreamError{Platform: PlatformTradier, Err: fmt.Errorf("no profile in response")}
	}
	return profile, nil
}

func (c *tradierClient) AccountNumber(ctx context.Context) (string, error) {
	if c.accountNumber != "" {
		return c.accountNumber, nil
	}
	profile, err := c.AccountInfo(ctx)
	if err != nil {
		return "", err
	}
	// Tradier nests a single account object or a list under the profile
	switch acct := profile["account"].(type) {
	case map[string]any:
		if n, ok := acct["account_number"].(string); ok {
			return n, nil
		}
	case []any:
		if len(acct) > 0 {
			if first, ok := acct[0].(map[string]any); ok {
				if n, ok := first["account_number"].(string); ok {
					return n, nil
				}
			}
		}
	}
	return "", &UpstreamError{Platform: PlatformTradier, Err: fmt.Errorf("no account number in profile")}
}

func (c *tradierClient) Positions(ctx context.Context) ([]map[string]any, error) {
	account, err := c.AccountNumber(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, "/v1/accounts/"+account+"/positions", nil, nil)
	if err != nil {
		return nil, err
	}
	return unwrapTradierList(resp, "positions", "position"), nil
}

func (c *tradierClient) Quote(ctx context.Context, symbol string) (map[string]any, error) {
	query := url.Values{"symbols": {symbol}}
	resp, err := c.do(ctx, http.MethodGet, "/v1/markets/quotes", query, nil)
	if err != nil {
		return nil, err
	}
	quotes := unwrapTradierList(resp, "quotes", "quote")
	if len(quotes) == 0 {
		return nil, &UpstreamError{Platform: PlatformTradier, Err: fmt.Errorf("no quote for %s", symbol)}
	}
	return quotes[0], nil
}

func (c *tradierClient) Balance(ctx context.Context) (map[string]any, error) {
	account, err := c.AccountNumber(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, "/v1/accounts/"+account+"/balances", nil, nil)
	if err != nil {
		return nil, err
	}
	if balances, ok := resp["balances"].(map[string]any); ok {
		return balances, nil
	}
	return nil, &UpstreamError{Platform: PlatformTradier, Err: fmt.Errorf("no balances in response")}
}

func (c *tradierClient) Orders(ctx context.Context) ([]map[string]any, error) {
	account, err := c.AccountNumber(ctx)
	if err != nil {
		return nil, err
	}
	query := url.Values{"includeTags": {"true"}}
	resp, err := c.do(ctx, http.MethodGet, "/v1/accounts/"+account+"/orders", query, nil)
	if err != nil {
		return nil, err
	}
	return unwrapTradierList(resp, "orders", "order"), nil
}

func (c *tradierClient) CancelOrder(ctx context.Context, orderID string) (map[string]any, error) {
	account, err := c.AccountNumber(ctx)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodDelete, "/v1/accounts/"+account+"/orders/"+orderID, nil, nil)
}

func (c *tradierClient) ChangeOrder(ctx context.Context, orderID string, change OrderChange) (map[string]any, error) {
	account, err := c.AccountNumber(ctx)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	if change.Type != "" {
		form.Set("type", change.Type)
	}
	if change.Duration != "" {
		form.Set("duration", change.Duration)
	}
	if change.Price != nil {
		form.Set("price", strconv.FormatFloat(*change.Price, 'f', -1, 64))
	}
	if change.Stop != nil {
		form.Set("stop", strconv.FormatFloat(*change.Stop, 'f', -1, 64))
	}
	return c.do(ctx, http.MethodPut, "/v1/accounts/"+account+"/orders/"+orderID, nil, form)
}

func (c *tradierClient) AccountHistory(ctx context.Context, limit int) ([]map[string]any, error) {
	account, err := c.AccountNumber(ctx)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	resp, err := c.do(ctx, http.MethodGet, "/v1/accounts/"+account+"/history", query, nil)
	if err != nil {
		return nil, err
	}
	return unwrapTradierList(resp, "history", "event"), nil
}

func (c *tradierClient) PlaceMultilegOrder(ctx context.Context, order MultilegOrder) (map[string]any, error) {
	account, err := c.AccountNumber(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"class":    {"multileg"},
		"symbol":   {order.Symbol},
		"type":     {order.Type},
		"duration": {order.Duration},
	}
	if order.Price != nil {
		form.Set("price", strconv.FormatFloat(*order.Price, 'f', -1, 64))
	}
	if order.Preview {
		form.Set("preview", "true")
	}
	// Legs use Tradier's indexed form notation: side[0], quantity[0], ...
	for i, leg := range order.Legs {
		form.Set(fmt.Sprintf("side[%d]", i), leg.Side)
		form.Set(fmt.Sprintf("quantity[%d]", i), strconv.Itoa(leg.Quantity))
		form.Set(fmt.Sprintf("option_symbol[%d]", i), leg.OptionSymbol)
	}

	return c.do(ctx, http.MethodPost, "/v1/accounts/"+account+"/orders", nil, form)
}

// unwrapTradierList flattens Tradier's outer/inner nesting, where the
// inner value is a single object for one element and a list otherwise.
func unwrapTradierList(resp map[string]any, outer, inner string) []map[string]any {
	container, ok := resp[outer].(map[string]any)
	if !ok {
		return []map[string]any{}
	}
	switch v := container[inner].(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return []map[string]any{}
	}
}

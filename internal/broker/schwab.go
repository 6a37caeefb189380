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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const schwabAPIURL = "https://api.schwabapi.com"

// schwabClient talks to the Schwab Trader and Market Data APIs. Account
// endpoints are addressed by the opaque account hash, not the account
// number.
type schwabClient struct {
	baseURL       string
	accessToken   string
	accountNumber string
	accountHash   string
}

func newSchwabClient(accessToken, accountNumber, accountHash string) *schwabClient {
	return &schwabClient{
		baseURL:       schwabAPIURL,
		accessToken:   accessToken,
		accountNumber: accountNumber,
		accountHash:   accountHash,
	}
}

func (c *schwabClient) do(ctx context.Context, method, endpoint string, query url.Values, jsonBody any) ([]byte, error) {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if jsonBody != nil {
		raw, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, &UpstreamError{Platform: PlatformSchwab, Err: err}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &UpstreamError{Platform: PlatformSchwab, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Platform: PlatformSchwab, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Platform: PlatformSchwab, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Platform: PlatformSchwab, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *schwabClient) getObject(ctx context.Context, endpoint string, query url.Values) (map[string]any, error) {
	raw, err := c.do(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &UpstreamError{Platform: PlatformSchwab, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}

func (c *schwabClient) getList(ctx context.Context, endpoint string, query url.Values) ([]map[string]any, error) {
	raw, err := c.do(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &UpstreamError{Platform: PlatformSchwab, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}

func (c *schwabClient) AccountInfo(ctx context.Context) (map[string]any, error) {
	return c.getObject(ctx, "/trader/v1/accounts/"+c.accountHash, nil)
}

func (c *schwabClient) AccountNumber(ctx context.Context) (string, error) {
	if c.accountNumber != "" {
		return c.accountNumber, nil
	}
	info, err := c.AccountInfo(ctx)
	if err != nil {
		return "", err
	}
	if acct, ok := info["securitiesAccount"].(map[string]any); ok {
		if n, ok := acct["accountNumber"].(string); ok {
			return n, nil
		}
	}
	return "", &UpstreamError{Platform: PlatformSchwab, Err: fmt.Errorf("no account number in response")}
}

func (c *schwabClient) Positions(ctx context.Context) ([]map[string]any, error) {
	query := url.Values{"fields": {"positions"}}
	info, err := c.getObject(ctx, "/trader/v1/accounts/"+c.accountHash, query)
	if err != nil {
		return nil, err
	}
	acct, ok := info["securitiesAccount"].(map[string]any)
	if !ok {
		return []map[string]any{}, nil
	}
	positions, ok := acct["positions"].([]any)
	if !ok {
		return []map[string]any{}, nil
	}
	out := make([]map[string]any, 0, len(positions))
	for _, p := range positions {
		if m, ok := p.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *schwabClient) Quote(ctx context.Context, symbol string) (map[string]any, error) {
	resp, err := c.getObject(ctx, "/marketdata/v1/"+url.PathEscape(symbol)+"/quotes", nil)
	if err != nil {
		return nil, err
	}
	// The response is keyed by symbol
	if q, ok := resp[strings.ToUpper(symbol)].(map[string]any); ok {
		return q, nil
	}
	if q, ok := resp[symbol].(map[string]any); ok {
		return q, nil
	}
	return nil, &UpstreamError{Platform: PlatformSchwab, Err: fmt.Errorf("no quote for %s", symbol)}
}

func (c *schwabClient) Balance(ctx context.Context) (map[string]any, error) {
	info, err := c.AccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	if acct, ok := info["securitiesAccount"].(map[string]any); ok {
		if balances, ok := acct["currentBalances"].(map[string]any); ok {
			return balances, nil
		}
	}
	return nil, &UpstreamError{Platform: PlatformSchwab, Err: fmt.Errorf("no balances in response")}
}

func (c *schwabClient) Orders(ctx context.Context) ([]map[string]any, error) {
	return c.getList(ctx, "/trader/v1/accounts/"+c.accountHash+"/orders", nil)
}

func (c *schwabClient) CancelOrder(ctx context.Context, orderID string) (map[string]any, error) {
	if _, err := c.do(ctx, http.MethodDelete, "/trader/v1/accounts/"+c.accountHash+"/orders/"+orderID, nil, nil); err != nil {
		return nil, err
	}
	// Schwab answers cancellation with an empty body
	return map[string]any{"order_id": orderID, "status": "cancelled"}, nil
}

func (c *schwabClient) ChangeOrder(ctx context.Context, orderID string, change OrderChange) (map[string]any, error) {
	body := map[string]any{}
	if change.Type != "" {
		body["orderType"] = strings.ToUpper(change.Type)
	}
	if change.Duration != "" {
		body["duration"] = strings.ToUpper(change.Duration)
	}
	if change.Price != nil {
		body["price"] = *change.Price
	}
	if change.Stop != nil {
		body["stopPrice"] = *change.Stop
	}
	if _, err := c.do(ctx, http.MethodPut, "/trader/v1/accounts/"+c.accountHash+"/orders/"+orderID, nil, body); err != nil {
		return nil, err
	}
	return map[string]any{"order_id": orderID, "status": "replaced"}, nil
}

func (c *schwabClient) AccountHistory(ctx context.Context, limit int) ([]map[string]any, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("maxResults", strconv.Itoa(limit))
	}
	return c.getList(ctx, "/trader/v1/accounts/"+c.accountHash+"/transactions", query)
}

func (c *schwabClient) PlaceMultilegOrder(ctx context.Context, order MultilegOrder) (map[string]any, error) {
	legs := make([]map[string]any, 0, len(order.Legs))
	for _, leg := range order.Legs {
		legs = append(legs, map[string]any{
			"instruction": schwabInstruction(leg.Side),
			"quantity":    leg.Quantity,
			"instrument": map[string]any{
				"symbol":    leg.OptionSymbol,
				"assetType": "OPTION",
			},
		})
	}

	body := map[string]any{
		"orderStrategyType":        "SINGLE",
		"complexOrderStrategyType": "CUSTOM",
		"orderType":                schwabOrderType(order.Type),
		"duration":                 strings.ToUpper(order.Duration),
		"session":                  "NORMAL",
		"orderLegCollection":       legs,
	}
	if order.Price != nil {
		body["price"] = *order.Price
	}

	if _, err := c.do(ctx, http.MethodPost, "/trader/v1/accounts/"+c.accountHash+"/orders", nil, body); err != nil {
		return nil, err
	}
	// Schwab returns 201 with the order location header and no body
	return map[string]any{"status": "submitted", "symbol": order.Symbol}, nil
}

func schwabInstruction(side string) string {
	switch side {
	case "buy_to_open":
		return "BUY_TO_OPEN"
	case "buy_to_close":
		return "BUY_TO_CLOSE"
	case "sell_to_open":
		return "SELL_TO_OPEN"
	case "sell_to_close":
		return "SELL_TO_CLOSE"
	default:
		return strings.ToUpper(side)
	}
}

func schwabOrderType(t string) string {
	switch t {
	case "credit":
		return "NET_CREDIT"
	case "debit":
		return "NET_DEBIT"
	case "even":
		return "NET_ZERO"
	case "limit":
		return "LIMIT"
	default:
		return "MARKET"
	}
}

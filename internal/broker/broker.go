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

// Package broker defines the trading-platform client interface and its
// per-platform implementations. The gateway never depends on a concrete
// platform; it resolves one through the factory per request.
package broker

import (
	"context"
	"errors"
	"fmt"
)

// Supported platforms
const (
	PlatformTradier      = "tradier"
	PlatformTradierPaper = "tradier_paper"
	PlatformSchwab       = "schwab"
)

// Domain errors
var (
	ErrUnsupportedPlatform = errors.New("unsupported trading platform")
)

// UpstreamError wraps a non-2xx response or transport failure from a
// brokerage API. The gateway maps it to 502.
type UpstreamError struct {
	Platform   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Platform, e.Err)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Platform, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Leg is one leg of a multileg option order.
type Leg struct {
	Side         string `json:"side"`
	Quantity     int    `json:"quantity"`
	OptionSymbol string `json:"option_symbol"`
}

// MultilegOrder describes a spread order across one underlying.
type MultilegOrder struct {
	Symbol   string   `json:"symbol"`
	Type     string   `json:"type"`     // market, limit, credit, debit, even
	Duration string   `json:"duration"` // day, gtc
	Price    *float64 `json:"price,omitempty"`
	Preview  bool     `json:"preview,omitempty"`
	Legs     []Leg    `json:"legs"`
}

// OrderChange carries the mutable fields of an open order.
type OrderChange struct {
	Type     string   `json:"type,omitempty"`
	Duration string   `json:"duration,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Stop     *float64 `json:"stop,omitempty"`
}

// Client is the capability set the gateway exposes. Responses are the
// platform's own JSON shapes passed through untyped; the gateway does
// not normalize across brokerages.
type Client interface {
	// AccountInfo returns profile and account metadata
	AccountInfo(ctx context.Context) (map[string]any, error)

	// AccountNumber returns the primary account identifier
	AccountNumber(ctx context.Context) (string, error)

	// Positions returns current holdings
	Positions(ctx context.Context) ([]map[string]any, error)

	// Quote returns market data for one symbol
	Quote(ctx context.Context, symbol string) (map[string]any, error)

	// Balance returns account balances
	Balance(ctx context.Context) (map[string]any, error)

	// Orders returns open and recent orders
	Orders(ctx context.Context) ([]map[string]any, error)

	// CancelOrder cancels an open order
	CancelOrder(ctx context.Context, orderID string) (map[string]any, error)

	// ChangeOrder mutates an open order
	ChangeOrder(ctx context.Context, orderID string, change OrderChange) (map[string]any, error)

	// AccountHistory returns account activity, newest first
	AccountHistory(ctx context.Context, limit int) ([]map[string]any, error)

	// PlaceMultilegOrder submits or previews a spread order
	PlaceMultilegOrder(ctx context.Context, order MultilegOrder) (map[string]any, error)
}

// ValidPlatform reports whether a platform name is supported.
func ValidPlatform(platform string) bool {
	switch platform {
	case PlatformTradier, PlatformTradierPaper, PlatformSchwab:
		return true
	default:
		return false
	}
}

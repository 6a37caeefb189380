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

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brokergate/brokergate/internal/broker"
	"github.com/brokergate/brokergate/internal/credentials"
	"github.com/brokergate/brokergate/internal/observability/logger"
)

// brokerForRequest builds a brokerage client for the authenticated
// user. The platform comes from the query string and defaults to
// Tradier live.
func (h *Handler) brokerForRequest(w http.ResponseWriter, r *http.Request) (broker.Client, bool) {
	platform := r.URL.Query().Get("platform")
	if platform == "" {
		platform = broker.PlatformTradier
	}
	if !broker.ValidPlatform(platform) {
		respondError(w, http.StatusBadRequest, "invalid_request", "unsupported platform")
		return nil, false
	}

	userID := GetUserID(r.Context())
	creds, err := h.credentialService.Load(r.Context(), userID, platform)
	if err != nil {
		switch {
		case errors.Is(err, credentials.ErrNotFound):
			respondError(w, http.StatusForbidden, "credentials_missing",
				"no "+platform+" credentials on file; visit /setup first")
		default:
			slog.ErrorContext(r.Context(), "failed to load credentials",
				logger.Error(err),
				logger.UserID(userID),
				logger.Platform(platform),
			)
			respondError(w, http.StatusInternalServerError, "server_error", "credentials unavailable")
		}
		return nil, false
	}

	client, err := broker.New(platform, creds)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "server_error", "failed to build brokerage client")
		return nil, false
	}
	return client, true
}

// respondBrokerResult maps upstream failures to 502 and everything
// else to an opaque 500.
func respondBrokerResult(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		var ue *broker.UpstreamError
		if errors.As(err, &ue) {
			slog.WarnContext(r.Context(), "upstream brokerage error",
				logger.Error(err),
				logger.Platform(ue.Platform),
				logger.StatusCode(ue.StatusCode),
			)
			respondError(w, http.StatusBadGateway, "upstream_error", "brokerage request failed")
			return
		}
		slog.ErrorContext(r.Context(), "brokerage request failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, data)
}

// Account returns the caller's brokerage profile
func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	client, ok := h.brokerForRequest(w, r)
	if !ok {
		return
	}
	data, err := client.AccountInfo(r.Context())
	respondBrokerResult(w, r, data, err)
}

// Positions returns current holdings
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	client, ok := h.brokerForRequest(w, r)
	if !ok {
		return
	}
	positions, err := client.Positions(r.Context())
	respondBrokerResult(w, r, map[string]any{"positions": positions}, err)
}

// Balance returns account balances
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	client, ok := h.brokerForRequest(w, r)
	if !ok {
		return
	}
	data, err := client.Balance(r.Context())
	respondBrokerResult(w, r, data, err)
}

// Quote returns a market quote for one symbol
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	client, ok := h.brokerForRequest(w, r)
	if !ok {
		return
	}
	symbol := chi.URLParam(r, "symbol")
	data, err := client.Quote(r.Context(), symbol)
	respondBrokerResult(w, r, data, err)
}

// Orders returns open and recent orders
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	client, ok := h.brokerForRequest(w, r)
	if !ok {
		return
	}
	if limitStr := r.URL.Query().Get("history"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "history must be a positive integer")
			return
		}
		history, err := client.AccountHistory(r.Context(), limit)
		respondBrokerResult(w, r, map[string]any{"history": history}, err)
		return
	}
	orders, err := client.Orders(r.Context())
	respondBrokerResult(w, r, map[string]any{"orders": orders}, err)
}

// MultilegOrderRequest is the JSON body for spread orders
type MultilegOrderRequest struct {
	Symbol   string   `json:"symbol"`
	Type     string   `json:"type"`
	Duration string   `json:"duration"`
	Price    *float64 `json:"price,omitempty"`
	Preview  bool     `json:"preview,omitempty"`
	Legs     []struct {
		Side         string `json:"side"`
		Quantity     int    `json:"quantity"`
		OptionSymbol string `json:"option_symbol"`
	} `json:"legs"`
}

// PlaceMultilegOrder submits or previews a multi-leg option order
func (h *Handler) PlaceMultilegOrder(w http.ResponseWriter, r *http.Request) {
	client, ok := h.brokerForRequest(w, r)
	if !ok {
		return
	}

	var req MultilegOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Symbol == "" || len(req.Legs) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "symbol and legs are required")
		return
	}

	order := broker.MultilegOrder{
		Symbol:   req.Symbol,
		Type:     req.Type,
		Duration: req.Duration,
		Price:    req.Price,
		Preview:  req.Preview,
	}
	for _, leg := range req.Legs {
		order.Legs = append(order.Legs, broker.Leg{
			Side:         leg.Side,
			Quantity:     leg.Quantity,
			OptionSymbol: leg.OptionSymbol,
		})
	}

	data, err := client.PlaceMultilegOrder(r.Context(), order)
	respondBrokerResult(w, r, data, err)
}

// OrderChangeRequest is the JSON body for order modification
type OrderChangeRequest struct {
	Type     string   `json:"type,omitempty"`
	Duration string   `json:"duration,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Stop     *float64 `json:"stop,omitempty"`
}

// ChangeOrder modifies an open order in place
func (h *Handler) ChangeOrder(w http.ResponseWriter, r *http.Request) {
	client, ok := h.brokerForRequest(w, r)
	if !ok {
		return
	}

	var req OrderChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	data, err := client.ChangeOrder(r.Context(), chi.URLParam(r, "orderID"), broker.OrderChange{
		Type:     req.Type,
		Duration: req.Duration,
		Price:    req.Price,
		Stop:     req.Stop,
	})
	respondBrokerResult(w, r, data, err)
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	client, ok := h.brokerForRequest(w, r)
	if !ok {
		return
	}
	data, err := client.CancelOrder(r.Context(), chi.URLParam(r, "orderID"))
	respondBrokerResult(w, r, data, err)
}

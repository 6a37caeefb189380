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
	"errors"
	"log/slog"
	"net/http"

	"github.com/brokergate/brokergate/internal/broker"
	"github.com/brokergate/brokergate/internal/credentials"
	"github.com/brokergate/brokergate/internal/identity"
	"github.com/brokergate/brokergate/internal/observability/logger"
	"github.com/brokergate/brokergate/internal/upstream"
)

// SetupForm renders the credential setup page
func (h *Handler) SetupForm(w http.ResponseWriter, r *http.Request) {
	renderHTML(w, http.StatusOK, "setup.html", setupData{
		SchwabEnabled: h.bridge != nil,
	})
}

// SetupSubmit persists Tradier credentials for a new or existing user.
// The environment selects between the live and sandbox platforms.
func (h *Handler) SetupSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderMessage(w, http.StatusBadRequest, "Setup failed", "malformed form submission", false)
		return
	}

	platform := r.Form.Get("platform")
	if platform != broker.PlatformTradier {
		renderMessage(w, http.StatusBadRequest, "Setup failed", "unsupported platform", false)
		return
	}

	switch r.Form.Get("environment") {
	case "production":
	case "sandbox":
		platform = broker.PlatformTradierPaper
	default:
		renderMessage(w, http.StatusBadRequest, "Setup failed", "invalid environment", false)
		return
	}

	accessToken := r.Form.Get("access_token")
	accountNumber := r.Form.Get("account_number")
	if accessToken == "" || accountNumber == "" {
		renderMessage(w, http.StatusBadRequest, "Setup failed", "access token and account number are required", false)
		return
	}

	user, _, err := h.identityService.AuthenticateOrCreate(r.Context(), r.Form.Get("email"), r.Form.Get("password"))
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrWeakPassword):
			renderMessage(w, http.StatusBadRequest, "Setup failed", "password must be at least 8 characters", false)
		case errors.Is(err, identity.ErrInvalidEmail):
			renderMessage(w, http.StatusBadRequest, "Setup failed", "invalid email address", false)
		default:
			renderMessage(w, http.StatusUnauthorized, "Setup failed", "invalid email or password", false)
		}
		return
	}

	err = h.credentialService.Store(r.Context(), user.ID, platform, &credentials.TradingCredentials{
		AccessToken:   accessToken,
		AccountNumber: accountNumber,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to store credentials",
			logger.Error(err),
			logger.UserID(user.ID),
			logger.Platform(platform),
		)
		renderMessage(w, http.StatusInternalServerError, "Setup failed", "internal server error", false)
		return
	}

	renderMessage(w, http.StatusOK, "Credentials saved",
		"Your brokerage credentials have been encrypted and stored. You can now connect your MCP client.", true)
}

// SchwabInitiate starts the upstream OAuth flow and redirects the
// browser to Schwab's authorization page.
func (h *Handler) SchwabInitiate(w http.ResponseWriter, r *http.Request) {
	if h.bridge == nil {
		renderMessage(w, http.StatusNotFound, "Schwab unavailable", "Schwab linking is not configured on this server.", false)
		return
	}

	email := r.URL.Query().Get("email")
	password := r.URL.Query().Get("password")
	if email == "" || password == "" {
		renderMessage(w, http.StatusBadRequest, "Setup failed", "email and password are required", false)
		return
	}

	authURL, err := h.bridge.Initiate(r.Context(), email, password)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to initiate upstream flow", logger.Error(err))
		renderMessage(w, http.StatusInternalServerError, "Setup failed", "internal server error", false)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// SchwabCallback completes the upstream OAuth flow. The state row is
// consumed whatever the outcome, so a callback URL replay always fails.
func (h *Handler) SchwabCallback(w http.ResponseWriter, r *http.Request) {
	if h.bridge == nil {
		renderMessage(w, http.StatusNotFound, "Schwab unavailable", "Schwab linking is not configured on this server.", false)
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		renderMessage(w, http.StatusBadRequest, "Linking failed", "missing state or code parameter", false)
		return
	}

	email, err := h.bridge.Callback(r.Context(), state, code)
	if err != nil {
		slog.ErrorContext(r.Context(), "upstream callback failed", logger.Error(err))
		switch {
		case errors.Is(err, upstream.ErrStateInvalid):
			renderMessage(w, http.StatusBadRequest, "Linking failed",
				"This link has expired or was already used. Start over from the setup page.", false)
		case errors.Is(err, upstream.ErrExchange):
			renderMessage(w, http.StatusBadGateway, "Linking failed",
				"Schwab did not accept the authorization. Try again from the setup page.", false)
		default:
			renderMessage(w, http.StatusInternalServerError, "Linking failed", "internal server error", false)
		}
		return
	}

	renderMessage(w, http.StatusOK, "Schwab account linked",
		"Credentials for "+email+" have been encrypted and stored.", true)
}

// ListSessions enumerates the caller's live tokens
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.oauthService.ListSessions(r.Context(), GetUserID(r.Context()))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list sessions", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "server_error", "failed to list sessions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// RevokeCurrent revokes the token presented on this request
func (h *Handler) RevokeCurrent(w http.ResponseWriter, r *http.Request) {
	revoked, err := h.oauthService.RevokeCurrent(r.Context(), GetAccessToken(r.Context()))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke current token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "server_error", "failed to revoke token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"revoked": revoked,
	})
}

// RevokeAll revokes every live token for the caller, optionally
// filtered to one client_id
func (h *Handler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed form submission")
		return
	}

	count, err := h.oauthService.RevokeAll(r.Context(), GetUserID(r.Context()), r.Form.Get("client_id"))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke tokens", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "server_error", "failed to revoke tokens")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"revoked_count": count,
	})
}

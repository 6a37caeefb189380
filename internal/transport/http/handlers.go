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
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/brokergate/brokergate/internal/audit"
	"github.com/brokergate/brokergate/internal/credentials"
	"github.com/brokergate/brokergate/internal/identity"
	"github.com/brokergate/brokergate/internal/oauth"
	"github.com/brokergate/brokergate/internal/upstream"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	oauthService      *oauth.Service
	tokenService      *oauth.TokenService
	identityService   *identity.Service
	credentialService *credentials.Service
	bridge            *upstream.Bridge
	auditLogger       audit.Logger

	// serverURL is the issuer; resourceURL is the protected-resource
	// audience every access token must carry.
	serverURL   string
	resourceURL string
}

// NewHandler creates a new HTTP handler. bridge may be nil when the
// Schwab app is not configured.
func NewHandler(
	oauthService *oauth.Service,
	tokenService *oauth.TokenService,
	identityService *identity.Service,
	credentialService *credentials.Service,
	bridge *upstream.Bridge,
	auditLogger audit.Logger,
	serverURL string,
) *Handler {
	return &Handler{
		oauthService:      oauthService,
		tokenService:      tokenService,
		identityService:   identityService,
		credentialService: credentialService,
		bridge:            bridge,
		auditLogger:       auditLogger,
		serverURL:         strings.TrimSuffix(serverURL, "/"),
		resourceURL:       strings.TrimSuffix(serverURL, "/") + "/mcp/",
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rlCfg RateLimitConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	loginLimiter := NewRateLimiter(rlCfg.LoginPerMinute, rlCfg.Burst)
	authorizeLimiter := NewRateLimiter(rlCfg.AuthorizePerMinute, rlCfg.Burst)
	tokenLimiter := NewRateLimiter(rlCfg.TokenPerMinute, rlCfg.Burst)

	// Health check
	r.Get("/health", h.HealthCheck)

	// Discovery documents
	// RFC 8414 / RFC 9728
	r.Get("/.well-known/oauth-authorization-server", h.AuthorizationServerMetadata)
	r.Get("/.well-known/oauth-protected-resource", h.ProtectedResourceMetadata)

	// Authorization flow
	// RFC 6749 Section 4.1 with PKCE (RFC 7636) and resource
	// indicators (RFC 8707)
	r.With(RateLimitMiddleware(authorizeLimiter)).Get("/authorize", h.Authorize)
	r.With(RateLimitMiddleware(loginLimiter)).Post("/authorize/login", h.AuthorizeLogin)
	r.With(RateLimitMiddleware(tokenLimiter)).Post("/token", h.Token)

	// Revoke endpoint (RFC 7009)
	r.Post("/revoke", h.Revoke)

	// Dynamic client registration (RFC 7591)
	r.Post("/register", h.Register)

	// Credential setup
	r.Get("/setup", h.SetupForm)
	r.Post("/setup", h.SetupSubmit)
	r.Get("/setup/schwab/initiate", h.SchwabInitiate)
	r.Get("/setup/schwab/callback", h.SchwabCallback)

	// Session management, gated by the caller's own bearer
	r.Group(func(r chi.Router) {
		r.Use(h.BearerMiddleware)
		r.Get("/setup/sessions", h.ListSessions)
		r.Post("/setup/revoke-current", h.RevokeCurrent)
		r.Post("/setup/revoke-all", h.RevokeAll)
	})

	// Protected resource
	r.Route("/mcp", func(r chi.Router) {
		r.Use(h.BearerMiddleware)
		r.Get("/health", h.HealthCheck)
		r.Get("/account", h.Account)
		r.Get("/positions", h.Positions)
		r.Get("/balance", h.Balance)
		r.Get("/quote/{symbol}", h.Quote)
		r.Get("/orders", h.Orders)
		r.Post("/orders/multileg", h.PlaceMultilegOrder)
		r.Put("/orders/{orderID}", h.ChangeOrder)
		r.Delete("/orders/{orderID}", h.CancelOrder)
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "brokergate",
	})
}

// AuthorizationServerMetadata serves RFC 8414 discovery. The document
// is static per deployment; MCP clients use it to locate the endpoints.
func (h *Handler) AuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"issuer":                                h.serverURL,
		"authorization_endpoint":                h.serverURL + "/authorize",
		"token_endpoint":                        h.serverURL + "/token",
		"registration_endpoint":                 h.serverURL + "/register",
		"revocation_endpoint":                   h.serverURL + "/revoke",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_post"},
		"scopes_supported":                      []string{oauth.ScopeTrading},
	})
}

// ProtectedResourceMetadata serves RFC 9728 discovery. The resource is
// the MCP endpoint URL, which is also the only accepted audience.
func (h *Handler) ProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"resource":                 h.resourceURL,
		"authorization_servers":    []string{h.serverURL},
		"scopes_supported":         []string{oauth.ScopeTrading},
		"bearer_methods_supported": []string{"header"},
	})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes the error body shape shared by every non-OAuth
// endpoint.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// respondOAuthError serializes a protocol error per RFC 6749 Section 5.2
func respondOAuthError(w http.ResponseWriter, err error) {
	if oauthErr, ok := err.(*oauth.Error); ok {
		status := http.StatusBadRequest
		switch oauthErr.Code {
		case oauth.ErrInvalidClient:
			status = http.StatusUnauthorized
		case oauth.ErrServerError:
			status = http.StatusInternalServerError
		}
		respondJSON(w, status, oauthErr)
		return
	}

	// Fallback for internal errors (opaque)
	respondJSON(w, http.StatusInternalServerError, oauth.NewError(oauth.ErrServerError, "internal server error"))
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

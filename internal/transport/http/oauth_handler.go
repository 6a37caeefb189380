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
	"net/url"

	"github.com/brokergate/brokergate/internal/identity"
	"github.com/brokergate/brokergate/internal/oauth"
	"github.com/brokergate/brokergate/internal/observability/logger"
)

// Authorize renders the consent form (RFC 6749 Section 4.1.1). All
// request parameters are validated up front and echoed back through
// hidden fields so the login POST carries the full authorization
// request.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := &oauth.AuthorizeRequest{
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		ResponseType:        query.Get("response_type"),
		Scope:               query.Get("scope"),
		State:               query.Get("state"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		Resource:            query.Get("resource"),
	}

	client, err := h.oauthService.ValidateAuthorizeRequest(r.Context(), req)
	if err != nil {
		slog.WarnContext(r.Context(), "invalid authorize request",
			logger.Error(err),
			logger.ClientID(req.ClientID),
			logger.RedirectURI(req.RedirectURI),
		)
		// The redirect URI cannot be trusted before validation, so
		// errors render in place instead of redirecting.
		description := "invalid authorization request"
		var oe *oauth.Error
		if errors.As(err, &oe) {
			description = oe.Description
		}
		renderMessage(w, http.StatusBadRequest, "Authorization failed", description, false)
		return
	}

	renderHTML(w, http.StatusOK, "consent.html", consentData{
		ClientName:          client.ClientName,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Resource:            req.Resource,
		Scope:               req.Scope,
	})
}

// AuthorizeLogin processes the consent form. Unknown emails create an
// account bound to the submitted password; known emails must present
// the right one. On success it issues a single-use code and answers
// 303 so the browser follows the redirect with GET.
func (h *Handler) AuthorizeLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderMessage(w, http.StatusBadRequest, "Authorization failed", "malformed form submission", false)
		return
	}

	req := &oauth.AuthorizeRequest{
		ClientID:            r.Form.Get("client_id"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		ResponseType:        "code",
		Scope:               r.Form.Get("scope"),
		State:               r.Form.Get("state"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		Resource:            r.Form.Get("resource"),
	}

	// Hidden fields are attacker-controlled; validate the request again
	if _, err := h.oauthService.ValidateAuthorizeRequest(r.Context(), req); err != nil {
		renderMessage(w, http.StatusBadRequest, "Authorization failed", "invalid authorization request", false)
		return
	}

	email := r.Form.Get("email")
	password := r.Form.Get("password")

	user, _, err := h.identityService.AuthenticateOrCreate(r.Context(), email, password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrWeakPassword):
			renderMessage(w, http.StatusBadRequest, "Sign-in failed",
				"password must be at least 8 characters", false)
		case errors.Is(err, identity.ErrInvalidEmail):
			renderMessage(w, http.StatusBadRequest, "Sign-in failed", "invalid email address", false)
		default:
			// One answer for unknown email and wrong password
			renderMessage(w, http.StatusUnauthorized, "Sign-in failed", "invalid email or password", false)
		}
		return
	}

	code, err := h.oauthService.IssueCode(r.Context(), req, user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue authorization code",
			logger.Error(err),
			logger.ClientID(req.ClientID),
		)
		renderMessage(w, http.StatusInternalServerError, "Authorization failed", "internal server error", false)
		return
	}

	params := url.Values{}
	params.Set("code", code.Code)
	params.Set("state", req.State)

	separator := "?"
	if u, err := url.Parse(req.RedirectURI); err == nil && u.RawQuery != "" {
		separator = "&"
	}

	// 303 forces the browser to switch to GET when following
	http.Redirect(w, r, req.RedirectURI+separator+params.Encode(), http.StatusSeeOther)
}

// Token is the grant switch (RFC 6749 Section 4.1.3 and Section 6)
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, oauth.NewError(oauth.ErrInvalidRequest, "invalid request"))
		return
	}

	clientID := r.Form.Get("client_id")
	clientSecret := r.Form.Get("client_secret")

	// Support Basic auth (RFC 6749 Section 2.3.1)
	if clientID == "" {
		username, password, ok := r.BasicAuth()
		if ok {
			clientID = username
			clientSecret = password
		}
	}

	req := &oauth.TokenRequest{
		GrantType:    r.Form.Get("grant_type"),
		Code:         r.Form.Get("code"),
		RedirectURI:  r.Form.Get("redirect_uri"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CodeVerifier: r.Form.Get("code_verifier"), // RFC 7636 Section 4.5
		RefreshToken: r.Form.Get("refresh_token"), // RFC 6749 Section 6
		Resource:     r.Form.Get("resource"),      // RFC 8707 Section 2.2
	}

	resp, err := h.oauthService.Exchange(r.Context(), req)
	if err != nil {
		slog.WarnContext(r.Context(), "token request failed",
			logger.Error(err),
			logger.GrantType(req.GrantType),
			logger.ClientID(req.ClientID),
		)
		respondOAuthError(w, err)
		return
	}

	// Prevent caching (RFC 6749 Section 5.1)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	respondJSON(w, http.StatusOK, resp)
}

// Revoke handles token revocation (RFC 7009). Per Section 2.2 the
// endpoint answers 200 for unknown tokens, already-revoked tokens, and
// client mismatches alike, so it cannot be used to probe token
// validity.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, oauth.NewError(oauth.ErrInvalidRequest, "invalid request"))
		return
	}

	token := r.Form.Get("token")
	if token == "" {
		respondOAuthError(w, oauth.NewError(oauth.ErrInvalidRequest, "missing token"))
		return
	}

	clientID := r.Form.Get("client_id")
	if clientID == "" {
		if username, _, ok := r.BasicAuth(); ok {
			clientID = username
		}
	}

	if err := h.oauthService.Revoke(r.Context(), token, clientID); err != nil {
		slog.ErrorContext(r.Context(), "revocation failed", logger.Error(err))
		respondOAuthError(w, oauth.NewError(oauth.ErrServerError, "internal server error"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RegisterRequest is the RFC 7591 registration document subset we accept
type RegisterRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
}

// Register handles dynamic client registration (RFC 7591). Every
// issued client is public; no secret is emitted.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_client_metadata", "invalid request body")
		return
	}

	client, err := h.oauthService.RegisterClient(r.Context(), req.ClientName, req.RedirectURIs)
	if err != nil {
		var oe *oauth.Error
		if errors.As(err, &oe) {
			respondError(w, http.StatusBadRequest, oe.Code, oe.Description)
			return
		}
		respondError(w, http.StatusInternalServerError, "server_error", "failed to register client")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"client_id":                  client.ClientID,
		"client_name":                client.ClientName,
		"redirect_uris":              client.RedirectURIs,
		"token_endpoint_auth_method": "none",
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
	})
}

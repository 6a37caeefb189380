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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/brokergate/brokergate/internal/oauth"
	"github.com/brokergate/brokergate/internal/observability/logger"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Paths under the gateway that never require a bearer token.
var exemptPaths = map[string]bool{
	"/mcp/health": true,
}

// BearerMiddleware gates the protected resource. It extracts the
// bearer token, verifies it against the expected audience, and binds
// (user_id, token) into the request context. The binding lives on the
// per-request context only, so nothing is observable across requests.
func (h *Handler) BearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authorization := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authorization, "Bearer ")
		if !ok || token == "" {
			// RFC 9728 Section 5.1: advertise the protected resource
			// metadata so clients can discover the authorization server.
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm=%q, resource_metadata=%q`,
				h.serverURL, h.serverURL+"/.well-known/oauth-protected-resource",
			))
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		claims, _, err := h.tokenService.Verify(r.Context(), token, h.resourceURL)
		if err != nil {
			slog.WarnContext(r.Context(), "bearer verification failed",
				logger.Error(err),
				logger.TokenHash(oauth.HashToken(token)),
			)
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm=%q, error="invalid_token"`, h.serverURL,
			))
			respondError(w, http.StatusUnauthorized, "invalid_token", "token verification failed")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
		ctx = context.WithValue(ctx, accessTokenKey, token)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

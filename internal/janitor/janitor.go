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

// Package janitor purges expired OAuth state on a fixed interval.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/brokergate/brokergate/internal/oauth"
	"github.com/brokergate/brokergate/internal/observability/logger"
)

// Retention windows. Rows are kept past expiry so that late redemption
// attempts hit a typed error instead of a generic not-found.
const (
	codeRetention    = 1 * time.Hour
	tokenRetention   = 24 * time.Hour
	revokedRetention = 7 * 24 * time.Hour
)

// Janitor deletes expired authorization codes, fully expired tokens,
// stale revoked tokens, and expired upstream OAuth states.
type Janitor struct {
	codes    oauth.CodeRepository
	tokens   oauth.TokenRepository
	states   oauth.UpstreamStateRepository
	interval time.Duration
}

// New creates a janitor. states may be nil when the upstream bridge is
// disabled.
func New(codes oauth.CodeRepository, tokens oauth.TokenRepository, states oauth.UpstreamStateRepository, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 60 * time.Minute
	}
	return &Janitor{codes: codes, tokens: tokens, states: states, interval: interval}
}

// Run sweeps on each tick until ctx is cancelled. Sweep errors are
// logged and swallowed; a failed sweep never stops the loop.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "janitor stopping", logger.Component("janitor"))
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs each purge independently so one failure does not block the
// others.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now()

	if n, err := j.codes.DeleteExpiredBefore(ctx, now.Add(-codeRetention)); err != nil {
		slog.ErrorContext(ctx, "failed to purge expired codes", logger.Component("janitor"), logger.Error(err))
	} else if n > 0 {
		slog.InfoContext(ctx, "purged expired codes", logger.Component("janitor"), logger.RowsAffected(n))
	}

	if n, err := j.tokens.DeleteExpiredBefore(ctx, now.Add(-tokenRetention)); err != nil {
		slog.ErrorContext(ctx, "failed to purge expired tokens", logger.Component("janitor"), logger.Error(err))
	} else if n > 0 {
		slog.InfoContext(ctx, "purged expired tokens", logger.Component("janitor"), logger.RowsAffected(n))
	}

	if n, err := j.tokens.DeleteRevokedBefore(ctx, now.Add(-revokedRetention)); err != nil {
		slog.ErrorContext(ctx, "failed to purge revoked tokens", logger.Component("janitor"), logger.Error(err))
	} else if n > 0 {
		slog.InfoContext(ctx, "purged revoked tokens", logger.Component("janitor"), logger.RowsAffected(n))
	}

	if j.states != nil {
		if n, err := j.states.DeleteExpiredBefore(ctx, now); err != nil {
			slog.ErrorContext(ctx, "failed to purge upstream states", logger.Component("janitor"), logger.Error(err))
		} else if n > 0 {
			slog.InfoContext(ctx, "purged upstream states", logger.Component("janitor"), logger.RowsAffected(n))
		}
	}
}

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

package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brokergate/brokergate/internal/oauth"
)

type stubCodeRepo struct {
	cutoffs []time.Time
	err     error
}

func (s *stubCodeRepo) Create(ctx context.Context, code *oauth.Code) error { return nil }
func (s *stubCodeRepo) GetByCode(ctx context.Context, code string) (*oauth.Code, error) {
	return nil, oauth.ErrCodeNotFound
}
func (s *stubCodeRepo) Consume(ctx context.Context, code string) error { return nil }
func (s *stubCodeRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return 1, s.err
}

type stubTokenRepo struct {
	expiredCutoffs []time.Time
	revokedCutoffs []time.Time
	expiredErr     error
}

func (s *stubTokenRepo) Create(ctx context.Context, token *oauth.Token) error { return nil }
func (s *stubTokenRepo) GetByAccessHash(ctx context.Context, hash string) (*oauth.Token, error) {
	return nil, oauth.ErrTokenNotFound
}
func (s *stubTokenRepo) GetByRefreshHash(ctx context.Context, hash string) (*oauth.Token, error) {
	return nil, oauth.ErrTokenNotFound
}
func (s *stubTokenRepo) Rotate(ctx context.Context, oldRefreshHash string, next *oauth.Token) error {
	return nil
}
func (s *stubTokenRepo) RevokeByHash(ctx context.Context, hash string) error { return nil }
func (s *stubTokenRepo) ListActiveByUser(ctx context.Context, userID string) ([]*oauth.Token, error) {
	return nil, nil
}
func (s *stubTokenRepo) RevokeAllForUser(ctx context.Context, userID, clientID string) (int64, error) {
	return 0, nil
}
func (s *stubTokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.expiredCutoffs = append(s.expiredCutoffs, cutoff)
	return 1, s.expiredErr
}
func (s *stubTokenRepo) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.revokedCutoffs = append(s.revokedCutoffs, cutoff)
	return 1, nil
}

type stubStateRepo struct {
	cutoffs []time.Time
}

func (s *stubStateRepo) Create(ctx context.Context, state *oauth.UpstreamState) error { return nil }
func (s *stubStateRepo) Consume(ctx context.Context, state string) (*oauth.UpstreamState, error) {
	return nil, oauth.ErrStateNotFound
}
func (s *stubStateRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return 1, nil
}

// TestSweep_RetentionWindows
// Purpose: one sweep issues all four purges with the documented cutoffs.
// Scope: Janitor.Sweep.
// Expected: codes at now-1h, tokens at now-1d, revoked at now-7d,
// states at now, each within a small tolerance.
func TestSweep_RetentionWindows(t *testing.T) {
	codes := &stubCodeRepo{}
	tokens := &stubTokenRepo{}
	states := &stubStateRepo{}

	j := New(codes, tokens, states, time.Hour)
	before := time.Now()
	j.Sweep(context.Background())

	checkCutoff := func(name string, got []time.Time, want time.Duration) {
		t.Helper()
		if len(got) != 1 {
			t.Fatalf("%s: expected 1 purge, got %d", name, len(got))
		}
		expected := before.Add(-want)
		if diff := got[0].Sub(expected); diff < 0 || diff > time.Second {
			t.Errorf("%s: cutoff off by %v", name, diff)
		}
	}

	checkCutoff("codes", codes.cutoffs, codeRetention)
	checkCutoff("tokens expired", tokens.expiredCutoffs, tokenRetention)
	checkCutoff("tokens revoked", tokens.revokedCutoffs, revokedRetention)
	checkCutoff("states", states.cutoffs, 0)
}

// TestSweep_ErrorsDoNotBlock
// Purpose: a failing purge is swallowed and the remaining purges still run.
// Scope: Janitor.Sweep error handling.
// Expected: code and token purge failures do not prevent the revoked
// and state purges.
func TestSweep_ErrorsDoNotBlock(t *testing.T) {
	codes := &stubCodeRepo{err: errors.New("connection reset")}
	tokens := &stubTokenRepo{expiredErr: errors.New("connection reset")}
	states := &stubStateRepo{}

	j := New(codes, tokens, states, time.Hour)
	j.Sweep(context.Background())

	if len(tokens.revokedCutoffs) != 1 {
		t.Error("revoked purge should run after earlier failures")
	}
	if len(states.cutoffs) != 1 {
		t.Error("state purge should run after earlier failures")
	}
}

// TestRun_StopsOnCancel
// Purpose: Run exits when its context is cancelled.
// Scope: Janitor.Run loop.
// Expected: Run returns promptly after cancel without a tick firing.
func TestRun_StopsOnCancel(t *testing.T) {
	j := New(&stubCodeRepo{}, &stubTokenRepo{}, &stubStateRepo{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}

// TestNew_DefaultInterval
// Purpose: a non-positive interval falls back to the 60 minute default.
// Scope: New.
// Expected: interval is 60m when zero is passed.
func TestNew_DefaultInterval(t *testing.T) {
	j := New(&stubCodeRepo{}, &stubTokenRepo{}, nil, 0)
	if j.interval != 60*time.Minute {
		t.Errorf("expected 60m default interval, got %v", j.interval)
	}
}

// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package channel

import (
	"context"
	"sync"
	"time"
)

// fetchTokenFunc exchanges the long-lived refresh credential for a
// short-lived access token. Implemented by each concrete upstream client.
type fetchTokenFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// tokenSource caches a short-lived access token and refreshes it proactively
// when within refreshBuffer of expiry. Refreshes are serialized so concurrent
// callers never trigger duplicate auth calls.
type tokenSource struct {
	mu            sync.Mutex
	fetch         fetchTokenFunc
	token         string
	expiresAt     time.Time
	refreshBuffer time.Duration
	now           func() time.Time
}

func newTokenSource(fetch fetchTokenFunc, refreshBuffer time.Duration) *tokenSource {
	if refreshBuffer <= 0 {
		refreshBuffer = time.Minute
	}
	return &tokenSource{
		fetch:         fetch,
		refreshBuffer: refreshBuffer,
		now:           time.Now,
	}
}

// Token returns a valid access token, refreshing first when the cached one is
// missing or inside the refresh buffer.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(s.refreshBuffer).Before(s.expiresAt) {
		return s.token, nil
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	s.token = token
	s.expiresAt = s.now().Add(expiresIn)
	return s.token, nil
}

// Invalidate drops the cached token, forcing a refresh on the next call.
// Used after an upstream rejects the token mid-lifetime.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

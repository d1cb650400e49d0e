/*
SPDX-FileCopyrightText: 2026 The ax Authors

SPDX-License-Identifier: Apache-2.0
*/

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/axioms/ax/pkg/system"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type scriptedReply struct {
	status int
	body   any
}

// tokenServer answers /oauth2/token with the scripted replies in order and
// repeats the last one once the script is exhausted.
type tokenServer struct {
	*httptest.Server
	t       *testing.T
	clock   *fakeClock
	mu      sync.Mutex
	replies []scriptedReply
	forms   []url.Values
	times   []time.Time
}

func newTokenServer(t *testing.T, clock *fakeClock, replies ...scriptedReply) *tokenServer {
	ts := &tokenServer{t: t, clock: clock, replies: replies}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/oauth2/token" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ts.mu.Lock()
	ts.forms = append(ts.forms, r.PostForm)
	ts.times = append(ts.times, ts.clock.Now())
	idx := len(ts.forms) - 1
	if idx >= len(ts.replies) {
		idx = len(ts.replies) - 1
	}
	reply := ts.replies[idx]
	ts.mu.Unlock()

	status := reply.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch body := reply.body.(type) {
	case string:
		_, _ = w.Write([]byte(body))
	default:
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (ts *tokenServer) Calls() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.forms)
}

func (ts *tokenServer) RequestTimes() []time.Time {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]time.Time(nil), ts.times...)
}

func (ts *tokenServer) Forms() []url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]url.Values(nil), ts.forms...)
}

func pending() scriptedReply {
	return scriptedReply{status: http.StatusBadRequest, body: map[string]string{"error": "authorization_pending"}}
}

func slowDown() scriptedReply {
	return scriptedReply{status: http.StatusBadRequest, body: map[string]string{"error": "slow_down"}}
}

func oauthError(code string) scriptedReply {
	return scriptedReply{status: http.StatusBadRequest, body: map[string]string{"error": code}}
}

func granted(accessToken, tokenType string) scriptedReply {
	return scriptedReply{body: map[string]any{"access_token": accessToken, "token_type": tokenType}}
}

func newTestSession(clock *fakeClock, interval, expiresIn time.Duration) *DeviceSession {
	return &DeviceSession{
		DeviceCode:              "device-code-123",
		UserCode:                "WDJB-MJHT",
		VerificationURI:         "https://tenant.example/device",
		VerificationURIComplete: "https://tenant.example/device?user_code=WDJB-MJHT",
		Interval:                interval,
		ExpiresIn:               expiresIn,
		IssuedAt:                clock.Now(),
	}
}

func newTestPoller(t *testing.T, server *tokenServer, clock *fakeClock) *TokenPoller {
	t.Helper()
	poller, err := NewTokenPoller(Config{Tenant: server.URL, ClientID: "ax-cli"}, WithClock(clock), WithLogger(system.NewTestLogger()))
	if err != nil {
		t.Fatalf("failed to create poller: %v", err)
	}
	return poller
}

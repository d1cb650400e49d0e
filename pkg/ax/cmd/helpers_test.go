/*
SPDX-FileCopyrightText: 2026 The ax Authors

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

var axEnv = []string{
	"AX_CONFIG", "AX_CONTEXT", "AX_TENANT", "AX_CLIENT_ID", "AX_API_SERVER", "AX_OUTPUT",
	"AX_TOKEN", "AX_TOKEN_STORAGE", "AX_NO_BROWSER", "AX_VERBOSE", "AX_TOKEN_FILE",
	"AX_TRACE_EXPORTER", "AX_TRACE_ENDPOINT",
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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
	c.now = c.now.Add(d)
	return nil
}

type testEnv struct {
	t          *testing.T
	configPath string
	tokenPath  string
	clock      *fakeClock
	opened     []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, name := range axEnv {
		t.Setenv(name, "")
	}
	keyring.MockInit()
	dir := t.TempDir()
	return &testEnv{
		t:          t,
		configPath: filepath.Join(dir, "config.yaml"),
		tokenPath:  filepath.Join(dir, "tokens.json"),
		clock:      &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func (e *testEnv) config(out, errOut *bytes.Buffer) Config {
	return Config{
		ConfigPath:   e.configPath,
		TokenPath:    e.tokenPath,
		OutputWriter: out,
		ErrWriter:    errOut,
		Clock:        e.clock,
		OpenBrowser: func(url string) error {
			e.opened = append(e.opened, url)
			return nil
		},
	}
}

func (e *testEnv) run(args ...string) (string, string, error) {
	e.t.Helper()
	return e.runContext(context.Background(), args...)
}

func (e *testEnv) runContext(ctx context.Context, args ...string) (string, string, error) {
	e.t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	root := NewRootCommand(e.config(out, errOut))
	root.SetArgs(args)
	root.SetContext(context.WithValue(ctx, runtimeKey{}, root.Context().Value(runtimeKey{})))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func signedJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

// deviceFlowServer serves /oauth2/device and answers /oauth2/token with the
// given replies in order, repeating the last one.
type deviceFlowServer struct {
	*httptest.Server
	mu         sync.Mutex
	tokenCalls int
	replies    []func(w http.ResponseWriter)
}

func newDeviceFlowServer(t *testing.T, replies ...func(w http.ResponseWriter)) *deviceFlowServer {
	s := &deviceFlowServer{replies: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/oauth2/device":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"device_code":               "device-secret-code",
				"user_code":                 "WDJB-MJHT",
				"verification_uri":          "https://tenant.example/device",
				"verification_uri_complete": "https://tenant.example/device?user_code=WDJB-MJHT",
				"interval":                  1,
				"expires_in":                60,
			})
		case "/oauth2/token":
			s.mu.Lock()
			idx := s.tokenCalls
			s.tokenCalls++
			s.mu.Unlock()
			if idx >= len(s.replies) {
				idx = len(s.replies) - 1
			}
			s.replies[idx](w)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func replyError(code string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
	}
}

func replyToken(accessToken, idToken string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"token_type":   "bearer",
			"expires_in":   3600,
			"id_token":     idToken,
			"scope":        "openid profile email",
		})
	}
}

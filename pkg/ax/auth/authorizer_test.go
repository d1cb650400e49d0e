/*
SPDX-FileCopyrightText: 2026 The ax Authors

SPDX-License-Identifier: Apache-2.0
*/

package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceResponse() map[string]any {
	return map[string]any{
		"device_code":               "device-code-123",
		"user_code":                 "WDJB-MJHT",
		"verification_uri":          "https://tenant.example/device",
		"verification_uri_complete": "https://tenant.example/device?user_code=WDJB-MJHT",
		"interval":                  5,
		"expires_in":                900,
	}
}

func newDeviceServer(t *testing.T, status int, body any, forms *[]url.Values) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/device" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.NoError(t, r.ParseForm())
		if forms != nil {
			*forms = append(*forms, r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRequestDeviceCode_Success(t *testing.T) {
	var forms []url.Values
	server := newDeviceServer(t, http.StatusOK, deviceResponse(), &forms)
	clock := newFakeClock()

	authorizer, err := NewDeviceAuthorizer(Config{Tenant: server.URL, ClientID: "ax-cli"}, WithClock(clock))
	require.NoError(t, err)

	session, err := authorizer.RequestDeviceCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "device-code-123", session.DeviceCode)
	assert.Equal(t, "WDJB-MJHT", session.UserCode)
	assert.Equal(t, "https://tenant.example/device", session.VerificationURI)
	assert.Equal(t, "https://tenant.example/device?user_code=WDJB-MJHT", session.VerificationURIComplete)
	assert.Equal(t, 5*time.Second, session.Interval)
	assert.Equal(t, 15*time.Minute, session.ExpiresIn)
	assert.Equal(t, clock.Now(), session.IssuedAt)
	assert.Equal(t, clock.Now().Add(15*time.Minute), session.Deadline())

	require.Len(t, forms, 1)
	assert.Equal(t, "ax-cli", forms[0].Get("client_id"))
	assert.Equal(t, DefaultScope, forms[0].Get("scope"))
}

func TestRequestDeviceCode_PassesScopeVerbatim(t *testing.T) {
	var forms []url.Values
	server := newDeviceServer(t, http.StatusOK, deviceResponse(), &forms)

	authorizer, err := NewDeviceAuthorizer(Config{Tenant: server.URL, ClientID: "ax-cli", Scope: "openid custom:scope"})
	require.NoError(t, err)

	_, err = authorizer.RequestDeviceCode(context.Background())
	require.NoError(t, err)
	require.Len(t, forms, 1)
	assert.Equal(t, "openid custom:scope", forms[0].Get("scope"))
}

func TestRequestDeviceCode_MissingFields(t *testing.T) {
	for _, field := range []string{"device_code", "user_code", "verification_uri", "verification_uri_complete", "interval", "expires_in"} {
		t.Run(field, func(t *testing.T) {
			body := deviceResponse()
			delete(body, field)
			server := newDeviceServer(t, http.StatusOK, body, nil)

			authorizer, err := NewDeviceAuthorizer(Config{Tenant: server.URL, ClientID: "ax-cli"})
			require.NoError(t, err)

			session, err := authorizer.RequestDeviceCode(context.Background())
			require.Error(t, err)
			assert.Nil(t, session)
			assert.ErrorIs(t, err, ErrAuthServer)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestRequestDeviceCode_InvalidDurations(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
	}{
		{name: "expires_in zero", field: "expires_in", value: 0},
		{name: "expires_in negative", field: "expires_in", value: -30},
		{name: "expires_in overflows duration", field: "expires_in", value: int64(10000000000)},
		{name: "interval negative", field: "interval", value: -1},
		{name: "interval overflows duration", field: "interval", value: int64(10000000000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := deviceResponse()
			body[tt.field] = tt.value
			server := newDeviceServer(t, http.StatusOK, body, nil)

			authorizer, err := NewDeviceAuthorizer(Config{Tenant: server.URL, ClientID: "ax-cli"})
			require.NoError(t, err)

			session, err := authorizer.RequestDeviceCode(context.Background())
			require.Error(t, err)
			assert.Nil(t, session)
			assert.ErrorIs(t, err, ErrAuthServer)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRequestDeviceCode_ZeroIntervalAccepted(t *testing.T) {
	body := deviceResponse()
	body["interval"] = 0
	server := newDeviceServer(t, http.StatusOK, body, nil)

	authorizer, err := NewDeviceAuthorizer(Config{Tenant: server.URL, ClientID: "ax-cli"})
	require.NoError(t, err)

	session, err := authorizer.RequestDeviceCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), session.Interval)
}

func TestRequestDeviceCode_ErrorStatus(t *testing.T) {
	server := newDeviceServer(t, http.StatusBadRequest, map[string]string{
		"error":             "invalid_client",
		"error_description": "Unknown client",
	}, nil)

	authorizer, err := NewDeviceAuthorizer(Config{Tenant: server.URL, ClientID: "unknown"})
	require.NoError(t, err)

	session, err := authorizer.RequestDeviceCode(context.Background())
	require.Error(t, err)
	assert.Nil(t, session)

	var serverErr *AuthServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, http.StatusBadRequest, serverErr.StatusCode)
	assert.Equal(t, "invalid_client", serverErr.Code)
	assert.Equal(t, "Unknown client", serverErr.Description)
}

func TestRequestDeviceCode_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer server.Close()

	authorizer, err := NewDeviceAuthorizer(Config{Tenant: server.URL, ClientID: "ax-cli"})
	require.NoError(t, err)

	_, err = authorizer.RequestDeviceCode(context.Background())
	require.ErrorIs(t, err, ErrAuthServer)
}

func TestRequestDeviceCode_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	authorizer, err := NewDeviceAuthorizer(Config{Tenant: server.URL, ClientID: "ax-cli"})
	require.NoError(t, err)

	_, err = authorizer.RequestDeviceCode(context.Background())
	require.ErrorIs(t, err, ErrAuthServer)
}

func TestRequestDeviceCode_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	authorizer, err := NewDeviceAuthorizer(Config{Tenant: server.URL, ClientID: "ax-cli", RequestTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = authorizer.RequestDeviceCode(context.Background())
	require.ErrorIs(t, err, ErrAuthServer)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRequestDeviceCode_ExplicitEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/custom/device" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(deviceResponse())
	}))
	defer server.Close()

	authorizer, err := NewDeviceAuthorizer(Config{
		ClientID:       "ax-cli",
		DeviceEndpoint: server.URL + "/custom/device",
		TokenEndpoint:  server.URL + "/custom/token",
	})
	require.NoError(t, err)

	session, err := authorizer.RequestDeviceCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "WDJB-MJHT", session.UserCode)
}

func TestNewDeviceAuthorizer_Validation(t *testing.T) {
	_, err := NewDeviceAuthorizer(Config{Tenant: "tenant.example"})
	require.Error(t, err)

	_, err = NewDeviceAuthorizer(Config{ClientID: "ax-cli"})
	require.Error(t, err)

	_, err = NewDeviceAuthorizer(Config{Tenant: "tenant.example", ClientID: "ax-cli", CAFile: "/does/not/exist.pem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CA file")
}

func TestLoadTLSConfig(t *testing.T) {
	cfg, err := LoadTLSConfig("", true)
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Nil(t, cfg.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = LoadTLSConfig(bad, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse CA file")

	_, err = LoadTLSConfig(filepath.Join(t.TempDir(), "missing.pem"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read CA file")
}

func TestTenantURL(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "axioms.us.axioms.io", want: "https://axioms.us.axioms.io"},
		{input: "https://axioms.us.axioms.io/", want: "https://axioms.us.axioms.io"},
		{input: "http://127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{input: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := TenantURL(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

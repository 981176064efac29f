package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raakeshmj/activationplane/internal/auth"
	"github.com/raakeshmj/activationplane/internal/config"
)

type envelope struct {
	Success bool            `json:"success"`
	Valid   *bool           `json:"valid"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	ts     *httptest.Server
	token  string
	apiKey string
	secret string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		ServerPort:         "0",
		JWTSecret:          "test-secret",
		SessionLifetime:    time.Hour,
		TimestampTolerance: 5 * time.Minute,
		NonceTTL:           5 * time.Minute,
		DevMode:            true,
	}
	srv, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.close)

	e := &testServer{t: t, ts: ts}
	e.bootstrap()
	return e
}

func (e *testServer) do(method, path, token string, body any) (*http.Response, envelope) {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func (e *testServer) bootstrap() {
	e.t.Helper()

	resp, env := e.do(http.MethodPost, "/admin/init", "", map[string]string{
		"username": "admin", "password": "hunter22",
	})
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	require.True(e.t, env.Success)

	resp, env = e.do(http.MethodPost, "/admin/login", "", map[string]string{
		"username": "admin", "password": "hunter22",
	})
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(e.t, json.Unmarshal(env.Data, &login))
	e.token = login.Token

	resp, env = e.do(http.MethodGet, "/admin/api-keys", e.token, nil)
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	var keys struct {
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	}
	require.NoError(e.t, json.Unmarshal(env.Data, &keys))
	e.apiKey, e.secret = keys.APIKey, keys.APISecret
}

func (e *testServer) createCode(appName, userName string, hours int) string {
	e.t.Helper()

	resp, env := e.do(http.MethodPost, "/admin/codes", e.token, map[string]any{
		"app_name": appName, "user_name": userName, "duration_hours": hours,
	})
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	var created struct {
		Code string `json:"code"`
	}
	require.NoError(e.t, json.Unmarshal(env.Data, &created))
	return created.Code
}

func (e *testServer) verifyBody(code, appName, userName, nonce string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signed := auth.VerificationString(code, appName, userName, ts, nonce, e.secret)
	return map[string]string{
		"code":      code,
		"app_name":  appName,
		"user_name": userName,
		"timestamp": ts,
		"nonce":     nonce,
		"signature": auth.Sign(signed, e.secret),
		"api_key":   e.apiKey,
	}
}

func TestVerifyEndpointActivates(t *testing.T) {
	e := newTestServer(t)
	code := e.createCode("myapp", "alice", 24)

	resp, env := e.do(http.MethodPost, "/api/v1/verify", "", e.verifyBody(code, "myapp", "alice", "n1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	require.NotNil(t, env.Valid)
	assert.True(t, *env.Valid)

	var data struct {
		ActivatedAt string `json:"activated_at"`
		ExpiredAt   string `json:"expired_at"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	activated, err := time.Parse(time.RFC3339, data.ActivatedAt)
	require.NoError(t, err)
	expired, err := time.Parse(time.RFC3339, data.ExpiredAt)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, expired.Sub(activated))

	// Revalidation with a fresh nonce still succeeds.
	resp, env = e.do(http.MethodPost, "/api/v1/verify", "", e.verifyBody(code, "myapp", "alice", "n2"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, *env.Valid)
}

func TestVerifyEndpointNonceReplay(t *testing.T) {
	e := newTestServer(t)
	code := e.createCode("myapp", "alice", 24)

	body := e.verifyBody(code, "myapp", "alice", "n1")
	resp, _ := e.do(http.MethodPost, "/api/v1/verify", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := e.do(http.MethodPost, "/api/v1/verify", "", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Equal(t, "request already used", env.Message)
}

func TestVerifyEndpointAuthFailures(t *testing.T) {
	e := newTestServer(t)
	code := e.createCode("myapp", "alice", 24)

	body := e.verifyBody(code, "myapp", "alice", "n1")
	body["api_key"] = "ak_unknown"
	resp, env := e.do(http.MethodPost, "/api/v1/verify", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, env.Success)

	body = e.verifyBody(code, "myapp", "alice", "n2")
	sig := []byte(body["signature"])
	if sig[0] == 'f' {
		sig[0] = '0'
	} else {
		sig[0] = 'f'
	}
	body["signature"] = string(sig)
	resp, env = e.do(http.MethodPost, "/api/v1/verify", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Equal(t, "signature verification failed", env.Message)

	body = e.verifyBody(code, "myapp", "alice", "n3")
	delete(body, "nonce")
	resp, env = e.do(http.MethodPost, "/api/v1/verify", "", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, env.Success)
}

func TestVerifyEndpointWrongUserIsProtocolSuccess(t *testing.T) {
	e := newTestServer(t)
	code := e.createCode("myapp", "alice", 24)

	resp, env := e.do(http.MethodPost, "/api/v1/verify", "", e.verifyBody(code, "myapp", "bob", "n1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success, "a well-formed authenticated call succeeds even when the code is not valid")
	require.NotNil(t, env.Valid)
	assert.False(t, *env.Valid)
}

func TestAdminSurfaceRequiresSession(t *testing.T) {
	e := newTestServer(t)

	resp, env := e.do(http.MethodGet, "/admin/codes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, env.Success)

	resp, _ = e.do(http.MethodGet, "/admin/codes", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminCodeLifecycle(t *testing.T) {
	e := newTestServer(t)
	_ = e.createCode("myapp", "alice", 24)

	resp, env := e.do(http.MethodGet, "/admin/codes?app_name=myapp", e.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		List []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"list"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	require.Equal(t, 1, listing.Pagination.Total)
	id := listing.List[0].ID

	resp, _ = e.do(http.MethodPut, fmt.Sprintf("/admin/codes/%s/revoke", id), e.token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Revoking twice is a client error.
	resp, env = e.do(http.MethodPut, fmt.Sprintf("/admin/codes/%s/revoke", id), e.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "activation code already revoked", env.Message)

	resp, _ = e.do(http.MethodDelete, "/admin/codes/"+id, e.token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(http.MethodGet, "/admin/codes/"+id, e.token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRegenerateKillsOldSignatures(t *testing.T) {
	e := newTestServer(t)
	code := e.createCode("myapp", "alice", 24)

	// Sign under the current secret, then rotate.
	body := e.verifyBody(code, "myapp", "alice", "n1")

	resp, env := e.do(http.MethodPost, "/admin/api-keys/regenerate", e.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var keys struct {
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &keys))

	resp, _ = e.do(http.MethodPost, "/api/v1/verify", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "old api key no longer resolves")

	// A request signed under the new pair goes through.
	e.apiKey, e.secret = keys.APIKey, keys.APISecret
	resp, env = e.do(http.MethodPost, "/api/v1/verify", "", e.verifyBody(code, "myapp", "alice", "n2"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, env.Valid)
	assert.True(t, *env.Valid)
}

func TestInitOnlyOnce(t *testing.T) {
	e := newTestServer(t)

	resp, env := e.do(http.MethodPost, "/admin/init", "", map[string]string{
		"username": "other", "password": "hunter22",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, env.Success)
}

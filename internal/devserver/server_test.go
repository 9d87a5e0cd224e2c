package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	srv := New(Config{
		SigningKey:    []byte("test-key"),
		EventInterval: 20 * time.Millisecond,
		PingInterval:  50 * time.Millisecond,
	}, []User{
		{Email: "a@example.com", Password: "pw", Name: "Ada", Roles: []string{"viewer"}, TenantID: "acme"},
		{Email: "root@example.com", Password: "pw", Name: "Root", Roles: []string{"admin"}, TenantID: "hq"},
	}, nil, zerolog.Nop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func login(t *testing.T, baseURL, email, password string) tokenResponse {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/v1/auth/login", loginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tokens tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	return tokens
}

func TestHandleLogin(t *testing.T) {
	t.Run("issues a signed pair for valid credentials", func(t *testing.T) {
		srv, ts := newTestServer(t)

		tokens := login(t, ts.URL, "a@example.com", "pw")
		assert.NotEmpty(t, tokens.AccessToken)
		assert.NotEmpty(t, tokens.RefreshToken)
		assert.Equal(t, "Bearer", tokens.TokenType)

		claims, err := srv.verifyToken(tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", claims.Subject)
		assert.Equal(t, "acme", claims.TenantID)
		assert.Equal(t, []string{"viewer"}, claims.Roles)
	})

	t.Run("rejects bad credentials with 401", func(t *testing.T) {
		_, ts := newTestServer(t)

		resp := postJSON(t, ts.URL+"/api/v1/auth/login", loginRequest{Email: "a@example.com", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects missing fields with 422 detail", func(t *testing.T) {
		_, ts := newTestServer(t)

		resp := postJSON(t, ts.URL+"/api/v1/auth/login", loginRequest{Email: "a@example.com"})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		var body errorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "is required", body.Fields["password"])
	})
}

func TestHandleRefresh(t *testing.T) {
	t.Run("rotates both tokens", func(t *testing.T) {
		_, ts := newTestServer(t)
		tokens := login(t, ts.URL, "a@example.com", "pw")

		resp := postJSON(t, ts.URL+"/api/v1/auth/refresh", refreshRequest{RefreshToken: tokens.RefreshToken})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var rotated tokenResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rotated))
		assert.NotEmpty(t, rotated.AccessToken)
		assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)
	})

	t.Run("a refresh token is single use", func(t *testing.T) {
		_, ts := newTestServer(t)
		tokens := login(t, ts.URL, "a@example.com", "pw")

		resp := postJSON(t, ts.URL+"/api/v1/auth/refresh", refreshRequest{RefreshToken: tokens.RefreshToken})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postJSON(t, ts.URL+"/api/v1/auth/refresh", refreshRequest{RefreshToken: tokens.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects unknown tokens", func(t *testing.T) {
		_, ts := newTestServer(t)

		resp := postJSON(t, ts.URL+"/api/v1/auth/refresh", refreshRequest{RefreshToken: "made-up"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func wsURL(baseURL, tenant, token string) string {
	return strings.Replace(baseURL, "http://", "ws://", 1) +
		"/api/v1/tenants/" + tenant + "/events?token=" + token
}

func TestHandleEvents(t *testing.T) {
	t.Run("streams scenario events to the tenant", func(t *testing.T) {
		_, ts := newTestServer(t)
		tokens := login(t, ts.URL, "a@example.com", "pw")

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "acme", tokens.AccessToken), nil)
		require.NoError(t, err)
		defer conn.Close()
		resp.Body.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame eventFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.NotEmpty(t, frame.ID)
		assert.NotEmpty(t, frame.Message)
	})

	t.Run("sends heartbeats", func(t *testing.T) {
		_, ts := newTestServer(t)
		tokens := login(t, ts.URL, "a@example.com", "pw")

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "acme", tokens.AccessToken), nil)
		require.NoError(t, err)
		defer conn.Close()
		resp.Body.Close()

		deadline := time.Now().Add(2 * time.Second)
		for {
			require.NoError(t, conn.SetReadDeadline(deadline))
			_, raw, err := conn.ReadMessage()
			require.NoError(t, err)

			var frame eventFrame
			require.NoError(t, json.Unmarshal(raw, &frame))
			if frame.Type == "ping" {
				return
			}
		}
	})

	t.Run("rejects a missing or invalid token", func(t *testing.T) {
		_, ts := newTestServer(t)

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "acme", "garbage"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects a tenant mismatch", func(t *testing.T) {
		_, ts := newTestServer(t)
		tokens := login(t, ts.URL, "a@example.com", "pw")

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "globex", tokens.AccessToken), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("admins may watch any tenant", func(t *testing.T) {
		_, ts := newTestServer(t)
		tokens := login(t, ts.URL, "root@example.com", "pw")

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "acme", tokens.AccessToken), nil)
		require.NoError(t, err)
		resp.Body.Close()
		conn.Close()
	})
}

func TestScenario(t *testing.T) {
	t.Run("default scenario has events", func(t *testing.T) {
		s := DefaultScenario()
		assert.NotEmpty(t, s.Events)
	})

	t.Run("load rejects an empty scenario", func(t *testing.T) {
		path := t.TempDir() + "/scenario.yaml"
		require.NoError(t, os.WriteFile(path, []byte("events: []\n"), 0600))

		_, err := LoadScenario(path)
		assert.Error(t, err)
	})

	t.Run("load parses scripted events", func(t *testing.T) {
		path := t.TempDir() + "/scenario.yaml"
		require.NoError(t, os.WriteFile(path, []byte("events:\n  - message: Budget alert\n    detail: aws/prod\n"), 0600))

		s, err := LoadScenario(path)
		require.NoError(t, err)
		require.Len(t, s.Events, 1)
		assert.Equal(t, "Budget alert", s.Events[0].Message)
		assert.Equal(t, "aws/prod", s.Events[0].Detail)
	})
}

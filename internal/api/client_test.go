package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token      string
	ok         bool
	refreshErr error

	refreshCalls atomic.Int32
	// rotateTo replaces token on a successful refresh.
	rotateTo string
}

func (s *staticTokens) AccessToken() (string, bool) {
	return s.token, s.ok
}

func (s *staticTokens) Refresh(ctx context.Context) error {
	s.refreshCalls.Add(1)
	if s.refreshErr != nil {
		return s.refreshErr
	}
	if s.rotateTo != "" {
		s.token = s.rotateTo
		s.ok = true
	}
	return nil
}

func TestClientDo(t *testing.T) {
	t.Run("attaches the bearer token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		client := New(srv.URL)
		client.SetTokenSource(&staticTokens{token: "tok-1", ok: true})

		var out struct {
			OK bool `json:"ok"`
		}
		require.NoError(t, client.Get(context.Background(), "/api/v1/ping", &out))
		assert.True(t, out.OK)
	})

	t.Run("refreshes once on 401 and retries the request", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-2" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "token expired"})
				return
			}
			calls.Add(1)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		tokens := &staticTokens{token: "tok-1", ok: true, rotateTo: "tok-2"}
		client := New(srv.URL)
		client.SetTokenSource(tokens)

		require.NoError(t, client.Get(context.Background(), "/api/v1/ping", nil))
		assert.Equal(t, int32(1), tokens.refreshCalls.Load())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("surfaces the refresh error when refresh fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		refreshErr := errors.New("session gone")
		tokens := &staticTokens{token: "tok-1", ok: true, refreshErr: refreshErr}
		client := New(srv.URL)
		client.SetTokenSource(tokens)

		err := client.Get(context.Background(), "/api/v1/ping", nil)
		require.ErrorIs(t, err, refreshErr)
		assert.Equal(t, int32(1), tokens.refreshCalls.Load())
	})

	t.Run("second 401 maps to ErrUnauthorized without another refresh", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
		}))
		defer srv.Close()

		tokens := &staticTokens{token: "tok-1", ok: true, rotateTo: "tok-2"}
		client := New(srv.URL)
		client.SetTokenSource(tokens)

		err := client.Get(context.Background(), "/api/v1/ping", nil)
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, int32(1), tokens.refreshCalls.Load())
	})

	t.Run("maps 422 to a field-level validation error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":  "validation failed",
				"fields": map[string]string{"email": "is required"},
			})
		}))
		defer srv.Close()

		client := New(srv.URL)

		err := client.Post(context.Background(), "/api/v1/ping", map[string]string{}, nil)
		require.ErrorIs(t, err, ErrValidationFailed)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "is required", verr.Fields["email"])
	})

	t.Run("maps other statuses to HTTPError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
		}))
		defer srv.Close()

		client := New(srv.URL)

		err := client.Get(context.Background(), "/api/v1/ping", nil)

		var herr *HTTPError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, http.StatusInternalServerError, herr.StatusCode)
		assert.Equal(t, "boom", herr.Message)
	})

	t.Run("undecodable success body maps to ErrMalformedResponse", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		}))
		defer srv.Close()

		client := New(srv.URL)

		var out map[string]any
		err := client.Get(context.Background(), "/api/v1/ping", &out)
		require.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("unreachable server maps to ErrNetworkUnreachable", func(t *testing.T) {
		client := New("http://127.0.0.1:1", WithMaxTries(1))

		err := client.Get(context.Background(), "/api/v1/ping", nil)
		require.ErrorIs(t, err, ErrNetworkUnreachable)
	})

	t.Run("retries idempotent requests at the network level", func(t *testing.T) {
		var hits atomic.Int32
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				// Drop the first connection without a response.
				srv.CloseClientConnections()
				return
			}
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		client := New(srv.URL, WithMaxTries(3))

		require.NoError(t, client.Get(context.Background(), "/api/v1/ping", nil))
		assert.GreaterOrEqual(t, hits.Load(), int32(2))
	})
}

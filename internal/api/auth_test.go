package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLogin(t *testing.T) {
	t.Run("returns the token pair on success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, loginPath, r.URL.Path)
			assert.Empty(t, r.Header.Get("Authorization"))

			var req loginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "a@example.com", req.Email)

			_ = json.NewEncoder(w).Encode(tokenResponse{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				TokenType:    "Bearer",
			})
		}))
		defer srv.Close()

		client := New(srv.URL)

		pair, err := client.Login(context.Background(), "a@example.com", "pw")
		require.NoError(t, err)
		assert.Equal(t, "access-1", pair.AccessToken)
		assert.Equal(t, "refresh-1", pair.RefreshToken)
	})

	t.Run("maps 401 to ErrInvalidCredentials", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
		}))
		defer srv.Close()

		client := New(srv.URL)

		_, err := client.Login(context.Background(), "a@example.com", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("maps 422 to a validation error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":  "validation failed",
				"fields": map[string]string{"password": "is required"},
			})
		}))
		defer srv.Close()

		client := New(srv.URL)

		_, err := client.Login(context.Background(), "a@example.com", "")
		require.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("missing token fields map to ErrMalformedResponse", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "access-1"})
		}))
		defer srv.Close()

		client := New(srv.URL)

		_, err := client.Login(context.Background(), "a@example.com", "pw")
		require.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestClientRefresh(t *testing.T) {
	t.Run("exchanges the refresh token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, refreshPath, r.URL.Path)

			var req refreshRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "refresh-1", req.RefreshToken)

			_ = json.NewEncoder(w).Encode(tokenResponse{
				AccessToken:  "access-2",
				RefreshToken: "refresh-2",
			})
		}))
		defer srv.Close()

		client := New(srv.URL)

		pair, err := client.Refresh(context.Background(), "refresh-1")
		require.NoError(t, err)
		assert.Equal(t, "access-2", pair.AccessToken)
		assert.Equal(t, "refresh-2", pair.RefreshToken)
	})

	t.Run("does not recurse into refresh on 401", func(t *testing.T) {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		client := New(srv.URL)

		_, err := client.Refresh(context.Background(), "spent")
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, 1, hits)
	})
}

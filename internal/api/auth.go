package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/costlens/costlens/internal/session"
)

const (
	loginPath   = "/api/v1/auth/login"
	refreshPath = "/api/v1/auth/refresh"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// tokenResponse is the wire shape of both auth endpoints.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
}

// Login authenticates with email and password. Credential rejections map to
// ErrInvalidCredentials, validation issues to ErrValidationFailed, and a 2xx
// response missing either token string to ErrMalformedResponse. Never
// retried and never triggers a token refresh.
func (c *Client) Login(ctx context.Context, email, password string) (*session.TokenPair, error) {
	pair, err := c.tokenRequest(ctx, loginPath, loginRequest{Email: email, Password: password})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return pair, nil
}

// Refresh exchanges refreshToken for a fresh pair. The server rotates both
// tokens; the presented refresh token is spent whether or not the exchange
// succeeds.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.TokenPair, error) {
	return c.tokenRequest(ctx, refreshPath, refreshRequest{RefreshToken: refreshToken})
}

// tokenRequest posts to an auth endpoint without attaching credentials and
// without the refresh-on-401 path, which would recurse.
func (c *Client) tokenRequest(ctx context.Context, apiPath string, body any) (*session.TokenPair, error) {
	payload, err := marshalBody(body)
	if err != nil {
		return nil, err
	}

	status, data, err := c.roundTrip(ctx, http.MethodPost, apiPath, payload, false)
	if err != nil {
		return nil, err
	}
	if err := statusError(status, data); err != nil {
		return nil, err
	}

	var resp tokenResponse
	if err := decodeBody(data, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, fmt.Errorf("auth response missing token fields: %w", ErrMalformedResponse)
	}

	return &session.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

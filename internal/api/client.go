// Package api is the JSON fetch wrapper the session manager and views sit
// on: it builds requests against the dashboard REST API, attaches the
// current access token, maps error responses onto the shared taxonomy, and
// coordinates the single refresh-and-retry allowed on a 401.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// TokenSource supplies the current access token for outgoing requests and
// is asked for exactly one refresh when a request is rejected for
// authorization reasons. A Refresh failure means the session is gone; the
// error is surfaced to the caller unchanged.
type TokenSource interface {
	AccessToken() (token string, ok bool)
	Refresh(ctx context.Context) error
}

// Client makes JSON requests to the dashboard REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	maxTries   uint
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxTries sets the attempt budget for idempotent requests that fail at
// the network level. Non-idempotent requests are never retried.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		c.maxTries = n
	}
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxTries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenSource installs the credential hook. Set after construction
// because the session manager and the client reference each other.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// Get issues an authenticated GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, apiPath string, out any) error {
	return c.Do(ctx, http.MethodGet, apiPath, nil, out)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, apiPath string, body, out any) error {
	return c.Do(ctx, http.MethodPost, apiPath, body, out)
}

// Do executes an authenticated JSON request. On a 401 it asks the token
// source for exactly one refresh and retries the original request once; a
// failed refresh surfaces the refresh error so the caller can prompt for
// sign-in.
func (c *Client) Do(ctx context.Context, method, apiPath string, body, out any) error {
	payload, err := marshalBody(body)
	if err != nil {
		return err
	}

	status, data, err := c.roundTrip(ctx, method, apiPath, payload, true)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && c.tokens != nil {
		log.Debug().Str("path", apiPath).Msg("request unauthorized, attempting token refresh")
		if err := c.tokens.Refresh(ctx); err != nil {
			return err
		}
		status, data, err = c.roundTrip(ctx, method, apiPath, payload, true)
		if err != nil {
			return err
		}
	}

	if err := statusError(status, data); err != nil {
		return err
	}

	return decodeBody(data, out)
}

// roundTrip performs one logical request. Network-level failures on
// idempotent methods retry with exponential backoff; everything else is a
// single attempt. Returns the status and body without interpreting them.
func (c *Client) roundTrip(ctx context.Context, method, apiPath string, payload []byte, attach bool) (int, []byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid server URL: %w", err)
	}
	u.Path = path.Join(u.Path, apiPath)

	tries := c.maxTries
	if !idempotent(method) {
		tries = 1
	}

	type result struct {
		status int
		body   []byte
	}

	operation := func() (result, error) {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
		if err != nil {
			return result{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		if attach && c.tokens != nil {
			if token, ok := c.tokens.AccessToken(); ok {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return result{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return result{}, err
		}

		return result{status: resp.StatusCode, body: body}, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(tries),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return 0, nil, fmt.Errorf("failed to create request: %w", err)
		}
		return 0, nil, fmt.Errorf("%v: %w", err, ErrNetworkUnreachable)
	}

	return res.status, res.body, nil
}

// serverError is the JSON error body shape returned by the API.
type serverError struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// statusError maps a non-2xx status onto the error taxonomy.
func statusError(status int, data []byte) error {
	if status < 400 {
		return nil
	}

	var serr serverError
	msg := string(data)
	if err := json.Unmarshal(data, &serr); err == nil && serr.Error != "" {
		msg = serr.Error
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", msg, ErrUnauthorized)
	case http.StatusUnprocessableEntity:
		return &ValidationError{Fields: serr.Fields}
	default:
		return &HTTPError{StatusCode: status, Message: msg}
	}
}

func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return payload, nil
}

func decodeBody(data []byte, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformedResponse)
	}
	return nil
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

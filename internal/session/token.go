package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// SkewTolerance is the allowed clock drift when validating token time bounds.
const SkewTolerance = 60 * time.Second

// TokenPair holds the short-lived access token (a JWT) and the opaque
// refresh token used to mint its replacement. The two always rotate
// together.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims are the informational fields decoded from the access token payload.
//
// The token signature is NOT verified on the client. These claims exist for
// display and view selection only and must never be trusted for
// authorization decisions; the server re-checks permissions on every call.
type Claims struct {
	Subject     string
	DisplayName string
	Roles       []string
	TenantID    string
	ExpiresAt   time.Time
	NotBefore   time.Time
	IssuedAt    time.Time
}

// tokenClaims is the JWT payload shape issued by the auth endpoint.
type tokenClaims struct {
	jwt.RegisteredClaims
	Name     string   `json:"name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
}

// DecodeClaims extracts claims from an access token without verifying its
// signature. An absent or malformed token yields empty claims.
func DecodeClaims(accessToken string) Claims {
	if accessToken == "" {
		return Claims{}
	}

	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &tc); err != nil {
		log.Debug().Err(err).Msg("failed to decode access token claims")
		return Claims{}
	}

	claims := Claims{
		Subject:     tc.Subject,
		DisplayName: tc.Name,
		Roles:       tc.Roles,
		TenantID:    tc.TenantID,
	}

	if tc.ExpiresAt != nil {
		claims.ExpiresAt = tc.ExpiresAt.Time
	}
	if tc.NotBefore != nil {
		claims.NotBefore = tc.NotBefore.Time
	}
	if tc.IssuedAt != nil {
		claims.IssuedAt = tc.IssuedAt.Time
	}

	return claims
}

// Empty returns true when no identity was decoded.
func (c Claims) Empty() bool {
	return c.Subject == "" && c.ExpiresAt.IsZero()
}

// HasRole reports whether the decoded role set contains role.
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Usable reports whether the token these claims came from may be presented
// as a credential at time now. A token without an expiry is never usable,
// and an unusable token is treated identically to no token at all.
func (c Claims) Usable(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	if now.After(c.ExpiresAt.Add(SkewTolerance)) {
		return false
	}
	if !c.NotBefore.IsZero() && now.Before(c.NotBefore.Add(-SkewTolerance)) {
		return false
	}
	return true
}

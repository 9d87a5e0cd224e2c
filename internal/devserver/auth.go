package devserver

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "costlens-devserver"

// accessClaims is the JWT payload shape issued for access tokens.
type accessClaims struct {
	jwt.RegisteredClaims
	Name     string   `json:"name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body", nil)
		return
	}

	fields := map[string]string{}
	if req.Email == "" {
		fields["email"] = "is required"
	}
	if req.Password == "" {
		fields["password"] = "is required"
	}
	if len(fields) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation failed", fields)
		return
	}

	user, ok := s.users[req.Email]
	if !ok || user.Password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid email or password", nil)
		return
	}

	resp, err := s.issuePair(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue tokens", nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body", nil)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation failed",
			map[string]string{"refresh_token": "is required"})
		return
	}

	s.mu.Lock()
	grant, ok := s.refreshGrants[req.RefreshToken]
	if ok {
		// Single use: spent on presentation.
		delete(s.refreshGrants, req.RefreshToken)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token", nil)
		return
	}

	user, ok := s.users[grant.Email]
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown user", nil)
		return
	}

	resp, err := s.issuePair(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue tokens", nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// issuePair mints an access/refresh pair. The previous refresh token for
// the user, if any, stays valid until presented; real deployments revoke
// it server-side.
func (s *Server) issuePair(user User) (*tokenResponse, error) {
	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
		},
		Name:     user.Name,
		Roles:    user.Roles,
		TenantID: user.TenantID,
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	refresh := hex.EncodeToString(buf)

	s.mu.Lock()
	s.refreshGrants[refresh] = refreshGrant{Email: user.Email, IssuedAt: now}
	s.mu.Unlock()

	return &tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
	}, nil
}

// verifyToken validates an access token and returns its claims.
func (s *Server) verifyToken(tokenStr string) (*accessClaims, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("invalid signing method")
		}
		return s.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return &claims, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, fields map[string]string) {
	writeJSON(w, status, errorResponse{Error: msg, Fields: fields})
}

// Package devserver is a local stand-in for the CostLens API: the two
// collaborator surfaces the client core depends on (auth and the per-tenant
// event stream) plus a health endpoint. It exists for development and
// integration tests and is not a production service.
package devserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/costlens/costlens/internal/logger"
)

// Config holds devserver settings.
type Config struct {
	Addr           string
	SigningKey     []byte
	AccessTokenTTL time.Duration
	EventInterval  time.Duration
	PingInterval   time.Duration
}

// User is a fixed development credential.
type User struct {
	Email    string
	Password string
	Name     string
	Roles    []string
	TenantID string
}

// refreshGrant tracks an outstanding refresh token. Single use: spent on
// rotation whether or not the exchange succeeds.
type refreshGrant struct {
	Email    string
	IssuedAt time.Time
}

// Server serves the development API.
type Server struct {
	cfg      Config
	users    map[string]User
	scenario *Scenario
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu            sync.Mutex
	refreshGrants map[string]refreshGrant
}

// New creates a devserver with the given users and event scenario.
func New(cfg Config, users []User, scenario *Scenario, log zerolog.Logger) *Server {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.EventInterval == 0 {
		cfg.EventInterval = 2 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if scenario == nil {
		scenario = DefaultScenario()
	}

	byEmail := make(map[string]User, len(users))
	for _, u := range users {
		byEmail[u.Email] = u
	}

	return &Server{
		cfg:      cfg,
		users:    byEmail,
		scenario: scenario,
		logger:   log,
		upgrader: websocket.Upgrader{
			// The dashboard runs on a different origin in development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		refreshGrants: make(map[string]refreshGrant),
	}
}

// Handler returns the full HTTP handler with CORS and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	return logger.AccessLog(s.logger)(c.Handler(mux))
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

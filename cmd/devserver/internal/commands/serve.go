package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/costlens/costlens/internal/devserver"
	"github.com/costlens/costlens/internal/logger"
	"github.com/costlens/costlens/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
}

// ServeCmd runs the development API server.
type ServeCmd struct {
	Addr          string        `help:"Listen address" default:"localhost:8989" env:"COSTLENS_DEV_ADDR"`
	SigningKey    string        `help:"HMAC key for dev tokens" default:"costlens-dev-signing-key" env:"COSTLENS_DEV_SIGNING_KEY"`
	AccessTTL     time.Duration `help:"Access token lifetime" default:"15m"`
	EventInterval time.Duration `help:"Delay between synthetic events" default:"2s"`
	PingInterval  time.Duration `help:"Heartbeat interval" default:"10s"`
	Scenario      string        `help:"YAML file with scripted events, built-in script when empty"`
	Tracing       bool          `help:"Enable OTEL tracing and metrics export"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	log.Info().Str("version", globals.Version).Str("addr", c.Addr).Msg("Starting devserver")

	if c.Tracing {
		shutdown, err := telemetry.InitTelemetry(ctx, "costlens-devserver", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	var scenario *devserver.Scenario
	if c.Scenario != "" {
		var err error
		scenario, err = devserver.LoadScenario(c.Scenario)
		if err != nil {
			return fmt.Errorf("failed to load scenario: %w", err)
		}
	}

	srv := devserver.New(devserver.Config{
		Addr:           c.Addr,
		SigningKey:     []byte(c.SigningKey),
		AccessTokenTTL: c.AccessTTL,
		EventInterval:  c.EventInterval,
		PingInterval:   c.PingInterval,
	}, defaultUsers(), scenario, log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Devserver listening")
	return srv.ListenAndServe(ctx)
}

// defaultUsers are the fixed development accounts.
func defaultUsers() []devserver.User {
	return []devserver.User{
		{
			Email:    "admin@example.com",
			Password: "admin",
			Name:     "Ada Admin",
			Roles:    []string{"admin"},
			TenantID: "acme",
		},
		{
			Email:    "viewer@example.com",
			Password: "viewer",
			Name:     "Vic Viewer",
			Roles:    []string{"viewer"},
			TenantID: "acme",
		},
		{
			Email:    "ops@example.com",
			Password: "ops",
			Name:     "Olly Ops",
			Roles:    []string{"viewer", "operator"},
			TenantID: "globex",
		},
	}
}

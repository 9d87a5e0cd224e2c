package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/costlens/costlens/internal/api"
)

// LoginCmd signs in with email and password and stores the session.
type LoginCmd struct {
	Server   string `help:"Server URL" default:"http://localhost:8989"`
	Email    string `help:"Account email" env:"COSTLENS_EMAIL"`
	Password string `help:"Account password" env:"COSTLENS_PASSWORD"`
	Remember bool   `help:"Keep the session across restarts" default:"true"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	email := l.Email
	password := l.Password

	reader := bufio.NewReader(os.Stdin)
	if email == "" {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if password == "" {
		fmt.Print("Password: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	manager, _, err := newSession(l.Server)
	if err != nil {
		return err
	}

	snap, err := manager.Login(ctx, email, password, l.Remember)
	if err != nil {
		var verr *api.ValidationError
		switch {
		case errors.Is(err, api.ErrInvalidCredentials):
			return fmt.Errorf("invalid email or password")
		case errors.As(err, &verr):
			for field, msg := range verr.Fields {
				fmt.Fprintf(os.Stderr, "%s: %s\n", field, msg)
			}
			return fmt.Errorf("login rejected")
		default:
			return fmt.Errorf("failed to sign in: %w", err)
		}
	}

	fmt.Printf("Signed in as %s", snap.Claims.DisplayName)
	if snap.Claims.TenantID != "" {
		fmt.Printf(" (tenant %s)", snap.Claims.TenantID)
	}
	fmt.Println()
	if !snap.Claims.ExpiresAt.IsZero() {
		fmt.Printf("Access token expires at %s\n", snap.Claims.ExpiresAt.Format(time.RFC3339))
	}

	if !l.Remember {
		fmt.Println("Session is ephemeral and will not survive this process.")
	}

	return nil
}

package commands

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// WhoamiCmd prints the identity attached to the stored session.
type WhoamiCmd struct {
	Server string `help:"Server URL" default:"http://localhost:8989"`
}

func (w *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	manager, _, err := newSession(w.Server)
	if err != nil {
		return err
	}

	snap := manager.Snapshot()
	if !snap.Authenticated() {
		return fmt.Errorf("not signed in\n\nRun 'costlens login' to sign in")
	}

	claims := snap.Claims
	fmt.Printf("Subject:  %s\n", claims.Subject)
	if claims.DisplayName != "" {
		fmt.Printf("Name:     %s\n", claims.DisplayName)
	}
	if claims.TenantID != "" {
		fmt.Printf("Tenant:   %s\n", claims.TenantID)
	}
	if len(claims.Roles) > 0 {
		fmt.Printf("Roles:    %s\n", strings.Join(claims.Roles, ", "))
	}
	if !claims.ExpiresAt.IsZero() {
		fmt.Printf("Expires:  %s\n", claims.ExpiresAt.Format(time.RFC3339))
	}
	if snap.Remember {
		fmt.Println("Session:  remembered")
	} else {
		fmt.Println("Session:  ephemeral")
	}

	return nil
}

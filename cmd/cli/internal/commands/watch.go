package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/costlens/costlens/internal/stream"
)

// WatchCmd tails the live activity stream for a tenant.
type WatchCmd struct {
	Server        string `help:"Server URL" default:"http://localhost:8989"`
	Tenant        string `help:"Tenant ID to watch, defaults to the signed-in tenant"`
	Record        string `help:"Append received events to this file"`
	PausedAtStart bool   `help:"Buffer events instead of printing until resumed"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	manager, _, err := newSession(w.Server)
	if err != nil {
		return err
	}

	token, ok := manager.AccessToken()
	if !ok {
		// One refresh attempt covers the common expired-on-startup case.
		if err := manager.Refresh(ctx); err != nil {
			return fmt.Errorf("not signed in\n\nRun 'costlens login' to sign in")
		}
		token, ok = manager.AccessToken()
		if !ok {
			return fmt.Errorf("not signed in\n\nRun 'costlens login' to sign in")
		}
	}

	tenantID := w.Tenant
	if tenantID == "" {
		tenantID = manager.Claims().TenantID
	}

	target := stream.BuildTarget(w.Server, tenantID, token)
	if !target.Connectable() {
		return fmt.Errorf("no tenant to watch, pass --tenant or sign in to a tenant account")
	}

	var opts []stream.ClientOption
	if w.Record != "" {
		recorder, err := stream.NewRecorder(w.Record)
		if err != nil {
			return fmt.Errorf("failed to open recording: %w", err)
		}
		defer recorder.Close()
		opts = append(opts, stream.WithRecorder(recorder))
	}

	client := stream.NewClient(opts...)
	if w.PausedAtStart {
		client.SetPaused(true)
	}

	// SIGUSR1 toggles pause, so a long-running watch can hold the feed
	// still while the buffer keeps filling.
	toggle := make(chan os.Signal, 1)
	signal.Notify(toggle, syscall.SIGUSR1)
	go func() {
		for range toggle {
			client.SetPaused(!client.Paused())
		}
	}()

	updates, unsubscribe := client.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("Received interrupt signal, shutting down...")
		cancel()
	}()

	if err := client.Connect(ctx, target); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect()

	fmt.Printf("Watching tenant %s on %s\n", tenantID, w.Server)

	lastSeen := ""
	lastPaused := client.Paused()
	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-updates:
			if update.Paused != lastPaused {
				lastPaused = update.Paused
				if update.Paused {
					fmt.Println("Paused, buffering events. Send SIGUSR1 to resume.")
				} else {
					fmt.Println("Resumed.")
				}
			}

			printNewEvents(update.Events, &lastSeen)

			switch update.Status {
			case stream.StatusClosed:
				fmt.Println("Stream closed by server.")
				return nil
			case stream.StatusFailed:
				return fmt.Errorf("stream failed, reconnect to resume")
			}
		}
	}
}

// printNewEvents prints events newer than *lastSeen in arrival order.
// Events arrive newest first, so the unseen prefix is reversed for display.
func printNewEvents(events []stream.Event, lastSeen *string) {
	var fresh []stream.Event
	for _, ev := range events {
		if ev.ID == *lastSeen {
			break
		}
		fresh = append(fresh, ev)
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		ev := fresh[i]
		fmt.Printf("[%s] %s\n", ev.Timestamp.Format("15:04:05"), ev.Message)
	}

	if len(events) > 0 {
		*lastSeen = events[0].ID
	}
}

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/costlens/costlens/internal/api"
	"github.com/costlens/costlens/internal/session"
)

type Globals struct {
	Debug   bool
	Version string
}

// newSession wires an API client and a session manager against the
// default on-disk store. The manager is hydrated before returning, so
// callers see any remembered session immediately.
func newSession(server string) (*session.Manager, *api.Client, error) {
	path, err := session.DefaultFileStorePath()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to locate session store: %w", err)
	}

	cacheDir := filepath.Join(filepath.Dir(path), "cache")
	client := api.New(server, api.WithHTTPClient(api.NewCachingHTTPClient(cacheDir)))

	durable, err := session.NewFileStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}

	manager := session.NewManager(client, durable, session.NewMemStore())
	client.SetTokenSource(manager)

	if err := manager.Hydrate(); err != nil {
		return nil, nil, fmt.Errorf("failed to restore session: %w", err)
	}

	return manager, client, nil
}

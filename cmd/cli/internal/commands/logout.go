package commands

import (
	"context"
	"fmt"
)

// LogoutCmd discards the stored session.
type LogoutCmd struct {
	Server string `help:"Server URL" default:"http://localhost:8989"`
}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	manager, _, err := newSession(l.Server)
	if err != nil {
		return err
	}

	manager.Logout()
	fmt.Println("Signed out.")
	return nil
}

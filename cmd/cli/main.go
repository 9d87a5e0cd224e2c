package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/costlens/costlens/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login   commands.LoginCmd  `cmd:"" help:"Sign in and store a session"`
		Logout  commands.LogoutCmd `cmd:"" help:"Discard the stored session"`
		Whoami  commands.WhoamiCmd `cmd:"" help:"Show the signed-in identity"`
		Watch   commands.WatchCmd  `cmd:"" help:"Stream live tenant activity"`
		Debug   bool               `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}

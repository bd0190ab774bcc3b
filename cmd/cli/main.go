package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/protomake/pulse/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Submit  commands.SubmitCmd `cmd:"" help:"Submit a generation job"`
		Status  commands.StatusCmd `cmd:"" help:"Poll a job's status"`
		List    commands.ListCmd   `cmd:"" help:"List a project's jobs"`
		Watch   commands.WatchCmd  `cmd:"" help:"Watch a project's completion events"`
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

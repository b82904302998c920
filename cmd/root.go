package cmd

import (
	"context"
	"log/slog"

	"github.com/olimci/tenkai/pkg/version"
	"github.com/urfave/cli/v3"
)

// Commands:
// install
//   (initialises the local store)
//
// deploy <target>:
//   creates a release on target, runs the manifest steps inside it and
//   switches current to it; any failure before the switch undoes the release
//
// releases <target>
//   lists releases on target and marks the live one
//
// rollback <target>
//   points current back at the previous release (--discard removes the
//   release rolled back from)
//
// cleanup <target>
//   removes old releases beyond the keep limit
//
// history, status, unlock, tidy, validate, uninstall

func Execute(ctx context.Context, args []string) error {
	app := &cli.Command{
		Name:    "tenkai",
		Usage:   "transactional release deployer",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log every command and rollback step",
			},
			&cli.StringFlag{
				Name:    "manifest",
				Aliases: []string{"m"},
				Value:   ".",
				Usage:   "manifest file or project directory",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			slog.SetDefault(newLogger(cmd))
			return ctx, nil
		},
		Commands: []*cli.Command{
			installCommand(),
			deployCommand(),
			releasesCommand(),
			rollbackCommand(),
			cleanupCommand(),
			historyCommand(),
			statusCommand(),
			unlockCommand(),
			tidyCommand(),
			validateCommand(),
			uninstallCommand(),
			versionCommand(),
		},
	}

	return app.Run(ctx, args)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func uninstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "uninstall",
		Usage: "remove the local tenkai store",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "uninstall even while targets are locked",
			},
		},
		Action: uninstallAction,
	}
}

func uninstallAction(_ context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()

	if len(args) > 0 {
		return fmt.Errorf("uninstall does not accept arguments")
	}

	store, err := installedStore()
	if err != nil {
		return err
	}

	if err := store.Uninstall(cmd.Bool("force")); err != nil {
		return err
	}

	printOK("uninstalled tenkai store from %s", store.Root)
	return nil
}

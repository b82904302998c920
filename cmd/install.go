package cmd

import (
	"context"
	"errors"
	"fmt"

	storepkg "github.com/olimci/tenkai/pkg/store"
	"github.com/urfave/cli/v3"
)

func installCommand() *cli.Command {
	return &cli.Command{
		Name:   "install",
		Usage:  "create the local store for settings, deploy locks and history",
		Action: installAction,
	}
}

// installAction creates the store with default settings. Other commands
// install it on first use; install only makes that explicit.
func installAction(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() > 0 {
		return fmt.Errorf("install does not accept arguments")
	}

	store, err := storepkg.DefaultStore()
	if err != nil {
		return err
	}

	if err := store.Install(); err != nil {
		if errors.Is(err, storepkg.ErrAlreadyInstalled) {
			return fmt.Errorf("%w in %s (see `tenkai status`)", err, store.Root)
		}
		return err
	}

	cfg, err := store.LoadConfig()
	if err != nil {
		return err
	}

	printOK("created store in %s", store.Root)
	printDetail("config", store.ConfigPath())
	printDetail("locks", store.LocksPath())
	printDetail("history", store.HistoryPath())
	printDetail("keep", cfg.Options.Keep)
	printDetail("timeout", cfg.Options.CommandTimeout)
	return nil
}

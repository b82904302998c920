package cmd

import (
	"context"

	"github.com/urfave/cli/v3"
)

func unlockCommand() *cli.Command {
	return &cli.Command{
		Name:      "unlock",
		Usage:     "remove a target's deploy lock left by an interrupted run",
		ArgsUsage: "<target>",
		Action:    unlockAction,
	}
}

func unlockAction(_ context.Context, cmd *cli.Command) error {
	target, err := targetArg(cmd)
	if err != nil {
		return err
	}

	store, err := installedStore()
	if err != nil {
		return err
	}

	holder, err := store.ForceUnlock(target)
	if err != nil {
		return err
	}

	printOK("unlocked %s", target)
	if holder.RunID != "" {
		printDetail("run", holder.RunID)
		printDetail("pid", holder.PID)
	}
	return nil
}

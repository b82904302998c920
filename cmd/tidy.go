package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func tidyCommand() *cli.Command {
	return &cli.Command{
		Name:   "tidy",
		Usage:  "remove stale locks and trim history",
		Action: tidyAction,
	}
}

func tidyAction(_ context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) > 0 {
		return fmt.Errorf("tidy does not accept arguments")
	}

	store, err := installedStore()
	if err != nil {
		return err
	}

	res, err := store.Tidy()
	if err != nil {
		return err
	}

	printOK("tidied store (%d stale lock(s), %d history entr(ies) removed)", len(res.RemovedLocks), res.TrimmedHistory)
	if isVerbose(cmd) {
		for _, lck := range res.RemovedLocks {
			printDetail("unlocked", lck.Target)
		}
	}
	return nil
}

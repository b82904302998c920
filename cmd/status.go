package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show store settings, locks and the last operation per target",
		Action: statusAction,
	}
}

func statusAction(_ context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) > 0 {
		return fmt.Errorf("status does not accept arguments")
	}

	store, err := installedStore()
	if err != nil {
		return err
	}

	snapshot, err := store.Status()
	if err != nil {
		return err
	}

	printTitle("Store")
	printDetail("root", snapshot.Root)
	printDetail("keep", snapshot.Config.Options.Keep)
	printDetail("timeout", snapshot.Config.Options.CommandTimeout)
	printDetail("history", fmt.Sprintf("%d/%d", snapshot.HistoryEntries, snapshot.Config.Options.HistoryLimit))

	fmt.Println()
	printTitle("Locks")
	if len(snapshot.Locks) == 0 {
		printNone()
	}
	for _, lck := range snapshot.Locks {
		fmt.Printf("  %s %s (%s, pid %d on %s since %s)\n",
			warnStyle.Render("locked"), lck.Target, lck.Command, lck.PID, lck.Hostname,
			lck.Acquired.Local().Format(time.DateTime))
	}

	fmt.Println()
	printTitle("Targets")
	if len(snapshot.Targets) == 0 {
		printNone()
	}
	for _, ts := range snapshot.Targets {
		live := ts.LastLive
		if live == "" {
			live = "-"
		}
		fmt.Printf("  %-10s live %s, last %s (%d operation(s))\n",
			ts.Target, liveStyle.Render(live), ts.Last.Status, ts.Operations)
	}

	return nil
}

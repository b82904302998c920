package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/olimci/tenkai/pkg/store/history"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "show recorded operations",
		ArgsUsage: "[target]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "number of entries to show",
			},
		},
		Action: historyAction,
	}
}

func historyAction(_ context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) > 1 {
		return fmt.Errorf("history accepts at most one target argument")
	}
	target := cmd.Args().First()

	store, err := installedStore()
	if err != nil {
		return err
	}

	h, err := store.LoadHistory()
	if err != nil {
		return err
	}

	entries := h.ForTarget(target)
	if limit := int(cmd.Int("limit")); limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	printTitle("History")
	if len(entries) == 0 {
		printNone()
		return nil
	}
	for i := len(entries) - 1; i >= 0; i-- {
		printEntry(entries[i], isVerbose(cmd))
	}
	return nil
}

func printEntry(e history.Entry, verbose bool) {
	status := string(e.Status)
	switch e.Status {
	case history.StatusCommitted, history.StatusCleaned:
		status = okStyle.Render(status)
	case history.StatusRolledBack, history.StatusReverted:
		status = warnStyle.Render(status)
	case history.StatusIncomplete:
		status = errStyle.Render(status)
	}

	fmt.Printf("  %s  %-8s %s %s\n",
		dimStyle.Render(e.Started.Local().Format(time.DateTime)),
		e.Target, status, describeEntry(e))

	if verbose {
		printDetail("run", e.ID)
		printDetail("host", e.Host)
		printDetail("took", e.Duration().Round(time.Millisecond))
	}
	if e.Error != "" {
		printDetail("error", e.Error)
	}
}

func describeEntry(e history.Entry) string {
	switch e.Status {
	case history.StatusReverted:
		return fmt.Sprintf("%s -> %s", e.Release, e.Previous)
	case history.StatusCleaned:
		return fmt.Sprintf("%d release(s) removed", len(e.Removed))
	default:
		return e.Release
	}
}

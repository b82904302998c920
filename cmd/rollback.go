package cmd

import (
	"context"

	"github.com/urfave/cli/v3"
)

func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Usage:     "point a target back at its previous release",
		ArgsUsage: "<target>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "discard",
				Usage: "remove the release rolled back from",
			},
		},
		Action: rollbackAction,
	}
}

func rollbackAction(ctx context.Context, cmd *cli.Command) error {
	target, err := targetArg(cmd)
	if err != nil {
		return err
	}

	d, m, err := newDeployer(cmd)
	if err != nil {
		return err
	}

	res, err := d.Rollback(ctx, m, target, cmd.Bool("discard"))
	if err != nil {
		if res.Previous != "" {
			printWarn("%s now points at %s", res.Target, res.Previous)
		}
		return err
	}

	printOK("rolled %s back from %s to %s", res.Target, res.Release, liveStyle.Render(res.Previous))
	if len(res.Removed) > 0 {
		printDetail("discarded", res.Removed[0])
	}
	return nil
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:      "cleanup",
		Usage:     "remove old releases from a target",
		ArgsUsage: "<target>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "keep",
				Usage: "number of releases to keep (default: target or config setting)",
			},
		},
		Action: cleanupAction,
	}
}

func cleanupAction(ctx context.Context, cmd *cli.Command) error {
	target, err := targetArg(cmd)
	if err != nil {
		return err
	}

	d, m, err := newDeployer(cmd)
	if err != nil {
		return err
	}

	res, err := d.Cleanup(ctx, m, target, int(cmd.Int("keep")))
	if err != nil {
		return err
	}

	printOK("removed %d release(s) from %s", len(res.Removed), target)
	if isVerbose(cmd) {
		for _, name := range res.Removed {
			printDetail("removed", name)
		}
	}
	for name, ferr := range res.Failed {
		printWarn("could not remove %s: %v", name, ferr)
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/olimci/tenkai/pkg/release"
	"github.com/urfave/cli/v3"
)

func deployCommand() *cli.Command {
	return &cli.Command{
		Name:      "deploy",
		Usage:     "create a release on a target and make it live",
		ArgsUsage: "<target>",
		Action:    deployAction,
	}
}

func deployAction(ctx context.Context, cmd *cli.Command) error {
	target, err := targetArg(cmd)
	if err != nil {
		return err
	}

	d, m, err := newDeployer(cmd)
	if err != nil {
		return err
	}

	res, err := d.Deploy(ctx, m, target)
	if err != nil {
		rbErr := release.RollbackErr(err)
		switch {
		case rbErr != nil:
			printWarn("rollback of %s did not finish cleanly: %v", res.Release, rbErr)
		case res.Release != "":
			printWarn("release %s on %s was rolled back", res.Release, res.Target)
		}
		return err
	}

	printOK("deployed %s to %s (%d step(s))", liveStyle.Render(res.Release), res.Target, res.Steps)
	if isVerbose(cmd) {
		printDetail("run", res.RunID)
		printDetail("host", res.Host)
		if res.Previous != "" {
			printDetail("previous", res.Previous)
		}
	}
	return nil
}

func releasesCommand() *cli.Command {
	return &cli.Command{
		Name:      "releases",
		Aliases:   []string{"ls"},
		Usage:     "list releases on a target",
		ArgsUsage: "<target>",
		Action:    releasesAction,
	}
}

func releasesAction(ctx context.Context, cmd *cli.Command) error {
	target, err := targetArg(cmd)
	if err != nil {
		return err
	}

	d, m, err := newDeployer(cmd)
	if err != nil {
		return err
	}

	infos, err := d.Releases(ctx, m, target)
	if err != nil {
		return err
	}

	printTitle(fmt.Sprintf("Releases on %s", target))
	if len(infos) == 0 {
		printNone()
		return nil
	}
	for _, info := range infos {
		if info.Current {
			fmt.Printf("  %s %s\n", liveStyle.Render("*"), liveStyle.Render(info.Name))
			continue
		}
		fmt.Printf("    %s\n", info.Name)
	}
	return nil
}

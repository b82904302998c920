package cmd

import (
	"context"
	"fmt"

	"github.com/olimci/tenkai/pkg/version"
	"github.com/urfave/cli/v3"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "show version",
		Action:  versionAction,
	}
}

func versionAction(_ context.Context, cmd *cli.Command) error {
	if rev := version.Revision(); rev != "" {
		fmt.Printf("tenkai version %s (%s)\n", version.Version, rev)
		return nil
	}
	fmt.Printf("tenkai version %s\n", version.Version)
	return nil
}

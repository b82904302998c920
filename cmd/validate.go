package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/olimci/tenkai/pkg/manifest"
	"github.com/olimci/tenkai/pkg/store"
	"github.com/urfave/cli/v3"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "check a deploy manifest without contacting any target",
		ArgsUsage: "[manifest]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "tree",
				Usage: "print the resolved import tree",
			},
		},
		Action: validateAction,
	}
}

func validateAction(_ context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	source := ""

	if len(args) > 1 {
		return fmt.Errorf("validate accepts at most one optional manifest argument")
	}
	if len(args) == 1 {
		source = args[0]
	} else {
		source = manifestSource(cmd)
	}

	s, err := store.DefaultStore()
	if err != nil {
		return err
	}

	res, err := s.Validate(source)
	if err != nil {
		return err
	}

	printOK("validated %s (%d target(s), %d step(s))", res.ProjectName, res.Summary.Targets, res.Summary.Steps)
	if cmd.Bool("tree") {
		printTitle("Imports")
		printImportTree(res.ImportTree, res.SourceDir, 0, true)
	}
	return nil
}

// printImportTree prints tree depth-first, one manifest per line.
func printImportTree(tree manifest.ImportTree, sourceDir string, depth int, last bool) {
	indent := strings.Repeat("   ", depth)
	branch := ""
	if depth > 0 {
		branch = "+- "
		if last {
			branch = "`- "
		}
	}
	fmt.Printf("  %s%s%s\n", indent, dimStyle.Render(branch), relativeLabel(tree.Path, sourceDir))

	for i, child := range tree.Imports {
		printImportTree(child, sourceDir, depth+1, i == len(tree.Imports)-1)
	}
}

// relativeLabel shows path relative to sourceDir when it lies inside it.
func relativeLabel(path, sourceDir string) string {
	rel, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return path
	}
	rel = filepath.ToSlash(rel)
	switch {
	case rel == ".":
		return filepath.Base(path)
	case rel == ".." || strings.HasPrefix(rel, "../"):
		return path
	default:
		return rel
	}
}

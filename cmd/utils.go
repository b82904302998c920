package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/olimci/tenkai/pkg/deploy"
	"github.com/olimci/tenkai/pkg/manifest"
	storepkg "github.com/olimci/tenkai/pkg/store"
	"github.com/olimci/tenkai/pkg/version"
	"github.com/urfave/cli/v3"
)

func manifestSource(cmd *cli.Command) string {
	if cmd == nil {
		return "."
	}
	if source := strings.TrimSpace(cmd.String("manifest")); source != "" {
		return source
	}
	root := cmd.Root()
	if root != nil {
		if source := strings.TrimSpace(root.String("manifest")); source != "" {
			return source
		}
	}
	return "."
}

func loadManifest(cmd *cli.Command) (manifest.Manifest, error) {
	m, _, err := manifest.Load(manifestSource(cmd))
	if err != nil {
		return manifest.Manifest{}, err
	}
	if err := version.EnsureCompatible(m.Tenkai.Version); err != nil {
		return manifest.Manifest{}, fmt.Errorf("unsupported manifest version %q: %w", m.Tenkai.Version, err)
	}
	if _, err := m.Validate(); err != nil {
		return manifest.Manifest{}, fmt.Errorf("invalid manifest: %w", err)
	}
	return m, nil
}

// newDeployer loads the store, config and manifest for a target command.
// The store is installed on first use.
func newDeployer(cmd *cli.Command) (deploy.Deployer, manifest.Manifest, error) {
	store, err := storepkg.DefaultStore()
	if err != nil {
		return deploy.Deployer{}, manifest.Manifest{}, err
	}
	if err := store.EnsureInstalled(); err != nil {
		return deploy.Deployer{}, manifest.Manifest{}, err
	}
	cfg, err := store.LoadConfig()
	if err != nil {
		return deploy.Deployer{}, manifest.Manifest{}, err
	}

	m, err := loadManifest(cmd)
	if err != nil {
		return deploy.Deployer{}, manifest.Manifest{}, err
	}

	return deploy.Deployer{
		Store:  store,
		Config: cfg,
		Logger: slog.Default(),
	}, m, nil
}

func targetArg(cmd *cli.Command) (string, error) {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return "", fmt.Errorf("%s requires a target argument", cmd.Name)
	}
	if len(args) > 1 {
		return "", fmt.Errorf("%s accepts exactly one target argument", cmd.Name)
	}
	return args[0], nil
}

func installedStore() (storepkg.Store, error) {
	store, err := storepkg.DefaultStore()
	if err != nil {
		return storepkg.Store{}, err
	}
	if !store.IsInstalled() {
		return storepkg.Store{}, storepkg.ErrNotInstalled
	}
	return store, nil
}

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/olimci/tenkai/pkg/store/config"
	"github.com/olimci/tenkai/pkg/utils/fileutils"
	"github.com/olimci/tenkai/pkg/version"
)

const (
	dirName     = "tenkai"
	configFile  = "config.toml"
	historyFile = "history.json"
	locksDir    = "locks"

	defaultKeep           = 5
	defaultCommandTimeout = 10 * time.Minute
	defaultHistoryLimit   = 200
)

var (
	ErrAlreadyInstalled = errors.New("tenkai is already installed")
	ErrNotInstalled     = errors.New("tenkai is not installed")
)

// Store points to local store files.
type Store struct {
	Root string

	overrides Overrides
}

// DefaultStore resolves the store from the environment, falling back to the
// user config directory.
func DefaultStore() (Store, error) {
	overrides, err := LoadOverrides()
	if err != nil {
		return Store{}, err
	}
	return StoreFor(overrides)
}

// StoreFor resolves the store for an explicit set of overrides.
func StoreFor(overrides Overrides) (Store, error) {
	if customRoot := strings.TrimSpace(overrides.StoreDir); customRoot != "" {
		absRoot, err := filepath.Abs(customRoot)
		if err != nil {
			return Store{}, fmt.Errorf("resolve %s: %w", envStoreDir, err)
		}
		return Store{Root: absRoot, overrides: overrides}, nil
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return Store{}, fmt.Errorf("resolve user config directory: %w", err)
	}

	return Store{Root: filepath.Join(cfgDir, dirName), overrides: overrides}, nil
}

func (s Store) ConfigPath() string {
	return filepath.Join(s.Root, configFile)
}

func (s Store) HistoryPath() string {
	return filepath.Join(s.Root, historyFile)
}

func (s Store) LocksPath() string {
	return filepath.Join(s.Root, locksDir)
}

func (s Store) IsInstalled() bool {
	if _, err := os.Stat(s.ConfigPath()); err != nil {
		return false
	}
	if info, err := os.Stat(s.LocksPath()); err != nil || !info.IsDir() {
		return false
	}
	return true
}

func DefaultConfig() config.Config {
	return config.Config{
		Tenkai: config.Tenkai{
			Version: version.Version,
		},
		Options: config.Options{
			Keep:           defaultKeep,
			CommandTimeout: config.Duration{Duration: defaultCommandTimeout},
			HistoryLimit:   defaultHistoryLimit,
		},
	}
}

// Install initializes store and fails if store already exists.
func (s Store) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	_, err := s.installMissing()
	return err
}

// EnsureInstalled initializes store if missing.
func (s Store) EnsureInstalled() error {
	_, err := s.installMissing()
	return err
}

// installMissing creates store directories and any missing store files.
func (s Store) installMissing() (bool, error) {
	if err := os.MkdirAll(s.LocksPath(), 0o755); err != nil {
		return false, fmt.Errorf("create store directories: %w", err)
	}

	return ensureDefaultConfig(s.ConfigPath())
}

// Uninstall removes the store. It refuses while any target is locked.
func (s Store) Uninstall(force bool) error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	if !force {
		locks, err := s.Locks()
		if err != nil {
			return err
		}
		if len(locks) > 0 {
			return fmt.Errorf("%w: %s", ErrLocked, locks[0].Target)
		}
	}

	return fileutils.RemovePath(s.Root)
}

// LoadConfig reads config.toml and applies environment overrides. A missing
// file yields the defaults.
func (s Store) LoadConfig() (config.Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(s.ConfigPath()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, fmt.Errorf("stat %s: %w", s.ConfigPath(), err)
		}
	} else if _, err := toml.DecodeFile(s.ConfigPath(), &cfg); err != nil {
		return config.Config{}, fmt.Errorf("decode %s: %w", s.ConfigPath(), err)
	}

	if cfg.Tenkai.Version == "" {
		cfg.Tenkai.Version = version.Version
	}
	if err := version.EnsureCompatible(cfg.Tenkai.Version); err != nil {
		return config.Config{}, fmt.Errorf("unsupported config version %q: %w", cfg.Tenkai.Version, err)
	}
	if cfg.Options.Keep < 1 {
		return config.Config{}, fmt.Errorf("decode %s: options.keep must be at least 1", s.ConfigPath())
	}

	s.overrides.Apply(&cfg)
	return cfg, nil
}

func (s Store) SaveConfig(cfg config.Config) error {
	if cfg.Tenkai.Version == "" {
		cfg.Tenkai.Version = version.Version
	}
	return writeTOML(s.ConfigPath(), cfg)
}

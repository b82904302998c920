package store

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/olimci/tenkai/pkg/store/config"
)

const envStoreDir = "TENKAI_STORE_DIR"

// Overrides are settings taken from the environment. They win over
// config.toml.
type Overrides struct {
	StoreDir       string        `env:"TENKAI_STORE_DIR"`
	KeyFile        string        `env:"TENKAI_SSH_KEY"`
	KnownHosts     string        `env:"TENKAI_KNOWN_HOSTS"`
	CommandTimeout time.Duration `env:"TENKAI_COMMAND_TIMEOUT"`
	HistoryLimit   int           `env:"TENKAI_HISTORY_LIMIT"`
}

// LoadOverrides reads overrides from the process environment.
func LoadOverrides() (Overrides, error) {
	return parseOverrides(env.Options{})
}

// OverridesFrom reads overrides from an explicit environment.
func OverridesFrom(environ map[string]string) (Overrides, error) {
	return parseOverrides(env.Options{Environment: environ})
}

func parseOverrides(opts env.Options) (Overrides, error) {
	var o Overrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return Overrides{}, fmt.Errorf("parse environment: %w", err)
	}
	return o, nil
}

func (o Overrides) Apply(cfg *config.Config) {
	if o.KeyFile != "" {
		cfg.Options.KeyFile = o.KeyFile
	}
	if o.KnownHosts != "" {
		cfg.Options.KnownHosts = o.KnownHosts
	}
	if o.CommandTimeout > 0 {
		cfg.Options.CommandTimeout = config.Duration{Duration: o.CommandTimeout}
	}
	if o.HistoryLimit > 0 {
		cfg.Options.HistoryLimit = o.HistoryLimit
	}
}

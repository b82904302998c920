package config

import (
	"fmt"
	"time"
)

type Config struct {
	Tenkai  Tenkai  `toml:"tenkai"`  // Application metadata
	Options Options `toml:"options"` // Application options
}

type Tenkai struct {
	Version string `toml:"version"` // Application version
}

type Options struct {
	Keep           int      `toml:"keep"`            // releases kept per target unless the manifest says otherwise
	CommandTimeout Duration `toml:"command_timeout"` // upper bound for a single remote command
	KeyFile        string   `toml:"key_file"`        // default ssh private key, agent is used when empty
	KnownHosts     string   `toml:"known_hosts"`     // known_hosts file for host key checks
	HistoryLimit   int      `toml:"history_limit"`   // deploy records kept in history.json
}

// Duration is a time.Duration stored as text, e.g. "10m".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

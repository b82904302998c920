package manifest

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/olimci/tenkai/pkg/remote"
)

var ErrUnknownTarget = errors.New("unknown target")

// Manifest describes how a project is deployed
type Manifest struct {
	Tenkai  Tenkai  `toml:"tenkai" yaml:"tenkai"`   // application metadata
	Project Project `toml:"project" yaml:"project"` // project metadata

	Imports []Import `toml:"import" yaml:"import"`
	Targets []Target `toml:"target" yaml:"target"`
	Steps   []Step   `toml:"step" yaml:"step"`
}

type Tenkai struct {
	Version string `toml:"version" yaml:"version"` // minimum tenkai version
}

type Project struct {
	Name        string `toml:"name" yaml:"name"`
	Description string `toml:"description" yaml:"description"`
}

type Import struct {
	Path string `toml:"path" yaml:"path"`
}

// Target is one release tree on one host.
type Target struct {
	Name     string   `toml:"name" yaml:"name"`
	Host     string   `toml:"host" yaml:"host"` // user@host:port, empty or "local" for this machine
	BasePath string   `toml:"base_path" yaml:"base_path"`
	Shared   []string `toml:"shared" yaml:"shared"` // nil keeps the default shared dirs
	Keep     *int     `toml:"keep,omitempty" yaml:"keep,omitempty"`

	KeyFile    string `toml:"key_file" yaml:"key_file"`
	KnownHosts string `toml:"known_hosts" yaml:"known_hosts"`
	Insecure   bool   `toml:"insecure" yaml:"insecure"`
}

// Step is a shell command run inside each new release.
type Step struct {
	Name    string   `toml:"name" yaml:"name"`
	Run     string   `toml:"run" yaml:"run"`
	Undo    string   `toml:"undo" yaml:"undo"`       // run if a later step fails
	Targets []string `toml:"targets" yaml:"targets"` // empty means every target
}

func (m *Manifest) Merge(other Manifest) {
	if version := strings.TrimSpace(other.Tenkai.Version); version != "" {
		m.Tenkai.Version = version
	}
	if name := strings.TrimSpace(other.Project.Name); name != "" {
		m.Project.Name = name
	}
	if description := strings.TrimSpace(other.Project.Description); description != "" {
		m.Project.Description = description
	}

	m.Targets = append(m.Targets, other.Targets...)
	m.Steps = append(m.Steps, other.Steps...)
}

// Target looks up a target by name.
func (m Manifest) Target(name string) (Target, error) {
	for _, target := range m.Targets {
		if strings.EqualFold(target.Name, name) {
			return target, nil
		}
	}
	return Target{}, fmt.Errorf("%w %q", ErrUnknownTarget, name)
}

// StepsFor returns the steps that apply to target, in manifest order.
func (m Manifest) StepsFor(target string) []Step {
	var steps []Step
	for _, step := range m.Steps {
		if step.AppliesTo(target) {
			steps = append(steps, step)
		}
	}
	return steps
}

func (s Step) AppliesTo(target string) bool {
	return matchConstraint(s.Targets, target)
}

func (s Step) Label() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return strings.TrimSpace(s.Run)
}

func matchConstraint(values []string, target string) bool {
	if len(values) == 0 {
		return true
	}
	normalizedTarget := strings.ToLower(strings.TrimSpace(target))
	for _, raw := range values {
		value := strings.ToLower(strings.TrimSpace(raw))
		if value == "" {
			continue
		}
		if value == normalizedTarget {
			return true
		}
	}
	return false
}

// Summary counts what a manifest declares.
type Summary struct {
	Targets int
	Steps   int
}

// Validate checks the merged manifest for problems that would only show up
// halfway through a deploy.
func (m Manifest) Validate() (Summary, error) {
	var errs []error

	names := make(map[string]struct{}, len(m.Targets))
	for i, target := range m.Targets {
		label := fmt.Sprintf("target %d", i)
		if target.Name != "" {
			label = fmt.Sprintf("target %q", target.Name)
		}

		if strings.TrimSpace(target.Name) == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else if _, dup := names[strings.ToLower(target.Name)]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate target name", label))
		}
		names[strings.ToLower(target.Name)] = struct{}{}

		if _, err := remote.ParseHost(target.Host); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
		base := strings.TrimSpace(target.BasePath)
		if !path.IsAbs(base) || path.Clean(base) == "/" {
			errs = append(errs, fmt.Errorf("%s: base_path must be an absolute path below /", label))
		}
		if target.Keep != nil && *target.Keep < 1 {
			errs = append(errs, fmt.Errorf("%s: keep must be at least 1", label))
		}
	}

	for i, step := range m.Steps {
		if strings.TrimSpace(step.Run) == "" {
			errs = append(errs, fmt.Errorf("step %d: run is required", i))
		}
		for _, name := range step.Targets {
			if _, ok := names[strings.ToLower(strings.TrimSpace(name))]; !ok {
				errs = append(errs, fmt.Errorf("step %d: %w %q", i, ErrUnknownTarget, name))
			}
		}
	}

	return Summary{Targets: len(m.Targets), Steps: len(m.Steps)}, errors.Join(errs...)
}

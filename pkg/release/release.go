// Package release lays out a Capistrano-style release tree on a target host
// and switches the live release atomically:
//
//	base/
//	  current -> releases/2013-01-03.120000.000000
//	  releases/
//	    2013-01-03.120000.000000/
//	      log -> ../../shared/log
//	  shared/
//	    log/
//
// Creating a release is transactional. The new release directory is removed
// again unless the release reaches Symlink, which is the commit point.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/olimci/tenkai/pkg/remote"
	"github.com/olimci/tenkai/pkg/transaction"
)

const (
	releasesDir = "releases"
	sharedDir   = "shared"
	currentLink = "current"

	DefaultKeep = 5
)

var DefaultShared = []string{"log"}

var (
	ErrReleaseInProgress = errors.New("a release is already in progress")
	ErrNoStagedRelease   = errors.New("no release in progress")
	ErrNoCurrentRelease  = errors.New("no current release")
	ErrNoPreviousRelease = errors.New("no previous release found")
)

// State is the position of a Release in its creation cycle.
type State int

const (
	StateIdle State = iota
	StateSkeletonReady
	StateCreated
	StateLinked
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSkeletonReady:
		return "skeleton-ready"
	case StateCreated:
		return "created"
	case StateLinked:
		return "linked"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Option func(*Release)

// WithShared replaces the shared directories linked into every release.
func WithShared(names []string) Option {
	return func(r *Release) {
		r.shared = append([]string(nil), names...)
	}
}

// WithKeep sets how many releases Cleanup retains.
func WithKeep(keep int) Option {
	return func(r *Release) {
		r.keep = keep
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Release) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Release) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Release manages the release tree under one base path. It drives at most
// one release creation at a time and is not safe for concurrent use.
type Release struct {
	basePath string
	shared   []string
	keep     int
	exec     remote.Executor
	tx       *transaction.Transaction
	now      func() time.Time
	logger   *slog.Logger

	state    State
	staged   string
	lastName time.Time
}

func New(basePath string, exec remote.Executor, opts ...Option) (*Release, error) {
	if exec == nil {
		return nil, fmt.Errorf("release: executor is required")
	}

	clean := path.Clean(strings.TrimSpace(basePath))
	if !path.IsAbs(clean) {
		return nil, fmt.Errorf("release: base path must be absolute: %q", basePath)
	}
	if clean == "/" {
		return nil, fmt.Errorf("release: refusing to use / as base path")
	}

	r := &Release{
		basePath: clean,
		shared:   append([]string(nil), DefaultShared...),
		keep:     DefaultKeep,
		exec:     exec,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.keep < 1 {
		return nil, fmt.Errorf("release: keep must be at least 1, got %d", r.keep)
	}
	if err := validateShared(r.shared); err != nil {
		return nil, fmt.Errorf("release: %w", err)
	}

	r.logger = r.logger.With("component", "release", "base", r.basePath)
	r.tx = transaction.New(exec, transaction.WithLogger(r.logger))
	return r, nil
}

func validateShared(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
			return fmt.Errorf("invalid shared directory name %q", name)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate shared directory %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (r *Release) BasePath() string     { return r.basePath }
func (r *Release) ReleasesPath() string { return path.Join(r.basePath, releasesDir) }
func (r *Release) SharedPath() string   { return path.Join(r.basePath, sharedDir) }
func (r *Release) CurrentPath() string  { return path.Join(r.basePath, currentLink) }

func (r *Release) ReleasePath(name string) string {
	return path.Join(r.ReleasesPath(), name)
}

func (r *Release) Shared() []string {
	return append([]string(nil), r.shared...)
}

func (r *Release) Keep() int {
	return r.keep
}

func (r *Release) State() State {
	return r.state
}

// Staged returns the name of the release being created, if any.
func (r *Release) Staged() string {
	return r.staged
}

// Transaction exposes the embedded transaction so deployment steps can arm
// their own undo actions for the release in progress.
func (r *Release) Transaction() *transaction.Transaction {
	return r.tx
}

// Env is the working context handed to deployment steps. Commands run
// through Env execute inside the release directory.
type Env struct {
	BasePath    string
	ReleaseName string
	ReleasePath string
	SharedPath  string

	exec remote.Executor
	tx   *transaction.Transaction
}

// Run executes command with the release directory as working directory.
func (e Env) Run(ctx context.Context, command string) (string, error) {
	return e.exec.Run(ctx, "cd "+remote.Quote(e.ReleasePath)+" && "+command)
}

// OnRollback arms an undo action that runs if the release is rolled back.
func (e Env) OnRollback(action transaction.Action) {
	e.tx.OnRollback(action)
}

func (r *Release) env() Env {
	return Env{
		BasePath:    r.basePath,
		ReleaseName: r.staged,
		ReleasePath: r.ReleasePath(r.staged),
		SharedPath:  r.SharedPath(),
		exec:        r.exec,
		tx:          r.tx,
	}
}

// Package deploy runs manifest steps against a target through a release
// tree, serialising operations per target with the local store lock and
// recording every outcome in the store history.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olimci/tenkai/pkg/manifest"
	"github.com/olimci/tenkai/pkg/release"
	"github.com/olimci/tenkai/pkg/remote"
	"github.com/olimci/tenkai/pkg/store"
	"github.com/olimci/tenkai/pkg/store/config"
	"github.com/olimci/tenkai/pkg/store/history"
	"github.com/olimci/tenkai/pkg/store/lock"
	"github.com/olimci/tenkai/pkg/transaction"
)

// Dialer opens a connection to a target host.
type Dialer func(ctx context.Context, cfg remote.SSHConfig) (remote.Conn, error)

type Deployer struct {
	Store  store.Store
	Config config.Config
	Dial   Dialer
	Logger *slog.Logger

	// Now and Clock default to time.Now. Clock names new releases.
	Now   func() time.Time
	Clock func() time.Time
}

// Result describes one finished operation.
type Result struct {
	RunID    string
	Target   string
	Host     string
	Status   history.Status
	Release  string
	Previous string
	Steps    int
	Removed  []string
}

// ReleaseInfo is one entry of a target's release listing.
type ReleaseInfo struct {
	Name    string
	Current bool
	Created time.Time
}

// StepError reports the manifest step that failed.
type StepError struct {
	Step manifest.Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step.Label(), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// session is an open target: its connection and release tree.
type session struct {
	target  manifest.Target
	host    remote.Host
	conn    remote.Conn
	release *release.Release
	logger  *slog.Logger
}

func (s *session) close() {
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("close connection", "error", err)
	}
}

func (d Deployer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deployer) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deployer) keep(target manifest.Target) int {
	if target.Keep != nil {
		return *target.Keep
	}
	if d.Config.Options.Keep > 0 {
		return d.Config.Options.Keep
	}
	return release.DefaultKeep
}

func (d Deployer) open(ctx context.Context, m manifest.Manifest, name string, keep int) (*session, error) {
	target, err := m.Target(name)
	if err != nil {
		return nil, err
	}
	host, err := remote.ParseHost(target.Host)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target.Name, err)
	}

	cfg := remote.SSHConfig{
		Host:       host,
		KeyFile:    firstNonEmpty(target.KeyFile, d.Config.Options.KeyFile),
		KnownHosts: firstNonEmpty(target.KnownHosts, d.Config.Options.KnownHosts),
		Insecure:   target.Insecure,
		Timeout:    d.Config.Options.CommandTimeout.Duration,
	}

	dial := d.Dial
	if dial == nil {
		dial = remote.Dial
	}
	conn, err := dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", host, err)
	}

	logger := d.logger().With("target", target.Name, "host", host.String())

	if keep <= 0 {
		keep = d.keep(target)
	}
	opts := []release.Option{
		release.WithKeep(keep),
		release.WithLogger(logger),
	}
	if target.Shared != nil {
		opts = append(opts, release.WithShared(target.Shared))
	}
	if d.Clock != nil {
		opts = append(opts, release.WithClock(d.Clock))
	}

	rel, err := release.New(target.BasePath, conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("target %s: %w", target.Name, err)
	}

	return &session{target: target, host: host, conn: conn, release: rel, logger: logger}, nil
}

func (d Deployer) lock(target, runID, command string) (func(), error) {
	unlock, err := d.Store.AcquireLock(lock.Lock{Target: target, RunID: runID, Command: command})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := unlock(); err != nil {
			d.logger().Warn("release lock", "target", target, "error", err)
		}
	}, nil
}

func (d Deployer) record(entry history.Entry) {
	if err := d.Store.AppendHistory(entry, d.Config.Options.HistoryLimit); err != nil {
		d.logger().Warn("record history", "target", entry.Target, "error", err)
	}
}

// Deploy creates a new release on target, runs the target's steps inside
// it and makes it live. On failure the release is undone and the target
// keeps its previous release.
func (d Deployer) Deploy(ctx context.Context, m manifest.Manifest, targetName string) (Result, error) {
	target, err := m.Target(targetName)
	if err != nil {
		return Result{}, err
	}

	runID := uuid.NewString()
	unlock, err := d.lock(target.Name, runID, "deploy")
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	started := d.now()
	s, err := d.open(ctx, m, target.Name, 0)
	if err != nil {
		return Result{}, err
	}
	defer s.close()

	previous, err := s.release.Current(ctx)
	if err != nil {
		return Result{}, err
	}

	steps := m.StepsFor(target.Name)
	result := Result{
		RunID:    runID,
		Target:   target.Name,
		Host:     s.host.String(),
		Previous: previous,
		Steps:    len(steps),
	}

	s.logger.Info("deploy started", "run", runID, "steps", len(steps), "previous", previous)
	runErr := s.release.Run(ctx, func(ctx context.Context, env release.Env) error {
		result.Release = env.ReleaseName
		return runSteps(ctx, s.logger, env, steps)
	})

	switch {
	case runErr == nil:
		result.Status = history.StatusCommitted
		s.logger.Info("deploy finished", "run", runID, "release", result.Release)
	case release.RollbackErr(runErr) != nil:
		result.Status = history.StatusIncomplete
		s.logger.Error("deploy failed and rollback did not finish", "run", runID, "error", runErr,
			"rollback_error", release.RollbackErr(runErr))
	default:
		result.Status = history.StatusRolledBack
		s.logger.Warn("deploy failed and was rolled back", "run", runID, "error", runErr)
	}

	d.record(history.Entry{
		ID:       runID,
		Target:   target.Name,
		Host:     result.Host,
		Project:  m.Project.Name,
		Status:   result.Status,
		Release:  result.Release,
		Previous: previous,
		Steps:    len(steps),
		Error:    errorString(runErr),
		Started:  started,
		Finished: d.now(),
	})

	return result, runErr
}

func runSteps(ctx context.Context, logger *slog.Logger, env release.Env, steps []manifest.Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("step", "index", i+1, "of", len(steps), "name", step.Label())

		out, err := env.Run(ctx, step.Run)
		if err != nil {
			return &StepError{Step: step, Err: err}
		}
		if out != "" {
			logger.Debug("step output", "name", step.Label(), "output", out)
		}

		if undo := strings.TrimSpace(step.Undo); undo != "" {
			env.OnRollback(transaction.Command{
				Cmd: "cd " + remote.Quote(env.ReleasePath) + " && " + undo,
			})
		}
	}
	return nil
}

// Rollback points target back at its previous release.
func (d Deployer) Rollback(ctx context.Context, m manifest.Manifest, targetName string, discard bool) (Result, error) {
	target, err := m.Target(targetName)
	if err != nil {
		return Result{}, err
	}

	runID := uuid.NewString()
	unlock, err := d.lock(target.Name, runID, "rollback")
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	started := d.now()
	s, err := d.open(ctx, m, target.Name, 0)
	if err != nil {
		return Result{}, err
	}
	defer s.close()

	rb, err := s.release.RollbackRelease(ctx, release.RollbackOptions{Discard: discard})
	if err != nil && rb.To == "" {
		return Result{}, err
	}

	result := Result{
		RunID:    runID,
		Target:   target.Name,
		Host:     s.host.String(),
		Status:   history.StatusReverted,
		Release:  rb.From,
		Previous: rb.To,
	}
	if rb.Discarded {
		result.Removed = []string{rb.From}
	}

	d.record(history.Entry{
		ID:       runID,
		Target:   target.Name,
		Host:     result.Host,
		Project:  m.Project.Name,
		Status:   history.StatusReverted,
		Release:  rb.From,
		Previous: rb.To,
		Removed:  result.Removed,
		Error:    errorString(err),
		Started:  started,
		Finished: d.now(),
	})

	return result, err
}

// Releases lists target's releases oldest first and marks the live one.
func (d Deployer) Releases(ctx context.Context, m manifest.Manifest, targetName string) ([]ReleaseInfo, error) {
	s, err := d.open(ctx, m, targetName, 0)
	if err != nil {
		return nil, err
	}
	defer s.close()

	names, err := s.release.Releases(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.release.Current(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]ReleaseInfo, 0, len(names))
	for _, name := range names {
		created, _ := release.ParseName(name)
		infos = append(infos, ReleaseInfo{Name: name, Current: name == current, Created: created})
	}
	return infos, nil
}

// Cleanup prunes old releases on target. A keep of zero uses the target's
// configured retention.
func (d Deployer) Cleanup(ctx context.Context, m manifest.Manifest, targetName string, keep int) (release.CleanupResult, error) {
	target, err := m.Target(targetName)
	if err != nil {
		return release.CleanupResult{}, err
	}

	runID := uuid.NewString()
	unlock, err := d.lock(target.Name, runID, "cleanup")
	if err != nil {
		return release.CleanupResult{}, err
	}
	defer unlock()

	started := d.now()
	s, err := d.open(ctx, m, target.Name, keep)
	if err != nil {
		return release.CleanupResult{}, err
	}
	defer s.close()

	result, err := s.release.Cleanup(ctx)
	if err != nil {
		return result, err
	}

	if len(result.Removed) > 0 || len(result.Failed) > 0 {
		var failed []error
		for name, ferr := range result.Failed {
			failed = append(failed, fmt.Errorf("%s: %w", name, ferr))
		}
		d.record(history.Entry{
			ID:       runID,
			Target:   target.Name,
			Host:     s.host.String(),
			Project:  m.Project.Name,
			Status:   history.StatusCleaned,
			Removed:  result.Removed,
			Error:    errorString(errors.Join(failed...)),
			Started:  started,
			Finished: d.now(),
		})
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

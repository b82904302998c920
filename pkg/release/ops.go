package release

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/olimci/tenkai/pkg/remote"
	"github.com/olimci/tenkai/pkg/transaction"
)

// Setup makes sure the base layout and shared directories exist, then
// creates a new release. Directories created here are persistent and are
// not removed on rollback.
func (r *Release) Setup(ctx context.Context) (Env, error) {
	if r.staged != "" {
		return Env{}, ErrReleaseInProgress
	}

	dirs := []string{r.basePath, r.ReleasesPath(), r.SharedPath()}
	for _, name := range r.shared {
		dirs = append(dirs, path.Join(r.SharedPath(), name))
	}
	if _, err := r.exec.Run(ctx, "mkdir -p "+remote.QuoteAll(dirs...)); err != nil {
		return Env{}, fmt.Errorf("prepare %s: %w", r.basePath, err)
	}
	r.state = StateSkeletonReady
	r.logger.Debug("layout ready", "shared", r.shared)

	return r.CreateRelease(ctx)
}

// CreateRelease makes a fresh release directory and links the shared
// directories into it. The directory is scheduled for removal on the
// embedded transaction as soon as it exists.
func (r *Release) CreateRelease(ctx context.Context) (Env, error) {
	if r.staged != "" {
		return Env{}, ErrReleaseInProgress
	}

	name := r.nextName()
	dir := r.ReleasePath(name)

	// no -p: an existing directory with this name must fail
	if _, err := r.exec.Run(ctx, "mkdir "+remote.Quote(dir)); err != nil {
		return Env{}, fmt.Errorf("create release %s: %w", name, err)
	}
	r.tx.OnRollbackCommand("rm -rf " + remote.Quote(dir))
	r.tx.OnRollbackFunc("unstage release "+name, func(context.Context) error {
		r.unstage()
		return nil
	})

	r.staged = name
	r.state = StateCreated
	r.logger.Info("release created", "release", name)

	if err := r.linkShared(ctx, dir); err != nil {
		return Env{}, err
	}
	r.state = StateLinked

	return r.env(), nil
}

func (r *Release) linkShared(ctx context.Context, dir string) error {
	for _, name := range r.shared {
		target := path.Join("..", "..", sharedDir, name)
		cmd := fmt.Sprintf("mkdir -p %s && ln -s %s %s",
			remote.Quote(path.Join(r.SharedPath(), name)),
			remote.Quote(target),
			remote.Quote(path.Join(dir, name)),
		)
		if _, err := r.exec.Run(ctx, cmd); err != nil {
			return fmt.Errorf("link shared %s: %w", name, err)
		}
	}
	return nil
}

func (r *Release) unstage() {
	r.staged = ""
	r.state = StateRolledBack
}

// Releases lists release names in ascending order. A missing releases
// directory yields an empty list.
func (r *Release) Releases(ctx context.Context) ([]string, error) {
	dir := remote.Quote(r.ReleasesPath())
	cmd := fmt.Sprintf(`[ -d %s ] || exit 0; cd %s || exit 1; for d in */; do if [ -d "$d" ]; then printf '%%s\n' "${d%%/}"; fi; done`, dir, dir)

	out, err := r.exec.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	sort.Strings(names)
	return names, nil
}

// Current returns the release the current link points at, or "" when
// there is no current link.
func (r *Release) Current(ctx context.Context) (string, error) {
	link := remote.Quote(r.CurrentPath())
	out, err := r.exec.Run(ctx, fmt.Sprintf("if [ -L %s ]; then readlink %s; fi", link, link))
	if err != nil {
		return "", fmt.Errorf("read current link: %w", err)
	}

	target := strings.TrimSpace(out)
	if target == "" {
		return "", nil
	}
	return path.Base(target), nil
}

// Symlink points current at the staged release and commits the release.
// Once it returns nil, the release is no longer subject to rollback.
func (r *Release) Symlink(ctx context.Context) error {
	if r.staged == "" || r.state != StateLinked {
		return ErrNoStagedRelease
	}

	name := r.staged
	if err := r.pointCurrent(ctx, name); err != nil {
		return err
	}

	r.tx.Commit()
	r.staged = ""
	r.state = StateCommitted
	r.logger.Info("release live", "release", name)
	return nil
}

// pointCurrent repoints the current link by renaming a fresh temporary link
// over it, so current never goes missing.
func (r *Release) pointCurrent(ctx context.Context, name string) error {
	tmp := path.Join(r.basePath, ".current."+name)
	target := path.Join(releasesDir, name)

	cmd := fmt.Sprintf("ln -sfn %s %s && mv -T %s %s || { rm -f %s; exit 1; }",
		remote.Quote(target), remote.Quote(tmp),
		remote.Quote(tmp), remote.Quote(r.CurrentPath()),
		remote.Quote(tmp),
	)
	if _, err := r.exec.Run(ctx, cmd); err != nil {
		return fmt.Errorf("point current at %s: %w", name, err)
	}
	return nil
}

// CleanupResult lists the outcome of a Cleanup pass.
type CleanupResult struct {
	Removed []string
	Failed  map[string]error
}

// Cleanup removes all but the newest Keep releases. The current and the
// staged release are never removed. A failed removal is recorded and the
// pass continues; only failing to list releases is an error.
func (r *Release) Cleanup(ctx context.Context) (CleanupResult, error) {
	result := CleanupResult{Failed: map[string]error{}}

	names, err := r.Releases(ctx)
	if err != nil {
		return result, err
	}
	current, err := r.Current(ctx)
	if err != nil {
		return result, err
	}

	for _, name := range expired(names, r.keep) {
		if name == current || name == r.staged {
			continue
		}
		if _, err := r.exec.Run(ctx, "rm -rf "+remote.Quote(r.ReleasePath(name))); err != nil {
			r.logger.Warn("cleanup failed", "release", name, "error", err)
			result.Failed[name] = err
			continue
		}
		r.logger.Debug("release removed", "release", name)
		result.Removed = append(result.Removed, name)
	}

	return result, nil
}

// expired returns the names outside the newest keep entries of sorted.
func expired(sorted []string, keep int) []string {
	if len(sorted) <= keep {
		return nil
	}
	return sorted[:len(sorted)-keep]
}

type RollbackOptions struct {
	// Discard removes the release rolled back from.
	Discard bool
}

type RollbackResult struct {
	From      string
	To        string
	Discarded bool
}

// RollbackRelease points current at the release before it. It operates on
// committed releases and refuses to run while a release is being created.
func (r *Release) RollbackRelease(ctx context.Context, opts RollbackOptions) (RollbackResult, error) {
	if r.staged != "" {
		return RollbackResult{}, ErrReleaseInProgress
	}

	current, err := r.Current(ctx)
	if err != nil {
		return RollbackResult{}, err
	}
	if current == "" {
		return RollbackResult{}, ErrNoCurrentRelease
	}

	names, err := r.Releases(ctx)
	if err != nil {
		return RollbackResult{}, err
	}

	previous := ""
	for _, name := range names {
		if name < current {
			previous = name
		}
	}
	if previous == "" {
		return RollbackResult{}, fmt.Errorf("%w before %s", ErrNoPreviousRelease, current)
	}

	if err := r.pointCurrent(ctx, previous); err != nil {
		return RollbackResult{}, err
	}
	r.logger.Info("rolled back", "from", current, "to", previous)

	result := RollbackResult{From: current, To: previous}
	if opts.Discard {
		if _, err := r.exec.Run(ctx, "rm -rf "+remote.Quote(r.ReleasePath(current))); err != nil {
			return result, fmt.Errorf("discard release %s: %w", current, err)
		}
		result.Discarded = true
	}
	return result, nil
}

// Run creates a release, hands it to fn and makes it live. If anything
// fails before the release is live, every step armed so far is undone and
// the original error is returned. Old releases are cleaned up afterwards
// on a best-effort basis.
func (r *Release) Run(ctx context.Context, fn func(ctx context.Context, env Env) error) error {
	if r.staged != "" {
		return ErrReleaseInProgress
	}

	err := r.tx.Run(ctx, func(ctx context.Context) error {
		env, err := r.Setup(ctx)
		if err != nil {
			return err
		}
		if err := fn(ctx, env); err != nil {
			return err
		}
		if r.state == StateCommitted {
			return nil
		}
		return r.Symlink(ctx)
	})
	if err != nil {
		if r.state != StateCommitted {
			r.staged = ""
			r.state = StateRolledBack
		}
		return err
	}

	result, cerr := r.Cleanup(ctx)
	switch {
	case cerr != nil:
		r.logger.Warn("cleanup skipped", "error", cerr)
	case len(result.Failed) > 0:
		r.logger.Warn("cleanup incomplete", "failed", len(result.Failed))
	}
	return nil
}

// Abort undoes a release created through Setup or CreateRelease outside of
// Run. It is a no-op once the release is live.
func (r *Release) Abort(ctx context.Context) error {
	if r.state == StateCommitted {
		return nil
	}
	err := r.tx.Rollback(ctx)
	r.staged = ""
	r.state = StateRolledBack
	return err
}

// RollbackErr returns the error from an incomplete rollback carried by err,
// or nil when the rollback finished cleanly or never ran.
func RollbackErr(err error) error {
	var failed *transaction.FailedError
	if errors.As(err, &failed) {
		return failed.RollbackErr
	}
	return nil
}

package release

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/olimci/tenkai/pkg/remote"
	"github.com/olimci/tenkai/pkg/transaction"
	"github.com/stretchr/testify/require"
)

// faultyExecutor runs commands locally but fails the first command that
// contains one of the configured fragments.
type faultyExecutor struct {
	inner remote.Executor
	fail  []string
	ran   []string
}

func (f *faultyExecutor) Run(ctx context.Context, command string) (string, error) {
	f.ran = append(f.ran, command)
	for _, frag := range f.fail {
		if strings.Contains(command, frag) {
			return "", &remote.CommandError{Command: command, ExitCode: 1, Err: errors.New("injected failure")}
		}
	}
	return f.inner.Run(ctx, command)
}

// rewritingExecutor runs commands locally after replacing every occurrence
// of from with to.
type rewritingExecutor struct {
	inner remote.Executor
	from  string
	to    string
	ran   []string
}

func (w *rewritingExecutor) Run(ctx context.Context, command string) (string, error) {
	if w.from != "" {
		command = strings.ReplaceAll(command, w.from, w.to)
	}
	w.ran = append(w.ran, command)
	return w.inner.Run(ctx, command)
}

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

func newTestRelease(t *testing.T, exec remote.Executor, opts ...Option) (*Release, string) {
	t.Helper()

	base := filepath.Join(t.TempDir(), "app")
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(steppingClock(time.Date(2013, 1, 3, 12, 0, 0, 0, time.UTC), time.Second)),
	}, opts...)

	r, err := New(base, exec, opts...)
	require.NoError(t, err)
	return r, base
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func readCurrent(t *testing.T, base string) string {
	t.Helper()

	target, err := os.Readlink(filepath.Join(base, "current"))
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}
	require.NoError(t, err)
	return target
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	exec := remote.Local{}

	_, err := New("relative/path", exec)
	require.Error(t, err)

	_, err = New("/", exec)
	require.Error(t, err)

	_, err = New("/srv/app", nil)
	require.Error(t, err)

	_, err = New("/srv/app", exec, WithKeep(0))
	require.ErrorContains(t, err, "keep")

	_, err = New("/srv/app", exec, WithShared([]string{"log", "log"}))
	require.ErrorContains(t, err, "duplicate")

	_, err = New("/srv/app", exec, WithShared([]string{"../etc"}))
	require.ErrorContains(t, err, "invalid shared")

	r, err := New("/srv/app/", exec)
	require.NoError(t, err)
	require.Equal(t, "/srv/app", r.BasePath())
	require.Equal(t, "/srv/app/releases", r.ReleasesPath())
	require.Equal(t, "/srv/app/shared", r.SharedPath())
	require.Equal(t, "/srv/app/current", r.CurrentPath())
	require.Equal(t, []string{"log"}, r.Shared())
	require.Equal(t, DefaultKeep, r.Keep())
	require.Equal(t, StateIdle, r.State())
}

func TestSetupBuildsLayout(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{}, WithShared([]string{"log", "tmp"}))

	env, err := r.Setup(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateLinked, r.State())
	require.Equal(t, "2013-01-03.120000.000000", env.ReleaseName)
	require.Equal(t, filepath.Join(base, "releases", env.ReleaseName), env.ReleasePath)
	require.Equal(t, filepath.Join(base, "shared"), env.SharedPath)

	require.DirExists(t, filepath.Join(base, "shared", "log"))
	require.DirExists(t, filepath.Join(base, "shared", "tmp"))

	for _, name := range []string{"log", "tmp"} {
		target, err := os.Readlink(filepath.Join(env.ReleasePath, name))
		require.NoError(t, err)
		require.Equal(t, "../../shared/"+name, target)

		info, err := os.Stat(filepath.Join(env.ReleasePath, name))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}

	require.Empty(t, readCurrent(t, base))
	require.NoError(t, r.Abort(context.Background()))
	require.Empty(t, listDir(t, filepath.Join(base, "releases")))
	require.DirExists(t, filepath.Join(base, "shared", "log"))
	require.Equal(t, StateRolledBack, r.State())
}

func TestRunCommitsRelease(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{})

	var seen Env
	err := r.Run(context.Background(), func(ctx context.Context, env Env) error {
		seen = env
		_, err := env.Run(ctx, "echo built > artifact")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, StateCommitted, r.State())
	require.Empty(t, r.Staged())

	require.Equal(t, "releases/"+seen.ReleaseName, readCurrent(t, base))
	require.FileExists(t, filepath.Join(base, "current", "artifact"))

	current, err := r.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, seen.ReleaseName, current)

	releases, err := r.Releases(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{seen.ReleaseName}, releases)

	require.Equal(t, 0, r.Transaction().Len())
}

func TestRunFailureRemovesRelease(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{})
	ctx := context.Background()

	require.NoError(t, r.Run(ctx, func(context.Context, Env) error { return nil }))
	previous := readCurrent(t, base)
	require.NotEmpty(t, previous)

	stepErr := errors.New("bundle install failed")
	var attempted string
	err := r.Run(ctx, func(ctx context.Context, env Env) error {
		attempted = env.ReleaseName
		require.DirExists(t, env.ReleasePath)
		return stepErr
	})
	require.Same(t, stepErr, err)
	require.Equal(t, StateRolledBack, r.State())

	require.NoDirExists(t, filepath.Join(base, "releases", attempted))
	require.Equal(t, previous, readCurrent(t, base))
	require.Len(t, listDir(t, filepath.Join(base, "releases")), 1)

	// the instance is usable again after a rollback
	require.NoError(t, r.Run(ctx, func(context.Context, Env) error { return nil }))
	require.Len(t, listDir(t, filepath.Join(base, "releases")), 2)
}

func TestRunRollsBackOnSharedLinkFailure(t *testing.T) {
	t.Parallel()

	exec := &faultyExecutor{inner: remote.Local{}, fail: []string{"../../shared/cache"}}
	r, base := newTestRelease(t, exec, WithShared([]string{"log", "cache"}))

	called := false
	err := r.Run(context.Background(), func(context.Context, Env) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.True(t, remote.IsCommandError(err))
	require.False(t, called)

	require.Empty(t, listDir(t, filepath.Join(base, "releases")))
	require.Empty(t, readCurrent(t, base))
	require.DirExists(t, filepath.Join(base, "shared", "log"))
}

func TestRunRollsBackOnSymlinkFailure(t *testing.T) {
	t.Parallel()

	exec := &faultyExecutor{inner: remote.Local{}}
	r, base := newTestRelease(t, exec)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx, func(context.Context, Env) error { return nil }))
	previous := readCurrent(t, base)

	exec.fail = []string{"ln -sfn"}
	err := r.Run(ctx, func(context.Context, Env) error { return nil })
	require.ErrorContains(t, err, "point current")

	require.Equal(t, previous, readCurrent(t, base))
	require.Equal(t, []string{"current", "releases", "shared"}, listDir(t, base))
	require.Len(t, listDir(t, filepath.Join(base, "releases")), 1)
}

func TestRunKeepsCurrentWhenReplaceFails(t *testing.T) {
	t.Parallel()

	exec := &rewritingExecutor{inner: remote.Local{}}
	r, base := newTestRelease(t, exec)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx, func(context.Context, Env) error { return nil }))
	previous := readCurrent(t, base)

	// the temporary link is created, the rename over current fails
	exec.from, exec.to = "mv -T", "false"
	var attempted string
	err := r.Run(ctx, func(_ context.Context, env Env) error {
		attempted = env.ReleaseName
		return nil
	})
	require.ErrorContains(t, err, "point current")
	require.Contains(t, exec.ran[len(exec.ran)-2], "ln -sfn")

	require.Equal(t, previous, readCurrent(t, base))
	require.DirExists(t, filepath.Join(base, "current"))
	require.Equal(t, []string{"current", "releases", "shared"}, listDir(t, base))
	require.NoDirExists(t, filepath.Join(base, "releases", attempted))
	require.Len(t, listDir(t, filepath.Join(base, "releases")), 1)
}

func TestRollbackReleaseKeepsCurrentWhenReplaceFails(t *testing.T) {
	t.Parallel()

	exec := &rewritingExecutor{inner: remote.Local{}}
	r, base := newTestRelease(t, exec)
	names := []string{"2013-01-01.000000.000000", "2013-01-02.000000.000000"}
	seedReleases(t, base, names...)
	pointCurrent(t, base, names[1])

	exec.from, exec.to = "mv -T", "false"
	_, err := r.RollbackRelease(context.Background(), RollbackOptions{Discard: true})
	require.ErrorContains(t, err, "point current")

	require.Equal(t, "releases/"+names[1], readCurrent(t, base))
	require.Equal(t, []string{"current", "releases"}, listDir(t, base))
	require.Equal(t, names, listDir(t, filepath.Join(base, "releases")))
}

func TestRunRollsBackOnPanic(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{})

	require.PanicsWithValue(t, "deploy step exploded", func() {
		_ = r.Run(context.Background(), func(context.Context, Env) error {
			panic("deploy step exploded")
		})
	})
	require.Empty(t, listDir(t, filepath.Join(base, "releases")))
	require.Empty(t, readCurrent(t, base))
}

func TestRunRunsStepUndoActions(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{})
	marker := filepath.Join(base, "shared", "log", "migrated")

	err := r.Run(context.Background(), func(ctx context.Context, env Env) error {
		if _, err := env.Run(ctx, "touch "+remote.Quote(marker)); err != nil {
			return err
		}
		env.OnRollback(transaction.Command{Cmd: "rm -f " + remote.Quote(marker)})
		return errors.New("later step failed")
	})
	require.EqualError(t, err, "later step failed")
	require.NoFileExists(t, marker)
}

func TestRunAfterCommitKeepsRelease(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{})

	var name string
	err := r.Run(context.Background(), func(ctx context.Context, env Env) error {
		name = env.ReleaseName
		if err := r.Symlink(ctx); err != nil {
			return err
		}
		return errors.New("notify failed")
	})
	require.EqualError(t, err, "notify failed")
	require.Equal(t, StateCommitted, r.State())
	require.Equal(t, "releases/"+name, readCurrent(t, base))
	require.DirExists(t, filepath.Join(base, "releases", name))
}

func TestReleaseIsNotReentrant(t *testing.T) {
	t.Parallel()

	r, _ := newTestRelease(t, remote.Local{})
	ctx := context.Background()

	_, err := r.Setup(ctx)
	require.NoError(t, err)

	_, err = r.Setup(ctx)
	require.ErrorIs(t, err, ErrReleaseInProgress)
	_, err = r.CreateRelease(ctx)
	require.ErrorIs(t, err, ErrReleaseInProgress)
	_, err = r.RollbackRelease(ctx, RollbackOptions{})
	require.ErrorIs(t, err, ErrReleaseInProgress)

	err = r.Run(ctx, func(context.Context, Env) error { return nil })
	require.ErrorIs(t, err, ErrReleaseInProgress)

	require.NoError(t, r.Symlink(ctx))
	require.ErrorIs(t, r.Symlink(ctx), ErrNoStagedRelease)
}

func TestSymlinkRequiresStagedRelease(t *testing.T) {
	t.Parallel()

	r, _ := newTestRelease(t, remote.Local{})
	require.ErrorIs(t, r.Symlink(context.Background()), ErrNoStagedRelease)
}

func TestReleaseNamesAreUniqueAndOrdered(t *testing.T) {
	t.Parallel()

	frozen := time.Date(2013, 1, 3, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRelease(t, remote.Local{}, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	var created []string
	for i := 0; i < 5; i++ {
		env, err := r.Setup(ctx)
		require.NoError(t, err)
		created = append(created, env.ReleaseName)
		require.NoError(t, r.Symlink(ctx))
	}

	require.Equal(t, "2013-01-03.120000.000000", created[0])
	require.Equal(t, "2013-01-03.120000.000004", created[4])

	releases, err := r.Releases(ctx)
	require.NoError(t, err)
	require.Equal(t, created, releases)
}

func TestNextNameSurvivesClockGoingBackwards(t *testing.T) {
	t.Parallel()

	times := []time.Time{
		time.Date(2013, 1, 3, 12, 0, 5, 0, time.UTC),
		time.Date(2013, 1, 3, 12, 0, 1, 0, time.UTC),
		time.Date(2013, 1, 3, 12, 0, 9, 0, time.FixedZone("CET", 3600)),
	}
	i := 0
	r, _ := newTestRelease(t, remote.Local{}, WithClock(func() time.Time {
		now := times[i]
		i++
		return now
	}))

	a := r.nextName()
	b := r.nextName()
	c := r.nextName()
	require.Equal(t, "2013-01-03.120005.000000", a)
	require.Equal(t, "2013-01-03.120005.000001", b)
	require.Equal(t, "2013-01-03.120005.000002", c)

	parsed, ok := ParseName(b)
	require.True(t, ok)
	require.Equal(t, 1000, parsed.Nanosecond())

	_, ok = ParseName("not-a-release")
	require.False(t, ok)
}

func TestReleasesOnMissingTree(t *testing.T) {
	t.Parallel()

	r, _ := newTestRelease(t, remote.Local{})

	releases, err := r.Releases(context.Background())
	require.NoError(t, err)
	require.Empty(t, releases)

	current, err := r.Current(context.Background())
	require.NoError(t, err)
	require.Empty(t, current)
}

func seedReleases(t *testing.T, base string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(base, "releases", name), 0o755))
	}
}

func pointCurrent(t *testing.T, base, name string) {
	t.Helper()
	link := filepath.Join(base, "current")
	_ = os.Remove(link)
	require.NoError(t, os.Symlink("releases/"+name, link))
}

func TestCleanupKeepsNewestAndCurrent(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{}, WithKeep(2))
	names := []string{
		"2013-01-01.000000.000000",
		"2013-01-02.000000.000000",
		"2013-01-03.000000.000000",
		"2013-01-04.000000.000000",
		"2013-01-05.000000.000000",
	}
	seedReleases(t, base, names...)
	pointCurrent(t, base, names[1])

	result, err := r.Cleanup(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{names[0], names[2]}, result.Removed)
	require.Empty(t, result.Failed)
	require.Equal(t, []string{names[1], names[3], names[4]}, listDir(t, filepath.Join(base, "releases")))
}

func TestCleanupNeverRemovesStagedRelease(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{}, WithKeep(1),
		WithClock(func() time.Time { return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC) }))
	seedReleases(t, base, "2013-01-01.000000.000000", "2013-01-02.000000.000000")
	pointCurrent(t, base, "2013-01-02.000000.000000")

	env, err := r.Setup(context.Background())
	require.NoError(t, err)

	result, err := r.Cleanup(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"2013-01-01.000000.000000"}, result.Removed)
	require.DirExists(t, env.ReleasePath)
}

func TestCleanupContinuesPastFailures(t *testing.T) {
	t.Parallel()

	exec := &faultyExecutor{inner: remote.Local{}}
	r, base := newTestRelease(t, exec, WithKeep(1))
	names := []string{
		"2013-01-01.000000.000000",
		"2013-01-02.000000.000000",
		"2013-01-03.000000.000000",
	}
	seedReleases(t, base, names...)
	pointCurrent(t, base, names[2])

	exec.fail = []string{names[0]}
	result, err := r.Cleanup(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{names[1]}, result.Removed)
	require.Contains(t, result.Failed, names[0])
	require.DirExists(t, filepath.Join(base, "releases", names[0]))
}

func TestRunCleansUpAfterCommit(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{}, WithKeep(2))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Run(ctx, func(context.Context, Env) error { return nil }))
	}

	releases := listDir(t, filepath.Join(base, "releases"))
	require.Len(t, releases, 2)
	require.Equal(t, "releases/"+releases[1], readCurrent(t, base))
}

func TestRollbackRelease(t *testing.T) {
	t.Parallel()

	r, base := newTestRelease(t, remote.Local{})
	ctx := context.Background()

	_, err := r.RollbackRelease(ctx, RollbackOptions{})
	require.ErrorIs(t, err, ErrNoCurrentRelease)

	names := []string{
		"2013-01-01.000000.000000",
		"2013-01-02.000000.000000",
		"2013-01-03.000000.000000",
	}
	seedReleases(t, base, names...)
	pointCurrent(t, base, names[2])

	result, err := r.RollbackRelease(ctx, RollbackOptions{})
	require.NoError(t, err)
	require.Equal(t, RollbackResult{From: names[2], To: names[1]}, result)
	require.Equal(t, "releases/"+names[1], readCurrent(t, base))
	require.DirExists(t, filepath.Join(base, "releases", names[2]))

	result, err = r.RollbackRelease(ctx, RollbackOptions{Discard: true})
	require.NoError(t, err)
	require.Equal(t, RollbackResult{From: names[1], To: names[0], Discarded: true}, result)
	require.NoDirExists(t, filepath.Join(base, "releases", names[1]))

	_, err = r.RollbackRelease(ctx, RollbackOptions{})
	require.ErrorIs(t, err, ErrNoPreviousRelease)
	require.Equal(t, "releases/"+names[0], readCurrent(t, base))
}

func TestEnvRunUsesReleaseDirectory(t *testing.T) {
	t.Parallel()

	r, _ := newTestRelease(t, remote.Local{})
	ctx := context.Background()

	env, err := r.Setup(ctx)
	require.NoError(t, err)
	defer func() { _ = r.Abort(ctx) }()

	out, err := env.Run(ctx, "pwd -P")
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(env.ReleasePath)
	require.NoError(t, err)
	require.Equal(t, want, out)
}

func TestRollbackErr(t *testing.T) {
	t.Parallel()

	exec := &faultyExecutor{inner: remote.Local{}, fail: []string{"rm -rf"}}
	r, _ := newTestRelease(t, exec)

	stepErr := errors.New("step failed")
	err := r.Run(context.Background(), func(context.Context, Env) error { return stepErr })
	require.ErrorIs(t, err, stepErr)
	require.Error(t, RollbackErr(err))

	require.NoError(t, RollbackErr(stepErr))
}

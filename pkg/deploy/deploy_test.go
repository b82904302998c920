package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/olimci/tenkai/pkg/manifest"
	"github.com/olimci/tenkai/pkg/remote"
	"github.com/olimci/tenkai/pkg/store"
	"github.com/olimci/tenkai/pkg/store/history"
	"github.com/olimci/tenkai/pkg/store/lock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	deployer Deployer
	manifest manifest.Manifest
	base     string
	dialed   []remote.SSHConfig
}

func newFixture(t *testing.T, steps ...manifest.Step) *fixture {
	t.Helper()

	s := store.Store{Root: filepath.Join(t.TempDir(), "store")}
	require.NoError(t, s.Install())
	cfg, err := s.LoadConfig()
	require.NoError(t, err)

	f := &fixture{base: filepath.Join(t.TempDir(), "srv", "shop")}

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.deployer = Deployer{
		Store:  s,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dial: func(_ context.Context, c remote.SSHConfig) (remote.Conn, error) {
			f.dialed = append(f.dialed, c)
			return remote.Local{}, nil
		},
		Clock: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
	}

	keep := 3
	f.manifest = manifest.Manifest{
		Project: manifest.Project{Name: "shop"},
		Targets: []manifest.Target{
			{Name: "prod", Host: "local", BasePath: f.base, Keep: &keep, KeyFile: "/keys/prod"},
			{Name: "staging", Host: "local", BasePath: f.base + "-staging"},
		},
		Steps: steps,
	}
	return f
}

func (f *fixture) current(t *testing.T) string {
	t.Helper()
	target, err := os.Readlink(filepath.Join(f.base, "current"))
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}
	require.NoError(t, err)
	return filepath.Base(target)
}

func TestDeployCommitsAndRecordsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		manifest.Step{Name: "build", Run: "echo v1 > VERSION"},
		manifest.Step{Name: "staging only", Run: "touch STAGING", Targets: []string{"staging"}},
	)
	ctx := context.Background()

	result, err := f.deployer.Deploy(ctx, f.manifest, "prod")
	require.NoError(t, err)
	require.Equal(t, history.StatusCommitted, result.Status)
	require.Equal(t, 1, result.Steps)
	require.Empty(t, result.Previous)
	require.NotEmpty(t, result.RunID)
	require.Equal(t, result.Release, f.current(t))

	require.FileExists(t, filepath.Join(f.base, "current", "VERSION"))
	require.NoFileExists(t, filepath.Join(f.base, "current", "STAGING"))

	require.Len(t, f.dialed, 1)
	require.True(t, f.dialed[0].Host.IsLocal())
	require.Equal(t, "/keys/prod", f.dialed[0].KeyFile)
	require.Equal(t, 10*time.Minute, f.dialed[0].Timeout)

	h, err := f.deployer.Store.LoadHistory()
	require.NoError(t, err)
	require.Len(t, h.Entries, 1)
	entry := h.Entries[0]
	require.Equal(t, result.RunID, entry.ID)
	require.Equal(t, history.StatusCommitted, entry.Status)
	require.Equal(t, "shop", entry.Project)
	require.Equal(t, result.Release, entry.Release)

	locks, err := f.deployer.Store.Locks()
	require.NoError(t, err)
	require.Empty(t, locks)
}

func TestDeployFailureRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.deployer.Deploy(ctx, f.manifest, "prod")
	require.NoError(t, err)
	live := f.current(t)

	marker := filepath.Join(f.base, "shared", "log", "migrated")
	f.manifest.Steps = []manifest.Step{
		{Name: "migrate", Run: "touch " + remote.Quote(marker), Undo: "rm -f " + remote.Quote(marker)},
		{Name: "smoke test", Run: "exit 3"},
	}

	result, err := f.deployer.Deploy(ctx, f.manifest, "prod")
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, "smoke test", stepErr.Step.Label())
	var cmdErr *remote.CommandError
	require.True(t, errors.As(err, &cmdErr))
	require.Equal(t, 3, cmdErr.ExitCode)

	require.Equal(t, history.StatusRolledBack, result.Status)
	require.Equal(t, live, result.Previous)
	require.Equal(t, live, f.current(t))
	require.NoDirExists(t, filepath.Join(f.base, "releases", result.Release))
	require.NoFileExists(t, marker)

	h, err := f.deployer.Store.LoadHistory()
	require.NoError(t, err)
	require.Len(t, h.Entries, 2)
	require.Equal(t, history.StatusRolledBack, h.Entries[1].Status)
	require.Contains(t, h.Entries[1].Error, "smoke test")
}

func TestDeployRefusesLockedTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	release, err := f.deployer.Store.AcquireLock(lock.Lock{Target: "prod", RunID: "other"})
	require.NoError(t, err)
	defer func() { _ = release() }()

	_, err = f.deployer.Deploy(context.Background(), f.manifest, "prod")
	require.ErrorIs(t, err, store.ErrLocked)
	require.Empty(t, f.dialed)

	_, err = f.deployer.Deploy(context.Background(), f.manifest, "staging")
	require.NoError(t, err)
}

func TestDeployUnknownTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.deployer.Deploy(context.Background(), f.manifest, "qa")
	require.ErrorIs(t, err, manifest.ErrUnknownTarget)
}

func TestRollbackAndReleases(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.deployer.Deploy(ctx, f.manifest, "prod")
	require.NoError(t, err)
	second, err := f.deployer.Deploy(ctx, f.manifest, "prod")
	require.NoError(t, err)

	infos, err := f.deployer.Releases(ctx, f.manifest, "prod")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, first.Release, infos[0].Name)
	require.False(t, infos[0].Current)
	require.True(t, infos[1].Current)
	require.False(t, infos[1].Created.IsZero())

	result, err := f.deployer.Rollback(ctx, f.manifest, "prod", true)
	require.NoError(t, err)
	require.Equal(t, history.StatusReverted, result.Status)
	require.Equal(t, second.Release, result.Release)
	require.Equal(t, first.Release, result.Previous)
	require.Equal(t, []string{second.Release}, result.Removed)
	require.Equal(t, first.Release, f.current(t))
	require.NoDirExists(t, filepath.Join(f.base, "releases", second.Release))

	_, err = f.deployer.Rollback(ctx, f.manifest, "prod", false)
	require.Error(t, err)

	entry, ok, err := f.deployer.Store.LastCommitted("prod")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second.Release, entry.Release)
}

func TestCleanupPrunesOldReleases(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var last Result
	for i := 0; i < 3; i++ {
		r, err := f.deployer.Deploy(ctx, f.manifest, "prod")
		require.NoError(t, err)
		last = r
	}

	result, err := f.deployer.Cleanup(ctx, f.manifest, "prod", 1)
	require.NoError(t, err)
	require.Len(t, result.Removed, 2)

	entries, err := os.ReadDir(filepath.Join(f.base, "releases"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, last.Release, entries[0].Name())

	h, err := f.deployer.Store.LoadHistory()
	require.NoError(t, err)
	require.Equal(t, history.StatusCleaned, h.Entries[len(h.Entries)-1].Status)
}

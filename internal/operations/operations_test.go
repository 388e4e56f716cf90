package operations

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/kebairia/smb-snapshots/internal/command"
	"github.com/kebairia/smb-snapshots/internal/fsinfo"
	"github.com/kebairia/smb-snapshots/internal/logger"
	"github.com/kebairia/smb-snapshots/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

const fixedID = "@GMT-2024.05.06-07.08.09"

// recordingRunner records every command and delegates to a real runner
// unless fail says the command should fail.
type recordingRunner struct {
	calls []command.Command
	fail  func(command.Command) bool
	real  *command.Runner
}

func (r *recordingRunner) Run(ctx context.Context, cmd command.Command) bool {
	r.calls = append(r.calls, cmd)
	if r.fail != nil && r.fail(cmd) {
		return false
	}
	if r.real != nil {
		return r.real.Run(ctx, cmd)
	}
	return true
}

func (r *recordingRunner) rendered() []string {
	out := []string{}
	for _, c := range r.calls {
		out = append(out, c.String())
	}
	return out
}

func isCopy(cmd command.Command) bool {
	return cmd.Kind() == command.KindArgv && cmd.Args()[0] == "cp"
}

type fixture struct {
	sharesRoot    string
	snapshotsRoot string
	log           logger.Logger
	logs          *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		sharesRoot:    filepath.Join(dir, "shares"),
		snapshotsRoot: filepath.Join(dir, "snapshots"),
	}
	require.NoError(t, os.Mkdir(f.sharesRoot, 0o755))
	require.NoError(t, os.Mkdir(f.snapshotsRoot, 0o755))

	core, logs := observer.New(zapcore.DebugLevel)
	f.log = logger.FromZap(zap.New(core))
	f.logs = logs
	return f
}

func (f *fixture) addShare(t *testing.T, name string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(f.sharesRoot, name, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(f.sharesRoot, name), 0o755))
}

func (f *fixture) addSnapshots(t *testing.T, share string, names ...string) {
	t.Helper()
	for _, name := range names {
		dir := filepath.Join(f.snapshotsRoot, share, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte(name), 0o644))
	}
}

func (f *fixture) config(shares ...string) RunConfig {
	return RunConfig{
		Retention:     2,
		Shares:        shares,
		SharesRoot:    f.sharesRoot,
		SnapshotsRoot: f.snapshotsRoot,
	}
}

func (f *fixture) engine(t *testing.T, cfg RunConfig, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	e, err := New(cfg, f.log, opts...)
	require.NoError(t, err)
	return e
}

func (f *fixture) entries(t *testing.T, share string) []string {
	t.Helper()
	names, err := snapshot.List(filepath.Join(f.snapshotsRoot, share))
	require.NoError(t, err)
	return names
}

// tree lists every path below root, for before/after comparisons.
func tree(t *testing.T, root string) []string {
	t.Helper()
	paths := []string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(paths)
	return paths
}

var threeOld = []string{
	"@GMT-2023.01.01-00.00.00",
	"@GMT-2023.01.02-00.00.00",
	"@GMT-2023.01.03-00.00.00",
}

func TestRun_ScenarioA_RetentionPrunesOldest(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"doc.txt": "hello", "sub/deep.txt": "deep"})
	f.addSnapshots(t, "ShareA", threeOld...)

	e := f.engine(t, f.config("ShareA"))
	out, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, []string{
		"@GMT-2023.01.02-00.00.00",
		"@GMT-2023.01.03-00.00.00",
		fixedID,
	}, f.entries(t, "ShareA"))

	data, err := os.ReadFile(filepath.Join(f.snapshotsRoot, "ShareA", fixedID, "sub", "deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))

	require.Len(t, out.Shares, 1)
	assert.Equal(t, StatusCreated, out.Shares[0].Status)
	assert.Equal(t, []string{"@GMT-2023.01.01-00.00.00"}, out.Shares[0].Removed)
}

func TestRun_ScenarioB_FirstSnapshotCreatesContainer(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"doc.txt": "hello"})

	out, err := f.engine(t, f.config("ShareA")).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, []string{fixedID}, f.entries(t, "ShareA"))
	assert.Empty(t, out.Shares[0].Removed)
	assert.Equal(t, 1, f.logs.FilterMessage("first snapshot for share, creating snapshot container").Len())
}

func TestRun_ScenarioC_PreHookFailureAbortsRun(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"doc.txt": "hello"})
	f.addSnapshots(t, "ShareA", threeOld...)

	cfg := f.config("ShareA")
	cfg.PreExec = command.Shell("exit 1")
	cfg.PostExec = command.Argv("true")

	runner := &recordingRunner{real: command.NewRunner(f.log)}
	out, err := f.engine(t, cfg, WithRunner(runner)).Run(context.Background())

	require.ErrorIs(t, err, ErrPreHookFailed)
	assert.False(t, out.Success)
	assert.True(t, out.PreExecFailed)
	assert.Equal(t, []string{"exit 1"}, runner.rendered(), "no share and no post-hook may run")
	assert.Equal(t, threeOld, f.entries(t, "ShareA"))
}

func TestRun_CopyFailureKeepsOldSnapshots(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"a.txt": "a"})
	f.addShare(t, "ShareB", map[string]string{"b.txt": "b"})
	f.addSnapshots(t, "ShareA", threeOld...)
	f.addSnapshots(t, "ShareB", threeOld...)

	runner := &recordingRunner{
		real: command.NewRunner(f.log),
		fail: func(cmd command.Command) bool {
			return isCopy(cmd) && cmd.Args()[len(cmd.Args())-1] == filepath.Join(f.snapshotsRoot, "ShareA", fixedID)
		},
	}
	cfg := f.config("ShareA", "ShareB")
	cfg.PostExec = command.Argv("true")

	out, err := f.engine(t, cfg, WithRunner(runner)).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, threeOld, f.entries(t, "ShareA"), "a failed copy must not prune")
	assert.Equal(t, StatusFailed, out.Shares[0].Status)

	// later shares and the post-hook still run
	assert.Equal(t, StatusCreated, out.Shares[1].Status)
	assert.Len(t, f.entries(t, "ShareB"), 3)
	assert.Equal(t, "true", runner.rendered()[len(runner.calls)-1])
	assert.Equal(t, 1, f.logs.FilterMessage("Sync failed, will not remove old snapshots.").Len())
}

func TestRun_FailedCopyLeavesNoPartialEntry(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"a.txt": "a", "sub/b.txt": "b"})
	f.addSnapshots(t, "ShareA", threeOld...)

	// cp really writes the destination, then the copy is reported as failed,
	// the way cp exits non-zero after copying part of the tree.
	cp := command.NewRunner(f.log)
	runner := &recordingRunner{
		fail: func(cmd command.Command) bool {
			if isCopy(cmd) {
				require.True(t, cp.Run(context.Background(), cmd))
				require.DirExists(t, filepath.Join(f.snapshotsRoot, "ShareA", fixedID))
				return true
			}
			return false
		},
	}

	out, err := f.engine(t, f.config("ShareA"), WithRunner(runner)).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, StatusFailed, out.Shares[0].Status)
	assert.Equal(t, threeOld, f.entries(t, "ShareA"))
	assert.NoDirExists(t, filepath.Join(f.snapshotsRoot, "ShareA", fixedID))
	assert.Equal(t, 1, f.logs.FilterMessage("Removing incomplete snapshot").Len())
}

func TestRun_ReflinkAlwaysFailureLeavesNoPartialEntry(t *testing.T) {
	f := newFixture(t)
	mount, err := fsinfo.MountFor(f.snapshotsRoot)
	if err != nil || fsinfo.ReflinkCapable(mount.Type) {
		t.Skip("needs a temp filesystem known not to support reflinks")
	}
	f.addShare(t, "ShareA", map[string]string{"a.txt": "a"})
	f.addSnapshots(t, "ShareA", threeOld...)

	cfg := f.config("ShareA")
	cfg.ReflinkMode = ReflinkAlways

	out, err := f.engine(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, StatusFailed, out.Shares[0].Status)
	assert.Equal(t, threeOld, f.entries(t, "ShareA"))
}

func TestRun_DryRunFailedCopyRemovesNothing(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"a.txt": "a"})
	f.addSnapshots(t, "ShareA", threeOld...)
	before := tree(t, f.snapshotsRoot)

	cfg := f.config("ShareA")
	cfg.DryRun = true
	runner := &recordingRunner{fail: isCopy}

	out, err := f.engine(t, cfg, WithRunner(runner)).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, before, tree(t, f.snapshotsRoot))
	assert.Zero(t, f.logs.FilterMessage("Removing incomplete snapshot").Len())
}

func TestRun_UnreadableShareSourceIsReportedWithError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.sharesRoot, "ShareA"), []byte("not a dir"), 0o644))

	runner := &recordingRunner{}
	out, err := f.engine(t, f.config("ShareA/sub"), WithRunner(runner)).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, StatusSkipped, out.Shares[0].Status)
	assert.Empty(t, runner.calls)
	assert.Zero(t, f.logs.FilterMessage("Share not found! Ignoring...").Len())

	records := f.logs.FilterMessage("could not check share source, ignoring").All()
	require.Len(t, records, 1)
	assert.Contains(t, records[0].ContextMap()["error"], "not a directory")
}

func TestRun_DryRunLeavesFilesystemUntouched(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"doc.txt": "hello"})
	f.addShare(t, "ShareNew", map[string]string{"doc.txt": "new"})
	f.addSnapshots(t, "ShareA", threeOld...)

	before := tree(t, filepath.Dir(f.sharesRoot))

	cfg := f.config("ShareA", "ShareNew", "Missing")
	cfg.DryRun = true
	cfg.Retention = 1
	cfg.PreExec = command.Shell("touch " + filepath.Join(f.snapshotsRoot, "pre"))

	out, err := f.engine(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, before, tree(t, filepath.Dir(f.sharesRoot)))
	assert.True(t, out.DryRun)
	assert.Equal(t, []string{threeOld[0], threeOld[1]}, out.Shares[0].Removed)
	assert.Equal(t, 2, f.logs.FilterMessage("Removing old snapshot").Len())
}

func TestRun_MissingShareIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareB", map[string]string{"b.txt": "b"})

	out, err := f.engine(t, f.config("Gone", "ShareB")).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, StatusSkipped, out.Shares[0].Status)
	assert.Equal(t, StatusCreated, out.Shares[1].Status)
	assert.NoDirExists(t, filepath.Join(f.snapshotsRoot, "Gone"))
	assert.Equal(t, []string{fixedID}, f.entries(t, "ShareB"))
}

func TestRun_CrossFilesystemIsAdvisoryByDefault(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"doc.txt": "hello"})
	differentFS := WithFilesystemCheck(func(a, b string) (bool, error) { return false, nil })

	out, err := f.engine(t, f.config("ShareA"), differentFS).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, []string{fixedID}, f.entries(t, "ShareA"))
	warnings := f.logs.FilterMessage("share and snapshots root are on different filesystems, reflink copy is not possible").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.ErrorLevel, warnings[0].Level)
}

func TestRun_CrossFilesystemStrictBlocksCopy(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"doc.txt": "hello"})
	f.addSnapshots(t, "ShareA", threeOld...)
	differentFS := WithFilesystemCheck(func(a, b string) (bool, error) { return false, nil })

	cfg := f.config("ShareA")
	cfg.StrictFilesystem = true
	runner := &recordingRunner{}

	out, err := f.engine(t, cfg, differentFS, WithRunner(runner)).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, StatusFailed, out.Shares[0].Status)
	assert.Empty(t, runner.calls)
	assert.Equal(t, threeOld, f.entries(t, "ShareA"))
}

func TestRun_PostHookFailureFlipsOutcome(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"doc.txt": "hello"})

	cfg := f.config("ShareA")
	cfg.PostExec = command.Shell("exit 7")

	out, err := f.engine(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.True(t, out.PostExecFailed)
	assert.Equal(t, StatusCreated, out.Shares[0].Status)
	assert.Equal(t, []string{fixedID}, f.entries(t, "ShareA"))
}

func TestRun_MissingRootAbortsBeforeHooks(t *testing.T) {
	f := newFixture(t)
	cfg := f.config("ShareA")
	cfg.SnapshotsRoot = filepath.Join(f.snapshotsRoot, "nope")
	cfg.PreExec = command.Argv("true")
	runner := &recordingRunner{}

	out, err := f.engine(t, cfg, WithRunner(runner)).Run(context.Background())

	require.ErrorIs(t, err, ErrRootNotFound)
	assert.False(t, out.Success)
	assert.Empty(t, runner.calls)
}

func TestRun_ExistingDestinationIsNotMergedInto(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"doc.txt": "hello"})
	f.addSnapshots(t, "ShareA", append(append([]string{}, threeOld...), fixedID)...)
	runner := &recordingRunner{}

	out, err := f.engine(t, f.config("ShareA"), WithRunner(runner)).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Empty(t, runner.calls)
	assert.Len(t, f.entries(t, "ShareA"), 4)
}

func TestRun_IdentifierSharedAcrossShares(t *testing.T) {
	f := newFixture(t)
	f.addShare(t, "ShareA", map[string]string{"a": "a"})
	f.addShare(t, "My Share", map[string]string{"b": "b"})
	runner := &recordingRunner{}

	e := f.engine(t, f.config("ShareA", "My Share"), WithRunner(runner))
	out, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fixedID, e.ID())
	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{
		"cp", "--archive", "--one-file-system", "--reflink=auto", "--",
		filepath.Join(f.sharesRoot, "My Share") + "/.",
		filepath.Join(f.snapshotsRoot, "My Share", fixedID),
	}, runner.calls[1].Args())
	for _, s := range out.Shares {
		assert.Equal(t, fixedID, s.Snapshot)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	base := RunConfig{Retention: 1, SharesRoot: "/srv/shares", SnapshotsRoot: "/srv/snapshots"}

	for name, mutate := range map[string]func(*RunConfig){
		"zero retention":     func(c *RunConfig) { c.Retention = 0 },
		"negative retention": func(c *RunConfig) { c.Retention = -3 },
		"no shares root":     func(c *RunConfig) { c.SharesRoot = "" },
		"no snapshots root":  func(c *RunConfig) { c.SnapshotsRoot = "" },
		"bad reflink mode":   func(c *RunConfig) { c.ReflinkMode = "never" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			_, err := New(cfg, logger.NewNop())
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

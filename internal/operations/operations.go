package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/smb-snapshots/internal/command"
	"github.com/kebairia/smb-snapshots/internal/fsinfo"
	"github.com/kebairia/smb-snapshots/internal/logger"
	"github.com/kebairia/smb-snapshots/internal/snapshot"
)

var (
	// ErrInvalidConfig reports a RunConfig the engine refuses to start with.
	ErrInvalidConfig = errors.New("invalid run configuration")
	// ErrRootNotFound reports a missing shares or snapshots root.
	ErrRootNotFound = errors.New("root directory not found")
	// ErrPreHookFailed aborts a run before any share is touched.
	ErrPreHookFailed = errors.New("pre-exec command failed")
)

// Reflink modes passed to cp --reflink.
const (
	ReflinkAuto   = "auto"
	ReflinkAlways = "always"
)

// RunConfig is everything a single run needs. It is not modified by the engine.
type RunConfig struct {
	DryRun    bool
	Retention int

	PreExec  command.Command
	PostExec command.Command

	Shares        []string
	SharesRoot    string
	SnapshotsRoot string

	ReflinkMode      string
	StrictFilesystem bool
	CommandTimeout   time.Duration
}

// Validate checks the invariants the engine relies on.
func (c RunConfig) Validate() error {
	if c.Retention <= 0 {
		return fmt.Errorf("%w: retention must be positive, got %d", ErrInvalidConfig, c.Retention)
	}
	if c.SharesRoot == "" {
		return fmt.Errorf("%w: shares root is empty", ErrInvalidConfig)
	}
	if c.SnapshotsRoot == "" {
		return fmt.Errorf("%w: snapshots root is empty", ErrInvalidConfig)
	}
	switch c.ReflinkMode {
	case "", ReflinkAuto, ReflinkAlways:
	default:
		return fmt.Errorf("%w: unknown reflink mode %q", ErrInvalidConfig, c.ReflinkMode)
	}
	return nil
}

// CommandRunner executes hooks and copies.
type CommandRunner interface {
	Run(ctx context.Context, cmd command.Command) bool
}

// Engine runs one snapshot pass over all configured shares.
type Engine struct {
	cfg    RunConfig
	id     string
	log    logger.Logger
	runner CommandRunner

	now    func() time.Time
	sameFS func(a, b string) (bool, error)
}

// Option customises an Engine.
type Option func(*Engine)

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) Option {
	return func(e *Engine) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithClock overrides the clock the snapshot identifier is taken from.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithFilesystemCheck overrides how source and snapshots root are compared.
func WithFilesystemCheck(check func(a, b string) (bool, error)) Option {
	return func(e *Engine) {
		if check != nil {
			e.sameFS = check
		}
	}
}

// New validates cfg and captures the snapshot identifier shared by every
// share of this run.
func New(cfg RunConfig, log logger.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReflinkMode == "" {
		cfg.ReflinkMode = ReflinkAuto
	}
	cfg.Shares = append([]string(nil), cfg.Shares...)

	e := &Engine{
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		sameFS: fsinfo.SameFilesystem,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = command.NewRunner(log,
			command.WithDryRun(cfg.DryRun),
			command.WithTimeout(cfg.CommandTimeout),
		)
	}

	e.id = snapshot.Format(e.now())
	log.Info("Starting smb-snapshots", "snapshot", e.id, "dry_run", cfg.DryRun)

	return e, nil
}

// ID returns the snapshot identifier of this run.
func (e *Engine) ID() string {
	return e.id
}

// CheckRoots verifies that both root directories exist.
func CheckRoots(sharesRoot, snapshotsRoot string) error {
	for _, root := range []struct{ key, path string }{
		{"shares root", sharesRoot},
		{"snapshots root", snapshotsRoot},
	} {
		info, err := os.Stat(root.path)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrRootNotFound, root.key, root.path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s %q is not a directory", ErrRootNotFound, root.key, root.path)
		}
	}
	return nil
}

// Run executes pre-hook, every share and post-hook. The returned Outcome is
// always filled in. A non-nil error means the run was aborted: ErrRootNotFound
// before anything happened, ErrPreHookFailed after the pre-hook failed.
func (e *Engine) Run(ctx context.Context) (out Outcome, err error) {
	out = Outcome{
		ID:        e.id,
		DryRun:    e.cfg.DryRun,
		StartedAt: e.now(),
		Success:   true,
	}
	defer func() {
		out.CompletedAt = e.now()
		out.Duration = out.CompletedAt.Sub(out.StartedAt)
	}()

	if err = CheckRoots(e.cfg.SharesRoot, e.cfg.SnapshotsRoot); err != nil {
		e.log.Error("root directory not found", "error", err.Error())
		out.Success = false
		return out, err
	}
	e.inspectSnapshotsRoot()

	if !e.cfg.PreExec.IsZero() {
		if !e.runner.Run(ctx, e.cfg.PreExec) {
			e.log.Error("Could not run PRE_EXEC command!", "command", e.cfg.PreExec.String())
			out.Success = false
			out.PreExecFailed = true
			return out, ErrPreHookFailed
		}
	}

	for _, name := range e.cfg.Shares {
		res := e.SnapshotShare(ctx, name)
		if res.Status == StatusFailed || res.Status == StatusSkipped || res.Error != "" {
			out.Success = false
		}
		out.Shares = append(out.Shares, res)
	}

	if !e.cfg.PostExec.IsZero() {
		if !e.runner.Run(ctx, e.cfg.PostExec) {
			e.log.Error("Could not run POST_EXEC command!", "command", e.cfg.PostExec.String())
			out.Success = false
			out.PostExecFailed = true
		}
	}

	return out, nil
}

// inspectSnapshotsRoot warns when the snapshots root cannot share blocks.
func (e *Engine) inspectSnapshotsRoot() {
	mount, err := fsinfo.MountFor(e.cfg.SnapshotsRoot)
	if err != nil {
		e.log.Debug("could not resolve mount of snapshots root", "path", e.cfg.SnapshotsRoot, "error", err.Error())
		return
	}
	e.log.Debug("snapshots root mount", "mount", mount.Path, "type", mount.Type, "device", mount.Device)
	if !fsinfo.ReflinkCapable(mount.Type) {
		e.log.Warn("snapshots root filesystem does not support reflinks, snapshots will be full copies",
			"path", e.cfg.SnapshotsRoot,
			"type", mount.Type,
		)
	}
}

type share struct {
	name        string
	source      string
	container   string
	destination string
}

func (e *Engine) share(name string) share {
	container := filepath.Clean(filepath.Join(e.cfg.SnapshotsRoot, name))
	return share{
		name:        name,
		source:      filepath.Clean(filepath.Join(e.cfg.SharesRoot, name)),
		container:   container,
		destination: filepath.Join(container, e.id),
	}
}

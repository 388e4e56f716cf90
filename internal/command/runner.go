package command

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/kebairia/smb-snapshots/internal/logger"
	"golang.org/x/sys/unix"
)

// ErrTimeout is the cancellation cause of a command that exceeded its timeout.
var ErrTimeout = errors.New("command timed out")

// waitDelay bounds how long output pipes are drained after a kill.
const waitDelay = 2 * time.Second

// DefaultShell interprets KindShell commands.
const DefaultShell = "/bin/sh"

// Runner executes commands and reports success without returning errors, so
// the caller decides whether a failure stops anything.
type Runner struct {
	dryRun  bool
	timeout time.Duration
	shell   string
	log     logger.Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithDryRun makes Run log commands without executing them.
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) {
		r.dryRun = dryRun
	}
}

// WithTimeout kills commands running longer than d. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithShell overrides the shell used for KindShell commands.
func WithShell(path string) Option {
	return func(r *Runner) {
		if path != "" {
			r.shell = path
		}
	}
}

func NewRunner(log logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		shell: DefaultShell,
		log:   log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run logs cmd, executes it and reports whether it exited with status zero.
// On failure the combined stdout and stderr is logged. Running the zero
// Command is a programming error and panics.
func (r *Runner) Run(ctx context.Context, cmd Command) bool {
	if cmd.kind != KindShell && cmd.kind != KindArgv {
		panic(fmt.Sprintf("command: cannot run command of kind %s", cmd.kind))
	}

	r.log.Info("Command: "+cmd.String(), "kind", cmd.kind.String(), "dry_run", r.dryRun)
	if r.dryRun {
		return true
	}

	output, err := r.execute(ctx, cmd)
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		r.log.Error("last command failed",
			"command", cmd.String(),
			"exit_code", exitCode,
			"error", err.Error(),
			"output", string(output),
		)
		return false
	}

	r.log.Debug("command finished", "command", cmd.String())
	return true
}

func (r *Runner) execute(ctx context.Context, cmd Command) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.timeout, ErrTimeout)
		defer cancel()
	}

	var c *exec.Cmd
	switch cmd.kind {
	case KindShell:
		c = exec.CommandContext(ctx, r.shell, "-c", cmd.shell)
	default:
		c = exec.CommandContext(ctx, cmd.argv[0], cmd.argv[1:]...)
	}

	if r.timeout > 0 {
		killGroupOnCancel(c)
	}

	output, err := c.CombinedOutput()
	if err != nil && ctx.Err() != nil {
		return output, fmt.Errorf("%w: %w", context.Cause(ctx), err)
	}
	return output, err
}

// killGroupOnCancel runs c in its own process group and kills the whole group
// when its context ends. Killing only the direct child would leave a shell's
// children holding the output pipe open.
func killGroupOnCancel(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		err := unix.Kill(-c.Process.Pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}
	c.WaitDelay = waitDelay
}

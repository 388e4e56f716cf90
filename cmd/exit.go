package cmd

import (
	"errors"

	"github.com/kebairia/smb-snapshots/internal/config"
	"github.com/kebairia/smb-snapshots/internal/lock"
	"github.com/kebairia/smb-snapshots/internal/operations"
)

// ExitCode is the process exit status.
type ExitCode int

const (
	ExitOK             ExitCode = 0
	ExitNoConfig       ExitCode = 1
	ExitInvalidConfig  ExitCode = 2
	ExitInvalidRoots   ExitCode = 3
	ExitRunFailed      ExitCode = 4
	ExitAlreadyRunning ExitCode = 5
)

// ErrRunFailed is returned when a run completed but at least one step failed.
var ErrRunFailed = errors.New("smb-snapshots finished with errors")

func exitCodeFor(err error) ExitCode {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrConfigNotFound):
		return ExitNoConfig
	case errors.Is(err, config.ErrLoadConfig), errors.Is(err, config.ErrValidateConfig),
		errors.Is(err, operations.ErrInvalidConfig):
		return ExitInvalidConfig
	case errors.Is(err, operations.ErrRootNotFound):
		return ExitInvalidRoots
	case errors.Is(err, lock.ErrAlreadyRunning):
		return ExitAlreadyRunning
	default:
		return ExitRunFailed
	}
}

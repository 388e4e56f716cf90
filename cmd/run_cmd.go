package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kebairia/smb-snapshots/internal/config"
	"github.com/kebairia/smb-snapshots/internal/lock"
	"github.com/kebairia/smb-snapshots/internal/logger"
	"github.com/kebairia/smb-snapshots/internal/operations"
	"github.com/spf13/cobra"
)

// DryRun logs every action without touching the filesystem.
var DryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Snapshot all shares as per config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, cleanup, err := loadConfig()
		if err != nil {
			return err
		}
		defer cleanup()

		return runSnapshots(cmd.Context(), cfg, log, DryRun)
	},
}

// runSnapshots performs one guarded run and records it in the journal.
func runSnapshots(ctx context.Context, cfg *config.Config, log logger.Logger, dryRun bool, opts ...operations.Option) error {
	if err := operations.CheckRoots(cfg.Directories.SharesRoot, cfg.Directories.SnapshotsRoot); err != nil {
		log.Error("Invalid root directories", "error", err.Error())
		return err
	}

	var outcome operations.Outcome
	err := lock.With(cfg.Snapshots.LockFile, func() error {
		engine, err := operations.New(cfg.RunConfig(dryRun), log, opts...)
		if err != nil {
			return err
		}

		out, runErr := engine.Run(ctx)
		outcome = out
		if !dryRun && !errors.Is(runErr, operations.ErrRootNotFound) {
			recordRun(log, cfg.Journal, &outcome)
		}
		return runErr
	})
	switch {
	case errors.Is(err, lock.ErrAlreadyRunning):
		log.Error("smb-snapshots is already running", "lock_file", cfg.Snapshots.LockFile, "error", err.Error())
		return err
	case err != nil:
		return err
	}

	if !outcome.Success {
		counts := outcome.Counts()
		log.Error("smb-snapshots finished with errors!",
			"created", counts[operations.StatusCreated],
			"skipped", counts[operations.StatusSkipped],
			"failed", counts[operations.StatusFailed],
		)
		return fmt.Errorf("%w: snapshot %s", ErrRunFailed, outcome.ID)
	}

	log.Info("smb-snapshots finished!", "snapshot", outcome.ID, "duration", outcome.Duration.String())
	return nil
}

// recordRun writes the journal record and prunes old ones. Failures are
// only logged.
func recordRun(log logger.Logger, journal config.JournalConfig, outcome *operations.Outcome) {
	if journal.Directory == "" {
		return
	}

	path, err := outcome.Write(journal.Directory)
	if err != nil {
		log.Warn("could not write run record", "directory", journal.Directory, "error", err.Error())
		return
	}
	log.Debug("run record written", "path", path)

	removed, err := operations.PruneRecords(journal.Directory, journal.Keep)
	if err != nil {
		log.Warn("could not prune run records", "directory", journal.Directory, "error", err.Error())
		return
	}
	for _, old := range removed {
		log.Debug("run record removed", "path", old)
	}
}

func init() {
	runCmd.Flags().BoolVar(&DryRun, "dry-run", false, "do not make changes")
}

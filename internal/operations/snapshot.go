package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/function61/gokit/fileexists"
	"github.com/kebairia/smb-snapshots/internal/command"
	"github.com/kebairia/smb-snapshots/internal/snapshot"
)

// SnapshotShare takes the snapshot of one share and prunes its old entries.
// Failures are logged and reported in the result, never returned.
func (e *Engine) SnapshotShare(ctx context.Context, name string) ShareResult {
	s := e.share(name)
	result := ShareResult{Name: name}
	log := e.log

	exists, err := fileexists.Exists(s.source)
	if err != nil {
		log.Error("could not check share source, ignoring", "share", name, "path", s.source, "error", err.Error())
		result.Status = StatusSkipped
		result.Error = fmt.Sprintf("check share %q: %v", s.source, err)
		return result
	}
	if !exists {
		log.Error("Share not found! Ignoring...", "share", name, "path", s.source)
		result.Status = StatusSkipped
		result.Error = fmt.Sprintf("share %q not found", s.source)
		return result
	}

	if same, err := e.sameFS(s.source, e.cfg.SnapshotsRoot); err != nil {
		log.Warn("could not compare filesystems", "share", name, "error", err.Error())
	} else if !same {
		log.Error("share and snapshots root are on different filesystems, reflink copy is not possible",
			"share", s.source,
			"snapshots_root", e.cfg.SnapshotsRoot,
			"strict", e.cfg.StrictFilesystem,
		)
		if e.cfg.StrictFilesystem {
			result.Status = StatusFailed
			result.Error = "share and snapshots root are on different filesystems"
			return result
		}
	}

	entries, err := e.existingEntries(s)
	if err != nil {
		log.Error("could not list snapshots", "share", name, "path", s.container, "error", err.Error())
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}

	if ran, ok := e.copy(ctx, s); !ok {
		log.Error("Sync failed, will not remove old snapshots.", "share", name, "destination", s.destination)
		result.Status = StatusFailed
		result.Error = "copy failed"
		if ran {
			if err := e.discardPartial(s); err != nil {
				result.Error += "; " + err.Error()
			}
		}
		return result
	}
	result.Status = StatusCreated
	result.Snapshot = e.id
	log.Info("snapshot created", "share", name, "path", s.destination)

	removed, err := e.prune(s, entries)
	result.Removed = removed
	if err != nil {
		result.Error = err.Error()
	}

	return result
}

// existingEntries lists the entries of s before the new one is copied. A
// missing container means this is the share's first snapshot; the container
// is created (or would be, in dry-run mode).
func (e *Engine) existingEntries(s share) ([]string, error) {
	entries, err := snapshot.List(s.container)
	if err == nil {
		return entries, nil
	}
	if !errors.Is(err, snapshot.ErrNoContainer) {
		return nil, err
	}

	e.log.Info("first snapshot for share, creating snapshot container", "share", s.name, "path", s.container)
	if !e.cfg.DryRun {
		if err := os.Mkdir(s.container, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot container %q: %w", s.container, err)
		}
	}
	return []string{}, nil
}

// copy clones the share into the destination with cp. The destination must
// not exist yet: cp would otherwise merge into an older snapshot. ran tells
// whether cp was started, i.e. whether a destination may now exist that this
// run created.
func (e *Engine) copy(ctx context.Context, s share) (ran bool, ok bool) {
	exists, err := fileexists.Exists(s.destination)
	if err != nil {
		e.log.Error("could not check snapshot destination", "path", s.destination, "error", err.Error())
		return false, false
	}
	if exists {
		e.log.Error("snapshot destination already exists", "share", s.name, "path", s.destination)
		return false, false
	}

	return true, e.runner.Run(ctx, copyCommand(s.source, s.destination, e.cfg.ReflinkMode))
}

// discardPartial removes what a failed cp left at the destination, so a
// broken tree never shows up as a snapshot entry.
func (e *Engine) discardPartial(s share) error {
	if e.cfg.DryRun {
		return nil
	}
	exists, err := fileexists.Exists(s.destination)
	if err != nil || !exists {
		return err
	}

	e.log.Warn("Removing incomplete snapshot", "share", s.name, "path", s.destination)
	if err := os.RemoveAll(s.destination); err != nil {
		e.log.Error("could not remove incomplete snapshot", "path", s.destination, "error", err.Error())
		return fmt.Errorf("remove incomplete snapshot %q: %w", s.destination, err)
	}
	return nil
}

// copyCommand builds a recursive, attribute preserving copy that shares data
// blocks with the source where the filesystem allows it.
func copyCommand(source, destination, reflinkMode string) command.Command {
	return command.Argv(
		"cp",
		"--archive",
		"--one-file-system",
		"--reflink="+reflinkMode,
		"--",
		source+string(filepath.Separator)+".",
		destination,
	)
}

// prune removes the oldest entries beyond the retention window. The entries
// are the ones that existed before this run's snapshot was added: the window
// bounds older snapshots and the new one is kept on top of it.
func (e *Engine) prune(s share, entries []string) ([]string, error) {
	e.log.Debug("Snapshots Count", "share", s.name, "count", len(entries), "max", e.cfg.Retention)

	var (
		removed []string
		errs    []error
	)
	for _, name := range snapshot.SelectForRemoval(entries, e.cfg.Retention) {
		path := filepath.Join(s.container, name)
		e.log.Info("Removing old snapshot", "share", s.name, "path", path, "dry_run", e.cfg.DryRun)
		if !e.cfg.DryRun {
			if err := os.RemoveAll(path); err != nil {
				e.log.Error("could not remove old snapshot", "path", path, "error", err.Error())
				errs = append(errs, fmt.Errorf("remove %q: %w", path, err))
				continue
			}
		}
		removed = append(removed, name)
	}

	return removed, errors.Join(errs...)
}

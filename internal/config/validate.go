package config

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Validate reports the first problem found, naming the offending key.
func (c *Config) Validate() error {
	if c.Directories.SharesRoot == "" {
		return fmt.Errorf("%w: missing key directories.shares_root", ErrValidateConfig)
	}
	if c.Directories.SnapshotsRoot == "" {
		return fmt.Errorf("%w: missing key directories.snapshots_root", ErrValidateConfig)
	}
	if len(c.Directories.Shares) == 0 {
		return fmt.Errorf("%w: missing key directories.shares", ErrValidateConfig)
	}
	for i, share := range c.Directories.Shares {
		if strings.TrimSpace(share) == "" {
			return fmt.Errorf("%w: directories.shares[%d] is empty", ErrValidateConfig, i)
		}
		if strings.ContainsRune(share, '/') || share == "." || share == ".." {
			return fmt.Errorf("%w: directories.shares[%d] %q must be a single directory name", ErrValidateConfig, i, share)
		}
	}
	// the same share twice would collide on the snapshot destination
	if dups := lo.FindDuplicates(c.Directories.Shares); len(dups) > 0 {
		return fmt.Errorf("%w: directories.shares lists %q more than once", ErrValidateConfig, dups)
	}

	if c.Snapshots.Retention <= 0 {
		return fmt.Errorf("%w: snapshots.retention must be positive, got %d", ErrValidateConfig, c.Snapshots.Retention)
	}
	switch c.Snapshots.Reflink {
	case "auto", "always":
	default:
		return fmt.Errorf("%w: snapshots.reflink must be auto or always, got %q", ErrValidateConfig, c.Snapshots.Reflink)
	}
	if c.Snapshots.LockFile == "" {
		return fmt.Errorf("%w: missing key snapshots.lock_file", ErrValidateConfig)
	}
	if c.Snapshots.CommandTimeout < 0 {
		return fmt.Errorf("%w: snapshots.command_timeout must not be negative", ErrValidateConfig)
	}
	if c.Journal.Directory != "" && c.Journal.Keep <= 0 {
		return fmt.Errorf("%w: journal.keep must be positive, got %d", ErrValidateConfig, c.Journal.Keep)
	}

	return nil
}

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/djherbis/times"
	"github.com/kebairia/smb-snapshots/internal/config"
	"github.com/kebairia/smb-snapshots/internal/snapshot"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [share...]",
	Short: "List the snapshots of every share, or of the given ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.Load(ConfigFile); err != nil {
			return err
		}
		return listSnapshots(cmd.OutOrStdout(), &cfg, args)
	},
}

func listSnapshots(w io.Writer, cfg *config.Config, shares []string) error {
	if len(shares) == 0 {
		shares = cfg.Directories.Shares
	}
	if unknown := lo.Without(shares, cfg.Directories.Shares...); len(unknown) > 0 {
		return fmt.Errorf("not a configured share: %q", unknown)
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Share", "Snapshot", "Taken (UTC)", "Created"})

	for _, share := range shares {
		container := filepath.Join(cfg.Directories.SnapshotsRoot, share)
		entries, err := snapshot.List(container)
		if errors.Is(err, snapshot.ErrNoContainer) {
			table.Append([]string{share, "-", "no snapshots yet", ""})
			continue
		}
		if err != nil {
			return err
		}

		for _, entry := range entries {
			taken := ""
			if t, err := snapshot.Parse(entry); err == nil {
				taken = t.Format(time.DateTime)
			}
			table.Append([]string{share, entry, taken, createdAt(filepath.Join(container, entry))})
		}
	}

	table.Render()
	return nil
}

// createdAt prefers the birth time and falls back to the modification time
// on filesystems that do not record one.
func createdAt(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "?"
	}

	created := info.ModTime()
	if ts := times.Get(info); ts.HasBirthTime() {
		created = ts.BirthTime()
	}
	return created.Local().Format(time.DateTime)
}

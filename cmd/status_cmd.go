package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/kebairia/smb-snapshots/internal/config"
	"github.com/kebairia/smb-snapshots/internal/fsinfo"
	"github.com/kebairia/smb-snapshots/internal/lock"
	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/process"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a run is in progress and where snapshots are stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.Load(ConfigFile); err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), &cfg)
	},
}

// pidAlive is replaced in tests.
var pidAlive = func(pid int) (bool, error) {
	return process.PidExists(int32(pid))
}

func lockStatus(path string) string {
	pid, err := lock.Holder(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "idle"
	case err != nil:
		return fmt.Sprintf("unreadable lock file: %v", err)
	}

	alive, err := pidAlive(pid)
	switch {
	case err != nil:
		return fmt.Sprintf("held by pid %d (liveness unknown: %v)", pid, err)
	case alive:
		return fmt.Sprintf("running (pid %d)", pid)
	default:
		return fmt.Sprintf("stale lock left by pid %d, remove %s", pid, path)
	}
}

func mountStatus(path string) string {
	mount, err := fsinfo.MountFor(path)
	if err != nil {
		return fmt.Sprintf("unknown (%v)", err)
	}
	reflink := "no reflinks"
	if fsinfo.ReflinkCapable(mount.Type) {
		reflink = "reflinks"
	}
	return fmt.Sprintf("%s on %s (%s, %s)", mount.Device, mount.Path, mount.Type, reflink)
}

func printStatus(w io.Writer, cfg *config.Config) error {
	dirs := cfg.Directories

	sameFS := "unknown"
	if same, err := fsinfo.SameFilesystem(dirs.SharesRoot, dirs.SnapshotsRoot); err == nil {
		sameFS = strconv.FormatBool(same)
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Item", "Value"})
	table.AppendBulk([][]string{
		{"Lock file", cfg.Snapshots.LockFile},
		{"State", lockStatus(cfg.Snapshots.LockFile)},
		{"Shares root", dirs.SharesRoot},
		{"Shares mount", mountStatus(dirs.SharesRoot)},
		{"Snapshots root", dirs.SnapshotsRoot},
		{"Snapshots mount", mountStatus(dirs.SnapshotsRoot)},
		{"Same filesystem", sameFS},
		{"Retention", strconv.Itoa(cfg.Snapshots.Retention)},
		{"Shares", strconv.Itoa(len(dirs.Shares))},
	})
	table.Render()
	return nil
}

package config

import (
	"github.com/kebairia/smb-snapshots/internal/command"
	"github.com/kebairia/smb-snapshots/internal/operations"
	"gopkg.in/yaml.v3"
)

// Example returns a sample configuration with every default filled in.
func Example() Config {
	return Config{
		Snapshots: SnapshotsConfig{
			Retention: 210,
			Reflink:   operations.ReflinkAuto,
			LockFile:  "/run/smb-snapshots.pid",
		},
		Hooks: HooksConfig{
			PreExec:  command.Shell("systemctl stop smbd"),
			PostExec: command.Shell("systemctl start smbd"),
		},
		Directories: DirectoriesConfig{
			SharesRoot:    "/srv/samba/shares",
			SnapshotsRoot: "/srv/samba/snapshots",
			Shares:        []string{"public", "finance"},
		},
		Journal: JournalConfig{
			Directory: "/var/lib/smb-snapshots",
			Keep:      100,
		},
		Log: LogConfig{
			File:       "/var/log/smb-snapshots.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// ExampleYAML renders Example as YAML.
func ExampleYAML() ([]byte, error) {
	return yaml.Marshal(Example())
}

// RunConfig maps the file options onto what one engine run needs.
func (c *Config) RunConfig(dryRun bool) operations.RunConfig {
	return operations.RunConfig{
		DryRun:           dryRun,
		Retention:        c.Snapshots.Retention,
		PreExec:          c.Hooks.PreExec,
		PostExec:         c.Hooks.PostExec,
		Shares:           append([]string(nil), c.Directories.Shares...),
		SharesRoot:       c.Directories.SharesRoot,
		SnapshotsRoot:    c.Directories.SnapshotsRoot,
		ReflinkMode:      c.Snapshots.Reflink,
		StrictFilesystem: c.Snapshots.StrictFilesystem,
		CommandTimeout:   c.Snapshots.CommandTimeout,
	}
}

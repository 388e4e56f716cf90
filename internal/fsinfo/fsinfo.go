// Package fsinfo answers questions about the filesystems snapshots live on.
package fsinfo

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// Mount describes the mount a path resides on.
type Mount struct {
	Device string
	Path   string
	Type   string
}

// SameFilesystem reports whether a and b are on the same device. Reflink
// copies only share blocks within one filesystem.
func SameFilesystem(a, b string) (bool, error) {
	devA, err := device(a)
	if err != nil {
		return false, err
	}
	devB, err := device(b)
	if err != nil {
		return false, err
	}
	return devA == devB, nil
}

func device(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat %q: %w", path, err)
	}
	return uint64(st.Dev), nil
}

// MountFor resolves the mount containing path from /proc/self/mountstats.
func MountFor(path string) (*Mount, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	self, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	mounts, err := self.MountStats()
	if err != nil {
		return nil, err
	}

	m := mountForPath(abs, mounts)
	if m == nil {
		return nil, errors.New("unable to resolve mount for path")
	}
	return &Mount{Device: m.Device, Path: m.Mount, Type: m.Type}, nil
}

// longest mount point that is path itself or one of its parents
func mountForPath(path string, mounts []*procfs.Mount) *procfs.Mount {
	var longest *procfs.Mount

	for _, mount := range mounts {
		if !isWithin(path, mount.Mount) {
			continue
		}
		if longest != nil && len(mount.Mount) <= len(longest.Mount) {
			continue
		}
		longest = mount
	}

	return longest
}

func isWithin(path string, mountPoint string) bool {
	if mountPoint == "/" || path == mountPoint {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(mountPoint, "/")+"/")
}

var reflinkFilesystems = map[string]bool{
	"btrfs":    true,
	"xfs":      true,
	"bcachefs": true,
	"ocfs2":    true,
	"zfs":      true, // block cloning, OpenZFS >= 2.2
}

// ReflinkCapable reports whether fsType is known to support shared-block copies.
func ReflinkCapable(fsType string) bool {
	return reflinkFilesystems[fsType]
}

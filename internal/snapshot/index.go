// Package snapshot names, lists and retires snapshot entries of a share.
//
// Entries are directories named after the UTC time they were taken, using the
// "@GMT-YYYY.MM.DD-hh.mm.ss" form Samba's shadow_copy2 module understands. The
// name sorts lexicographically in chronological order.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/samber/lo"
)

// Layout is the time layout of an entry name.
const Layout = "@GMT-2006.01.02-15.04.05"

var entryPattern = regexp.MustCompile(`^@GMT-[0-9]{4}\.[0-9]{2}\.[0-9]{2}-[0-9]{2}\.[0-9]{2}\.[0-9]{2}$`)

// ErrNoContainer means the share has no snapshot container yet, i.e. the next
// snapshot will be its first one.
var ErrNoContainer = errors.New("snapshot container does not exist")

// Format returns the entry name for t.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// IsEntry reports whether name is a snapshot entry name.
func IsEntry(name string) bool {
	return entryPattern.MatchString(name)
}

// Parse returns the UTC time encoded in an entry name.
func Parse(name string) (time.Time, error) {
	if !IsEntry(name) {
		return time.Time{}, fmt.Errorf("%q is not a snapshot name", name)
	}
	return time.ParseInLocation(Layout, name, time.UTC)
}

// List returns the entry names under container, oldest first. Anything not
// matching the naming pattern is ignored.
func List(container string) ([]string, error) {
	entries, err := os.ReadDir(container)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNoContainer, err)
		}
		return nil, fmt.Errorf("read snapshot container %q: %w", container, err)
	}

	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), e.IsDir() && IsEntry(e.Name())
	})
	sort.Strings(names)

	return names, nil
}

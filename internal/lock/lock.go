// Package lock keeps a single snapshot run per host by means of a pid marker file.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned when the marker file already exists.
var ErrAlreadyRunning = errors.New("another run is already in progress")

// Lock is a held marker file.
type Lock struct {
	path     string
	released bool
}

// Acquire creates the marker at path and writes the current pid into it.
// Creation is atomic (O_EXCL), so two processes can never both succeed.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			if pid, herr := Holder(path); herr == nil {
				return nil, fmt.Errorf("%w: %s held by pid %d", ErrAlreadyRunning, path, pid)
			}
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("create lock file %q: %w", path, err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write lock file %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close lock file %q: %w", path, err)
	}

	return &Lock{path: path}, nil
}

// Path returns the marker location.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the marker. Calling it twice is harmless.
func (l *Lock) Release() error {
	if l.released {
		return nil
	}
	l.released = true

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file %q: %w", l.path, err)
	}
	return nil
}

// With runs fn while holding the marker at path. The marker is removed on
// every exit path, including a panic inside fn.
func With(path string, fn func() error) (err error) {
	l, err := Acquire(path)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	return fn()
}

// Holder returns the pid written in the marker at path.
func Holder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("lock file %q has no valid pid: %w", path, err)
	}
	return pid, nil
}

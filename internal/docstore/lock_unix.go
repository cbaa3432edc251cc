//go:build unix

package docstore

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// tryLock makes one non-blocking attempt at flock(2) on the sentinel at path.
func tryLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // G304: path is derived from a validated name
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, errLockBusy
		}
		return nil, err
	}
	// The previous holder unlinks the sentinel before unlocking it. If that
	// happened between our open and flock, we locked an orphaned inode.
	var held, linked unix.Stat_t
	if err := unix.Fstat(fd, &held); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := unix.Stat(path, &linked); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.ENOENT) {
			return nil, errLockStale
		}
		return nil, err
	}
	if held.Dev != linked.Dev || held.Ino != linked.Ino {
		_ = f.Close()
		return nil, errLockStale
	}
	return f, nil
}

// unlock removes the sentinel, then releases the flock.
func unlock(f *os.File, path string) error {
	var rmErr error
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		rmErr = err
	}
	flErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return errors.Join(rmErr, flErr, f.Close())
}

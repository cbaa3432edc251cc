//go:build !unix

package docstore

import (
	"errors"
	"os"
)

// tryLock makes one attempt at exclusively creating the sentinel at path.
//
// Without flock a sentinel left by a crashed process blocks the document until
// it is removed by hand.
func tryLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644) //nolint:gosec // G304: path is derived from a validated name
	if err != nil {
		if os.IsExist(err) {
			return nil, errLockBusy
		}
		return nil, err
	}
	return f, nil
}

func unlock(f *os.File, path string) error {
	clErr := f.Close()
	var rmErr error
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		rmErr = err
	}
	return errors.Join(clErr, rmErr)
}

// Implements per-document advisory locks backed by sentinel files.

package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultLockTimeout bounds how long Acquire waits for a busy lock.
	DefaultLockTimeout = 10 * time.Second
	// DefaultRetryInterval is the delay between two acquisition attempts.
	DefaultRetryInterval = 100 * time.Millisecond
)

var (
	// errLockBusy means another holder has the lock.
	errLockBusy = errors.New("lock busy")
	// errLockStale means the lock was granted on a sentinel that a previous
	// holder already unlinked; the attempt must be retried right away.
	errLockStale = errors.New("lock file replaced")
)

// LockOptions configures a Locker. Zero values select the defaults.
type LockOptions struct {
	Timeout       time.Duration
	RetryInterval time.Duration
}

// Locker hands out exclusive advisory locks on documents stored in dir.
//
// Locks are per open file, so they serialize goroutines of the same process as
// well as separate processes. A Locker is safe for concurrent use.
type Locker struct {
	dir      string
	timeout  time.Duration
	interval time.Duration
}

// NewLocker returns a Locker whose sentinels live in dir.
func NewLocker(dir string, opts LockOptions) *Locker {
	l := &Locker{dir: dir, timeout: opts.Timeout, interval: opts.RetryInterval}
	if l.timeout <= 0 {
		l.timeout = DefaultLockTimeout
	}
	if l.interval <= 0 {
		l.interval = DefaultRetryInterval
	}
	if l.interval > l.timeout {
		l.interval = l.timeout
	}
	return l
}

// Path returns the sentinel file used to lock the document name.
func (l *Locker) Path(name string) string {
	return filepath.Join(l.dir, name+lockSuffix)
}

// Acquire takes the exclusive lock on the document name.
//
// A busy lock is polled every retry interval, with a last attempt when the
// timeout elapses. If that fails too, a *LockTimeoutError is returned and
// nothing is held. If ctx is done first, its error is returned wrapped.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lock, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	start := time.Now()
	path := l.Path(name)
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	// The first attempt spends the burst so retries are spaced by interval.
	lim := rate.NewLimiter(rate.Every(l.interval), 1)
	lim.Allow()
	expired := false
	for {
		f, err := tryLock(path)
		if err == nil {
			return &Lock{name: name, path: path, f: f}, nil
		}
		switch {
		case errors.Is(err, errLockStale):
			if !expired {
				continue
			}
		case !errors.Is(err, errLockBusy):
			return nil, &IOError{Op: "lock", Path: path, Err: err}
		}
		if expired {
			return nil, &LockTimeoutError{Name: name, Elapsed: time.Since(start)}
		}
		if err := lim.Wait(waitCtx); err != nil {
			// Wait refuses a token landing past the deadline. Sit out the rest
			// of the window so the last attempt happens at the deadline.
			<-waitCtx.Done()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("lock %q: %w", name, ctxErr)
			}
			expired = true
		}
	}
}

// With runs fn while holding the lock on name.
//
// The lock is released on every exit path, including a panic in fn. A release
// failure is joined to the error returned by fn.
func (l *Locker) With(ctx context.Context, name string, fn func() error) (err error) {
	lk, err := l.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lk.Release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn()
}

// Lock is a held document lock.
type Lock struct {
	name string
	path string

	mu sync.Mutex
	f  *os.File // nil once released
}

// Name returns the locked document name.
func (lk *Lock) Name() string {
	return lk.name
}

// Release removes the sentinel file and drops the lock.
//
// It is idempotent: releasing twice, or releasing after the sentinel was
// removed by someone else, is not an error.
func (lk *Lock) Release() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if lk.f == nil {
		return nil
	}
	err := unlock(lk.f, lk.path)
	lk.f = nil
	if err != nil {
		return &IOError{Op: "unlock", Path: lk.path, Err: err}
	}
	return nil
}

// Package lock provides advisory file locks scoped to the registry and to
// individual instance directories. Locks are cooperative markers on the
// filesystem so that two concurrent cs2ctl invocations against the same
// instance cannot interleave mutating operations.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cs2ctl/internal/log"
)

// ErrBusy is returned when the lock is held by a live process and the bounded
// wait elapsed without it being released.
var ErrBusy = errors.New("resource is locked by another cs2ctl invocation")

const pollInterval = 100 * time.Millisecond

// Lock is a held advisory lock. Release removes the lock file.
type Lock struct {
	path     string
	released bool
}

// Acquire takes the advisory lock at path, waiting up to wait for a holder to
// release it. A lock file whose recorded owner pid is no longer alive is
// considered stale and is stolen. Returns ErrBusy if the wait elapses while a
// live owner still holds the lock.
func Acquire(ctx context.Context, path string, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := tryAcquire(path)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Debug(log.CatLock, "lock acquired", "path", path)
			return &Lock{path: path}, nil
		}

		if stealIfStale(path) {
			continue
		}

		if time.Now().After(deadline) {
			log.Debug(log.CatLock, "lock wait elapsed", "path", path)
			return nil, ErrBusy
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.ErrorErr(log.CatLock, "failed to remove lock file", err, "path", l.path)
	}
	log.Debug(log.CatLock, "lock released", "path", l.path)
}

// tryAcquire attempts a single exclusive creation of the lock file.
func tryAcquire(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // G304: lock path derives from instance root
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating lock file: %w", err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("writing lock file: %w", errors.Join(werr, cerr))
	}
	return true, nil
}

// stealIfStale removes the lock file when its recorded owner is dead.
// Returns true if the file was removed and acquisition should be retried.
func stealIfStale(path string) bool {
	data, err := os.ReadFile(path) //nolint:gosec // G304: lock path derives from instance root
	if err != nil {
		// Holder may have released between our attempts.
		return os.IsNotExist(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		// Unparseable owner: treat as stale rather than deadlock forever.
		log.Warn(log.CatLock, "removing lock file with unparseable owner", "path", path)
		_ = os.Remove(path)
		return true
	}
	if processAlive(pid) {
		return false
	}
	log.Warn(log.CatLock, "stealing lock from dead owner", "path", path, "pid", pid)
	_ = os.Remove(path)
	return true
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 performs the existence/permission check without delivery.
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

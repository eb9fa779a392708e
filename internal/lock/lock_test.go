package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".cs2ctl.lock")
}

func TestAcquire_CreatesLockFileWithOwnerPid(t *testing.T) {
	path := lockPath(t)

	l, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)
	defer l.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(data))
}

func TestAcquire_SecondHolderFailsBusy(t *testing.T) {
	path := lockPath(t)

	l, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)
	defer l.Release()

	// The owner pid is this test process, which is alive, so the lock is
	// not stale and the bounded wait must elapse.
	_, err = Acquire(context.Background(), path, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	path := lockPath(t)

	l, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		l.Release()
	}()

	l2, err := Acquire(context.Background(), path, 2*time.Second)
	require.NoError(t, err)
	l2.Release()
}

func TestAcquire_StealsLockFromDeadOwner(t *testing.T) {
	path := lockPath(t)

	// Fabricate a lock file owned by a pid that cannot be alive.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o600))

	l, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)
	l.Release()
}

func TestAcquire_StealsLockWithGarbageOwner(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o600))

	l, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)
	l.Release()
}

func TestRelease_Idempotent(t *testing.T) {
	path := lockPath(t)

	l, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)
	l.Release()
	l.Release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquire_CancelledContext(t *testing.T) {
	path := lockPath(t)

	l, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Acquire(ctx, path, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestProperty_SerializedWritersNeverLoseUpdates models concurrent config-set
// invocations: every writer that acquires the lock appends exactly once, and
// the file ends up with all appends present (no interleaved lost writes).
func TestProperty_SerializedWritersNeverLoseUpdates(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ".cs2ctl.lock")
		target := filepath.Join(dir, "counter")
		require.NoError(t, os.WriteFile(target, []byte("0"), 0o600))

		writers := rapid.IntRange(2, 6).Draw(rt, "writers")

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l, err := Acquire(context.Background(), path, 10*time.Second)
				if err != nil {
					rt.Errorf("acquire: %v", err)
					return
				}
				defer l.Release()

				// Read-modify-write under the lock.
				data, err := os.ReadFile(target)
				if err != nil {
					rt.Errorf("read: %v", err)
					return
				}
				var n int
				_, _ = fmt.Sscanf(string(data), "%d", &n)
				if err := os.WriteFile(target, []byte(fmt.Sprintf("%d", n+1)), 0o600); err != nil {
					rt.Errorf("write: %v", err)
				}
			}()
		}
		wg.Wait()

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%d", writers), string(data))
	})
}

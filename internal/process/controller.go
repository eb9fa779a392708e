// Package process starts, stops and polls the dedicated server process for
// one instance. The process is detached into its own session so it outlives
// the CLI invocation; the pid file under the instance's logs dir is the only
// bridge between invocations, and this package is its sole owner.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"cs2ctl/internal/log"
)

// Sentinel errors for lifecycle operations.
var (
	// ErrAlreadyRunning is returned by Start when a live process already
	// holds the pid file.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrStillRunning is returned by Stop when the process survived both
	// the graceful window and the kill escalation.
	ErrStillRunning = errors.New("server still running after stop timeout")
	// ErrNotRunning is returned by Stop when no live process is recorded.
	ErrNotRunning = errors.New("server not running")
)

// EarlyExitError reports a server that exited inside the readiness window.
// Code carries the real exit code so callers can tell a clean shutdown from
// a crash.
type EarlyExitError struct {
	Code int
}

func (e *EarlyExitError) Error() string {
	return fmt.Sprintf("server exited during startup with code %d", e.Code)
}

// Handle identifies a live server process.
type Handle struct {
	Instance  string
	PID       int
	StartedAt time.Time
}

// PollStatus is the liveness verdict for one instance.
type PollStatus int

const (
	// StatusNotRunning means no process is recorded for the instance.
	StatusNotRunning PollStatus = iota
	// StatusAlive means the recorded process responded to a signal probe.
	StatusAlive
	// StatusExited means a process was recorded but is gone. Its exit code
	// is unknowable across invocations.
	StatusExited
)

// StartSpec describes one server launch.
type StartSpec struct {
	Instance string
	Command  string
	Args     []string
	Dir      string
	LogPath  string
	PidFile  string
}

// Controller owns the instance-to-process mapping.
type Controller struct {
	readiness   time.Duration
	stopTimeout time.Duration
}

// New creates a controller. readiness is how long a fresh process must
// survive before Start reports success; stopTimeout bounds the graceful
// shutdown window before escalation.
func New(readiness, stopTimeout time.Duration) *Controller {
	return &Controller{readiness: readiness, stopTimeout: stopTimeout}
}

// Start launches the server detached in its own session, with stdout and
// stderr appended to the instance log. It returns ErrAlreadyRunning when a
// live process holds the pid file, and an EarlyExitError when the process
// dies inside the readiness window.
func (c *Controller) Start(ctx context.Context, spec StartSpec) (Handle, error) {
	if h, err := readPidFile(spec.PidFile); err == nil && processAlive(h.PID) {
		return Handle{}, fmt.Errorf("%w: pid %d", ErrAlreadyRunning, h.PID)
	}
	// A pid file with a dead owner is leftover from a crash.
	_ = os.Remove(spec.PidFile)

	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) // #nosec G304 -- path comes from the instance layout
	if err != nil {
		return Handle{}, fmt.Errorf("opening server log: %w", err)
	}
	defer logFile.Close()

	log.Debug(log.CatProc, "starting server process",
		"instance", spec.Instance, "command", spec.Command, "args", strings.Join(spec.Args, " "))

	// #nosec G204 -- command and args are built from the instance config, not raw user input
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("starting server process: %w", err)
	}

	handle := Handle{Instance: spec.Instance, PID: cmd.Process.Pid, StartedAt: time.Now().UTC()}
	log.Debug(log.CatProc, "server process started", "instance", spec.Instance, "pid", handle.PID)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-time.After(c.readiness):
		// Survived the readiness window. The wait goroutine is abandoned;
		// the session leader keeps running after this invocation exits.
		if err := writePidFile(spec.PidFile, handle); err != nil {
			_ = cmd.Process.Kill()
			return Handle{}, err
		}
		return handle, nil
	case <-waitCh:
		code := cmd.ProcessState.ExitCode()
		log.Warn(log.CatProc, "server exited during startup",
			"instance", spec.Instance, "pid", handle.PID, "code", code)
		return Handle{}, &EarlyExitError{Code: code}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitCh
		return Handle{}, ctx.Err()
	}
}

// Stop terminates the recorded process: SIGTERM, a bounded graceful wait,
// then SIGKILL. It removes the pid file once the process is gone.
func (c *Controller) Stop(ctx context.Context, pidFile string) error {
	handle, err := readPidFile(pidFile)
	if err != nil {
		return ErrNotRunning
	}
	if !processAlive(handle.PID) {
		_ = os.Remove(pidFile)
		return ErrNotRunning
	}

	log.Debug(log.CatProc, "stopping server process", "pid", handle.PID)
	if err := unix.Kill(handle.PID, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signaling pid %d: %w", handle.PID, err)
	}

	if c.waitGone(ctx, handle.PID, c.stopTimeout) {
		_ = os.Remove(pidFile)
		return nil
	}

	log.Warn(log.CatProc, "server ignored SIGTERM, escalating", "pid", handle.PID)
	if err := unix.Kill(handle.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killing pid %d: %w", handle.PID, err)
	}
	if c.waitGone(ctx, handle.PID, 2*time.Second) {
		_ = os.Remove(pidFile)
		return nil
	}
	return fmt.Errorf("%w: pid %d", ErrStillRunning, handle.PID)
}

func (c *Controller) waitGone(ctx context.Context, pid int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return !processAlive(pid)
}

// Poll reports the liveness of the recorded process. A pid file whose owner
// is gone is pruned and reported as exited.
func (c *Controller) Poll(pidFile string) (PollStatus, Handle) {
	handle, err := readPidFile(pidFile)
	if err != nil {
		return StatusNotRunning, Handle{}
	}
	if processAlive(handle.PID) {
		return StatusAlive, handle
	}
	_ = os.Remove(pidFile)
	return StatusExited, handle
}

// processAlive probes pid with the null signal. EPERM means the process
// exists under another uid, so it counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// The pid file holds two lines: the pid and the RFC3339 start time.
func writePidFile(path string, h Handle) error {
	content := fmt.Sprintf("%d\n%s\n", h.PID, h.StartedAt.Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil { // #nosec G306 -- instance-local state file
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

func readPidFile(path string) (Handle, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the instance layout
	if err != nil {
		return Handle{}, err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Handle{}, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	h := Handle{PID: pid}
	if len(lines) > 1 {
		if at, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil {
			h.StartedAt = at
		}
	}
	return h, nil
}

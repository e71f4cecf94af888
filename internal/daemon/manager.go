package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"firestige.xyz/tsswitch/internal/core"
)

// ReadPIDFile returns the process ID recorded in a PID file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: no PID file %s", core.ErrDaemonNotRunning, path)
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// processAlive reports whether a process with pid exists.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// StopDaemon sends SIGTERM to the daemon recorded in pidFile and waits up to
// timeout for it to exit. It is used when the control socket is unreachable.
func StopDaemon(pidFile string, timeout time.Duration) error {
	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		return err
	}
	if !processAlive(pid) {
		os.Remove(pidFile)
		return fmt.Errorf("%w: stale PID file %s (pid %d)", core.ErrDaemonNotRunning, pidFile, pid)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon pid %d did not exit within %s", pid, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

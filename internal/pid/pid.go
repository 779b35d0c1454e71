// Package pid guards against a second daemon instance and detects a
// previous run that exited without removing its PID file.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/streamctl/internal/errors"
)

const DefaultFile = "streamctl.pid"

// DefaultPath is the PID file location when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultFile)
}

// Write writes the current process ID to path. It fails when another live
// process holds the file. stale reports that a file left by a dead process
// was replaced, which means the previous run did not exit cleanly.
func Write(path string) (stale bool, err error) {
	errFactory := errors.New()

	if data, err := os.ReadFile(path); err == nil {
		old, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && old != os.Getpid() && alive(old) {
			return false, errFactory.WithData(errors.ErrAlreadyRunning, old)
		}
		stale = true
	} else if !os.IsNotExist(err) {
		return false, errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return stale, errFactory.Wrap(errors.ErrInternal, err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return stale, errFactory.Wrap(errors.ErrInternal, err)
	}

	return stale, nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Remove removes the PID file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

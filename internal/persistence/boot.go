package persistence

import (
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/streamctl/internal/errors"
)

// BootReason classifies how the previous run ended.
type BootReason int

const (
	BootClean BootReason = iota
	BootPowerLoss
	BootWatchdog
	BootException
)

func (r BootReason) String() string {
	switch r {
	case BootClean:
		return "clean"
	case BootPowerLoss:
		return "power_loss"
	case BootWatchdog:
		return "watchdog"
	case BootException:
		return "exception"
	default:
		return "unknown"
	}
}

// ForcesSafeMode reports whether a restore after r must start in SAFE_MODE.
func (r BootReason) ForcesSafeMode() bool {
	return r == BootWatchdog || r == BootException
}

// Classify derives the boot reason from a crash marker left by the previous
// run and whether its PID file was left behind.
func Classify(marker BootReason, hasMarker, stalePID bool) BootReason {
	switch {
	case hasMarker:
		return marker
	case stalePID:
		return BootPowerLoss
	default:
		return BootClean
	}
}

const markerName = "crash.marker"

// Markers records abnormal exits in a directory so the next boot can
// classify them.
type Markers struct {
	dir string
}

func NewMarkers(dir string) *Markers {
	return &Markers{dir: dir}
}

func (m *Markers) path() string {
	return filepath.Join(m.dir, markerName)
}

// Write records reason, replacing any earlier marker.
func (m *Markers) Write(reason BootReason) error {
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return errors.New().Wrap(ErrStoreWrite, err)
	}
	if err := os.WriteFile(m.path(), []byte(reason.String()+"\n"), 0o640); err != nil {
		return errors.New().Wrap(ErrStoreWrite, err)
	}
	return nil
}

// Read returns the recorded reason, if any.
func (m *Markers) Read() (BootReason, bool) {
	data, err := os.ReadFile(m.path())
	if err != nil {
		return BootClean, false
	}
	switch strings.TrimSpace(string(data)) {
	case BootWatchdog.String():
		return BootWatchdog, true
	case BootException.String():
		return BootException, true
	case BootPowerLoss.String():
		return BootPowerLoss, true
	default:
		return BootException, true
	}
}

// Clear removes the marker.
func (m *Markers) Clear() error {
	if err := os.Remove(m.path()); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(ErrStoreWrite, err)
	}
	return nil
}

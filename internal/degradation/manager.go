// Package degradation owns the operating mode. Health-driven downgrades need
// the score to stay under a threshold for a sustained window, upgrades need
// it to stay above the restore level for a longer one and move a single
// level at a time, and consecutive component failures bypass both windows.
package degradation

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
)

type Config struct {
	ReducedBelow  float64
	SafeBelow     float64
	RecoveryBelow float64
	RestoreAbove  float64
	DegradeAfter  time.Duration
	RestoreAfter  time.Duration
	// Consecutive component failures that force SAFE_MODE and RECOVERY.
	SafeAfterFailures     int
	RecoveryAfterFailures int
	TelemetryInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReducedBelow:          0.80,
		SafeBelow:             0.60,
		RecoveryBelow:         0.40,
		RestoreAbove:          0.85,
		DegradeAfter:          30 * time.Second,
		RestoreAfter:          60 * time.Second,
		SafeAfterFailures:     2,
		RecoveryAfterFailures: 3,
		TelemetryInterval:     10 * time.Second,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if !(c.RecoveryBelow < c.SafeBelow && c.SafeBelow < c.ReducedBelow && c.ReducedBelow < c.RestoreAbove) {
		return errFactory.WithData(errors.ErrInvalidConfig, "degradation thresholds must be strictly increasing")
	}
	if c.DegradeAfter < 0 || c.RestoreAfter < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "degradation windows must not be negative")
	}
	if c.SafeAfterFailures < 1 || c.RecoveryAfterFailures < c.SafeAfterFailures {
		return errFactory.WithData(errors.ErrInvalidConfig, "failure counts must be positive and ordered")
	}
	return nil
}

// Change describes one mode transition.
type Change struct {
	From   Mode
	To     Mode
	Reason string
	At     time.Time
}

// window tracks how long a condition has held.
type window struct {
	active bool
	since  clock.Millis
}

func (w *window) observe(cond bool, now clock.Millis) {
	if !cond {
		w.active = false
		return
	}
	if !w.active {
		w.active = true
		w.since = now
	}
}

func (w *window) held(now clock.Millis, d time.Duration) bool {
	return w.active && now.Elapsed(w.since, d)
}

type Manager struct {
	cfg Config
	clk clock.Clock
	log logger.Logger

	mode      Mode
	modeSince clock.Millis

	belowReduced  window
	belowSafe     window
	belowRecovery window
	aboveRestore  window

	failures    int
	lastFailure string
	lastScore   float64
	changes     uint64
	last        *Change
}

func NewManager(cfg Config, clk clock.Clock, log logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		clk:       clk,
		log:       log,
		modeSince: clk.Millis(),
		lastScore: 1,
	}
}

// Update feeds a composite health score in [0,1].
func (m *Manager) Update(score float64) (Change, bool) {
	now := m.clk.Millis()
	m.lastScore = score

	m.belowReduced.observe(score < m.cfg.ReducedBelow, now)
	m.belowSafe.observe(score < m.cfg.SafeBelow, now)
	m.belowRecovery.observe(score < m.cfg.RecoveryBelow, now)
	m.aboveRestore.observe(score >= m.cfg.RestoreAbove, now)

	target := m.mode
	switch {
	case m.belowRecovery.held(now, m.cfg.DegradeAfter):
		target = max(target, Recovery)
	case m.belowSafe.held(now, m.cfg.DegradeAfter):
		target = max(target, SafeMode)
	case m.belowReduced.held(now, m.cfg.DegradeAfter):
		target = max(target, ReducedQuality)
	}
	if target > m.mode {
		return m.change(target, "health below threshold")
	}

	if m.mode > Normal && m.failures == 0 && m.aboveRestore.held(now, m.cfg.RestoreAfter) {
		c, ok := m.change(m.mode-1, "health restored")
		// Each further level needs its own full window.
		m.aboveRestore.since = now
		return c, ok
	}

	return Change{}, false
}

// RecordFailure counts a consecutive component failure and applies the
// failure-driven downgrades immediately.
func (m *Manager) RecordFailure(component string) (Change, bool) {
	m.failures++
	m.lastFailure = component

	switch {
	case m.failures >= m.cfg.RecoveryAfterFailures && m.mode < Recovery:
		return m.change(Recovery, "repeated "+component+" failures")
	case m.failures >= m.cfg.SafeAfterFailures && m.mode < SafeMode:
		return m.change(SafeMode, "repeated "+component+" failures")
	}
	return Change{}, false
}

// RecordSuccess clears the consecutive failure count.
func (m *Manager) RecordSuccess() {
	m.failures = 0
}

// SetMode forces a mode, bypassing the hysteresis windows.
func (m *Manager) SetMode(mode Mode, reason string) (Change, bool) {
	if !mode.Valid() {
		return Change{}, false
	}
	return m.change(mode, reason)
}

func (m *Manager) change(to Mode, reason string) (Change, bool) {
	if to == m.mode {
		return Change{}, false
	}

	c := Change{From: m.mode, To: to, Reason: reason, At: m.clk.Now()}
	m.mode = to
	m.modeSince = m.clk.Millis()
	m.changes++
	m.last = &c

	m.log.Info().
		Str("from", c.From.String()).
		Str("to", c.To.String()).
		Str("reason", reason).
		Float64("score", m.lastScore).
		Msg("Operating mode changed")

	return c, true
}

func (m *Manager) Mode() Mode { return m.mode }

func (m *Manager) Features() FeatureSet {
	return FeaturesFor(m.mode, m.cfg.TelemetryInterval)
}

// TimeInMode returns how long the current mode has been active.
func (m *Manager) TimeInMode() time.Duration {
	return time.Duration(m.clk.Millis().Since(m.modeSince)) * time.Millisecond
}

func (m *Manager) ConsecutiveFailures() int { return m.failures }

func (m *Manager) Changes() uint64 { return m.changes }

// LastChange returns the most recent transition, if any.
func (m *Manager) LastChange() (Change, bool) {
	if m.last == nil {
		return Change{}, false
	}
	return *m.last, true
}

func (m *Manager) SetConfig(cfg Config) { m.cfg = cfg }

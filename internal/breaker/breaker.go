// Package breaker implements the three-state circuit breaker used to guard
// every external dependency of the control plane.
package breaker

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/errors"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a single breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures inside Window
	// that opens the breaker.
	FailureThreshold int
	Window           time.Duration
	// RecoveryTimeout is the first OPEN period. Every re-entry into OPEN
	// from HALF_OPEN doubles it up to MaxRecoveryTimeout.
	RecoveryTimeout    time.Duration
	MaxRecoveryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		Window:             60 * time.Second,
		RecoveryTimeout:    30 * time.Second,
		MaxRecoveryTimeout: 480 * time.Second,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.FailureThreshold < 1 {
		return errFactory.WithData(ErrInvalidConfig, "failure threshold must be at least 1")
	}
	if c.Window <= 0 || c.RecoveryTimeout <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "window and recovery timeout must be positive")
	}
	if c.MaxRecoveryTimeout < c.RecoveryTimeout {
		return errFactory.WithData(ErrInvalidConfig, "max recovery timeout below recovery timeout")
	}
	return nil
}

// Listener is told about every state change.
type Listener interface {
	BreakerTransition(name string, from, to State)
}

type Stats struct {
	Name            string        `json:"name"`
	State           string        `json:"state"`
	Failures        int           `json:"consecutive_failures"`
	RecoveryTimeout time.Duration `json:"recovery_timeout"`
	TotalFailures   uint64        `json:"total_failures"`
	TotalSuccesses  uint64        `json:"total_successes"`
	TotalRejections uint64        `json:"total_rejections"`
	Trips           uint64        `json:"trips"`
}

// Breaker is driven from the control thread only and does no locking.
type Breaker struct {
	name     string
	cfg      Config
	clk      clock.Clock
	listener Listener

	state           State
	failures        int
	windowStart     clock.Millis
	lastTransition  clock.Millis
	recoveryTimeout time.Duration
	probeInFlight   bool

	totalFailures   uint64
	totalSuccesses  uint64
	totalRejections uint64
	trips           uint64
}

func New(name string, cfg Config, clk clock.Clock) *Breaker {
	return &Breaker{
		name:            name,
		cfg:             cfg,
		clk:             clk,
		state:           Closed,
		lastTransition:  clk.Millis(),
		recoveryTimeout: cfg.RecoveryTimeout,
	}
}

func (b *Breaker) Name() string { return b.name }

// State returns the stored state without evaluating timers.
func (b *Breaker) State() State { return b.state }

// Allow reports whether a call may proceed. An OPEN breaker whose recovery
// timer has elapsed moves to HALF_OPEN and grants the single probe.
func (b *Breaker) Allow() bool {
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clk.Millis().Elapsed(b.lastTransition, b.recoveryTimeout) {
			b.transitionTo(HalfOpen)
			b.probeInFlight = true
			return true
		}
		b.totalRejections++
		return false
	case HalfOpen:
		if b.probeInFlight {
			b.totalRejections++
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// Guard returns ErrOpen when Allow refuses the call.
func (b *Breaker) Guard() error {
	if b.Allow() {
		return nil
	}
	return errors.New().WithData(ErrOpen, b.name)
}

func (b *Breaker) RecordSuccess() {
	b.totalSuccesses++
	b.failures = 0

	if b.state == HalfOpen {
		b.probeInFlight = false
		b.recoveryTimeout = b.cfg.RecoveryTimeout
		b.transitionTo(Closed)
	}
}

func (b *Breaker) RecordFailure() {
	b.totalFailures++
	now := b.clk.Millis()

	switch b.state {
	case Closed:
		if b.failures == 0 || now.Elapsed(b.windowStart, b.cfg.Window) {
			b.failures = 0
			b.windowStart = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.recoveryTimeout = b.cfg.RecoveryTimeout
			b.trip()
		}
	case HalfOpen:
		b.probeInFlight = false
		b.recoveryTimeout = min(b.recoveryTimeout*2, b.cfg.MaxRecoveryTimeout)
		b.trip()
	case Open:
		// Calls are rejected while open; a late result from before the trip
		// does not restart the timer.
	}
}

// Cancel gives back the HALF_OPEN slot granted by Allow when its call was
// abandoned before it produced an outcome. The breaker stays HALF_OPEN and
// the next Allow grants the slot again. It does nothing in any other state.
func (b *Breaker) Cancel() {
	if b.state == HalfOpen && b.probeInFlight {
		b.probeInFlight = false
	}
}

// TrialPending reports whether the HALF_OPEN slot is taken.
func (b *Breaker) TrialPending() bool { return b.probeInFlight }

// Execute runs fn when allowed and records its outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Guard(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Reset forces the breaker closed with fresh counters.
func (b *Breaker) Reset() {
	b.failures = 0
	b.probeInFlight = false
	b.recoveryTimeout = b.cfg.RecoveryTimeout
	if b.state != Closed {
		b.transitionTo(Closed)
	}
}

// SetConfig replaces the thresholds. The current state is kept.
func (b *Breaker) SetConfig(cfg Config) {
	b.cfg = cfg
	if b.recoveryTimeout < cfg.RecoveryTimeout || b.recoveryTimeout > cfg.MaxRecoveryTimeout {
		b.recoveryTimeout = cfg.RecoveryTimeout
	}
}

// RecoveryTimeout returns the length of the current or next OPEN period.
func (b *Breaker) RecoveryTimeout() time.Duration { return b.recoveryTimeout }

func (b *Breaker) Stats() Stats {
	return Stats{
		Name:            b.name,
		State:           b.state.String(),
		Failures:        b.failures,
		RecoveryTimeout: b.recoveryTimeout,
		TotalFailures:   b.totalFailures,
		TotalSuccesses:  b.totalSuccesses,
		TotalRejections: b.totalRejections,
		Trips:           b.trips,
	}
}

func (b *Breaker) trip() {
	b.trips++
	b.failures = 0
	b.transitionTo(Open)
}

func (b *Breaker) transitionTo(next State) {
	prev := b.state
	b.state = next
	b.lastTransition = b.clk.Millis()
	if b.listener != nil && prev != next {
		b.listener.BreakerTransition(b.name, prev, next)
	}
}

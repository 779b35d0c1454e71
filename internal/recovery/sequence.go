// Package recovery runs the bounded cleanup/defragment/retry sequence the
// control loop falls back to after repeated failures.
package recovery

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/logger"
)

type Phase int

const (
	Idle Phase = iota
	Cleanup
	Defrag
	Retry
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Cleanup:
		return "cleanup"
	case Defrag:
		return "defrag"
	case Retry:
		return "retry"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Actions performs the work of each phase. Only Retry decides whether a
// cycle succeeded.
type Actions interface {
	Cleanup() error
	Defrag() error
	Retry() error
}

type Config struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     5 * time.Second,
		MaxBackoff:  60 * time.Second,
	}
}

type Stats struct {
	Phase     string `json:"phase"`
	Attempts  int    `json:"attempts"`
	Started   uint64 `json:"started"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// Sequence advances one phase per Step call so the control loop is never
// blocked for a whole cycle.
type Sequence struct {
	cfg     Config
	clk     clock.Clock
	actions Actions
	log     logger.Logger

	phase    Phase
	attempts int
	waiting  bool
	waitFrom clock.Millis
	wait     time.Duration

	started   uint64
	succeeded uint64
	failed    uint64
	lastErr   error
}

func NewSequence(cfg Config, clk clock.Clock, actions Actions, log logger.Logger) *Sequence {
	return &Sequence{
		cfg:     cfg,
		clk:     clk,
		actions: actions,
		log:     log,
	}
}

// Start begins a sequence from IDLE. It is a no-op in any other phase;
// FAILED needs Reset first.
func (s *Sequence) Start() bool {
	if s.phase != Idle {
		return false
	}
	s.phase = Cleanup
	s.waiting = false
	s.started++
	s.log.Info().Int("attempt", s.attempts+1).Msg("Recovery sequence started")
	return true
}

// Step runs the current phase and returns the phase that follows it.
func (s *Sequence) Step() Phase {
	switch s.phase {
	case Cleanup:
		if s.waiting {
			if !s.clk.Millis().Elapsed(s.waitFrom, s.wait) {
				return s.phase
			}
			s.waiting = false
		}
		if err := s.actions.Cleanup(); err != nil {
			s.lastErr = err
			s.log.Warn().Err(err).Msg("Recovery cleanup failed")
		}
		s.phase = Defrag

	case Defrag:
		if err := s.actions.Defrag(); err != nil {
			s.lastErr = err
			s.log.Warn().Err(err).Msg("Recovery defragmentation failed")
		}
		s.phase = Retry

	case Retry:
		err := s.actions.Retry()
		if err == nil {
			s.log.Info().Int("attempt", s.attempts+1).Msg("Recovery succeeded")
			s.phase = Idle
			s.attempts = 0
			s.lastErr = nil
			s.succeeded++
			return s.phase
		}

		s.lastErr = err
		s.attempts++
		if s.attempts >= s.cfg.MaxAttempts {
			s.phase = Failed
			s.failed++
			s.log.Error().Err(err).Int("attempts", s.attempts).Msg("Recovery exhausted")
			return s.phase
		}

		delay := s.backoff()
		s.phase = Cleanup
		s.waiting = true
		s.waitFrom = s.clk.Millis()
		s.wait = delay
		s.log.Warn().Err(err).Int("attempt", s.attempts).Dur("backoff", delay).Msg("Recovery retry failed")
	}

	return s.phase
}

func (s *Sequence) backoff() time.Duration {
	d := s.cfg.Backoff
	for i := 1; i < s.attempts; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return d
}

// Abandon stops an in-progress sequence without consuming an attempt.
func (s *Sequence) Abandon() {
	if s.InProgress() {
		s.phase = Idle
		s.waiting = false
	}
}

// Reset returns to IDLE with a fresh attempt budget.
func (s *Sequence) Reset() {
	s.phase = Idle
	s.attempts = 0
	s.waiting = false
	s.lastErr = nil
}

func (s *Sequence) Phase() Phase { return s.phase }

func (s *Sequence) Attempts() int { return s.attempts }

func (s *Sequence) InProgress() bool {
	return s.phase == Cleanup || s.phase == Defrag || s.phase == Retry
}

// Exhausted reports whether the sequence ended in FAILED.
func (s *Sequence) Exhausted() bool { return s.phase == Failed }

func (s *Sequence) LastError() error { return s.lastErr }

func (s *Sequence) SetConfig(cfg Config) { s.cfg = cfg }

func (s *Sequence) Stats() Stats {
	st := Stats{
		Phase:     s.phase.String(),
		Attempts:  s.attempts,
		Started:   s.started,
		Succeeded: s.succeeded,
		Failed:    s.failed,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

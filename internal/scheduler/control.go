package scheduler

import (
	"codeberg.org/mutker/streamctl/internal/breaker"
	"codeberg.org/mutker/streamctl/internal/degradation"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/health"
	"codeberg.org/mutker/streamctl/internal/network"
)

// Thresholds is the set of tunables that can be replaced at runtime.
type Thresholds struct {
	Timeouts    Timeouts
	Health      health.Thresholds
	Degradation degradation.Config
	Breaker     breaker.Config
	Selector    network.SelectorConfig
	Reconnect   network.ReconnectConfig
	Smoothing   float64
}

// Controller accepts commands from other goroutines. Commands are queued
// and applied at the start of the next iteration; a full queue returns a
// scheduler_control_busy error.
type Controller interface {
	ForceReconnect() error
	ForceState(s State, reason string) error
	SetMode(m degradation.Mode, reason string) error
	SetAutoRecovery(enabled bool) error
	SetThresholds(t Thresholds) error
	ResetRecovery() error
}

type commandKind int

const (
	cmdForceReconnect commandKind = iota
	cmdForceState
	cmdSetMode
	cmdSetAutoRecovery
	cmdSetThresholds
	cmdResetRecovery
)

type command struct {
	kind       commandKind
	state      State
	mode       degradation.Mode
	reason     string
	enabled    bool
	thresholds Thresholds
}

func (s *Scheduler) enqueue(c command) error {
	select {
	case s.commands <- c:
		return nil
	default:
		return errors.New().New(ErrControlBusy)
	}
}

func (s *Scheduler) ForceReconnect() error {
	return s.enqueue(command{kind: cmdForceReconnect, reason: "reconnect requested"})
}

func (s *Scheduler) ForceState(st State, reason string) error {
	if !st.Valid() {
		return errors.New().WithData(ErrInvalidState, int(st))
	}
	return s.enqueue(command{kind: cmdForceState, state: st, reason: reason})
}

func (s *Scheduler) SetMode(m degradation.Mode, reason string) error {
	if !m.Valid() {
		return errors.New().WithData(ErrInvalidMode, int(m))
	}
	return s.enqueue(command{kind: cmdSetMode, mode: m, reason: reason})
}

func (s *Scheduler) SetAutoRecovery(enabled bool) error {
	return s.enqueue(command{kind: cmdSetAutoRecovery, enabled: enabled})
}

func (s *Scheduler) SetThresholds(t Thresholds) error {
	return s.enqueue(command{kind: cmdSetThresholds, thresholds: t})
}

func (s *Scheduler) ResetRecovery() error {
	return s.enqueue(command{kind: cmdResetRecovery})
}

// drainControl applies queued commands without blocking.
func (s *Scheduler) drainControl() {
	for {
		select {
		case c := <-s.commands:
			s.apply(c)
		default:
			return
		}
	}
}

func (s *Scheduler) apply(c command) {
	switch c.kind {
	case cmdForceReconnect:
		s.log.Info().Msg("Reconnect requested")
		s.recovery.Reset()
		s.breakers.ResetAll()
		for _, cand := range s.selector.Candidates() {
			s.policy.Clear(cand.ID)
		}
		s.selector.Abandon()
		if s.lastActive >= 0 {
			s.selector.Prefer(s.lastActive)
		}
		s.pool.CloseAll()
		s.forceState(ConnectingLink, c.reason)

	case cmdForceState:
		s.forceState(c.state, c.reason)

	case cmdSetMode:
		if change, ok := s.degradation.SetMode(c.mode, c.reason); ok {
			s.onModeChange(change)
		}

	case cmdSetAutoRecovery:
		s.health.SetAutoRecovery(c.enabled)
		s.log.Info().Bool("enabled", c.enabled).Msg("Auto recovery changed")

	case cmdSetThresholds:
		t := c.thresholds
		s.cfg.Timeouts = t.Timeouts
		s.health.SetThresholds(t.Health)
		s.degradation.SetConfig(t.Degradation)
		s.breakers.SetDefaults(t.Breaker)
		s.selector.SetConfig(t.Selector)
		s.policy.SetConfig(t.Reconnect)
		if t.Smoothing > 0 {
			s.quality.SetSmoothing(t.Smoothing)
		}
		s.log.Info().Msg("Thresholds updated")

	case cmdResetRecovery:
		s.recovery.Reset()
		s.log.Info().Msg("Recovery reset")
	}
}

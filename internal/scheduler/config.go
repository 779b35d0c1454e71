package scheduler

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/recovery"
)

type Config struct {
	// Period is the pause between iterations of Run.
	Period time.Duration
	// Budget is the iteration duration above which an overrun is counted.
	Budget   time.Duration
	Timeouts Timeouts
	// DisconnectHold is how long DISCONNECTED is held before reconnecting.
	DisconnectHold time.Duration
	HistorySize    int
	ControlQueue   int
	Recovery       recovery.Config
}

func DefaultConfig() Config {
	return Config{
		Period:         10 * time.Millisecond,
		Budget:         50 * time.Millisecond,
		Timeouts:       DefaultTimeouts(),
		DisconnectHold: 2 * time.Second,
		HistorySize:    16,
		ControlQueue:   16,
		Recovery:       recovery.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Period <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "scheduler period must be positive")
	}
	for s, d := range c.Timeouts {
		if d < 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, State(s).String()+" timeout must not be negative")
		}
	}
	if c.Recovery.MaxAttempts < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "recovery needs at least one attempt")
	}
	return nil
}

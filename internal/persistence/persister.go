// Package persistence stores a small versioned snapshot of control plane
// state so a restart can resume the preferred network, operating mode and
// cumulative counters. Writes are limited to significant changes and to one
// per interval; a record that fails validation is discarded whole.
package persistence

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
	"golang.org/x/time/rate"
)

type Config struct {
	MinWriteInterval time.Duration
}

func DefaultConfig() Config {
	return Config{MinWriteInterval: 60 * time.Second}
}

type Stats struct {
	Writes      uint64 `json:"writes"`
	Suppressed  uint64 `json:"suppressed"`
	Failures    uint64 `json:"failures"`
	Corruptions uint64 `json:"corruptions"`
	Pending     bool   `json:"pending"`
}

// Persister is used from the control loop only.
type Persister struct {
	store   Store
	clk     clock.Clock
	log     logger.Logger
	limiter *rate.Limiter

	last    Snapshot
	hasLast bool
	pending bool

	writes      uint64
	suppressed  uint64
	failures    uint64
	corruptions uint64
}

func NewPersister(cfg Config, store Store, clk clock.Clock, log logger.Logger) *Persister {
	return &Persister{
		store:   store,
		clk:     clk,
		log:     log,
		limiter: newLimiter(cfg.MinWriteInterval),
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// LoadOnBoot reads the stored record. It returns Default and false when
// nothing was stored or the record is unusable.
func (p *Persister) LoadOnBoot() (Snapshot, bool) {
	record, err := p.store.Load()
	if err != nil {
		if !errors.HasCode(err, ErrNotFound) {
			p.log.Warn().Err(err).Msg("Failed to read persisted state, using defaults")
		}
		return Default(), false
	}

	s, err := Decode(record)
	if err != nil {
		p.corruptions++
		p.log.Warn().
			Err(err).
			Str("error_code", string(errors.CodeOf(err))).
			Int("bytes", len(record)).
			Msg("Discarding corrupt persisted state")
		return Default(), false
	}

	p.last = s
	p.hasLast = true
	p.log.Info().
		Int16("active_network", s.ActiveNetwork).
		Uint8("mode", s.Mode).
		Uint32("reconnects", s.Stats.Reconnects).
		Msg("Restored persisted state")
	return s, true
}

// MaybePersist writes s when it differs significantly from the last written
// snapshot and the write limiter allows it. A limited write stays pending
// and is retried on the next call even if nothing else changed.
func (p *Persister) MaybePersist(s Snapshot) (bool, error) {
	if p.hasLast && !p.pending && !Significant(p.last, s) {
		return false, nil
	}

	if !p.limiter.AllowN(p.clk.Now(), 1) {
		if !p.pending {
			p.suppressed++
		}
		p.pending = true
		return false, nil
	}

	return p.write(s)
}

// Flush writes s unconditionally, bypassing the limiter. Used on shutdown.
func (p *Persister) Flush(s Snapshot) error {
	_, err := p.write(s)
	return err
}

func (p *Persister) write(s Snapshot) (bool, error) {
	s.Version = SchemaVersion
	if err := p.store.Save(Encode(s)); err != nil {
		p.failures++
		p.pending = true
		return false, err
	}

	p.last = s
	p.hasLast = true
	p.pending = false
	p.writes++
	p.log.Debug().Uint8("mode", s.Mode).Int16("active_network", s.ActiveNetwork).Msg("Persisted state")
	return true, nil
}

// Pending reports whether a significant change is waiting for the limiter.
func (p *Persister) Pending() bool { return p.pending }

func (p *Persister) SetConfig(cfg Config) {
	p.limiter = newLimiter(cfg.MinWriteInterval)
}

func (p *Persister) Stats() Stats {
	return Stats{
		Writes:      p.writes,
		Suppressed:  p.suppressed,
		Failures:    p.failures,
		Corruptions: p.corruptions,
		Pending:     p.pending,
	}
}

func (p *Persister) Close() error {
	return p.store.Close()
}

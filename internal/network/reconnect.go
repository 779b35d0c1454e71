package network

import (
	"math/rand/v2"
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
)

type ReconnectConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the relative spread applied to every delay, 0.2 = ±20%.
	Jitter float64
	// FastRetryRate is the success rate above which a network gets the
	// short ladder; below PoorRate the ladder starts one step higher.
	FastRetryRate float64
	PoorRate      float64
	// FastRetrySteps caps the exponent for known-good networks.
	FastRetrySteps int
	// SkipBelowRSSI skips networks whose last scan was weaker than this.
	SkipBelowRSSI int
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay:      time.Second,
		MaxDelay:       60 * time.Second,
		Jitter:         0.2,
		FastRetryRate:  0.9,
		PoorRate:       0.5,
		FastRetrySteps: 2,
		SkipBelowRSSI:  -90,
	}
}

const unknownSuccessRate = 0.5

type networkHistory struct {
	attempts    uint32
	successes   uint32
	consecutive int
	nextAttempt clock.Millis
	waiting     bool
}

// ReconnectPolicy paces retries per network from its history.
type ReconnectPolicy struct {
	cfg     ReconnectConfig
	clk     clock.Clock
	rng     *rand.Rand
	history map[string]*networkHistory
}

func NewReconnectPolicy(cfg ReconnectConfig, clk clock.Clock, seed uint64) *ReconnectPolicy {
	return &ReconnectPolicy{
		cfg:     cfg,
		clk:     clk,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		history: make(map[string]*networkHistory),
	}
}

func (p *ReconnectPolicy) entry(id string) *networkHistory {
	h, ok := p.history[id]
	if !ok {
		h = &networkHistory{}
		p.history[id] = h
	}
	return h
}

// SuccessRate returns the historical success ratio, 0.5 for unknown networks.
func (p *ReconnectPolicy) SuccessRate(id string) float64 {
	h, ok := p.history[id]
	if !ok || h.attempts == 0 {
		return unknownSuccessRate
	}
	return float64(h.successes) / float64(h.attempts)
}

// BaseDelay returns the un-jittered delay before the next attempt.
func (p *ReconnectPolicy) BaseDelay(id string) time.Duration {
	h, ok := p.history[id]
	if !ok || h.consecutive == 0 {
		return 0
	}

	exp := h.consecutive - 1
	rate := p.SuccessRate(id)
	switch {
	case rate > p.cfg.FastRetryRate:
		exp = min(exp, p.cfg.FastRetrySteps)
	case rate < p.cfg.PoorRate:
		exp++
	}

	d := p.cfg.BaseDelay
	for i := 0; i < exp && d < p.cfg.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.cfg.MaxDelay)
}

// Delay returns BaseDelay with jitter applied.
func (p *ReconnectPolicy) Delay(id string) time.Duration {
	d := p.BaseDelay(id)
	if d == 0 || p.cfg.Jitter <= 0 {
		return d
	}
	spread := 1 + p.cfg.Jitter*(2*p.rng.Float64()-1)
	return time.Duration(float64(d) * spread)
}

func (p *ReconnectPolicy) RecordSuccess(id string) {
	h := p.entry(id)
	h.attempts++
	h.successes++
	h.consecutive = 0
	h.waiting = false
}

// RecordFailure counts a failed attempt and schedules the next one.
func (p *ReconnectPolicy) RecordFailure(id string) time.Duration {
	h := p.entry(id)
	h.attempts++
	h.consecutive++
	d := p.Delay(id)
	h.nextAttempt = p.clk.Millis().Add(d)
	h.waiting = true
	return d
}

// Ready reports whether the retry delay of id has passed.
func (p *ReconnectPolicy) Ready(id string) bool {
	h, ok := p.history[id]
	if !ok || !h.waiting {
		return true
	}
	now := p.clk.Millis()
	// A signed difference keeps the comparison valid across counter wrap.
	if int32(now-h.nextAttempt) >= 0 {
		h.waiting = false
		return true
	}
	return false
}

// ShouldSkip reports whether the last scanned signal is too weak to try.
func (p *ReconnectPolicy) ShouldSkip(rssi int, seen bool) bool {
	return seen && rssi < p.cfg.SkipBelowRSSI
}

func (p *ReconnectPolicy) ConsecutiveFailures(id string) int {
	if h, ok := p.history[id]; ok {
		return h.consecutive
	}
	return 0
}

// Clear drops any pending delay for id, keeping its success history.
func (p *ReconnectPolicy) Clear(id string) {
	if h, ok := p.history[id]; ok {
		h.waiting = false
		h.consecutive = 0
	}
}

func (p *ReconnectPolicy) SetConfig(cfg ReconnectConfig) {
	p.cfg = cfg
}

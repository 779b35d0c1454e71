package network

import (
	"sort"
	"time"

	"codeberg.org/mutker/streamctl/internal/breaker"
	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
	"golang.org/x/time/rate"
)

type SelectorConfig struct {
	ConnectTimeout    time.Duration
	MinSwitchInterval time.Duration
	// SwitchBelowRSSI is the hard floor under which the current network
	// should be abandoned.
	SwitchBelowRSSI int
	SwitchAboveLoss float64
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		ConnectTimeout:    15 * time.Second,
		MinSwitchInterval: 30 * time.Second,
		SwitchBelowRSSI:   -85,
		SwitchAboveLoss:   0.10,
	}
}

// StepResult reports what one ConnectToBest call did.
type StepResult int

const (
	// Attempting means an association is in flight.
	Attempting StepResult = iota
	// Connected means the link is up on the selected candidate.
	Connected
	// AttemptFailed means the in-flight attempt failed on this step.
	AttemptFailed
	// Waiting means the preferred candidate is backing off.
	Waiting
	// Exhausted means no candidate is currently eligible.
	Exhausted
)

func (r StepResult) String() string {
	switch r {
	case Attempting:
		return "attempting"
	case Connected:
		return "connected"
	case AttemptFailed:
		return "attempt_failed"
	case Waiting:
		return "waiting"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Selector ranks candidate networks and drives the link towards the best
// eligible one.
type Selector struct {
	cfg      SelectorConfig
	clk      clock.Clock
	link     Link
	breakers *breaker.Registry
	policy   *ReconnectPolicy
	logger   logger.Logger

	candidates []Candidate
	active     int
	attempting int
	started    clock.Millis
	preferred  string

	limiter  *rate.Limiter
	switches uint64
	attempts uint64
}

func NewSelector(
	cfg SelectorConfig,
	clk clock.Clock,
	link Link,
	breakers *breaker.Registry,
	policy *ReconnectPolicy,
	log logger.Logger,
) *Selector {
	return &Selector{
		cfg:        cfg,
		clk:        clk,
		link:       link,
		breakers:   breakers,
		policy:     policy,
		logger:     log,
		active:     -1,
		attempting: -1,
		limiter:    rate.NewLimiter(rate.Every(cfg.MinSwitchInterval), 1),
	}
}

// Add inserts c keeping the list sorted by priority, ties in insertion order.
func (s *Selector) Add(c Candidate) error {
	for _, existing := range s.candidates {
		if existing.ID == c.ID {
			return errors.New().WithData(ErrDuplicateNetwork, c.ID)
		}
	}

	activeID, attemptID := s.idAt(s.active), s.idAt(s.attempting)
	s.candidates = append(s.candidates, c)
	sort.SliceStable(s.candidates, func(i, j int) bool {
		return s.candidates[i].Priority > s.candidates[j].Priority
	})
	s.active, s.attempting = s.indexOf(activeID), s.indexOf(attemptID)
	return nil
}

// Remove drops the candidate. Removing the active network disconnects it.
func (s *Selector) Remove(id string) error {
	idx := s.indexOf(id)
	if idx < 0 {
		return errors.New().WithData(ErrUnknownNetwork, id)
	}
	if idx == s.attempting {
		s.Abandon()
	}
	if idx == s.active {
		s.link.Disconnect()
		s.active = -1
	}

	activeID, attemptID := s.idAt(s.active), s.idAt(s.attempting)
	s.candidates = append(s.candidates[:idx], s.candidates[idx+1:]...)
	s.active, s.attempting = s.indexOf(activeID), s.indexOf(attemptID)
	return nil
}

func (s *Selector) Candidates() []Candidate {
	out := make([]Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// ActiveIndex returns the index of the connected candidate, or -1.
func (s *Selector) ActiveIndex() int { return s.active }

func (s *Selector) Active() (Candidate, bool) {
	if s.active < 0 {
		return Candidate{}, false
	}
	return s.candidates[s.active], true
}

// Prefer makes the candidate at index the first one tried on the next
// attempt, regardless of priority. Used to restore the last network at boot.
func (s *Selector) Prefer(index int) bool {
	if index < 0 || index >= len(s.candidates) {
		return false
	}
	s.preferred = s.candidates[index].ID
	return true
}

// ConnectToBest advances the connection procedure by one step. Candidates
// are considered in priority order; a candidate whose breaker is open is
// passed over, while a closed candidate that is still backing off holds the
// selection so that a lower priority network is not joined prematurely.
func (s *Selector) ConnectToBest() StepResult {
	if s.active >= 0 {
		st := s.link.Status()
		if st.State == LinkUp && st.NetworkID == s.candidates[s.active].ID {
			return Connected
		}
		s.active = -1
	}

	if s.attempting >= 0 {
		return s.poll()
	}

	if len(s.candidates) == 0 {
		return Exhausted
	}

	for _, idx := range s.order() {
		c := s.candidates[idx]
		if !c.AutoConnect && c.ID != s.preferred {
			continue
		}
		if rssi, seen := s.link.SignalOf(c.ID); s.policy.ShouldSkip(rssi, seen) {
			continue
		}

		b := s.breakers.Get(breaker.LinkFor(c.ID))
		if b.State() == breaker.Closed && !s.policy.Ready(c.ID) {
			return Waiting
		}
		if !b.Allow() {
			continue
		}

		s.start(idx)
		if s.attempting < 0 {
			return AttemptFailed
		}
		return Attempting
	}

	return Exhausted
}

func (s *Selector) order() []int {
	out := make([]int, 0, len(s.candidates))
	pref := s.indexOf(s.preferred)
	if pref >= 0 {
		out = append(out, pref)
	}
	for i := range s.candidates {
		if i != pref {
			out = append(out, i)
		}
	}
	return out
}

func (s *Selector) start(idx int) {
	c := s.candidates[idx]
	s.attempting = idx
	s.started = s.clk.Millis()
	s.attempts++
	if c.ID == s.preferred {
		s.preferred = ""
	}

	s.logger.Info().Str("network", c.ID).Int("priority", c.Priority).Msg("Connecting to network")
	if err := s.link.Connect(c); err != nil {
		s.logger.Debug().Err(err).Str("network", c.ID).Msg("Link refused connect")
		s.fail()
	}
}

func (s *Selector) poll() StepResult {
	c := s.candidates[s.attempting]
	st := s.link.Status()

	switch {
	case st.State == LinkUp && st.NetworkID == c.ID:
		s.breakers.Get(breaker.LinkFor(c.ID)).RecordSuccess()
		s.policy.RecordSuccess(c.ID)
		s.active = s.attempting
		s.attempting = -1
		s.logger.Info().Str("network", c.ID).Int("rssi", st.RSSI).Msg("Network connected")
		return Connected
	case st.State == LinkFailed,
		s.clk.Millis().Elapsed(s.started, s.cfg.ConnectTimeout):
		s.fail()
		return AttemptFailed
	default:
		return Attempting
	}
}

func (s *Selector) fail() {
	if s.attempting < 0 {
		return
	}
	c := s.candidates[s.attempting]
	s.attempting = -1
	s.link.Disconnect()

	b := s.breakers.Get(breaker.LinkFor(c.ID))
	b.RecordFailure()
	delay := s.policy.RecordFailure(c.ID)

	s.logger.Warn().
		Str("network", c.ID).
		Int("consecutive_failures", s.policy.ConsecutiveFailures(c.ID)).
		Str("breaker", b.State().String()).
		Dur("retry_in", delay).
		Msg("Network connect failed")
}

// Attempting reports whether an association is in flight.
func (s *Selector) Attempting() bool { return s.attempting >= 0 }

// Abandon drops any in-flight attempt without recording a failure. A
// half-open slot held by the attempt is given back to its breaker. Safe to
// call at any time.
func (s *Selector) Abandon() {
	if s.attempting >= 0 {
		c := s.candidates[s.attempting]
		s.link.Disconnect()
		s.attempting = -1
		s.breakers.Get(breaker.LinkFor(c.ID)).Cancel()
	}
}

// CanAutoConnect reports whether any candidate may be joined without an
// operator: one marked auto-connect, or the preferred one.
func (s *Selector) CanAutoConnect() bool {
	for _, c := range s.candidates {
		if c.AutoConnect || c.ID == s.preferred {
			return true
		}
	}
	return false
}

// MarkLost records that the active link dropped.
func (s *Selector) MarkLost() {
	if s.active < 0 {
		return
	}
	c := s.candidates[s.active]
	s.active = -1
	s.breakers.Get(breaker.LinkFor(c.ID)).RecordFailure()
	s.policy.RecordFailure(c.ID)
}

// ShouldSwitch reports whether the current quality warrants leaving the
// network. It has no side effects.
func (s *Selector) ShouldSwitch(q QualityMetrics) bool {
	if !q.Connected || q.Samples == 0 {
		return false
	}
	return q.SmoothedRSSI < float64(s.cfg.SwitchBelowRSSI) || q.SmoothedLoss > s.cfg.SwitchAboveLoss
}

// SwitchToNext disconnects and makes the candidate after the current one
// the next to be tried. At most one switch is allowed per MinSwitchInterval.
func (s *Selector) SwitchToNext() error {
	if len(s.candidates) < 2 {
		return errors.New().New(ErrNoCandidates)
	}
	if !s.limiter.AllowN(s.clk.Now(), 1) {
		return errors.New().New(ErrSwitchLimited)
	}

	from := s.active
	if from < 0 {
		from = s.attempting
	}
	next := (from + 1) % len(s.candidates)

	s.Abandon()
	if s.active >= 0 {
		s.link.Disconnect()
		s.active = -1
	}
	s.preferred = s.candidates[next].ID
	s.policy.Clear(s.preferred)
	s.switches++

	s.logger.Info().Str("next", s.preferred).Msg("Switching network")
	return nil
}

func (s *Selector) Switches() uint64 { return s.switches }

func (s *Selector) Attempts() uint64 { return s.attempts }

// SetConfig applies new thresholds; the switch limiter keeps its tokens.
func (s *Selector) SetConfig(cfg SelectorConfig) {
	s.cfg = cfg
	s.limiter.SetLimitAt(s.clk.Now(), rate.Every(cfg.MinSwitchInterval))
}

func (s *Selector) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range s.candidates {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Selector) idAt(idx int) string {
	if idx < 0 || idx >= len(s.candidates) {
		return ""
	}
	return s.candidates[idx].ID
}

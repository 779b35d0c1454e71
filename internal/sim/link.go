// Package sim provides a simulated radio link and sensor pipeline so the
// daemon can run without hardware.
package sim

import (
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/network"
)

const ErrUnknownNetwork = errors.ErrorCode("sim_unknown_network")

// Condition is a preset radio environment for one network.
type Condition int

const (
	Excellent Condition = iota
	Good
	Fair
	Poor
	Critical
	Offline
)

var conditionNames = []string{"excellent", "good", "fair", "poor", "critical", "offline"}

func (c Condition) String() string {
	if c < Excellent || c > Offline {
		return "unknown"
	}
	return conditionNames[c]
}

// ParseCondition accepts the lower case names returned by String.
func ParseCondition(s string) (Condition, bool) {
	for i, name := range conditionNames {
		if strings.EqualFold(s, name) {
			return Condition(i), true
		}
	}
	return Offline, false
}

// RSSI returns the signal strength of the preset in dBm.
func (c Condition) RSSI() int {
	switch c {
	case Excellent:
		return -45
	case Good:
		return -58
	case Fair:
		return -68
	case Poor:
		return -78
	case Critical:
		return -88
	default:
		return -100
	}
}

// Loss returns the loss fraction of the preset.
func (c Condition) Loss() float64 {
	switch c {
	case Excellent:
		return 0
	case Good:
		return 0.005
	case Fair:
		return 0.02
	case Poor:
		return 0.05
	case Critical:
		return 0.12
	default:
		return 1
	}
}

// Link implements network.Link over a table of simulated networks.
// Associations complete after ConnectDelay.
type Link struct {
	mu  sync.Mutex
	clk clock.Clock

	connectDelay time.Duration
	networks     map[string]Condition
	failNext     map[string]int

	state   network.LinkState
	current string
	started clock.Millis
	failing bool

	dropPending bool
	dropFrom    clock.Millis
	dropAfter   time.Duration

	connects uint64
	drops    uint64
}

func NewLink(clk clock.Clock, connectDelay time.Duration) *Link {
	return &Link{
		clk:          clk,
		connectDelay: connectDelay,
		networks:     make(map[string]Condition),
		failNext:     make(map[string]int),
	}
}

// SetCondition adds or updates a simulated network.
func (l *Link) SetCondition(id string, c Condition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.networks[id] = c
}

// FailNext makes the next n associations with id fail.
func (l *Link) FailNext(id string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[id] = n
}

// DropAfter schedules the current link to drop once d has passed.
func (l *Link) DropAfter(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropPending = true
	l.dropFrom = l.clk.Millis()
	l.dropAfter = d
}

// Drop fails the current link immediately.
func (l *Link) Drop() {
	l.DropAfter(0)
}

func (l *Link) Connect(c network.Candidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cond, ok := l.networks[c.ID]
	if !ok {
		return errors.New().WithData(ErrUnknownNetwork, c.ID)
	}

	l.state = network.LinkConnecting
	l.current = c.ID
	l.started = l.clk.Millis()
	l.failing = cond == Offline
	if n := l.failNext[c.ID]; n > 0 {
		l.failNext[c.ID] = n - 1
		l.failing = true
	}
	l.connects++
	return nil
}

func (l *Link) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = network.LinkIdle
	l.current = ""
	l.dropPending = false
}

func (l *Link) Status() network.LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Millis()
	cond := l.networks[l.current]

	switch l.state {
	case network.LinkConnecting:
		if now.Elapsed(l.started, l.connectDelay) {
			if l.failing {
				l.state = network.LinkFailed
			} else {
				l.state = network.LinkUp
			}
		}
	case network.LinkUp:
		if cond == Offline || (l.dropPending && now.Elapsed(l.dropFrom, l.dropAfter)) {
			l.state = network.LinkFailed
			l.dropPending = false
			l.drops++
		}
	}

	st := network.LinkStatus{State: l.state, NetworkID: l.current}
	if l.state == network.LinkUp {
		st.RSSI = cond.RSSI()
		st.Loss = cond.Loss()
		st.LossKnown = true
	}
	return st
}

// SignalOf reports the scanned signal of a network. Offline networks are
// not seen.
func (l *Link) SignalOf(id string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cond, ok := l.networks[id]
	if !ok || cond == Offline {
		return 0, false
	}
	return cond.RSSI(), true
}

func (l *Link) Connects() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects
}

func (l *Link) Drops() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}

// Package clock provides the time source shared by the control plane.
//
// Elapsed-time checks use Millis, a free-running 32-bit millisecond counter
// that wraps after roughly 49.7 days. Millis.Since is computed with unsigned
// arithmetic so comparisons stay correct across the wrap.
package clock

import (
	"sync"
	"time"
)

// Millis is a wrapping millisecond tick.
type Millis uint32

// Since returns the milliseconds elapsed from earlier to m, modulo 2^32.
func (m Millis) Since(earlier Millis) uint32 {
	return uint32(m - earlier)
}

// Elapsed reports whether at least d has passed between earlier and m.
func (m Millis) Elapsed(earlier Millis, d time.Duration) bool {
	return time.Duration(m.Since(earlier))*time.Millisecond >= d
}

// Add returns m advanced by d.
func (m Millis) Add(d time.Duration) Millis {
	return m + Millis(uint32(d/time.Millisecond))
}

// Clock is the injectable time source.
type Clock interface {
	Now() time.Time
	Millis() Millis
	Sleep(d time.Duration)
}

type realClock struct {
	start time.Time
}

// Real returns a Clock backed by the monotonic system clock.
func Real() Clock {
	return &realClock{start: time.Now()}
}

func (c *realClock) Now() time.Time {
	return time.Now()
}

func (c *realClock) Millis() Millis {
	return Millis(uint32(time.Since(c.start) / time.Millisecond))
}

func (*realClock) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// Fake is a manually advanced Clock for tests. Sleep advances the clock
// instead of blocking.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	millis Millis
	slept  time.Duration
}

// NewFake returns a Fake whose tick counter starts at start.
func NewFake(start Millis) *Fake {
	return &Fake{
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		millis: start,
	}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Millis() Millis {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.millis
}

func (f *Fake) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.slept += d
	f.mu.Unlock()
	f.Advance(d)
}

// Advance moves both the wall time and the tick counter forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.millis = f.millis.Add(d)
}

// Slept returns the total duration passed to Sleep.
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}

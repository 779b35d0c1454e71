package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/logger"
)

// SoftWatchdog reports a stalled control loop. The loop feeds it every
// iteration; Run checks from its own goroutine and calls onExpire once per
// stall.
type SoftWatchdog struct {
	clk      clock.Clock
	log      logger.Logger
	timeout  time.Duration
	onExpire func(stalled time.Duration)

	lastFeed atomic.Uint32
	expired  atomic.Bool
	expiries atomic.Uint64
}

func NewSoftWatchdog(clk clock.Clock, timeout time.Duration, log logger.Logger, onExpire func(time.Duration)) *SoftWatchdog {
	w := &SoftWatchdog{
		clk:      clk,
		log:      log,
		timeout:  timeout,
		onExpire: onExpire,
	}
	w.lastFeed.Store(uint32(clk.Millis()))
	return w
}

func (w *SoftWatchdog) Feed() {
	w.lastFeed.Store(uint32(w.clk.Millis()))
	w.expired.Store(false)
}

// Check reports whether the loop is stalled, firing onExpire on the first
// check after the timeout passes.
func (w *SoftWatchdog) Check() bool {
	last := clock.Millis(w.lastFeed.Load())
	stalled := time.Duration(w.clk.Millis().Since(last)) * time.Millisecond
	if stalled < w.timeout {
		return false
	}
	if w.expired.CompareAndSwap(false, true) {
		w.expiries.Add(1)
		w.log.Error().Dur("stalled", stalled).Msg("Control loop watchdog expired")
		if w.onExpire != nil {
			w.onExpire(stalled)
		}
	}
	return true
}

func (w *SoftWatchdog) Expiries() uint64 { return w.expiries.Load() }

// Run checks at a quarter of the timeout until ctx is done.
func (w *SoftWatchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(max(w.timeout/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

package breaker

import (
	"testing"
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitionLog struct {
	entries []string
}

func (l *transitionLog) BreakerTransition(name string, from, to State) {
	l.entries = append(l.entries, name+":"+from.String()+"->"+to.String())
}

func newTestBreaker(t *testing.T) (*Breaker, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(1000)
	return New("transport", DefaultConfig(), clk), clk
}

func TestOpensAfterExactlyThresholdFailures(t *testing.T) {
	for threshold := 1; threshold <= 6; threshold++ {
		clk := clock.NewFake(0)
		cfg := DefaultConfig()
		cfg.FailureThreshold = threshold
		b := New("link", cfg, clk)

		for i := 1; i < threshold; i++ {
			b.RecordFailure()
			require.Equal(t, Closed, b.State(), "threshold %d opened after %d failures", threshold, i)
		}
		b.RecordFailure()
		assert.Equal(t, Open, b.State(), "threshold %d", threshold)
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}

	assert.Equal(t, Closed, b.State())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	b, clk := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	clk.Advance(61 * time.Second)
	b.RecordFailure()

	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 1, b.Stats().Failures)
}

func TestOpenRejectsUntilRecoveryTimeout(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	assert.False(t, b.Allow())
	clk.Advance(29 * time.Second)
	assert.False(t, b.Allow())
	assert.Equal(t, Open, b.State(), "State must not evaluate the timer")

	clk.Advance(time.Second)
	assert.Equal(t, Open, b.State())
	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clk.Advance(30 * time.Second)

	require.True(t, b.Allow())
	assert.False(t, b.Allow(), "second concurrent probe must be rejected")
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
	assert.Equal(t, 30*time.Second, b.RecoveryTimeout())
}

func TestCancelReleasesAbandonedSlot(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clk.Advance(30 * time.Second)

	require.True(t, b.Allow())
	require.True(t, b.TrialPending())
	b.Cancel()

	assert.Equal(t, HalfOpen, b.State())
	assert.False(t, b.TrialPending())
	assert.Equal(t, 30*time.Second, b.RecoveryTimeout(), "an abandoned call is not a failure")

	require.True(t, b.Allow(), "the slot is granted again")
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestCancelOutsideHalfOpenIsNoop(t *testing.T) {
	b, _ := newTestBreaker(t)
	b.Cancel()
	assert.Equal(t, Closed, b.State())

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	b.Cancel()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestFailedProbeDoublesRecoveryTimeoutUpToCap(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	want := []time.Duration{60, 120, 240, 480, 480}
	for _, w := range want {
		clk.Advance(b.RecoveryTimeout())
		require.True(t, b.Allow())
		b.RecordFailure()
		require.Equal(t, Open, b.State())
		assert.Equal(t, w*time.Second, b.RecoveryTimeout())
	}
}

func TestExecuteGuardsAndRecords(t *testing.T) {
	b, _ := newTestBreaker(t)
	boom := errors.New().New(errors.ErrOperationFailed)

	for i := 0; i < 5; i++ {
		assert.Error(t, b.Execute(func() error { return boom }))
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.HasCode(err, ErrOpen))
	assert.Equal(t, uint64(1), b.Stats().TotalRejections)
}

func TestRegistryNotifiesListener(t *testing.T) {
	clk := clock.NewFake(0)
	log := &transitionLog{}
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	reg := NewRegistry(clk, DefaultConfig(), log)
	reg.Configure(LinkFor("home"), cfg)

	b := reg.Get(LinkFor("home"))
	b.RecordFailure()
	b.RecordFailure()
	clk.Advance(30 * time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, []string{
		"link:home:closed->open",
		"link:home:open->half-open",
		"link:home:half-open->closed",
	}, log.entries)

	_, ok := reg.State("transport")
	assert.False(t, ok)
	assert.Same(t, b, reg.Get(LinkFor("home")))
	assert.Equal(t, []string{"link:home"}, reg.Names())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.FailureThreshold = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxRecoveryTimeout = time.Second
	assert.Error(t, bad.Validate())
}

package scheduler

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/streamctl/internal/breaker"
	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/degradation"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/events"
	"codeberg.org/mutker/streamctl/internal/health"
	"codeberg.org/mutker/streamctl/internal/logger"
	"codeberg.org/mutker/streamctl/internal/network"
	"codeberg.org/mutker/streamctl/internal/persistence"
	"codeberg.org/mutker/streamctl/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 10 * time.Millisecond

type recorder struct {
	events []events.Event
}

func (r *recorder) HandleEvent(e events.Event) { r.events = append(r.events, e) }

func (r *recorder) count(k events.Kind) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

type healthRecorder struct {
	samples []health.SystemHealth
}

func (r *healthRecorder) RecordHealth(h health.SystemHealth, _, _ string) {
	r.samples = append(r.samples, h)
}

type harness struct {
	t        *testing.T
	clk      *clock.Fake
	link     *sim.Link
	dialer   *sim.Dialer
	pipeline *sim.Pipeline
	store    *persistence.MemoryStore
	events   *recorder
	comps    Components
	s        *Scheduler
}

func newHarness(t *testing.T, start clock.Millis, candidates ...network.Candidate) *harness {
	t.Helper()

	clk := clock.NewFake(start)
	log := logger.Nop()
	bus := events.NewBus(512, 512)
	rec := &recorder{}
	bus.Subscribe(rec)

	breakers := breaker.NewRegistry(clk, breaker.DefaultConfig(), NewBreakerListener(bus, clk))
	link := sim.NewLink(clk, 200*time.Millisecond)
	policy := network.NewReconnectPolicy(network.DefaultReconnectConfig(), clk, 1)
	selector := network.NewSelector(network.DefaultSelectorConfig(), clk, link, breakers, policy, log)
	for _, c := range candidates {
		require.NoError(t, selector.Add(c))
		link.SetCondition(c.ID, sim.Good)
	}

	dialer := sim.NewDialer()
	poolCfg := network.DefaultPoolConfig()
	poolCfg.Address = "collector:9000"

	store := persistence.NewMemoryStore()
	pipeline := sim.NewPipeline(clk, 100*time.Millisecond, 64)

	return &harness{
		t:        t,
		clk:      clk,
		link:     link,
		dialer:   dialer,
		pipeline: pipeline,
		store:    store,
		events:   rec,
		comps: Components{
			Clock:       clk,
			Logger:      log,
			Bus:         bus,
			Breakers:    breakers,
			Link:        link,
			Selector:    selector,
			Policy:      policy,
			Quality:     network.NewQualityMonitor(network.DefaultQualityConfig(), clk),
			Pool:        network.NewPool(poolCfg, clk, dialer, breakers, log),
			Health:      health.NewMonitor(health.DefaultConfig(), clk),
			Degradation: degradation.NewManager(degradation.DefaultConfig(), clk, log),
			Persister:   persistence.NewPersister(persistence.DefaultConfig(), store, clk, log),
			Pipeline:    pipeline,
		},
	}
}

func (h *harness) start(cfg Config) *Scheduler {
	h.t.Helper()
	s, err := New(cfg, h.comps)
	require.NoError(h.t, err)
	s.freeMemory = func() {}
	h.s = s
	return s
}

// step runs one iteration and advances the clock. Dials complete on their
// own goroutine, so give them a moment of real time while one is pending.
func (h *harness) step() {
	h.s.RunOnce()
	if h.s.pool.Dialing() {
		time.Sleep(time.Millisecond)
	}
	h.clk.Advance(tick)
}

func (h *harness) runFor(d time.Duration) {
	for i := 0; i < int(d/tick); i++ {
		h.step()
	}
}

// runUntil steps until cond holds or d of simulated time passes.
func (h *harness) runUntil(d time.Duration, cond func() bool) bool {
	for i := 0; i < int(d/tick); i++ {
		h.step()
		if cond() {
			return true
		}
	}
	return false
}

func (h *harness) inState(st State) func() bool {
	return func() bool { return h.s.State() == st }
}

func candidate(id string, priority int) network.Candidate {
	return network.Candidate{ID: id, Priority: priority, AutoConnect: true}
}

func TestNewRequiresComponents(t *testing.T) {
	h := newHarness(t, 0)
	h.comps.Pipeline = nil

	_, err := New(DefaultConfig(), h.comps)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrMissingComponent))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t, 0)
	cfg := DefaultConfig()
	cfg.Period = 0

	_, err := New(cfg, h.comps)
	assert.Error(t, err)
}

func TestZeroTimeoutNeverFires(t *testing.T) {
	h := newHarness(t, 0)
	cfg := DefaultConfig()
	cfg.Timeouts = Timeouts{}
	s := h.start(cfg)

	for i := 0; i < 1000; i++ {
		s.RunOnce()
		h.clk.Advance(time.Second)
	}

	assert.Equal(t, Initializing, s.State())
	assert.Zero(t, s.Status().Counters.Timeouts)
	assert.Nil(t, s.Status().LastTimeout)
}

func TestTimeoutForcesErrorWithDiagnostics(t *testing.T) {
	h := newHarness(t, 0)
	s := h.start(DefaultConfig())

	h.runFor(9 * time.Second)
	assert.Equal(t, Initializing, s.State())

	require.True(t, h.runUntil(2*time.Second, h.inState(Error)))

	st := s.Status()
	require.NotNil(t, st.LastTimeout)
	assert.Equal(t, "initializing", st.LastTimeout.State)
	assert.Equal(t, 10*time.Second, st.LastTimeout.Limit)
	assert.GreaterOrEqual(t, st.LastTimeout.Elapsed, 10*time.Second)
	assert.Equal(t, "normal", st.LastTimeout.Mode)
	assert.Equal(t, uint64(1), st.Counters.Timeouts)
	assert.Equal(t, 1, h.events.count(events.SystemError))

	last := st.History[len(st.History)-1]
	assert.True(t, last.Forced)
	assert.Equal(t, "error", last.To)
}

func TestTimeoutAcrossCounterWrap(t *testing.T) {
	h := newHarness(t, clock.Millis(0xFFFFFFFF-3000))
	s := h.start(DefaultConfig())

	h.runFor(9 * time.Second)
	assert.Equal(t, Initializing, s.State(), "counter wrap must not look like a long stay")

	require.True(t, h.runUntil(2*time.Second, h.inState(Error)))
	assert.Equal(t, uint64(1), s.Status().Counters.Timeouts)
}

func TestErrorTimeoutReentersError(t *testing.T) {
	h := newHarness(t, 0)
	s := h.start(DefaultConfig())
	require.True(t, h.runUntil(11*time.Second, h.inState(Error)))

	h.runFor(16 * time.Second)

	assert.Equal(t, Error, s.State())
	assert.Equal(t, uint64(2), s.Status().Counters.Timeouts)
	assert.Equal(t, uint64(2), s.Status().StateCounts["error"])
}

func TestRunOnceNeverSleeps(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	s := h.start(DefaultConfig())

	for i := 0; i < 500; i++ {
		s.RunOnce()
	}

	assert.Zero(t, h.clk.Slept())
	assert.Equal(t, uint64(500), s.Status().Counters.Iterations)
}

func TestNoCandidatesHoldsInitializing(t *testing.T) {
	h := newHarness(t, 0)
	cfg := DefaultConfig()
	cfg.Timeouts[Initializing] = 0
	s := h.start(cfg)

	h.runFor(5 * time.Second)
	assert.Equal(t, Initializing, s.State())
}

func TestConnectsAndStreams(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	telemetry := &healthRecorder{}
	h.comps.Telemetry = telemetry
	s := h.start(DefaultConfig())

	require.True(t, h.runUntil(10*time.Second, h.inState(Connected)))

	var path []string
	for _, tr := range s.Status().History {
		path = append(path, tr.To)
	}
	assert.Equal(t, []string{"connecting_link", "connecting_server", "connected"}, path)
	assert.Equal(t, "home", s.Status().ActiveNetwork)

	h.runFor(time.Second)

	assert.Equal(t, 1, h.events.count(events.LinkConnected))
	assert.Equal(t, 1, h.events.count(events.ServerConnected))
	assert.Equal(t, 3, h.events.count(events.StateChanged))

	conns := h.dialer.Conns()
	require.Len(t, conns, 1)
	assert.Positive(t, conns[0].Written())
	assert.Positive(t, s.Status().Counters.BytesSent)

	assert.NotEmpty(t, telemetry.samples)
	assert.Zero(t, s.Status().Counters.Refused)
}

func TestLinkLossReconnects(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	s := h.start(DefaultConfig())
	require.True(t, h.runUntil(10*time.Second, h.inState(Connected)))

	h.link.Drop()
	require.True(t, h.runUntil(time.Second, h.inState(Disconnected)))
	assert.Equal(t, 1, h.events.count(events.LinkDisconnected))
	assert.Empty(t, s.Status().Connections)

	h.runFor(time.Second)
	assert.Equal(t, Disconnected, s.State(), "disconnect is held before reconnecting")

	require.True(t, h.runUntil(30*time.Second, h.inState(Connected)))
	assert.Equal(t, uint64(1), s.counters.Reconnects)
	assert.Equal(t, uint64(1), s.counters.LinkDrops)
	assert.Equal(t, 2, h.events.count(events.LinkConnected))
}

func TestDialFailuresEnterSafeMode(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	h.dialer.FailNext(2)
	s := h.start(DefaultConfig())

	require.True(t, h.runUntil(10*time.Second, h.inState(Connected)))

	assert.Equal(t, degradation.SafeMode, s.degradation.Mode())
	assert.Equal(t, 1, h.events.count(events.ModeChanged))
	assert.Equal(t, uint64(2), s.Status().Pool.DialFailures)
	assert.False(t, s.Status().Features.Backup)
}

func TestTransientOutageSelfHeals(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	s := h.start(DefaultConfig())
	require.True(t, h.runUntil(10*time.Second, h.inState(Connected)))

	h.link.SetCondition("home", sim.Offline)
	h.runFor(30 * time.Second)
	assert.NotEqual(t, Connected, s.State())
	assert.False(t, s.recovery.Exhausted(), "an unavailable link must not use up the recovery budget")

	h.link.SetCondition("home", sim.Good)
	require.True(t, h.runUntil(5*time.Minute, h.inState(Connected)))

	assert.Zero(t, h.events.count(events.RecoveryFailed))
	assert.Equal(t, 2, h.events.count(events.LinkConnected))
	assert.Equal(t, "home", s.Status().ActiveNetwork)
}

// manualHarness connects to a network that is only joined on request: the
// restored last network at boot, or an operator reconnect.
func manualHarness(t *testing.T) (*harness, *Scheduler) {
	t.Helper()
	h := newHarness(t, 0, network.Candidate{ID: "manual", Priority: 10})

	snap := persistence.Default()
	snap.ActiveNetwork = 0
	require.NoError(t, h.store.Save(persistence.Encode(snap)))

	s := h.start(DefaultConfig())
	_, restored := s.Boot(persistence.BootClean)
	require.True(t, restored)
	return h, s
}

func TestRecoveryExhaustionAndForcedReconnect(t *testing.T) {
	h, s := manualHarness(t)
	require.True(t, h.runUntil(10*time.Second, h.inState(Connected)))

	h.link.Drop()
	require.True(t, h.runUntil(5*time.Minute, func() bool {
		return s.recovery.Exhausted() && s.State() == Error
	}))
	assert.Equal(t, 1, h.events.count(events.RecoveryFailed))
	assert.True(t, errors.HasCode(s.recovery.LastError(), ErrNoNetwork))

	h.runFor(40 * time.Second)
	assert.Equal(t, Error, s.State(), "exhausted recovery stays in error")
	assert.Equal(t, 1, h.events.count(events.RecoveryFailed))

	require.NoError(t, s.ForceReconnect())

	require.True(t, h.runUntil(30*time.Second, h.inState(Connected)))
	assert.False(t, s.recovery.Exhausted())
	assert.Equal(t, "manual", s.Status().ActiveNetwork)
}

func TestErrorTimeoutRearmsExhaustedRecovery(t *testing.T) {
	h := newHarness(t, 0, network.Candidate{ID: "manual", Priority: 10})
	s := h.start(DefaultConfig())
	require.True(t, h.runUntil(5*time.Minute, func() bool {
		return s.recovery.Exhausted() && s.State() == Error
	}))

	h.link.SetCondition("home", sim.Good)
	require.NoError(t, s.selector.Add(candidate("home", 5)))

	require.True(t, h.runUntil(time.Minute, h.inState(Connected)))
	assert.False(t, s.recovery.Exhausted())
	assert.Equal(t, "home", s.Status().ActiveNetwork)
}

func TestTimeoutFiresOnlyAfterLimit(t *testing.T) {
	h := newHarness(t, 0)
	s := h.start(DefaultConfig())

	h.clk.Advance(10 * time.Second)
	s.RunOnce()
	assert.Equal(t, Initializing, s.State(), "reaching the limit exactly is not a timeout")

	h.clk.Advance(tick)
	s.RunOnce()
	assert.Equal(t, Error, s.State())
}

// costlyWatchdog makes every iteration take cost of simulated time and
// cancels the loop after stopAt iterations.
type costlyWatchdog struct {
	clk    *clock.Fake
	cost   time.Duration
	stopAt int
	cancel context.CancelFunc
	feeds  int
}

func (w *costlyWatchdog) Feed() {
	w.feeds++
	w.clk.Advance(w.cost)
	if w.feeds == w.stopAt {
		w.cancel()
	}
}

func TestRunSleepsRemainderOfPeriod(t *testing.T) {
	tests := []struct {
		name  string
		cost  time.Duration
		slept time.Duration
	}{
		{"idle", 0, 30 * time.Millisecond},
		{"busy", 4 * time.Millisecond, 18 * time.Millisecond},
		{"overrun", 15 * time.Millisecond, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			wd := &costlyWatchdog{clk: h.clk, cost: tt.cost, stopAt: 3, cancel: cancel}
			h.comps.Watchdog = wd
			s := h.start(DefaultConfig())

			require.NoError(t, s.Run(ctx))
			assert.Equal(t, 3, wd.feeds)
			assert.Equal(t, tt.slept, h.clk.Slept())
		})
	}
}

func TestPeripheralBreakerGuardsSensorReads(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	dcfg := degradation.DefaultConfig()
	dcfg.SafeAfterFailures = 100
	dcfg.RecoveryAfterFailures = 100
	h.comps.Degradation = degradation.NewManager(dcfg, h.clk, logger.Nop())
	s := h.start(DefaultConfig())
	require.True(t, h.runUntil(10*time.Second, h.inState(Connected)))

	errorsBefore := s.counters.Errors
	h.pipeline.FailReads(5)
	h.runFor(5 * tick)

	b := s.breakers.Get(breaker.Peripheral)
	require.Equal(t, breaker.Open, b.State())
	assert.GreaterOrEqual(t, s.counters.Errors, errorsBefore+5)
	assert.Zero(t, s.healthInputs().SensorQuality)

	frames := h.pipeline.Frames()
	h.runFor(time.Second)
	assert.Equal(t, frames, h.pipeline.Frames(), "an open breaker stops sensor reads")

	require.True(t, h.runUntil(40*time.Second, func() bool { return b.State() == breaker.Closed }))
	h.runFor(time.Second)
	assert.Greater(t, h.pipeline.Frames(), frames)
	assert.Equal(t, Connected, s.State())
}

func TestPeripheralFailuresDegrade(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	s := h.start(DefaultConfig())
	require.True(t, h.runUntil(10*time.Second, h.inState(Connected)))

	h.pipeline.FailReads(2)
	h.runFor(3 * tick)

	assert.Equal(t, degradation.SafeMode, s.degradation.Mode())
	change, ok := s.degradation.LastChange()
	require.True(t, ok)
	assert.Equal(t, "repeated peripheral failures", change.Reason)
}

func TestStatusListsUnhealthyComponents(t *testing.T) {
	h := newHarness(t, 0)
	s := h.start(DefaultConfig())
	h.pipeline.SetQuality(0.1)

	s.RunOnce()

	assert.Contains(t, s.Status().Health.Unhealthy, "sensor")
}

func TestBootRestoresPersistedState(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10), candidate("cabin", 5))

	snap := persistence.Default()
	snap.ActiveNetwork = 1
	snap.Mode = uint8(degradation.ReducedQuality)
	snap.Stats.Reconnects = 7
	snap.Stats.UptimeSeconds = 3600
	require.NoError(t, h.store.Save(persistence.Encode(snap)))

	s := h.start(DefaultConfig())
	_, restored := s.Boot(persistence.BootClean)
	require.True(t, restored)

	assert.Equal(t, degradation.ReducedQuality, s.degradation.Mode())
	assert.Equal(t, uint64(7), s.Status().Counters.Reconnects)
	assert.Equal(t, "clean", s.Status().BootReason)

	require.True(t, h.runUntil(10*time.Second, h.inState(Connected)))
	assert.Equal(t, "cabin", s.Status().ActiveNetwork, "restored network is tried first")
	assert.GreaterOrEqual(t, s.Status().Counters.UptimeSeconds, uint64(3600))
}

func TestBootAfterWatchdogForcesSafeMode(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	s := h.start(DefaultConfig())

	_, restored := s.Boot(persistence.BootWatchdog)

	assert.False(t, restored)
	assert.Equal(t, degradation.SafeMode, s.degradation.Mode())
	assert.Equal(t, "safe_mode", s.Status().Mode)
}

func TestCorruptSnapshotBootsWithDefaults(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	require.NoError(t, h.store.Save([]byte{0xde, 0xad, 0xbe, 0xef}))
	s := h.start(DefaultConfig())

	_, restored := s.Boot(persistence.BootClean)

	assert.False(t, restored)
	assert.Equal(t, degradation.Normal, s.degradation.Mode())
	assert.Equal(t, uint64(1), s.Status().Persistence.Corruptions)
}

func TestModeChangeIsPersisted(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	h.comps.Persister = persistence.NewPersister(persistence.Config{}, h.store, h.clk, logger.Nop())
	s := h.start(DefaultConfig())

	s.RunOnce()
	writes := h.store.Saves()

	require.NoError(t, s.SetMode(degradation.SafeMode, "operator"))
	s.RunOnce()

	assert.Greater(t, h.store.Saves(), writes)
	record, err := h.store.Load()
	require.NoError(t, err)
	snap, err := persistence.Decode(record)
	require.NoError(t, err)
	assert.Equal(t, uint8(degradation.SafeMode), snap.Mode)
}

func TestShutdownFlushes(t *testing.T) {
	h := newHarness(t, 0, candidate("home", 10))
	s := h.start(DefaultConfig())
	require.True(t, h.runUntil(10*time.Second, h.inState(Connected)))
	writes := h.store.Saves()

	s.Shutdown()

	assert.Greater(t, h.store.Saves(), writes)
	for _, c := range h.dialer.Conns() {
		assert.True(t, c.Closed())
	}
}

func TestRefusedTransitionIsCounted(t *testing.T) {
	h := newHarness(t, 0)
	s := h.start(DefaultConfig())

	assert.False(t, s.transition(Connected, "skipping ahead"))
	assert.Equal(t, Initializing, s.State())
	assert.Equal(t, uint64(1), s.counters.Refused)
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Initializing, ConnectingLink, true},
		{Initializing, Connected, false},
		{ConnectingLink, ConnectingServer, true},
		{ConnectingServer, Connected, true},
		{Connected, Disconnected, true},
		{Connected, Initializing, false},
		{Disconnected, ConnectingLink, true},
		{Error, Error, true},
		{Error, Connected, false},
		{Maintenance, Connected, false},
		{State(42), Error, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseState(t *testing.T) {
	for _, st := range States() {
		got, ok := ParseState(st.String())
		require.True(t, ok)
		assert.Equal(t, st, got)
	}
	_, ok := ParseState("bogus")
	assert.False(t, ok)
}

// Package scheduler runs the control plane. All component state is owned by
// a single goroutine that calls RunOnce repeatedly; every multi-step process
// advances at most one step per iteration and nothing in an iteration
// blocks. Other goroutines observe the plane through the published Status
// snapshot and steer it through the Controller command queue.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync/atomic"
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
	"codeberg.org/mutker/streamctl/internal/recovery"
	"codeberg.org/mutker/streamctl/internal/stats"
)

// HostProbe supplies cached host readings.
type HostProbe interface {
	MemoryPressure() float64
	CPULoad() float64
	Temperature() (float64, bool)
}

// Pipeline is the sensor data path. Next returns a nil frame when none is
// due; an error is a failed peripheral read.
type Pipeline interface {
	Next(highFidelity bool) ([]byte, error)
	Requeue(frame []byte)
	Reset() int
	Quality() float64
}

// Watchdog is fed once per iteration.
type Watchdog interface {
	Feed()
}

// HealthRecorder receives health samples at the telemetry interval of the
// current mode.
type HealthRecorder interface {
	RecordHealth(h health.SystemHealth, state, mode string)
}

// Components are the collaborators the scheduler drives. Host, Watchdog
// and Telemetry are optional.
type Components struct {
	Clock       clock.Clock
	Logger      logger.Logger
	Bus         *events.Bus
	Breakers    *breaker.Registry
	Link        network.Link
	Selector    *network.Selector
	Policy      *network.ReconnectPolicy
	Quality     *network.QualityMonitor
	Pool        *network.Pool
	Health      *health.Monitor
	Degradation *degradation.Manager
	Persister   *persistence.Persister
	Pipeline    Pipeline
	Host        HostProbe
	Watchdog    Watchdog
	Telemetry   HealthRecorder
}

type Scheduler struct {
	cfg Config
	clk clock.Clock
	log logger.Logger

	bus         *events.Bus
	breakers    *breaker.Registry
	link        network.Link
	selector    *network.Selector
	policy      *network.ReconnectPolicy
	quality     *network.QualityMonitor
	pool        *network.Pool
	health      *health.Monitor
	degradation *degradation.Manager
	persister   *persistence.Persister
	pipeline    Pipeline
	host        HostProbe
	watchdog    Watchdog
	telemetry   HealthRecorder
	recovery    *recovery.Sequence
	freeMemory  func()

	state       State
	entered     clock.Millis
	history     *stats.Ring[Transition]
	stateCounts [stateCount]uint64
	lastTimeout *TimeoutDiagnostics

	bootReason persistence.BootReason
	baseline   persistence.ConnectionStats
	lastActive int
	lastTick   clock.Millis
	uptimeMs   uint64
	counters   Counters

	linkEverUp       bool
	lastDialFailures uint64
	qualityLow       bool
	lastHealth       health.Status
	memoryCritical   bool
	cpuOverload      bool
	predicted        map[health.FailureType]bool
	lastTelemetry    clock.Millis
	telemetrySent    bool
	waitingLogged    bool

	commands chan command
	status   atomic.Pointer[Status]
}

func New(cfg Config, c Components) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	required := map[string]bool{
		"clock":       c.Clock != nil,
		"logger":      c.Logger != nil,
		"bus":         c.Bus != nil,
		"breakers":    c.Breakers != nil,
		"link":        c.Link != nil,
		"selector":    c.Selector != nil,
		"policy":      c.Policy != nil,
		"quality":     c.Quality != nil,
		"pool":        c.Pool != nil,
		"health":      c.Health != nil,
		"degradation": c.Degradation != nil,
		"persister":   c.Persister != nil,
		"pipeline":    c.Pipeline != nil,
	}
	for name, ok := range required {
		if !ok {
			return nil, errors.New().WithData(ErrMissingComponent, name)
		}
	}

	s := &Scheduler{
		cfg:         cfg,
		clk:         c.Clock,
		log:         c.Logger,
		bus:         c.Bus,
		breakers:    c.Breakers,
		link:        c.Link,
		selector:    c.Selector,
		policy:      c.Policy,
		quality:     c.Quality,
		pool:        c.Pool,
		health:      c.Health,
		degradation: c.Degradation,
		persister:   c.Persister,
		pipeline:    c.Pipeline,
		host:        c.Host,
		watchdog:    c.Watchdog,
		telemetry:   c.Telemetry,
		freeMemory:  debug.FreeOSMemory,
		history:     stats.NewRing[Transition](cfg.HistorySize),
		lastActive:  int(persistence.NoNetwork),
		lastHealth:  health.Excellent,
		predicted:   make(map[health.FailureType]bool),
		commands:    make(chan command, max(cfg.ControlQueue, 1)),
	}
	s.recovery = recovery.NewSequence(cfg.Recovery, c.Clock, &actions{s: s}, c.Logger)

	now := s.clk.Millis()
	s.state = Initializing
	s.entered = now
	s.lastTick = now
	s.stateCounts[Initializing]++
	s.publishStatus()

	return s, nil
}

// Boot restores persisted state. reason decides whether the restored mode
// is trusted or SAFE_MODE is forced.
func (s *Scheduler) Boot(reason persistence.BootReason) (persistence.Snapshot, bool) {
	s.bootReason = reason
	snap, restored := s.persister.LoadOnBoot()

	if restored {
		s.baseline = snap.Stats
		if snap.ActiveNetwork >= 0 && s.selector.Prefer(int(snap.ActiveNetwork)) {
			s.lastActive = int(snap.ActiveNetwork)
		}
		if mode := degradation.Mode(snap.Mode); mode.Valid() && mode != degradation.Normal {
			if change, ok := s.degradation.SetMode(mode, "restored"); ok {
				s.onModeChange(change)
			}
		}
	}

	if reason.ForcesSafeMode() && s.degradation.Mode() < degradation.SafeMode {
		if change, ok := s.degradation.SetMode(degradation.SafeMode, "boot after "+reason.String()); ok {
			s.onModeChange(change)
		}
	}

	s.log.Info().
		Str("boot_reason", reason.String()).
		Bool("restored", restored).
		Str("mode", s.degradation.Mode().String()).
		Msg("Control plane booted")

	s.publishStatus()
	return snap, restored
}

// Run calls RunOnce every Period until ctx is done, then shuts down. Each
// iteration sleeps only for what is left of the period.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Dur("period", s.cfg.Period).Msg("Control loop started")
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return nil
		default:
		}
		start := s.clk.Now()
		s.RunOnce()
		if rest := s.cfg.Period - s.clk.Now().Sub(start); rest > 0 {
			s.clk.Sleep(rest)
		}
	}
}

// RunOnce performs one bounded iteration.
func (s *Scheduler) RunOnce() {
	start := s.clk.Millis()
	s.uptimeMs += uint64(start.Since(s.lastTick))
	s.lastTick = start

	if s.watchdog != nil {
		s.watchdog.Feed()
	}

	s.drainControl()
	s.checkTimeout()
	s.step()
	s.stepRecovery()
	s.sampleQuality()
	s.checkHealth()
	s.stepDataPath()
	s.recordTelemetry()
	s.bus.Dispatch()
	s.persist()

	s.counters.Iterations++
	if elapsed := time.Duration(s.clk.Millis().Since(start)) * time.Millisecond; elapsed > s.cfg.Budget {
		s.counters.Overruns++
		s.log.Debug().Dur("elapsed", elapsed).Msg("Iteration over budget")
	}

	s.publishStatus()
}

// Shutdown flushes persisted state and closes connections. It must be
// called from the goroutine that runs RunOnce.
func (s *Scheduler) Shutdown() {
	if err := s.persister.Flush(s.snapshot()); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist state on shutdown")
	}
	s.selector.Abandon()
	s.pool.CloseAll()
	s.link.Disconnect()
	s.bus.Dispatch()
	s.publishStatus()
	s.log.Info().Msg("Control loop stopped")
}

func (s *Scheduler) State() State { return s.state }

func (s *Scheduler) timeInState() time.Duration {
	return time.Duration(s.clk.Millis().Since(s.entered)) * time.Millisecond
}

func (s *Scheduler) step() {
	switch s.state {
	case Initializing:
		s.stepInitializing()
	case ConnectingLink:
		s.stepConnectingLink()
	case ConnectingServer:
		s.stepConnectingServer()
	case Connected:
		s.stepConnected()
	case Disconnected:
		if s.timeInState() >= s.cfg.DisconnectHold {
			s.transition(ConnectingLink, "reconnecting")
		}
	case Error:
		if !s.recovery.InProgress() && !s.recovery.Exhausted() {
			s.recovery.Start()
		}
	case Maintenance:
	}
}

func (s *Scheduler) stepInitializing() {
	if len(s.selector.Candidates()) == 0 {
		if !s.waitingLogged {
			s.log.Warn().Msg("No candidate networks configured")
			s.waitingLogged = true
		}
		return
	}
	s.transition(ConnectingLink, "initialized")
}

func (s *Scheduler) stepConnectingLink() {
	switch s.selector.ConnectToBest() {
	case network.Connected:
		c, _ := s.selector.Active()
		s.onLinkUp(c)
		s.transition(ConnectingServer, "link up on "+c.ID)
	case network.AttemptFailed:
		s.counters.Errors++
		s.noteFailure("link")
	}
}

func (s *Scheduler) stepConnectingServer() {
	if !s.linkUp() {
		s.onLinkLost()
		s.transition(Disconnected, "link lost")
		return
	}

	s.pool.Step()
	s.noteDialFailures()

	if primary := s.pool.Primary(); primary != nil {
		s.degradation.RecordSuccess()
		s.publish(events.ServerConnected, "", "", primary.Addr, 0)
		s.transition(Connected, "server connected")
	}
}

func (s *Scheduler) stepConnected() {
	if !s.linkUp() {
		s.onLinkLost()
		s.transition(Disconnected, "link lost")
		return
	}

	if !s.pool.HasPrimary() {
		if err := s.pool.FailoverToBackup(); err != nil {
			s.publish(events.ServerDisconnected, "", "", "", 0)
			s.transition(ConnectingServer, "server connection lost")
			return
		}
		s.publish(events.FailoverCompleted, "", "", s.pool.Primary().ID, 0)
	}

	s.pool.Step()
	s.noteDialFailures()

	if s.qualityLow {
		if err := s.selector.SwitchToNext(); err == nil {
			s.pool.CloseAll()
			s.transition(ConnectingLink, "link quality below floor")
		}
	}
}

func (s *Scheduler) linkUp() bool {
	active, ok := s.selector.Active()
	if !ok {
		return false
	}
	st := s.link.Status()
	return st.State == network.LinkUp && st.NetworkID == active.ID
}

func (s *Scheduler) onLinkUp(c network.Candidate) {
	s.quality.Reset()
	s.degradation.RecordSuccess()
	if s.linkEverUp {
		s.counters.Reconnects++
	}
	s.linkEverUp = true
	s.lastActive = s.selector.ActiveIndex()
	s.publish(events.LinkConnected, "", "", c.ID, 0)
}

func (s *Scheduler) onLinkLost() {
	subject := ""
	if c, ok := s.selector.Active(); ok {
		subject = c.ID
	}
	s.selector.MarkLost()
	s.quality.RecordDrop()
	s.pool.CloseAll()
	s.counters.LinkDrops++
	s.counters.Errors++
	s.publish(events.LinkDisconnected, "", "", subject, 0)
	s.noteFailure("link")
}

func (s *Scheduler) noteDialFailures() {
	failures := s.pool.Stats().DialFailures
	for ; s.lastDialFailures < failures; s.lastDialFailures++ {
		s.counters.Errors++
		s.noteFailure("transport")
	}
}

func (s *Scheduler) noteFailure(component string) {
	if change, ok := s.degradation.RecordFailure(component); ok {
		s.onModeChange(change)
	}
}

func (s *Scheduler) onModeChange(c degradation.Change) {
	f := s.degradation.Features()
	s.pool.SetBackupEnabled(f.Backup)
	s.health.SetPredictionsEnabled(f.Predictions)
	s.publish(events.ModeChanged, c.From.String(), c.To.String(), c.Reason, 0)

	if c.To == degradation.Recovery && !s.recovery.InProgress() && !s.recovery.Exhausted() {
		s.recovery.Start()
	}
}

// transition moves to a state allowed by the transition table.
func (s *Scheduler) transition(to State, reason string) bool {
	if !CanTransition(s.state, to) {
		s.counters.Refused++
		s.log.Warn().
			Str("from", s.state.String()).
			Str("to", to.String()).
			Str("reason", reason).
			Msg("Refused invalid state transition")
		return false
	}
	s.enter(to, reason, false)
	return true
}

// forceState enters a state without consulting the transition table.
func (s *Scheduler) forceState(to State, reason string) {
	s.enter(to, reason, true)
}

func (s *Scheduler) enter(to State, reason string, forced bool) {
	from := s.state
	if from == ConnectingLink && to != ConnectingServer {
		s.selector.Abandon()
	}

	s.state = to
	s.entered = s.clk.Millis()
	s.stateCounts[to]++
	s.counters.Transitions++
	s.history.Push(Transition{
		From:   from.String(),
		To:     to.String(),
		Reason: reason,
		At:     s.clk.Now(),
		Forced: forced,
	})

	s.log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Bool("forced", forced).
		Msg("State changed")
	s.publish(events.StateChanged, from.String(), to.String(), reason, 0)

	if to == Error {
		s.publish(events.SystemError, from.String(), to.String(), reason, 0)
		// The ERROR timeout re-enters ERROR; that retry re-arms an exhausted
		// sequence once a network can be joined again.
		if from == Error && s.recovery.Exhausted() && s.selector.CanAutoConnect() {
			s.log.Info().Msg("Re-arming exhausted recovery")
			s.recovery.Reset()
		}
		if !s.recovery.InProgress() && !s.recovery.Exhausted() {
			s.recovery.Start()
		}
	}
}

func (s *Scheduler) checkTimeout() {
	limit := s.cfg.Timeouts[s.state]
	if limit <= 0 {
		return
	}
	elapsed := s.timeInState()
	if elapsed <= limit {
		return
	}

	diag := s.diagnostics(limit, elapsed)
	s.lastTimeout = &diag
	s.counters.Timeouts++
	s.counters.Errors++

	s.log.Warn().
		Str("state", diag.State).
		Dur("limit", limit).
		Dur("elapsed", elapsed).
		Str("link_state", diag.LinkState).
		Bool("has_primary", diag.HasPrimary).
		Strs("open_breakers", diag.OpenBreakers).
		Msg("State timed out")

	s.forceState(Error, "timeout in "+diag.State)
}

func (s *Scheduler) diagnostics(limit, elapsed time.Duration) TimeoutDiagnostics {
	st := s.link.Status()
	d := TimeoutDiagnostics{
		State:      s.state.String(),
		Limit:      limit,
		Elapsed:    elapsed,
		At:         s.clk.Now(),
		Network:    st.NetworkID,
		LinkState:  st.State.String(),
		HasPrimary: s.pool.HasPrimary(),
		Dialing:    s.pool.Dialing(),
		Mode:       s.degradation.Mode().String(),
		Health:     s.health.Current().Overall,
	}
	for _, b := range s.breakers.Snapshot() {
		if b.State == breaker.Open.String() {
			d.OpenBreakers = append(d.OpenBreakers, b.Name)
		}
	}
	return d
}

func (s *Scheduler) stepRecovery() {
	if !s.recovery.InProgress() {
		return
	}

	before := s.recovery.Phase()
	after := s.recovery.Step()

	switch {
	case before == recovery.Retry && after == recovery.Idle:
		if s.pool.HasPrimary() {
			s.degradation.RecordSuccess()
		}
		if s.state == Error {
			s.transition(ConnectingLink, "recovered")
		}
	case after == recovery.Failed:
		s.counters.Errors++
		s.publish(events.RecoveryFailed, "", "", s.state.String(), float64(s.recovery.Attempts()))
		if s.state != Error {
			s.transition(Error, "recovery exhausted")
		}
	}
}

func (s *Scheduler) sampleQuality() {
	if !s.quality.Due() {
		return
	}
	q := s.quality.Sample(s.link.Status())

	low := q.Connected && s.selector.ShouldSwitch(q)
	if low && !s.qualityLow {
		s.publish(events.QualityDegraded, "", "", q.NetworkID, q.Score)
	}
	s.qualityLow = low
}

func (s *Scheduler) healthInputs() health.Inputs {
	in := health.Inputs{SensorQuality: s.pipeline.Quality()}

	if q := s.quality.Metrics(); q.Connected {
		in.LinkStability = q.Stability
	}
	if st, ok := s.breakers.State(breaker.Transport); ok && st == breaker.Open {
		in.LinkStability *= 0.5
	}
	if st, ok := s.breakers.State(breaker.Peripheral); ok && st == breaker.Open {
		in.SensorQuality = 0
	}
	if s.host != nil {
		in.MemoryPressure = s.host.MemoryPressure()
		in.CPULoad = s.host.CPULoad()
		in.Temperature, in.TemperatureKnown = s.host.Temperature()
	}
	return in
}

func (s *Scheduler) checkHealth() {
	if !s.health.Due() {
		return
	}

	h := s.health.CheckHealth(s.healthInputs())

	if h.Status != s.lastHealth {
		s.publish(events.HealthChanged, s.lastHealth.String(), h.Status.String(), "", h.Overall)
		s.lastHealth = h.Status
	}

	memoryCritical, cpuOverload := false, h.Inputs.CPULoad > s.health.Thresholds().CPULoad
	for _, c := range h.Critical {
		if c == health.Memory {
			memoryCritical = true
		}
	}
	if memoryCritical && !s.memoryCritical {
		s.publish(events.MemoryCritical, "", "", health.Memory.String(), h.Inputs.MemoryPressure)
	}
	if cpuOverload && !s.cpuOverload {
		s.publish(events.CPUOverload, "", "", health.System.String(), h.Inputs.CPULoad)
	}
	s.memoryCritical, s.cpuOverload = memoryCritical, cpuOverload

	predicted := make(map[health.FailureType]bool)
	for _, p := range s.health.Predictions() {
		predicted[p.Type] = true
		if !s.predicted[p.Type] {
			s.publish(events.FailurePredicted, "", "", p.Type.String(), p.Probability)
		}
	}
	s.predicted = predicted

	if change, ok := s.degradation.Update(h.Overall); ok {
		s.onModeChange(change)
	}

	if s.health.CanAutoRecover() && !s.recovery.InProgress() && !s.recovery.Exhausted() {
		s.recovery.Start()
	}
}

func (s *Scheduler) stepDataPath() {
	if s.state != Connected {
		return
	}
	f := s.degradation.Features()
	if !f.DataPath || !f.Capture {
		return
	}

	var frame []byte
	err := s.breakers.Get(breaker.Peripheral).Execute(func() error {
		var err error
		frame, err = s.pipeline.Next(f.HighFidelity)
		return err
	})
	switch {
	case errors.HasCode(err, breaker.ErrOpen):
		return
	case err != nil:
		s.counters.Errors++
		s.log.Debug().Err(err).Msg("Sensor read failed")
		s.noteFailure("peripheral")
		return
	case frame == nil:
		return
	}
	s.degradation.RecordSuccess()

	if err := s.pool.Write(frame); err != nil {
		s.pipeline.Requeue(frame)
		s.counters.Errors++
		s.log.Debug().Err(err).Msg("Frame write failed")
	}
}

func (s *Scheduler) recordTelemetry() {
	if s.telemetry == nil || !s.health.Checked() {
		return
	}
	interval := s.degradation.Features().TelemetryInterval
	if interval <= 0 {
		return
	}
	now := s.clk.Millis()
	if s.telemetrySent && !now.Elapsed(s.lastTelemetry, interval) {
		return
	}
	s.telemetry.RecordHealth(s.health.Current(), s.state.String(), s.degradation.Mode().String())
	s.lastTelemetry = now
	s.telemetrySent = true
}

func (s *Scheduler) persist() {
	if _, err := s.persister.MaybePersist(s.snapshot()); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist state")
	}
}

func (s *Scheduler) snapshot() persistence.Snapshot {
	c := s.cumulative()
	h := s.health.Current()
	return persistence.Snapshot{
		Version:       persistence.SchemaVersion,
		ActiveNetwork: int16(s.lastActive),
		Stats: persistence.ConnectionStats{
			UptimeSeconds: uint32(c.UptimeSeconds),
			Reconnects:    uint32(c.Reconnects),
			Failovers:     uint32(c.Failovers),
			Errors:        uint32(c.Errors),
			BytesSent:     c.BytesSent,
			BytesReceived: c.BytesReceived,
		},
		Health: persistence.HealthSummary{Score: float32(h.Overall), Status: uint8(h.Status)},
		Mode:   uint8(s.degradation.Mode()),
	}
}

// cumulative merges the restored baseline with this run's counters.
func (s *Scheduler) cumulative() Counters {
	ps := s.pool.Stats()
	c := s.counters
	c.UptimeSeconds = uint64(s.baseline.UptimeSeconds) + s.uptimeMs/1000
	c.Reconnects = uint64(s.baseline.Reconnects) + s.counters.Reconnects + ps.Reconnects
	c.Failovers = uint64(s.baseline.Failovers) + ps.Failovers
	c.Errors = uint64(s.baseline.Errors) + s.counters.Errors
	c.BytesSent = s.baseline.BytesSent + ps.BytesSent
	c.BytesReceived = s.baseline.BytesReceived + ps.BytesReceived
	return c
}

func (s *Scheduler) publish(kind events.Kind, from, to, subject string, value float64) {
	s.bus.Publish(events.Event{
		Kind:    kind,
		At:      s.clk.Now(),
		From:    from,
		To:      to,
		Subject: subject,
		Value:   value,
	})
}

// Status returns the latest published snapshot. Safe for concurrent use.
func (s *Scheduler) Status() *Status {
	return s.status.Load()
}

func (s *Scheduler) publishStatus() {
	h := s.health.Current()
	st := &Status{
		At:          s.clk.Now(),
		BootReason:  s.bootReason.String(),
		State:       s.state.String(),
		TimeInState: s.timeInState(),
		Mode:        s.degradation.Mode().String(),
		Features:    s.degradation.Features(),
		Health: HealthStatus{
			Overall:          h.Overall,
			Status:           h.Status.String(),
			Network:          h.Network,
			Memory:           h.Memory,
			Sensor:           h.Sensor,
			System:           h.System,
			Trend:            s.health.Trend(),
			MemoryPressure:   h.Inputs.MemoryPressure,
			CPULoad:          h.Inputs.CPULoad,
			Temperature:      h.Inputs.Temperature,
			TemperatureKnown: h.Inputs.TemperatureKnown,
			AutoRecovery:     s.health.AutoRecovery(),
		},
		Quality:     s.quality.Metrics(),
		ActiveIndex: s.selector.ActiveIndex(),
		Candidates:  s.selector.Candidates(),
		Breakers:    s.breakers.Snapshot(),
		Connections: s.pool.Connections(),
		Pool:        s.pool.Stats(),
		Recovery:    s.recovery.Stats(),
		Persistence: s.persister.Stats(),
		Events:      s.bus.Stats(),
		Counters:    s.cumulative(),
		StateCounts: make(map[string]uint64, stateCount),
		History:     s.history.Values(),
		LastTimeout: s.lastTimeout,
	}
	for _, c := range h.Critical {
		st.Health.Critical = append(st.Health.Critical, c.String())
	}
	for _, c := range s.health.UnhealthyComponents() {
		st.Health.Unhealthy = append(st.Health.Unhealthy, c.String())
	}
	for _, p := range s.health.Predictions() {
		st.Predictions = append(st.Predictions, Prediction{
			Component:     p.Component.String(),
			Type:          p.Type.String(),
			Probability:   p.Probability,
			TimeToFailure: p.TimeToFailure,
			Action:        p.Action,
		})
	}
	if c, ok := s.selector.Active(); ok {
		st.ActiveNetwork = c.ID
	}
	for i, n := range s.stateCounts {
		if n > 0 {
			st.StateCounts[State(i).String()] = n
		}
	}
	s.status.Store(st)
}

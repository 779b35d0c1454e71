// Package health combines link, memory, sensor and system readings into a
// composite score, buckets it into a status and extrapolates trends into
// failure predictions.
package health

import (
	"sort"
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/stats"
)

// Monitor is owned by the control loop and is not safe for concurrent use.
type Monitor struct {
	cfg     Config
	weights Weights
	clk     clock.Clock

	history     *stats.Ring[SystemHealth]
	current     SystemHealth
	checked     bool
	lastCheck   clock.Millis
	predictions []FailurePrediction

	autoRecovery bool
	predict      bool
	checks       uint64
}

func NewMonitor(cfg Config, clk clock.Clock) *Monitor {
	return &Monitor{
		cfg:          cfg,
		weights:      cfg.Weights.normalized(),
		clk:          clk,
		history:      stats.NewRing[SystemHealth](cfg.HistorySize),
		current:      SystemHealth{Network: 1, Memory: 1, Sensor: 1, System: 1, Overall: 1, Status: Excellent},
		autoRecovery: true,
		predict:      true,
	}
}

// Due reports whether the check period has elapsed.
func (m *Monitor) Due() bool {
	return !m.checked || m.clk.Millis().Elapsed(m.lastCheck, m.cfg.Period)
}

// CheckHealth scores in, records the result and refreshes predictions.
func (m *Monitor) CheckHealth(in Inputs) SystemHealth {
	h := m.Evaluate(in)
	h.At = m.clk.Now()
	h.Tick = m.clk.Millis()

	m.current = h
	m.history.Push(h)
	m.checked = true
	m.lastCheck = h.Tick
	m.checks++

	if m.predict {
		m.predictions = m.computePredictions()
	} else {
		m.predictions = nil
	}

	return h
}

// Evaluate scores in without recording it.
func (m *Monitor) Evaluate(in Inputs) SystemHealth {
	t := m.cfg.Thresholds
	h := SystemHealth{
		Network: stats.Clamp01(in.LinkStability),
		Memory:  stats.Clamp01(1 - in.MemoryPressure),
		Sensor:  stats.Clamp01(in.SensorQuality),
		System:  cpuFactor(in.CPULoad) * temperatureFactor(in.Temperature, in.TemperatureKnown),
		Inputs:  in,
	}

	w := m.weights
	h.Overall = stats.Clamp01(w.Network*h.Network + w.Memory*h.Memory + w.Sensor*h.Sensor + w.System*h.System)
	h.Status = StatusFor(h.Overall)

	if in.LinkStability < t.LinkStability {
		h.Critical = append(h.Critical, Network)
	}
	if in.MemoryPressure > t.MemoryPressure {
		h.Critical = append(h.Critical, Memory)
	}
	if in.SensorQuality < t.SensorQuality {
		h.Critical = append(h.Critical, Sensor)
	}
	if in.CPULoad > t.CPULoad || (in.TemperatureKnown && in.Temperature > t.Temperature) {
		h.Critical = append(h.Critical, System)
	}
	if len(h.Critical) > 0 {
		h.Status = Critical
	}

	return h
}

// cpuFactor is 1 up to half load and falls linearly to 0 at full load.
func cpuFactor(load float64) float64 {
	if load <= 50 {
		return 1
	}
	return stats.Clamp01(1 - (load-50)/50)
}

// temperatureFactor is 1 up to 60°C and falls linearly to 0 at 100°C.
func temperatureFactor(celsius float64, known bool) float64 {
	if !known || celsius <= 60 {
		return 1
	}
	return stats.Clamp01(1 - (celsius-60)/40)
}

func (m *Monitor) Current() SystemHealth { return m.current }

// Checked reports whether at least one check has run.
func (m *Monitor) Checked() bool { return m.checked }

func (m *Monitor) Checks() uint64 { return m.checks }

// History returns the recorded checks, oldest first.
func (m *Monitor) History() []SystemHealth {
	return m.history.Values()
}

// Trend returns the slope of the overall score in points per second over
// the recorded window.
func (m *Monitor) Trend() float64 {
	xs, ys := m.series(func(h SystemHealth) float64 { return h.Overall })
	return stats.Slope(xs, ys)
}

// UnhealthyComponents lists factors that are critical or score below the
// unhealthy threshold.
func (m *Monitor) UnhealthyComponents() []Component {
	var out []Component
	for c := Network; c < componentCount; c++ {
		if m.current.Score(c) < m.cfg.Thresholds.Unhealthy || m.isCritical(c) {
			out = append(out, c)
		}
	}
	return out
}

func (m *Monitor) isCritical(c Component) bool {
	for _, cc := range m.current.Critical {
		if cc == c {
			return true
		}
	}
	return false
}

// CanAutoRecover is true only while the status is POOR and auto recovery
// is enabled.
func (m *Monitor) CanAutoRecover() bool {
	return m.autoRecovery && m.checked && m.current.Status == Poor
}

func (m *Monitor) SetAutoRecovery(enabled bool) { m.autoRecovery = enabled }

func (m *Monitor) AutoRecovery() bool { return m.autoRecovery }

// SetPredictionsEnabled turns trend extrapolation on or off. Disabling it
// clears the current predictions.
func (m *Monitor) SetPredictionsEnabled(enabled bool) {
	m.predict = enabled
	if !enabled {
		m.predictions = nil
	}
}

func (m *Monitor) SetThresholds(t Thresholds) { m.cfg.Thresholds = t }

func (m *Monitor) Thresholds() Thresholds { return m.cfg.Thresholds }

// SetConfig applies cfg. History is kept when its size is unchanged.
func (m *Monitor) SetConfig(cfg Config) {
	if cfg.HistorySize != m.cfg.HistorySize {
		old := m.history.Values()
		m.history = stats.NewRing[SystemHealth](cfg.HistorySize)
		for _, h := range old {
			m.history.Push(h)
		}
	}
	m.cfg = cfg
	m.weights = cfg.Weights.normalized()
}

// Predictions returns the predictions from the latest check, most
// imminent first.
func (m *Monitor) Predictions() []FailurePrediction {
	out := make([]FailurePrediction, len(m.predictions))
	copy(out, m.predictions)
	return out
}

// series returns seconds relative to the newest sample and the selected value.
func (m *Monitor) series(pick func(SystemHealth) float64) ([]float64, []float64) {
	values := m.history.Values()
	if len(values) == 0 {
		return nil, nil
	}
	newest := values[len(values)-1].Tick
	xs := make([]float64, len(values))
	ys := make([]float64, len(values))
	for i, h := range values {
		xs[i] = -float64(newest.Since(h.Tick)) / 1000
		ys[i] = pick(h)
	}
	return xs, ys
}

type trendRule struct {
	component Component
	failure   FailureType
	pick      func(SystemHealth) float64
	threshold float64
	rising    bool
	action    string
}

func (m *Monitor) rules() []trendRule {
	t := m.cfg.Thresholds
	return []trendRule{
		{Network, LinkLoss, func(h SystemHealth) float64 { return h.Inputs.LinkStability }, t.LinkStability, false, "prepare backup link"},
		{Memory, MemoryExhaustion, func(h SystemHealth) float64 { return h.Inputs.MemoryPressure }, t.MemoryPressure, true, "release buffers"},
		{Sensor, SensorFailure, func(h SystemHealth) float64 { return h.Inputs.SensorQuality }, t.SensorQuality, false, "reduce capture fidelity"},
		{System, Overheat, func(h SystemHealth) float64 { return h.Inputs.Temperature }, t.Temperature, true, "reduce load"},
		{System, SystemDegradation, func(h SystemHealth) float64 { return h.Overall }, m.cfg.FailureScore, false, "enter safe mode"},
	}
}

func (m *Monitor) computePredictions() []FailurePrediction {
	if m.history.Len() < m.cfg.MinSamples {
		return nil
	}

	horizon := m.cfg.Horizon.Seconds()
	var out []FailurePrediction
	for _, r := range m.rules() {
		if r.failure == Overheat && !m.current.Inputs.TemperatureKnown {
			continue
		}
		xs, ys := m.series(r.pick)
		slope := stats.Slope(xs, ys)
		current := ys[len(ys)-1]

		var ttf float64
		switch {
		case r.rising && slope > 0 && current < r.threshold:
			ttf = (r.threshold - current) / slope
		case !r.rising && slope < 0 && current > r.threshold:
			ttf = (current - r.threshold) / -slope
		default:
			continue
		}
		if ttf > horizon {
			continue
		}

		out = append(out, FailurePrediction{
			Component:     r.component,
			Type:          r.failure,
			Probability:   stats.Clamp(1-ttf/horizon, 0.05, 1),
			TimeToFailure: time.Duration(ttf * float64(time.Second)),
			Action:        r.action,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimeToFailure < out[j].TimeToFailure
	})
	return out
}

package health

import (
	"testing"
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyInputs() Inputs {
	return Inputs{
		LinkStability:    1,
		MemoryPressure:   0,
		SensorQuality:    1,
		CPULoad:          10,
		Temperature:      40,
		TemperatureKnown: true,
	}
}

func newTestMonitor(t *testing.T) (*Monitor, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(0)
	return NewMonitor(DefaultConfig(), clk), clk
}

func TestStatusBuckets(t *testing.T) {
	tests := []struct {
		score float64
		want  Status
	}{
		{1.0, Excellent},
		{0.9, Excellent},
		{0.89, Good},
		{0.7, Good},
		{0.69, Fair},
		{0.5, Fair},
		{0.49, Poor},
		{0.3, Poor},
		{0.29, Critical},
		{0, Critical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.score), "score %.2f", tt.score)
	}
}

func TestHealthyInputsScoreExcellent(t *testing.T) {
	m, _ := newTestMonitor(t)

	h := m.CheckHealth(healthyInputs())

	assert.InDelta(t, 1.0, h.Overall, 1e-9)
	assert.Equal(t, Excellent, h.Status)
	assert.Empty(t, h.Critical)
	assert.Empty(t, m.UnhealthyComponents())
}

func TestCompositeIsWeightedSum(t *testing.T) {
	m, _ := newTestMonitor(t)
	in := healthyInputs()
	in.LinkStability = 0.5

	h := m.CheckHealth(in)

	assert.InDelta(t, 0.8, h.Overall, 1e-9)
	assert.Equal(t, Good, h.Status)
}

func TestWeightsAreNormalized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = Weights{Network: 1, Memory: 1, Sensor: 1, System: 1}
	m := NewMonitor(cfg, clock.NewFake(0))
	in := healthyInputs()
	in.SensorQuality = 0.6

	h := m.Evaluate(in)

	assert.InDelta(t, 0.9, h.Overall, 1e-9)
}

func TestCriticalOverrides(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Inputs)
		want   Component
	}{
		{"memory pressure", func(in *Inputs) { in.MemoryPressure = 0.95 }, Memory},
		{"link stability", func(in *Inputs) { in.LinkStability = 0.2 }, Network},
		{"sensor quality", func(in *Inputs) { in.SensorQuality = 0.1 }, Sensor},
		{"cpu load", func(in *Inputs) { in.CPULoad = 95 }, System},
		{"temperature", func(in *Inputs) { in.Temperature = 85 }, System},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMonitor(t)
			in := healthyInputs()
			tt.mutate(&in)

			h := m.CheckHealth(in)

			assert.Equal(t, Critical, h.Status)
			assert.Contains(t, h.Critical, tt.want)
			assert.Contains(t, m.UnhealthyComponents(), tt.want)
		})
	}
}

func TestUnknownTemperatureIsIgnored(t *testing.T) {
	m, _ := newTestMonitor(t)
	in := healthyInputs()
	in.Temperature = 95
	in.TemperatureKnown = false

	h := m.CheckHealth(in)

	assert.Equal(t, Excellent, h.Status)
	assert.InDelta(t, 1.0, h.System, 1e-9)
}

func TestUnhealthyComponentBelowThreshold(t *testing.T) {
	m, _ := newTestMonitor(t)
	in := healthyInputs()
	in.LinkStability = 0.4

	h := m.CheckHealth(in)

	assert.Empty(t, h.Critical)
	assert.Equal(t, []Component{Network}, m.UnhealthyComponents())
}

func TestCanAutoRecoverOnlyWhenPoor(t *testing.T) {
	m, _ := newTestMonitor(t)
	assert.False(t, m.CanAutoRecover(), "no check yet")

	poor := Inputs{LinkStability: 0.3, MemoryPressure: 0.6, SensorQuality: 0.3, CPULoad: 10}
	h := m.CheckHealth(poor)
	require.Equal(t, Poor, h.Status)
	assert.True(t, m.CanAutoRecover())

	m.SetAutoRecovery(false)
	assert.False(t, m.CanAutoRecover())
	m.SetAutoRecovery(true)

	fair := Inputs{LinkStability: 0.5, MemoryPressure: 0.5, SensorQuality: 0.5, CPULoad: 10}
	h = m.CheckHealth(fair)
	require.Equal(t, Fair, h.Status)
	assert.False(t, m.CanAutoRecover())

	in := healthyInputs()
	in.MemoryPressure = 0.95
	m.CheckHealth(in)
	assert.False(t, m.CanAutoRecover(), "critical is not auto-recoverable")
}

func TestDueFollowsPeriod(t *testing.T) {
	m, clk := newTestMonitor(t)

	assert.True(t, m.Due())
	m.CheckHealth(healthyInputs())
	assert.False(t, m.Due())

	clk.Advance(9 * time.Second)
	assert.False(t, m.Due())
	clk.Advance(time.Second)
	assert.True(t, m.Due())
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	clk := clock.NewFake(0)
	m := NewMonitor(cfg, clk)

	for i := 0; i < 5; i++ {
		m.CheckHealth(healthyInputs())
		clk.Advance(cfg.Period)
	}

	assert.Len(t, m.History(), 3)
	assert.Equal(t, uint64(5), m.Checks())
}

func TestPredictsLinkLossFromDecliningStability(t *testing.T) {
	m, clk := newTestMonitor(t)

	for _, s := range []float64{1.0, 0.9, 0.8, 0.7, 0.6} {
		in := healthyInputs()
		in.LinkStability = s
		m.CheckHealth(in)
		clk.Advance(10 * time.Second)
	}

	preds := m.Predictions()
	require.Len(t, preds, 1)
	assert.Equal(t, LinkLoss, preds[0].Type)
	assert.Equal(t, Network, preds[0].Component)
	assert.InDelta(t, 30, preds[0].TimeToFailure.Seconds(), 0.01)
	assert.InDelta(t, 0.5, preds[0].Probability, 0.01)
	assert.InDelta(t, 0.4*-0.01, m.Trend(), 1e-6)
}

func TestNoPredictionsBeforeMinimumSamples(t *testing.T) {
	m, clk := newTestMonitor(t)

	for _, s := range []float64{1.0, 0.8, 0.6, 0.4} {
		in := healthyInputs()
		in.LinkStability = s
		m.CheckHealth(in)
		clk.Advance(10 * time.Second)
	}

	assert.Empty(t, m.Predictions())
}

func TestPredictionsCanBeDisabled(t *testing.T) {
	m, clk := newTestMonitor(t)
	m.SetPredictionsEnabled(false)

	for _, s := range []float64{1.0, 0.9, 0.8, 0.7, 0.6} {
		in := healthyInputs()
		in.LinkStability = s
		m.CheckHealth(in)
		clk.Advance(10 * time.Second)
	}

	assert.Empty(t, m.Predictions())
}

func TestPredictsMemoryExhaustion(t *testing.T) {
	m, clk := newTestMonitor(t)

	for _, p := range []float64{0.5, 0.55, 0.6, 0.65, 0.7} {
		in := healthyInputs()
		in.MemoryPressure = p
		m.CheckHealth(in)
		clk.Advance(10 * time.Second)
	}

	preds := m.Predictions()
	require.NotEmpty(t, preds)
	assert.Equal(t, MemoryExhaustion, preds[0].Type)
	assert.InDelta(t, 40, preds[0].TimeToFailure.Seconds(), 0.01)
}

func TestSetThresholdsChangesOverrides(t *testing.T) {
	m, _ := newTestMonitor(t)
	th := m.Thresholds()
	th.CPULoad = 50
	m.SetThresholds(th)

	in := healthyInputs()
	in.CPULoad = 60
	h := m.CheckHealth(in)

	assert.Equal(t, Critical, h.Status)
	assert.Contains(t, h.Critical, System)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Period = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Weights.Memory = -1
	assert.Error(t, cfg.Validate())
}

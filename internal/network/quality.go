package network

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/stats"
)

// DefaultSmoothing is the EMA weight of a new sample, shared by every
// smoothed signal in this package.
const DefaultSmoothing = 0.3

type QualityConfig struct {
	SamplePeriod time.Duration
	Smoothing    float64
	HistorySize  int
	DropWindow   time.Duration
}

func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		SamplePeriod: time.Second,
		Smoothing:    DefaultSmoothing,
		HistorySize:  60,
		DropWindow:   60 * time.Second,
	}
}

// QualityMetrics is the monitor's current view of the link. Score and
// Stability are in [0,1]; Trend is in dBm per second.
type QualityMetrics struct {
	Connected    bool    `json:"connected"`
	NetworkID    string  `json:"network_id"`
	RSSI         int     `json:"rssi"`
	SmoothedRSSI float64 `json:"smoothed_rssi"`
	Loss         float64 `json:"loss"`
	SmoothedLoss float64 `json:"smoothed_loss"`
	Score        float64 `json:"score"`
	Stability    float64 `json:"stability"`
	Trend        float64 `json:"trend"`
	RecentDrops  int     `json:"recent_drops"`
	Samples      int     `json:"samples"`
}

type qualitySample struct {
	at   clock.Millis
	rssi float64
}

// QualityMonitor samples the link on a fixed period.
type QualityMonitor struct {
	cfg QualityConfig
	clk clock.Clock

	rssi    *stats.EMA
	loss    *stats.EMA
	history *stats.Ring[qualitySample]
	drops   *stats.Ring[clock.Millis]

	lastSample clock.Millis
	sampled    bool
	current    QualityMetrics
}

func NewQualityMonitor(cfg QualityConfig, clk clock.Clock) *QualityMonitor {
	return &QualityMonitor{
		cfg:     cfg,
		clk:     clk,
		rssi:    stats.NewEMA(cfg.Smoothing),
		loss:    stats.NewEMA(cfg.Smoothing),
		history: stats.NewRing[qualitySample](cfg.HistorySize),
		drops:   stats.NewRing[clock.Millis](16),
	}
}

// Due reports whether the sample period has elapsed.
func (q *QualityMonitor) Due() bool {
	return !q.sampled || q.clk.Millis().Elapsed(q.lastSample, q.cfg.SamplePeriod)
}

// Sample folds one link reading into the smoothed series.
func (q *QualityMonitor) Sample(st LinkStatus) QualityMetrics {
	now := q.clk.Millis()
	q.lastSample = now
	q.sampled = true

	drops := q.recentDrops(now)
	if st.State != LinkUp {
		q.current = QualityMetrics{
			NetworkID:    st.NetworkID,
			SmoothedRSSI: q.rssi.Value(),
			SmoothedLoss: q.loss.Value(),
			RecentDrops:  drops,
			Samples:      q.history.Len(),
		}
		return q.current
	}

	loss := EstimateLoss(st.RSSI)
	if st.LossKnown {
		loss = stats.Clamp01(st.Loss)
	}

	smoothedRSSI := q.rssi.Update(float64(st.RSSI))
	smoothedLoss := q.loss.Update(loss)
	q.history.Push(qualitySample{at: now, rssi: float64(st.RSSI)})

	bucket := SignalScore(int(smoothedRSSI))
	q.current = QualityMetrics{
		Connected:    true,
		NetworkID:    st.NetworkID,
		RSSI:         st.RSSI,
		SmoothedRSSI: smoothedRSSI,
		Loss:         loss,
		SmoothedLoss: smoothedLoss,
		Score:        stats.Clamp01(bucket - smoothedLoss*2),
		Stability:    bucket * dropPenalty(drops),
		Trend:        q.trend(),
		RecentDrops:  drops,
		Samples:      q.history.Len(),
	}
	return q.current
}

// RecordDrop notes a link loss. Drops inside DropWindow lower stability.
func (q *QualityMonitor) RecordDrop() {
	q.drops.Push(q.clk.Millis())
}

func (q *QualityMonitor) Metrics() QualityMetrics { return q.current }

// Reset clears the smoothed series after joining a different network.
// Drop history is kept.
func (q *QualityMonitor) Reset() {
	q.rssi.Reset()
	q.loss.Reset()
	q.history.Reset()
	q.sampled = false
	q.current = QualityMetrics{}
}

// SetSmoothing changes the shared smoothing factor.
func (q *QualityMonitor) SetSmoothing(alpha float64) {
	q.cfg.Smoothing = alpha
	q.rssi.Alpha = stats.Clamp(alpha, 0.01, 1)
	q.loss.Alpha = stats.Clamp(alpha, 0.01, 1)
}

func (q *QualityMonitor) trend() float64 {
	samples := q.history.Values()
	if len(samples) < 2 {
		return 0
	}
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = float64(s.at.Since(samples[0].at)) / 1000
		ys[i] = s.rssi
	}
	return stats.Slope(xs, ys)
}

func (q *QualityMonitor) recentDrops(now clock.Millis) int {
	n := 0
	for _, at := range q.drops.Values() {
		if !now.Elapsed(at, q.cfg.DropWindow) {
			n++
		}
	}
	return n
}

// SignalScore buckets a signal strength into [0,1].
func SignalScore(rssi int) float64 {
	switch {
	case rssi > -50:
		return 1.0
	case rssi > -60:
		return 0.9
	case rssi > -70:
		return 0.7
	case rssi > -80:
		return 0.4
	default:
		return 0.1
	}
}

// EstimateLoss approximates loss from signal strength when the driver does
// not report it.
func EstimateLoss(rssi int) float64 {
	switch {
	case rssi < -80:
		return 0.05
	case rssi < -70:
		return 0.02
	default:
		return 0
	}
}

func dropPenalty(drops int) float64 {
	return max(1-0.1*float64(drops), 0.1)
}

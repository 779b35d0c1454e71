// Package metrics exports the control plane status snapshot to Prometheus.
package metrics

import (
	"net/http"

	"codeberg.org/mutker/streamctl/internal/degradation"
	"codeberg.org/mutker/streamctl/internal/health"
	"codeberg.org/mutker/streamctl/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamctl"

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

var breakerStates = map[string]float64{"closed": 0, "half-open": 1, "open": 2}

// Collector reads the latest status snapshot on every scrape. It never
// touches control plane state directly.
type Collector struct {
	src scheduler.StatusSource

	state        *prometheus.Desc
	stateEntries *prometheus.Desc
	timeInState  *prometheus.Desc
	mode         *prometheus.Desc
	health       *prometheus.Desc
	component    *prometheus.Desc
	healthStatus *prometheus.Desc
	rssi         *prometheus.Desc
	linkScore    *prometheus.Desc
	stability    *prometheus.Desc
	breaker      *prometheus.Desc
	connections  *prometheus.Desc
	uptime       *prometheus.Desc
	counters     map[string]*prometheus.Desc
}

func NewCollector(src scheduler.StatusSource) *Collector {
	return &Collector{
		src:          src,
		state:        desc("state", "Current connection state (1 for the active state).", "state"),
		stateEntries: desc("state_entries_total", "Entries into each connection state.", "state"),
		timeInState:  desc("time_in_state_seconds", "Time spent in the current state."),
		mode:         desc("mode", "Current operating mode (1 for the active mode).", "mode"),
		health:       desc("health_score", "Composite health score in [0,1]."),
		component:    desc("health_component_score", "Per-component health score in [0,1].", "component"),
		healthStatus: desc("health_status", "Health status bucket, 0 critical to 4 excellent."),
		rssi:         desc("link_rssi_dbm", "Smoothed signal strength of the active link."),
		linkScore:    desc("link_quality_score", "Link quality score in [0,1]."),
		stability:    desc("link_stability", "Link stability score in [0,1]."),
		breaker:      desc("breaker_state", "Breaker state, 0 closed, 1 half-open, 2 open.", "breaker"),
		connections:  desc("pool_connections", "Open upstream connections."),
		uptime:       desc("uptime_seconds", "Cumulative uptime including restored runs."),
		counters: map[string]*prometheus.Desc{
			"iterations":        desc("iterations_total", "Control loop iterations."),
			"overruns":          desc("overruns_total", "Iterations over budget."),
			"transitions":       desc("transitions_total", "State transitions."),
			"refused":           desc("refused_transitions_total", "Refused state transitions."),
			"timeouts":          desc("state_timeouts_total", "State timeouts."),
			"errors":            desc("errors_total", "Errors recorded by the control plane."),
			"link_drops":        desc("link_drops_total", "Link losses."),
			"reconnects":        desc("reconnects_total", "Link and server reconnects."),
			"failovers":         desc("failovers_total", "Failovers to a backup connection."),
			"bytes_sent":        desc("bytes_sent_total", "Bytes written upstream."),
			"bytes_received":    desc("bytes_received_total", "Bytes received from upstream."),
			"events_dropped":    desc("events_dropped_total", "Events dropped on a full queue."),
			"persist_writes":    desc("persistence_writes_total", "Persisted state writes."),
			"persist_failures":  desc("persistence_failures_total", "Failed persisted state writes."),
			"recovery_failures": desc("recovery_failures_total", "Exhausted recovery sequences."),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.state, c.stateEntries, c.timeInState, c.mode, c.health, c.component, c.healthStatus,
		c.rssi, c.linkScore, c.stability, c.breaker, c.connections, c.uptime,
	} {
		ch <- d
	}
	for _, d := range c.counters {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()
	if st == nil {
		return
	}

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(name string, v uint64) {
		ch <- prometheus.MustNewConstMetric(c.counters[name], prometheus.CounterValue, float64(v))
	}

	for _, s := range scheduler.States() {
		gauge(c.state, boolValue(s.String() == st.State), s.String())
		ch <- prometheus.MustNewConstMetric(c.stateEntries, prometheus.CounterValue, float64(st.StateCounts[s.String()]), s.String())
	}
	gauge(c.timeInState, st.TimeInState.Seconds())

	for m := degradation.Normal; m <= degradation.Recovery; m++ {
		gauge(c.mode, boolValue(m.String() == st.Mode), m.String())
	}

	gauge(c.health, st.Health.Overall)
	gauge(c.component, st.Health.Network, "network")
	gauge(c.component, st.Health.Memory, "memory")
	gauge(c.component, st.Health.Sensor, "sensor")
	gauge(c.component, st.Health.System, "system")
	gauge(c.healthStatus, statusValue(st.Health.Status))

	gauge(c.rssi, st.Quality.SmoothedRSSI)
	gauge(c.linkScore, st.Quality.Score)
	gauge(c.stability, st.Quality.Stability)

	for _, b := range st.Breakers {
		gauge(c.breaker, breakerStates[b.State], b.Name)
	}
	gauge(c.connections, float64(len(st.Connections)))
	gauge(c.uptime, float64(st.Counters.UptimeSeconds))

	counter("iterations", st.Counters.Iterations)
	counter("overruns", st.Counters.Overruns)
	counter("transitions", st.Counters.Transitions)
	counter("refused", st.Counters.Refused)
	counter("timeouts", st.Counters.Timeouts)
	counter("errors", st.Counters.Errors)
	counter("link_drops", st.Counters.LinkDrops)
	counter("reconnects", st.Counters.Reconnects)
	counter("failovers", st.Counters.Failovers)
	counter("bytes_sent", st.Counters.BytesSent)
	counter("bytes_received", st.Counters.BytesReceived)
	counter("events_dropped", st.Events.Dropped)
	counter("persist_writes", st.Persistence.Writes)
	counter("persist_failures", st.Persistence.Failures)
	counter("recovery_failures", st.Recovery.Failed)
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func statusValue(name string) float64 {
	for s := health.Critical; s <= health.Excellent; s++ {
		if s.String() == name {
			return float64(s)
		}
	}
	return 0
}

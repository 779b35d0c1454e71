package scheduler

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/breaker"
	"codeberg.org/mutker/streamctl/internal/degradation"
	"codeberg.org/mutker/streamctl/internal/events"
	"codeberg.org/mutker/streamctl/internal/network"
	"codeberg.org/mutker/streamctl/internal/persistence"
	"codeberg.org/mutker/streamctl/internal/recovery"
)

// HealthStatus is the status view of the last health check.
type HealthStatus struct {
	Overall  float64  `json:"overall"`
	Status   string   `json:"status"`
	Network  float64  `json:"network"`
	Memory   float64  `json:"memory"`
	Sensor   float64  `json:"sensor"`
	System   float64  `json:"system"`
	Trend    float64  `json:"trend"`
	Critical []string `json:"critical,omitempty"`
	// Unhealthy lists components that are critical or score below the
	// unhealthy threshold.
	Unhealthy []string `json:"unhealthy,omitempty"`

	MemoryPressure   float64 `json:"memory_pressure"`
	CPULoad          float64 `json:"cpu_load"`
	Temperature      float64 `json:"temperature"`
	TemperatureKnown bool    `json:"temperature_known"`
	AutoRecovery     bool    `json:"auto_recovery"`
}

type Prediction struct {
	Component     string        `json:"component"`
	Type          string        `json:"type"`
	Probability   float64       `json:"probability"`
	TimeToFailure time.Duration `json:"time_to_failure"`
	Action        string        `json:"action"`
}

// Counters are cumulative across restarts where the persisted snapshot
// carries them.
type Counters struct {
	Iterations    uint64 `json:"iterations"`
	Overruns      uint64 `json:"overruns"`
	Transitions   uint64 `json:"transitions"`
	Refused       uint64 `json:"refused_transitions"`
	Timeouts      uint64 `json:"timeouts"`
	Errors        uint64 `json:"errors"`
	LinkDrops     uint64 `json:"link_drops"`
	Reconnects    uint64 `json:"reconnects"`
	Failovers     uint64 `json:"failovers"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// Status is an immutable snapshot published after every iteration.
type Status struct {
	At          time.Time     `json:"at"`
	BootReason  string        `json:"boot_reason"`
	State       string        `json:"state"`
	TimeInState time.Duration `json:"time_in_state"`

	Mode     string                 `json:"mode"`
	Features degradation.FeatureSet `json:"features"`

	Health      HealthStatus           `json:"health"`
	Predictions []Prediction           `json:"predictions"`
	Quality     network.QualityMetrics `json:"quality"`

	ActiveNetwork string              `json:"active_network,omitempty"`
	ActiveIndex   int                 `json:"active_index"`
	Candidates    []network.Candidate `json:"candidates"`

	Breakers    []breaker.Stats          `json:"breakers"`
	Connections []network.ConnectionInfo `json:"connections"`
	Pool        network.PoolStats        `json:"pool"`
	Recovery    recovery.Stats           `json:"recovery"`
	Persistence persistence.Stats        `json:"persistence"`
	Events      events.Stats             `json:"events"`

	Counters    Counters            `json:"counters"`
	StateCounts map[string]uint64   `json:"state_counts"`
	History     []Transition        `json:"history"`
	LastTimeout *TimeoutDiagnostics `json:"last_timeout,omitempty"`
}

// StatusSource is read by the status API and the metrics collector from
// other goroutines.
type StatusSource interface {
	Status() *Status
}

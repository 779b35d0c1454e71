package health

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
)

// Component identifies a health factor.
type Component int

const (
	Network Component = iota
	Memory
	Sensor
	System

	componentCount
)

func (c Component) String() string {
	switch c {
	case Network:
		return "network"
	case Memory:
		return "memory"
	case Sensor:
		return "sensor"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

// Status is the bucketed overall health, ordered worst first.
type Status int

const (
	Critical Status = iota
	Poor
	Fair
	Good
	Excellent
)

func (s Status) String() string {
	switch s {
	case Critical:
		return "critical"
	case Poor:
		return "poor"
	case Fair:
		return "fair"
	case Good:
		return "good"
	case Excellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// StatusFor buckets an overall score.
func StatusFor(score float64) Status {
	switch {
	case score >= 0.9:
		return Excellent
	case score >= 0.7:
		return Good
	case score >= 0.5:
		return Fair
	case score >= 0.3:
		return Poor
	default:
		return Critical
	}
}

// Inputs are the cached probe readings for one health check. LinkStability,
// MemoryPressure and SensorQuality are in [0,1]; CPULoad is a percentage.
type Inputs struct {
	LinkStability    float64 `json:"link_stability"`
	MemoryPressure   float64 `json:"memory_pressure"`
	SensorQuality    float64 `json:"sensor_quality"`
	CPULoad          float64 `json:"cpu_load"`
	Temperature      float64 `json:"temperature"`
	TemperatureKnown bool    `json:"temperature_known"`
}

// SystemHealth is one timestamped health evaluation.
type SystemHealth struct {
	At       time.Time    `json:"at"`
	Tick     clock.Millis `json:"-"`
	Network  float64      `json:"network"`
	Memory   float64      `json:"memory"`
	Sensor   float64      `json:"sensor"`
	System   float64      `json:"system"`
	Overall  float64      `json:"overall"`
	Status   Status       `json:"-"`
	Critical []Component  `json:"-"`
	Inputs   Inputs       `json:"inputs"`
}

// Score returns the factor score of c.
func (h SystemHealth) Score(c Component) float64 {
	switch c {
	case Network:
		return h.Network
	case Memory:
		return h.Memory
	case Sensor:
		return h.Sensor
	case System:
		return h.System
	default:
		return 0
	}
}

type FailureType int

const (
	LinkLoss FailureType = iota
	MemoryExhaustion
	SensorFailure
	Overheat
	SystemDegradation
)

func (f FailureType) String() string {
	switch f {
	case LinkLoss:
		return "link_loss"
	case MemoryExhaustion:
		return "memory_exhaustion"
	case SensorFailure:
		return "sensor_failure"
	case Overheat:
		return "overheat"
	case SystemDegradation:
		return "system_degradation"
	default:
		return "unknown"
	}
}

// FailurePrediction is advisory and recomputed on every check.
type FailurePrediction struct {
	Component     Component     `json:"-"`
	Type          FailureType   `json:"-"`
	Probability   float64       `json:"probability"`
	TimeToFailure time.Duration `json:"time_to_failure"`
	Action        string        `json:"action"`
}

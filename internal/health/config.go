package health

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/errors"
)

// Weights of the composite score. They are normalized before use.
type Weights struct {
	Network float64
	Memory  float64
	Sensor  float64
	System  float64
}

func DefaultWeights() Weights {
	return Weights{Network: 0.4, Memory: 0.3, Sensor: 0.2, System: 0.1}
}

func (w Weights) normalized() Weights {
	sum := w.Network + w.Memory + w.Sensor + w.System
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Network: w.Network / sum,
		Memory:  w.Memory / sum,
		Sensor:  w.Sensor / sum,
		System:  w.System / sum,
	}
}

// Thresholds on individual readings that force CRITICAL.
type Thresholds struct {
	MemoryPressure float64
	LinkStability  float64
	SensorQuality  float64
	CPULoad        float64
	Temperature    float64
	// Unhealthy is the factor score under which a component is reported
	// as unhealthy.
	Unhealthy float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MemoryPressure: 0.9,
		LinkStability:  0.3,
		SensorQuality:  0.2,
		CPULoad:        90,
		Temperature:    80,
		Unhealthy:      0.5,
	}
}

type Config struct {
	Period      time.Duration
	HistorySize int
	Weights     Weights
	Thresholds  Thresholds
	// Horizon bounds how far ahead a trend is extrapolated.
	Horizon    time.Duration
	MinSamples int
	// FailureScore is the overall score treated as failure when
	// extrapolating the composite trend.
	FailureScore float64
}

func DefaultConfig() Config {
	return Config{
		Period:       10 * time.Second,
		HistorySize:  60,
		Weights:      DefaultWeights(),
		Thresholds:   DefaultThresholds(),
		Horizon:      60 * time.Second,
		MinSamples:   5,
		FailureScore: 0.3,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Period <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "health period must be positive")
	}
	if c.HistorySize < 2 {
		return errFactory.WithData(ErrInvalidConfig, "health history must hold at least two samples")
	}
	w := c.Weights
	if w.Network < 0 || w.Memory < 0 || w.Sensor < 0 || w.System < 0 {
		return errFactory.WithData(ErrInvalidConfig, "health weights must not be negative")
	}
	return nil
}

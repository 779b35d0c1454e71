// Package probe reads host resource usage for the health monitor. Readings
// are refreshed off the control loop and served from a cache so a health
// check never blocks on the operating system.
package probe

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/streamctl/internal/logger"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Readings is one refresh of the host probe. MemoryPressure is in [0,1];
// CPULoad is a percentage.
type Readings struct {
	At               time.Time `json:"at"`
	MemoryPressure   float64   `json:"memory_pressure"`
	CPULoad          float64   `json:"cpu_load"`
	Temperature      float64   `json:"temperature"`
	TemperatureKnown bool      `json:"temperature_known"`
}

type (
	cpuPercentFunc    func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	virtualMemoryFunc func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	temperaturesFunc  func(ctx context.Context) ([]host.TemperatureStat, error)
)

// Host probes the local machine through gopsutil.
type Host struct {
	interval time.Duration
	log      logger.Logger

	cpuPercent    cpuPercentFunc
	virtualMemory virtualMemoryFunc
	temperatures  temperaturesFunc

	mu      sync.RWMutex
	current Readings
	primed  bool
}

func NewHost(interval time.Duration, log logger.Logger) *Host {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Host{
		interval:      interval,
		log:           log,
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		temperatures:  host.SensorsTemperaturesWithContext,
	}
}

// Refresh takes a new reading. Individual probe failures keep the previous
// value for that field.
func (h *Host) Refresh(ctx context.Context) error {
	h.mu.RLock()
	next := h.current
	h.mu.RUnlock()

	var firstErr error
	next.At = time.Now()

	if percents, err := h.cpuPercent(ctx, 0, false); err != nil {
		firstErr = err
		h.log.Debug().Err(err).Msg("cpu.PercentWithContext failed")
	} else if len(percents) > 0 {
		next.CPULoad = percents[0]
	}

	if vm, err := h.virtualMemory(ctx); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		h.log.Debug().Err(err).Msg("mem.VirtualMemoryWithContext failed")
	} else if vm != nil {
		next.MemoryPressure = vm.UsedPercent / 100
	}

	// Sensor reads often return partial results together with warnings.
	temps, err := h.temperatures(ctx)
	if hot, ok := hottest(temps); ok {
		next.Temperature = hot
		next.TemperatureKnown = true
	} else if err != nil {
		h.log.Debug().Err(err).Msg("host.SensorsTemperaturesWithContext failed")
	}

	h.mu.Lock()
	h.current = next
	h.primed = true
	h.mu.Unlock()

	return firstErr
}

func hottest(temps []host.TemperatureStat) (float64, bool) {
	var (
		hot float64
		ok  bool
	)
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		if !ok || t.Temperature > hot {
			hot = t.Temperature
			ok = true
		}
	}
	return hot, ok
}

// Run refreshes on the configured interval until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	if err := h.Refresh(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Initial host probe failed")
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Refresh(ctx); err != nil && ctx.Err() == nil {
				h.log.Debug().Err(err).Msg("Host probe refresh failed")
			}
		}
	}
}

// Readings returns the cached values.
func (h *Host) Readings() Readings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Primed reports whether at least one refresh has completed.
func (h *Host) Primed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.primed
}

func (h *Host) MemoryPressure() float64 {
	return h.Readings().MemoryPressure
}

func (h *Host) CPULoad() float64 {
	return h.Readings().CPULoad
}

func (h *Host) Temperature() (float64, bool) {
	r := h.Readings()
	return r.Temperature, r.TemperatureKnown
}

package config

import (
	"codeberg.org/mutker/streamctl/internal/sim"
)

// Validate checks the loaded values. The first problem found is returned as
// a ValidationError.
func (c *Config) Validate() error {
	checks := []func() ValidationError{
		c.validateLog,
		c.validateNetwork,
		c.validatePersistence,
		c.validateServices,
		c.validateComponents,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLog() ValidationError {
	if c.Log.Level != "" && !c.LogLevel().IsValid() {
		return invalid("log.level", c.Log.Level, "must be debug, info, warning or error")
	}
	return nil
}

func (c *Config) validateNetwork() ValidationError {
	n := c.Network
	if n.Driver != "sim" {
		return invalid("network.driver", n.Driver, "unsupported link driver")
	}
	if n.Smoothing <= 0 || n.Smoothing > 1 {
		return invalid("network.smoothing", n.Smoothing, "must be in (0,1]")
	}

	seen := make(map[string]bool, len(n.Candidates))
	for _, cand := range n.Candidates {
		if cand.ID == "" {
			return invalid("network.candidates", cand, "candidate id must not be empty")
		}
		if seen[cand.ID] {
			return invalid("network.candidates", cand.ID, "duplicate candidate id")
		}
		seen[cand.ID] = true
	}

	switch n.Server.Scheme {
	case "sim", "tcp", "ws", "websocket":
	default:
		return invalid("network.server.scheme", n.Server.Scheme, "must be sim, tcp or ws")
	}
	if n.Server.Address == "" {
		return invalid("network.server.address", n.Server.Address, "must not be empty")
	}
	if n.Server.MaxConnections < 1 {
		return invalid("network.server.max_connections", n.Server.MaxConnections, "must be at least 1")
	}

	for id, name := range n.Sim.Conditions {
		if _, ok := sim.ParseCondition(name); !ok {
			return invalid("network.sim.conditions."+id, name, "unknown link condition")
		}
	}
	return nil
}

func (c *Config) validatePersistence() ValidationError {
	p := c.Persistence
	switch p.Backend {
	case "memory":
	case "file", "badger":
		if p.Path == "" {
			return invalid("persistence.path", p.Path, "required for the "+p.Backend+" backend")
		}
	default:
		return invalid("persistence.backend", p.Backend, "must be file, badger or memory")
	}
	if p.MinWriteInterval < 0 {
		return invalid("persistence.min_write_interval", p.MinWriteInterval, "must not be negative")
	}
	return nil
}

func (c *Config) validateServices() ValidationError {
	if c.Status.Enabled && c.Status.Listen == "" {
		return invalid("status.listen", c.Status.Listen, "required when the status API is enabled")
	}
	if c.Events.QueueSize < 1 {
		return invalid("events.queue_size", c.Events.QueueSize, "must be at least 1")
	}
	if c.Events.MaxDispatch < 1 {
		return invalid("events.max_dispatch", c.Events.MaxDispatch, "must be at least 1")
	}
	if c.Watchdog.Timeout < 0 {
		return invalid("watchdog.timeout", c.Watchdog.Timeout, "must not be negative")
	}
	if c.Health.ProbeInterval <= 0 {
		return invalid("health.probe_interval", c.Health.ProbeInterval, "must be positive")
	}
	return nil
}

// validateComponents runs each package's own checks on the converted values.
func (c *Config) validateComponents() ValidationError {
	sections := []struct {
		name     string
		validate func() error
	}{
		{"scheduler", c.SchedulerConfig().Validate},
		{"breaker", c.BreakerConfig().Validate},
		{"health", c.HealthConfig().Validate},
		{"degradation", c.DegradationConfig().Validate},
		{"telemetry", c.TelemetryConfig().Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return invalid(s.name, nil, err.Error())
		}
	}
	return nil
}

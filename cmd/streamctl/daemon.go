package main

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/streamctl/internal/breaker"
	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/config"
	"codeberg.org/mutker/streamctl/internal/degradation"
	"codeberg.org/mutker/streamctl/internal/events"
	"codeberg.org/mutker/streamctl/internal/health"
	"codeberg.org/mutker/streamctl/internal/logger"
	"codeberg.org/mutker/streamctl/internal/metrics"
	"codeberg.org/mutker/streamctl/internal/network"
	"codeberg.org/mutker/streamctl/internal/persistence"
	"codeberg.org/mutker/streamctl/internal/probe"
	"codeberg.org/mutker/streamctl/internal/scheduler"
	"codeberg.org/mutker/streamctl/internal/sim"
	"codeberg.org/mutker/streamctl/internal/statusapi"
	"codeberg.org/mutker/streamctl/internal/telemetry"
	"codeberg.org/mutker/streamctl/internal/transport"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const watchdogExitCode = 2

// daemon holds the assembled control plane and the services around it.
type daemon struct {
	scheduler *scheduler.Scheduler
	host      *probe.Host
	watchdog  *scheduler.SoftWatchdog
	telemetry *telemetry.Service
	server    *statusapi.Server
	store     persistence.Store
	nats      *nats.Conn
}

func assemble(cfg *config.Config, markers *persistence.Markers) (*daemon, error) {
	d := &daemon{}
	clk := clock.Real()

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	d.store = store

	bus := events.NewBus(cfg.Events.QueueSize, cfg.Events.MaxDispatch)
	session := uuid.NewString()

	if cfg.Telemetry.Enabled {
		d.telemetry, err = telemetry.NewService(cfg.TelemetryConfig(), logger.New("telemetry"))
		if err != nil {
			d.close()
			return nil, err
		}
		session = d.telemetry.Session()
		bus.Subscribe(d.telemetry)
	}

	if cfg.Events.NATSURL != "" {
		natsLog := logger.New("nats")
		nc, err := events.ConnectNATS(cfg.Events.NATSURL, "streamctl", natsLog)
		if err != nil {
			// Events still reach the local subscribers.
			natsLog.Warn().Err(err).Str("url", cfg.Events.NATSURL).Msg("NATS unavailable, events stay local")
		} else {
			d.nats = nc
			bus.Subscribe(events.NewNATSSink(nc, cfg.Events.SubjectPrefix, session, natsLog))
		}
	}

	breakers := breaker.NewRegistry(clk, cfg.BreakerConfig(), scheduler.NewBreakerListener(bus, clk))

	link := newSimLink(cfg, clk)
	policy := network.NewReconnectPolicy(cfg.ReconnectConfig(), clk, uint64(time.Now().UnixNano()))
	selector := network.NewSelector(cfg.SelectorConfig(), clk, link, breakers, policy, logger.New("selector"))
	for _, c := range cfg.Network.Candidates {
		if err := selector.Add(c); err != nil {
			d.close()
			return nil, err
		}
	}

	dialer, err := newDialer(cfg.Network.Server.Scheme)
	if err != nil {
		d.close()
		return nil, err
	}

	monitor := health.NewMonitor(cfg.HealthConfig(), clk)
	monitor.SetAutoRecovery(cfg.Health.AutoRecovery)

	d.host = probe.NewHost(cfg.Health.ProbeInterval, logger.New("probe"))

	components := scheduler.Components{
		Clock:       clk,
		Logger:      logger.New("scheduler"),
		Bus:         bus,
		Breakers:    breakers,
		Link:        link,
		Selector:    selector,
		Policy:      policy,
		Quality:     network.NewQualityMonitor(cfg.QualityConfig(), clk),
		Pool:        network.NewPool(cfg.PoolConfig(), clk, dialer, breakers, logger.New("pool")),
		Health:      monitor,
		Degradation: degradation.NewManager(cfg.DegradationConfig(), clk, logger.New("degradation")),
		Persister:   persistence.NewPersister(cfg.PersistenceConfig(), store, clk, logger.New("persistence")),
		Pipeline:    sim.NewPipeline(clk, cfg.Network.Sim.PipelineInterval, cfg.Network.Sim.MaxBacklog),
		Host:        d.host,
	}
	if d.telemetry != nil {
		components.Telemetry = d.telemetry
	}
	if cfg.Watchdog.Timeout > 0 {
		d.watchdog = scheduler.NewSoftWatchdog(clk, cfg.Watchdog.Timeout, logger.New("watchdog"), func(time.Duration) {
			if err := markers.Write(persistence.BootWatchdog); err != nil {
				logger.Error().Err(err).Msg("failed to write watchdog marker")
			}
			os.Exit(watchdogExitCode)
		})
		components.Watchdog = d.watchdog
	}

	d.scheduler, err = scheduler.New(cfg.SchedulerConfig(), components)
	if err != nil {
		d.close()
		return nil, err
	}

	if cfg.Status.Enabled {
		d.server = statusapi.New(cfg.Status.Listen, d.scheduler, d.scheduler, logger.New("statusapi"))
		if d.telemetry != nil {
			d.server.WithTelemetry(d.telemetry)
		}
		if cfg.Status.Metrics {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				metrics.NewCollector(d.scheduler),
			)
			d.server.WithMetrics(metrics.Handler(reg))
		}
	}

	return d, nil
}

func openStore(cfg *config.Config) (persistence.Store, error) {
	switch cfg.Persistence.Backend {
	case "badger":
		store, err := persistence.OpenBadgerStore(cfg.Persistence.Path, logger.New("badger"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return persistence.NewMemoryStore(), nil
	default:
		store, err := persistence.NewFileStore(cfg.Persistence.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func newDialer(scheme string) (transport.Dialer, error) {
	if scheme == "sim" {
		return sim.NewDialer(), nil
	}
	return transport.ForScheme(scheme)
}

// newSimLink registers every candidate with the simulated radio, "good"
// unless a condition is configured for it.
func newSimLink(cfg *config.Config, clk clock.Clock) *sim.Link {
	link := sim.NewLink(clk, cfg.Network.Sim.ConnectDelay)
	for _, c := range cfg.Network.Candidates {
		condition := sim.Good
		if name, ok := cfg.Network.Sim.Conditions[strings.ToLower(c.ID)]; ok {
			if parsed, ok := sim.ParseCondition(name); ok {
				condition = parsed
			}
		}
		link.SetCondition(c.ID, condition)
	}
	return link
}

// reload applies a changed configuration file. Only runtime tunables and the
// log level take effect; everything else needs a restart.
func (d *daemon) reload(next *config.Config) {
	if level, ok := logger.ParseLevel(next.Log.Level); ok {
		logger.SetLogLevel(level)
	}
	if err := d.scheduler.SetThresholds(next.Thresholds()); err != nil {
		logger.Warn().Err(err).Msg("failed to apply reloaded thresholds")
	}
	if err := d.scheduler.SetAutoRecovery(next.Health.AutoRecovery); err != nil {
		logger.Warn().Err(err).Msg("failed to apply reloaded auto recovery")
	}
}

func (d *daemon) close() {
	if d.telemetry != nil {
		if err := d.telemetry.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close telemetry")
		}
	}
	if d.nats != nil {
		if err := d.nats.Drain(); err != nil {
			logger.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close state store")
		}
	}
}

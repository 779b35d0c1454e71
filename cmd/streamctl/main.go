package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/streamctl/internal/config"
	"codeberg.org/mutker/streamctl/internal/degradation"
	"codeberg.org/mutker/streamctl/internal/logger"
	"codeberg.org/mutker/streamctl/internal/persistence"
	"codeberg.org/mutker/streamctl/internal/pid"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(config.WithArgs(os.Args[1:]))
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	if level, ok := logger.ParseLevel(cfg.Log.Level); ok {
		logger.SetLogLevel(level)
	}
	logger.Debug().Str("file", cfg.FileUsed()).Msg("Config loaded")

	stale, err := pid.Write(cfg.PIDFile)
	if err != nil {
		logger.Fatal().Err(err).Str("pid_file", cfg.PIDFile).Msg("failed to write PID file")
	}

	markers := persistence.NewMarkers(cfg.Persistence.StateDir)
	defer markPanic(markers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx, cfg, markers, stale); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
		cleanup(cfg)
		os.Exit(1)
	}
	cleanup(cfg)
}

func run(ctx context.Context, cfg *config.Config, markers *persistence.Markers, stalePID bool) error {
	marker, hasMarker := markers.Read()
	reason := persistence.Classify(marker, hasMarker, stalePID)
	if err := markers.Clear(); err != nil {
		logger.Warn().Err(err).Msg("failed to clear crash marker")
	}
	logger.Info().Str("boot_reason", reason.String()).Msg("Starting streamctl")

	d, err := assemble(cfg, markers)
	if err != nil {
		return err
	}
	defer d.close()

	if snap, ok := d.scheduler.Boot(reason); ok {
		logger.Info().
			Int("active_network", int(snap.ActiveNetwork)).
			Str("mode", degradation.Mode(snap.Mode).String()).
			Msg("Restored persisted state")
	}

	g, gctx := errgroup.WithContext(ctx)
	goGuarded := func(fn func() error) {
		g.Go(func() error {
			defer markPanic(markers)
			return fn()
		})
	}

	goGuarded(func() error { return d.scheduler.Run(gctx) })
	goGuarded(func() error { return d.host.Run(gctx) })
	if d.watchdog != nil {
		goGuarded(func() error { return d.watchdog.Run(gctx) })
	}
	if d.telemetry != nil {
		goGuarded(func() error { return d.telemetry.Run(gctx) })
	}
	if d.server != nil {
		goGuarded(func() error { return d.server.ListenAndServe(gctx) })
	}
	if cfg.FileUsed() != "" {
		goGuarded(func() error {
			return cfg.Watch(gctx, logger.New("config"), d.reload)
		})
	}

	return g.Wait()
}

// markPanic leaves an exception marker for the next boot before letting a
// panic continue.
func markPanic(markers *persistence.Markers) {
	if r := recover(); r != nil {
		if err := markers.Write(persistence.BootException); err != nil {
			logger.Error().Err(err).Msg("failed to write crash marker")
		}
		panic(r)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(cfg *config.Config) {
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}

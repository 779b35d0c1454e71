package scheduler

import (
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/network"
)

// actions are the recovery steps run against the scheduler's components.
type actions struct {
	s *Scheduler
}

// Cleanup returns freed heap to the OS and drops dead pool connections.
func (a *actions) Cleanup() error {
	a.s.freeMemory()
	a.s.pool.HealthCheck()
	return nil
}

// Defrag drops frames buffered by the data path.
func (a *actions) Defrag() error {
	if n := a.s.pipeline.Reset(); n > 0 {
		a.s.log.Debug().Int("frames", n).Msg("Dropped buffered frames")
	}
	return nil
}

// Retry succeeds once the server is reachable, or hands the connection back
// to the connect states when they still own a retry that can get there: an
// association or dial in flight, a reconnect backoff or a breaker waiting
// out its timer. It fails only when no network can be joined without an
// operator or no server address is configured.
func (a *actions) Retry() error {
	errFactory := errors.New()
	if a.s.selector.ConnectToBest() != network.Connected {
		if !a.s.selector.CanAutoConnect() {
			return errFactory.New(ErrNoNetwork)
		}
		return nil
	}
	if a.s.pool.Address() == "" {
		return errFactory.New(ErrNoServer)
	}
	a.s.pool.Step()
	if !a.s.pool.HasPrimary() {
		// Without a standby the pool keeps dialing from the connect states.
		_ = a.s.pool.FailoverToBackup()
	}
	return nil
}

// Package telemetry stores health samples and control plane events in a
// local sqlite database. The control thread only enqueues; a writer
// goroutine batches records into the repository.
package telemetry

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/events"
	"codeberg.org/mutker/streamctl/internal/health"
	"codeberg.org/mutker/streamctl/internal/logger"
	"github.com/google/uuid"
)

type Service struct {
	repo    Repository
	log     logger.Logger
	session string
	queue   chan record

	dropped atomic.Uint64
	written atomic.Uint64
}

func NewService(cfg Config, log logger.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.New().Wrap(ErrInvalidConfig, err)
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}
	return newService(repo, cfg.QueueSize, log), nil
}

func newService(repo Repository, queueSize int, log logger.Logger) *Service {
	s := &Service{
		repo:    repo,
		log:     log,
		session: uuid.NewString(),
		queue:   make(chan record, max(queueSize, 1)),
	}
	log.Debug().Str("session", s.session).Msg("Telemetry session started")
	return s
}

// Session identifies this process run in every stored row.
func (s *Service) Session() string { return s.session }

// RecordHealth queues a health sample.
func (s *Service) RecordHealth(h health.SystemHealth, state, mode string) {
	sample := &Sample{
		Timestamp:      h.At,
		Session:        s.session,
		State:          state,
		Mode:           mode,
		Status:         h.Status.String(),
		Overall:        h.Overall,
		Network:        h.Network,
		Memory:         h.Memory,
		Sensor:         h.Sensor,
		System:         h.System,
		MemoryPressure: h.Inputs.MemoryPressure,
		CPULoad:        h.Inputs.CPULoad,
	}
	if h.Inputs.TemperatureKnown {
		t := h.Inputs.Temperature
		sample.Temperature = &t
	}
	s.enqueue(record{sample: sample})
}

// HandleEvent queues an event.
func (s *Service) HandleEvent(e events.Event) {
	s.enqueue(record{event: &EventRecord{
		Timestamp: e.At,
		Session:   s.session,
		Kind:      e.Kind.String(),
		Priority:  e.Kind.Priority().String(),
		From:      e.From,
		To:        e.To,
		Subject:   e.Subject,
		Value:     e.Value,
	}})
}

func (s *Service) enqueue(r record) bool {
	select {
	case s.queue <- r:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Run writes queued records until ctx is done, then drains the queue and
// flushes.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case r := <-s.queue:
			s.write(r)
		case <-ctx.Done():
			for {
				select {
				case r := <-s.queue:
					s.write(r)
				default:
					if err := s.repo.Flush(); err != nil {
						s.log.Warn().Err(err).Msg("Failed to flush telemetry")
					}
					return nil
				}
			}
		}
	}
}

func (s *Service) write(r record) {
	if err := s.repo.Record(r); err != nil {
		s.log.Warn().Err(err).Msg("Failed to store telemetry")
		return
	}
	s.written.Add(1)
}

// Dropped counts records discarded because the queue was full.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

func (s *Service) Written() uint64 { return s.written.Load() }

func (s *Service) RecentSamples(limit int) ([]Sample, error) {
	return s.repo.RecentSamples(limit)
}

func (s *Service) RecentEvents(limit int) ([]EventRecord, error) {
	return s.repo.RecentEvents(limit)
}

func (s *Service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

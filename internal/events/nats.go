package events

import (
	"encoding/json"
	"time"

	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "streamctl.events"

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

type message struct {
	Session  string    `json:"session"`
	Kind     string    `json:"kind"`
	Priority string    `json:"priority"`
	At       time.Time `json:"at"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Subject  string    `json:"subject,omitempty"`
	Value    float64   `json:"value"`
}

// NATSSink forwards every event it receives to "<prefix>.<kind>". Publish on
// a nats connection only buffers, so the control thread never waits on the
// network.
type NATSSink struct {
	pub      Publisher
	prefix   string
	session  string
	logger   logger.Logger
	failures uint64
}

func NewNATSSink(pub Publisher, prefix, session string, log logger.Logger) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix, session: session, logger: log}
}

func (s *NATSSink) HandleEvent(e Event) {
	data, err := json.Marshal(message{
		Session:  s.session,
		Kind:     e.Kind.String(),
		Priority: e.Kind.Priority().String(),
		At:       e.At,
		From:     e.From,
		To:       e.To,
		Subject:  e.Subject,
		Value:    e.Value,
	})
	if err != nil {
		s.failures++
		return
	}

	if err := s.pub.Publish(s.prefix+"."+e.Kind.String(), data); err != nil {
		s.failures++
		// First failure at warn, the rest at debug.
		if s.failures == 1 {
			s.logger.Warn().Err(err).Str("kind", e.Kind.String()).Msg("Failed to forward event")
		} else {
			s.logger.Debug().Err(err).Uint64("failures", s.failures).Msg("Failed to forward event")
		}
	}
}

// Failures returns the number of events that could not be forwarded.
func (s *NATSSink) Failures() uint64 { return s.failures }

// ConnectNATS opens a connection that keeps reconnecting in the background.
func ConnectNATS(url, name string, log logger.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrSinkConnect, err)
	}

	return nc, nil
}

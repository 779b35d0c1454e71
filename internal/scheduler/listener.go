package scheduler

import (
	"codeberg.org/mutker/streamctl/internal/breaker"
	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/events"
)

type breakerEvents struct {
	bus *events.Bus
	clk clock.Clock
}

// NewBreakerListener publishes breaker open and close transitions on bus.
// Pass it to breaker.NewRegistry.
func NewBreakerListener(bus *events.Bus, clk clock.Clock) breaker.Listener {
	return &breakerEvents{bus: bus, clk: clk}
}

func (l *breakerEvents) BreakerTransition(name string, from, to breaker.State) {
	var kind events.Kind
	switch to {
	case breaker.Open:
		kind = events.BreakerOpened
	case breaker.Closed:
		kind = events.BreakerClosed
	default:
		return
	}
	l.bus.Publish(events.Event{
		Kind:    kind,
		At:      l.clk.Now(),
		From:    from.String(),
		To:      to.String(),
		Subject: name,
	})
}

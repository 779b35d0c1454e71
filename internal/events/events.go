// Package events carries control-plane notifications to subscribers.
//
// Events are small values tagged with a Kind. Subscribers register against a
// fixed per-kind dispatch table at start-up; Publish only enqueues, and the
// scheduler drains the queue once per iteration so delivery order always
// matches publish order.
package events

import "time"

// Kind tags an Event.
type Kind uint8

const (
	StateChanged Kind = iota
	LinkConnected
	LinkDisconnected
	ServerConnected
	ServerDisconnected
	QualityDegraded
	CPUOverload
	SystemError
	MemoryCritical
	ModeChanged
	HealthChanged
	BreakerOpened
	BreakerClosed
	FailurePredicted
	FailoverCompleted
	RecoveryFailed

	kindCount
)

var kindNames = [kindCount]string{
	StateChanged:       "state_changed",
	LinkConnected:      "link_connected",
	LinkDisconnected:   "link_disconnected",
	ServerConnected:    "server_connected",
	ServerDisconnected: "server_disconnected",
	QualityDegraded:    "quality_degraded",
	CPUOverload:        "cpu_overload",
	SystemError:        "system_error",
	MemoryCritical:     "memory_critical",
	ModeChanged:        "mode_changed",
	HealthChanged:      "health_changed",
	BreakerOpened:      "breaker_opened",
	BreakerClosed:      "breaker_closed",
	FailurePredicted:   "failure_predicted",
	FailoverCompleted:  "failover_completed",
	RecoveryFailed:     "recovery_failed",
}

func (k Kind) String() string {
	if k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds returns every defined Kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Priority decides which events survive a full queue.
type Priority uint8

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

var kindPriority = [kindCount]Priority{
	StateChanged:       Normal,
	LinkConnected:      Normal,
	LinkDisconnected:   High,
	ServerConnected:    Normal,
	ServerDisconnected: High,
	QualityDegraded:    Normal,
	CPUOverload:        High,
	SystemError:        Critical,
	MemoryCritical:     Critical,
	ModeChanged:        High,
	HealthChanged:      Low,
	BreakerOpened:      High,
	BreakerClosed:      Normal,
	FailurePredicted:   Normal,
	FailoverCompleted:  High,
	RecoveryFailed:     Critical,
}

// Priority returns the fixed priority of k.
func (k Kind) Priority() Priority {
	if k >= kindCount {
		return Low
	}
	return kindPriority[k]
}

// Event is a notification value. From and To carry the previous and next
// state or mode name for transition kinds; Subject names the network,
// dependency or component concerned.
type Event struct {
	Kind    Kind
	At      time.Time
	From    string
	To      string
	Subject string
	Value   float64
}

// Subscriber receives events on the control thread. Implementations must
// return quickly and must not call back into the Bus.
type Subscriber interface {
	HandleEvent(e Event)
}

// Package network holds the link-level resilience components: quality
// tracking, candidate selection, reconnect pacing and the transport
// connection pool. None of them block; multi-step work advances one step
// per call.
package network

import "fmt"

//go:generate mockgen -destination=mock_link.go -package=network codeberg.org/mutker/streamctl/internal/network Link

// Candidate is a network the node may join. Higher Priority is preferred.
type Candidate struct {
	ID          string `mapstructure:"id" json:"id"`
	Credential  string `mapstructure:"credential" json:"-"`
	Priority    int    `mapstructure:"priority" json:"priority"`
	AutoConnect bool   `mapstructure:"auto_connect" json:"auto_connect"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s(p%d)", c.ID, c.Priority)
}

type LinkState int

const (
	LinkIdle LinkState = iota
	LinkConnecting
	LinkUp
	LinkFailed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkConnecting:
		return "connecting"
	case LinkUp:
		return "up"
	case LinkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LinkStatus is the radio driver's cached view of the link.
type LinkStatus struct {
	State     LinkState
	NetworkID string
	RSSI      int
	// Loss is the measured loss fraction when LossKnown is set.
	Loss      float64
	LossKnown bool
}

// Link is the radio driver. Connect starts an association and returns at
// once; progress is observed through Status. SignalOf returns the last
// scanned signal strength of a network.
type Link interface {
	Connect(c Candidate) error
	Disconnect()
	Status() LinkStatus
	SignalOf(networkID string) (int, bool)
}

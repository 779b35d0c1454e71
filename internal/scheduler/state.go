package scheduler

import "time"

// State is the top-level connection state of the node.
type State int

const (
	Initializing State = iota
	ConnectingLink
	ConnectingServer
	Connected
	Disconnected
	Error
	Maintenance

	stateCount
)

var stateNames = [stateCount]string{
	Initializing:     "initializing",
	ConnectingLink:   "connecting_link",
	ConnectingServer: "connecting_server",
	Connected:        "connected",
	Disconnected:     "disconnected",
	Error:            "error",
	Maintenance:      "maintenance",
}

func (s State) String() string {
	if s < 0 || s >= stateCount {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) Valid() bool { return s >= 0 && s < stateCount }

// ParseState is the inverse of String.
func ParseState(name string) (State, bool) {
	for s := State(0); s < stateCount; s++ {
		if stateNames[s] == name {
			return s, true
		}
	}
	return Initializing, false
}

// States returns every state in declaration order.
func States() []State {
	out := make([]State, 0, stateCount)
	for s := State(0); s < stateCount; s++ {
		out = append(out, s)
	}
	return out
}

var transitions = [stateCount][]State{
	Initializing:     {ConnectingLink, Error, Maintenance},
	ConnectingLink:   {ConnectingServer, Disconnected, Error, Maintenance},
	ConnectingServer: {Connected, ConnectingLink, Disconnected, Error, Maintenance},
	Connected:        {Disconnected, ConnectingLink, ConnectingServer, Error, Maintenance},
	Disconnected:     {ConnectingLink, ConnectingServer, Error, Maintenance},
	Error:            {Initializing, ConnectingLink, Error, Maintenance},
	Maintenance:      {Initializing, ConnectingLink, Error},
}

// CanTransition reports whether the state machine may move from one state
// to another on its own. Forced transitions ignore this table.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Timeouts holds the maximum time per state. Zero disables the timeout.
type Timeouts [stateCount]time.Duration

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Initializing:     10 * time.Second,
		ConnectingLink:   60 * time.Second,
		ConnectingServer: 120 * time.Second,
		Connected:        0,
		Disconnected:     30 * time.Second,
		Error:            15 * time.Second,
		Maintenance:      600 * time.Second,
	}
}

// Transition is one entry of the transition history.
type Transition struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
	Forced bool      `json:"forced"`
}

// TimeoutDiagnostics describes the last state timeout.
type TimeoutDiagnostics struct {
	State        string        `json:"state"`
	Limit        time.Duration `json:"limit"`
	Elapsed      time.Duration `json:"elapsed"`
	At           time.Time     `json:"at"`
	Network      string        `json:"network,omitempty"`
	LinkState    string        `json:"link_state"`
	HasPrimary   bool          `json:"has_primary"`
	Dialing      bool          `json:"dialing"`
	Mode         string        `json:"mode"`
	Health       float64       `json:"health"`
	OpenBreakers []string      `json:"open_breakers,omitempty"`
}

package breaker

import (
	"sort"

	"codeberg.org/mutker/streamctl/internal/clock"
)

// Dependency names the guarded dependency classes. Per-network link
// breakers are named with LinkFor.
const (
	Link       = "link"
	Transport  = "transport"
	Peripheral = "peripheral"
)

// LinkFor returns the breaker name guarding one candidate network.
func LinkFor(networkID string) string {
	return Link + ":" + networkID
}

// Registry owns every breaker. Components refer to breakers by name rather
// than holding pointers to each other.
type Registry struct {
	clk       clock.Clock
	defaults  Config
	overrides map[string]Config
	breakers  map[string]*Breaker
	listener  Listener
}

func NewRegistry(clk clock.Clock, defaults Config, listener Listener) *Registry {
	return &Registry{
		clk:       clk,
		defaults:  defaults,
		overrides: make(map[string]Config),
		breakers:  make(map[string]*Breaker),
		listener:  listener,
	}
}

// Configure sets the config used for name, creating or updating its breaker.
func (r *Registry) Configure(name string, cfg Config) {
	r.overrides[name] = cfg
	if b, ok := r.breakers[name]; ok {
		b.SetConfig(cfg)
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.overrides[name]
	if !ok {
		cfg = r.defaults
	}
	b := New(name, cfg, r.clk)
	b.listener = r.listener
	r.breakers[name] = b
	return b
}

// State returns the state of an existing breaker without creating one.
func (r *Registry) State(name string) (State, bool) {
	b, ok := r.breakers[name]
	if !ok {
		return Closed, false
	}
	return b.State(), true
}

// SetDefaults replaces the defaults and applies them to every breaker
// without an explicit override.
func (r *Registry) SetDefaults(cfg Config) {
	r.defaults = cfg
	for name, b := range r.breakers {
		if _, ok := r.overrides[name]; !ok {
			b.SetConfig(cfg)
		}
	}
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Snapshot() []Stats {
	out := make([]Stats, 0, len(r.breakers))
	for _, name := range r.Names() {
		out = append(out, r.breakers[name].Stats())
	}
	return out
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	for _, b := range r.breakers {
		b.Reset()
	}
}

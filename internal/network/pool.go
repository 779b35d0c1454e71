package network

import (
	"context"
	"time"

	"codeberg.org/mutker/streamctl/internal/breaker"
	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
	"codeberg.org/mutker/streamctl/internal/transport"
	"github.com/google/uuid"
)

type Role int

const (
	RoleIdle Role = iota
	RolePrimary
	RoleBackup
	RoleFailed
)

func (r Role) String() string {
	switch r {
	case RoleIdle:
		return "idle"
	case RolePrimary:
		return "primary"
	case RoleBackup:
		return "backup"
	case RoleFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type PoolConfig struct {
	Address        string
	MaxConnections int
	ConnectTimeout time.Duration
	// BackupAfter is how long the primary must stay healthy before a
	// standby connection is opened.
	BackupAfter         time.Duration
	IdleTimeout         time.Duration
	MaxErrors           int
	HealthCheckInterval time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:      3,
		ConnectTimeout:      5 * time.Second,
		BackupAfter:         30 * time.Second,
		IdleTimeout:         30 * time.Second,
		MaxErrors:           10,
		HealthCheckInterval: 10 * time.Second,
	}
}

// PooledConnection is one upstream connection and its counters.
type PooledConnection struct {
	ID            string
	Role          Role
	Addr          string
	ConnectedAt   clock.Millis
	LastActivity  clock.Millis
	BytesSent     uint64
	BytesReceived uint64
	Errors        int

	conn transport.Conn
}

// ConnectionInfo is a read-only copy of a PooledConnection.
type ConnectionInfo struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	Addr          string `json:"addr"`
	UptimeMs      uint32 `json:"uptime_ms"`
	IdleMs        uint32 `json:"idle_ms"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
	Errors        int    `json:"errors"`
}

type PoolStats struct {
	Connects      uint64 `json:"connects"`
	Reconnects    uint64 `json:"reconnects"`
	DialFailures  uint64 `json:"dial_failures"`
	Failovers     uint64 `json:"failovers"`
	Promotions    uint64 `json:"promotions"`
	Closed        uint64 `json:"closed"`
	Errors        uint64 `json:"errors"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

type dialResult struct {
	conn transport.Conn
	err  error
}

type pendingDial struct {
	role    Role
	started clock.Millis
	result  chan dialResult
	cancel  context.CancelFunc
}

// Pool keeps a primary upstream connection and a standby. Dials run on
// their own goroutine; the pool collects results without blocking in Step.
type Pool struct {
	cfg      PoolConfig
	clk      clock.Clock
	dialer   transport.Dialer
	breakers *breaker.Registry
	logger   logger.Logger

	conns         []*PooledConnection
	pending       *pendingDial
	backupEnabled bool
	hadPrimary    bool
	lastCheck     clock.Millis
	stats         PoolStats
}

func NewPool(cfg PoolConfig, clk clock.Clock, dialer transport.Dialer, breakers *breaker.Registry, log logger.Logger) *Pool {
	return &Pool{
		cfg:           cfg,
		clk:           clk,
		dialer:        dialer,
		breakers:      breakers,
		logger:        log,
		backupEnabled: true,
		lastCheck:     clk.Millis(),
	}
}

// Step collects a finished dial, opens the next needed connection and runs
// the periodic health check. It reports whether a primary is available.
func (p *Pool) Step() bool {
	now := p.clk.Millis()

	if p.pending != nil {
		select {
		case r := <-p.pending.result:
			p.complete(r)
		default:
		}
	}

	if p.pending == nil {
		primary := p.Primary()
		switch {
		case primary == nil:
			p.dial(RolePrimary)
		case p.backupEnabled && p.backup() == nil && len(p.conns) < p.cfg.MaxConnections &&
			now.Elapsed(primary.ConnectedAt, p.cfg.BackupAfter):
			p.dial(RoleBackup)
		}
	}

	if now.Elapsed(p.lastCheck, p.cfg.HealthCheckInterval) {
		p.HealthCheck()
	}

	return p.Primary() != nil
}

func (p *Pool) dial(role Role) {
	if len(p.conns) >= p.cfg.MaxConnections || p.cfg.Address == "" {
		return
	}
	if !p.breakers.Get(breaker.Transport).Allow() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	result := make(chan dialResult, 1)
	p.pending = &pendingDial{
		role:    role,
		started: p.clk.Millis(),
		result:  result,
		cancel:  cancel,
	}

	dialer, addr := p.dialer, p.cfg.Address
	go func() {
		conn, err := dialer.Dial(ctx, addr)
		result <- dialResult{conn: conn, err: err}
	}()

	p.logger.Debug().Str("addr", addr).Str("role", role.String()).Msg("Dialing server")
}

func (p *Pool) complete(r dialResult) {
	pending := p.pending
	p.pending = nil
	pending.cancel()

	b := p.breakers.Get(breaker.Transport)
	if r.err != nil {
		b.RecordFailure()
		p.stats.DialFailures++
		p.logger.Warn().Err(r.err).Str("role", pending.role.String()).Msg("Server dial failed")
		return
	}
	b.RecordSuccess()

	role := pending.role
	if role == RolePrimary && p.Primary() != nil {
		role = RoleBackup
	}
	if role == RoleBackup && (!p.backupEnabled || p.backup() != nil) {
		_ = r.conn.Close()
		return
	}

	now := p.clk.Millis()
	pc := &PooledConnection{
		ID:           uuid.NewString(),
		Role:         role,
		Addr:         r.conn.RemoteAddr(),
		ConnectedAt:  now,
		LastActivity: now,
		conn:         r.conn,
	}
	p.conns = append(p.conns, pc)
	p.stats.Connects++
	if role == RolePrimary {
		if p.hadPrimary {
			p.stats.Reconnects++
		}
		p.hadPrimary = true
	}

	p.logger.Info().Str("id", pc.ID).Str("addr", pc.Addr).Str("role", role.String()).Msg("Server connection established")
}

// Primary returns the primary connection, or nil.
func (p *Pool) Primary() *PooledConnection {
	for _, c := range p.conns {
		if c.Role == RolePrimary {
			return c
		}
	}
	return nil
}

func (p *Pool) backup() *PooledConnection {
	for _, c := range p.conns {
		if c.Role == RoleBackup {
			return c
		}
	}
	return nil
}

func (p *Pool) HasPrimary() bool { return p.Primary() != nil }

func (p *Pool) HasBackup() bool { return p.backup() != nil }

// Dialing reports whether a dial is in flight.
func (p *Pool) Dialing() bool { return p.pending != nil }

// Write sends data on the primary connection.
func (p *Pool) Write(data []byte) error {
	errFactory := errors.New()
	primary := p.Primary()
	if primary == nil {
		return errFactory.New(ErrNoPrimary)
	}

	n, err := primary.conn.Write(data)
	primary.BytesSent += uint64(n)
	p.stats.BytesSent += uint64(n)
	if err != nil {
		primary.Errors++
		p.stats.Errors++
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	primary.LastActivity = p.clk.Millis()
	return nil
}

// NoteReceived accounts bytes read from the primary by the receive path.
func (p *Pool) NoteReceived(n int) {
	if primary := p.Primary(); primary != nil && n > 0 {
		primary.BytesReceived += uint64(n)
		primary.LastActivity = p.clk.Millis()
		p.stats.BytesReceived += uint64(n)
	}
}

// MarkFailed takes a connection out of service. A failed primary no longer
// counts as primary.
func (p *Pool) MarkFailed(id string) bool {
	for _, c := range p.conns {
		if c.ID == id {
			if c.Role != RoleFailed {
				c.Role = RoleFailed
				_ = c.conn.Close()
			}
			return true
		}
	}
	return false
}

// FailoverToBackup retires the primary and promotes the standby.
func (p *Pool) FailoverToBackup() error {
	backup := p.backup()
	if backup == nil {
		return errors.New().New(ErrNoBackup)
	}

	if old := p.Primary(); old != nil {
		old.Role = RoleFailed
		_ = old.conn.Close()
	}
	p.removeFailed()

	backup.Role = RolePrimary
	backup.LastActivity = p.clk.Millis()
	p.stats.Failovers++
	p.stats.Promotions++

	p.logger.Warn().Str("primary", backup.ID).Str("addr", backup.Addr).Msg("Failed over to backup connection")
	return nil
}

// HealthCheck closes failed connections, connections with too many errors
// and a primary that has been idle too long. It returns how many it closed.
func (p *Pool) HealthCheck() int {
	now := p.clk.Millis()
	p.lastCheck = now

	for _, c := range p.conns {
		if c.Role == RoleFailed {
			continue
		}
		tooManyErrors := c.Errors >= p.cfg.MaxErrors
		idle := c.Role == RolePrimary && now.Elapsed(c.LastActivity, p.cfg.IdleTimeout)
		if tooManyErrors || idle {
			p.logger.Info().
				Str("id", c.ID).
				Str("role", c.Role.String()).
				Int("errors", c.Errors).
				Bool("idle", idle).
				Msg("Closing unhealthy connection")
			c.Role = RoleFailed
			_ = c.conn.Close()
		}
	}
	return p.removeFailed()
}

func (p *Pool) removeFailed() int {
	kept := p.conns[:0]
	removed := 0
	for _, c := range p.conns {
		if c.Role == RoleFailed {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(p.conns); i++ {
		p.conns[i] = nil
	}
	p.conns = kept
	p.stats.Closed += uint64(removed)
	return removed
}

// SetBackupEnabled turns standby maintenance on or off. Disabling closes
// the current standby.
func (p *Pool) SetBackupEnabled(enabled bool) {
	p.backupEnabled = enabled
	if !enabled {
		if b := p.backup(); b != nil {
			b.Role = RoleFailed
			_ = b.conn.Close()
			p.removeFailed()
		}
	}
}

// CloseAll closes every connection and abandons any dial in flight. A dial
// that completes later is closed by its own goroutine. A half-open slot the
// dial held on the transport breaker is given back.
func (p *Pool) CloseAll() {
	if p.pending != nil {
		pending := p.pending
		p.pending = nil
		pending.cancel()
		p.breakers.Get(breaker.Transport).Cancel()
		go func() {
			if r := <-pending.result; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
	}
	for _, c := range p.conns {
		c.Role = RoleFailed
		_ = c.conn.Close()
	}
	p.removeFailed()
}

func (p *Pool) Connections() []ConnectionInfo {
	now := p.clk.Millis()
	out := make([]ConnectionInfo, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, ConnectionInfo{
			ID:            c.ID,
			Role:          c.Role.String(),
			Addr:          c.Addr,
			UptimeMs:      now.Since(c.ConnectedAt),
			IdleMs:        now.Since(c.LastActivity),
			BytesSent:     c.BytesSent,
			BytesReceived: c.BytesReceived,
			Errors:        c.Errors,
		})
	}
	return out
}

func (p *Pool) Stats() PoolStats { return p.stats }

// Address is the server the pool dials; empty means none is configured.
func (p *Pool) Address() string { return p.cfg.Address }

// SetConfig applies new timeouts. The address takes effect on the next dial.
func (p *Pool) SetConfig(cfg PoolConfig) {
	p.cfg = cfg
}

package sim

import (
	"context"
	"sync"

	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/transport"
)

// Dialer hands out in-memory connections that accept every write.
type Dialer struct {
	mu    sync.Mutex
	fail  int
	dials uint64
	conns []*Conn
}

func NewDialer() *Dialer {
	return &Dialer{}
}

// FailNext makes the next n dials fail.
func (d *Dialer) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = n
}

func (d *Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New().Wrap(transport.ErrDialFailed, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail > 0 {
		d.fail--
		return nil, errors.New().WithData(transport.ErrDialFailed, "simulated refusal")
	}
	c := &Conn{addr: addr}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *Dialer) Dials() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns every connection handed out so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Conn counts what is written to it.
type Conn struct {
	mu         sync.Mutex
	addr       string
	written    uint64
	closed     bool
	failWrites bool
}

func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failWrites {
		return 0, errors.New().WithData(transport.ErrWriteFailed, "simulated connection closed")
	}
	c.written += uint64(len(p))
	return len(p), nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) RemoteAddr() string { return c.addr }

// FailWrites makes every later write fail.
func (c *Conn) FailWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = true
}

func (c *Conn) Written() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

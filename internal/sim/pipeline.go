package sim

import (
	"encoding/binary"
	"sync"
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/errors"
)

const ErrCaptureFailed = errors.ErrorCode("sim_capture_failed")

const (
	highFidelityFrame = 4096
	lowFidelityFrame  = 1024
	frameHeader       = 8
)

// Pipeline produces sensor frames on a fixed interval and buffers frames
// the data path could not send.
type Pipeline struct {
	mu  sync.Mutex
	clk clock.Clock

	interval   time.Duration
	lastFrame  clock.Millis
	produced   bool
	seq        uint32
	quality    float64
	backlog    [][]byte
	maxBacklog int
	failReads  int

	frames  uint64
	dropped uint64
}

func NewPipeline(clk clock.Clock, interval time.Duration, maxBacklog int) *Pipeline {
	if maxBacklog < 1 {
		maxBacklog = 1
	}
	return &Pipeline{
		clk:        clk,
		interval:   interval,
		quality:    1,
		maxBacklog: maxBacklog,
	}
}

// Next returns a buffered frame, or a new frame when one is due. It returns
// nil when nothing is ready.
func (p *Pipeline) Next(highFidelity bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failReads > 0 {
		p.failReads--
		return nil, errors.New().WithData(ErrCaptureFailed, "simulated peripheral fault")
	}

	if len(p.backlog) > 0 {
		f := p.backlog[0]
		p.backlog = p.backlog[1:]
		return f, nil
	}

	now := p.clk.Millis()
	if p.produced && !now.Elapsed(p.lastFrame, p.interval) {
		return nil, nil
	}
	p.produced = true
	p.lastFrame = now
	return p.frame(highFidelity), nil
}

// FailReads makes the next n calls to Next fail.
func (p *Pipeline) FailReads(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failReads = n
}

func (p *Pipeline) frame(highFidelity bool) []byte {
	size := lowFidelityFrame
	if highFidelity {
		size = highFidelityFrame
	}
	p.seq++
	p.frames++

	f := make([]byte, size)
	binary.LittleEndian.PutUint32(f[0:], p.seq)
	binary.LittleEndian.PutUint32(f[4:], uint32(size-frameHeader))
	for i := frameHeader; i < size; i++ {
		f[i] = byte(p.seq + uint32(i))
	}
	return f
}

// Requeue puts back a frame that could not be sent so it is returned by the
// next call to Next. Frames beyond maxBacklog are dropped from the back.
func (p *Pipeline) Requeue(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backlog = append([][]byte{frame}, p.backlog...)
	if len(p.backlog) > p.maxBacklog {
		p.backlog = p.backlog[:p.maxBacklog]
		p.dropped++
	}
}

// Reset discards the backlog and returns how many frames it held.
func (p *Pipeline) Reset() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.backlog)
	p.backlog = nil
	p.dropped += uint64(n)
	return n
}

func (p *Pipeline) Backlog() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

// Quality is the sensor quality in [0,1].
func (p *Pipeline) Quality() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quality
}

func (p *Pipeline) SetQuality(q float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quality = q
}

func (p *Pipeline) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

func (p *Pipeline) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

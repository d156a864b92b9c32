package engine

import (
	"time"

	"murmur/internal/ports"
)

// preRoll keeps the most recent audio captured while no recording is active.
type preRoll struct {
	limit   time.Duration
	buffers []ports.AudioBuffer
	total   time.Duration
}

func newPreRoll(limit time.Duration) *preRoll {
	return &preRoll{limit: limit}
}

func (p *preRoll) push(buf ports.AudioBuffer) {
	if p.limit <= 0 {
		return
	}
	p.buffers = append(p.buffers, buf)
	p.total += bufferDuration(buf)
	for p.total > p.limit && len(p.buffers) > 0 {
		p.total -= bufferDuration(p.buffers[0])
		p.buffers[0] = ports.AudioBuffer{}
		p.buffers = p.buffers[1:]
	}
}

// drain returns the buffered audio oldest first and empties the ring.
func (p *preRoll) drain() []ports.AudioBuffer {
	out := p.buffers
	p.buffers = nil
	p.total = 0
	return out
}

func (p *preRoll) reset() {
	p.buffers = nil
	p.total = 0
}

func (p *preRoll) duration() time.Duration {
	return p.total
}

func bufferDuration(buf ports.AudioBuffer) time.Duration {
	if buf.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(buf.Frames()) * time.Second / time.Duration(buf.Format.SampleRate)
}

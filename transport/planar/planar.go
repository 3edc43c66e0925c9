// Package planar drives a write callback over non-interleaved float32 buffers, the layout
// PortAudio hands to its stream callback.
package planar

import (
	"fmt"
	"sync/atomic"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
)

// Driver runs the write callback once per device buffer. After the first failure it only
// writes silence; the failure is reported once on Errors.
type Driver struct {
	cb     fpgaudio.WriteCallback
	period *Period
	failed atomic.Bool
	errs   chan error
}

func NewDriver(channels int, cb fpgaudio.WriteCallback) *Driver {
	return &Driver{
		cb:     cb,
		period: &Period{areas: make([]fpgaudio.ChannelArea, channels)},
		errs:   make(chan error, 1),
	}
}

func (d *Driver) Errors() <-chan error {
	return d.errs
}

// Failed reports whether the callback has failed.
func (d *Driver) Failed() bool {
	return d.failed.Load()
}

// Process fills out. Frames the callback did not write are silenced.
func (d *Driver) Process(out [][]float32) {
	if len(out) == 0 {
		return
	}
	if d.failed.Load() {
		Silence(out, 0)
		return
	}

	frames := len(out[0])
	d.period.Reset(out)

	err := d.cb(d.period, frames, frames)
	Silence(out, d.period.written)
	if err != nil {
		d.failed.Store(true)
		select {
		case d.errs <- err:
		default:
		}
	}
}

// Silence zeroes every channel from frame from on.
func Silence(out [][]float32, from int) {
	for _, ch := range out {
		for i := from; i < len(ch); i++ {
			ch[i] = 0
		}
	}
}

// Period adapts one non-interleaved buffer to fpgaudio.OutStream.
type Period struct {
	out     [][]float32
	areas   []fpgaudio.ChannelArea
	written int
	pending int
}

func (p *Period) Reset(out [][]float32) {
	p.out = out
	p.written = 0
	p.pending = 0
}

// Written is the number of frames committed since Reset.
func (p *Period) Written() int {
	return p.written
}

func (p *Period) Channels() int {
	return len(p.out)
}

func (p *Period) BeginWrite(frames int) ([]fpgaudio.ChannelArea, int, error) {
	if len(p.areas) < len(p.out) {
		return nil, 0, fmt.Errorf("stream has %d channels, expected %d", len(p.out), len(p.areas))
	}
	if len(p.out) == 0 {
		return nil, 0, nil
	}
	n := min(frames, len(p.out[0])-p.written)
	for c, ch := range p.out {
		p.areas[c] = fpgaudio.ChannelArea{Buf: ch[p.written:], Step: 1}
	}
	p.pending = n
	return p.areas[:len(p.out)], n, nil
}

func (p *Period) EndWrite() error {
	p.written += p.pending
	p.pending = 0
	return nil
}

var _ fpgaudio.OutStream = &Period{}

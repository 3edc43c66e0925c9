// Package pipe is a headless audio output: a clock drives the write callback and the rendered
// frames come out of Read as interleaved little-endian float32 PCM.
package pipe

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/audio"
)

type Config struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	// BufferSize is how many bytes of PCM are kept for a slow reader before overrun.
	BufferSize int
	Logger     *slog.Logger
}

func (c *Config) Defaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 48_000
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
	if c.FramesPerBuffer == 0 {
		c.FramesPerBuffer = 480
	}
	if c.BufferSize == 0 {
		c.BufferSize = c.SampleRate * c.Channels * 4 // one second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Output renders one buffer of FramesPerBuffer frames per period.
type Output struct {
	cfg    Config
	logger *slog.Logger
	pcm    *audio.Buffer
	period *period
	cb     fpgaudio.WriteCallback
	errs   chan error

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
	closed  bool
}

func New(cfg Config) *Output {
	cfg.Defaults()
	return &Output{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "output"), slog.String("backend", "pipe")),
		pcm:    audio.NewBuffer(cfg.BufferSize),
		errs:   make(chan error, 1),
	}
}

func (o *Output) Open(cb fpgaudio.WriteCallback) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("%w: output closed", fpgaudio.ErrTransport)
	}
	if cb == nil {
		return fmt.Errorf("%w: nil write callback", fpgaudio.ErrTransport)
	}
	if o.running {
		return fmt.Errorf("%w: output is running", fpgaudio.ErrTransport)
	}

	o.cb = cb
	o.period = newPeriod(o.cfg, o.pcm)
	return nil
}

func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cb == nil {
		return fmt.Errorf("%w: output not open", fpgaudio.ErrTransport)
	}
	if o.running {
		return nil
	}

	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	o.running = true

	interval := time.Duration(o.cfg.FramesPerBuffer) * time.Second / time.Duration(o.cfg.SampleRate)
	go o.run(interval, o.stop, o.done)

	o.logger.Debug("started", slog.Duration("period", interval))
	return nil
}

func (o *Output) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.period.reset()
			fpb := o.cfg.FramesPerBuffer
			if err := o.cb(o.period, fpb, fpb); err != nil {
				select {
				case o.errs <- err:
				default:
				}
				return
			}
		}
	}
}

func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}
	close(o.stop)
	<-o.done
	o.running = false

	o.logger.Debug("stopped")
	return nil
}

// Close stops the clock and ends the PCM stream; readers see io.EOF once drained.
func (o *Output) Close() error {
	if err := o.Stop(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.pcm.Close()
}

func (o *Output) Errors() <-chan error {
	return o.errs
}

// Read returns rendered PCM, blocking until some is available.
func (o *Output) Read(p []byte) (int, error) {
	return o.pcm.Read(p)
}

// Overrun reports the bytes dropped because the reader fell behind.
func (o *Output) Overrun() int64 {
	return o.pcm.Overrun()
}

// BytesPerFrame is the size of one interleaved frame in the PCM stream.
func (o *Output) BytesPerFrame() int {
	return o.cfg.Channels * 4
}

// period is the OutStream handed to the callback for one clock tick.
type period struct {
	channels int
	frames   []float32
	scratch  []byte
	areas    []fpgaudio.ChannelArea
	written  int
	pending  int
	pcm      *audio.Buffer
}

func newPeriod(cfg Config, pcm *audio.Buffer) *period {
	return &period{
		channels: cfg.Channels,
		frames:   make([]float32, cfg.FramesPerBuffer*cfg.Channels),
		scratch:  make([]byte, cfg.FramesPerBuffer*cfg.Channels*4),
		areas:    make([]fpgaudio.ChannelArea, cfg.Channels),
		pcm:      pcm,
	}
}

func (p *period) reset() {
	p.written = 0
	p.pending = 0
}

func (p *period) Channels() int {
	return p.channels
}

func (p *period) BeginWrite(frames int) ([]fpgaudio.ChannelArea, int, error) {
	room := len(p.frames)/p.channels - p.written
	n := min(frames, room)

	off := p.written * p.channels
	for c := range p.areas {
		p.areas[c] = fpgaudio.ChannelArea{Buf: p.frames[off+c:], Step: p.channels}
	}
	p.pending = n
	return p.areas, n, nil
}

func (p *period) EndWrite() error {
	from, to := p.written*p.channels, (p.written+p.pending)*p.channels
	n := audio.PutFloat32LE(p.scratch, p.frames[from:to])
	if _, err := p.pcm.Write(p.scratch[:n]); err != nil {
		return err
	}
	p.written += p.pending
	p.pending = 0
	return nil
}

var (
	_ fpgaudio.Output    = &Output{}
	_ fpgaudio.OutStream = &period{}
)

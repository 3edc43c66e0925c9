package fpgaudio

import (
	"fmt"
	"math"

	"github.com/fpgaudio/fpgaudio-demo/audio"
	"github.com/fpgaudio/fpgaudio-demo/proto"
)

const (
	MaxDistance = 200 // distance mapped to full level
	MaxAngle    = 360
)

// ChannelArea is one channel of an output buffer. Sample f lives at Buf[f*Step].
type ChannelArea struct {
	Buf  []float32
	Step int
}

// OutStream is what the audio transport hands to the write callback.
// BeginWrite acquires up to frames frames and reports how many it got; EndWrite commits them.
type OutStream interface {
	Channels() int
	BeginWrite(frames int) ([]ChannelArea, int, error)
	EndWrite() error
}

// WriteCallback is invoked by the transport on its real-time thread.
// Returned errors are fatal for the stream.
type WriteCallback func(s OutStream, minFrames, maxFrames int) error

// Params are attenuation factors, 0 silences and math.MaxUint16 passes through.
type Params struct {
	Level     uint16
	Harmonic1 uint16
	Harmonic2 uint16
	Harmonic3 uint16
	Harmonic4 uint16
}

// Synth is the synthesis graph driven by the callback.
type Synth interface {
	SetParams(p Params)
	// Sample returns the current output sample without advancing time.
	Sample() int16
	// Tick advances the graph by one sample period.
	Tick()
}

func attenuation(v, limit float32) uint16 {
	x := float64(v / limit)
	if math.IsNaN(x) || x <= 0 {
		return 0
	}
	if x >= 1 {
		return math.MaxUint16
	}
	return uint16(x * math.MaxUint16)
}

// MapRecord scales the hand pose onto synth parameters: distance controls the level and
// each finger angle one harmonic.
func MapRecord(r proto.ControlRecord) Params {
	return Params{
		Level:     attenuation(r.Distance, MaxDistance),
		Harmonic1: attenuation(r.IndexAngle, MaxAngle),
		Harmonic2: attenuation(r.MiddleAngle, MaxAngle),
		Harmonic3: attenuation(r.RingAngle, MaxAngle),
		Harmonic4: attenuation(r.PinkyAngle, MaxAngle),
	}
}

type rendererOptions struct {
	mapper func(proto.ControlRecord) Params
	frames func(n int)
}

type RendererOption func(opts *rendererOptions)

func WithMapper(f func(proto.ControlRecord) Params) RendererOption {
	return func(opts *rendererOptions) {
		opts.mapper = f
	}
}

// WithFramesObserver is told how many frames each batch committed. It runs on the audio thread.
func WithFramesObserver(f func(n int)) RendererOption {
	return func(opts *rendererOptions) {
		opts.frames = f
	}
}

// Renderer turns the latest control record into audio, one frame at a time.
type Renderer struct {
	box    *Lockbox[proto.ControlRecord]
	synth  Synth
	mapper func(proto.ControlRecord) Params
	frames func(n int)
}

func NewRenderer(box *Lockbox[proto.ControlRecord], synth Synth, opts ...RendererOption) *Renderer {
	o := rendererOptions{mapper: MapRecord}
	for _, opt := range opts {
		opt(&o)
	}
	return &Renderer{
		box:    box,
		synth:  synth,
		mapper: o.mapper,
		frames: o.frames,
	}
}

// Write fills up to maxFrames frames. It stops early when the stream has no room left.
// Errors from the stream wrap ErrTransport; nothing is retried.
func (r *Renderer) Write(s OutStream, minFrames, maxFrames int) error {
	framesLeft := maxFrames
	channels := s.Channels()

	for framesLeft > 0 {
		areas, frameCount, err := s.BeginWrite(framesLeft)
		if err != nil {
			return fmt.Errorf("%w: begin write: %w", ErrTransport, err)
		}
		if frameCount == 0 {
			break
		}
		if len(areas) < channels {
			return fmt.Errorf("%w: got %d channel areas for %d channels", ErrTransport, len(areas), channels)
		}

		for frame := 0; frame < frameCount; frame++ {
			r.synth.SetParams(r.mapper(r.box.Get()))

			sample := audio.QuantToFloat(r.synth.Sample())
			for ch := 0; ch < channels; ch++ {
				areas[ch].Buf[frame*areas[ch].Step] = sample
			}
			r.synth.Tick()
		}

		if err := s.EndWrite(); err != nil {
			return fmt.Errorf("%w: end write: %w", ErrTransport, err)
		}
		if r.frames != nil {
			r.frames(frameCount)
		}

		framesLeft -= frameCount
	}

	return nil
}

var _ WriteCallback = (&Renderer{}).Write

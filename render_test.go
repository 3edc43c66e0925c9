package fpgaudio

import (
	"errors"
	"math"
	"testing"

	"github.com/fpgaudio/fpgaudio-demo/proto"
	"github.com/stretchr/testify/require"
)

// fakeSynth returns an increasing ramp so every frame is distinguishable.
type fakeSynth struct {
	params  []Params
	samples int
	ticks   int
}

func (f *fakeSynth) SetParams(p Params) {
	f.params = append(f.params, p)
}

func (f *fakeSynth) Sample() int16 {
	f.samples++
	return int16(f.ticks * 1024)
}

func (f *fakeSynth) Tick() {
	f.ticks++
}

// fakeStream hands out interleaved areas of at most chunk frames.
type fakeStream struct {
	channels int
	buf      []float32
	chunk    int
	written  int
	pending  int
	begins   int
	ends     int

	beginErr error
	endErr   error
}

func newFakeStream(channels, frames, chunk int) *fakeStream {
	return &fakeStream{channels: channels, buf: make([]float32, channels*frames), chunk: chunk}
}

func (f *fakeStream) Channels() int {
	return f.channels
}

func (f *fakeStream) BeginWrite(frames int) ([]ChannelArea, int, error) {
	f.begins++
	if f.beginErr != nil {
		return nil, 0, f.beginErr
	}
	n := min(frames, f.chunk, len(f.buf)/f.channels-f.written)
	areas := make([]ChannelArea, f.channels)
	for c := range areas {
		areas[c] = ChannelArea{Buf: f.buf[f.written*f.channels+c:], Step: f.channels}
	}
	f.pending = n
	return areas, n, nil
}

func (f *fakeStream) EndWrite() error {
	f.ends++
	if f.endErr != nil {
		return f.endErr
	}
	f.written += f.pending
	return nil
}

func TestRendererZeroFrames(t *testing.T) {
	var (
		synth  = &fakeSynth{}
		stream = newFakeStream(2, 8, 8)
		r      = NewRenderer(NewLockbox(proto.ControlRecord{}), synth, WithMapper(func(proto.ControlRecord) Params {
			t.Fatal("mapper called for an empty batch")
			return Params{}
		}))
	)

	require.NoError(t, r.Write(stream, 0, 0))
	require.Zero(t, stream.begins)
	require.Zero(t, synth.samples)
	require.Zero(t, synth.ticks)
	require.Empty(t, synth.params)
	require.Equal(t, make([]float32, 16), stream.buf)
}

func TestRendererFillsEveryChannel(t *testing.T) {
	var (
		synth     = &fakeSynth{}
		stream    = newFakeStream(3, 10, 4)
		committed []int
		rec       = proto.ControlRecord{Distance: 100, IndexAngle: 360, MiddleAngle: 180, RingAngle: 0, PinkyAngle: 90}
		r         = NewRenderer(NewLockbox(rec), synth, WithFramesObserver(func(n int) {
			committed = append(committed, n)
		}))
	)

	require.NoError(t, r.Write(stream, 1, 10))

	require.Equal(t, []int{4, 4, 2}, committed)
	require.Equal(t, 10, synth.samples)
	require.Equal(t, 10, synth.ticks)
	require.Len(t, synth.params, 10)
	require.Equal(t, MapRecord(rec), synth.params[0])

	for f := 0; f < 10; f++ {
		want := float32(f*1024) / (1 << 15)
		for c := 0; c < 3; c++ {
			require.Equal(t, want, stream.buf[f*3+c], "frame %d channel %d", f, c)
		}
	}
}

func TestRendererStopsWhenStreamIsFull(t *testing.T) {
	synth := &fakeSynth{}
	stream := newFakeStream(1, 5, 5)
	r := NewRenderer(NewLockbox(proto.ControlRecord{}), synth)

	require.NoError(t, r.Write(stream, 1, 100))
	require.Equal(t, 5, synth.ticks)
	require.Equal(t, 2, stream.begins, "second acquisition returned no frames")
}

func TestRendererTransportErrors(t *testing.T) {
	boom := errors.New("device lost")

	stream := newFakeStream(2, 4, 4)
	stream.beginErr = boom
	r := NewRenderer(NewLockbox(proto.ControlRecord{}), &fakeSynth{})
	err := r.Write(stream, 4, 4)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, boom)

	synth := &fakeSynth{}
	stream = newFakeStream(2, 8, 4)
	stream.endErr = boom
	r = NewRenderer(NewLockbox(proto.ControlRecord{}), synth)
	err = r.Write(stream, 8, 8)
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, 1, stream.ends, "no recovery after a failed commit")
	require.Equal(t, 4, synth.ticks)
}

func TestRendererReadsLatestRecordPerFrame(t *testing.T) {
	lb := NewLockbox(proto.ControlRecord{Distance: 0})
	synth := &fakeSynth{}
	var calls int
	r := NewRenderer(lb, synth, WithMapper(func(rec proto.ControlRecord) Params {
		calls++
		// a record published mid-batch is picked up by the next frame
		lb.Set(proto.ControlRecord{Distance: float32(calls)})
		return Params{Level: uint16(rec.Distance)}
	}))

	require.NoError(t, r.Write(newFakeStream(1, 3, 3), 3, 3))
	require.Equal(t, []Params{{Level: 0}, {Level: 1}, {Level: 2}}, synth.params)
}

func TestMapRecord(t *testing.T) {
	p := MapRecord(proto.ControlRecord{Distance: 100, IndexAngle: 360, MiddleAngle: 180, RingAngle: 0, PinkyAngle: 90})
	require.InDelta(t, math.MaxUint16/2, p.Level, 1)
	require.Equal(t, uint16(math.MaxUint16), p.Harmonic1)
	require.InDelta(t, math.MaxUint16/2, p.Harmonic2, 1)
	require.Zero(t, p.Harmonic3)
	require.InDelta(t, math.MaxUint16/4, p.Harmonic4, 1)

	clamped := MapRecord(proto.ControlRecord{
		Distance:   500,
		IndexAngle: -10,
		RingAngle:  float32(math.NaN()),
	})
	require.Equal(t, uint16(math.MaxUint16), clamped.Level)
	require.Zero(t, clamped.Harmonic1)
	require.Zero(t, clamped.Harmonic3)
}

// Package synth is a small fixed-point synthesis graph: sine sources, attenuators and a mix,
// driven one tick at a time by the audio callback.
package synth

import (
	"math"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
)

// Node produces the sample for the current tick.
type Node interface {
	Sample() int16
}

// Sine is a sine source with a period expressed in ticks.
type Sine struct {
	table []int16
	phase int
}

func NewSine(periodTicks int) *Sine {
	if periodTicks < 1 {
		periodTicks = 1
	}
	table := make([]int16, periodTicks)
	for i := range table {
		table[i] = int16(math.Sin(2*math.Pi*float64(i)/float64(periodTicks)) * math.MaxInt16)
	}
	return &Sine{table: table}
}

func (s *Sine) Sample() int16 {
	return s.table[s.phase]
}

func (s *Sine) Tick() {
	s.phase++
	if s.phase == len(s.table) {
		s.phase = 0
	}
}

// Attenuator scales its input by Factor/math.MaxUint16.
type Attenuator struct {
	In     Node
	Factor uint16
}

func (a *Attenuator) Sample() int16 {
	return int16(int32(a.In.Sample()) * int32(a.Factor) / math.MaxUint16)
}

// Sum mixes its inputs at half gain and saturates.
type Sum []Node

func (s Sum) Sample() int16 {
	var acc int32
	for _, n := range s {
		acc += int32(n.Sample())
	}
	acc /= 2
	return int16(max(math.MinInt16, min(math.MaxInt16, acc)))
}

// Base and harmonic periods at 48kHz.
var (
	BasePeriodTicks     = 456
	HarmonicPeriodTicks = [4]int{227, 113, 56, 28}
)

// Voice is a base tone with four harmonics. The overall level and each harmonic's
// attenuation follow the parameters set by the audio callback. A Voice belongs to the
// audio thread and is not safe for concurrent use.
type Voice struct {
	sources   []*Sine
	harmonics [4]*Attenuator
	out       *Attenuator
}

func NewVoice() *Voice {
	v := &Voice{}

	base := NewSine(BasePeriodTicks)
	v.sources = append(v.sources, base)
	mix := Sum{base}

	for i, period := range HarmonicPeriodTicks {
		src := NewSine(period)
		v.sources = append(v.sources, src)
		v.harmonics[i] = &Attenuator{In: src, Factor: math.MaxUint16 >> (i + 2)}
		mix = append(mix, v.harmonics[i])
	}

	v.out = &Attenuator{In: mix, Factor: 0}
	return v
}

func (v *Voice) SetParams(p fpgaudio.Params) {
	v.out.Factor = p.Level
	v.harmonics[0].Factor = p.Harmonic1
	v.harmonics[1].Factor = p.Harmonic2
	v.harmonics[2].Factor = p.Harmonic3
	v.harmonics[3].Factor = p.Harmonic4
}

func (v *Voice) Sample() int16 {
	return v.out.Sample()
}

func (v *Voice) Tick() {
	for _, s := range v.sources {
		s.Tick()
	}
}

var _ fpgaudio.Synth = &Voice{}

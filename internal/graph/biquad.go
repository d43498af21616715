package graph

import (
	"fmt"
	"math"
	"strings"
)

type FilterType int

const (
	Lowpass FilterType = iota
	Highpass
	Bandpass
)

func (t FilterType) String() string {
	switch t {
	case Highpass:
		return "highpass"
	case Bandpass:
		return "bandpass"
	default:
		return "lowpass"
	}
}

func ParseFilterType(name string) (FilterType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lowpass", "lp":
		return Lowpass, nil
	case "highpass", "hp":
		return Highpass, nil
	case "bandpass", "bp":
		return Bandpass, nil
	default:
		return Lowpass, fmt.Errorf("unknown filter type %q (expected lowpass|highpass|bandpass)", name)
	}
}

// Biquad is a second-order IIR filter using the RBJ cookbook coefficients.
type Biquad struct {
	sampleRate float64
	typ        FilterType
	freq, q    float64

	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func NewBiquad(sampleRate int, typ FilterType, freq, q float64) *Biquad {
	b := &Biquad{sampleRate: float64(sampleRate)}
	b.Set(typ, freq, q)
	return b
}

func (b *Biquad) Type() FilterType { return b.typ }

// Set recomputes the coefficients. Filter state is kept so parameter
// sweeps stay continuous.
func (b *Biquad) Set(typ FilterType, freq, q float64) {
	nyq := b.sampleRate * 0.45
	if freq < 10 {
		freq = 10
	}
	if freq > nyq {
		freq = nyq
	}
	if q < 0.0001 {
		q = 0.0001
	}
	b.typ, b.freq, b.q = typ, freq, q

	w0 := 2 * math.Pi * freq / b.sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)
	var b0, b1, b2 float64
	switch typ {
	case Highpass:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
	case Bandpass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
	default:
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
	}
	a0 := 1 + alpha
	b.b0, b.b1, b.b2 = b0/a0, b1/a0, b2/a0
	b.a1, b.a2 = -2*cosw/a0, (1-alpha)/a0
}

func (b *Biquad) Tick(x float64) float64 {
	y := b.b0*x + b.b1*b.x1 + b.b2*b.x2 - b.a1*b.y1 - b.a2*b.y2
	b.x2, b.x1 = b.x1, x
	b.y2, b.y1 = b.y1, y
	return y
}

// Process filters buf in place.
func (b *Biquad) Process(buf []float32) {
	for i, x := range buf {
		buf[i] = float32(b.Tick(float64(x)))
	}
}

func (b *Biquad) Reset() {
	b.x1, b.x2, b.y1, b.y2 = 0, 0, 0, 0
}

package graph

import "math"

// Source adds mono audio for frames [frame0, frame0+len(dst)) into dst.
type Source interface {
	Mix(dst []float32, frame0 int64)
}

type Waveform int

const (
	Sine Waveform = iota
	Square
	Sawtooth
	Triangle
)

// Oscillator is a band-limited periodic source. It is silent outside
// [Start, Stop); a Stop of zero never stops.
type Oscillator struct {
	Wave   Waveform
	Freq   float64
	Detune float64 // cents
	Gain   float32
	Start  int64
	Stop   int64
	// Mod, when set, detunes the oscillator per sample by its value in cents.
	Mod *Shared

	sampleRate float64
	phase      float64
}

func NewOscillator(sampleRate int, wave Waveform, freq float64, gain float32) *Oscillator {
	return &Oscillator{
		Wave:       wave,
		Freq:       freq,
		Gain:       gain,
		sampleRate: float64(sampleRate),
	}
}

func (o *Oscillator) Mix(dst []float32, frame0 int64) {
	var mod []float32
	if o.Mod != nil {
		mod = o.Mod.Block(frame0, len(dst))
	}
	base := o.Freq * CentsRatio(o.Detune)
	for i := range dst {
		f := frame0 + int64(i)
		if f < o.Start || (o.Stop > 0 && f >= o.Stop) {
			continue
		}
		freq := base
		if mod != nil {
			freq *= CentsRatio(float64(mod[i]))
		}
		dt := freq / o.sampleRate
		dst[i] += o.Gain * float32(o.sample(dt))
		o.phase += dt
		if o.phase >= 1 {
			o.phase -= math.Floor(o.phase)
		}
	}
}

func (o *Oscillator) sample(dt float64) float64 {
	p := o.phase
	switch o.Wave {
	case Square:
		out := -1.0
		if p < 0.5 {
			out = 1
		}
		out += polyBLEP(p, dt)
		out -= polyBLEP(math.Mod(p+0.5, 1), dt)
		return out
	case Sawtooth:
		return 2*p - 1 - polyBLEP(p, dt)
	case Triangle:
		return 1 - 4*math.Abs(p-0.5)
	default:
		return math.Sin(2 * math.Pi * p)
	}
}

// polyBLEP reduces aliasing at waveform discontinuities.
// t is the phase position [0,1), dt is the phase increment per sample.
func polyBLEP(t, dt float64) float64 {
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}

// CentsRatio converts a pitch offset in cents to a frequency ratio.
func CentsRatio(cents float64) float64 {
	if cents == 0 {
		return 1
	}
	return math.Pow(2, cents/1200)
}

// Shared renders a modulation signal once per block so any number of
// sources can read the same values. It belongs to the render goroutine.
type Shared struct {
	gen    func(dst []float32)
	frame0 int64
	buf    []float32
	valid  bool
}

func NewShared(gen func(dst []float32)) *Shared {
	return &Shared{gen: gen}
}

// Block returns the signal for the n frames starting at frame0.
func (s *Shared) Block(frame0 int64, n int) []float32 {
	if s.valid && s.frame0 == frame0 && len(s.buf) == n {
		return s.buf
	}
	if cap(s.buf) < n {
		s.buf = make([]float32, n)
	}
	s.buf = s.buf[:n]
	s.gen(s.buf)
	s.frame0, s.valid = frame0, true
	return s.buf
}

// BufferSource plays Data once, starting at frame Start.
type BufferSource struct {
	Data  []float32
	Gain  float32
	Start int64
}

func (b *BufferSource) Mix(dst []float32, frame0 int64) {
	for i := range dst {
		idx := frame0 + int64(i) - b.Start
		if idx < 0 || idx >= int64(len(b.Data)) {
			continue
		}
		dst[i] += b.Data[idx] * b.Gain
	}
}

// End returns the first frame after the buffer has finished.
func (b *BufferSource) End() int64 { return b.Start + int64(len(b.Data)) }

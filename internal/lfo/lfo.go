// Package lfo provides the low-frequency oscillator behind string vibrato.
package lfo

import "math"

const (
	WaveSine = iota
	WaveTriangle
	WaveSquare
	WaveSaw
)

// LFO produces a per-sample modulation value in [-depth, +depth]. One LFO
// is shared by every oscillator of a voice so their vibrato stays in phase.
type LFO struct {
	depth    float64
	rateHz   float64
	waveform int
	phase    float64 // [0, 1)
}

// New returns an LFO already configured with Set.
func New(depth, rateHz float64, waveform int) *LFO {
	l := &LFO{}
	l.Set(depth, rateHz, waveform)
	return l
}

// Set configures the LFO. Unknown waveforms fall back to sine.
func (l *LFO) Set(depth, rateHz float64, waveform int) {
	if waveform < WaveSine || waveform > WaveSaw {
		waveform = WaveSine
	}
	l.depth, l.rateHz, l.waveform = depth, rateHz, waveform
}

// Sample advances the LFO by one sample. It returns 0 while inactive.
func (l *LFO) Sample(sampleRate float64) float64 {
	if !l.Active() || sampleRate == 0 {
		return 0
	}
	var v float64
	switch l.waveform {
	case WaveTriangle:
		if l.phase < 0.5 {
			v = 4*l.phase - 1
		} else {
			v = 3 - 4*l.phase
		}
	case WaveSquare:
		v = -1
		if l.phase < 0.5 {
			v = 1
		}
	case WaveSaw:
		v = 1 - 2*l.phase
	default:
		v = math.Sin(2 * math.Pi * l.phase)
	}
	l.phase += l.rateHz / sampleRate
	l.phase -= math.Floor(l.phase)
	return v * l.depth
}

// Fill writes consecutive samples into dst.
func (l *LFO) Fill(dst []float32, sampleRate float64) {
	for i := range dst {
		dst[i] = float32(l.Sample(sampleRate))
	}
}

// Active reports whether the LFO has non-zero depth and rate.
func (l *LFO) Active() bool {
	return l.depth != 0 && l.rateHz != 0
}

func (l *LFO) Reset() {
	l.phase = 0
}

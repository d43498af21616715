package effects

import (
	"math"
	"sync/atomic"

	"github.com/viterin/vek/vek32"
)

// EQ5Band is a 5-band master equalizer built from four cascaded one-pole
// crossovers at 200Hz, 800Hz, 2.5kHz and 8kHz. Gains are bit-cast float32
// values so the render goroutine reads them without locking.
type EQ5Band struct {
	gains  [5]atomic.Uint32
	alphas [4]float32
	lp     [2][4]float32 // crossover state per channel

	bands [5][]float32
	rest  []float32
}

var crossovers = [4]float64{200, 800, 2500, 8000}

func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{}
	dt := 1 / float64(sampleRate)
	for i, freq := range crossovers {
		rc := 1 / (2 * math.Pi * freq)
		eq.alphas[i] = float32(dt / (rc + dt))
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float32bits(1))
	}
	return eq
}

// SetGain sets band (0-4) to gain, clamped to [0, 4]. 1 is unity.
func (eq *EQ5Band) SetGain(band int, gain float32) bool {
	if band < 0 || band >= len(eq.gains) {
		return false
	}
	eq.gains[band].Store(math.Float32bits(clamp(gain, 0, 4)))
	return true
}

func (eq *EQ5Band) Gain(band int) float32 {
	if band < 0 || band >= len(eq.gains) {
		return 1
	}
	return math.Float32frombits(eq.gains[band].Load())
}

func (eq *EQ5Band) flat() bool {
	for i := range eq.gains {
		if eq.Gain(i) != 1 {
			return false
		}
	}
	return true
}

// Process equalizes a stereo block in place. A flat EQ only advances the
// crossover state.
func (eq *EQ5Band) Process(l, r []float32) {
	flat := eq.flat()
	for ch, buf := range [2][]float32{l, r} {
		eq.split(ch, buf)
		if flat {
			continue
		}
		clear(buf)
		for b := range eq.bands {
			vek32.MulNumber_Inplace(eq.bands[b], eq.Gain(b))
			vek32.Add_Inplace(buf, eq.bands[b])
		}
	}
}

func (eq *EQ5Band) split(ch int, in []float32) {
	n := len(in)
	for b := range eq.bands {
		if cap(eq.bands[b]) < n {
			eq.bands[b] = make([]float32, n)
		}
		eq.bands[b] = eq.bands[b][:n]
	}
	if cap(eq.rest) < n {
		eq.rest = make([]float32, n)
	}
	rest := eq.rest[:n]
	copy(rest, in)
	for i := range eq.alphas {
		a, state, band := eq.alphas[i], eq.lp[ch][i], eq.bands[i]
		for j, x := range rest {
			state += a * (x - state)
			band[j] = state
		}
		eq.lp[ch][i] = state
		vek32.Sub_Inplace(rest, band)
	}
	copy(eq.bands[4], rest)
}

func (eq *EQ5Band) Reset() {
	eq.lp = [2][4]float32{}
}

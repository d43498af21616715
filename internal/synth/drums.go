package synth

import (
	"math"
	"math/rand"

	"github.com/Sapo-biz/MusicFlow/internal/graph"
	"github.com/Sapo-biz/MusicFlow/internal/theory"
)

type drumSound int

const (
	kick drumSound = iota
	snare
	closedHat
	openHat
	crash
	ride
	tomLow
	tomMid
	tomHigh
	numDrumSounds
)

// drumMap assigns a percussion sound to each pitch class, C through B.
var drumMap = [12]drumSound{
	kick, crash, snare, ride, snare, tomLow,
	closedHat, tomLow, closedHat, tomMid, openHat, tomHigh,
}

// drumKit plays pre-rendered one-shot buffers. Rendering uses a fixed seed
// so every kit sounds identical.
type drumKit struct {
	sampleRate int
	buffers    [numDrumSounds][]float32
}

func newDrumKit(sampleRate int) *drumKit {
	k := &drumKit{sampleRate: sampleRate}
	rng := rand.New(rand.NewSource(1))
	for s := kick; s < numDrumSounds; s++ {
		k.buffers[s] = renderDrum(s, sampleRate, rng)
	}
	return k
}

func (k *drumKit) Kind() Kind { return Drums }

func (k *drumKit) Trigger(note string, velocity, _, when float64) *Voice {
	// Unparsable notes play the A pitch class, like every other instrument.
	sound := drumMap[9]
	if name, _, ok := theory.ParseNote(note); ok {
		idx, _ := theory.PitchIndex(name)
		sound = drumMap[idx]
	}
	velocity = clamp(velocity, 0, 1)
	src := &graph.BufferSource{Data: k.buffers[sound], Gain: 1}
	v := newVoice(k.sampleRate, note, when, []graph.Source{src}, nil)
	src.Start = v.start
	v.env.SetValue(velocity)
	v.stop.Store(src.End())
	return v
}

// Release is a no-op: drum hits always play out.
func (k *drumKit) Release(string, float64) {}

func renderDrum(s drumSound, sampleRate int, rng *rand.Rand) []float32 {
	sr := float64(sampleRate)
	length := func(sec float64) []float32 { return make([]float32, int(sec*sr)) }
	noise := func(buf []float32, f *graph.Biquad, decay, gain float64) {
		for i := range buf {
			t := float64(i) / sr
			x := f.Tick(rng.Float64()*2 - 1)
			buf[i] += float32(x * math.Exp(-decay*t) * gain)
		}
	}
	sweep := func(buf []float32, from, to, sweepSec, decay, gain float64) {
		phase := 0.0
		for i := range buf {
			t := float64(i) / sr
			f := to + (from-to)*math.Exp(-t/sweepSec)
			phase += 2 * math.Pi * f / sr
			buf[i] += float32(math.Sin(phase) * math.Exp(-decay*t) * gain)
		}
	}

	switch s {
	case kick:
		buf := length(0.5)
		sweep(buf, 150, 40, 0.05, 6, 1)
		for i, x := range buf {
			buf[i] = float32(math.Tanh(float64(x) * 1.5))
		}
		return buf
	case snare:
		buf := length(0.2)
		sweep(buf, 220, 180, 0.02, 20, 0.5)
		noise(buf, graph.NewBiquad(sampleRate, graph.Highpass, 1000, 0.7), 15, 0.7)
		return buf
	case closedHat:
		buf := length(0.06)
		noise(buf, graph.NewBiquad(sampleRate, graph.Highpass, 7000, 0.7), 60, 0.5)
		return buf
	case openHat:
		buf := length(0.3)
		noise(buf, graph.NewBiquad(sampleRate, graph.Highpass, 7000, 0.7), 10, 0.4)
		return buf
	case crash:
		buf := length(1.5)
		noise(buf, graph.NewBiquad(sampleRate, graph.Highpass, 5000, 0.7), 2.5, 0.4)
		return buf
	case ride:
		buf := length(1.0)
		noise(buf, graph.NewBiquad(sampleRate, graph.Bandpass, 8000, 1), 4, 0.4)
		sweep(buf, 5200, 5200, 1, 5, 0.05)
		return buf
	case tomLow, tomMid, tomHigh:
		base := map[drumSound]float64{tomLow: 100, tomMid: 150, tomHigh: 220}[s]
		buf := length(0.4)
		sweep(buf, base*1.5, base, 0.04, 8, 0.8)
		return buf
	}
	return nil
}

// Package synth builds per-note voices for each instrument kind and keeps
// per-track registries of the voices still sounding.
package synth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Sapo-biz/MusicFlow/internal/graph"
	"github.com/Sapo-biz/MusicFlow/internal/lfo"
	"github.com/Sapo-biz/MusicFlow/internal/theory"
)

// Kind tags an instrument variant.
type Kind string

const (
	Piano   Kind = "piano"
	Drums   Kind = "drums"
	Guitar  Kind = "guitar"
	Bass    Kind = "bass"
	Synth   Kind = "synth"
	Strings Kind = "strings"
)

// Kinds lists every instrument in display order.
var Kinds = []Kind{Piano, Drums, Guitar, Bass, Synth, Strings}

var ErrUnknownInstrument = errors.New("unknown instrument")

// ParseKind resolves an instrument name case-insensitively.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownInstrument, name)
}

// Instrument turns note triggers into voices. Times are audio-clock seconds
// and duration is the held length before release.
type Instrument interface {
	Kind() Kind
	Trigger(note string, velocity, duration, when float64) *Voice
	Release(note string, when float64)
}

// New constructs the instrument for kind.
func New(kind Kind, sampleRate int) (Instrument, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	switch kind {
	case Piano:
		return newTonal(kind, sampleRate, envelope{0.01, 0.3, 0.3, 1.2}, 0.3, pianoPatch), nil
	case Guitar:
		return newTonal(kind, sampleRate, envelope{0.005, 0.2, 0.4, 0.5}, 0.3, guitarPatch), nil
	case Bass:
		return newTonal(kind, sampleRate, envelope{0.005, 0.1, 0.7, 0.2}, 0.4, bassPatch), nil
	case Synth:
		return newTonal(kind, sampleRate, envelope{0.02, 0.2, 0.6, 0.3}, 0.25, synthPatch), nil
	case Strings:
		return newTonal(kind, sampleRate, envelope{0.4, 0.3, 0.8, 0.8}, 0.25, stringsPatch), nil
	case Drums:
		return newDrumKit(sampleRate), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstrument, kind)
	}
}

type envelope struct {
	attack, decay, sustain, release float64
}

// patch builds the sources and optional filter of one voice.
type patch func(sampleRate int, freq float64, start int64) ([]graph.Source, *graph.Biquad)

type tonal struct {
	kind       Kind
	sampleRate int
	env        envelope
	level      float64
	build      patch

	mu   sync.Mutex
	held map[string]*Voice
}

func newTonal(kind Kind, sampleRate int, env envelope, level float64, build patch) *tonal {
	return &tonal{
		kind:       kind,
		sampleRate: sampleRate,
		env:        env,
		level:      level,
		build:      build,
		held:       make(map[string]*Voice),
	}
}

func (t *tonal) Kind() Kind { return t.kind }

func (t *tonal) Trigger(note string, velocity, duration, when float64) *Voice {
	velocity = clamp(velocity, 0, 1)
	if duration < 0 {
		duration = 0
	}
	freq := theory.NoteFrequency(note)
	start := graph.FrameAt(when, t.sampleRate)
	sources, filter := t.build(t.sampleRate, freq, start)
	v := newVoice(t.sampleRate, note, when, sources, filter)
	v.release = t.env.release

	peak := velocity * t.level
	sustain := peak * t.env.sustain
	if sustain < 0.0001 {
		sustain = 0.0001
	}
	v.env.SetValueAtTime(0, when)
	v.env.LinearRampToValueAtTime(peak, when+t.env.attack)
	v.env.ExponentialRampToValueAtTime(sustain, when+t.env.attack+t.env.decay)
	off := when + duration
	v.env.CancelAndHold(off)
	v.env.ExponentialRampToValueAtTime(0.001, off+t.env.release)
	v.stopAt(off + t.env.release)

	t.mu.Lock()
	t.held[note] = v
	t.mu.Unlock()
	return v
}

func (t *tonal) Release(note string, when float64) {
	t.mu.Lock()
	v := t.held[note]
	delete(t.held, note)
	t.mu.Unlock()
	if v != nil && !v.Ended() {
		v.releaseAt(when)
	}
}

func pianoPatch(sampleRate int, freq float64, start int64) ([]graph.Source, *graph.Biquad) {
	partials := []float32{0.6, 0.25, 0.1, 0.05}
	sources := make([]graph.Source, 0, len(partials))
	for i, g := range partials {
		o := graph.NewOscillator(sampleRate, graph.Sine, freq*float64(i+1), g)
		o.Start = start
		sources = append(sources, o)
	}
	return sources, nil
}

func guitarPatch(sampleRate int, freq float64, start int64) ([]graph.Source, *graph.Biquad) {
	partials := []float32{0.4, 0.2, 0.1, 0.05}
	sources := make([]graph.Source, 0, len(partials))
	for i, g := range partials {
		o := graph.NewOscillator(sampleRate, graph.Sawtooth, freq*float64(i+1), g)
		o.Start = start
		sources = append(sources, o)
	}
	return sources, graph.NewBiquad(sampleRate, graph.Lowpass, 2200, 1)
}

func bassPatch(sampleRate int, freq float64, start int64) ([]graph.Source, *graph.Biquad) {
	o := graph.NewOscillator(sampleRate, graph.Sawtooth, freq, 0.7)
	o.Start = start
	return []graph.Source{o}, graph.NewBiquad(sampleRate, graph.Lowpass, 400, 2)
}

func synthPatch(sampleRate int, freq float64, start int64) ([]graph.Source, *graph.Biquad) {
	sq := graph.NewOscillator(sampleRate, graph.Square, freq, 0.35)
	sq.Detune = -7
	sq.Start = start
	sub := graph.NewOscillator(sampleRate, graph.Sawtooth, freq/2, 0.35)
	sub.Detune = 7
	sub.Start = start
	return []graph.Source{sq, sub}, graph.NewBiquad(sampleRate, graph.Lowpass, 2500, 4)
}

func stringsPatch(sampleRate int, freq float64, start int64) ([]graph.Source, *graph.Biquad) {
	vibrato := lfo.New(10, 5, lfo.WaveSine)
	mod := graph.NewShared(func(dst []float32) { vibrato.Fill(dst, float64(sampleRate)) })
	sources := make([]graph.Source, 0, 3)
	for _, cents := range []float64{-8, 0, 8} {
		o := graph.NewOscillator(sampleRate, graph.Sine, freq, 0.25)
		o.Detune = cents
		o.Start = start
		o.Mod = mod
		sources = append(sources, o)
	}
	return sources, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

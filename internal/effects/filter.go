package effects

import (
	"sync/atomic"

	"github.com/Sapo-biz/MusicFlow/internal/graph"
)

// Filter is a resonant stereo biquad whose coefficients follow the
// smoothed frequency and resonance once per block.
type Filter struct {
	params *paramSet
	typ    atomic.Int32
	l, r   *graph.Biquad
}

func NewFilter(sampleRate int) *Filter {
	return &Filter{
		params: newParamSet(
			paramSpec{name: "frequency", def: 1000, min: 20, max: 20000},
			paramSpec{name: "resonance", alias: "q", def: 1, min: 0.1, max: 30},
		),
		l: graph.NewBiquad(sampleRate, graph.Lowpass, 1000, 1),
		r: graph.NewBiquad(sampleRate, graph.Lowpass, 1000, 1),
	}
}

func (f *Filter) Name() string        { return "filter" }
func (f *Filter) paramSet() *paramSet { return f.params }

func (f *Filter) SetType(t graph.FilterType) { f.typ.Store(int32(t)) }
func (f *Filter) Type() graph.FilterType     { return graph.FilterType(f.typ.Load()) }

func (f *Filter) Process(l, r []float32, t0 float64) {
	typ := f.Type()
	freq := f.params.get("frequency").ValueAt(t0)
	q := f.params.get("resonance").ValueAt(t0)
	f.l.Set(typ, freq, q)
	f.r.Set(typ, freq, q)
	f.l.Process(l)
	f.r.Process(r)
}

func (f *Filter) Reset() {
	f.l.Reset()
	f.r.Reset()
}

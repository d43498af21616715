package effects

import (
	"math"

	"github.com/Sapo-biz/MusicFlow/internal/graph"
)

const curveSize = 4096

// Distortion is a waveshaper followed by a tone low-pass.
type Distortion struct {
	sampleRate int
	params     *paramSet
	curve      []float32
	curveFor   float64
	toneL      *graph.Biquad
	toneR      *graph.Biquad
	wetBuf     []float32
}

func NewDistortion(sampleRate int) *Distortion {
	d := &Distortion{
		sampleRate: sampleRate,
		params: newParamSet(
			paramSpec{name: "amount", def: 0.3, min: 0, max: 1},
			paramSpec{name: "tone", def: 3000, min: 200, max: 20000},
			paramSpec{name: "wet", def: 1, min: 0, max: 1},
		),
		curve:    make([]float32, curveSize),
		curveFor: -1,
		toneL:    graph.NewBiquad(sampleRate, graph.Lowpass, 3000, 0.707),
		toneR:    graph.NewBiquad(sampleRate, graph.Lowpass, 3000, 0.707),
	}
	d.setCurve(d.params.value("amount"))
	return d
}

func (d *Distortion) Name() string        { return "distortion" }
func (d *Distortion) paramSet() *paramSet { return d.params }

// Curve evaluates the shaping function for amount in [0,1] at x in [-1,1].
func Curve(amount, x float64) float64 {
	k := 100 * amount
	const deg = 20 * math.Pi / 180
	return (3 + k) * x * deg / (math.Pi + k*math.Abs(x))
}

func (d *Distortion) setCurve(amount float64) {
	for i := range d.curve {
		x := float64(i)*2/float64(curveSize-1) - 1
		d.curve[i] = float32(Curve(amount, x))
	}
	d.curveFor = amount
}

func (d *Distortion) shape(x float32) float32 {
	pos := (float64(x) + 1) * 0.5 * float64(curveSize-1)
	if pos <= 0 {
		return d.curve[0]
	}
	if pos >= curveSize-1 {
		return d.curve[curveSize-1]
	}
	i := int(pos)
	frac := float32(pos - float64(i))
	return d.curve[i] + (d.curve[i+1]-d.curve[i])*frac
}

func (d *Distortion) Process(l, r []float32, t0 float64) {
	if a := d.params.get("amount").ValueAt(t0); a != d.curveFor {
		d.setCurve(a)
	}
	tone := d.params.get("tone").ValueAt(t0)
	d.toneL.Set(graph.Lowpass, tone, 0.707)
	d.toneR.Set(graph.Lowpass, tone, 0.707)

	n := len(l)
	if cap(d.wetBuf) < n {
		d.wetBuf = make([]float32, n)
	}
	wets := d.wetBuf[:n]
	d.params.get("wet").Fill(wets, t0, 1/float64(d.sampleRate))
	for i := range l {
		w := wets[i]
		sl := float32(d.toneL.Tick(float64(d.shape(l[i]))))
		sr := float32(d.toneR.Tick(float64(d.shape(r[i]))))
		l[i] = l[i]*(1-w) + sl*w
		r[i] = r[i]*(1-w) + sr*w
	}
}

func (d *Distortion) Reset() {
	d.toneL.Reset()
	d.toneR.Reset()
}

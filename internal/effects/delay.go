package effects

import "math"

// MaxFeedback bounds the delay's feedback edge so the loop gain stays
// below one.
const MaxFeedback = 0.95

// Delay is a stereo feedback delay. The line's output is scaled by the
// feedback coefficient and written back with the input.
type Delay struct {
	sampleRate int
	params     *paramSet
	bufL, bufR []float32
	pos        int

	timeBuf, fbBuf, wetBuf []float32
}

func NewDelay(sampleRate int) *Delay {
	size := sampleRate + 2 // one second plus interpolation headroom
	return &Delay{
		sampleRate: sampleRate,
		params: newParamSet(
			paramSpec{name: "time", def: 0.25, min: 0, max: 1},
			paramSpec{name: "feedback", def: 0.3, min: 0, max: MaxFeedback},
			paramSpec{name: "wet", def: 0.3, min: 0, max: 1},
		),
		bufL: make([]float32, size),
		bufR: make([]float32, size),
	}
}

func (d *Delay) Name() string        { return "delay" }
func (d *Delay) paramSet() *paramSet { return d.params }

func (d *Delay) Process(l, r []float32, t0 float64) {
	n := len(l)
	if cap(d.timeBuf) < n {
		d.timeBuf = make([]float32, n)
		d.fbBuf = make([]float32, n)
		d.wetBuf = make([]float32, n)
	}
	times, fbs, wets := d.timeBuf[:n], d.fbBuf[:n], d.wetBuf[:n]
	dt := 1 / float64(d.sampleRate)
	d.params.get("time").Fill(times, t0, dt)
	d.params.get("feedback").Fill(fbs, t0, dt)
	d.params.get("wet").Fill(wets, t0, dt)

	size := len(d.bufL)
	maxDelay := float64(size - 2)
	for i := range l {
		delay := math.Max(1, math.Min(float64(times[i])*float64(d.sampleRate), maxDelay))
		read := float64(d.pos) - delay
		if read < 0 {
			read += float64(size)
		}
		i0 := int(read)
		frac := float32(read - float64(i0))
		i1 := i0 + 1
		if i1 >= size {
			i1 = 0
		}
		delL := d.bufL[i0] + (d.bufL[i1]-d.bufL[i0])*frac
		delR := d.bufR[i0] + (d.bufR[i1]-d.bufR[i0])*frac

		fb := clamp(fbs[i], 0, MaxFeedback)
		d.bufL[d.pos] = l[i] + delL*fb
		d.bufR[d.pos] = r[i] + delR*fb
		d.pos++
		if d.pos >= size {
			d.pos = 0
		}
		w := wets[i]
		l[i] = l[i]*(1-w) + delL*w
		r[i] = r[i]*(1-w) + delR*w
	}
}

func (d *Delay) Reset() {
	clear(d.bufL)
	clear(d.bufR)
	d.pos = 0
}

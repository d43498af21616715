package synth

import (
	"math"
	"sync/atomic"

	"github.com/viterin/vek/vek32"

	"github.com/Sapo-biz/MusicFlow/internal/graph"
)

// CancelFade is how long a cancelled voice takes to fade to silence.
const CancelFade = 0.01

// Voice is one triggered note: a set of sources, an optional filter and a
// gain envelope. Timing fields are fixed at trigger; only the stop frame
// moves, and only earlier.
type Voice struct {
	Note string

	sampleRate int
	start      int64
	stop       atomic.Int64
	ended      atomic.Bool

	sources []graph.Source
	filter  *graph.Biquad
	env     *graph.Param
	release float64

	scratch []float32
	envBuf  []float32
}

func newVoice(sampleRate int, note string, when float64, sources []graph.Source, filter *graph.Biquad) *Voice {
	v := &Voice{
		Note:       note,
		sampleRate: sampleRate,
		start:      graph.FrameAt(when, sampleRate),
		sources:    sources,
		filter:     filter,
		env:        graph.NewParam(0, 0, 1),
	}
	v.stop.Store(math.MaxInt64)
	return v
}

// StartTime returns the audio time the voice begins sounding.
func (v *Voice) StartTime() float64 {
	return float64(v.start) / float64(v.sampleRate)
}

// StopTime returns the audio time the voice goes silent.
func (v *Voice) StopTime() float64 {
	return float64(v.stop.Load()) / float64(v.sampleRate)
}

// Ended reports whether the voice has finished or was cancelled.
func (v *Voice) Ended() bool { return v.ended.Load() }

func (v *Voice) stopAt(t float64) {
	f := graph.FrameAt(t, v.sampleRate)
	for {
		cur := v.stop.Load()
		if f >= cur || v.stop.CompareAndSwap(cur, f) {
			return
		}
	}
}

// releaseAt starts the release stage at t if the voice is still held then.
func (v *Voice) releaseAt(t float64) {
	if t < v.StartTime() {
		t = v.StartTime()
	}
	if t+v.release >= v.StopTime() {
		return
	}
	v.env.CancelAndHold(t)
	v.env.ExponentialRampToValueAtTime(0.001, t+v.release)
	v.stopAt(t + v.release)
}

// Cancel silences the voice. A voice that has not started yet ends
// immediately; a sounding voice fades out over CancelFade.
func (v *Voice) Cancel(now float64) {
	if v.ended.Load() {
		return
	}
	if now < v.StartTime() {
		v.ended.Store(true)
		return
	}
	v.env.CancelAndHold(now)
	v.env.LinearRampToValueAtTime(0, now+CancelFade)
	v.stopAt(now + CancelFade)
}

// Render adds the voice's output for the block starting at frame0 into dst.
func (v *Voice) Render(dst []float32, frame0 int64) {
	if v.ended.Load() {
		return
	}
	n := len(dst)
	stop := v.stop.Load()
	if frame0+int64(n) <= v.start {
		return
	}
	if frame0 >= stop {
		v.ended.Store(true)
		return
	}
	if cap(v.scratch) < n {
		v.scratch = make([]float32, n)
		v.envBuf = make([]float32, n)
	}
	buf, env := v.scratch[:n], v.envBuf[:n]
	clear(buf)
	for _, s := range v.sources {
		s.Mix(buf, frame0)
	}
	if v.filter != nil {
		v.filter.Process(buf)
	}
	dt := 1 / float64(v.sampleRate)
	v.env.Fill(env, float64(frame0)*dt, dt)
	if end := stop - frame0; end < int64(n) {
		clear(env[end:])
	}
	vek32.Mul_Inplace(buf, env)
	vek32.Add_Inplace(dst, buf)
	if frame0+int64(n) >= stop {
		v.ended.Store(true)
	}
}

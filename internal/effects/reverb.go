package effects

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/Sapo-biz/MusicFlow/internal/graph"
)

const (
	partSize = graph.Quantum
	fftSize  = 2 * partSize
	bins     = fftSize/2 + 1

	minTail = 0.5 // seconds of impulse response at roomSize 0
	maxTail = 3.5 // seconds at roomSize 1
)

// Reverb convolves each channel with a synthetic impulse response of
// decaying low-passed noise, using uniformly partitioned FFT convolution.
type Reverb struct {
	sampleRate int
	params     *paramSet
	dryFree    atomic.Bool // dry follows 1-wet until set explicitly
	ir         atomic.Pointer[kernelPair]
	conv       [2]*convolver

	// fourier.FFT keeps scratch state; kernel builds share this one.
	buildMu  sync.Mutex
	buildFFT *fourier.FFT

	wetBuf, dryBuf []float32
}

type kernelPair [2]*kernel

// kernel holds the spectra of consecutive impulse-response partitions.
type kernel struct {
	parts [][]complex128
}

func NewReverb(sampleRate int) *Reverb {
	r := &Reverb{
		sampleRate: sampleRate,
		params: newParamSet(
			paramSpec{name: "wet", def: 0.3, min: 0, max: 1},
			paramSpec{name: "dry", def: 0.7, min: 0, max: 1},
			paramSpec{name: "roomSize", def: 0.5, min: 0, max: 1, instant: true},
			paramSpec{name: "damping", def: 0.5, min: 0, max: 1, instant: true},
		),
	}
	r.dryFree.Store(true)
	r.buildFFT = fourier.NewFFT(fftSize)
	maxParts := int(math.Ceil(maxTail*float64(sampleRate)/partSize)) + 1
	r.conv[0] = newConvolver(maxParts)
	r.conv[1] = newConvolver(maxParts)
	r.rebuild()
	return r
}

func (r *Reverb) Name() string        { return "reverb" }
func (r *Reverb) paramSet() *paramSet { return r.params }

func (r *Reverb) paramChanged(name string, _ float64) {
	switch name {
	case "dry":
		r.dryFree.Store(false)
	case "roomSize", "damping":
		r.rebuild()
	}
}

// TailSeconds returns the impulse response length for the current room size.
func (r *Reverb) TailSeconds() float64 {
	return minTail + (maxTail-minTail)*r.params.value("roomSize")
}

func (r *Reverb) rebuild() {
	tail := r.TailSeconds()
	cutoff := 12000 - 11000*r.params.value("damping")
	length := int(tail * float64(r.sampleRate))
	rng := rand.New(rand.NewSource(7))
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	var pair kernelPair
	for ch := range pair {
		pair[ch] = newKernel(r.buildFFT, impulseResponse(length, r.sampleRate, tail, cutoff, rng))
	}
	r.ir.Store(&pair)
}

// impulseResponse renders exponentially decaying noise that reaches -60 dB
// at the end of its tail, low-passed at cutoff and normalized to unit energy.
func impulseResponse(length, sampleRate int, tail, cutoff float64, rng *rand.Rand) []float32 {
	ir := make([]float32, length)
	decay := math.Log(1000) / tail
	lp := graph.NewBiquad(sampleRate, graph.Lowpass, cutoff, 0.707)
	var energy float64
	for i := range ir {
		t := float64(i) / float64(sampleRate)
		v := lp.Tick(rng.Float64()*2-1) * math.Exp(-decay*t)
		ir[i] = float32(v)
		energy += v * v
	}
	if energy > 0 {
		vek32.MulNumber_Inplace(ir, float32(1/math.Sqrt(energy)))
	}
	return ir
}

func newKernel(f *fourier.FFT, ir []float32) *kernel {
	k := &kernel{parts: make([][]complex128, (len(ir)+partSize-1)/partSize)}
	seq := make([]float64, fftSize)
	for p := range k.parts {
		clear(seq)
		for i, v := range ir[p*partSize : min((p+1)*partSize, len(ir))] {
			seq[i] = float64(v)
		}
		k.parts[p] = f.Coefficients(nil, seq)
	}
	return k
}

func (r *Reverb) Process(l, rr []float32, t0 float64) {
	n := len(l)
	if cap(r.wetBuf) < n {
		r.wetBuf = make([]float32, n)
		r.dryBuf = make([]float32, n)
	}
	wet, dry := r.wetBuf[:n], r.dryBuf[:n]
	dt := 1 / float64(r.sampleRate)
	r.params.get("wet").Fill(wet, t0, dt)
	if r.dryFree.Load() {
		for i, w := range wet {
			dry[i] = 1 - w
		}
	} else {
		r.params.get("dry").Fill(dry, t0, dt)
	}
	pair := r.ir.Load()
	for ch, buf := range [2][]float32{l, rr} {
		out := r.conv[ch].process(buf, pair[ch])
		vek32.Mul_Inplace(out, wet)
		vek32.Mul_Inplace(buf, dry)
		vek32.Add_Inplace(buf, out)
	}
}

func (r *Reverb) Reset() {
	r.conv[0].reset()
	r.conv[1].reset()
}

// convolver runs one channel of overlap-save convolution. Blocks must be
// partSize frames long.
type convolver struct {
	fft   *fourier.FFT
	input []float64      // previous and current block
	fdl   [][]complex128 // frequency-domain delay line, newest at head
	head  int
	acc   []complex128
	seq   []float64
	out   []float32
}

func newConvolver(maxParts int) *convolver {
	c := &convolver{
		fft:   fourier.NewFFT(fftSize),
		input: make([]float64, fftSize),
		fdl:   make([][]complex128, maxParts),
		acc:   make([]complex128, bins),
		seq:   make([]float64, fftSize),
		out:   make([]float32, partSize),
	}
	for i := range c.fdl {
		c.fdl[i] = make([]complex128, bins)
	}
	return c
}

func (c *convolver) process(block []float32, k *kernel) []float32 {
	copy(c.input, c.input[partSize:])
	for i, v := range block {
		c.input[partSize+i] = float64(v)
	}
	c.fft.Coefficients(c.fdl[c.head], c.input)

	clear(c.acc)
	parts := min(len(k.parts), len(c.fdl))
	for p := 0; p < parts; p++ {
		x := c.fdl[(c.head-p+len(c.fdl))%len(c.fdl)]
		for b, h := range k.parts[p] {
			c.acc[b] += x[b] * h
		}
	}
	c.head = (c.head + 1) % len(c.fdl)

	// Sequence is unnormalized.
	c.fft.Sequence(c.seq, c.acc)
	for i := range c.out {
		c.out[i] = float32(c.seq[partSize+i] / fftSize)
	}
	return c.out
}

func (c *convolver) reset() {
	clear(c.input)
	for i := range c.fdl {
		clear(c.fdl[i])
	}
	c.head = 0
}

package effects

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// Dynamics is a stereo-linked feed-forward compressor. With a high ratio
// and fast times it serves as the master limiter.
type Dynamics struct {
	threshold float32
	ratio     float32
	attack    float32 // coefficient
	release   float32 // coefficient
	makeup    float32
	env       float32
	reduction float32 // last block's minimum gain
	gainBuf   []float32
}

// NewCompressor creates a compressor.
// thresholdDB: threshold in dB (e.g., -24)
// ratio: compression ratio (e.g., 12 for 12:1)
// attackMs, releaseMs: envelope times in ms
// makeupDB: makeup gain in dB
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float32) *Dynamics {
	sr := float64(sampleRate)
	return &Dynamics{
		threshold: dbToLinear(thresholdDB),
		ratio:     ratio,
		attack:    float32(1 - math.Exp(-1/(float64(attackMs)*sr/1000))),
		release:   float32(1 - math.Exp(-1/(float64(releaseMs)*sr/1000))),
		makeup:    dbToLinear(makeupDB),
		reduction: 1,
	}
}

// NewLimiter is a compressor with unity makeup gain.
func NewLimiter(sampleRate int, thresholdDB, ratio, attackMs, releaseMs float32) *Dynamics {
	return NewCompressor(sampleRate, thresholdDB, ratio, attackMs, releaseMs, 0)
}

func dbToLinear(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}

// Threshold returns the linear threshold.
func (c *Dynamics) Threshold() float32 { return c.threshold }

func (c *Dynamics) Process(l, r []float32) {
	n := len(l)
	if cap(c.gainBuf) < n {
		c.gainBuf = make([]float32, n)
	}
	gains := c.gainBuf[:n]
	c.reduction = 1
	for i := range l {
		level := max(abs32(l[i]), abs32(r[i]))
		if level > c.env {
			c.env += c.attack * (level - c.env)
		} else {
			c.env += c.release * (level - c.env)
		}
		g := c.computeGain(c.env) * c.makeup
		gains[i] = g
		c.reduction = min(c.reduction, g)
	}
	vek32.Mul_Inplace(l, gains)
	vek32.Mul_Inplace(r, gains)
}

func (c *Dynamics) computeGain(env float32) float32 {
	if env <= c.threshold || c.threshold <= 0 {
		return 1
	}
	over := env / c.threshold
	return float32(math.Pow(float64(over), float64(1/c.ratio-1)))
}

// Reduction returns the smallest gain applied during the last block.
func (c *Dynamics) Reduction() float32 { return c.reduction }

func (c *Dynamics) Reset() {
	c.env = 0
	c.reduction = 1
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

package graph

import (
	"math"
	"sync/atomic"
)

// Quantum is the number of frames rendered per block.
const Quantum = 128

// Clock counts rendered frames. Its time is the audio time every scheduled
// event is expressed in.
type Clock struct {
	sampleRate int
	frames     atomic.Int64
}

func NewClock(sampleRate int) *Clock {
	return &Clock{sampleRate: sampleRate}
}

func (c *Clock) SampleRate() int { return c.sampleRate }

// Frame returns the index of the next frame to be rendered.
func (c *Clock) Frame() int64 { return c.frames.Load() }

// Now returns the current audio time in seconds.
func (c *Clock) Now() float64 { return c.TimeAt(c.frames.Load()) }

// Advance moves the clock past n rendered frames.
func (c *Clock) Advance(n int) { c.frames.Add(int64(n)) }

func (c *Clock) TimeAt(frame int64) float64 {
	return float64(frame) / float64(c.sampleRate)
}

// FrameAt converts a time in seconds to the nearest frame index.
func (c *Clock) FrameAt(t float64) int64 {
	return FrameAt(t, c.sampleRate)
}

func FrameAt(t float64, sampleRate int) int64 {
	return int64(math.Round(t * float64(sampleRate)))
}

// Package sequencer converts tempo into step timestamps on the audio clock.
// A coarse wall-clock ticker calls Clock.Tick, which schedules every step
// that falls inside the lookahead window at its exact audio time.
package sequencer

import (
	"math"
	"time"
)

const (
	StepsPerBeat = 4
	TotalSteps   = 16

	MinBPM     = 60
	MaxBPM     = 200
	DefaultBPM = 120

	DefaultLookahead = 0.1 // seconds
	DefaultInterval  = 25 * time.Millisecond
)

type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// TimeSource reports the current audio time in seconds.
type TimeSource interface {
	Now() float64
}

// StepFunc receives each scheduled step with the audio time it sounds at.
type StepFunc func(step int, when float64)

type Options struct {
	// Lookahead is how far ahead of the audio clock steps are scheduled,
	// in seconds. Zero means DefaultLookahead.
	Lookahead float64
	OnStep    StepFunc
}

// Clock is the transport. It is not safe for concurrent use; its owner
// serializes calls.
type Clock struct {
	src          TimeSource
	onStep       StepFunc
	lookahead    float64
	bpm          float64
	stepDuration float64
	state        State
	currentStep  int
	nextStepTime float64
	recording    bool
	stepTimes    [TotalSteps]float64
}

func NewClock(src TimeSource, opts Options) *Clock {
	c := &Clock{src: src, onStep: opts.OnStep, lookahead: opts.Lookahead}
	if c.lookahead <= 0 {
		c.lookahead = DefaultLookahead
	}
	c.SetBPM(DefaultBPM)
	c.resetStepTimes()
	return c
}

func (c *Clock) resetStepTimes() {
	for i := range c.stepTimes {
		c.stepTimes[i] = math.Inf(-1)
	}
}

// SetBPM clamps bpm to [MinBPM, MaxBPM] and returns the value applied. The
// new step length is used from the next step advance on.
func (c *Clock) SetBPM(bpm float64) float64 {
	if math.IsNaN(bpm) || bpm < MinBPM {
		bpm = MinBPM
	}
	if bpm > MaxBPM {
		bpm = MaxBPM
	}
	c.bpm = bpm
	c.stepDuration = 60 / (bpm * StepsPerBeat)
	return bpm
}

func (c *Clock) BPM() float64          { return c.bpm }
func (c *Clock) StepDuration() float64 { return c.stepDuration }
func (c *Clock) State() State          { return c.state }
func (c *Clock) IsPlaying() bool       { return c.state == Playing }
func (c *Clock) CurrentStep() int      { return c.currentStep }
func (c *Clock) NextStepTime() float64 { return c.nextStepTime }
func (c *Clock) IsRecording() bool     { return c.recording }
func (c *Clock) Lookahead() float64    { return c.lookahead }
func (c *Clock) SetOnStep(fn StepFunc) { c.onStep = fn }

// ToggleRecord flips the record flag and returns the new value.
func (c *Clock) ToggleRecord() bool {
	c.recording = !c.recording
	return c.recording
}

// Play starts or resumes the transport. From Stopped it begins at step 0;
// from Paused it continues at the paused step. It reports whether the
// state changed.
func (c *Clock) Play() bool {
	switch c.state {
	case Playing:
		return false
	case Stopped:
		c.currentStep = 0
		c.resetStepTimes()
	}
	c.state = Playing
	c.nextStepTime = c.src.Now()
	return true
}

// Pause halts the transport. Steps already scheduled for a time after now
// are forgotten and currentStep rewinds to the earliest of them, so resuming
// plays them; the owner must cancel their voices.
func (c *Clock) Pause() bool {
	if c.state != Playing {
		return false
	}
	c.state = Paused
	now := c.src.Now()
	first, firstTime := -1, math.Inf(1)
	for i, t := range c.stepTimes {
		if t <= now {
			continue
		}
		if t < firstTime {
			first, firstTime = i, t
		}
		c.stepTimes[i] = math.Inf(-1)
	}
	if first >= 0 {
		c.currentStep = first
	}
	return true
}

// Stop halts the transport and rewinds to step 0.
func (c *Clock) Stop() {
	c.state = Stopped
	c.currentStep = 0
	c.resetStepTimes()
}

// Tick schedules every step that starts before now+lookahead and returns
// how many fired. Steps missed while the caller stalled fire back-to-back
// with their own timestamps.
func (c *Clock) Tick() int {
	if c.state != Playing {
		return 0
	}
	horizon := c.src.Now() + c.lookahead
	fired := 0
	for c.nextStepTime < horizon {
		step, when := c.currentStep, c.nextStepTime
		c.stepTimes[step] = when
		if c.onStep != nil {
			c.onStep(step, when)
		}
		fired++
		c.currentStep = (c.currentStep + 1) % TotalSteps
		c.nextStepTime += c.stepDuration
	}
	return fired
}

// SoundingStep returns the most recently scheduled step whose time has
// been reached, or -1 when none has.
func (c *Clock) SoundingStep(now float64) int {
	best, bestTime := -1, math.Inf(-1)
	for i, t := range c.stepTimes {
		if t <= now && t > bestTime {
			best, bestTime = i, t
		}
	}
	return best
}

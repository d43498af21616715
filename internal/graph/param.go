// Package graph holds the block-rendering primitives voices and effects are
// built from: automation parameters, oscillators, buffer players, biquad
// filters and the audio clock that timestamps all of them.
package graph

import (
	"math"
	"sort"
	"sync"
)

type eventKind int

const (
	eventSet eventKind = iota
	eventLinear
	eventExponential
)

type event struct {
	kind  eventKind
	time  float64
	value float64
}

// Param is an automatable value with a timeline of scheduled changes, in
// seconds of audio-clock time. It is safe for concurrent use: control code
// schedules while the render goroutine reads.
type Param struct {
	mu       sync.Mutex
	base     float64
	baseTime float64
	min, max float64
	events   []event
}

// NewParam returns a parameter holding value, clamped to [min, max].
func NewParam(value, min, max float64) *Param {
	p := &Param{min: min, max: max}
	p.base = p.clamp(value)
	return p
}

func (p *Param) clamp(v float64) float64 {
	if v < p.min {
		return p.min
	}
	if v > p.max {
		return p.max
	}
	return v
}

// SetValue drops every scheduled event and jumps to v.
func (p *Param) SetValue(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = p.events[:0]
	p.base = p.clamp(v)
}

// SetValueAtTime jumps to v at time t.
func (p *Param) SetValueAtTime(v, t float64) {
	p.insert(event{kind: eventSet, time: t, value: v})
}

// LinearRampToValueAtTime ramps linearly from the previous event to v, arriving at t.
func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.insert(event{kind: eventLinear, time: t, value: v})
}

// ExponentialRampToValueAtTime ramps exponentially from the previous event
// to v, arriving at t. The ramp holds its start value if either end is not
// strictly positive.
func (p *Param) ExponentialRampToValueAtTime(v, t float64) {
	p.insert(event{kind: eventExponential, time: t, value: v})
}

func (p *Param) insert(e event) {
	e.value = p.clamp(e.value)
	p.mu.Lock()
	defer p.mu.Unlock()
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > e.time })
	p.events = append(p.events, event{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = e
}

// CancelScheduledValues removes every event at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked(t)
}

func (p *Param) cancelLocked(t float64) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time >= t })
	p.events = p.events[:i]
}

// CancelAndHold freezes the parameter at the value it has at t and removes
// every event after it, including a ramp in flight at t.
func (p *Param) CancelAndHold(t float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.valueAtLocked(t)
	p.cancelLocked(t)
	p.events = append(p.events, event{kind: eventSet, time: t, value: v})
	return v
}

// RampTo holds the value at t and ramps linearly to v over d seconds.
func (p *Param) RampTo(v, t, d float64) {
	p.CancelAndHold(t)
	p.LinearRampToValueAtTime(v, t+d)
}

// ValueAt evaluates the timeline at t.
func (p *Param) ValueAt(t float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valueAtLocked(t)
}

// Final returns the value the timeline settles on after its last event.
func (p *Param) Final() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.events); n > 0 {
		return p.events[n-1].value
	}
	return p.base
}

func (p *Param) valueAtLocked(t float64) float64 {
	v, prevT := p.base, p.baseTime
	for _, e := range p.events {
		if e.time <= t {
			v, prevT = e.value, e.time
			continue
		}
		span := e.time - prevT
		if span <= 0 {
			return v
		}
		frac := (t - prevT) / span
		switch e.kind {
		case eventLinear:
			return v + (e.value-v)*frac
		case eventExponential:
			if v <= 0 || e.value <= 0 {
				return v
			}
			return v * math.Pow(e.value/v, frac)
		default:
			return v
		}
	}
	return v
}

// Fill writes the parameter value for each sample of a block starting at
// t0 and spaced dt apart. Events that lie entirely before t0 are folded into
// the base value.
func (p *Param) Fill(dst []float32, t0, dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.events) > 0 && p.events[0].time <= t0 {
		p.base, p.baseTime = p.events[0].value, p.events[0].time
		p.events = p.events[1:]
	}
	if len(p.events) == 0 || p.events[0].time > t0+dt*float64(len(dst)) && p.events[0].kind == eventSet {
		v := float32(p.base)
		for i := range dst {
			dst[i] = v
		}
		return
	}
	for i := range dst {
		dst[i] = float32(p.valueAtLocked(t0 + dt*float64(i)))
	}
}

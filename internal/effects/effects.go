// Package effects implements the shared stereo processing chain (distortion,
// filter, delay, reverb) and the master-bus dynamics and EQ. All processing
// runs on blocks of graph.Quantum frames.
package effects

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/viterin/vek/vek32"

	"github.com/Sapo-biz/MusicFlow/internal/graph"
)

// Ramp is the smoothing time for parameter changes and bypass toggles.
const Ramp = 0.02

var (
	ErrUnknownEffect = errors.New("unknown effect")
	ErrUnknownParam  = errors.New("unknown effect parameter")
	ErrInvalidValue  = errors.New("invalid effect parameter value")
)

// Unit is one stage of the chain. Process transforms l and r in place; t0
// is the audio time of the first frame.
type Unit interface {
	Name() string
	Process(l, r []float32, t0 float64)
	Reset()
	paramSet() *paramSet
}

// paramListener is implemented by units that rebuild state when a
// parameter changes.
type paramListener interface {
	paramChanged(name string, value float64)
}

type paramSpec struct {
	name     string
	alias    string
	def      float64
	min, max float64
	instant  bool // jumps instead of ramping
}

type paramSet struct {
	specs  []paramSpec
	values map[string]*graph.Param
}

func newParamSet(specs ...paramSpec) *paramSet {
	s := &paramSet{specs: specs, values: make(map[string]*graph.Param, len(specs))}
	for _, sp := range specs {
		s.values[sp.name] = graph.NewParam(sp.def, sp.min, sp.max)
	}
	return s
}

func (s *paramSet) lookup(name string) (paramSpec, bool) {
	for _, sp := range s.specs {
		if sp.name == name || (sp.alias != "" && sp.alias == name) {
			return sp, true
		}
	}
	return paramSpec{}, false
}

func (s *paramSet) get(name string) *graph.Param { return s.values[name] }

// value returns the settled value of a parameter.
func (s *paramSet) value(name string) float64 { return s.values[name].Final() }

func (s *paramSet) snapshot() map[string]float64 {
	out := make(map[string]float64, len(s.specs))
	for _, sp := range s.specs {
		out[sp.name] = s.value(sp.name)
	}
	return out
}

// State is the persisted form of one effect.
type State struct {
	Enabled bool               `json:"enabled" yaml:"enabled"`
	Params  map[string]float64 `json:"params" yaml:"params"`
	Type    string             `json:"type,omitempty" yaml:"type,omitempty"`
}

type slot struct {
	unit    Unit
	enabled atomic.Bool
	mix     *graph.Param // 0 = bypassed, 1 = processed
	running bool         // render goroutine only
}

// Chain runs its units in a fixed order. Each unit is crossfaded against
// its input when toggled, and skipped entirely while bypassed.
type Chain struct {
	sampleRate int
	slots      []*slot
	filter     *Filter

	mixBuf, dryL, dryR []float32
}

// NewChain builds the chain distortion → filter → delay → reverb with every
// unit bypassed.
func NewChain(sampleRate int) *Chain {
	c := &Chain{sampleRate: sampleRate, filter: NewFilter(sampleRate)}
	for _, u := range []Unit{NewDistortion(sampleRate), c.filter, NewDelay(sampleRate), NewReverb(sampleRate)} {
		c.slots = append(c.slots, &slot{unit: u, mix: graph.NewParam(0, 0, 1)})
	}
	return c
}

// Names lists the units in processing order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.slots))
	for i, s := range c.slots {
		names[i] = s.unit.Name()
	}
	return names
}

func (c *Chain) slot(name string) (*slot, error) {
	for _, s := range c.slots {
		if s.unit.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, name)
}

// SetEnabled toggles a unit, crossfading over Ramp from now.
func (c *Chain) SetEnabled(name string, on bool, now float64) error {
	s, err := c.slot(name)
	if err != nil {
		return err
	}
	s.enabled.Store(on)
	target := 0.0
	if on {
		target = 1
	}
	s.mix.RampTo(target, now, Ramp)
	return nil
}

func (c *Chain) Enabled(name string) (bool, error) {
	s, err := c.slot(name)
	if err != nil {
		return false, err
	}
	return s.enabled.Load(), nil
}

// SetParam clamps value into the parameter's range and ramps to it.
func (c *Chain) SetParam(name, param string, value, now float64) error {
	s, err := c.slot(name)
	if err != nil {
		return err
	}
	ps := s.unit.paramSet()
	sp, ok := ps.lookup(param)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownParam, name, param)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s.%s = %v", ErrInvalidValue, name, param, value)
	}
	p := ps.get(sp.name)
	if sp.instant {
		p.SetValue(value)
	} else {
		p.RampTo(value, now, Ramp)
	}
	if l, ok := s.unit.(paramListener); ok {
		l.paramChanged(sp.name, p.Final())
	}
	return nil
}

// Param returns the settled value of a parameter.
func (c *Chain) Param(name, param string) (float64, error) {
	s, err := c.slot(name)
	if err != nil {
		return 0, err
	}
	ps := s.unit.paramSet()
	sp, ok := ps.lookup(param)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnknownParam, name, param)
	}
	return ps.value(sp.name), nil
}

func (c *Chain) SetFilterType(name string) error {
	t, err := graph.ParseFilterType(name)
	if err != nil {
		return err
	}
	c.filter.SetType(t)
	return nil
}

// Snapshot captures every unit's enabled flag and parameters.
func (c *Chain) Snapshot() map[string]State {
	out := make(map[string]State, len(c.slots))
	for _, s := range c.slots {
		st := State{Enabled: s.enabled.Load(), Params: s.unit.paramSet().snapshot()}
		if f, ok := s.unit.(*Filter); ok {
			st.Type = f.Type().String()
		}
		out[s.unit.Name()] = st
	}
	return out
}

// Validate checks states without applying them.
func (c *Chain) Validate(states map[string]State) error {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := c.slot(name)
		if err != nil {
			return err
		}
		st := states[name]
		for param, v := range st.Params {
			if _, ok := s.unit.paramSet().lookup(param); !ok {
				return fmt.Errorf("%w: %s.%s", ErrUnknownParam, name, param)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s.%s = %v", ErrInvalidValue, name, param, v)
			}
		}
		if st.Type != "" {
			if _, ok := s.unit.(*Filter); !ok {
				return fmt.Errorf("%w: %s has no type", ErrUnknownParam, name)
			}
			if _, err := graph.ParseFilterType(st.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// Restore validates states and only then applies them. Units missing from
// states keep their current settings.
func (c *Chain) Restore(states map[string]State, now float64) error {
	if err := c.Validate(states); err != nil {
		return err
	}
	for name, st := range states {
		for param, v := range st.Params {
			if err := c.SetParam(name, param, v, now); err != nil {
				return err
			}
		}
		if st.Type != "" {
			if err := c.SetFilterType(st.Type); err != nil {
				return err
			}
		}
		if err := c.SetEnabled(name, st.Enabled, now); err != nil {
			return err
		}
	}
	return nil
}

// Process runs the chain over one block in place.
func (c *Chain) Process(l, r []float32, t0 float64) {
	n := len(l)
	if cap(c.mixBuf) < n {
		c.mixBuf = make([]float32, n)
		c.dryL = make([]float32, n)
		c.dryR = make([]float32, n)
	}
	mix, dryL, dryR := c.mixBuf[:n], c.dryL[:n], c.dryR[:n]
	dt := 1 / float64(c.sampleRate)
	for _, s := range c.slots {
		s.mix.Fill(mix, t0, dt)
		if mix[0] == 0 && mix[n-1] == 0 && s.mix.Final() == 0 {
			s.running = false
			continue
		}
		if !s.running {
			s.unit.Reset()
			s.running = true
		}
		copy(dryL, l)
		copy(dryR, r)
		s.unit.Process(l, r, t0)
		crossfade(l, dryL, mix)
		crossfade(r, dryR, mix)
	}
}

// crossfade sets wet to dry + (wet-dry)*mix.
func crossfade(wet, dry, mix []float32) {
	vek32.Sub_Inplace(wet, dry)
	vek32.Mul_Inplace(wet, mix)
	vek32.Add_Inplace(wet, dry)
}

func (c *Chain) Reset() {
	for _, s := range c.slots {
		s.unit.Reset()
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

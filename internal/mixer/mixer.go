// Package mixer sums track buses through the effects chain into the master
// bus: gain, EQ, compressor, limiter and a hard ceiling.
package mixer

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/viterin/vek/vek32"

	"github.com/Sapo-biz/MusicFlow/internal/effects"
	"github.com/Sapo-biz/MusicFlow/internal/graph"
	"github.com/Sapo-biz/MusicFlow/internal/synth"
)

const (
	// GainRamp smooths volume, mute and solo changes.
	GainRamp = 0.01

	DefaultTrackVolume  = 0.8
	DefaultMasterVolume = 0.8

	// Master dynamics.
	compThresholdDB = -24
	compRatio       = 12
	compAttackMs    = 3
	compReleaseMs   = 250
	limThresholdDB  = -1
	limRatio        = 20
	limAttackMs     = 0.5
	limReleaseMs    = 50
)

var (
	ErrUnknownTrack   = errors.New("unknown track")
	ErrDuplicateTrack = errors.New("duplicate track")
)

// Track is one instrument channel. Name, kind, volume, mute and solo are
// control state; the voice pool and gain are shared with rendering.
type Track struct {
	ID   int
	Name string

	inst   synth.Instrument
	pool   synth.Pool
	gain   *graph.Param
	volume float64
	muted  bool
	solo   bool
}

func (t *Track) Kind() synth.Kind             { return t.inst.Kind() }
func (t *Track) Instrument() synth.Instrument { return t.inst }
func (t *Track) Pool() *synth.Pool            { return &t.pool }
func (t *Track) Volume() float64              { return t.volume }
func (t *Track) Muted() bool                  { return t.muted }
func (t *Track) Solo() bool                   { return t.solo }

func (t *Track) target() float64 {
	if t.muted {
		return 0
	}
	return t.volume
}

// Mixer owns the tracks and the master bus. Control methods must be
// serialized by the caller; Render may run concurrently with them.
type Mixer struct {
	sampleRate int

	mu      sync.RWMutex // guards tracks against Render
	tracks  []*Track
	preview synth.Pool

	chain     *effects.Chain
	eq        *effects.EQ5Band
	comp      *effects.Dynamics
	limiter   *effects.Dynamics
	ceiling   float32
	master    *graph.Param
	masterVol float64
	peak      atomic.Uint32

	bus, trackBuf, gainBuf, left, right []float32
}

func New(sampleRate int) *Mixer {
	m := &Mixer{
		sampleRate: sampleRate,
		chain:      effects.NewChain(sampleRate),
		eq:         effects.NewEQ5Band(sampleRate),
		comp:       effects.NewCompressor(sampleRate, compThresholdDB, compRatio, compAttackMs, compReleaseMs, 0),
		limiter:    effects.NewLimiter(sampleRate, limThresholdDB, limRatio, limAttackMs, limReleaseMs),
		master:     graph.NewParam(DefaultMasterVolume, 0, 1),
		masterVol:  DefaultMasterVolume,
	}
	m.ceiling = m.limiter.Threshold()
	return m
}

func (m *Mixer) Effects() *effects.Chain { return m.chain }
func (m *Mixer) EQ() *effects.EQ5Band    { return m.eq }
func (m *Mixer) Preview() *synth.Pool    { return &m.preview }

// Ceiling is the largest absolute sample the master bus can emit.
func (m *Mixer) Ceiling() float32 { return m.ceiling }

// Peak returns the largest absolute sample of the last rendered block.
func (m *Mixer) Peak() float32 { return math.Float32frombits(m.peak.Load()) }

// AddTrack creates a track playing kind at the default volume.
func (m *Mixer) AddTrack(id int, name string, kind synth.Kind) (*Track, error) {
	if _, ok := m.Track(id); ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateTrack, id)
	}
	inst, err := synth.New(kind, m.sampleRate)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = string(kind)
	}
	t := &Track{
		ID:     id,
		Name:   name,
		inst:   inst,
		volume: DefaultTrackVolume,
		gain:   graph.NewParam(DefaultTrackVolume, 0, 1),
	}
	m.mu.Lock()
	m.tracks = append(m.tracks, t)
	m.mu.Unlock()
	return t, nil
}

// RemoveTrack cancels the track's voices and drops it.
func (m *Mixer) RemoveTrack(id int, now float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tracks {
		if t.ID == id {
			t.pool.CancelAll(now)
			m.tracks = append(m.tracks[:i], m.tracks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrUnknownTrack, id)
}

func (m *Mixer) Track(id int) (*Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tracks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Tracks returns the tracks in creation order.
func (m *Mixer) Tracks() []*Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Track(nil), m.tracks...)
}

func (m *Mixer) track(id int) (*Track, error) {
	t, ok := m.Track(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTrack, id)
	}
	return t, nil
}

func (m *Mixer) applyGain(t *Track, now float64) {
	t.gain.RampTo(t.target(), now, GainRamp)
}

// SetVolume clamps v to [0,1] and returns the applied volume.
func (m *Mixer) SetVolume(id int, v, now float64) (float64, error) {
	t, err := m.track(id)
	if err != nil {
		return 0, err
	}
	t.volume = clamp01(v)
	m.applyGain(t, now)
	return t.volume, nil
}

func (m *Mixer) ToggleMute(id int, now float64) (bool, error) {
	t, err := m.track(id)
	if err != nil {
		return false, err
	}
	t.muted = !t.muted
	m.applyGain(t, now)
	return t.muted, nil
}

// ToggleSolo is last-solo-wins: soloing a track mutes and un-solos every
// other track; clearing a solo unmutes every track.
func (m *Mixer) ToggleSolo(id int, now float64) (bool, error) {
	t, err := m.track(id)
	if err != nil {
		return false, err
	}
	tracks := m.Tracks()
	if t.solo {
		t.solo = false
		for _, o := range tracks {
			o.muted = false
			m.applyGain(o, now)
		}
		return false, nil
	}
	for _, o := range tracks {
		o.solo = o == t
		o.muted = o != t
		m.applyGain(o, now)
	}
	return true, nil
}

// SetTrackState restores persisted volume, mute and solo flags verbatim.
func (m *Mixer) SetTrackState(id int, volume float64, muted, solo bool, now float64) error {
	t, err := m.track(id)
	if err != nil {
		return err
	}
	t.volume, t.muted, t.solo = clamp01(volume), muted, solo
	m.applyGain(t, now)
	return nil
}

// SetMasterVolume clamps v to [0,1], ramps to it and returns it.
func (m *Mixer) SetMasterVolume(v, now float64) float64 {
	m.masterVol = clamp01(v)
	m.master.RampTo(m.masterVol, now, GainRamp)
	return m.masterVol
}

func (m *Mixer) MasterVolume() float64 { return m.masterVol }

// CancelAll cancels every live and pending voice, preview included.
func (m *Mixer) CancelAll(now float64) {
	for _, t := range m.Tracks() {
		t.pool.CancelAll(now)
	}
	m.preview.CancelAll(now)
}

// VoiceCount returns the number of registered voices.
func (m *Mixer) VoiceCount() int {
	n := m.preview.Len()
	for _, t := range m.Tracks() {
		n += t.pool.Len()
	}
	return n
}

func (m *Mixer) buffers(n int) {
	if cap(m.bus) >= n {
		return
	}
	m.bus = make([]float32, n)
	m.trackBuf = make([]float32, n)
	m.gainBuf = make([]float32, n)
	m.left = make([]float32, n)
	m.right = make([]float32, n)
}

// Render writes len(dst)/2 interleaved stereo frames starting at frame0.
func (m *Mixer) Render(dst []float32, frame0 int64) {
	n := len(dst) / 2
	if n == 0 {
		return
	}
	m.buffers(n)
	bus, tb, gains := m.bus[:n], m.trackBuf[:n], m.gainBuf[:n]
	left, right := m.left[:n], m.right[:n]
	dt := 1 / float64(m.sampleRate)
	t0 := float64(frame0) * dt

	clear(bus)
	m.mu.RLock()
	for _, t := range m.tracks {
		clear(tb)
		t.pool.Render(tb, frame0)
		t.gain.Fill(gains, t0, dt)
		vek32.Mul_Inplace(tb, gains)
		vek32.Add_Inplace(bus, tb)
	}
	m.mu.RUnlock()
	m.preview.Render(bus, frame0)

	copy(left, bus)
	copy(right, bus)
	m.chain.Process(left, right, t0)
	m.master.Fill(gains, t0, dt)
	vek32.Mul_Inplace(left, gains)
	vek32.Mul_Inplace(right, gains)
	m.eq.Process(left, right)
	m.comp.Process(left, right)
	m.limiter.Process(left, right)

	c := m.ceiling
	for i := 0; i < n; i++ {
		dst[2*i] = clampCeil(left[i], c)
		dst[2*i+1] = clampCeil(right[i], c)
	}
	copy(tb, dst[:n])
	vek32.Abs_Inplace(tb)
	p := vek32.Max(tb)
	copy(gains, dst[n:2*n])
	vek32.Abs_Inplace(gains)
	p = max(p, vek32.Max(gains))
	m.peak.Store(math.Float32bits(p))
}

func clampCeil(v, c float32) float32 {
	if v > c {
		return c
	}
	if v < -c {
		return -c
	}
	if v != v {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

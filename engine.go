// Package musicflow is a real-time step sequencer: a lookahead scheduler
// triggers synthesized instrument voices, which are mixed through a shared
// effects chain into a limited master bus.
package musicflow

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Sapo-biz/MusicFlow/internal/audio"
	"github.com/Sapo-biz/MusicFlow/internal/graph"
	"github.com/Sapo-biz/MusicFlow/internal/mixer"
	"github.com/Sapo-biz/MusicFlow/internal/pattern"
	"github.com/Sapo-biz/MusicFlow/internal/sequencer"
	"github.com/Sapo-biz/MusicFlow/internal/synth"
)

// Instrument kinds accepted by AddTrack.
type Instrument = synth.Kind

const (
	Piano   = synth.Piano
	Drums   = synth.Drums
	Guitar  = synth.Guitar
	Bass    = synth.Bass
	Synth   = synth.Synth
	Strings = synth.Strings
)

// Output backends accepted by WithOutput.
type Output = audio.Backend

const (
	OutputEbiten = audio.BackendEbiten
	OutputOto    = audio.BackendOto
	OutputNone   = audio.BackendNone
)

// TransportState is the scheduler state.
type TransportState = sequencer.State

const (
	Stopped = sequencer.Stopped
	Playing = sequencer.Playing
	Paused  = sequencer.Paused
)

// Step is one cell of a track's row in the active pattern.
type Step = pattern.Step

var (
	ErrUnknownTrack      = pattern.ErrUnknownTrack
	ErrUnknownPattern    = pattern.ErrUnknownPattern
	ErrStepOutOfRange    = pattern.ErrStepOutOfRange
	ErrUnknownInstrument = synth.ErrUnknownInstrument
	ErrNoDevice          = audio.ErrNoDevice
	ErrClosed            = errors.New("engine closed")
)

const (
	DefaultSampleRate = 48000
	// DefaultVoiceLimit is the live-voice count above which the engine logs
	// a warning. It never refuses a note.
	DefaultVoiceLimit = 64
	// PreviewDuration is used by PlayNote when duration is not positive.
	PreviewDuration = 0.5
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventStep fires once per scheduled step, with or without notes.
	EventStep EventKind = iota
	// EventNote fires for each note triggered by the pattern.
	EventNote
	// EventPreview fires for PlayNote.
	EventPreview
	// EventTransport fires when the transport state changes.
	EventTransport
)

// Event is delivered to the trigger hook and Watch channel. Time is in
// audio-clock seconds.
type Event struct {
	Kind     EventKind
	Step     int
	TrackID  int
	Note     string
	Velocity float64
	Time     float64
	State    TransportState
}

type Option func(*config)

type config struct {
	sampleRate int
	backend    audio.Backend
	lookahead  float64
	interval   time.Duration
	logger     *log.Logger
	hook       func(Event)
	voiceLimit int
}

func defaultConfig() config {
	return config{
		sampleRate: DefaultSampleRate,
		backend:    audio.BackendEbiten,
		lookahead:  sequencer.DefaultLookahead,
		interval:   sequencer.DefaultInterval,
		logger:     log.New(io.Discard, "", 0),
		voiceLimit: DefaultVoiceLimit,
	}
}

func WithSampleRate(sampleRate int) Option {
	return func(cfg *config) {
		cfg.sampleRate = sampleRate
	}
}

// WithOutput selects the audio device backend. OutputNone builds an
// offline engine: nothing plays, and every Render call advances the
// scheduler itself.
func WithOutput(backend Output) Option {
	return func(cfg *config) {
		cfg.backend = backend
	}
}

// WithLookahead sets how far ahead of the audio clock steps are scheduled.
func WithLookahead(d time.Duration) Option {
	return func(cfg *config) {
		cfg.lookahead = d.Seconds()
	}
}

// WithTickInterval sets the wall-clock period of the scheduling loop.
func WithTickInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.interval = d
	}
}

func WithLogger(l *log.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithTriggerHook installs a callback invoked synchronously for every
// event while the engine lock is held. It must not call back into the
// engine.
func WithTriggerHook(fn func(Event)) Option {
	return func(cfg *config) {
		cfg.hook = fn
	}
}

func WithVoiceLimit(n int) Option {
	return func(cfg *config) {
		cfg.voiceLimit = n
	}
}

// Engine is the sequencer. All methods are safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	cfg       config
	logger    *log.Logger
	clock     *graph.Clock
	seq       *sequencer.Clock
	loop      *sequencer.Loop
	store     *pattern.Store
	mix       *mixer.Mixer
	out       audio.Output
	nextID    int
	selected  int
	preview   synth.Instrument
	overLimit bool
	closed    bool

	eventCh   chan Event
	eventChMu sync.Mutex

	renderMu sync.Mutex
	block    []float32
	pending  []float32
}

// New builds an engine and opens its audio output. Failing to open the
// device is returned as an error wrapping ErrNoDevice.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	preview, err := synth.New(synth.Piano, cfg.sampleRate)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		logger:  cfg.logger,
		clock:   graph.NewClock(cfg.sampleRate),
		store:   pattern.NewStore(),
		mix:     mixer.New(cfg.sampleRate),
		nextID:  1,
		preview: preview,
		block:   make([]float32, 2*graph.Quantum),
	}
	e.seq = sequencer.NewClock(e.clock, sequencer.Options{Lookahead: cfg.lookahead, OnStep: e.onStep})
	if cfg.backend == audio.BackendNone {
		return e, nil
	}
	out, err := audio.Open(cfg.backend, cfg.sampleRate, e)
	if err != nil {
		return nil, fmt.Errorf("open %s output: %w", cfg.backend, err)
	}
	e.out = out
	e.loop = sequencer.NewLoop(cfg.interval, e.tick)
	e.out.Play()
	return e, nil
}

func (e *Engine) offline() bool { return e.out == nil }

func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq.Tick()
}

// onStep runs under e.mu from Tick.
func (e *Engine) onStep(step int, when float64) {
	e.emit(Event{Kind: EventStep, Step: step, Time: when, State: e.seq.State()})
	for _, trig := range e.store.ActiveAt(step) {
		tr, ok := e.mix.Track(trig.TrackID)
		if !ok || tr.Muted() {
			continue
		}
		dur := trig.Step.Duration * e.seq.StepDuration()
		if e.trigger(tr.Instrument(), tr.Pool(), trig.Step.Note, trig.Step.Velocity, dur, when) {
			e.emit(Event{Kind: EventNote, Step: step, TrackID: tr.ID, Note: trig.Step.Note, Velocity: trig.Step.Velocity, Time: when})
		}
	}
	e.checkVoiceLimit()
}

// trigger starts a voice. A failing instrument is logged and produces
// silence for that note.
func (e *Engine) trigger(inst synth.Instrument, pool *synth.Pool, note string, velocity, duration, when float64) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("musicflow: %s instrument failed on %q: %v", inst.Kind(), note, r)
			ok = false
		}
	}()
	pool.Add(inst.Trigger(note, velocity, duration, when))
	return true
}

func (e *Engine) checkVoiceLimit() {
	if e.cfg.voiceLimit <= 0 {
		return
	}
	n := e.mix.VoiceCount()
	switch {
	case n > e.cfg.voiceLimit && !e.overLimit:
		e.overLimit = true
		e.logger.Printf("musicflow: %d live voices exceeds soft limit %d", n, e.cfg.voiceLimit)
	case n <= e.cfg.voiceLimit:
		e.overLimit = false
	}
}

func (e *Engine) emit(ev Event) {
	if e.cfg.hook != nil {
		e.cfg.hook(ev)
	}
	e.eventChMu.Lock()
	defer e.eventChMu.Unlock()
	if e.eventCh == nil {
		return
	}
	select {
	case e.eventCh <- ev:
	default:
		// Channel full; drop event
	}
}

// Watch returns a channel receiving engine events. The channel is buffered
// (cap 64) and events are dropped when it is full. Only the most recent
// Watch channel receives events.
func (e *Engine) Watch() <-chan Event {
	ch := make(chan Event, 64)
	e.eventChMu.Lock()
	e.eventCh = ch
	e.eventChMu.Unlock()
	return ch
}

// Now returns the audio-clock time in seconds.
func (e *Engine) Now() float64 { return e.clock.Now() }

func (e *Engine) SampleRate() int { return e.cfg.sampleRate }

// Play starts the transport, or resumes it after Pause.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.seq.Play() {
		return
	}
	e.emit(Event{Kind: EventTransport, State: Playing, Time: e.clock.Now(), Step: e.seq.CurrentStep()})
	e.seq.Tick()
	if e.loop != nil {
		e.loop.Start()
	}
}

// Pause halts the transport at the current step and silences every voice.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.seq.Pause() {
		return
	}
	e.halt()
}

// Stop halts the transport, rewinds to step 0 and silences every voice.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq.Stop()
	e.halt()
}

func (e *Engine) halt() {
	if e.loop != nil {
		e.loop.Stop()
	}
	now := e.clock.Now()
	e.mix.CancelAll(now)
	e.emit(Event{Kind: EventTransport, State: e.seq.State(), Time: now, Step: e.seq.CurrentStep()})
}

func (e *Engine) State() TransportState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.State()
}

// CurrentStep returns the next step to be scheduled.
func (e *Engine) CurrentStep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.CurrentStep()
}

// ToggleRecord flips record mode and returns the new value.
func (e *Engine) ToggleRecord() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.ToggleRecord()
}

func (e *Engine) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.IsRecording()
}

// SetBPM clamps bpm to [60,200] and returns the applied tempo. It takes
// effect from the next step.
func (e *Engine) SetBPM(bpm float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.SetBPM(bpm)
}

func (e *Engine) BPM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.BPM()
}

// StepDuration returns the length of one step in seconds.
func (e *Engine) StepDuration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.StepDuration()
}

// SetMasterVolume clamps volume to [0,1] and returns the applied value.
func (e *Engine) SetMasterVolume(volume float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mix.SetMasterVolume(volume, e.clock.Now())
}

func (e *Engine) MasterVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mix.MasterVolume()
}

// SetEQBand sets the gain for a master EQ band (0-4). 1.0 = unity.
// Band frequencies: 0=<200Hz, 1=200-800Hz, 2=800-2.5kHz, 3=2.5-8kHz, 4=>8kHz.
func (e *Engine) SetEQBand(band int, gain float32) error {
	if !e.mix.EQ().SetGain(band, gain) {
		return fmt.Errorf("eq band %d out of range (0-4)", band)
	}
	return nil
}

func (e *Engine) EQBand(band int) float32 {
	return e.mix.EQ().Gain(band)
}

// MasterPeak returns the largest absolute sample of the last rendered block.
func (e *Engine) MasterPeak() float32 { return e.mix.Peak() }

// Ceiling is the hard bound on master output samples.
func (e *Engine) Ceiling() float32 { return e.mix.Ceiling() }

// Process renders interleaved stereo frames into dst. It is the sample
// source for the audio device; offline engines call it through Render.
func (e *Engine) Process(dst []float32) {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	for len(dst) > 0 {
		if len(e.pending) == 0 {
			e.renderBlock()
		}
		n := copy(dst, e.pending)
		dst = dst[n:]
		e.pending = e.pending[n:]
	}
}

func (e *Engine) renderBlock() {
	if e.offline() {
		e.tick()
	}
	e.mix.Render(e.block, e.clock.Frame())
	e.clock.Advance(graph.Quantum)
	e.pending = e.block
}

// Render pulls len(dst)/2 stereo frames from an offline engine, advancing
// the scheduler as it goes.
func (e *Engine) Render(dst []float32) error {
	if !e.offline() {
		return errors.New("Render requires an engine built WithOutput(OutputNone)")
	}
	e.Process(dst)
	return nil
}

// Close stops playback and releases the audio device.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.seq.Stop()
	e.mix.CancelAll(e.clock.Now())
	var done <-chan struct{}
	if e.loop != nil {
		done = e.loop.Stop()
	}
	e.mu.Unlock()
	if done != nil {
		<-done
	}
	e.eventChMu.Lock()
	if e.eventCh != nil {
		close(e.eventCh)
		e.eventCh = nil
	}
	e.eventChMu.Unlock()
	if e.out != nil {
		return e.out.Close()
	}
	return nil
}

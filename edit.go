package musicflow

import (
	"fmt"
	"strings"

	"github.com/Sapo-biz/MusicFlow/internal/effects"
	"github.com/Sapo-biz/MusicFlow/internal/mixer"
	"github.com/Sapo-biz/MusicFlow/internal/synth"
	"github.com/Sapo-biz/MusicFlow/internal/theory"
)

var (
	ErrUnknownEffect = effects.ErrUnknownEffect
	ErrUnknownParam  = effects.ErrUnknownParam
)

func (e *Engine) track(id int) (*mixer.Track, error) {
	tr, ok := e.mix.Track(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTrack, id)
	}
	return tr, nil
}

// AddTrack creates a track with an inactive row in every pattern and
// returns its id. The first track added becomes the selected track.
func (e *Engine) AddTrack(name string, kind Instrument) (int, error) {
	kind, err := synth.ParseKind(string(kind))
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	if _, err := e.mix.AddTrack(id, name, kind); err != nil {
		return 0, err
	}
	if err := e.store.AddTrack(id); err != nil {
		_ = e.mix.RemoveTrack(id, e.clock.Now())
		return 0, err
	}
	e.nextID++
	if e.selected == 0 {
		e.selected = id
	}
	return id, nil
}

// RemoveTrack silences and drops a track and its rows.
func (e *Engine) RemoveTrack(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.track(id); err != nil {
		return err
	}
	if err := e.mix.RemoveTrack(id, e.clock.Now()); err != nil {
		return err
	}
	if err := e.store.RemoveTrack(id); err != nil {
		return err
	}
	if e.selected == id {
		e.selected = 0
		if ids := e.store.Tracks(); len(ids) > 0 {
			e.selected = ids[0]
		}
	}
	return nil
}

// Tracks describes every track in creation order.
func (e *Engine) Tracks() []TrackData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trackData()
}

func (e *Engine) trackData() []TrackData {
	tracks := e.mix.Tracks()
	out := make([]TrackData, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, TrackData{
			ID:         tr.ID,
			Name:       tr.Name,
			Instrument: tr.Kind(),
			Volume:     tr.Volume(),
			Muted:      tr.Muted(),
			Solo:       tr.Solo(),
		})
	}
	return out
}

// SelectTrack chooses the track PlayNote previews and records into.
func (e *Engine) SelectTrack(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.track(id); err != nil {
		return err
	}
	e.selected = id
	return nil
}

// SelectedTrack returns the selected track id, or 0 when none is.
func (e *Engine) SelectedTrack() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// AddPattern appends an empty pattern. The active pattern is unchanged.
func (e *Engine) AddPattern(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.AddPattern(id)
}

// SetActivePattern switches the pattern the scheduler reads from the next
// step on.
func (e *Engine) SetActivePattern(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.SetActive(id)
}

func (e *Engine) ActivePattern() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ActiveID()
}

// Patterns lists pattern ids in order.
func (e *Engine) Patterns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps := e.store.Patterns()
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

// ToggleStep flips a step of the active pattern and returns its new state.
func (e *Engine) ToggleStep(trackID, index int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Toggle(trackID, index)
}

func (e *Engine) SetStepNote(trackID, index int, note string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.SetNote(trackID, index, note)
}

// SetStepVelocity clamps velocity to [0,1].
func (e *Engine) SetStepVelocity(trackID, index int, velocity float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.SetVelocity(trackID, index, velocity)
}

// SetStepDuration sets the note length in steps.
func (e *Engine) SetStepDuration(trackID, index int, steps float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.SetDuration(trackID, index, steps)
}

// ClearStep resets a step to an inactive default.
func (e *Engine) ClearStep(trackID, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Clear(trackID, index)
}

func (e *Engine) Step(trackID, index int) (Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Step(trackID, index)
}

// SetTrackVolume clamps volume to [0,1] and returns the applied value.
func (e *Engine) SetTrackVolume(id int, volume float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.track(id); err != nil {
		return 0, err
	}
	return e.mix.SetVolume(id, volume, e.clock.Now())
}

// ToggleTrackMute flips a track's mute and returns the new value.
func (e *Engine) ToggleTrackMute(id int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.track(id); err != nil {
		return false, err
	}
	return e.mix.ToggleMute(id, e.clock.Now())
}

// ToggleTrackSolo solos a track, muting all others, or clears its solo and
// unmutes every track.
func (e *Engine) ToggleTrackSolo(id int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.track(id); err != nil {
		return false, err
	}
	return e.mix.ToggleSolo(id, e.clock.Now())
}

// Effects lists effect names in processing order.
func (e *Engine) Effects() []string { return e.mix.Effects().Names() }

// ToggleEffect enables or bypasses an effect with a short crossfade.
func (e *Engine) ToggleEffect(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mix.Effects().SetEnabled(name, enabled, e.clock.Now())
}

func (e *Engine) EffectEnabled(name string) (bool, error) {
	return e.mix.Effects().Enabled(name)
}

// SetEffectParam ramps an effect parameter to value, clamped to its range.
func (e *Engine) SetEffectParam(name, param string, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mix.Effects().SetParam(name, param, value, e.clock.Now())
}

func (e *Engine) EffectParam(name, param string) (float64, error) {
	return e.mix.Effects().Param(name, param)
}

// SetFilterType selects lowpass, highpass or bandpass for the filter effect.
func (e *Engine) SetFilterType(typ string) error {
	return e.mix.Effects().SetFilterType(typ)
}

// PlayNote sounds a note immediately on the selected track's instrument, or
// a piano when no track is selected. Duration is in seconds and
// unrecognized notes sound as A4. While
// recording during playback the note is also written, active, into the
// selected track's step that is currently sounding.
func (e *Engine) PlayNote(note string, velocity, duration float64) error {
	note = strings.TrimSpace(note)
	if _, _, ok := theory.ParseNote(note); !ok {
		e.logger.Printf("musicflow: unknown note %q, playing A4", note)
	}
	if duration <= 0 {
		duration = PreviewDuration
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	now := e.clock.Now()
	inst := e.preview
	if tr, ok := e.mix.Track(e.selected); ok {
		inst = tr.Instrument()
	}
	if e.trigger(inst, e.mix.Preview(), note, velocity, duration, now) {
		e.emit(Event{Kind: EventPreview, TrackID: e.selected, Note: note, Velocity: velocity, Time: now, Step: -1})
	}
	e.checkVoiceLimit()
	if !e.seq.IsRecording() || !e.seq.IsPlaying() || e.selected == 0 {
		return nil
	}
	step := e.seq.SoundingStep(now)
	if step < 0 {
		return nil
	}
	cur, err := e.store.Step(e.selected, step)
	if err != nil {
		return err
	}
	cur.Active = true
	cur.Note = note
	cur.Velocity = velocity
	return e.store.Set(e.selected, step, cur)
}

// ReleaseNote ends the most recent held voice of note on the instrument
// PlayNote would use, starting its release now.
func (e *Engine) ReleaseNote(note string) error {
	note = strings.TrimSpace(note)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	inst := e.preview
	if tr, ok := e.mix.Track(e.selected); ok {
		inst = tr.Instrument()
	}
	inst.Release(note, e.clock.Now())
	return nil
}

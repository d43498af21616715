package musicflow

import (
	"bytes"
	"errors"
	"log"
	"math"
	"strings"
	"testing"
)

func newOffline(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSampleRate(48000), WithOutput(OutputNone)}, opts...)
	e, err := New(opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mustTrack(t *testing.T, e *Engine, name string, kind Instrument) int {
	t.Helper()
	id, err := e.AddTrack(name, kind)
	if err != nil {
		t.Fatalf("add track %s: %v", name, err)
	}
	return id
}

func renderSeconds(t *testing.T, e *Engine, seconds float64) []float32 {
	t.Helper()
	buf := make([]float32, 2*int(seconds*float64(e.SampleRate())))
	if err := e.Render(buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	return buf
}

func TestMasterVolumeRuntimeAPI(t *testing.T) {
	e := newOffline(t)
	if got := e.MasterVolume(); got != 0.8 {
		t.Fatalf("default master volume = %v, want 0.8", got)
	}
	tests := []struct {
		in, want float64
	}{
		{0.35, 0.35},
		{-2, 0},
		{3, 1},
	}
	for _, tt := range tests {
		if got := e.SetMasterVolume(tt.in); got != tt.want {
			t.Fatalf("SetMasterVolume(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got := e.MasterVolume(); got != tt.want {
			t.Fatalf("MasterVolume after %v = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetBPMClampsAndSetsStepDuration(t *testing.T) {
	e := newOffline(t)
	if got := e.SetBPM(150); got != 150 {
		t.Fatalf("SetBPM(150) = %v", got)
	}
	if got := e.StepDuration(); math.Abs(got-0.1) > 1e-12 {
		t.Fatalf("step duration = %v, want 0.1", got)
	}
	if got := e.SetBPM(20); got != 60 {
		t.Fatalf("SetBPM(20) = %v, want 60", got)
	}
	if got := e.SetBPM(500); got != 200 {
		t.Fatalf("SetBPM(500) = %v, want 200", got)
	}
}

func TestToggleStepTwiceRestoresState(t *testing.T) {
	e := newOffline(t)
	id := mustTrack(t, e, "Lead", Synth)
	on, err := e.ToggleStep(id, 5)
	if err != nil || !on {
		t.Fatalf("first toggle = %v, %v", on, err)
	}
	on, err = e.ToggleStep(id, 5)
	if err != nil || on {
		t.Fatalf("second toggle = %v, %v", on, err)
	}
	st, err := e.Step(id, 5)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if st.Active || st.Note != "C4" || st.Velocity != 0.8 || st.Duration != 1 {
		t.Fatalf("step = %+v, want inactive default", st)
	}
}

func TestSoloIsLastWriterWins(t *testing.T) {
	e := newOffline(t)
	a := mustTrack(t, e, "A", Piano)
	b := mustTrack(t, e, "B", Bass)
	c := mustTrack(t, e, "C", Drums)

	state := func() map[int]TrackData {
		out := map[int]TrackData{}
		for _, td := range e.Tracks() {
			out[td.ID] = td
		}
		return out
	}

	if on, err := e.ToggleTrackSolo(b); err != nil || !on {
		t.Fatalf("solo b = %v, %v", on, err)
	}
	s := state()
	if !s[a].Muted || s[b].Muted || !s[c].Muted || !s[b].Solo {
		t.Fatalf("after solo b: %+v", s)
	}
	if _, err := e.ToggleTrackSolo(c); err != nil {
		t.Fatalf("solo c: %v", err)
	}
	s = state()
	if s[b].Solo || !s[b].Muted || !s[c].Solo || s[c].Muted {
		t.Fatalf("after solo c: %+v", s)
	}
	if on, err := e.ToggleTrackSolo(c); err != nil || on {
		t.Fatalf("unsolo c = %v, %v", on, err)
	}
	for id, td := range state() {
		if td.Muted || td.Solo {
			t.Fatalf("track %d still muted/solo after clearing: %+v", id, td)
		}
	}
}

func TestKickTriggersOnDrumTrackOnly(t *testing.T) {
	var notes []Event
	e := newOffline(t, WithTriggerHook(func(ev Event) {
		if ev.Kind == EventNote {
			notes = append(notes, ev)
		}
	}))
	mustTrack(t, e, "Piano", Piano)
	drums := mustTrack(t, e, "Drums", Drums)
	mustTrack(t, e, "Bass", Bass)
	mustTrack(t, e, "Synth", Synth)
	for _, step := range []int{0, 8} {
		if _, err := e.ToggleStep(drums, step); err != nil {
			t.Fatalf("toggle %d: %v", step, err)
		}
		if err := e.SetStepNote(drums, step, "C2"); err != nil {
			t.Fatalf("note %d: %v", step, err)
		}
	}
	e.SetBPM(120)
	e.Play()
	out := renderSeconds(t, e, 1.5)

	if len(notes) != 2 {
		t.Fatalf("got %d note events, want 2: %+v", len(notes), notes)
	}
	for i, want := range []float64{0, 1.0} {
		ev := notes[i]
		if ev.TrackID != drums {
			t.Fatalf("event %d on track %d, want drums %d", i, ev.TrackID, drums)
		}
		if math.Abs(ev.Time-want) > 1e-9 {
			t.Fatalf("event %d at %v, want %v", i, ev.Time, want)
		}
	}

	var peak float32
	for _, s := range out {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		t.Fatal("expected audible kick")
	}
	if peak > e.Ceiling()+1e-6 {
		t.Fatalf("peak %v exceeds ceiling %v", peak, e.Ceiling())
	}
}

func TestMutedTrackDoesNotTrigger(t *testing.T) {
	count := 0
	e := newOffline(t, WithTriggerHook(func(ev Event) {
		if ev.Kind == EventNote {
			count++
		}
	}))
	id := mustTrack(t, e, "Drums", Drums)
	if _, err := e.ToggleStep(id, 0); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := e.ToggleTrackMute(id); err != nil {
		t.Fatalf("mute: %v", err)
	}
	e.Play()
	renderSeconds(t, e, 0.5)
	if count != 0 {
		t.Fatalf("muted track fired %d notes", count)
	}
}

func TestStopRewindsAndSilences(t *testing.T) {
	var steps []Event
	e := newOffline(t, WithTriggerHook(func(ev Event) {
		if ev.Kind == EventStep {
			steps = append(steps, ev)
		}
	}))
	id := mustTrack(t, e, "Strings", Strings)
	for i := 0; i < 16; i++ {
		if _, err := e.ToggleStep(id, i); err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
	}
	e.Play()
	renderSeconds(t, e, 0.5)
	e.Stop()
	if e.State() != Stopped || e.CurrentStep() != 0 {
		t.Fatalf("after stop: state %v step %d", e.State(), e.CurrentStep())
	}
	renderSeconds(t, e, 0.1)
	if p := e.MasterPeak(); p > 1e-4 {
		t.Fatalf("peak after stop = %v, want silence", p)
	}

	steps = steps[:0]
	start := e.Now()
	e.Play()
	if len(steps) == 0 || steps[0].Step != 0 || math.Abs(steps[0].Time-start) > 1e-9 {
		t.Fatalf("replay did not start at step 0 now: %+v", steps)
	}
}

func TestPauseResumesAtFirstCancelledStep(t *testing.T) {
	var steps []Event
	e := newOffline(t, WithTriggerHook(func(ev Event) {
		if ev.Kind == EventStep {
			steps = append(steps, ev)
		}
	}))
	id := mustTrack(t, e, "Drums", Drums)
	for i := 0; i < 16; i++ {
		if _, err := e.ToggleStep(id, i); err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
	}
	e.Play()
	renderSeconds(t, e, 0.3)
	pausedAt := e.Now()
	cancelled := -1
	for _, ev := range steps {
		if ev.Time > pausedAt {
			cancelled = ev.Step
			break
		}
	}
	if cancelled < 0 {
		t.Fatalf("no step scheduled past %v: %+v", pausedAt, steps)
	}
	e.Pause()
	if e.State() != Paused || e.CurrentStep() != cancelled {
		t.Fatalf("after pause: state %v step %d, want step %d", e.State(), e.CurrentStep(), cancelled)
	}
	renderSeconds(t, e, 0.5)
	if got := e.CurrentStep(); got != cancelled {
		t.Fatalf("paused step moved %d -> %d", cancelled, got)
	}

	steps = steps[:0]
	e.Play()
	if len(steps) == 0 || steps[0].Step != cancelled {
		t.Fatalf("resumed with %+v, want step %d first", steps, cancelled)
	}
}

func TestPlayNoteRecordsIntoSoundingStep(t *testing.T) {
	e := newOffline(t)
	id := mustTrack(t, e, "Lead", Synth)
	if err := e.PlayNote("E4", 0.9, 0.2); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if st, _ := e.Step(id, 0); st.Active {
		t.Fatal("preview outside recording wrote a step")
	}
	if !e.ToggleRecord() {
		t.Fatal("record should be on")
	}
	e.Play()
	renderSeconds(t, e, 0.3)
	if err := e.PlayNote("E4", 0.9, 0.2); err != nil {
		t.Fatalf("record: %v", err)
	}
	st, err := e.Step(id, 2)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !st.Active || st.Note != "E4" || st.Velocity != 0.9 {
		t.Fatalf("recorded step = %+v", st)
	}
}

func TestPlayNoteWithoutTracksUsesPiano(t *testing.T) {
	e := newOffline(t)
	if err := e.PlayNote("A4", 1, 0.25); err != nil {
		t.Fatalf("play note: %v", err)
	}
	renderSeconds(t, e, 0.1)
	if e.MasterPeak() == 0 {
		t.Fatal("expected preview audio")
	}
	if err := e.PlayNote("H9", 1, 0.25); err != nil {
		t.Fatalf("unknown note should fall back to A4: %v", err)
	}
}

func TestReleaseNoteEndsHeldPreview(t *testing.T) {
	cases := []struct {
		name    string
		release bool
		silent  bool
	}{
		{"held", false, false},
		{"released", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newOffline(t)
			if err := e.PlayNote("C4", 1, 10); err != nil {
				t.Fatalf("play note: %v", err)
			}
			renderSeconds(t, e, 0.5)
			if tc.release {
				if err := e.ReleaseNote(" C4 "); err != nil {
					t.Fatalf("release note: %v", err)
				}
			}
			// Piano release is 1.2 s.
			buf := renderSeconds(t, e, 1.5)
			if got := peakAbs(buf[len(buf)-2*4800:]); (got < 1e-4) != tc.silent {
				t.Fatalf("tail peak = %v, silent want %v", got, tc.silent)
			}
		})
	}
}

func TestPlayNoteDefaultDuration(t *testing.T) {
	e := newOffline(t)
	if err := e.PlayNote("A4", 1, 0); err != nil {
		t.Fatalf("play note: %v", err)
	}
	if buf := renderSeconds(t, e, PreviewDuration); peakAbs(buf) == 0 {
		t.Fatal("expected audio while the preview is held")
	}
	// Piano release is 1.2 s, so the voice is gone 1.3 s after note off.
	buf := renderSeconds(t, e, 1.3)
	if got := peakAbs(buf[len(buf)-2*4800:]); got > 1e-4 {
		t.Fatalf("preview still sounding after %vs + release: %v", PreviewDuration, got)
	}
}

func peakAbs(buf []float32) float64 {
	var m float64
	for _, v := range buf {
		m = math.Max(m, math.Abs(float64(v)))
	}
	return m
}

func TestReleaseNoteAfterClose(t *testing.T) {
	e := newOffline(t)
	_ = e.Close()
	if err := e.ReleaseNote("C4"); !errors.Is(err, ErrClosed) {
		t.Fatalf("release after close = %v, want ErrClosed", err)
	}
}

func TestVoiceLimitLogs(t *testing.T) {
	var buf bytes.Buffer
	e := newOffline(t, WithVoiceLimit(1), WithLogger(log.New(&buf, "", 0)))
	for i := 0; i < 3; i++ {
		if err := e.PlayNote("C4", 0.5, 1); err != nil {
			t.Fatalf("play note: %v", err)
		}
	}
	if got := strings.Count(buf.String(), "soft limit"); got != 1 {
		t.Fatalf("soft limit logged %d times, want 1: %q", got, buf.String())
	}
}

func TestWatchReceivesEvents(t *testing.T) {
	e := newOffline(t)
	ch := e.Watch()
	e.Play()
	select {
	case ev := <-ch:
		if ev.Kind != EventTransport || ev.State != Playing {
			t.Fatalf("first event = %+v", ev)
		}
	default:
		t.Fatal("no transport event")
	}
	select {
	case ev := <-ch:
		if ev.Kind != EventStep || ev.Step != 0 {
			t.Fatalf("second event = %+v", ev)
		}
	default:
		t.Fatal("no step event")
	}
}

func TestSentinelErrors(t *testing.T) {
	e := newOffline(t)
	id := mustTrack(t, e, "Bass", Bass)
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown track", func() error { _, err := e.ToggleStep(id+10, 0); return err }(), ErrUnknownTrack},
		{"step out of range", func() error { _, err := e.ToggleStep(id, 16); return err }(), ErrStepOutOfRange},
		{"negative step", e.ClearStep(id, -1), ErrStepOutOfRange},
		{"unknown pattern", e.SetActivePattern("nope"), ErrUnknownPattern},
		{"unknown instrument", func() error { _, err := e.AddTrack("x", "kazoo"); return err }(), ErrUnknownInstrument},
		{"volume unknown track", func() error { _, err := e.SetTrackVolume(99, 1); return err }(), ErrUnknownTrack},
		{"select unknown track", e.SelectTrack(99), ErrUnknownTrack},
		{"unknown effect", e.ToggleEffect("flanger", true), ErrUnknownEffect},
		{"unknown param", e.SetEffectParam("delay", "nope", 1), ErrUnknownParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Fatalf("err = %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func TestPatternsSwitchAtNextStep(t *testing.T) {
	var notes []Event
	e := newOffline(t, WithTriggerHook(func(ev Event) {
		if ev.Kind == EventNote {
			notes = append(notes, ev)
		}
	}))
	id := mustTrack(t, e, "Drums", Drums)
	if err := e.AddPattern("pattern2"); err != nil {
		t.Fatalf("add pattern: %v", err)
	}
	if e.ActivePattern() != "pattern1" {
		t.Fatalf("active = %q", e.ActivePattern())
	}
	if err := e.SetActivePattern("pattern2"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if _, err := e.ToggleStep(id, 0); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	e.Play()
	renderSeconds(t, e, 0.2)
	if len(notes) != 1 {
		t.Fatalf("pattern2 fired %d notes, want 1", len(notes))
	}
	if err := e.SetActivePattern("pattern1"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if st, _ := e.Step(id, 0); st.Active {
		t.Fatal("pattern1 step 0 should be inactive")
	}
}

func TestRemoveTrackReselects(t *testing.T) {
	e := newOffline(t)
	a := mustTrack(t, e, "A", Piano)
	b := mustTrack(t, e, "B", Guitar)
	if e.SelectedTrack() != a {
		t.Fatalf("selected = %d, want %d", e.SelectedTrack(), a)
	}
	if err := e.RemoveTrack(a); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if e.SelectedTrack() != b {
		t.Fatalf("selected = %d, want %d", e.SelectedTrack(), b)
	}
	if _, err := e.Step(a, 0); !errors.Is(err, ErrUnknownTrack) {
		t.Fatalf("removed track step err = %v", err)
	}
	if c := mustTrack(t, e, "C", Bass); c == a {
		t.Fatal("track ids must not be reused")
	}
}

func TestRenderRequiresOfflineEngine(t *testing.T) {
	e := &Engine{out: nopOutput{}}
	if err := e.Render(make([]float32, 2)); err == nil {
		t.Fatal("expected error rendering a device-backed engine")
	}
}

type nopOutput struct{}

func (nopOutput) Play()        {}
func (nopOutput) Pause()       {}
func (nopOutput) Close() error { return nil }

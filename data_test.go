package musicflow

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Sapo-biz/MusicFlow/internal/effects"
)

func buildSession(t *testing.T) *Engine {
	t.Helper()
	e := newOffline(t)
	drums := mustTrack(t, e, "Drums", Drums)
	bass := mustTrack(t, e, "Bass", Bass)
	e.SetBPM(96)
	for _, i := range []int{0, 4, 8, 12} {
		if _, err := e.ToggleStep(drums, i); err != nil {
			t.Fatalf("toggle: %v", err)
		}
	}
	if _, err := e.ToggleStep(bass, 2); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := e.SetStepNote(bass, 2, "G2"); err != nil {
		t.Fatalf("note: %v", err)
	}
	if err := e.SetStepVelocity(bass, 2, 0.55); err != nil {
		t.Fatalf("velocity: %v", err)
	}
	if err := e.SetStepDuration(bass, 2, 2); err != nil {
		t.Fatalf("duration: %v", err)
	}
	if _, err := e.SetTrackVolume(bass, 0.6); err != nil {
		t.Fatalf("volume: %v", err)
	}
	if _, err := e.ToggleTrackMute(drums); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := e.AddPattern("B"); err != nil {
		t.Fatalf("add pattern: %v", err)
	}
	if err := e.SetActivePattern("B"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := e.ToggleStep(bass, 15); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := e.ToggleEffect("delay", true); err != nil {
		t.Fatalf("delay: %v", err)
	}
	if err := e.SetEffectParam("delay", "feedback", 0.5); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if err := e.SetEffectParam("reverb", "roomSize", 0.8); err != nil {
		t.Fatalf("room size: %v", err)
	}
	if err := e.SetFilterType("highpass"); err != nil {
		t.Fatalf("filter type: %v", err)
	}
	e.SetMasterVolume(0.5)
	if err := e.SetEQBand(0, 1.5); err != nil {
		t.Fatalf("eq: %v", err)
	}
	return e
}

func TestSequencerDataShape(t *testing.T) {
	e := buildSession(t)
	d := e.SequencerData()
	if d.BPM != 96 || d.StepsPerBeat != 4 || d.TotalSteps != 16 {
		t.Fatalf("header = %v %d %d", d.BPM, d.StepsPerBeat, d.TotalSteps)
	}
	if d.ActivePatternID != "B" || len(d.Patterns) != 2 || d.Patterns[0].ID != "pattern1" {
		t.Fatalf("patterns = %+v active %q", d.Patterns, d.ActivePatternID)
	}
	for _, p := range d.Patterns {
		if len(p.Tracks) != 2 {
			t.Fatalf("pattern %s has %d rows", p.ID, len(p.Tracks))
		}
		for _, row := range p.Tracks {
			if len(row.Steps) != 16 {
				t.Fatalf("pattern %s track %d has %d steps", p.ID, row.TrackID, len(row.Steps))
			}
		}
	}
	got := d.Patterns[0].Tracks[1].Steps[2]
	want := StepData{Active: true, Note: "G2", Velocity: 0.55, Duration: 2}
	if got != want {
		t.Fatalf("bass step 2 = %+v, want %+v", got, want)
	}
	if !d.Tracks[0].Muted || d.Tracks[1].Volume != 0.6 || d.Tracks[1].Instrument != Bass {
		t.Fatalf("tracks = %+v", d.Tracks)
	}

	fx := e.EffectsData()
	if !fx["delay"].Enabled || fx["delay"].Params["feedback"] != 0.5 {
		t.Fatalf("delay = %+v", fx["delay"])
	}
	if fx["filter"].Type != "highpass" {
		t.Fatalf("filter type = %q", fx["filter"].Type)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	src := buildSession(t)
	want := src.Project()
	for _, f := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			if err := EncodeProject(&buf, want, f); err != nil {
				t.Fatalf("encode: %v", err)
			}
			p, err := DecodeProject(&buf, f)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			dst := newOffline(t)
			if err := dst.LoadProject(p); err != nil {
				t.Fatalf("load: %v", err)
			}
			got := dst.Project()
			if !reflect.DeepEqual(got.Sequencer, want.Sequencer) {
				t.Fatalf("sequencer mismatch\n got %+v\nwant %+v", got.Sequencer, want.Sequencer)
			}
			if !reflect.DeepEqual(got.Effects, want.Effects) {
				t.Fatalf("effects mismatch\n got %+v\nwant %+v", got.Effects, want.Effects)
			}
			if !reflect.DeepEqual(got.Master, want.Master) {
				t.Fatalf("master mismatch got %+v want %+v", got.Master, want.Master)
			}
			if dst.SelectedTrack() != want.Sequencer.Tracks[0].ID {
				t.Fatalf("selected = %d", dst.SelectedTrack())
			}
		})
	}
}

func TestLoadedTrackIDsAreNotReused(t *testing.T) {
	e := newOffline(t)
	err := e.LoadSequencerData(SequencerData{
		BPM:    100,
		Tracks: []TrackData{{ID: 7, Name: "Keys", Instrument: Piano, Volume: 1}},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.ActivePattern() != "pattern1" {
		t.Fatalf("active = %q", e.ActivePattern())
	}
	if id := mustTrack(t, e, "Bass", Bass); id != 8 {
		t.Fatalf("new track id = %d, want 8", id)
	}
}

func TestMalformedLoadLeavesStateUntouched(t *testing.T) {
	steps := func(n int) []StepData { return make([]StepData, n) }
	valid := func() SequencerData {
		return SequencerData{
			BPM:    110,
			Tracks: []TrackData{{ID: 1, Name: "Drums", Instrument: Drums, Volume: 0.8}},
			Patterns: []PatternData{{
				ID:     "p",
				Tracks: []PatternTrackData{{TrackID: 1, Steps: steps(16)}},
			}},
			ActivePatternID: "p",
		}
	}
	tests := []struct {
		name   string
		mutate func(*SequencerData)
	}{
		{"steps per beat", func(d *SequencerData) { d.StepsPerBeat = 3 }},
		{"total steps", func(d *SequencerData) { d.TotalSteps = 32 }},
		{"unknown instrument", func(d *SequencerData) { d.Tracks[0].Instrument = "kazoo" }},
		{"zero track id", func(d *SequencerData) { d.Tracks[0].ID = 0 }},
		{"duplicate track", func(d *SequencerData) { d.Tracks = append(d.Tracks, d.Tracks[0]) }},
		{"short row", func(d *SequencerData) { d.Patterns[0].Tracks[0].Steps = steps(15) }},
		{"row for unknown track", func(d *SequencerData) { d.Patterns[0].Tracks[0].TrackID = 9 }},
		{"duplicate pattern", func(d *SequencerData) { d.Patterns = append(d.Patterns, d.Patterns[0]) }},
		{"unknown active pattern", func(d *SequencerData) { d.ActivePatternID = "q" }},
	}

	e := buildSession(t)
	if err := e.LoadSequencerData(valid()); err != nil {
		t.Fatalf("valid load: %v", err)
	}
	before := e.SequencerData()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(&d)
			err := e.LoadSequencerData(d)
			if !errors.Is(err, ErrInvalidData) {
				t.Fatalf("err = %v, want ErrInvalidData", err)
			}
			if after := e.SequencerData(); !reflect.DeepEqual(after, before) {
				t.Fatalf("state changed by rejected load")
			}
		})
	}
}

func TestMalformedEffectsLoadIsAtomic(t *testing.T) {
	e := newOffline(t)
	before := e.EffectsData()
	bad := EffectsData{
		"delay":   {Enabled: true, Params: map[string]float64{"time": 0.5}},
		"flanger": {Enabled: true},
	}
	err := e.LoadEffectsData(bad)
	if !errors.Is(err, ErrInvalidData) || !errors.Is(err, ErrUnknownEffect) {
		t.Fatalf("err = %v", err)
	}
	if !reflect.DeepEqual(e.EffectsData(), before) {
		t.Fatal("rejected effects load changed state")
	}
	bad = EffectsData{"filter": effects.State{Type: "notch"}}
	if err := e.LoadEffectsData(bad); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("bad filter type err = %v", err)
	}
}

func TestDecodeProjectRejectsGarbage(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatYAML} {
		_, err := DecodeProject(bytes.NewBufferString("{bpm: [}"), f)
		if !errors.Is(err, ErrInvalidData) {
			t.Fatalf("%s: err = %v", f, err)
		}
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]Format{
		"song.yaml": FormatYAML,
		"song.YML":  FormatYAML,
		"song.json": FormatJSON,
		"song":      FormatJSON,
	}
	for path, want := range tests {
		if got := FormatForPath(path); got != want {
			t.Fatalf("FormatForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestRenderProjectWritesWAV(t *testing.T) {
	p := buildSession(t).Project()
	const sr = 22050
	samples, err := RenderProject(p, 0.5, sr)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	frames := int(0.5 * sr)
	if len(samples) != 2*frames {
		t.Fatalf("got %d samples, want %d", len(samples), 2*frames)
	}
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := WriteWAV(f, samples, sr); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("bad header %q", data[:12])
	}
	if len(data) < frames*4 {
		t.Fatalf("wav has %d bytes, want at least %d", len(data), frames*4)
	}
	if err := WriteWAV(f, samples[:3], sr); err == nil {
		t.Fatal("expected error for odd sample count")
	}
}

func TestRenderProjectRejectsBadLength(t *testing.T) {
	if _, err := RenderProject(Project{}, 0, 48000); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestDemoProjectLoads(t *testing.T) {
	e := newOffline(t)
	if err := e.LoadProject(DemoProject()); err != nil {
		t.Fatalf("load demo: %v", err)
	}
	if got := len(e.Tracks()); got != 5 {
		t.Fatalf("demo has %d tracks", got)
	}
	if on, _ := e.EffectEnabled("reverb"); !on {
		t.Fatal("demo reverb should be on")
	}
}

package musicflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Sapo-biz/MusicFlow/internal/effects"
	"github.com/Sapo-biz/MusicFlow/internal/pattern"
	"github.com/Sapo-biz/MusicFlow/internal/sequencer"
	"github.com/Sapo-biz/MusicFlow/internal/synth"
)

// ErrInvalidData wraps every load failure. A failed load leaves the engine
// unchanged.
var ErrInvalidData = errors.New("invalid data")

type SequencerData struct {
	BPM             float64       `json:"bpm" yaml:"bpm"`
	StepsPerBeat    int           `json:"stepsPerBeat" yaml:"stepsPerBeat"`
	TotalSteps      int           `json:"totalSteps" yaml:"totalSteps"`
	Tracks          []TrackData   `json:"tracks" yaml:"tracks"`
	Patterns        []PatternData `json:"patterns" yaml:"patterns"`
	ActivePatternID string        `json:"activePatternId" yaml:"activePatternId"`
}

type TrackData struct {
	ID         int        `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Instrument Instrument `json:"instrument" yaml:"instrument"`
	Volume     float64    `json:"volume" yaml:"volume"`
	Muted      bool       `json:"muted" yaml:"muted"`
	Solo       bool       `json:"solo" yaml:"solo"`
}

type PatternData struct {
	ID     string             `json:"id" yaml:"id"`
	Tracks []PatternTrackData `json:"tracks" yaml:"tracks"`
}

type PatternTrackData struct {
	TrackID int        `json:"trackId" yaml:"trackId"`
	Steps   []StepData `json:"steps" yaml:"steps"`
}

type StepData struct {
	Active   bool    `json:"active" yaml:"active"`
	Note     string  `json:"note" yaml:"note"`
	Velocity float64 `json:"velocity" yaml:"velocity"`
	Duration float64 `json:"duration" yaml:"duration"`
}

// EffectsData maps effect name to its persisted state.
type EffectsData map[string]effects.State

// SequencerData snapshots tempo, tracks and every pattern.
func (e *Engine) SequencerData() SequencerData {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := SequencerData{
		BPM:             e.seq.BPM(),
		StepsPerBeat:    sequencer.StepsPerBeat,
		TotalSteps:      sequencer.TotalSteps,
		Tracks:          e.trackData(),
		ActivePatternID: e.store.ActiveID(),
	}
	for _, snap := range e.store.Snapshots() {
		pd := PatternData{ID: snap.ID, Tracks: make([]PatternTrackData, 0, len(snap.Rows))}
		for _, row := range snap.Rows {
			ptd := PatternTrackData{TrackID: row.TrackID, Steps: make([]StepData, len(row.Steps))}
			for i, st := range row.Steps {
				ptd.Steps[i] = StepData(st)
			}
			pd.Tracks = append(pd.Tracks, ptd)
		}
		d.Patterns = append(d.Patterns, pd)
	}
	return d
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}

func (d SequencerData) validate() ([]TrackData, *pattern.Store, error) {
	if d.StepsPerBeat != 0 && d.StepsPerBeat != sequencer.StepsPerBeat {
		return nil, nil, invalid("stepsPerBeat %d, want %d", d.StepsPerBeat, sequencer.StepsPerBeat)
	}
	if d.TotalSteps != 0 && d.TotalSteps != sequencer.TotalSteps {
		return nil, nil, invalid("totalSteps %d, want %d", d.TotalSteps, sequencer.TotalSteps)
	}
	tracks := make([]TrackData, len(d.Tracks))
	ids := make([]int, len(d.Tracks))
	for i, td := range d.Tracks {
		if td.ID <= 0 {
			return nil, nil, invalid("track id %d must be positive", td.ID)
		}
		kind, err := synth.ParseKind(string(td.Instrument))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: track %d: %w", ErrInvalidData, td.ID, err)
		}
		td.Instrument = kind
		tracks[i] = td
		ids[i] = td.ID
	}
	snaps := make([]pattern.Snapshot, len(d.Patterns))
	for i, pd := range d.Patterns {
		snap := pattern.Snapshot{ID: pd.ID, Rows: make([]pattern.RowSnapshot, len(pd.Tracks))}
		for j, ptd := range pd.Tracks {
			steps := make([]pattern.Step, len(ptd.Steps))
			for k, sd := range ptd.Steps {
				steps[k] = pattern.Step(sd)
			}
			snap.Rows[j] = pattern.RowSnapshot{TrackID: ptd.TrackID, Steps: steps}
		}
		snaps[i] = snap
	}
	store, err := pattern.Build(ids, snaps, d.ActivePatternID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return tracks, store, nil
}

// LoadSequencerData replaces tempo, tracks and patterns. Everything is
// validated before any state changes; live voices are cancelled and the
// transport keeps its state.
func (e *Engine) LoadSequencerData(d SequencerData) error {
	tracks, store, err := d.validate()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	for _, tr := range e.mix.Tracks() {
		if err := e.mix.RemoveTrack(tr.ID, now); err != nil {
			return err
		}
	}
	e.mix.Preview().CancelAll(now)
	e.nextID, e.selected = 1, 0
	for _, td := range tracks {
		if _, err := e.mix.AddTrack(td.ID, td.Name, td.Instrument); err != nil {
			return err
		}
		if err := e.mix.SetTrackState(td.ID, td.Volume, td.Muted, td.Solo, now); err != nil {
			return err
		}
		if td.ID >= e.nextID {
			e.nextID = td.ID + 1
		}
		if e.selected == 0 {
			e.selected = td.ID
		}
	}
	e.store = store
	if d.BPM != 0 {
		e.seq.SetBPM(d.BPM)
	}
	return nil
}

// EffectsData snapshots every effect.
func (e *Engine) EffectsData() EffectsData {
	return EffectsData(e.mix.Effects().Snapshot())
}

// LoadEffectsData applies effect states. Effects absent from d are left
// alone; unknown names, params or filter types reject the whole load.
func (e *Engine) LoadEffectsData(d EffectsData) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.mix.Effects().Restore(d, e.clock.Now()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return nil
}

// Project is a saved session.
type Project struct {
	Version   int           `json:"version" yaml:"version"`
	Sequencer SequencerData `json:"sequencer" yaml:"sequencer"`
	Effects   EffectsData   `json:"effects,omitempty" yaml:"effects,omitempty"`
	Master    *MasterData   `json:"master,omitempty" yaml:"master,omitempty"`
}

type MasterData struct {
	Volume float64    `json:"volume" yaml:"volume"`
	EQ     [5]float32 `json:"eq" yaml:"eq"`
}

const ProjectVersion = 1

// Format is a project encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Project snapshots the whole session.
func (e *Engine) Project() Project {
	p := Project{
		Version:   ProjectVersion,
		Sequencer: e.SequencerData(),
		Effects:   e.EffectsData(),
		Master:    &MasterData{Volume: e.MasterVolume()},
	}
	for band := range p.Master.EQ {
		p.Master.EQ[band] = e.EQBand(band)
	}
	return p
}

// LoadProject applies a project. Sequencer and effects data are both
// validated before either is applied.
func (e *Engine) LoadProject(p Project) error {
	if p.Version > ProjectVersion {
		return invalid("project version %d is newer than %d", p.Version, ProjectVersion)
	}
	if _, _, err := p.Sequencer.validate(); err != nil {
		return err
	}
	if err := e.mix.Effects().Validate(p.Effects); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	if err := e.LoadSequencerData(p.Sequencer); err != nil {
		return err
	}
	if err := e.LoadEffectsData(p.Effects); err != nil {
		return err
	}
	if p.Master != nil {
		e.SetMasterVolume(p.Master.Volume)
		for band, g := range p.Master.EQ {
			if err := e.SetEQBand(band, g); err != nil {
				return err
			}
		}
	}
	return nil
}

// EncodeProject writes p in the given format.
func EncodeProject(w io.Writer, p Project, f Format) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	default:
		return fmt.Errorf("unknown project format %q", f)
	}
}

// DecodeProject reads a project. Malformed input wraps ErrInvalidData.
func DecodeProject(r io.Reader, f Format) (Project, error) {
	var p Project
	switch f {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&p); err != nil {
			return Project{}, fmt.Errorf("%w: %w", ErrInvalidData, err)
		}
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&p); err != nil {
			return Project{}, fmt.Errorf("%w: %w", ErrInvalidData, err)
		}
	default:
		return Project{}, fmt.Errorf("unknown project format %q", f)
	}
	if p.Version == 0 {
		p.Version = ProjectVersion
	}
	return p, nil
}

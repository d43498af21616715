package musicflow

import "github.com/Sapo-biz/MusicFlow/internal/pattern"

// DemoProject returns a five-track groove at 120 BPM with reverb on.
func DemoProject() Project {
	row := func(note string, hits ...int) []StepData {
		steps := make([]StepData, pattern.Steps)
		for i := range steps {
			steps[i] = StepData(pattern.DefaultStep())
		}
		for _, h := range hits {
			steps[h].Active = true
			steps[h].Note = note
		}
		return steps
	}
	kick := row("C2", 0, 8)
	snare := row("D2", 4, 12)
	for _, h := range []int{2, 6, 10, 14} {
		kick[h] = StepData{Active: true, Note: "F#2", Velocity: 0.5, Duration: 1}
	}
	bass := row("C2", 0, 3, 6, 10)
	bass[10].Note = "G1"
	bass[0].Duration = 2
	lead := row("E4", 0, 4, 8, 12)
	lead[4].Note = "G4"
	lead[8].Note = "B4"
	lead[12].Note = "D5"
	pad := row("C4", 0)
	pad[0].Duration = 16
	pad[0].Velocity = 0.4

	return Project{
		Version: ProjectVersion,
		Sequencer: SequencerData{
			BPM:          120,
			StepsPerBeat: 4,
			TotalSteps:   pattern.Steps,
			Tracks: []TrackData{
				{ID: 1, Name: "Kit", Instrument: Drums, Volume: 0.9},
				{ID: 2, Name: "Perc", Instrument: Drums, Volume: 0.7},
				{ID: 3, Name: "Bass", Instrument: Bass, Volume: 0.8},
				{ID: 4, Name: "Lead", Instrument: Synth, Volume: 0.6},
				{ID: 5, Name: "Pad", Instrument: Strings, Volume: 0.5},
			},
			Patterns: []PatternData{{
				ID: pattern.FirstPatternID,
				Tracks: []PatternTrackData{
					{TrackID: 1, Steps: kick},
					{TrackID: 2, Steps: snare},
					{TrackID: 3, Steps: bass},
					{TrackID: 4, Steps: lead},
					{TrackID: 5, Steps: pad},
				},
			}},
			ActivePatternID: pattern.FirstPatternID,
		},
		Effects: EffectsData{
			"reverb": {Enabled: true, Params: map[string]float64{"wet": 0.25, "roomSize": 0.5}},
		},
	}
}

// Package pattern stores the step grid: an ordered list of patterns, each
// holding one 16-step row per track, and the id of the active pattern.
package pattern

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Steps is the fixed length of every row.
const Steps = 16

const (
	DefaultNote     = "C4"
	DefaultVelocity = 0.8
	DefaultDuration = 1.0

	MinDuration = 1.0 / 16
	MaxDuration = 16.0
)

var (
	ErrUnknownTrack     = errors.New("unknown track")
	ErrUnknownPattern   = errors.New("unknown pattern")
	ErrDuplicatePattern = errors.New("duplicate pattern")
	ErrDuplicateTrack   = errors.New("duplicate track")
	ErrStepOutOfRange   = errors.New("step index out of range")
)

// Step is one cell of a row. Duration is a multiple of the step length.
type Step struct {
	Active   bool
	Note     string
	Velocity float64
	Duration float64
}

// DefaultStep returns an inactive step with default note, velocity and
// duration.
func DefaultStep() Step {
	return Step{Note: DefaultNote, Velocity: DefaultVelocity, Duration: DefaultDuration}
}

// Row is one track's steps within a pattern.
type Row [Steps]Step

func defaultRow() Row {
	var r Row
	for i := range r {
		r[i] = DefaultStep()
	}
	return r
}

// Normalize fills zero fields with defaults and clamps the rest.
func (s Step) Normalize() Step {
	if strings.TrimSpace(s.Note) == "" {
		s.Note = DefaultNote
	}
	s.Velocity = clampVelocity(s.Velocity)
	if s.Duration == 0 || math.IsNaN(s.Duration) {
		s.Duration = DefaultDuration
	}
	s.Duration = clampDuration(s.Duration)
	return s
}

type trackRow struct {
	trackID int
	steps   Row
}

// Pattern keeps its rows in track order.
type Pattern struct {
	ID   string
	rows []trackRow
}

func (p *Pattern) row(trackID int) (*Row, error) {
	for i := range p.rows {
		if p.rows[i].trackID == trackID {
			return &p.rows[i].steps, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownTrack, trackID)
}

// Row returns a copy of a track's row.
func (p *Pattern) Row(trackID int) (Row, error) {
	r, err := p.row(trackID)
	if err != nil {
		return Row{}, err
	}
	return *r, nil
}

// TrackIDs lists the pattern's tracks in order.
func (p *Pattern) TrackIDs() []int {
	ids := make([]int, len(p.rows))
	for i, r := range p.rows {
		ids[i] = r.trackID
	}
	return ids
}

// Trigger is an active step found at the current index.
type Trigger struct {
	TrackID int
	Step    Step
}

// Store is the pattern collection. It is not safe for concurrent use; the
// engine serializes access.
type Store struct {
	tracks   []int
	patterns []*Pattern
	active   string
}

// FirstPatternID names the pattern every new store starts with.
const FirstPatternID = "pattern1"

func NewStore() *Store {
	s := &Store{}
	s.patterns = []*Pattern{{ID: FirstPatternID}}
	s.active = FirstPatternID
	return s
}

// AddTrack gives every pattern an inactive row for trackID.
func (s *Store) AddTrack(trackID int) error {
	for _, id := range s.tracks {
		if id == trackID {
			return fmt.Errorf("%w: %d", ErrDuplicateTrack, trackID)
		}
	}
	s.tracks = append(s.tracks, trackID)
	for _, p := range s.patterns {
		p.rows = append(p.rows, trackRow{trackID: trackID, steps: defaultRow()})
	}
	return nil
}

func (s *Store) RemoveTrack(trackID int) error {
	idx := -1
	for i, id := range s.tracks {
		if id == trackID {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownTrack, trackID)
	}
	s.tracks = append(s.tracks[:idx], s.tracks[idx+1:]...)
	for _, p := range s.patterns {
		for i := range p.rows {
			if p.rows[i].trackID == trackID {
				p.rows = append(p.rows[:i], p.rows[i+1:]...)
				break
			}
		}
	}
	return nil
}

// AddPattern appends an empty pattern with a row for every track.
func (s *Store) AddPattern(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownPattern)
	}
	if s.pattern(id) != nil {
		return fmt.Errorf("%w: %q", ErrDuplicatePattern, id)
	}
	p := &Pattern{ID: id}
	for _, t := range s.tracks {
		p.rows = append(p.rows, trackRow{trackID: t, steps: defaultRow()})
	}
	s.patterns = append(s.patterns, p)
	return nil
}

func (s *Store) pattern(id string) *Pattern {
	for _, p := range s.patterns {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Store) SetActive(id string) error {
	if s.pattern(id) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownPattern, id)
	}
	s.active = id
	return nil
}

func (s *Store) ActiveID() string { return s.active }

func (s *Store) Active() *Pattern { return s.pattern(s.active) }

// Patterns returns the patterns in order. Callers must not modify them.
func (s *Store) Patterns() []*Pattern { return s.patterns }

func (s *Store) Tracks() []int { return append([]int(nil), s.tracks...) }

func (s *Store) step(trackID, index int) (*Step, error) {
	if index < 0 || index >= Steps {
		return nil, fmt.Errorf("%w: %d", ErrStepOutOfRange, index)
	}
	r, err := s.Active().row(trackID)
	if err != nil {
		return nil, err
	}
	return &r[index], nil
}

// Step returns a step of the active pattern.
func (s *Store) Step(trackID, index int) (Step, error) {
	st, err := s.step(trackID, index)
	if err != nil {
		return Step{}, err
	}
	return *st, nil
}

// Toggle flips a step and returns its new state.
func (s *Store) Toggle(trackID, index int) (bool, error) {
	st, err := s.step(trackID, index)
	if err != nil {
		return false, err
	}
	st.Active = !st.Active
	return st.Active, nil
}

// Set replaces a step of the active pattern, normalizing it first.
func (s *Store) Set(trackID, index int, step Step) error {
	st, err := s.step(trackID, index)
	if err != nil {
		return err
	}
	*st = step.Normalize()
	return nil
}

func (s *Store) SetNote(trackID, index int, note string) error {
	st, err := s.step(trackID, index)
	if err != nil {
		return err
	}
	if note = strings.TrimSpace(note); note == "" {
		note = DefaultNote
	}
	st.Note = note
	return nil
}

func (s *Store) SetVelocity(trackID, index int, v float64) error {
	st, err := s.step(trackID, index)
	if err != nil {
		return err
	}
	st.Velocity = clampVelocity(v)
	return nil
}

func (s *Store) SetDuration(trackID, index int, d float64) error {
	st, err := s.step(trackID, index)
	if err != nil {
		return err
	}
	st.Duration = clampDuration(d)
	return nil
}

// Clear resets a step to inactive defaults.
func (s *Store) Clear(trackID, index int) error {
	st, err := s.step(trackID, index)
	if err != nil {
		return err
	}
	*st = DefaultStep()
	return nil
}

// ActiveAt returns, in track order, every active step at index of the
// active pattern.
func (s *Store) ActiveAt(index int) []Trigger {
	if index < 0 || index >= Steps {
		return nil
	}
	var out []Trigger
	for _, r := range s.Active().rows {
		if st := r.steps[index]; st.Active {
			out = append(out, Trigger{TrackID: r.trackID, Step: st})
		}
	}
	return out
}

// Snapshot is the plain form of a pattern used for serialization.
type Snapshot struct {
	ID   string
	Rows []RowSnapshot
}

type RowSnapshot struct {
	TrackID int
	Steps   []Step
}

// Snapshots copies every pattern in order.
func (s *Store) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(s.patterns))
	for _, p := range s.patterns {
		snap := Snapshot{ID: p.ID}
		for _, r := range p.rows {
			snap.Rows = append(snap.Rows, RowSnapshot{TrackID: r.trackID, Steps: append([]Step(nil), r.steps[:]...)})
		}
		out = append(out, snap)
	}
	return out
}

// Build assembles a store from snapshots. Tracks absent from a pattern get
// empty rows; rows for unknown tracks, wrong step counts or duplicate ids
// are errors. The store is only returned when everything validates.
func Build(tracks []int, snaps []Snapshot, activeID string) (*Store, error) {
	s := &Store{}
	for _, t := range tracks {
		if err := s.AddTrack(t); err != nil {
			return nil, err
		}
	}
	if len(snaps) == 0 {
		snaps = []Snapshot{{ID: FirstPatternID}}
	}
	for _, snap := range snaps {
		if err := s.AddPattern(snap.ID); err != nil {
			return nil, err
		}
		p := s.pattern(strings.TrimSpace(snap.ID))
		seen := make(map[int]bool, len(snap.Rows))
		for _, rs := range snap.Rows {
			if seen[rs.TrackID] {
				return nil, fmt.Errorf("%w: track %d twice in pattern %q", ErrDuplicateTrack, rs.TrackID, snap.ID)
			}
			seen[rs.TrackID] = true
			if len(rs.Steps) != Steps {
				return nil, fmt.Errorf("%w: pattern %q track %d has %d steps", ErrStepOutOfRange, snap.ID, rs.TrackID, len(rs.Steps))
			}
			row, err := p.row(rs.TrackID)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", snap.ID, err)
			}
			for i, st := range rs.Steps {
				row[i] = st.Normalize()
			}
		}
	}
	if activeID == "" {
		activeID = s.patterns[0].ID
	}
	if err := s.SetActive(activeID); err != nil {
		return nil, err
	}
	return s, nil
}

func clampVelocity(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampDuration(d float64) float64 {
	if math.IsNaN(d) || d < MinDuration {
		return MinDuration
	}
	if d > MaxDuration {
		return MaxDuration
	}
	return d
}

// Package theory converts note names into frequencies.
package theory

import (
	"math"
	"strconv"
	"strings"
)

// A4 is the reference pitch every other note is tuned against.
const A4 = 440.0

// Semitones above C within the written octave. Cb and B# cross the octave
// boundary, so Cb4 is B3 and B#4 is C5.
var pitchClasses = map[string]int{
	"C": 0, "C#": 1, "Db": 1,
	"D": 2, "D#": 3, "Eb": 3,
	"E": 4, "Fb": 4, "E#": 5,
	"F": 5, "F#": 6, "Gb": 6,
	"G": 7, "G#": 8, "Ab": 8,
	"A": 9, "A#": 10, "Bb": 10,
	"B": 11, "Cb": -1, "B#": 12,
}

// PitchIndex returns the chromatic index (C=0 .. B=11) of a pitch class.
func PitchIndex(name string) (int, bool) {
	idx, ok := pitchClasses[normalize(name)]
	return ((idx % 12) + 12) % 12, ok
}

// Frequency returns the equal-tempered frequency of pitch class name in
// octave. Unknown names return A4.
func Frequency(name string, octave int) float64 {
	idx, ok := pitchClasses[normalize(name)]
	if !ok {
		return A4
	}
	return A4 * math.Pow(2, float64(octave-4)+float64(idx-9)/12)
}

// ParseNote splits a note string such as "C#4" into its pitch class and
// octave. A missing octave defaults to 4.
func ParseNote(note string) (name string, octave int, ok bool) {
	note = strings.TrimSpace(note)
	if note == "" {
		return "", 0, false
	}
	split := len(note)
	for i := 1; i < len(note); i++ {
		c := note[i]
		if c == '-' || (c >= '0' && c <= '9') {
			split = i
			break
		}
	}
	name = normalize(note[:split])
	if _, known := pitchClasses[name]; !known {
		return "", 0, false
	}
	if split == len(note) {
		return name, 4, true
	}
	octave, err := strconv.Atoi(note[split:])
	if err != nil {
		return "", 0, false
	}
	return name, octave, true
}

// NoteFrequency resolves a full note string. Unparsable notes sound as A4.
func NoteFrequency(note string) float64 {
	name, octave, ok := ParseNote(note)
	if !ok {
		return A4
	}
	return Frequency(name, octave)
}

// Transpose shifts note by semitones and returns the new note string.
func Transpose(note string, semitones int) string {
	name, octave, ok := ParseNote(note)
	if !ok {
		return note
	}
	idx := pitchClasses[name] + semitones
	octave += floorDiv(idx, 12)
	idx = ((idx % 12) + 12) % 12
	return sharpNames[idx] + strconv.Itoa(octave)
}

var sharpNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	head := strings.ToUpper(name[:1])
	tail := name[1:]
	tail = strings.ReplaceAll(tail, "♯", "#")
	tail = strings.ReplaceAll(tail, "♭", "b")
	if tail == "B" {
		tail = "b"
	}
	return head + tail
}

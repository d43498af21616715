package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Sapo-biz/MusicFlow"
)

const helpText = `keys:
  space play/pause   x stop   r record   q quit
  - = bpm            , . master volume
  1-9 select track   m mute   o solo     n next pattern
  v reverb  l delay  i distortion  p filter
  a w s e d f t g y h u j k  play notes   z c  octave
  enter status       ? help
`

// pianoKeys maps the home row to semitones above C.
var pianoKeys = map[byte]int{
	'a': 0, 'w': 1, 's': 2, 'e': 3, 'd': 4, 'f': 5, 't': 6,
	'g': 7, 'y': 8, 'h': 9, 'u': 10, 'j': 11, 'k': 12,
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var effectKeys = map[byte]string{
	'v': "reverb",
	'l': "delay",
	'i': "distortion",
	'p': "filter",
}

// keyboard turns single key presses into engine calls.
type keyboard struct {
	e      *musicflow.Engine
	octave int
}

func newKeyboard(e *musicflow.Engine) *keyboard {
	return &keyboard{e: e, octave: 4}
}

// handle applies one key and returns a line to print, or errQuit.
func (k *keyboard) handle(b byte) (string, error) {
	e := k.e
	if semi, ok := pianoKeys[b]; ok {
		n := k.octave*12 + semi
		note := fmt.Sprintf("%s%d", noteNames[n%12], n/12)
		if err := e.PlayNote(note, 0.8, 0.4); err != nil {
			return "", err
		}
		if e.IsRecording() && e.State() == musicflow.Playing {
			return "rec " + note, nil
		}
		return "", nil
	}
	if name, ok := effectKeys[b]; ok {
		on, err := e.EffectEnabled(name)
		if err != nil {
			return "", err
		}
		if err := e.ToggleEffect(name, !on); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s", name, onOff(!on)), nil
	}
	switch b {
	case 'q', 0x03:
		return "", errQuit
	case ' ':
		if e.State() == musicflow.Playing {
			e.Pause()
		} else {
			e.Play()
		}
		return "", nil
	case 'x':
		e.Stop()
		return "", nil
	case 'r':
		return "record " + onOff(e.ToggleRecord()), nil
	case '-', '=':
		delta := 5.0
		if b == '-' {
			delta = -5
		}
		return fmt.Sprintf("bpm %.0f", e.SetBPM(e.BPM()+delta)), nil
	case ',', '.':
		delta := 0.05
		if b == ',' {
			delta = -0.05
		}
		return fmt.Sprintf("volume %.2f", e.SetMasterVolume(e.MasterVolume()+delta)), nil
	case 'z':
		k.octave = max(k.octave-1, 0)
		return fmt.Sprintf("octave %d", k.octave), nil
	case 'c':
		k.octave = min(k.octave+1, 8)
		return fmt.Sprintf("octave %d", k.octave), nil
	case 'm':
		muted, err := e.ToggleTrackMute(e.SelectedTrack())
		if err != nil {
			return "", err
		}
		return "mute " + onOff(muted), nil
	case 'o':
		solo, err := e.ToggleTrackSolo(e.SelectedTrack())
		if err != nil {
			return "", err
		}
		return "solo " + onOff(solo), nil
	case 'n':
		ids := e.Patterns()
		cur := e.ActivePattern()
		next := ids[0]
		for i, id := range ids {
			if id == cur {
				next = ids[(i+1)%len(ids)]
			}
		}
		if err := e.SetActivePattern(next); err != nil {
			return "", err
		}
		return "pattern " + next, nil
	case '\r', '\n':
		return k.status(), nil
	case '?':
		return strings.TrimRight(helpText, "\n"), nil
	}
	if b >= '1' && b <= '9' {
		tracks := e.Tracks()
		i := int(b - '1')
		if i >= len(tracks) {
			return fmt.Sprintf("no track %d", i+1), nil
		}
		if err := e.SelectTrack(tracks[i].ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("track %d %s (%s)", i+1, tracks[i].Name, tracks[i].Instrument), nil
	}
	return "", nil
}

// status renders the transport line and the active pattern grid.
func (k *keyboard) status() string {
	e := k.e
	var b strings.Builder
	fmt.Fprintf(&b, "%s  step %02d  %.0f BPM  pattern %s  record %s\n",
		e.State(), e.CurrentStep(), e.BPM(), e.ActivePattern(), onOff(e.IsRecording()))
	selected := e.SelectedTrack()
	for i, tr := range e.Tracks() {
		mark := ' '
		if tr.ID == selected {
			mark = '>'
		}
		fmt.Fprintf(&b, "%c%d %-8s ", mark, i+1, tr.Name)
		for step := 0; step < 16; step++ {
			st, err := e.Step(tr.ID, step)
			switch {
			case err != nil:
				b.WriteByte('?')
			case st.Active:
				b.WriteByte('x')
			default:
				b.WriteByte('.')
			}
		}
		if tr.Muted {
			b.WriteString(" M")
		}
		if tr.Solo {
			b.WriteString(" S")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// readKeys forwards bytes from r until it fails. The goroutine is left
// blocked in Read when the program exits.
func readKeys(r io.Reader) <-chan byte {
	ch := make(chan byte, 16)
	go func() {
		defer close(ch)
		buf := make([]byte, 1)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				ch <- buf[0]
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

func runKeyboard(ctx context.Context, w io.Writer, k *keyboard, keys <-chan byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-keys:
			if !ok {
				return nil
			}
			msg, err := k.handle(b)
			if err == errQuit {
				return err
			}
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			if msg != "" {
				fmt.Fprintln(w, msg)
			}
		}
	}
}

package synth

import (
	"errors"
	"math"
	"testing"

	"github.com/Sapo-biz/MusicFlow/internal/graph"
)

const testRate = 48000

// renderPool renders seconds of audio from p starting at frame 0.
func renderPool(p *Pool, seconds float64) []float32 {
	total := int(seconds * testRate)
	out := make([]float32, 0, total)
	block := make([]float32, graph.Quantum)
	for frame := int64(0); frame < int64(total); frame += graph.Quantum {
		clear(block)
		p.Render(block, frame)
		out = append(out, block...)
	}
	return out
}

func peak(buf []float32) float64 {
	var m float64
	for _, v := range buf {
		m = math.Max(m, math.Abs(float64(v)))
	}
	return m
}

func TestNewEveryKind(t *testing.T) {
	for _, k := range Kinds {
		t.Run(string(k), func(t *testing.T) {
			inst, err := New(k, testRate)
			if err != nil {
				t.Fatalf("New(%s): %v", k, err)
			}
			if inst.Kind() != k {
				t.Fatalf("Kind() = %s, want %s", inst.Kind(), k)
			}
			var p Pool
			p.Add(inst.Trigger("C4", 0.8, 0.25, 0.01))
			out := renderPool(&p, 0.3)
			if peak(out) == 0 {
				t.Fatal("expected audible output")
			}
			if peak(out[:int(0.01*testRate)-1]) != 0 {
				t.Fatal("voice sounded before its start time")
			}
		})
	}
}

func TestNewUnknownInstrument(t *testing.T) {
	if _, err := New("kazoo", testRate); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
	if _, err := ParseKind(" Piano "); err != nil {
		t.Fatalf("ParseKind: %v", err)
	}
}

func TestVoiceEndsAfterRelease(t *testing.T) {
	inst, _ := New(Bass, testRate)
	v := inst.Trigger("A2", 1, 0.1, 0)
	if got, want := v.StopTime(), 0.1+0.2; math.Abs(got-want) > 1e-3 {
		t.Fatalf("StopTime = %v, want %v", got, want)
	}
	var p Pool
	p.Add(v)
	renderPool(&p, 0.4)
	if !v.Ended() || p.Len() != 0 {
		t.Fatalf("voice should have ended and been pruned (ended=%v len=%d)", v.Ended(), p.Len())
	}
}

func TestShortNoteReleasesFromReachedLevel(t *testing.T) {
	inst, _ := New(Strings, testRate)
	v := inst.Trigger("A4", 1, 0.1, 0)
	level := v.env.ValueAt(0.1)
	peakLevel := 0.25
	if level <= 0 || level >= peakLevel {
		t.Fatalf("level at note end = %v, want inside (0, %v)", level, peakLevel)
	}
	if got := v.env.ValueAt(0.15); got >= level {
		t.Fatalf("envelope should fall after release, got %v >= %v", got, level)
	}
}

func TestReleaseCutsHeldNote(t *testing.T) {
	inst, _ := New(Piano, testRate)
	v := inst.Trigger("C4", 1, 4, 0)
	inst.Release("C4", 0.5)
	if got := v.StopTime(); math.Abs(got-1.7) > 1e-3 {
		t.Fatalf("StopTime after release = %v, want 1.7", got)
	}
}

func TestCancelPendingVoiceNeverSounds(t *testing.T) {
	inst, _ := New(Piano, testRate)
	var p Pool
	p.Add(inst.Trigger("C4", 1, 0.5, 0.05))
	if n := p.Pending(0); n != 1 {
		t.Fatalf("Pending = %d, want 1", n)
	}
	p.CancelAll(0)
	if p.Len() != 0 {
		t.Fatalf("pending voice not dropped, len=%d", p.Len())
	}
	if out := renderPool(&p, 0.2); peak(out) != 0 {
		t.Fatal("cancelled voice produced audio")
	}
}

func TestCancelSoundingVoiceFadesQuickly(t *testing.T) {
	inst, _ := New(Synth, testRate)
	var p Pool
	p.Add(inst.Trigger("C3", 1, 2, 0))
	renderPool(&p, 0.1)
	now := 0.1
	p.CancelAll(now)
	// Keep rendering from where the clock stopped.
	block := make([]float32, graph.Quantum)
	start := graph.FrameAt(now, testRate)
	var tail []float32
	for f := start; f < start+int64(0.05*testRate); f += graph.Quantum {
		clear(block)
		p.Render(block, f)
		tail = append(tail, block...)
	}
	fadeFrames := int(CancelFade*testRate) + graph.Quantum
	if peak(tail[fadeFrames:]) != 0 {
		t.Fatal("voice still audible after cancel fade")
	}
	if p.Len() != 0 {
		t.Fatalf("cancelled voice not pruned, len=%d", p.Len())
	}
}

func TestDrumMapIsDeterministic(t *testing.T) {
	a := newDrumKit(testRate)
	b := newDrumKit(testRate)
	for s := kick; s < numDrumSounds; s++ {
		if len(a.buffers[s]) == 0 {
			t.Fatalf("drum %d has no buffer", s)
		}
		for i := range a.buffers[s] {
			if a.buffers[s][i] != b.buffers[s][i] {
				t.Fatalf("drum %d differs at %d", s, i)
			}
		}
	}
	v := a.Trigger("F#2", 1, 1, 0)
	if got, want := v.StopTime(), float64(len(a.buffers[closedHat]))/testRate; math.Abs(got-want) > 1e-9 {
		t.Fatalf("hi-hat stop = %v, want %v", got, want)
	}
}

func TestDrumUnknownNoteSoundsAsA(t *testing.T) {
	k := newDrumKit(testRate)
	want := float64(len(k.buffers[tomMid])) / testRate
	for _, note := range []string{"A4", "A1", "zz", "", "H2"} {
		t.Run(note, func(t *testing.T) {
			v := k.Trigger(note, 1, 1, 0)
			if got := v.StopTime(); math.Abs(got-want) > 1e-9 {
				t.Fatalf("Trigger(%q) stop = %v, want mid tom %v", note, got, want)
			}
		})
	}
}

func BenchmarkPoolRender(b *testing.B) {
	inst, _ := New(Strings, testRate)
	var p Pool
	for i := 0; i < 16; i++ {
		p.Add(inst.Trigger("C4", 0.8, 3600, 0))
	}
	buf := make([]float32, graph.Quantum)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clear(buf)
		p.Render(buf, int64(i)*graph.Quantum)
	}
}

package lfo

import (
	"math"
	"testing"
)

func TestLFOSineShape(t *testing.T) {
	l := New(1, 1, WaveSine)
	sr := 100.0
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = l.Sample(sr)
	}
	checks := []struct {
		idx  int
		want float64
	}{
		{0, 0},
		{25, 1},
		{50, 0},
		{75, -1},
	}
	for _, c := range checks {
		if math.Abs(samples[c.idx]-c.want) > 0.01 {
			t.Errorf("sine at sample %d: got %f, want %f", c.idx, samples[c.idx], c.want)
		}
	}
}

func TestLFOTriangleShape(t *testing.T) {
	l := New(1, 1, WaveTriangle)
	sr := 100.0
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = l.Sample(sr)
	}
	if math.Abs(samples[0]+1) > 0.05 {
		t.Errorf("triangle at phase 0: got %f, want -1.0", samples[0])
	}
	if math.Abs(samples[50]-1) > 0.05 {
		t.Errorf("triangle at phase 0.5: got %f, want 1.0", samples[50])
	}
}

func TestLFOSquareShape(t *testing.T) {
	l := New(2, 1, WaveSquare)
	sr := 100.0
	if v := l.Sample(sr); math.Abs(v-2) > 0.01 {
		t.Errorf("square first half: got %f, want 2.0", v)
	}
	for i := 1; i < 50; i++ {
		l.Sample(sr)
	}
	if v := l.Sample(sr); math.Abs(v+2) > 0.01 {
		t.Errorf("square second half: got %f, want -2.0", v)
	}
}

func TestLFOInactiveReturnsZero(t *testing.T) {
	cases := map[string]*LFO{
		"zero depth": New(0, 5, WaveSine),
		"zero rate":  New(1, 0, WaveSine),
		"default":    {},
	}
	for name, l := range cases {
		t.Run(name, func(t *testing.T) {
			if l.Active() {
				t.Fatal("expected inactive LFO")
			}
			if v := l.Sample(44100); v != 0 {
				t.Fatalf("inactive LFO returned %f", v)
			}
		})
	}
}

func TestLFOUnknownWaveformFallsBackToSine(t *testing.T) {
	l := New(1, 1, 42)
	l.Sample(4)
	if v := l.Sample(4); math.Abs(v-1) > 1e-9 {
		t.Fatalf("quarter-cycle sample = %f, want 1", v)
	}
}

func TestLFOFillBounded(t *testing.T) {
	l := New(10, 5, WaveSine)
	buf := make([]float32, 48000)
	l.Fill(buf, 48000)
	for i, v := range buf {
		if v > 10.0001 || v < -10.0001 {
			t.Fatalf("sample %d exceeds depth: %f", i, v)
		}
	}
}

package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

type rampSource struct{ next float32 }

func (s *rampSource) Process(dst []float32) {
	for i := range dst {
		dst[i] = s.next
		s.next += 0.25
	}
}

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	r := NewStreamReader(&rampSource{})
	p := make([]byte, 19) // two whole frames and a partial one
	n, err := r.Read(p)
	if err != nil {
		t.Fatal(err)
	}
	if n != 16 {
		t.Fatalf("Read returned %d bytes, want 16", n)
	}
	for i := 0; i < 4; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if want := float32(i) * 0.25; got != want {
			t.Fatalf("sample %d = %v, want %v", i, got, want)
		}
	}
	if n, _ := r.Read(make([]byte, 7)); n != 0 {
		t.Fatalf("partial frame read returned %d", n)
	}
}

func TestParseBackend(t *testing.T) {
	cases := map[string]Backend{
		"":       BackendEbiten,
		"ebiten": BackendEbiten,
		" OTO ":  BackendOto,
		"none":   BackendNone,
	}
	for in, want := range cases {
		got, err := ParseBackend(in)
		if err != nil || got != want {
			t.Fatalf("ParseBackend(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseBackend("alsa"); err == nil {
		t.Fatal("expected error for alsa")
	}
}

func TestOpenNoneHasNoOutput(t *testing.T) {
	out, err := Open(BackendNone, 48000, &rampSource{})
	if err != nil || out != nil {
		t.Fatalf("Open(none) = %v, %v", out, err)
	}
	if _, err := Open(BackendNone, 0, &rampSource{}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

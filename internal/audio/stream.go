// Package audio connects a sample source to an output device.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// SampleSource fills dst with interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// Backend names an output implementation.
type Backend string

const (
	BackendEbiten Backend = "ebiten"
	BackendOto    Backend = "oto"
	// BackendNone renders nothing to a device; the owner pulls samples itself.
	BackendNone Backend = "none"
)

var ErrNoDevice = errors.New("audio output unavailable")

func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case BackendEbiten, BackendOto, BackendNone:
		return b, nil
	case "":
		return BackendEbiten, nil
	default:
		return "", fmt.Errorf("invalid audio backend %q (expected ebiten|oto|none)", name)
	}
}

// Output is a running device stream.
type Output interface {
	Play()
	Pause()
	Close() error
}

// Open starts a device stream that pulls from source. It fails with an
// error wrapping ErrNoDevice when no device can be opened.
func Open(backend Backend, sampleRate int, source SampleSource) (Output, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	switch backend {
	case BackendEbiten, "":
		return openEbiten(sampleRate, source)
	case BackendOto:
		return openOto(sampleRate, source)
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid audio backend %q", backend)
	}
}

// StreamReader adapts a SampleSource to the little-endian float32 byte
// stream both device libraries read.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i, s := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

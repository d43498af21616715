package musicflow

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// RenderProject plays a project from step 0 on an offline engine and
// returns seconds of interleaved stereo samples.
func RenderProject(p Project, seconds float64, sampleRate int, opts ...Option) ([]float32, error) {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return nil, fmt.Errorf("invalid render length %v", seconds)
	}
	opts = append(opts, WithSampleRate(sampleRate), WithOutput(OutputNone))
	e, err := New(opts...)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	if err := e.LoadProject(p); err != nil {
		return nil, err
	}
	e.Play()
	frames := int(math.Ceil(seconds * float64(sampleRate)))
	out := make([]float32, 2*frames)
	if err := e.Render(out); err != nil {
		return nil, err
	}
	return out, nil
}

// sampleStreamer feeds interleaved float32 stereo to beep.
type sampleStreamer struct {
	samples []float32
	pos     int
}

func (s *sampleStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos+1 < len(s.samples) {
		buf[n][0] = float64(s.samples[s.pos])
		buf[n][1] = float64(s.samples[s.pos+1])
		s.pos += 2
		n++
	}
	return n, n > 0
}

func (s *sampleStreamer) Err() error { return nil }

// WriteWAV encodes interleaved stereo samples as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return errors.New("sampleRate must be positive")
	}
	if len(samples)%2 != 0 {
		return errors.New("samples must be interleaved stereo")
	}
	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 2, Precision: 2}
	return wav.Encode(w, &sampleStreamer{samples: samples}, format)
}

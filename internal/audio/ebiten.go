package audio

import (
	"fmt"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

const ebitenBufferSize = 50 * time.Millisecond

var (
	ebitenOnce       sync.Once
	ebitenContext    *ebitaudio.Context
	ebitenSampleRate int
)

// The ebiten audio context is process-wide and can only be created once.
func sharedEbitenContext(sampleRate int) (*ebitaudio.Context, error) {
	ebitenOnce.Do(func() {
		ebitenSampleRate = sampleRate
		ebitenContext = ebitaudio.NewContext(sampleRate)
	})
	if ebitenSampleRate != sampleRate {
		return nil, fmt.Errorf("%w: audio context already initialized at %d Hz (requested %d Hz)", ErrNoDevice, ebitenSampleRate, sampleRate)
	}
	return ebitenContext, nil
}

type ebitenOutput struct {
	player *ebitaudio.Player
	reader *StreamReader
}

func openEbiten(sampleRate int, source SampleSource) (Output, error) {
	ctx, err := sharedEbitenContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	pl.SetBufferSize(ebitenBufferSize)
	return &ebitenOutput{player: pl, reader: reader}, nil
}

func (o *ebitenOutput) Play()  { o.player.Play() }
func (o *ebitenOutput) Pause() { o.player.Pause() }

func (o *ebitenOutput) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.reader.Close()
}

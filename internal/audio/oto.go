package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const otoBufferSize = 40 * time.Millisecond

var (
	otoOnce       sync.Once
	otoContext    *oto.Context
	otoErr        error
	otoSampleRate int
)

// oto allows a single context per process.
func sharedOtoContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		otoSampleRate = sampleRate
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
			BufferSize:   otoBufferSize,
		})
		if err != nil {
			otoErr = fmt.Errorf("%w: %v", ErrNoDevice, err)
			return
		}
		<-ready
		otoContext = ctx
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoSampleRate != sampleRate {
		return nil, fmt.Errorf("%w: audio context already initialized at %d Hz (requested %d Hz)", ErrNoDevice, otoSampleRate, sampleRate)
	}
	return otoContext, nil
}

type otoOutput struct {
	player *oto.Player
}

func openOto(sampleRate int, source SampleSource) (Output, error) {
	ctx, err := sharedOtoContext(sampleRate)
	if err != nil {
		return nil, err
	}
	return &otoOutput{player: ctx.NewPlayer(NewStreamReader(source))}, nil
}

func (o *otoOutput) Play()  { o.player.Play() }
func (o *otoOutput) Pause() { o.player.Pause() }

func (o *otoOutput) Close() error {
	o.player.Pause()
	return o.player.Close()
}

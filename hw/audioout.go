package hw

import (
	"fmt"
	"time"

	"github.com/arl/blip"
	"github.com/veandco/go-sdl2/sdl"

	"dotmat/emu/log"
)

const (
	AudioFormat   = sdl.AUDIO_S16LSB
	AudioChannels = 2
)

// AudioOutput is the consumer side of the audio barrier: it drains the
// resampler under the audio lock, signals the producer, and queues the
// interleaved PCM to an SDL device.
type AudioOutput struct {
	dev    sdl.AudioDeviceID
	gb     *GB
	sync   *Sync
	outbuf []int16
	stop   chan struct{}
}

func NewAudioOutput(gb *GB, sync *Sync) (*AudioOutput, error) {
	if err := sdl.InitSubSystem(sdl.INIT_AUDIO); err != nil {
		return nil, fmt.Errorf("sdl audio init: %w", err)
	}

	samples := gb.APU.Samples()
	want := sdl.AudioSpec{
		Freq:     96000,
		Format:   AudioFormat,
		Channels: AudioChannels,
		Samples:  uint16(samples),
	}
	var have sdl.AudioSpec
	dev, err := sdl.OpenAudioDevice("", false, &want, &have, sdl.AUDIO_ALLOW_FREQUENCY_CHANGE)
	if err != nil {
		return nil, fmt.Errorf("sdl audio device: %w", err)
	}

	// Resample straight to the device rate.
	gb.APU.Left().SetRates(Frequency, float64(have.Freq))
	gb.APU.Right().SetRates(Frequency, float64(have.Freq))

	log.ModSound.InfoZ("audio device opened").
		Int("freq", int(have.Freq)).
		Int("samples", samples).
		End()

	sdl.PauseAudioDevice(dev, false)
	return &AudioOutput{
		dev:    dev,
		gb:     gb,
		sync:   sync,
		outbuf: make([]int16, samples*2),
		stop:   make(chan struct{}),
	}, nil
}

// Run drains audio until Close. Meant to run on its own goroutine.
func (out *AudioOutput) Run() {
	for {
		select {
		case <-out.stop:
			return
		default:
		}

		out.sync.LockAudio()
		left, right := out.gb.APU.Left(), out.gb.APU.Right()
		n := left.SamplesAvailable()
		if n > len(out.outbuf)/2 {
			n = len(out.outbuf) / 2
		}
		if n > 0 {
			n = left.ReadSamples(out.outbuf, n, blip.Stereo)
			right.ReadSamples(out.outbuf[1:], n, blip.Stereo)
		}
		out.sync.ConsumeAudio()

		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		buf := int16leBytes(out.outbuf[:n*2])
		if err := sdl.QueueAudio(out.dev, buf); err != nil {
			log.ModSound.DebugZ("failed to queue audio buffer").Error("err", err).End()
		}
	}
}

func (out *AudioOutput) Close() {
	close(out.stop)
	sdl.CloseAudioDevice(out.dev)
}

func int16leBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(uint16(s) >> 8)
	}
	return buf
}

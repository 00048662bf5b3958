package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/vango-go/vai-livetranslate/pkg/core/live"
)

// At 24kHz mono 16-bit, 4800 bytes is 100ms of output.
const speakerBufferBytes = 4800

// audioDevices owns the microphone and the speaker.
type audioDevices struct {
	malgoCtx *malgo.AllocatedContext
	mic      *malgo.Device
	otoCtx   *oto.Context
	speaker  *oto.Player
	logger   *slog.Logger

	dropped atomic.Int64

	closeOnce sync.Once
}

// openAudio starts capture into push and plays playback, which must be a
// PCM16LE mono stream at live.OutputSampleRate. Reading playback is what
// advances the engine's output clock.
func openAudio(push func([]float32) bool, playback io.Reader, logger *slog.Logger) (io.Closer, error) {
	if push == nil || playback == nil {
		return nil, fmt.Errorf("capture sink and playback reader are required")
	}
	d := &audioDevices{logger: logger}

	malgoConfig := malgo.ContextConfig{}
	malgoConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, malgoConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	d.malgoCtx = malgoCtx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = live.InputSampleRate
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if !push(decodeF32LE(input)) {
				d.dropped.Add(1)
			}
		},
	}
	mic, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	d.mic = mic
	if err := mic.Start(); err != nil {
		d.Close()
		return nil, fmt.Errorf("start microphone: %w", err)
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   live.OutputSampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   speakerBufferBytes,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	d.otoCtx = otoCtx
	d.speaker = otoCtx.NewPlayer(playback)
	d.speaker.Play()

	return d, nil
}

func (d *audioDevices) Close() error {
	d.closeOnce.Do(func() {
		if d.mic != nil {
			_ = d.mic.Stop()
			d.mic.Uninit()
		}
		if d.speaker != nil {
			if err := d.speaker.Close(); err != nil {
				d.logger.Debug("close speaker", "error", err)
			}
		}
		if d.malgoCtx != nil {
			_ = d.malgoCtx.Uninit()
			d.malgoCtx.Free()
		}
		if n := d.dropped.Load(); n > 0 {
			d.logger.Info("capture frames dropped", "count", n)
		}
	})
	return nil
}

// decodeF32LE converts interleaved little-endian float32 bytes to samples.
func decodeF32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

//go:build cgo

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

type micSource struct {
	*Stream
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	once   sync.Once
}

func (o *MicOpener) Open(_ context.Context, f Format) (Source, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug().Str("backend", "malgo").Msg(message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(o.period())
	cfg.Alsa.NoMMap = 1

	stream := NewStream(o.maxBuffered(f), o.IdleTimeout)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			// device thread; Push copies
			_ = stream.Push(input)
		},
	}
	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	o.Logger.Info().
		Int("sample_rate", f.SampleRate).
		Int("channels", f.Channels).
		Int("period_ms", o.period()).
		Msg("microphone opened")
	return &micSource{Stream: stream, mctx: mctx, device: device}, nil
}

func (m *micSource) Close() error {
	var err error
	m.once.Do(func() {
		if stopErr := m.device.Stop(); stopErr != nil {
			err = fmt.Errorf("stop capture device: %w", stopErr)
		}
		m.device.Uninit()
		_ = m.Stream.Close()
		if uerr := m.mctx.Uninit(); uerr != nil && err == nil {
			err = fmt.Errorf("uninit audio context: %w", uerr)
		}
		m.mctx.Free()
	})
	return err
}

package audio

import (
	"context"
	"errors"
	"fmt"
)

const (
	// DefaultSampleRate is the rate whisper models expect.
	DefaultSampleRate = 16000
	// BytesPerSample for PCM16.
	BytesPerSample = 2
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("audio: source closed")

// ErrUnsupported is returned by openers whose backend was not compiled in.
var ErrUnsupported = errors.New("audio: backend unsupported in this build")

// Format describes the PCM stream a Source produces.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is 16 kHz mono PCM16.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: 1, BitsPerSample: 16}
}

// Validate rejects formats no backend can capture.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("audio: invalid channel count %d", f.Channels)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("audio: unsupported bits per sample %d", f.BitsPerSample)
	}
	return nil
}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BytesFor returns the byte size of ms milliseconds of audio, frame aligned.
func (f Format) BytesFor(ms int) int {
	frame := f.Channels * f.BitsPerSample / 8
	if frame <= 0 {
		return 0
	}
	frames := f.SampleRate * ms / 1000
	return frames * frame
}

// Source is an open PCM stream.
type Source interface {
	// Read blocks until buf holds data, the device is closed, or ctx is done.
	// A zero count with a nil error is a transient empty read.
	Read(ctx context.Context, buf []byte) (int, error)
	// Close stops the stream and releases the device. Safe to call twice.
	Close() error
}

// Opener opens sources of a given backend.
type Opener interface {
	Open(ctx context.Context, f Format) (Source, error)
	// MinBufferSize is the smallest read buffer, in bytes, the backend accepts for f.
	MinBufferSize(f Format) (int, error)
}

package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FileOpener replays a WAV file as a capture source, converted to the requested format.
type FileOpener struct {
	Path string
	// ChunkMillis sizes a single read.
	ChunkMillis int
	// Realtime paces reads at the audio's natural rate.
	Realtime bool
}

func (o *FileOpener) MinBufferSize(f Format) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	ms := o.ChunkMillis
	if ms <= 0 {
		ms = 1000
	}
	return f.BytesFor(ms), nil
}

func (o *FileOpener) Open(_ context.Context, f Format) (Source, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Channels != 1 {
		return nil, fmt.Errorf("audio: file source only produces mono, got %d channels", f.Channels)
	}
	fh, err := os.Open(o.Path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer fh.Close()
	samples, sr, err := DecodeWAV(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", o.Path, err)
	}
	if sr != f.SampleRate {
		samples = ResampleLinear(samples, sr, f.SampleRate)
	}
	return &pcmSource{data: EncodeFloat32ToPCM16LE(samples), format: f, realtime: o.Realtime}, nil
}

// pcmSource serves an in-memory PCM16 buffer and ends with io.EOF.
type pcmSource struct {
	mu       sync.Mutex
	data     []byte
	pos      int
	closed   bool
	format   Format
	realtime bool
}

// NewPCMSource wraps PCM16 bytes as a Source.
func NewPCMSource(pcm []byte, f Format) Source {
	return &pcmSource{data: pcm, format: f}
}

func (s *pcmSource) Read(ctx context.Context, buf []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if s.pos >= len(s.data) {
		s.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(buf, s.data[s.pos:])
	s.pos += n
	s.mu.Unlock()

	if s.realtime {
		bps := s.format.BytesPerSecond()
		if bps > 0 {
			d := time.Duration(n) * time.Second / time.Duration(bps)
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return n, nil
			case <-t.C:
			}
		}
	}
	return n, nil
}

func (s *pcmSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

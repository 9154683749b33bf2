package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultIdleTimeout bounds how long a Read waits for new data before returning a short read.
const DefaultIdleTimeout = 250 * time.Millisecond

// ErrNoStream is returned when audio is pushed while no stream is open.
var ErrNoStream = errors.New("audio: no open stream")

// pipe is a bounded byte queue between a producer (device callback, network
// session) and the blocking Read of a capture loop.
type pipe struct {
	mu     sync.Mutex
	buf    []byte
	max    int
	eof    bool
	closed bool

	notify  chan struct{}
	idle    time.Duration
	dropped atomic.Int64
}

func newPipe(maxBytes int, idle time.Duration) *pipe {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &pipe{max: maxBytes, idle: idle, notify: make(chan struct{}, 1)}
}

func (p *pipe) write(b []byte) error {
	p.mu.Lock()
	if p.closed || p.eof {
		p.mu.Unlock()
		return ErrClosed
	}
	p.buf = append(p.buf, b...)
	if p.max > 0 && len(p.buf) > p.max {
		// keep the freshest audio
		over := len(p.buf) - p.max
		over += over % 2
		if over > len(p.buf) {
			over = len(p.buf)
		}
		p.buf = append(p.buf[:0], p.buf[over:]...)
		p.dropped.Add(int64(over))
	}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// take copies up to len(out) bytes. Caller holds mu.
func (p *pipe) take(out []byte) int {
	n := copy(out, p.buf)
	p.buf = append(p.buf[:0], p.buf[n:]...)
	return n
}

func (p *pipe) read(ctx context.Context, out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrClosed
		}
		if len(p.buf) >= len(out) || (p.eof && len(p.buf) > 0) {
			n := p.take(out)
			p.mu.Unlock()
			return n, nil
		}
		if p.eof {
			p.mu.Unlock()
			return 0, io.EOF
		}
		p.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(p.idle)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.notify:
		case <-timer.C:
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.closed {
				return 0, ErrClosed
			}
			return p.take(out), nil
		}
	}
}

// endWrite marks the producer finished; buffered bytes are still readable.
func (p *pipe) endWrite() {
	p.mu.Lock()
	p.eof = true
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *pipe) close() {
	p.mu.Lock()
	p.closed = true
	p.buf = nil
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Stream is a Source fed by Push, used for audio arriving over the network.
type Stream struct {
	p *pipe
}

// NewStream returns an open stream buffering at most maxBytes (0 means unbounded).
func NewStream(maxBytes int, idle time.Duration) *Stream {
	return &Stream{p: newPipe(maxBytes, idle)}
}

// Push appends PCM16 bytes to the stream.
func (s *Stream) Push(b []byte) error { return s.p.write(b) }

// End signals that no more audio will be pushed. Reads drain the buffer then return io.EOF.
func (s *Stream) End() { s.p.endWrite() }

// Dropped reports the bytes discarded because the reader fell behind.
func (s *Stream) Dropped() int64 { return s.p.dropped.Load() }

func (s *Stream) Read(ctx context.Context, buf []byte) (int, error) { return s.p.read(ctx, buf) }

func (s *Stream) Close() error {
	s.p.close()
	return nil
}

// StreamOpener hands out a fresh Stream on every Open and routes Push to the latest one.
type StreamOpener struct {
	// BufferMillis sizes a single read.
	BufferMillis int
	// MaxBufferedMillis caps queued audio; older bytes are dropped past it. 0 keeps the whole backlog.
	MaxBufferedMillis int
	IdleTimeout       time.Duration

	mu  sync.Mutex
	cur *Stream
	fmt Format
}

func (o *StreamOpener) Open(_ context.Context, f Format) (Source, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	maxBytes := 0
	if o.MaxBufferedMillis > 0 {
		maxBytes = f.BytesFor(o.MaxBufferedMillis)
	}
	s := NewStream(maxBytes, o.IdleTimeout)

	o.mu.Lock()
	if o.cur != nil {
		_ = o.cur.Close()
	}
	o.cur = s
	o.fmt = f
	o.mu.Unlock()
	return s, nil
}

func (o *StreamOpener) MinBufferSize(f Format) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	ms := o.BufferMillis
	if ms <= 0 {
		ms = 1000
	}
	return f.BytesFor(ms), nil
}

// Push forwards audio to the most recently opened stream.
func (o *StreamOpener) Push(b []byte) error {
	o.mu.Lock()
	s := o.cur
	o.mu.Unlock()
	if s == nil {
		return ErrNoStream
	}
	return s.Push(b)
}

// End ends the most recently opened stream.
func (o *StreamOpener) End() {
	o.mu.Lock()
	s := o.cur
	o.mu.Unlock()
	if s != nil {
		s.End()
	}
}

// Format returns the format of the current stream.
func (o *StreamOpener) Format() Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fmt.SampleRate == 0 {
		return DefaultFormat()
	}
	return o.fmt
}

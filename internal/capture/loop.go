package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/language"
	"github.com/obiente/translate/livescribe/internal/whisper"
)

// Chunk is one read's worth of PCM16 audio, copied out of the read buffer.
type Chunk []byte

// Fragment is the text produced for one chunk.
type Fragment struct {
	Seq      uint64
	Text     string
	Language string // language the engine decoded with
	Bytes    int    // size of the source chunk
	At       time.Time
}

// ModelPathProvider resolves the model file handed to Engine.Initialize.
type ModelPathProvider interface {
	ModelPath(ctx context.Context) (string, error)
}

// ModelPathFunc adapts a function to ModelPathProvider.
type ModelPathFunc func(ctx context.Context) (string, error)

func (f ModelPathFunc) ModelPath(ctx context.Context) (string, error) { return f(ctx) }

// Recorder observes the loop. Implementations must be cheap and non-blocking.
type Recorder interface {
	ChunkRead(bytes int)
	ChunkDropped()
	ChunkTranscribed(d time.Duration, err error)
	FragmentDelivered()
	StateChanged(s CaptureState)
}

type nopRecorder struct{}

func (nopRecorder) ChunkRead(int) {}

func (nopRecorder) ChunkDropped() {}

func (nopRecorder) ChunkTranscribed(time.Duration, error) {}

func (nopRecorder) FragmentDelivered() {}

func (nopRecorder) StateChanged(CaptureState) {}

type Options struct {
	Format   audio.Format
	Cycle    language.Cycle
	Language string // initial language, defaults to the first code of Cycle
	Logger   zerolog.Logger
	Recorder Recorder
	// OnTerminal is called once per session when its goroutine exits.
	// err is nil for a requested stop or the end of a finite source.
	OnTerminal func(err error)
	Clock      func() time.Time
}

// Loop reads chunks from an audio source and feeds them to an engine, one at a time.
type Loop struct {
	engine whisper.Engine
	opener audio.Opener
	opts   Options
	log    zerolog.Logger
	rec    Recorder

	state State
	seq   atomic.Uint64

	initMu sync.Mutex // at most one Initialize in flight

	langMu   sync.Mutex
	language string

	startMu sync.Mutex
	runMu   sync.Mutex
	done    chan struct{} // closed when the current session goroutine exits
	cancel  context.CancelFunc
	lastErr error
}

func New(engine whisper.Engine, opener audio.Opener, opts Options) *Loop {
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.DefaultFormat()
	}
	if len(opts.Cycle.Codes()) == 0 {
		opts.Cycle = language.MustCycle(language.DefaultCodes...)
	}
	lang := language.Normalize(opts.Language)
	if !opts.Cycle.Contains(lang) {
		lang = opts.Cycle.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Loop{
		engine:   engine,
		opener:   opener,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "capture").Logger(),
		rec:      opts.Recorder,
		language: lang,
	}
}

func (l *Loop) State() CaptureState { return l.state.Capture() }

func (l *Loop) Ready() bool { return l.state.Ready() }

func (l *Loop) Language() string {
	l.langMu.Lock()
	defer l.langMu.Unlock()
	return l.language
}

// Languages returns the toggle cycle.
func (l *Loop) Languages() language.Cycle { return l.opts.Cycle }

// Err returns the error that ended the last session, if any.
func (l *Loop) Err() error {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.lastErr
}

// EnsureReady initializes the engine once. It is a no-op returning true when
// the engine is already ready; a failure leaves readiness false so it may be retried.
func (l *Loop) EnsureReady(ctx context.Context, provider ModelPathProvider) (bool, error) {
	if l.state.Ready() {
		return true, nil
	}
	l.initMu.Lock()
	defer l.initMu.Unlock()
	if l.state.Ready() {
		return true, nil
	}

	path, err := provider.ModelPath(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("model path unavailable")
		return false, fmt.Errorf("%w: model path: %w", ErrEngineInit, err)
	}
	lang := l.Language()
	started := l.opts.Clock()
	if err := l.engine.Initialize(path, lang); err != nil {
		l.log.Error().Err(err).Str("model", path).Str("language", lang).Msg("engine initialization failed")
		return false, fmt.Errorf("%w: %w", ErrEngineInit, err)
	}

	l.langMu.Lock()
	l.state.setReady(true)
	if l.language != lang {
		// toggled while Initialize was running
		l.engine.SetLanguage(l.language)
	}
	l.langMu.Unlock()

	l.log.Info().
		Str("model", path).
		Str("language", lang).
		Dur("took", l.opts.Clock().Sub(started)).
		Msg("engine ready")
	return true, nil
}

// SetLanguage records lang and, once the engine is ready, forwards it before returning
// so the very next chunk is decoded with it.
func (l *Loop) SetLanguage(lang string) error {
	code := language.Normalize(lang)
	if !l.opts.Cycle.Contains(code) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	l.langMu.Lock()
	defer l.langMu.Unlock()
	l.language = code
	if l.state.Ready() {
		l.engine.SetLanguage(code)
	}
	l.log.Debug().Str("language", code).Bool("ready", l.state.Ready()).Msg("language set")
	return nil
}

// ToggleLanguage moves to the next language of the cycle and returns it.
func (l *Loop) ToggleLanguage() (string, error) {
	next := l.opts.Cycle.Next(l.Language())
	if err := l.SetLanguage(next); err != nil {
		return "", err
	}
	return next, nil
}

// Start opens the audio source and runs the read-dispatch cycle on its own goroutine.
// It is a no-op while already capturing. ctx bounds waiting for a previous session
// to drain and opening the source; the session itself outlives it.
func (l *Loop) Start(ctx context.Context, onResult func(Fragment)) error {
	l.startMu.Lock()
	defer l.startMu.Unlock()

	if l.state.Capture() == Capturing {
		return nil
	}
	// a stopped session may still be finishing its last chunk
	if err := l.wait(ctx); err != nil {
		return err
	}
	if !l.state.tryStart() {
		return nil
	}

	size, err := l.opener.MinBufferSize(l.opts.Format)
	if err != nil {
		l.state.stop()
		derr := &DeviceError{Op: "buffer", Err: err}
		l.runMu.Lock()
		l.lastErr = derr
		l.runMu.Unlock()
		return derr
	}
	src, err := l.opener.Open(ctx, l.opts.Format)
	if err != nil {
		l.state.stop()
		l.log.Error().Err(err).Msg("audio source open failed")
		derr := &DeviceError{Op: "open", Err: err}
		l.runMu.Lock()
		l.lastErr = derr
		l.runMu.Unlock()
		return derr
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	l.runMu.Lock()
	l.done = done
	l.cancel = cancel
	l.lastErr = nil
	l.runMu.Unlock()

	l.rec.StateChanged(Capturing)
	l.log.Info().
		Int("buffer_bytes", size).
		Int("sample_rate", l.opts.Format.SampleRate).
		Str("language", l.Language()).
		Bool("ready", l.state.Ready()).
		Msg("capture started")

	if onResult == nil {
		onResult = func(Fragment) {}
	}
	go l.run(runCtx, cancel, src, make([]byte, size), onResult, done)
	return nil
}

// Stop requests the loop to end after the current cycle. The chunk being
// transcribed, if any, is still delivered.
func (l *Loop) Stop() {
	if l.state.stop() {
		l.log.Info().Msg("capture stop requested")
	}
}

// Wait blocks until the current session goroutine has exited or ctx is done.
func (l *Loop) Wait(ctx context.Context) error { return l.wait(ctx) }

func (l *Loop) wait(ctx context.Context) error {
	l.runMu.Lock()
	done := l.done
	l.runMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops capture, waits for the session to end and releases the engine.
// Readiness is reset, so EnsureReady will initialize again.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.Stop()
	err := l.wait(ctx)
	if err != nil {
		// unblock a read that never returns
		l.runMu.Lock()
		if l.cancel != nil {
			l.cancel()
		}
		l.runMu.Unlock()
	}
	l.initMu.Lock()
	l.engine.Shutdown()
	l.state.setReady(false)
	l.initMu.Unlock()
	return err
}

func (l *Loop) run(ctx context.Context, cancel context.CancelFunc, src audio.Source, buf []byte, onResult func(Fragment), done chan struct{}) {
	defer close(done)
	defer cancel()

	err := l.cycle(ctx, src, buf, onResult)
	if cerr := src.Close(); cerr != nil {
		l.log.Warn().Err(cerr).Msg("audio source close failed")
	}
	l.flush(onResult)

	switch {
	case err == nil:
		l.log.Info().Msg("capture stopped")
	case errors.Is(err, io.EOF):
		l.log.Info().Msg("audio source ended")
		err = nil
	case errors.Is(err, context.Canceled):
		l.log.Info().Msg("capture cancelled")
		err = nil
	default:
		err = &DeviceError{Op: "read", Err: err}
		l.log.Error().Err(err).Msg("capture ended by device error")
	}
	l.state.stop()

	l.runMu.Lock()
	l.lastErr = err
	l.runMu.Unlock()

	l.rec.StateChanged(Idle)
	if l.opts.OnTerminal != nil {
		l.opts.OnTerminal(err)
	}
}

// lossySource is a source that discards audio once its backlog passes a cap.
type lossySource interface {
	Dropped() int64
}

func (l *Loop) cycle(ctx context.Context, src audio.Source, buf []byte, onResult func(Fragment)) error {
	lossy, _ := src.(lossySource)
	var dropped int64
	for l.state.Capture() == Capturing {
		n, err := src.Read(ctx, buf)
		if err != nil {
			return err
		}
		if lossy != nil {
			if d := lossy.Dropped(); d > dropped {
				l.rec.ChunkDropped()
				l.log.Warn().Int64("bytes", d-dropped).Msg("audio backlog over cap, oldest audio dropped")
				dropped = d
			}
		}
		if n <= 0 {
			continue
		}
		l.rec.ChunkRead(n)
		if !l.state.Ready() {
			l.rec.ChunkDropped()
			continue
		}
		chunk := make(Chunk, n)
		copy(chunk, buf[:n])
		l.dispatch(chunk, onResult)
	}
	return nil
}

func (l *Loop) dispatch(chunk Chunk, onResult func(Fragment)) {
	lang := l.Language()
	started := l.opts.Clock()
	text, err := l.engine.TranscribeChunk(chunk)
	l.rec.ChunkTranscribed(l.opts.Clock().Sub(started), err)
	if err != nil {
		l.log.Warn().Err(fmt.Errorf("%w: %w", ErrTranscribe, err)).Int("bytes", len(chunk)).Msg("chunk skipped")
		return
	}
	l.deliver(text, lang, len(chunk), onResult)
}

// flush decodes audio the engine still buffers so it lands in the session it was captured in.
func (l *Loop) flush(onResult func(Fragment)) {
	f, ok := l.engine.(whisper.Flusher)
	if !ok || !l.state.Ready() {
		return
	}
	lang := l.Language()
	started := l.opts.Clock()
	text, err := f.Flush()
	if err != nil {
		l.rec.ChunkTranscribed(l.opts.Clock().Sub(started), err)
		l.log.Warn().Err(fmt.Errorf("%w: %w", ErrTranscribe, err)).Msg("buffered audio skipped")
		return
	}
	l.deliver(text, lang, 0, onResult)
}

func (l *Loop) deliver(text, lang string, n int, onResult func(Fragment)) {
	if strings.TrimSpace(text) == "" {
		return
	}
	onResult(Fragment{
		Seq:      l.seq.Add(1),
		Text:     text,
		Language: lang,
		Bytes:    n,
		At:       l.opts.Clock(),
	})
	l.rec.FragmentDelivered()
}

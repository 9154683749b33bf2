//go:build whisper_cpp

package whisper

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/obiente/translate/livescribe/internal/audio"
)

func NativeAvailable() bool { return true }

// EngineCPP is the whisper.cpp-backed Engine.
type EngineCPP struct {
	opts    NativeOptions
	threads uint
	win     *window

	inferMu sync.Mutex // serialises model access; whisper.cpp contexts are not reentrant
	model   whisperpkg.Model
	path    string

	langMu   sync.Mutex
	language string
}

func NewNativeEngine(opts NativeOptions) (Engine, error) {
	threads := uint(runtime.NumCPU())
	if opts.Threads > 0 {
		threads = uint(opts.Threads)
	}
	f := audio.DefaultFormat()
	return &EngineCPP{
		opts:     opts,
		threads:  threads,
		win:      newWindow(f.BytesFor(opts.StepMillis), f.BytesFor(opts.MaxWindowMillis)),
		language: "auto",
	}, nil
}

func (e *EngineCPP) Initialize(modelPath, language string) error {
	e.SetLanguage(language)

	e.inferMu.Lock()
	defer e.inferMu.Unlock()
	if e.model != nil && e.path == modelPath {
		return nil
	}
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("%w: %s", ErrModelMissing, modelPath)
	}
	m, err := whisperpkg.New(modelPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if e.model != nil {
		_ = e.model.Close()
	}
	e.model = m
	e.path = modelPath
	e.win.reset()
	e.opts.Logger.Info().
		Str("model", modelPath).
		Uint("threads", e.threads).
		Int("step_ms", e.opts.StepMillis).
		Bool("multilingual", m.IsMultilingual()).
		Msg("whisper: model loaded")
	return nil
}

func (e *EngineCPP) SetLanguage(lang string) {
	lang = normaliseLanguage(lang)
	e.langMu.Lock()
	e.language = lang
	e.langMu.Unlock()
	e.opts.Logger.Debug().Str("language", lang).Msg("whisper: language configured")
}

func (e *EngineCPP) currentLanguage() string {
	e.langMu.Lock()
	defer e.langMu.Unlock()
	return e.language
}

func (e *EngineCPP) TranscribeChunk(pcm16 []byte) (string, error) {
	batch := e.win.push(pcm16)
	if len(batch) == 0 {
		e.inferMu.Lock()
		loaded := e.model != nil
		e.inferMu.Unlock()
		if !loaded {
			return "", ErrNotInitialized
		}
		return "", nil
	}
	return e.decode(batch, true)
}

// Flush decodes the audio still held in the window.
func (e *EngineCPP) Flush() (string, error) {
	return e.decode(e.win.flush(), false)
}

func (e *EngineCPP) decode(batch []byte, requireModel bool) (string, error) {
	if len(batch) == 0 {
		return "", nil
	}
	samples, _, err := audio.DecodePCM16LEToFloat32(batch, audio.DefaultSampleRate)
	if err != nil {
		return "", err
	}

	e.inferMu.Lock()
	defer e.inferMu.Unlock()
	if e.model == nil {
		if requireModel {
			return "", ErrNotInitialized
		}
		return "", nil
	}
	// under ~100ms whisper hallucinates
	if len(samples) < audio.DefaultSampleRate/10 {
		return "", nil
	}

	ctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	lang := e.currentLanguage()
	ctx.SetThreads(e.threads)
	if err := ctx.SetLanguage(lang); err != nil {
		e.opts.Logger.Warn().Err(err).Str("language", lang).Msg("whisper: unsupported language, using auto")
		_ = ctx.SetLanguage("auto")
	}
	ctx.SetTranslate(false)
	ctx.SetSplitOnWord(true)
	ctx.SetMaxSegmentLength(0)
	ctx.SetMaxTokensPerSegment(0)

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		e.opts.Logger.Error().Err(err).Int("samples", len(samples)).Msg("whisper: process failed")
		return "", fmt.Errorf("process audio: %w", err)
	}

	var segments []string
	for {
		seg, err := ctx.NextSegment()
		if err != nil {
			if err != io.EOF {
				e.opts.Logger.Warn().Err(err).Msg("whisper: error reading segment")
			}
			break
		}
		segments = append(segments, seg.Text)
	}
	text := joinSegments(segments)

	e.opts.Logger.Debug().
		Str("text", text).
		Str("lang", lang).
		Int("segments", len(segments)).
		Int("samples", len(samples)).
		Msg("whisper: transcription complete")
	return text, nil
}

func (e *EngineCPP) Shutdown() {
	e.inferMu.Lock()
	defer e.inferMu.Unlock()
	if e.model != nil {
		_ = e.model.Close()
		e.model = nil
		e.path = ""
	}
	e.win.reset()
}

package whisper

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// StubEngine never invokes a model. It validates the model path like a real
// engine and optionally emits placeholder text so the pipeline can be exercised.
type StubEngine struct {
	Placeholder bool

	log zerolog.Logger

	mu       sync.Mutex
	ready    bool
	language string
	bytes    int
}

func NewStubEngine(logger zerolog.Logger, placeholder bool) *StubEngine {
	return &StubEngine{
		Placeholder: placeholder,
		log:         logger.With().Str("component", "whisper.stub").Logger(),
	}
}

func (e *StubEngine) Initialize(modelPath, language string) error {
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("%w: %s", ErrModelMissing, modelPath)
		}
	}
	e.mu.Lock()
	e.ready = true
	e.language = normaliseLanguage(language)
	e.mu.Unlock()
	e.log.Warn().Str("model", modelPath).Msg("stub engine initialized; no speech will be recognised")
	return nil
}

func (e *StubEngine) SetLanguage(lang string) {
	e.mu.Lock()
	e.language = normaliseLanguage(lang)
	e.mu.Unlock()
}

func (e *StubEngine) TranscribeChunk(pcm16 []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return "", ErrNotInitialized
	}
	e.bytes += len(pcm16)
	if !e.Placeholder || len(pcm16) == 0 {
		return "", nil
	}
	ms := len(pcm16) * 1000 / (16000 * 2)
	return fmt.Sprintf("[stub:%s] %dms", e.language, ms), nil
}

func (e *StubEngine) Shutdown() {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()
	e.log.Debug().Int("total_bytes", e.bytes).Msg("stub engine shut down")
}

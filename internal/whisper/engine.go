package whisper

import "errors"

var (
	// ErrNotInitialized is returned by TranscribeChunk before a successful Initialize.
	ErrNotInitialized = errors.New("whisper: engine not initialized")
	// ErrModelMissing is returned by Initialize when the model file cannot be found.
	ErrModelMissing = errors.New("whisper: model file missing")
	// ErrNativeUnavailable indicates the binary was built without the whisper_cpp tag.
	ErrNativeUnavailable = errors.New("whisper: native backend unavailable")
)

// Engine turns PCM16 chunks into text.
// SetLanguage may be called concurrently with TranscribeChunk; implementations
// apply it no later than the next chunk.
type Engine interface {
	// Initialize loads the model. Calling it again after success is a no-op
	// apart from adopting language.
	Initialize(modelPath, language string) error
	// SetLanguage changes the recognition language ("auto" allowed).
	SetLanguage(lang string)
	// TranscribeChunk decodes little-endian mono PCM16 at 16 kHz. An empty
	// string means nothing was recognised, or not enough audio has accumulated yet.
	TranscribeChunk(pcm16 []byte) (string, error)
	// Shutdown releases the model. The engine may be initialized again afterwards.
	Shutdown()
}

// Flusher is implemented by engines that hold audio back until enough has
// accumulated. Flush decodes whatever is buffered and empties the buffer.
type Flusher interface {
	Flush() (string, error)
}

func normaliseLanguage(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}

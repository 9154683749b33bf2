package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the microphone may not be used; capture never starts.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrDevice marks open/read failures of the audio source. They end the session.
	ErrDevice = errors.New("capture: audio device error")
	// ErrEngineInit means the engine did not load its model; readiness stays false.
	ErrEngineInit = errors.New("capture: engine initialization failed")
	// ErrTranscribe marks a single chunk that produced no text. Never fatal.
	ErrTranscribe = errors.New("capture: transcription failed")
	// ErrUnsupportedLanguage is returned by SetLanguage for codes outside the cycle.
	ErrUnsupportedLanguage = errors.New("capture: unsupported language")
)

// DeviceError wraps an audio source failure with the operation that failed.
type DeviceError struct {
	Op  string // "open", "read", "buffer"
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture: audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool { return target == ErrDevice }

package whisper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Backend names accepted by New.
const (
	BackendNative = "whispercpp"
	BackendExec   = "exec"
	BackendStub   = "stub"
)

// NativeOptions tunes the model-backed engines.
type NativeOptions struct {
	Threads int
	// StepMillis batches chunks until this much audio is buffered; 0 decodes every chunk.
	StepMillis      int
	MaxWindowMillis int
	Timeout         time.Duration
	Logger          zerolog.Logger
}

// Options selects and configures an engine.
type Options struct {
	Backend string
	Command string // exec backend only
	// FallbackToStub swaps in a StubEngine when the native backend is not compiled in.
	FallbackToStub bool
	Placeholder    bool
	NativeOptions
}

// New builds the engine named by opts.Backend.
func New(opts Options) (Engine, error) {
	logger := opts.Logger
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendStub:
		logger.Warn().Msg("stub engine forced by configuration")
		return NewStubEngine(logger, opts.Placeholder), nil
	case BackendExec:
		return NewExecEngine(opts.Command, opts.NativeOptions)
	case BackendNative, "native", "":
		eng, err := NewNativeEngine(opts.NativeOptions)
		if err == nil {
			return eng, nil
		}
		if errors.Is(err, ErrNativeUnavailable) && opts.FallbackToStub {
			logger.Warn().Msg("native backend disabled at build time; using stub engine")
			return NewStubEngine(logger, opts.Placeholder), nil
		}
		return nil, err
	default:
		return nil, fmt.Errorf("whisper: unknown backend %q", opts.Backend)
	}
}

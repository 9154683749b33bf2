package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
)

// ExecEngine shells out to an external recogniser (for example whisper.cpp's
// whisper-cli). Each batch is written to a temporary WAV file and passed as
// --audio <file> --model <path> --language <code>. Stdout is either a JSON
// object with a "text" field or plain text.
type ExecEngine struct {
	cmd     []string
	timeout time.Duration
	win     *window
	log     zerolog.Logger

	mu        sync.Mutex // one command at a time
	modelPath string
	ready     bool

	langMu   sync.Mutex
	language string
}

type execResult struct {
	Text string `json:"text"`
}

func NewExecEngine(command string, opts NativeOptions) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse whisper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("whisper command is empty")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	f := audio.DefaultFormat()
	return &ExecEngine{
		cmd:      args,
		timeout:  timeout,
		win:      newWindow(f.BytesFor(opts.StepMillis), f.BytesFor(opts.MaxWindowMillis)),
		log:      opts.Logger.With().Str("component", "whisper.exec").Logger(),
		language: "auto",
	}, nil
}

func (e *ExecEngine) Initialize(modelPath, language string) error {
	e.SetLanguage(language)
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fmt.Errorf("whisper command %q: %w", e.cmd[0], err)
	}
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("%w: %s", ErrModelMissing, modelPath)
		}
	}
	e.mu.Lock()
	e.modelPath = modelPath
	e.ready = true
	e.mu.Unlock()
	e.log.Info().Strs("command", e.cmd).Str("model", modelPath).Msg("exec engine ready")
	return nil
}

func (e *ExecEngine) SetLanguage(lang string) {
	e.langMu.Lock()
	e.language = normaliseLanguage(lang)
	e.langMu.Unlock()
}

func (e *ExecEngine) TranscribeChunk(pcm16 []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return "", ErrNotInitialized
	}
	return e.decode(e.win.push(pcm16))
}

// Flush decodes the audio still held in the window.
func (e *ExecEngine) Flush() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch := e.win.flush()
	if !e.ready {
		return "", nil
	}
	return e.decode(batch)
}

// decode runs the command over batch. Caller holds mu.
func (e *ExecEngine) decode(batch []byte) (string, error) {
	if len(batch) == 0 {
		return "", nil
	}

	file, err := os.CreateTemp("", "livescribe_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()
	if err := audio.WritePCM16WAV(file, batch, audio.DefaultSampleRate, 1); err != nil {
		return "", err
	}

	e.langMu.Lock()
	lang := e.language
	e.langMu.Unlock()

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if e.modelPath != "" {
		args = append(args, "--model", e.modelPath)
	}
	args = append(args, "--language", lang)

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("whisper command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseExecOutput(stdout.Bytes())
}

func parseExecOutput(out []byte) (string, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return "", nil
	}
	if trimmed[0] == '{' {
		var resp execResult
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return "", fmt.Errorf("decode whisper response: %w", err)
		}
		return cleanSegment(resp.Text), nil
	}
	return joinSegments(strings.Split(string(trimmed), "\n")), nil
}

func (e *ExecEngine) Shutdown() {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()
	e.win.reset()
}

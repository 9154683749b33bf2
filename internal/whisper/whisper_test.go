package whisper

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestWindowAccumulatesUntilStep(t *testing.T) {
	w := newWindow(8, 0)
	if got := w.push([]byte{1, 2, 3, 4}); got != nil {
		t.Fatalf("expected nil while accumulating, got %v", got)
	}
	got := w.push([]byte{5, 6, 7, 8, 9, 10})
	if len(got) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(got))
	}
	if w.flush() != nil {
		t.Fatal("expected empty window after batch")
	}
}

func TestWindowZeroStepPassesThrough(t *testing.T) {
	w := newWindow(0, 4)
	got := w.push([]byte{1, 2, 3, 4, 5, 6})
	if len(got) != 4 || got[0] != 3 {
		t.Fatalf("expected last 4 bytes, got %v", got)
	}
}

func TestCleanSegmentDropsAnnotations(t *testing.T) {
	cases := map[string]string{
		"[BLANK_AUDIO]":          "",
		" hello  world ":         "hello world",
		"(silence) hola [MUSIC]": "hola",
		"[Risas] ok":             "[Risas] ok",
	}
	for in, want := range cases {
		if got := cleanSegment(in); got != want {
			t.Errorf("cleanSegment(%q) = %q, want %q", in, got, want)
		}
	}
	if got := joinSegments([]string{" one", "[BLANK_AUDIO]", "two "}); got != "one two" {
		t.Fatalf("joinSegments = %q", got)
	}
}

func TestStubRequiresInitialize(t *testing.T) {
	e := NewStubEngine(zerolog.Nop(), false)
	if _, err := e.TranscribeChunk([]byte{0, 0}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := e.Initialize(filepath.Join(t.TempDir(), "missing.bin"), "en"); !errors.Is(err, ErrModelMissing) {
		t.Fatalf("expected ErrModelMissing, got %v", err)
	}
	if err := e.Initialize(writeModel(t), "en"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	text, err := e.TranscribeChunk(make([]byte, 3200))
	if err != nil || text != "" {
		t.Fatalf("expected empty text, got %q, %v", text, err)
	}
	e.Shutdown()
	if _, err := e.TranscribeChunk([]byte{0, 0}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after shutdown, got %v", err)
	}
}

func TestStubPlaceholderFollowsLanguage(t *testing.T) {
	e := NewStubEngine(zerolog.Nop(), true)
	if err := e.Initialize("", "en"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	e.SetLanguage("es")
	text, err := e.TranscribeChunk(make([]byte, 32000))
	if err != nil {
		t.Fatalf("TranscribeChunk: %v", err)
	}
	if text != "[stub:es] 1000ms" {
		t.Fatalf("unexpected placeholder %q", text)
	}
}

func TestExecEnginePassesArguments(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	e, err := NewExecEngine(`sh -c 'echo "$@"' sh`, NativeOptions{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewExecEngine: %v", err)
	}
	model := writeModel(t)
	if err := e.Initialize(model, "en"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	e.SetLanguage("es")
	text, err := e.TranscribeChunk(make([]byte, 640))
	if err != nil {
		t.Fatalf("TranscribeChunk: %v", err)
	}
	if !strings.Contains(text, "--audio ") || !strings.Contains(text, "--model "+model) || !strings.HasSuffix(text, "--language es") {
		t.Fatalf("unexpected arguments %q", text)
	}
}

func TestExecEngineParsesJSON(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	e, err := NewExecEngine(`sh -c 'echo "{\"text\": \" hola mundo [BLANK_AUDIO]\"}"'`, NativeOptions{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewExecEngine: %v", err)
	}
	if err := e.Initialize("", "es"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	text, err := e.TranscribeChunk(make([]byte, 640))
	if err != nil {
		t.Fatalf("TranscribeChunk: %v", err)
	}
	if text != "hola mundo" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExecEngineFlushDecodesHeldAudio(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	// prints the size of the WAV it is given
	e, err := NewExecEngine(`sh -c 'wc -c < "$2"' sh`, NativeOptions{StepMillis: 1000, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewExecEngine: %v", err)
	}
	if err := e.Initialize("", "en"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	var f Flusher = e

	for session := 0; session < 2; session++ {
		text, err := e.TranscribeChunk(make([]byte, 16000))
		if err != nil || text != "" {
			t.Fatalf("session %d: half a step should be held, got %q, %v", session, text, err)
		}
		text, err = f.Flush()
		if err != nil {
			t.Fatalf("session %d: Flush: %v", session, err)
		}
		if text != "16044" {
			t.Fatalf("session %d: flushed wav size = %q, want 16044", session, text)
		}
	}
	if text, err := f.Flush(); err != nil || text != "" {
		t.Fatalf("empty flush = %q, %v", text, err)
	}
}

func TestExecEngineRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecEngine("  ", NativeOptions{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestFactoryBackends(t *testing.T) {
	eng, err := New(Options{Backend: BackendStub})
	if err != nil {
		t.Fatalf("stub backend: %v", err)
	}
	if _, ok := eng.(*StubEngine); !ok {
		t.Fatalf("expected *StubEngine, got %T", eng)
	}
	if _, err := New(Options{Backend: "vosk"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if NativeAvailable() {
		return
	}
	if _, err := New(Options{Backend: BackendNative}); !errors.Is(err, ErrNativeUnavailable) {
		t.Fatalf("expected ErrNativeUnavailable, got %v", err)
	}
	eng, err = New(Options{Backend: BackendNative, FallbackToStub: true})
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if _, ok := eng.(*StubEngine); !ok {
		t.Fatalf("expected stub fallback, got %T", eng)
	}
}

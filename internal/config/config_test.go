package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio defaults %+v", cfg.Audio)
	}
	if cfg.Audio.MaxBufferedMillis != 0 {
		t.Fatalf("audio backlog should be unbounded by default, got %dms", cfg.Audio.MaxBufferedMillis)
	}
	if strings.Join(cfg.Language.Codes, ",") != "en,es" || cfg.Language.Default != "en" {
		t.Fatalf("unexpected language defaults %+v", cfg.Language)
	}
}

func TestYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livescribe.yaml")
	data := `
addr: ":9090"
engine:
  backend: exec
  command: "whisper-cli -np"
  timeout: 12s
language:
  codes: [en, es, pt]
  default: es
translation:
  enabled: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LIVESCRIBE_ADDR", ":7070")
	t.Setenv("LIVESCRIBE_ENGINE_THREADS", "3")
	t.Setenv("LIVESCRIBE_AUDIO_CAPTURE_ALLOWED", "false")
	t.Setenv("LIVESCRIBE_TRANSLATION_TIMEOUT", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("expected env to win over yaml, got %q", cfg.Addr)
	}
	if cfg.Engine.Backend != "exec" || cfg.Engine.Command != "whisper-cli -np" {
		t.Fatalf("unexpected engine %+v", cfg.Engine)
	}
	if cfg.Engine.Timeout != 12*time.Second || cfg.Engine.Threads != 3 {
		t.Fatalf("unexpected engine tuning %+v", cfg.Engine)
	}
	if cfg.Audio.CaptureAllowed {
		t.Fatal("expected capture_allowed override false")
	}
	if cfg.Language.Default != "es" || len(cfg.Language.Codes) != 3 {
		t.Fatalf("unexpected language %+v", cfg.Language)
	}
	if !cfg.Translation.Enabled || cfg.Translation.Timeout != 2*time.Second {
		t.Fatalf("unexpected translation %+v", cfg.Translation)
	}
	if cfg.Audio.PeriodMillis != 100 {
		t.Fatalf("unset keys should keep defaults, got period %d", cfg.Audio.PeriodMillis)
	}
}

func TestConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfigPath, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from file, got %q", cfg.LogLevel)
	}
}

func TestLanguageCodesFromEnv(t *testing.T) {
	t.Setenv("LIVESCRIBE_LANGUAGE_CODES", "es,en")
	t.Setenv("LIVESCRIBE_LANGUAGE_DEFAULT", "es")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cycle, _ := cfg.Cycle()
	if cycle.Default() != "es" || cycle.Next("es") != "en" {
		t.Fatalf("unexpected cycle %v", cycle.Codes())
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"exec without command": func(c *Config) { c.Engine.Backend = "exec" },
		"unknown backend":      func(c *Config) { c.Engine.Backend = "vosk" },
		"stereo":               func(c *Config) { c.Audio.Channels = 2 },
		"unknown source":       func(c *Config) { c.Audio.Source = "bluetooth" },
		"default not in codes": func(c *Config) { c.Language.Default = "fr" },
		"no codes":             func(c *Config) { c.Language.Codes = nil },
		"archive without path": func(c *Config) { c.Archive.Path = "" },
		"bad metrics path":     func(c *Config) { c.Metrics.Path = "metrics" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/obiente/translate/livescribe/internal/language"
)

// EnvPrefix prefixes every environment override, e.g. LIVESCRIBE_ENGINE_BACKEND.
const EnvPrefix = "LIVESCRIBE_"

// EnvConfigPath names the variable holding the YAML config path.
const EnvConfigPath = EnvPrefix + "CONFIG"

type EngineConfig struct {
	Backend         string        `yaml:"backend" env:"BACKEND"` // whispercpp, exec, stub
	Command         string        `yaml:"command" env:"COMMAND"`
	Threads         int           `yaml:"threads" env:"THREADS"`
	StepMillis      int           `yaml:"step_ms" env:"STEP_MS"`
	MaxWindowMillis int           `yaml:"max_window_ms" env:"MAX_WINDOW_MS"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	FallbackToStub  bool          `yaml:"fallback_to_stub" env:"FALLBACK_TO_STUB"`
	Placeholder     bool          `yaml:"placeholder" env:"PLACEHOLDER"`
}

type ModelConfig struct {
	// Path skips bootstrapping and uses this file as is.
	Path      string `yaml:"path" env:"PATH"`
	FileName  string `yaml:"file_name" env:"FILE_NAME"`
	AssetPath string `yaml:"asset_path" env:"ASSET_PATH"`
	URL       string `yaml:"url" env:"URL"`
	SHA256    string `yaml:"sha256" env:"SHA256"`
}

type AudioConfig struct {
	Source            string        `yaml:"source" env:"SOURCE"` // mic, stream
	SampleRate        int           `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Channels          int           `yaml:"channels" env:"CHANNELS"`
	PeriodMillis      int           `yaml:"period_ms" env:"PERIOD_MS"`
	BufferMillis      int           `yaml:"buffer_ms" env:"BUFFER_MS"`
	MaxBufferedMillis int           `yaml:"max_buffered_ms" env:"MAX_BUFFERED_MS"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// CaptureAllowed is the microphone permission; false refuses every start.
	CaptureAllowed bool `yaml:"capture_allowed" env:"CAPTURE_ALLOWED"`
}

type LanguageConfig struct {
	Codes   []string `yaml:"codes" env:"CODES" envSeparator:","`
	Default string   `yaml:"default" env:"DEFAULT"`
}

type TranscriptConfig struct {
	Separator string `yaml:"separator" env:"SEPARATOR"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

type TranslationConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	QueueSize int           `yaml:"queue_size" env:"QUEUE_SIZE"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

type Config struct {
	Addr        string            `yaml:"addr" env:"ADDR"`
	LogLevel    string            `yaml:"log_level" env:"LOG_LEVEL"`
	DataDir     string            `yaml:"data_dir" env:"DATA_DIR"`
	Engine      EngineConfig      `yaml:"engine" envPrefix:"ENGINE_"`
	Model       ModelConfig       `yaml:"model" envPrefix:"MODEL_"`
	Audio       AudioConfig       `yaml:"audio" envPrefix:"AUDIO_"`
	Language    LanguageConfig    `yaml:"language" envPrefix:"LANGUAGE_"`
	Transcript  TranscriptConfig  `yaml:"transcript" envPrefix:"TRANSCRIPT_"`
	Archive     ArchiveConfig     `yaml:"archive" envPrefix:"ARCHIVE_"`
	Translation TranslationConfig `yaml:"translation" envPrefix:"TRANSLATION_"`
	Metrics     MetricsConfig     `yaml:"metrics" envPrefix:"METRICS_"`
}

func Default() Config {
	return Config{
		Addr:     ":8080",
		LogLevel: "info",
		DataDir:  "./data",
		Engine: EngineConfig{
			Backend:         "whispercpp",
			StepMillis:      3000,
			MaxWindowMillis: 30000,
			Timeout:         30 * time.Second,
			FallbackToStub:  true,
		},
		Model: ModelConfig{
			FileName:  "ggml-base.bin",
			AssetPath: "./assets/models/ggml-base.bin",
		},
		Audio: AudioConfig{
			Source:            "mic",
			SampleRate:        16000,
			Channels:          1,
			PeriodMillis:      100,
			BufferMillis:      1000,
			MaxBufferedMillis: 0,
			IdleTimeout:       250 * time.Millisecond,
			CaptureAllowed:    true,
		},
		Language: LanguageConfig{
			Codes:   append([]string(nil), language.DefaultCodes...),
			Default: "en",
		},
		Transcript: TranscriptConfig{Separator: " "},
		Archive: ArchiveConfig{
			Enabled: true,
			Path:    "./data/livescribe.db",
		},
		Translation: TranslationConfig{
			Enabled:   false,
			BaseURL:   "https://libretranslate.obiente.cloud",
			Timeout:   8 * time.Second,
			QueueSize: 64,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load layers defaults, the YAML file at path (or $LIVESCRIBE_CONFIG) and
// LIVESCRIBE_* environment overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("environment variables are invalid: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Cycle builds the language toggle cycle.
func (c Config) Cycle() (language.Cycle, error) {
	return language.NewCycle(c.Language.Codes...)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr must not be empty")
	}
	switch strings.ToLower(c.Engine.Backend) {
	case "whispercpp", "native", "exec", "stub":
	default:
		return errors.New("engine.backend must be one of whispercpp|exec|stub")
	}
	if strings.EqualFold(c.Engine.Backend, "exec") && strings.TrimSpace(c.Engine.Command) == "" {
		return errors.New("engine.command must be set when backend=exec")
	}
	if c.Engine.StepMillis < 0 || c.Engine.MaxWindowMillis < 0 {
		return errors.New("engine.step_ms and engine.max_window_ms must be >= 0")
	}
	if c.Model.Path == "" && c.DataDir == "" {
		return errors.New("data_dir must be set unless model.path is given")
	}
	switch c.Audio.Source {
	case "mic", "stream":
	default:
		return errors.New("audio.source must be one of mic|stream")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if c.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1")
	}
	if c.Audio.BufferMillis <= 0 || c.Audio.PeriodMillis <= 0 {
		return errors.New("audio.buffer_ms and audio.period_ms must be positive")
	}
	cycle, err := c.Cycle()
	if err != nil {
		return fmt.Errorf("language.codes: %w", err)
	}
	if !cycle.Contains(c.Language.Default) {
		return fmt.Errorf("language.default %q is not one of %v", c.Language.Default, cycle.Codes())
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return errors.New("archive.path must not be empty when the archive is enabled")
	}
	if c.Translation.Enabled && c.Translation.BaseURL == "" {
		return errors.New("translation.base_url must be set when translation is enabled")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}

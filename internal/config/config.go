// Package config holds the runtime settings for mediadescriber. Values are
// layered: defaults, then an optional YAML file, then environment variables,
// then command-line flags.
package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Vision client identifiers.
const (
	ClientOllama = "ollama"
	ClientOpenAI = "openai"
)

// Transcription backends.
const (
	BackendWhisper = "whisper"
	BackendOpenAI  = "openai"
)

// Resume matching modes.
const (
	MatchPath = "path"
	MatchHash = "hash"
)

// Catalog drivers.
const (
	CatalogPostgres = "postgres"
	CatalogSQLite   = "sqlite"
)

// Secret is a string that never appears in logs.
type Secret string

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	if s == "" {
		return slog.StringValue("")
	}
	return slog.StringValue("*****")
}

func (s Secret) String() string { return string(s) }

type Config struct {
	Prompt        string              `yaml:"prompt" env:"MEDIADESCRIBER_PROMPT"`
	Vision        VisionConfig        `yaml:"vision"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Frames        FramesConfig        `yaml:"frames"`
	Output        OutputConfig        `yaml:"output"`
	Batch         BatchConfig         `yaml:"batch"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings"`
	Log           LogConfig           `yaml:"log"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

type VisionConfig struct {
	// Client is "ollama" or "openai". Empty selects openai for gpt models.
	Client            string        `yaml:"client" env:"VISION_CLIENT"`
	Model             string        `yaml:"model" env:"VISION_MODEL"`
	SystemPrompt      string        `yaml:"systemPrompt" env:"VISION_SYSTEM_PROMPT"`
	Timeout           time.Duration `yaml:"timeout" env:"VISION_TIMEOUT"`
	MaxRetries        int           `yaml:"maxRetries" env:"VISION_MAX_RETRIES"`
	RequestsPerMinute int           `yaml:"requestsPerMinute" env:"VISION_REQUESTS_PER_MINUTE"`
}

type OllamaConfig struct {
	BaseURL string `yaml:"baseURL" env:"OLLAMA_BASE_URL"`
	Port    int    `yaml:"port" env:"OLLAMA_PORT"`
}

type OpenAIConfig struct {
	APIKey  Secret `yaml:"apiKey" env:"OPENAI_API_KEY"`
	BaseURL string `yaml:"baseURL" env:"OPENAI_BASE_URL"`
}

type TranscriptionConfig struct {
	Enabled             bool          `yaml:"enabled" env:"TRANSCRIPTION_ENABLED"`
	Backend             string        `yaml:"backend" env:"TRANSCRIPTION_BACKEND"`
	Model               string        `yaml:"model" env:"TRANSCRIPTION_MODEL"`
	Language            string        `yaml:"language" env:"TRANSCRIPTION_LANGUAGE"`
	WhisperBinary       string        `yaml:"whisperBinary" env:"WHISPER_BINARY"`
	ConfidenceThreshold float64       `yaml:"confidenceThreshold" env:"TRANSCRIPTION_CONFIDENCE_THRESHOLD"`
	Timeout             time.Duration `yaml:"timeout" env:"TRANSCRIPTION_TIMEOUT"`
	MaxRetries          int           `yaml:"maxRetries" env:"TRANSCRIPTION_MAX_RETRIES"`
}

type FramesConfig struct {
	PerMinute     float64       `yaml:"perMinute" env:"FRAMES_PER_MINUTE"`
	DurationCap   float64       `yaml:"durationCap" env:"FRAMES_DURATION_CAP"` // first N seconds only; 0 means no cap
	ContextWindow int           `yaml:"contextWindow" env:"FRAMES_CONTEXT_WINDOW"`
	KeepFrames    bool          `yaml:"keepFrames" env:"FRAMES_KEEP"`
	FFmpeg        string        `yaml:"ffmpeg" env:"FFMPEG_PATH"`
	FFprobe       string        `yaml:"ffprobe" env:"FFPROBE_PATH"`
	Timeout       time.Duration `yaml:"timeout" env:"FRAMES_TIMEOUT"` // one frame including retries; 0 means none
}

type OutputConfig struct {
	Dir string `yaml:"dir" env:"OUTPUT_DIR"`
}

type BatchConfig struct {
	Recursive            bool          `yaml:"recursive" env:"BATCH_RECURSIVE"`
	Resume               bool          `yaml:"resume" env:"BATCH_RESUME"`
	ResumeMatch          string        `yaml:"resumeMatch" env:"BATCH_RESUME_MATCH"`
	Concurrency          int           `yaml:"concurrency" env:"BATCH_CONCURRENCY"`
	InferenceConcurrency int           `yaml:"inferenceConcurrency" env:"BATCH_INFERENCE_CONCURRENCY"`
	FileTimeout          time.Duration `yaml:"fileTimeout" env:"BATCH_FILE_TIMEOUT"`
}

type CatalogConfig struct {
	Driver string `yaml:"driver" env:"CATALOG_DRIVER"`
	DSN    Secret `yaml:"dsn" env:"CATALOG_DSN"`
}

type EmbeddingsConfig struct {
	Model   string `yaml:"model" env:"EMBEDDINGS_MODEL"`
	Workers int    `yaml:"workers" env:"EMBEDDINGS_WORKERS"`
}

type LogConfig struct {
	Level   string `yaml:"level" env:"LOG_LEVEL"`
	File    string `yaml:"file" env:"LOG_FILE"`
	NoColor bool   `yaml:"noColor" env:"MEDIADESCRIBER_NO_COLOR"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Vision: VisionConfig{
			Model:        "llama3.2-vision:11b",
			SystemPrompt: "You are a visual analysis assistant specialized in detailed image descriptions. If there is a person in the image describe what they are doing in step by step format.",
			Timeout:      2 * time.Minute,
			MaxRetries:   3,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost",
			Port:    11434,
		},
		Transcription: TranscriptionConfig{
			Enabled:             true,
			Backend:             BackendWhisper,
			Model:               "medium",
			WhisperBinary:       "whisper",
			ConfidenceThreshold: 0.5,
			Timeout:             10 * time.Minute,
			MaxRetries:          2,
		},
		Frames: FramesConfig{
			PerMinute:     60,
			ContextWindow: 3,
			FFmpeg:        "ffmpeg",
			FFprobe:       "ffprobe",
		},
		Output: OutputConfig{Dir: "output"},
		Batch: BatchConfig{
			Resume:               true,
			ResumeMatch:          MatchPath,
			Concurrency:          1,
			InferenceConcurrency: 1,
		},
		Embeddings: EmbeddingsConfig{
			Model:   "text-embedding-3-small",
			Workers: 2,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty)
// and the environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config file %s", path)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, "parse environment")
	}
	return cfg, nil
}

// VisionClient returns the effective vision client name.
func (c *Config) VisionClient() string {
	if c.Vision.Client != "" {
		return c.Vision.Client
	}
	if strings.Contains(strings.ToLower(c.Vision.Model), "gpt") {
		return ClientOpenAI
	}
	return ClientOllama
}

// NeedsOpenAI reports whether any configured component talks to OpenAI.
func (c *Config) NeedsOpenAI() bool {
	if c.VisionClient() == ClientOpenAI {
		return true
	}
	return c.Transcription.Enabled && c.Transcription.Backend == BackendOpenAI
}

// Validate checks the configuration for values the pipelines cannot run with.
func (c *Config) Validate() error {
	if c.Frames.PerMinute <= 0 {
		return errors.Errorf("frames per minute must be positive, got %v", c.Frames.PerMinute)
	}
	if c.Frames.DurationCap < 0 {
		return errors.Errorf("duration cap must not be negative, got %v", c.Frames.DurationCap)
	}
	if c.Frames.Timeout < 0 {
		return errors.Errorf("frame timeout must not be negative, got %v", c.Frames.Timeout)
	}
	if c.Frames.ContextWindow < 0 {
		return errors.Errorf("context window must not be negative, got %d", c.Frames.ContextWindow)
	}
	if c.Batch.Concurrency < 1 {
		return errors.Errorf("concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Batch.InferenceConcurrency < 1 {
		return errors.Errorf("inference concurrency must be at least 1, got %d", c.Batch.InferenceConcurrency)
	}
	if t := c.Transcription.ConfidenceThreshold; t < 0 || t > 1 {
		return errors.Errorf("confidence threshold must be within [0,1], got %v", t)
	}
	if c.Vision.MaxRetries < 0 || c.Transcription.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}

	switch c.VisionClient() {
	case ClientOllama, ClientOpenAI:
	default:
		return errors.Errorf("unknown vision client %q (want %s or %s)", c.Vision.Client, ClientOllama, ClientOpenAI)
	}
	switch c.Transcription.Backend {
	case BackendWhisper, BackendOpenAI:
	default:
		return errors.Errorf("unknown transcription backend %q", c.Transcription.Backend)
	}
	switch c.Batch.ResumeMatch {
	case MatchPath, MatchHash:
	default:
		return errors.Errorf("unknown resume match %q (want %s or %s)", c.Batch.ResumeMatch, MatchPath, MatchHash)
	}
	switch c.Catalog.Driver {
	case "":
	case CatalogPostgres, CatalogSQLite:
		if c.Catalog.DSN == "" {
			return errors.Errorf("catalog driver %s needs a dsn", c.Catalog.Driver)
		}
	default:
		return errors.Errorf("unknown catalog driver %q", c.Catalog.Driver)
	}
	if c.NeedsOpenAI() && c.OpenAI.APIKey == "" {
		return errors.New("openai client selected but no API key configured (set OPENAI_API_KEY)")
	}
	if c.Output.Dir == "" {
		return errors.New("output directory must not be empty")
	}
	return nil
}

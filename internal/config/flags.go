package config

// Flags are applied last, on top of the file and environment layers. Their
// defaults are the already-loaded values so unset flags change nothing.

import (
	"flag"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// negatedFlags invert a default after Parse.
type negatedFlags struct {
	noResume     bool
	noTranscribe bool
}

// Parse loads the configuration for a subcommand. The --config path is read
// before the flag set is built so flag defaults reflect the file and
// environment layers. It returns the remaining positional arguments.
func Parse(name string, args []string) (Config, []string, error) {
	path := configPathFromArgs(args)
	if path == "" {
		path = os.Getenv("MEDIADESCRIBER_CONFIG")
	}

	cfg, err := Load(path)
	if err != nil {
		return cfg, nil, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var configPath string
	fs.StringVar(&configPath, "config", path, "YAML config file")

	var n negatedFlags
	bindFlags(fs, &cfg, &n)

	// flag stops at the first positional argument; keep parsing after it so
	// "folder ./media --recursive" works as well as the reverse order.
	var positional []string
	rest := args
	for {
		if err := fs.Parse(rest); err != nil {
			return cfg, nil, err
		}
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		rest = rest[1:]
	}

	if n.noResume {
		cfg.Batch.Resume = false
	}
	if n.noTranscribe {
		cfg.Transcription.Enabled = false
	}
	return cfg, positional, nil
}

func bindFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.StringVar(&cfg.Prompt, "prompt", cfg.Prompt, "Question or focus injected into the analysis prompt")

	fs.StringVar(&cfg.Vision.Client, "client", cfg.Vision.Client, "Vision client: ollama | openai (default: openai for gpt models)")
	fs.StringVar(&cfg.Vision.Model, "model", cfg.Vision.Model, "Vision model name")
	fs.Func("api-key", "API key for the OpenAI-compatible service", func(s string) error {
		cfg.OpenAI.APIKey = Secret(s)
		return nil
	})
	fs.StringVar(&cfg.OpenAI.BaseURL, "api-url", cfg.OpenAI.BaseURL, "Base URL for the OpenAI-compatible service")
	fs.StringVar(&cfg.Ollama.BaseURL, "ollama-url", cfg.Ollama.BaseURL, "Ollama base URL")
	fs.IntVar(&cfg.Ollama.Port, "ollama-port", cfg.Ollama.Port, "Ollama port")

	fs.Float64Var(&cfg.Frames.PerMinute, "frames-per-minute", cfg.Frames.PerMinute, "Frame sampling density")
	fs.Float64Var(&cfg.Frames.DurationCap, "duration", cfg.Frames.DurationCap, "Only analyze the first N seconds (0 = whole video)")
	fs.IntVar(&cfg.Frames.ContextWindow, "context-window", cfg.Frames.ContextWindow, "Number of prior frame descriptions fed into each frame prompt")
	fs.DurationVar(&cfg.Frames.Timeout, "frame-timeout", cfg.Frames.Timeout, "Limit per frame including retries (0 = none)")
	fs.BoolVar(&cfg.Frames.KeepFrames, "keep-frames", cfg.Frames.KeepFrames, "Keep extracted frames on disk")

	fs.StringVar(&cfg.Transcription.Backend, "transcriber", cfg.Transcription.Backend, "Transcription backend: whisper | openai")
	fs.StringVar(&cfg.Transcription.Model, "whisper-model", cfg.Transcription.Model, "Transcription model")
	fs.StringVar(&cfg.Transcription.Language, "language", cfg.Transcription.Language, "Spoken language hint (ISO 639-1)")
	fs.Float64Var(&cfg.Transcription.ConfidenceThreshold, "confidence-threshold", cfg.Transcription.ConfidenceThreshold, "Segments below this confidence are flagged")
	fs.BoolVar(&n.noTranscribe, "no-transcribe", false, "Skip audio transcription")

	fs.StringVar(&cfg.Output.Dir, "output", cfg.Output.Dir, "Output directory")
	fs.BoolVar(&cfg.Batch.Recursive, "recursive", cfg.Batch.Recursive, "Scan sub-directories")
	fs.BoolVar(&n.noResume, "no-resume", false, "Reprocess files that already have a successful result")
	fs.StringVar(&cfg.Batch.ResumeMatch, "resume-match", cfg.Batch.ResumeMatch, "Resume matching: path | hash")
	fs.IntVar(&cfg.Batch.Concurrency, "concurrency", cfg.Batch.Concurrency, "Files processed in parallel")
	fs.IntVar(&cfg.Batch.InferenceConcurrency, "inference-concurrency", cfg.Batch.InferenceConcurrency, "Simultaneous calls to inference services")
	fs.DurationVar(&cfg.Batch.FileTimeout, "file-timeout", cfg.Batch.FileTimeout, "Per-file processing limit (0 = none)")

	fs.StringVar(&cfg.Catalog.Driver, "catalog", cfg.Catalog.Driver, "Catalog driver: postgres | sqlite")
	fs.Func("catalog-dsn", "Catalog connection string or sqlite file", func(s string) error {
		cfg.Catalog.DSN = Secret(s)
		return nil
	})

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug | info | warn | error")
	fs.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "Also write JSON logs to this file (rotated)")
	fs.BoolVar(&cfg.Log.NoColor, "no-color", cfg.Log.NoColor, "Disable colored logs")
	fs.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "Serve Prometheus metrics on this address")
}

// configPathFromArgs finds --config/-config before the flag set exists.
func configPathFromArgs(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		trimmed := strings.TrimLeft(a, "-")
		if trimmed == a {
			continue
		}
		if v, ok := strings.CutPrefix(trimmed, "config="); ok {
			return v
		}
		if trimmed == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// RequireArg returns the single positional argument or an error naming what is missing.
func RequireArg(args []string, what string) (string, error) {
	if len(args) != 1 {
		return "", errors.Errorf("expected exactly one %s argument, got %d", what, len(args))
	}
	return args[0], nil
}

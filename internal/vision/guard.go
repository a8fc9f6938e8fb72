package vision

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/config"
	"github.com/bdougie/mediadescriber/internal/metrics"
	"github.com/bdougie/mediadescriber/internal/throttle"
)

// Guard wraps an Adapter with the shared throttle: the global inference
// concurrency limit, the optional rate limit, retries and a per-call timeout.
type Guard struct {
	next     Adapter
	throttle *throttle.Throttle
	policy   throttle.Policy
}

func NewGuard(next Adapter, t *throttle.Throttle, p throttle.Policy) *Guard {
	return &Guard{next: next, throttle: t, policy: p}
}

func (g *Guard) Name() string  { return g.next.Name() }
func (g *Guard) Model() string { return g.next.Model() }

func (g *Guard) Describe(ctx context.Context, imagePath, prompt string) (string, error) {
	var out string
	err := g.throttle.Do(ctx, g.policy, func(ctx context.Context) error {
		var err error
		out, err = g.next.Describe(ctx, imagePath, prompt)
		return err
	})
	metrics.InferenceCallsTotal.WithLabelValues("vision", metrics.Outcome(err)).Inc()
	if err != nil {
		return "", err
	}
	return out, nil
}

// FromConfig builds the configured vision client behind a Guard.
func FromConfig(ctx context.Context, cfg config.Config, t *throttle.Throttle, logger *slog.Logger) (Adapter, error) {
	var (
		a   Adapter
		err error
	)
	switch client := cfg.VisionClient(); client {
	case config.ClientOllama:
		a, err = NewOllamaAdapter(ctx, OllamaOptions{
			BaseURL:      cfg.Ollama.BaseURL,
			Port:         cfg.Ollama.Port,
			Model:        cfg.Vision.Model,
			SystemPrompt: cfg.Vision.SystemPrompt,
		}, logger)
	case config.ClientOpenAI:
		a, err = NewOpenAIAdapter(OpenAIOptions{
			APIKey:       cfg.OpenAI.APIKey.String(),
			BaseURL:      cfg.OpenAI.BaseURL,
			Model:        cfg.Vision.Model,
			SystemPrompt: cfg.Vision.SystemPrompt,
		}, logger)
	default:
		err = errors.Errorf("unknown vision client %q", client)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("vision client ready", "client", a.Name(), "model", a.Model())
	return NewGuard(a, t, throttle.NewPolicy(cfg.Vision.MaxRetries, cfg.Vision.Timeout)), nil
}

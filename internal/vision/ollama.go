package vision

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"
	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/apperr"
)

// OllamaAdapter describes images with a local Ollama model through agent-api.
type OllamaAdapter struct {
	newAgent func() *agent.DefaultAgent
	model    string
	log      *slog.Logger
}

// OllamaOptions configures NewOllamaAdapter.
type OllamaOptions struct {
	BaseURL      string
	Port         int
	Model        string
	SystemPrompt string
}

// NewOllamaAdapter sets up the Ollama provider for opts.Model.
func NewOllamaAdapter(ctx context.Context, opts OllamaOptions, logger *slog.Logger) (*OllamaAdapter, error) {
	if opts.Model == "" {
		return nil, errors.New("ollama: model is required")
	}
	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: opts.BaseURL,
		Port:    opts.Port,
	})
	provider.UseModel(ctx, &types.Model{ID: opts.Model})

	log := logger.With("component", "vision", "client", "ollama")
	return &OllamaAdapter{
		newAgent: func() *agent.DefaultAgent {
			return agent.NewAgent(&agent.NewAgentConfig{
				Provider:     provider,
				Logger:       log,
				SystemPrompt: opts.SystemPrompt,
			})
		},
		model: opts.Model,
		log:   log,
	}, nil
}

func (a *OllamaAdapter) Name() string  { return "ollama" }
func (a *OllamaAdapter) Model() string { return a.model }

// Describe runs a fresh agent per image so no conversation history carries
// over between frames. Continuity comes only from the prompt.
func (a *OllamaAdapter) Describe(ctx context.Context, imagePath, prompt string) (string, error) {
	resp := a.newAgent().Run(ctx, agent.WithInput(prompt), agent.WithImagePath(imagePath))
	if resp.Err != nil {
		return "", apperr.Client("ollama", "describe", resp.Err)
	}
	if len(resp.Messages) == 0 {
		return "", apperr.Client("ollama", "describe", errors.New("no response messages received from model"))
	}

	content := strings.TrimSpace(resp.Messages[len(resp.Messages)-1].Content)
	if content == "" {
		return "", apperr.Client("ollama", "describe", errors.New("empty response from model"))
	}
	a.log.Debug("image described", "image", imagePath, "chars", len(content))
	return content, nil
}

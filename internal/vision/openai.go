package vision

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/media"
)

// OpenAIAdapter describes images with an OpenAI-compatible chat model. The
// image is sent inline as a base64 data URL.
type OpenAIAdapter struct {
	client       openai.Client
	model        string
	systemPrompt string
	log          *slog.Logger
}

// OpenAIOptions configures NewOpenAIAdapter.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
}

func NewOpenAIAdapter(opts OpenAIOptions, logger *slog.Logger) (*OpenAIAdapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai vision requires an api key")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	return &OpenAIAdapter{
		client:       openai.NewClient(ClientOptions(opts.APIKey, opts.BaseURL)...),
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
		log:          logger.With("component", "vision", "client", "openai"),
	}, nil
}

// ClientOptions builds request options shared by every OpenAI-backed adapter.
// Retries are left to the throttle.
func ClientOptions(apiKey, baseURL string) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return opts
}

func (a *OpenAIAdapter) Name() string  { return "openai" }
func (a *OpenAIAdapter) Model() string { return a.model }

func (a *OpenAIAdapter) Describe(ctx context.Context, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", apperr.Media(imagePath, "read image", err)
	}
	dataURL := "data:" + media.ImageMIME(imagePath, data) + ";base64," + base64.StdEncoding.EncodeToString(data)

	var messages []openai.ChatCompletionMessageParamUnion
	if a.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(a.systemPrompt))
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
					{OfText: &openai.ChatCompletionContentPartTextParam{Text: prompt}},
					{OfImageURL: &openai.ChatCompletionContentPartImageParam{
						ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
							URL:    dataURL,
							Detail: "auto",
						},
					}},
				},
			},
		},
	})

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.model),
		Messages: messages,
	})
	if err != nil {
		return "", ClassifyOpenAIError("openai", "describe", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Client("openai", "describe", errors.New("response has no choices"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", apperr.Client("openai", "describe", errors.New("empty response from model"))
	}
	a.log.Debug("image described", "image", imagePath, "chars", len(content))
	return content, nil
}

// ClassifyOpenAIError marks auth and request errors as permanent and
// everything else (rate limits, server errors, transport) as retryable.
func ClassifyOpenAIError(service, op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == 429 || code >= 500:
			return apperr.Client(service, op, err)
		case code >= 400:
			return apperr.Permanent(service, op, err)
		}
	}
	return apperr.Client(service, op, err)
}

package transcription

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/models"
	"github.com/bdougie/mediadescriber/internal/vision"
)

// OpenAIAdapter transcribes through the OpenAI audio API.
type OpenAIAdapter struct {
	client openai.Client
	log    *slog.Logger
}

func NewOpenAIAdapter(apiKey, baseURL string, logger *slog.Logger) (*OpenAIAdapter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai transcription requires an api key")
	}
	return &OpenAIAdapter{
		client: openai.NewClient(vision.ClientOptions(apiKey, baseURL)...),
		log:    logger.With("component", "transcription", "backend", "openai"),
	}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Transcribe(ctx context.Context, audioPath string, opts Options) ([]models.TranscriptSegment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, apperr.Media(audioPath, "open audio", err)
	}
	defer f.Close()

	model := opts.Model
	if model == "" || (!strings.Contains(model, "whisper") && !strings.Contains(model, "transcribe")) {
		model = "whisper-1"
	}
	params := openai.AudioTranscriptionNewParams{
		File:                   f,
		Model:                  openai.AudioModel(model),
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment"},
	}
	if opts.Language != "" {
		params.Language = openai.String(opts.Language)
	}

	resp, err := a.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, vision.ClassifyOpenAIError("openai", "transcribe", err)
	}

	segments, err := parseVerbose([]byte(resp.RawJSON()))
	if err != nil {
		return nil, apperr.Client("openai", "transcribe", err)
	}
	a.log.Info("audio transcribed", "audio", audioPath, "segments", len(segments))
	return segments, nil
}

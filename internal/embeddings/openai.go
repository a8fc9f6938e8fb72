package embeddings

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/vision"
)

const DefaultModel = "text-embedding-3-small"

// OpenAIBackend calls the OpenAI embeddings endpoint.
type OpenAIBackend struct {
	client openai.Client
	model  string
}

func NewOpenAIBackend(apiKey, baseURL, model string) (*OpenAIBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai embeddings require an api key")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &OpenAIBackend{
		client: openai.NewClient(vision.ClientOptions(apiKey, baseURL)...),
		model:  model,
	}, nil
}

func (b *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := b.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(b.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, vision.ClassifyOpenAIError("openai", "embed", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

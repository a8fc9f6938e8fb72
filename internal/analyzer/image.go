package analyzer

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/media"
	"github.com/bdougie/mediadescriber/internal/models"
	"github.com/bdougie/mediadescriber/internal/vision"
)

// ImagePipeline describes a single image with one vision call.
type ImagePipeline struct {
	vision   vision.Adapter
	template string
	log      *slog.Logger
}

func NewImagePipeline(v vision.Adapter, logger *slog.Logger) *ImagePipeline {
	return &ImagePipeline{vision: v, template: vision.ImageTemplate, log: logger.With("component", "image")}
}

// Analyze reads the image header for its dimensions, then asks the vision
// client about it. Unreadable or undecodable files fail before any call is made.
func (p *ImagePipeline) Analyze(ctx context.Context, imagePath, prompt string) (*models.ImageResult, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, apperr.Media(imagePath, "read image", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Media(imagePath, "decode image", err)
	}

	p.log.Info("analyzing image", "image", imagePath, "format", format, "width", cfg.Width, "height", cfg.Height)
	desc, err := p.vision.Describe(ctx, imagePath, vision.RenderPrompt(p.template, prompt))
	if err != nil {
		return nil, errors.Wrapf(err, "describe %s", imagePath)
	}

	return &models.ImageResult{
		Metadata: models.ImageMetadata{
			Path:      imagePath,
			Width:     cfg.Width,
			Height:    cfg.Height,
			MediaType: media.ImageMIME(imagePath, data),
			FileSize:  int64(len(data)),
			Client:    p.vision.Name(),
			Model:     p.vision.Model(),
			Prompt:    prompt,
		},
		Description: desc,
	}, nil
}

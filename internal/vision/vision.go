// Package vision describes images with a vision-capable model. The image and
// video pipelines share one Adapter; the service behind it is chosen by
// configuration.
package vision

import (
	"context"
	"strings"
)

// Adapter turns an image and a prompt into descriptive text.
type Adapter interface {
	Describe(ctx context.Context, imagePath, prompt string) (string, error)
	// Name identifies the client, e.g. "ollama".
	Name() string
	Model() string
}

// ImageTemplate is the default analysis prompt. {prompt} is replaced by the
// user's question, if any.
const ImageTemplate = `Analyze this image and provide a detailed description of what you see.
Include information about:
- Objects and people in the image
- Actions or activities taking place
- Setting and environment
- Colors, lighting, and composition
- Any text or signs visible

{prompt}

Provide a clear, detailed description in paragraph form.`

// FrameTemplate is the per-frame prompt of the video pipeline.
const FrameTemplate = `Describe this video frame. Focus on the people, objects and actions visible,
the setting, and any on-screen text.

{prompt}

Answer in two or three sentences.`

// RenderPrompt fills the {prompt} placeholder of template.
func RenderPrompt(template, userPrompt string) string {
	userPrompt = strings.TrimSpace(userPrompt)
	injection := ""
	if userPrompt != "" {
		injection = "I want to know: " + userPrompt
	}
	return strings.ReplaceAll(template, "{prompt}", injection)
}

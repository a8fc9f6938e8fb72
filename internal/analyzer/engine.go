package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bdougie/mediadescriber/internal/metrics"
	"github.com/bdougie/mediadescriber/internal/models"
	"github.com/bdougie/mediadescriber/internal/vision"
)

// FrameEngine describes the frames of one video in timestamp order, feeding
// each prompt the descriptions of the most recent successful frames.
type FrameEngine struct {
	vision       vision.Adapter
	frameTimeout time.Duration
	log          *slog.Logger
}

// NewFrameEngine returns an engine calling v once per frame. frameTimeout
// bounds each call when positive.
func NewFrameEngine(v vision.Adapter, frameTimeout time.Duration, logger *slog.Logger) *FrameEngine {
	return &FrameEngine{vision: v, frameTimeout: frameTimeout, log: logger.With("component", "frames")}
}

type priorFrame struct {
	index       int
	timestamp   float64
	description string
}

// Analyze returns exactly one FrameAnalysis per frame. A frame whose call
// fails is recorded as failed and the loop moves on; failed frames never
// enter the context window. contextWindow == 0 analyzes frames independently.
func (e *FrameEngine) Analyze(ctx context.Context, frames []models.Frame, basePrompt string, contextWindow int) []models.FrameAnalysis {
	ordered := make([]models.Frame, len(frames))
	copy(ordered, frames)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	results := make([]models.FrameAnalysis, 0, len(ordered))
	window := make([]priorFrame, 0, max(contextWindow, 0))

	for i, f := range ordered {
		fa := models.FrameAnalysis{Index: f.Index, Timestamp: f.Timestamp}
		for _, p := range window {
			fa.ContextFrames = append(fa.ContextFrames, p.index)
		}

		if err := ctx.Err(); err != nil {
			fa.Failed, fa.Error = true, err.Error()
			results = append(results, fa)
			metrics.FramesTotal.WithLabelValues("failed").Inc()
			continue
		}

		desc, err := e.describe(ctx, f.ImagePath, buildFramePrompt(basePrompt, window))
		if err != nil {
			e.log.Warn("frame analysis failed", "frame", f.Index, "timestamp", f.Timestamp, "error", err)
			fa.Failed, fa.Error = true, err.Error()
			results = append(results, fa)
			metrics.FramesTotal.WithLabelValues("failed").Inc()
			continue
		}

		fa.Description = desc
		results = append(results, fa)
		metrics.FramesTotal.WithLabelValues("ok").Inc()
		e.log.Debug("frame analyzed", "frame", f.Index, "progress", fmt.Sprintf("%d/%d", i+1, len(ordered)))

		if contextWindow > 0 {
			if len(window) == contextWindow {
				window = append(window[:0], window[1:]...)
			}
			window = append(window, priorFrame{index: f.Index, timestamp: f.Timestamp, description: desc})
		}
	}
	return results
}

func (e *FrameEngine) describe(ctx context.Context, imagePath, prompt string) (string, error) {
	if e.frameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.frameTimeout)
		defer cancel()
	}
	return e.vision.Describe(ctx, imagePath, prompt)
}

// buildFramePrompt appends the prior descriptions, oldest first, to base.
func buildFramePrompt(base string, window []priorFrame) string {
	if len(window) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nPrevious frame descriptions, oldest first:\n")
	for _, p := range window {
		fmt.Fprintf(&b, "[%s] %s\n", FormatTimestamp(p.timestamp), p.description)
	}
	b.WriteString("\nDescribe the current frame, noting what has changed.")
	return b.String()
}

// FormatTimestamp renders seconds as mm:ss, or h:mm:ss past the hour.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

package analyzer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/models"
	"github.com/bdougie/mediadescriber/internal/storage"
	"github.com/bdougie/mediadescriber/internal/transcription"
	"github.com/bdougie/mediadescriber/internal/vision"
)

// FrameSampler is the frame and audio extraction the video pipeline needs.
type FrameSampler interface {
	Extract(ctx context.Context, videoPath, frameDir string, framesPerMinute, durationCap float64) ([]models.Frame, error)
	ExtractAudio(ctx context.Context, videoPath, outPath string, durationCap float64) error
	Probe(ctx context.Context, videoPath string) (float64, error)
}

// VideoOptions are the per-run settings of the video pipeline.
type VideoOptions struct {
	Prompt              string
	FramesPerMinute     float64
	DurationCap         float64
	ContextWindow       int
	KeepFrames          bool
	FrameTimeout        time.Duration // per frame, retries included; 0 means none
	ConfidenceThreshold float64
	Transcription       transcription.Options
}

// Processor runs one video through sampling, frame analysis, transcription,
// the quality gate and reconstruction.
type Processor struct {
	sampler     FrameSampler
	vision      vision.Adapter
	engine      *FrameEngine
	transcriber transcription.Adapter
	opts        VideoOptions
	log         *slog.Logger
}

// NewProcessor wires a video pipeline. transcriber may be nil to skip audio.
func NewProcessor(sampler FrameSampler, v vision.Adapter, transcriber transcription.Adapter, opts VideoOptions, logger *slog.Logger) *Processor {
	return &Processor{
		sampler:     sampler,
		vision:      v,
		engine:      NewFrameEngine(v, opts.FrameTimeout, logger),
		transcriber: transcriber,
		opts:        opts,
		log:         logger.With("component", "video"),
	}
}

// ProcessVideo analyzes videoPath and writes analysis.json into outDir.
// Frame failures are kept in the result; a failure to sample or transcribe,
// cancellation, or a video with neither a described frame nor speech fails
// the whole video.
func (p *Processor) ProcessVideo(ctx context.Context, videoPath, outDir string) (*models.VideoResult, error) {
	start := time.Now()
	log := p.log.With("video", videoPath)
	log.Info("processing video")

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create output directory %s", outDir)
	}

	frameDir := filepath.Join(outDir, "frames")
	frames, err := p.sampler.Extract(ctx, videoPath, frameDir, p.opts.FramesPerMinute, p.opts.DurationCap)
	if err != nil {
		return nil, err
	}
	if !p.opts.KeepFrames {
		defer os.RemoveAll(frameDir)
	}
	if len(frames) == 0 {
		log.Warn("no frames sampled", "per_minute", p.opts.FramesPerMinute, "duration_cap", p.opts.DurationCap)
	}

	prompt := vision.RenderPrompt(vision.FrameTemplate, p.opts.Prompt)
	analyses := p.engine.Analyze(ctx, frames, prompt, p.opts.ContextWindow)
	// Frames cut short by cancellation are not a result worth keeping.
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "analyze frames of %s", videoPath)
	}

	segments, err := p.transcribe(ctx, videoPath, outDir)
	if err != nil {
		return nil, err
	}

	gate := Gate{Threshold: p.opts.ConfidenceThreshold}
	var quality models.QualityFlag
	if p.transcriber != nil {
		segments, quality = gate.Filter(segments)
		if quality == models.QualityUnreliable {
			log.Warn("transcript below confidence threshold", "mean_confidence", MeanConfidence(segments), "threshold", gate.Threshold)
		}
	}

	result, err := Reconstruct(analyses, segments, quality)
	if err != nil {
		return nil, apperr.Media(videoPath, "reconstruct", err)
	}

	result.Metadata.Client = p.vision.Name()
	result.Metadata.Model = p.vision.Model()
	if p.transcriber != nil {
		result.Metadata.TranscriptionModel = p.opts.Transcription.Model
	}
	result.Metadata.FramesPerMinute = p.opts.FramesPerMinute
	result.Metadata.ContextWindow = p.opts.ContextWindow
	result.Metadata.Prompt = p.opts.Prompt
	if d, err := p.sampler.Probe(ctx, videoPath); err == nil {
		result.Metadata.VideoSeconds = d
	} else {
		log.Debug("could not probe duration", "error", err)
	}
	result.Metadata.DurationSeconds = time.Since(start).Seconds()

	if err := storage.WriteJSON(filepath.Join(outDir, storage.VideoResultFile), result); err != nil {
		return nil, errors.Wrap(err, "save video result")
	}

	log.Info("video processed",
		"frames", result.Metadata.FrameCount,
		"failed_frames", len(result.Metadata.FailedFrames),
		"segments", len(result.Transcript),
		"seconds", result.Metadata.DurationSeconds,
	)
	return result, nil
}

// transcribe extracts the audio track and transcribes it. A video without
// audio yields no segments and no error.
func (p *Processor) transcribe(ctx context.Context, videoPath, outDir string) ([]models.TranscriptSegment, error) {
	if p.transcriber == nil {
		return nil, nil
	}

	audioPath := filepath.Join(outDir, "audio.wav")
	err := p.sampler.ExtractAudio(ctx, videoPath, audioPath, p.opts.DurationCap)
	if errors.Is(err, apperr.ErrNoAudio) {
		p.log.Info("video has no audio track", "video", videoPath)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer os.Remove(audioPath)

	segments, err := p.transcriber.Transcribe(ctx, audioPath, p.opts.Transcription)
	if err != nil {
		return nil, errors.Wrapf(err, "transcribe %s", videoPath)
	}
	return segments, nil
}

// Package transcription turns an audio track into timed, scored text segments.
package transcription

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/config"
	"github.com/bdougie/mediadescriber/internal/metrics"
	"github.com/bdougie/mediadescriber/internal/models"
	"github.com/bdougie/mediadescriber/internal/throttle"
)

// Options select the model and, optionally, the spoken language.
type Options struct {
	Model    string
	Language string
}

// Adapter transcribes an audio file into segments ordered by start time.
type Adapter interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) ([]models.TranscriptSegment, error)
	Name() string
}

// verboseTranscript is the segment-level JSON written by the whisper CLI and
// returned by the OpenAI verbose_json format.
type verboseTranscript struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start      float64  `json:"start"`
		End        float64  `json:"end"`
		Text       string   `json:"text"`
		AvgLogprob *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func parseVerbose(data []byte) ([]models.TranscriptSegment, error) {
	var v verboseTranscript
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "decode transcript")
	}

	segments := make([]models.TranscriptSegment, 0, len(v.Segments))
	for _, s := range v.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		end := s.End
		if end < s.Start {
			end = s.Start
		}
		segments = append(segments, models.TranscriptSegment{
			Start:      s.Start,
			End:        end,
			Text:       text,
			Confidence: confidence(s.AvgLogprob),
		})
	}
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	return segments, nil
}

// confidence maps a mean token log-probability to [0,1]. Backends that do not
// report one are taken at face value.
func confidence(avgLogprob *float64) float64 {
	if avgLogprob == nil {
		return 1
	}
	return math.Max(0, math.Min(1, math.Exp(*avgLogprob)))
}

// Guard applies the shared throttle to an Adapter.
type Guard struct {
	next     Adapter
	throttle *throttle.Throttle
	policy   throttle.Policy
}

func NewGuard(next Adapter, t *throttle.Throttle, p throttle.Policy) *Guard {
	return &Guard{next: next, throttle: t, policy: p}
}

func (g *Guard) Name() string { return g.next.Name() }

func (g *Guard) Transcribe(ctx context.Context, audioPath string, opts Options) ([]models.TranscriptSegment, error) {
	var out []models.TranscriptSegment
	err := g.throttle.Do(ctx, g.policy, func(ctx context.Context) error {
		var err error
		out, err = g.next.Transcribe(ctx, audioPath, opts)
		return err
	})
	metrics.InferenceCallsTotal.WithLabelValues("transcription", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FromConfig builds the configured backend behind a Guard. It returns nil
// when transcription is disabled.
func FromConfig(cfg config.Config, t *throttle.Throttle, logger *slog.Logger) (Adapter, error) {
	if !cfg.Transcription.Enabled {
		return nil, nil
	}

	var a Adapter
	switch cfg.Transcription.Backend {
	case config.BackendWhisper:
		a = NewWhisperCLI(cfg.Transcription.WhisperBinary, logger)
	case config.BackendOpenAI:
		oa, err := NewOpenAIAdapter(cfg.OpenAI.APIKey.String(), cfg.OpenAI.BaseURL, logger)
		if err != nil {
			return nil, err
		}
		a = oa
	default:
		return nil, errors.Errorf("unknown transcription backend %q", cfg.Transcription.Backend)
	}

	logger.Info("transcription backend ready", "backend", a.Name(), "model", cfg.Transcription.Model)
	return NewGuard(a, t, throttle.NewPolicy(cfg.Transcription.MaxRetries, cfg.Transcription.Timeout)), nil
}

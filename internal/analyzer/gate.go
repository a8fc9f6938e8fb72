package analyzer

import (
	"fmt"
	"math"
	"strings"

	"github.com/bdougie/mediadescriber/internal/models"
)

// Gate annotates transcript segments against a confidence threshold.
// Segments are flagged, never removed.
type Gate struct {
	Threshold float64
}

// Filter returns a copy of segments with low-confidence entries marked, and
// the quality of the transcript as a whole. An empty transcript is silent,
// not an error.
func (g Gate) Filter(segments []models.TranscriptSegment) ([]models.TranscriptSegment, models.QualityFlag) {
	if len(segments) == 0 {
		return nil, models.QualitySilent
	}

	cleaned := make([]models.TranscriptSegment, len(segments))
	for i, s := range segments {
		s.Confidence = clamp01(s.Confidence)
		s.LowConfidence = s.Confidence < g.Threshold
		cleaned[i] = s
	}

	if MeanConfidence(cleaned) < g.Threshold {
		return cleaned, models.QualityUnreliable
	}
	return cleaned, models.QualityReliable
}

// MeanConfidence is the unweighted mean segment confidence, 0 for none.
func MeanConfidence(segments []models.TranscriptSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		sum += clamp01(s.Confidence)
	}
	return sum / float64(len(segments))
}

// FormatTranscript renders segments one per line with their start time.
// Low-confidence lines are marked.
func FormatTranscript(segments []models.TranscriptSegment) string {
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "[%s] %s\n", FormatTimestamp(s.Start), segmentText(s))
	}
	return strings.TrimRight(b.String(), "\n")
}

func segmentText(s models.TranscriptSegment) string {
	if s.LowConfidence {
		return s.Text + " (uncertain)"
	}
	return s.Text
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/models"
)

const (
	noDescription     = "(no description available)"
	unreliableCaveat  = "Note: the audio transcript was judged unreliable and is left out of this description."
	transcriptCaveat  = "Note: the audio transcript has low confidence; treat the quoted speech with caution."
	transcriptOnlyHdr = "No frames could be sampled from this video. Description based on the audio transcript:"
)

// Reconstruct merges frame analyses and the gated transcript into one
// chronological description. Each frame owns the transcript segments that
// start between its timestamp and the next frame's; the first frame also
// takes anything earlier and the last takes everything after.
//
// Either input may be empty. With no transcript and no successfully described
// frame it returns apperr.ErrNothingToReconstruct.
func Reconstruct(frames []models.FrameAnalysis, segments []models.TranscriptSegment, quality models.QualityFlag) (*models.VideoResult, error) {
	if len(segments) == 0 && !anyDescribed(frames) {
		return nil, apperr.ErrNothingToReconstruct
	}

	ordered := make([]models.FrameAnalysis, len(frames))
	copy(ordered, frames)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	segs := make([]models.TranscriptSegment, len(segments))
	copy(segs, segments)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })

	result := &models.VideoResult{
		Frames:     ordered,
		Transcript: segs,
		Metadata: models.VideoMetadata{
			FrameCount:        len(ordered),
			TranscriptQuality: quality,
			MeanConfidence:    MeanConfidence(segs),
		},
	}
	for _, f := range ordered {
		if f.Failed {
			result.Metadata.FailedFrames = append(result.Metadata.FailedFrames, f.Index)
		}
	}
	if result.Frames == nil {
		result.Frames = []models.FrameAnalysis{}
	}
	if result.Transcript == nil {
		result.Transcript = []models.TranscriptSegment{}
	}

	if len(ordered) == 0 {
		result.Description = transcriptOnly(segs, quality)
		return result, nil
	}

	useAudio := quality != models.QualityUnreliable
	var b strings.Builder
	next := 0
	for i, f := range ordered {
		desc := strings.TrimSpace(f.Description)
		if f.Failed || desc == "" {
			desc = noDescription
		}
		fmt.Fprintf(&b, "[%s] %s\n", FormatTimestamp(f.Timestamp), desc)

		// Segments up to the next frame belong to this one.
		var lines []string
		for next < len(segs) && (i == len(ordered)-1 || segs[next].Start < ordered[i+1].Timestamp) {
			lines = append(lines, segmentText(segs[next]))
			next++
		}
		if useAudio && len(lines) > 0 {
			fmt.Fprintf(&b, "    Audio: %q\n", strings.Join(lines, " "))
		}
		b.WriteString("\n")
	}

	if quality == models.QualityUnreliable {
		b.WriteString(unreliableCaveat)
		b.WriteString("\n")
	}
	result.Description = strings.TrimRight(b.String(), "\n")
	return result, nil
}

func anyDescribed(frames []models.FrameAnalysis) bool {
	for _, f := range frames {
		if !f.Failed && strings.TrimSpace(f.Description) != "" {
			return true
		}
	}
	return false
}

func transcriptOnly(segs []models.TranscriptSegment, quality models.QualityFlag) string {
	var b strings.Builder
	b.WriteString(transcriptOnlyHdr)
	b.WriteString("\n")
	b.WriteString(FormatTranscript(segs))
	if quality == models.QualityUnreliable {
		b.WriteString("\n\n")
		b.WriteString(transcriptCaveat)
	}
	return b.String()
}

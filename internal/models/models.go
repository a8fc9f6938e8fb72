package models

import (
	"encoding/json"
	"time"
)

// MediaKind is the detected type of a discovered file
type MediaKind string

const (
	KindVideo       MediaKind = "video"
	KindImage       MediaKind = "image"
	KindUnsupported MediaKind = "unsupported"
)

// EntryStatus is the final disposition of one file in a batch run
type EntryStatus string

const (
	StatusSuccess EntryStatus = "success"
	StatusFailure EntryStatus = "failure"
	StatusSkipped EntryStatus = "skipped"
)

// QualityFlag describes how far a transcript can be trusted
type QualityFlag string

const (
	QualityReliable   QualityFlag = "reliable"
	QualityUnreliable QualityFlag = "unreliable"
	// QualitySilent means the audio track produced no segments at all.
	QualitySilent QualityFlag = "silent"
)

// MediaFile represents a file found during a folder scan
type MediaFile struct {
	Path         string    `json:"path"`
	Kind         MediaKind `json:"kind"`
	Size         int64     `json:"size"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// Frame is one sampled still image of a video
type Frame struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"`
	ImagePath string  `json:"imagePath"`
}

// TranscriptSegment is one timed span of transcribed speech
type TranscriptSegment struct {
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"lowConfidence,omitempty"`
}

// FrameAnalysis is the vision description of a single frame. Failed
// entries keep their slot in the sequence so gaps stay visible.
type FrameAnalysis struct {
	Index         int     `json:"index"`
	Timestamp     float64 `json:"timestamp"`
	Description   string  `json:"description"`
	Failed        bool    `json:"failed,omitempty"`
	Error         string  `json:"error,omitempty"`
	ContextFrames []int   `json:"contextFrames,omitempty"`
}

// VideoMetadata describes how a VideoResult was produced
type VideoMetadata struct {
	Client             string      `json:"client,omitempty"`
	Model              string      `json:"model"`
	TranscriptionModel string      `json:"transcriptionModel"`
	FrameCount         int         `json:"frameCount"`
	FailedFrames       []int       `json:"failedFrames,omitempty"`
	DurationSeconds    float64     `json:"durationSeconds"`
	VideoSeconds       float64     `json:"videoSeconds,omitempty"` // container duration, when ffprobe could read it
	FramesPerMinute    float64     `json:"framesPerMinute,omitempty"`
	ContextWindow      int         `json:"contextWindow"`
	Prompt             string      `json:"prompt,omitempty"`
	TranscriptQuality  QualityFlag `json:"transcriptQuality,omitempty"`
	MeanConfidence     float64     `json:"meanConfidence"`
}

// VideoResult is the reconstructed description of a video
type VideoResult struct {
	Metadata    VideoMetadata       `json:"metadata"`
	Transcript  []TranscriptSegment `json:"transcript"`
	Frames      []FrameAnalysis     `json:"frames"`
	Description string              `json:"description"`
}

// ImageMetadata describes the analyzed image and the call that described it
type ImageMetadata struct {
	Path      string `json:"path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	MediaType string `json:"mediaType"`
	FileSize  int64  `json:"fileSize"`
	Client    string `json:"client,omitempty"`
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
}

// ImageResult is the description of a single image
type ImageResult struct {
	Metadata    ImageMetadata `json:"metadata"`
	Description string        `json:"description"`
}

// BatchEntry accounts for exactly one discovered file. Video or Image is
// set for successful (and copied-forward skipped) entries; Error for failures.
type BatchEntry struct {
	Path            string       `json:"path"`
	Kind            MediaKind    `json:"kind"`
	Status          EntryStatus  `json:"status"`
	DurationSeconds float64      `json:"durationSeconds"`
	Error           string       `json:"error,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	Size            int64        `json:"size"`
	ContentHash     string       `json:"contentHash,omitempty"`
	OutputDir       string       `json:"outputDir,omitempty"`
	Video           *VideoResult `json:"-"`
	Image           *ImageResult `json:"-"`
}

// Description returns the final description carried by the entry, if any.
func (e *BatchEntry) Description() string {
	switch {
	case e.Video != nil:
		return e.Video.Description
	case e.Image != nil:
		return e.Image.Description
	}
	return ""
}

// HasResult reports whether the entry carries a result payload.
func (e *BatchEntry) HasResult() bool {
	return e.Video != nil || e.Image != nil
}

func (e BatchEntry) MarshalJSON() ([]byte, error) {
	type alias BatchEntry
	out := struct {
		alias
		Result any `json:"result,omitempty"`
	}{alias: alias(e)}
	switch {
	case e.Video != nil:
		out.Result = e.Video
	case e.Image != nil:
		out.Result = e.Image
	}
	return json.Marshal(out)
}

func (e *BatchEntry) UnmarshalJSON(data []byte) error {
	type alias BatchEntry
	var in struct {
		alias
		Result json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = BatchEntry(in.alias)
	if len(in.Result) == 0 || string(in.Result) == "null" {
		return nil
	}

	switch e.Kind {
	case KindVideo:
		var v VideoResult
		if err := json.Unmarshal(in.Result, &v); err != nil {
			return err
		}
		e.Video = &v
	case KindImage:
		var img ImageResult
		if err := json.Unmarshal(in.Result, &img); err != nil {
			return err
		}
		e.Image = &img
	}
	return nil
}

// Summary holds the tallies of a batch run
type Summary struct {
	Succeeded            int     `json:"succeeded"`
	Failed               int     `json:"failed"`
	Skipped              int     `json:"skipped"`
	TotalDurationSeconds float64 `json:"totalDurationSeconds"`
}

// BatchReport is the consolidated result of one batch run
type BatchReport struct {
	RunID      string       `json:"runId,omitempty"`
	Folder     string       `json:"folder,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	Entries    []BatchEntry `json:"entries"`
	Summary    Summary      `json:"summary"`
}

// Tally recomputes the status counts from the entries. The elapsed total is
// left untouched because it is wall-clock time, not a sum of entries.
func (r *BatchReport) Tally() {
	var s Summary
	for _, e := range r.Entries {
		switch e.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusFailure:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	s.TotalDurationSeconds = r.Summary.TotalDurationSeconds
	r.Summary = s
}

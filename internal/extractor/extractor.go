// Package extractor wraps ffmpeg and ffprobe: sampling still frames from a
// video at a fixed density and pulling its audio track for transcription.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/models"
)

// execCommand is swapped in tests.
var execCommand = exec.CommandContext

const framePattern = "frame_%04d.jpg"

// Sampler extracts frames and audio with the ffmpeg tool suite.
type Sampler struct {
	ffmpeg  string
	ffprobe string
	log     *slog.Logger
}

// NewSampler returns a Sampler using the given binaries. Empty names fall
// back to ffmpeg and ffprobe on PATH.
func NewSampler(ffmpeg, ffprobe string, logger *slog.Logger) *Sampler {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Sampler{ffmpeg: ffmpeg, ffprobe: ffprobe, log: logger.With("component", "extractor")}
}

// Extract samples framesPerMinute frames per minute of video into frameDir and
// returns them ordered by index. durationCap limits sampling to the first N
// seconds when positive. A video too short to yield a frame returns an empty
// slice and no error.
func (s *Sampler) Extract(ctx context.Context, videoPath, frameDir string, framesPerMinute, durationCap float64) ([]models.Frame, error) {
	if framesPerMinute <= 0 {
		return nil, errors.Errorf("frames per minute must be positive, got %v", framesPerMinute)
	}
	if err := checkReadable(videoPath); err != nil {
		return nil, err
	}

	// Stale frames from an earlier run would be picked up by the glob below.
	if err := os.RemoveAll(frameDir); err != nil {
		return nil, errors.Wrapf(err, "clear frame directory %s", frameDir)
	}
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create frame directory %s", frameDir)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-i", videoPath}
	if durationCap > 0 {
		args = append(args, "-t", formatSeconds(durationCap))
	}
	args = append(args,
		"-vf", fmt.Sprintf("fps=%s/60", formatSeconds(framesPerMinute)),
		"-q:v", "2",
		"-y",
		filepath.Join(frameDir, framePattern),
	)

	s.log.Debug("extracting frames", "video", videoPath, "per_minute", framesPerMinute, "duration_cap", durationCap)
	if out, err := execCommand(ctx, s.ffmpeg, args...).CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Media(videoPath, "extract frames", errors.Errorf("ffmpeg: %v: %s", err, tail(out)))
	}

	paths, err := filepath.Glob(filepath.Join(frameDir, "frame_*.jpg"))
	if err != nil {
		return nil, errors.Wrap(err, "glob frames")
	}
	sort.Strings(paths)

	interval := 60 / framesPerMinute
	frames := make([]models.Frame, 0, len(paths))
	for i, p := range paths {
		frames = append(frames, models.Frame{
			Index:     i,
			Timestamp: float64(i) * interval,
			ImagePath: p,
		})
	}

	s.log.Info("frames extracted", "video", videoPath, "count", len(frames))
	return frames, nil
}

// ExtractAudio writes the first audio stream of videoPath to outPath as 16 kHz
// mono WAV. It returns apperr.ErrNoAudio when the video has no audio stream.
func (s *Sampler) ExtractAudio(ctx context.Context, videoPath, outPath string, durationCap float64) error {
	if err := checkReadable(videoPath); err != nil {
		return err
	}

	out, err := execCommand(ctx, s.ffprobe,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		videoPath,
	).Output()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Media(videoPath, "probe audio", errors.Wrap(err, "ffprobe"))
	}
	if strings.TrimSpace(string(out)) == "" {
		return apperr.ErrNoAudio
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errors.Wrap(err, "create audio directory")
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-i", videoPath}
	if durationCap > 0 {
		args = append(args, "-t", formatSeconds(durationCap))
	}
	args = append(args, "-vn", "-ac", "1", "-ar", "16000", "-y", outPath)

	if out, err := execCommand(ctx, s.ffmpeg, args...).CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Media(videoPath, "extract audio", errors.Errorf("ffmpeg: %v: %s", err, tail(out)))
	}
	return nil
}

// Probe returns the container duration of videoPath in seconds.
func (s *Sampler) Probe(ctx context.Context, videoPath string) (float64, error) {
	out, err := execCommand(ctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	).Output()
	if err != nil {
		return 0, apperr.Media(videoPath, "probe duration", errors.Wrap(err, "ffprobe"))
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, apperr.Media(videoPath, "probe duration", errors.Wrap(err, "parse duration"))
	}
	return d, nil
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return apperr.Media(path, "open", err)
	}
	if info.IsDir() {
		return apperr.Media(path, "open", errors.New("is a directory"))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// tail keeps the last few hundred bytes of tool output for error messages.
func tail(out []byte) string {
	const max = 400
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}

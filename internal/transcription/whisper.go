package transcription

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/models"
)

var execCommand = exec.CommandContext

// WhisperCLI runs the openai-whisper command line tool locally.
type WhisperCLI struct {
	binary string
	log    *slog.Logger
}

func NewWhisperCLI(binary string, logger *slog.Logger) *WhisperCLI {
	if binary == "" {
		binary = "whisper"
	}
	return &WhisperCLI{binary: binary, log: logger.With("component", "transcription", "backend", "whisper")}
}

func (w *WhisperCLI) Name() string { return "whisper" }

func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string, opts Options) ([]models.TranscriptSegment, error) {
	outDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return nil, errors.Wrap(err, "create whisper output directory")
	}
	defer os.RemoveAll(outDir)

	args := []string{audioPath, "--output_format", "json", "--output_dir", outDir, "--verbose", "False"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}

	w.log.Debug("running whisper", "audio", audioPath, "model", opts.Model)
	out, err := execCommand(ctx, w.binary, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Client("whisper", "transcribe", ctx.Err())
		}
		return nil, apperr.Permanent("whisper", "transcribe", errors.Errorf("%v: %s", err, strings.TrimSpace(string(out))))
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return nil, apperr.Permanent("whisper", "transcribe", errors.Wrap(err, "read whisper output"))
	}

	segments, err := parseVerbose(data)
	if err != nil {
		return nil, apperr.Permanent("whisper", "transcribe", err)
	}
	w.log.Info("audio transcribed", "audio", audioPath, "segments", len(segments))
	return segments, nil
}
